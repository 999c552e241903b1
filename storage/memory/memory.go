// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/relaymq/storage"
)

var _ storage.QueueStore = (*QueueStore)(nil)

// QueueStore is an in-memory implementation of storage.QueueStore.
type QueueStore struct {
	mu     sync.RWMutex
	queues map[string]storage.Queue
}

// NewQueueStore creates a new in-memory queue store.
func NewQueueStore() *QueueStore {
	return &QueueStore{
		queues: make(map[string]storage.Queue),
	}
}

// Save stores queue metadata.
func (s *QueueStore) Save(_ context.Context, q storage.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[q.Key()]; ok {
		return storage.ErrAlreadyExists
	}
	s.queues[q.Key()] = q
	return nil
}

// Delete removes queue metadata.
func (s *QueueStore) Delete(_ context.Context, owner, name string) error {
	key := storage.Queue{Name: name, Owner: owner}.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.queues, key)
	return nil
}

// Get retrieves queue metadata.
func (s *QueueStore) Get(_ context.Context, owner, name string) (storage.Queue, error) {
	key := storage.Queue{Name: name, Owner: owner}.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[key]
	if !ok {
		return storage.Queue{}, storage.ErrNotFound
	}
	return q, nil
}

// List returns all queues for an owner; an empty owner lists every queue.
func (s *QueueStore) List(_ context.Context, owner string) ([]storage.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var queues []storage.Queue
	for _, q := range s.queues {
		if owner == "" || q.Owner == owner {
			queues = append(queues, q)
		}
	}
	return queues, nil
}

// Close is a no-op for the in-memory store.
func (s *QueueStore) Close() error {
	return nil
}
