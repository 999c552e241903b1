// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker holds the local node's broker metadata: the queue registry
// mutated by the event pipeline and the messaging engine purged through it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/relaymq/storage"
)

// Purger removes the stored messages of a queue. Implemented by Engine.
type Purger interface {
	PurgeMessages(ctx context.Context, name, owner string, topic bool) (int, error)
}

// Registry owns local queue metadata. It is mutated only by the event
// pipeline's consumer and by the cluster notification listener, both of which
// serialize their own access; internal locking covers the consumer tracking
// shared with protocol callers.
type Registry struct {
	store  storage.QueueStore
	purger Purger
	logger *slog.Logger

	mu        sync.Mutex
	consumers map[string]int // queue key -> attached consumer count
}

// NewRegistry creates a registry over the given queue store. The purger may
// be nil; remote purge notifications are then metadata-only.
func NewRegistry(store storage.QueueStore, purger Purger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		purger:    purger,
		logger:    logger,
		consumers: make(map[string]int),
	}
}

// CreateQueue persists a new queue.
func (r *Registry) CreateQueue(ctx context.Context, q storage.Queue) error {
	if err := r.store.Save(ctx, q); err != nil {
		return fmt.Errorf("creating queue %s: %w", q.Name, err)
	}
	r.logger.Debug("queue created", "queue", q.Name, "owner", q.Owner)
	return nil
}

// DeleteQueue removes a queue and forgets its consumer tracking.
func (r *Registry) DeleteQueue(ctx context.Context, q storage.Queue) error {
	if err := r.store.Delete(ctx, q.Owner, q.Name); err != nil {
		return fmt.Errorf("deleting queue %s: %w", q.Name, err)
	}

	r.mu.Lock()
	delete(r.consumers, q.Key())
	r.mu.Unlock()

	r.logger.Debug("queue deleted", "queue", q.Name, "owner", q.Owner)
	return nil
}

// CheckDeletable reports whether the queue can be deleted: it must exist and
// have no attached consumers.
func (r *Registry) CheckDeletable(ctx context.Context, q storage.Queue) (bool, error) {
	if _, err := r.store.Get(ctx, q.Owner, q.Name); err != nil {
		return false, fmt.Errorf("checking if queue %s is deletable: %w", q.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumers[q.Key()] == 0, nil
}

// AttachConsumer records a consumer bound to the queue.
func (r *Registry) AttachConsumer(ctx context.Context, q storage.Queue) error {
	if _, err := r.store.Get(ctx, q.Owner, q.Name); err != nil {
		return fmt.Errorf("attaching consumer to queue %s: %w", q.Name, err)
	}

	r.mu.Lock()
	r.consumers[q.Key()]++
	r.mu.Unlock()
	return nil
}

// DetachConsumer removes a consumer binding from the queue.
func (r *Registry) DetachConsumer(q storage.Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.consumers[q.Key()]; n > 1 {
		r.consumers[q.Key()] = n - 1
	} else {
		delete(r.consumers, q.Key())
	}
}

// ApplyQueueCreated applies a remote queue creation. Already-present queues
// are left untouched, so a notification replayed after a merge is harmless.
func (r *Registry) ApplyQueueCreated(ctx context.Context, q storage.Queue) error {
	err := r.store.Save(ctx, q)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	return err
}

// ApplyQueueDeleted applies a remote queue deletion.
func (r *Registry) ApplyQueueDeleted(ctx context.Context, q storage.Queue) error {
	err := r.store.Delete(ctx, q.Owner, q.Name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.consumers, q.Key())
	r.mu.Unlock()
	return nil
}

// ApplyQueuePurged drops the local copy of a queue's messages after a remote
// purge.
func (r *Registry) ApplyQueuePurged(ctx context.Context, q storage.Queue) error {
	if r.purger == nil {
		return nil
	}
	n, err := r.purger.PurgeMessages(ctx, q.Name, q.Owner, q.Topic)
	if err != nil {
		return err
	}
	r.logger.Debug("purged local messages after remote purge", "queue", q.Name, "count", n)
	return nil
}
