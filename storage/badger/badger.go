// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.QueueStore = (*QueueStore)(nil)

// QueueStore implements storage.QueueStore using BadgerDB.
//
// Key format: queue:{owner}/{name}.
type QueueStore struct {
	db       *badger.DB
	gcStopCh chan struct{}
	gcDone   chan struct{}
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string // Directory for BadgerDB data
	SyncWrites bool
}

// New opens a BadgerDB-backed queue store.
func New(cfg Config) (*QueueStore, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &QueueStore{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC()

	return s, nil
}

func queueKey(owner, name string) []byte {
	return []byte("queue:" + owner + "/" + name)
}

// Save stores queue metadata.
func (s *QueueStore) Save(_ context.Context, q storage.Queue) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := queueKey(q.Owner, q.Name)
		if _, err := txn.Get(key); err == nil {
			return storage.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

// Delete removes queue metadata.
func (s *QueueStore) Delete(_ context.Context, owner, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := queueKey(owner, name)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// Get retrieves queue metadata.
func (s *QueueStore) Get(_ context.Context, owner, name string) (storage.Queue, error) {
	var q storage.Queue
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(queueKey(owner, name))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &q)
		})
	})
	if err != nil {
		return storage.Queue{}, err
	}
	return q, nil
}

// List returns all queues for an owner; an empty owner lists every queue.
func (s *QueueStore) List(_ context.Context, owner string) ([]storage.Queue, error) {
	prefix := []byte("queue:")
	if owner != "" {
		prefix = []byte("queue:" + owner + "/")
	}

	var queues []storage.Queue
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var q storage.Queue
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &q)
			}); err != nil {
				return err
			}
			queues = append(queues, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queues, nil
}

// Close stops background GC and closes the database.
func (s *QueueStore) Close() error {
	close(s.gcStopCh)
	<-s.gcDone
	return s.db.Close()
}

// runGC runs BadgerDB value log garbage collection periodically.
func (s *QueueStore) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Rerun while GC keeps finding work.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		case <-s.gcStopCh:
			return
		}
	}
}
