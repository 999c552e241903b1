// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"sync"

	"github.com/absmach/relaymq/storage"
)

// Engine is a minimal in-memory messaging engine. It buffers queue payloads
// and supports the purge operation the pipeline dispatches to it; routing and
// delivery belong to the protocol layer.
type Engine struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{queues: make(map[string][][]byte)}
}

// Enqueue buffers a message payload for the queue.
func (e *Engine) Enqueue(q storage.Queue, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[q.Key()] = append(e.queues[q.Key()], payload)
}

// MessageCount returns the number of buffered messages for the queue.
func (e *Engine) MessageCount(q storage.Queue) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues[q.Key()])
}

// PurgeMessages discards all buffered messages of the queue and returns how
// many were removed. A queue with nothing buffered purges to zero.
func (e *Engine) PurgeMessages(_ context.Context, name, owner string, _ bool) (int, error) {
	key := storage.Queue{Name: name, Owner: owner}.Key()

	e.mu.Lock()
	defer e.mu.Unlock()

	msgs := e.queues[key]
	delete(e.queues, key)
	return len(msgs), nil
}
