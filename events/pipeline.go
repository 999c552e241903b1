// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/relaymq/storage"
)

// Change types reported to the cluster after a local mutation.
const (
	ChangeQueueCreated = "queue.created"
	ChangeQueueDeleted = "queue.deleted"
	ChangeQueuePurged  = "queue.purged"
)

// ErrPipelineClosed is returned by Submit after Stop.
var ErrPipelineClosed = errors.New("event pipeline is closed")

// DefaultBufferSize is the pipeline's buffered capacity. Producers block only
// when the buffer is full (backpressure).
const DefaultBufferSize = 1024

// Notifier publishes a queue change to the cluster. Satisfied by the
// coordination agents; nil disables publishing.
type Notifier interface {
	NotifyQueueChange(ctx context.Context, change string, q storage.Queue) error
}

// Pipeline applies queue events to shared broker metadata in a single total
// order. Many producers submit concurrently; exactly one consumer goroutine
// drains the buffer in submission order, so the metadata needs no locking
// during mutation.
type Pipeline struct {
	events   chan *QueueEvent
	notifier Notifier
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline with the given buffer size. A size of zero
// uses DefaultBufferSize; a nil notifier skips cluster publishing.
func NewPipeline(size int, notifier Notifier, logger *slog.Logger) *Pipeline {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		events:   make(chan *QueueEvent, size),
		notifier: notifier,
		logger:   logger,
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// Submit enqueues a prepared event. It blocks while the buffer is full and
// returns ErrPipelineClosed after Stop. Once accepted, the event will be
// processed regardless of whether any waiter gives up.
func (p *Pipeline) Submit(ev *QueueEvent) error {
	if ev.Kind() == KindUnset {
		return ErrNotPrepared
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.events <- ev
	return nil
}

// Stop rejects further submissions, drains the buffered events, and waits for
// the consumer to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.events)
	p.wg.Wait()
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ctx := context.Background()
	for ev := range p.events {
		p.apply(ctx, ev)
	}
}

// apply dispatches one event to its variant handler. Success and failure
// paths are mutually exclusive: each completion transitions exactly once.
func (p *Pipeline) apply(ctx context.Context, ev *QueueEvent) {
	switch ev.kind {
	case KindCreateQueue:
		if err := ev.contexts.CreateQueue(ctx, ev.Queue); err != nil {
			p.logger.Warn("queue create failed", "queue", ev.Queue.Name, "owner", ev.Queue.Owner, "error", err)
			p.settle(ev.done.Fail(err))
			return
		}
		p.settle(ev.done.Resolve(struct{}{}))
		p.notify(ctx, ChangeQueueCreated, ev.Queue)

	case KindDeleteQueue:
		if err := ev.contexts.DeleteQueue(ctx, ev.Queue); err != nil {
			p.logger.Warn("queue delete failed", "queue", ev.Queue.Name, "owner", ev.Queue.Owner, "error", err)
			return
		}
		p.notify(ctx, ChangeQueueDeleted, ev.Queue)

	case KindPurgeQueue:
		count, err := ev.engine.PurgeMessages(ctx, ev.Queue.Name, ev.Queue.Owner, ev.Queue.Topic)
		if err != nil {
			p.settle(ev.purged.Fail(err))
			return
		}
		p.settle(ev.purged.Resolve(count))
		p.notify(ctx, ChangeQueuePurged, ev.Queue)

	case KindCheckDeletable:
		ok, err := ev.contexts.CheckDeletable(ctx, ev.Queue)
		if err != nil {
			p.settle(ev.deletable.Fail(err))
			return
		}
		p.settle(ev.deletable.Resolve(ok))

	default:
		p.logger.Error("queue event kind not set properly", "kind", ev.kind)
	}
}

// settle flags a rejected completion transition; it indicates a handler bug,
// not a runtime condition.
func (p *Pipeline) settle(err error) {
	if err != nil {
		p.logger.Error("completion transition rejected", "error", err)
	}
}

// notify publishes the change to the cluster after the local mutation.
// Delivery is best-effort; failures are logged, never propagated to the
// event's completion.
func (p *Pipeline) notify(ctx context.Context, change string, q storage.Queue) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyQueueChange(ctx, change, q); err != nil {
		p.logger.Warn("cluster notification failed", "change", change, "queue", q.Name, "error", err)
	}
}
