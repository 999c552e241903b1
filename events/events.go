// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the broker's structural state events and the ordered
// pipeline that applies them.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/relaymq/completion"
	"github.com/absmach/relaymq/storage"
)

// Kind tags a queue event variant.
type Kind string

// Queue event variants.
const (
	KindUnset          Kind = ""
	KindCreateQueue    Kind = "queue.create"
	KindDeleteQueue    Kind = "queue.delete"
	KindPurgeQueue     Kind = "queue.purge"
	KindCheckDeletable Kind = "queue.check_deletable"
)

// DefaultCompletionTimeout bounds how long callers wait for an event's
// completion. Processing can take a while on a loaded broker.
const DefaultCompletionTimeout = 5000 * time.Millisecond

var (
	// ErrNotPrepared is returned when an event is submitted or waited on
	// before one of the ForX preparation calls.
	ErrNotPrepared = errors.New("queue event has not been prepared")

	// ErrAlreadyPrepared is returned when an event is prepared twice.
	ErrAlreadyPrepared = errors.New("queue event already prepared")
)

// ContextManager mutates shared broker queue metadata.
type ContextManager interface {
	CreateQueue(ctx context.Context, q storage.Queue) error
	DeleteQueue(ctx context.Context, q storage.Queue) error
	CheckDeletable(ctx context.Context, q storage.Queue) (bool, error)
}

// MessagingEngine purges queue message content.
type MessagingEngine interface {
	PurgeMessages(ctx context.Context, name, owner string, topic bool) (int, error)
}

// QueueEvent is one structural change to broker queue state. It is prepared
// exactly once with a variant and its collaborators, submitted to the
// pipeline, and immutable afterwards except for its completions.
type QueueEvent struct {
	Queue storage.Queue

	kind     Kind
	contexts ContextManager
	engine   MessagingEngine

	done      *completion.Completion[struct{}]
	deletable *completion.Completion[bool]
	purged    *completion.Completion[int]
}

// NewQueueEvent creates an unprepared event for the given queue.
func NewQueueEvent(q storage.Queue) *QueueEvent {
	return &QueueEvent{Queue: q}
}

// Kind returns the variant the event was prepared as.
func (e *QueueEvent) Kind() Kind {
	return e.kind
}

// ForCreate prepares the event to create the queue.
func (e *QueueEvent) ForCreate(contexts ContextManager) error {
	if e.kind != KindUnset {
		return ErrAlreadyPrepared
	}
	e.kind = KindCreateQueue
	e.contexts = contexts
	e.done = completion.New[struct{}]()
	return nil
}

// ForDelete prepares the event to delete the queue. Deletion is
// fire-and-forget; no completion is exposed.
func (e *QueueEvent) ForDelete(contexts ContextManager) error {
	if e.kind != KindUnset {
		return ErrAlreadyPrepared
	}
	e.kind = KindDeleteQueue
	e.contexts = contexts
	return nil
}

// ForPurge prepares the event to purge the queue's messages.
func (e *QueueEvent) ForPurge(engine MessagingEngine) error {
	if e.kind != KindUnset {
		return ErrAlreadyPrepared
	}
	e.kind = KindPurgeQueue
	e.engine = engine
	e.purged = completion.New[int]()
	return nil
}

// ForDeletableCheck prepares the event to evaluate whether the queue can be
// deleted.
func (e *QueueEvent) ForDeletableCheck(contexts ContextManager) error {
	if e.kind != KindUnset {
		return ErrAlreadyPrepared
	}
	e.kind = KindCheckDeletable
	e.contexts = contexts
	e.deletable = completion.New[bool]()
	return nil
}

// WaitForCompletion blocks until the event is applied or the timeout elapses.
// A processing failure is not surfaced here; the pipeline consumer logs it
// and the caller proceeds. A timeout is surfaced, since the outcome could not
// be confirmed within the caller's deadline. A cancelled context abandons the
// wait without error.
func (e *QueueEvent) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	if e.done == nil {
		return ErrNotPrepared
	}

	_, err := e.done.Wait(ctx, timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, completion.ErrTimeout):
		return fmt.Errorf("confirming change to queue %s: %w", e.Queue.Name, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		// Processing failure; logged by the consumer.
		return nil
	}
}

// PurgedCount blocks until the purge is applied and returns the number of
// messages removed. A processing failure or timeout is returned wrapped with
// the queue name; a cancelled context abandons the wait and returns -1.
func (e *QueueEvent) PurgedCount(ctx context.Context, timeout time.Duration) (int, error) {
	if e.purged == nil {
		return -1, ErrNotPrepared
	}

	n, err := e.purged.Wait(ctx, timeout)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return -1, nil
	default:
		return -1, fmt.Errorf("purging queue %s: %w", e.Queue.Name, err)
	}
}

// Deletable blocks until the deletability check is applied and returns its
// result. A processing failure or timeout is returned wrapped with the queue
// name; a cancelled context abandons the wait and returns false.
func (e *QueueEvent) Deletable(ctx context.Context, timeout time.Duration) (bool, error) {
	if e.deletable == nil {
		return false, ErrNotPrepared
	}

	ok, err := e.deletable.Wait(ctx, timeout)
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("checking if queue %s is deletable: %w", e.Queue.Name, err)
	}
}
