// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package completion provides a single-assignment result cell used to bridge
// asynchronous processing back to a waiting caller.
package completion

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSettled is returned when a completion is resolved or failed twice.
	ErrSettled = errors.New("completion already settled")

	// ErrTimeout is returned by Wait when the bound elapses before the
	// completion settles. The completion stays pending and may still settle
	// later; only the waiter has given up.
	ErrTimeout = errors.New("timed out waiting for completion")
)

// State describes the lifecycle of a Completion.
type State int

const (
	Pending State = iota
	Resolved
	Failed
)

// Completion is a one-shot result cell. It transitions from pending to
// resolved or failed exactly once; a second transition attempt is rejected
// with ErrSettled rather than silently overwriting the first outcome.
type Completion[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	state State
	value T
	cause error
}

// New creates a pending completion.
func New[T any]() *Completion[T] {
	return &Completion[T]{done: make(chan struct{})}
}

// Resolve settles the completion with a value. Returns ErrSettled if the
// completion was already resolved or failed.
func (c *Completion[T]) Resolve(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return ErrSettled
	}
	c.state = Resolved
	c.value = v
	close(c.done)
	return nil
}

// Fail settles the completion with a cause. Returns ErrSettled if the
// completion was already resolved or failed.
func (c *Completion[T]) Fail(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return ErrSettled
	}
	c.state = Failed
	c.cause = cause
	close(c.done)
	return nil
}

// State reports the current lifecycle state.
func (c *Completion[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the completion settles, the bound elapses, or ctx is
// cancelled. It returns the resolved value, the failure cause, ErrTimeout,
// or the context error. A zero timeout waits indefinitely.
func (c *Completion[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var zero T
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Failed {
			return zero, c.cause
		}
		return c.value, nil
	case <-timerC:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
