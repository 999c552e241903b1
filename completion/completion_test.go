// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOnce(t *testing.T) {
	c := New[int]()
	require.Equal(t, Pending, c.State())

	require.NoError(t, c.Resolve(42))
	assert.Equal(t, Resolved, c.State())

	v, err := c.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSecondTransitionRejected(t *testing.T) {
	tests := []struct {
		name   string
		first  func(c *Completion[int]) error
		second func(c *Completion[int]) error
	}{
		{
			name:   "resolve then resolve",
			first:  func(c *Completion[int]) error { return c.Resolve(1) },
			second: func(c *Completion[int]) error { return c.Resolve(2) },
		},
		{
			name:   "resolve then fail",
			first:  func(c *Completion[int]) error { return c.Resolve(1) },
			second: func(c *Completion[int]) error { return c.Fail(errors.New("boom")) },
		},
		{
			name:   "fail then resolve",
			first:  func(c *Completion[int]) error { return c.Fail(errors.New("boom")) },
			second: func(c *Completion[int]) error { return c.Resolve(2) },
		},
		{
			name:   "fail then fail",
			first:  func(c *Completion[int]) error { return c.Fail(errors.New("boom")) },
			second: func(c *Completion[int]) error { return c.Fail(errors.New("again")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New[int]()
			require.NoError(t, tt.first(c))
			assert.ErrorIs(t, tt.second(c), ErrSettled)
		})
	}
}

func TestFailureStateSticks(t *testing.T) {
	c := New[int]()
	cause := errors.New("collaborator failed")
	require.NoError(t, c.Fail(cause))

	// The failed state must not be overwritten by a late fallback value.
	assert.ErrorIs(t, c.Resolve(-1), ErrSettled)
	assert.Equal(t, Failed, c.State())

	_, err := c.Wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, cause)
}

func TestWaitTimeout(t *testing.T) {
	c := New[bool]()

	start := time.Now()
	_, err := c.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// A timed-out wait abandons observation only; the cell may still settle.
	assert.Equal(t, Pending, c.State())
	require.NoError(t, c.Resolve(true))
	v, err := c.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestWaitContextCancelled(t *testing.T) {
	c := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Pending, c.State())
}

func TestConcurrentWaiters(t *testing.T) {
	c := New[string]()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Wait(context.Background(), 5*time.Second)
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	require.NoError(t, c.Resolve("done"))
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "done", r)
	}
}

func TestConcurrentTransitions(t *testing.T) {
	c := New[int]()

	var settled sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		settled.Add(1)
		go func(i int) {
			defer settled.Done()
			if i%2 == 0 {
				errs <- c.Resolve(i)
			} else {
				errs <- c.Fail(errors.New("race"))
			}
		}(i)
	}
	settled.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrSettled)
		}
	}
	assert.Equal(t, 1, ok)
}
