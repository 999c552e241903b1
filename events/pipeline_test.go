// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/absmach/relaymq/completion"
	"github.com/absmach/relaymq/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContextManager records applied operations in order.
type fakeContextManager struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	checked   []string
	createErr error
	checkErr  error
	deletable bool
	applied   []string // global application order across operations
}

func (f *fakeContextManager) CreateQueue(_ context.Context, q storage.Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, q.Name)
	f.applied = append(f.applied, q.Name)
	return nil
}

func (f *fakeContextManager) DeleteQueue(_ context.Context, q storage.Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, q.Name)
	f.applied = append(f.applied, q.Name)
	return nil
}

func (f *fakeContextManager) CheckDeletable(_ context.Context, q storage.Queue) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return false, f.checkErr
	}
	f.checked = append(f.checked, q.Name)
	f.applied = append(f.applied, q.Name)
	return f.deletable, nil
}

// fakeEngine purges a fixed count or fails.
type fakeEngine struct {
	count int
	err   error
}

func (f *fakeEngine) PurgeMessages(_ context.Context, _, _ string, _ bool) (int, error) {
	if f.err != nil {
		return -1, f.err
	}
	return f.count, nil
}

// fakeNotifier records published changes.
type fakeNotifier struct {
	mu      sync.Mutex
	changes []string
	err     error
}

func (f *fakeNotifier) NotifyQueueChange(_ context.Context, change string, _ storage.Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.changes = append(f.changes, change)
	return nil
}

func startPipeline(t *testing.T, notifier Notifier) *Pipeline {
	t.Helper()
	p := NewPipeline(16, notifier, nil)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestCreateQueueResolvesCompletion(t *testing.T) {
	cm := &fakeContextManager{}
	notifier := &fakeNotifier{}
	p := startPipeline(t, notifier)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForCreate(cm))
	require.NoError(t, p.Submit(ev))

	require.NoError(t, ev.WaitForCompletion(context.Background(), DefaultCompletionTimeout))
	assert.Equal(t, []string{"orders"}, cm.created)

	p.Stop()
	assert.Equal(t, []string{ChangeQueueCreated}, notifier.changes)
}

func TestCreateQueueFailureSwallowed(t *testing.T) {
	cm := &fakeContextManager{createErr: errors.New("store unavailable")}
	p := startPipeline(t, nil)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForCreate(cm))
	require.NoError(t, p.Submit(ev))

	// Processing failures are logged, not raised; only a timeout is fatal.
	assert.NoError(t, ev.WaitForCompletion(context.Background(), DefaultCompletionTimeout))
}

func TestWaitForCompletionTimeout(t *testing.T) {
	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForCreate(&fakeContextManager{}))

	// Never submitted: the completion stays pending past the bound.
	err := ev.WaitForCompletion(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, completion.ErrTimeout)
}

func TestPurgeResolvesCount(t *testing.T) {
	p := startPipeline(t, nil)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForPurge(&fakeEngine{count: 7}))
	require.NoError(t, p.Submit(ev))

	n, err := ev.PurgedCount(context.Background(), DefaultCompletionTimeout)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPurgeFailureStaysFailed(t *testing.T) {
	p := startPipeline(t, nil)

	cause := errors.New("engine failure")
	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForPurge(&fakeEngine{err: cause}))
	require.NoError(t, p.Submit(ev))

	n, err := ev.PurgedCount(context.Background(), DefaultCompletionTimeout)
	assert.Equal(t, -1, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "orders")

	// The failed state must stick; no fallback value replaces it.
	assert.Equal(t, completion.Failed, ev.purged.State())
}

func TestCheckDeletable(t *testing.T) {
	cm := &fakeContextManager{deletable: true}
	p := startPipeline(t, nil)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForDeletableCheck(cm))
	require.NoError(t, p.Submit(ev))

	ok, err := ev.Deletable(context.Background(), DefaultCompletionTimeout)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckDeletableFailure(t *testing.T) {
	cause := errors.New("store unavailable")
	cm := &fakeContextManager{checkErr: cause}
	p := startPipeline(t, nil)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForDeletableCheck(cm))
	require.NoError(t, p.Submit(ev))

	ok, err := ev.Deletable(context.Background(), DefaultCompletionTimeout)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "orders")
	assert.Equal(t, completion.Failed, ev.deletable.State())
}

func TestDeleteIsFireAndForget(t *testing.T) {
	cm := &fakeContextManager{}
	notifier := &fakeNotifier{}
	p := startPipeline(t, notifier)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForDelete(cm))
	require.NoError(t, p.Submit(ev))

	p.Stop()
	assert.Equal(t, []string{"orders"}, cm.deleted)
	assert.Equal(t, []string{ChangeQueueDeleted}, notifier.changes)
}

func TestNotificationFailureDoesNotFailEvent(t *testing.T) {
	cm := &fakeContextManager{}
	notifier := &fakeNotifier{err: errors.New("mesh unavailable")}
	p := startPipeline(t, notifier)

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForCreate(cm))
	require.NoError(t, p.Submit(ev))

	assert.NoError(t, ev.WaitForCompletion(context.Background(), DefaultCompletionTimeout))
}

func TestSubmitUnprepared(t *testing.T) {
	p := startPipeline(t, nil)
	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	assert.ErrorIs(t, p.Submit(ev), ErrNotPrepared)
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPipeline(4, nil, nil)
	p.Start()
	p.Stop()

	ev := NewQueueEvent(storage.Queue{Name: "orders", Owner: "carbon"})
	require.NoError(t, ev.ForDelete(&fakeContextManager{}))
	assert.ErrorIs(t, p.Submit(ev), ErrPipelineClosed)
}

func TestGlobalFIFOAcrossProducers(t *testing.T) {
	cm := &fakeContextManager{}
	p := NewPipeline(1, nil, nil) // tiny buffer to exercise backpressure

	const producers = 8
	const perProducer = 50

	// Serialize submissions through a mutex so the accepted order is known,
	// then assert the consumer applies them in exactly that order.
	var submitMu sync.Mutex
	var accepted []string
	var wg sync.WaitGroup

	p.Start()
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				ev := NewQueueEvent(storage.Queue{
					Name:  fmt.Sprintf("p%d-%d", producer, j),
					Owner: "carbon",
				})
				assert.NoError(t, ev.ForCreate(cm))

				submitMu.Lock()
				accepted = append(accepted, ev.Queue.Name)
				assert.NoError(t, p.Submit(ev))
				submitMu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, accepted, cm.applied)
}
