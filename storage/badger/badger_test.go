// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"testing"

	"github.com/absmach/relaymq/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *QueueStore {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQueueStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := storage.Queue{Name: "orders", Owner: "carbon", Durable: true, Topic: true}
	require.NoError(t, s.Save(ctx, q))

	got, err := s.Get(ctx, "carbon", "orders")
	require.NoError(t, err)
	assert.Equal(t, q, got)

	assert.ErrorIs(t, s.Save(ctx, q), storage.ErrAlreadyExists)

	require.NoError(t, s.Delete(ctx, "carbon", "orders"))
	_, err = s.Get(ctx, "carbon", "orders")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueueStoreListByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, storage.Queue{Name: "a", Owner: "carbon"}))
	require.NoError(t, s.Save(ctx, storage.Queue{Name: "b", Owner: "carbon"}))
	require.NoError(t, s.Save(ctx, storage.Queue{Name: "c", Owner: "helium"}))

	carbon, err := s.List(ctx, "carbon")
	require.NoError(t, err)
	assert.Len(t, carbon, 2)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	missing, err := s.List(ctx, "neon")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
