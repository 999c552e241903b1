// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"sync"
	"testing"

	"github.com/absmach/relaymq/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus joins per-node fake meshes: a payload published on any of them is
// delivered to every mesh's current subscriber for that channel.
type fakeBus struct {
	mu     sync.Mutex
	meshes []*fakeMesh
}

func (b *fakeBus) join() *fakeMesh {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &fakeMesh{
		bus:   b,
		subs:  make(map[string]func([]byte)),
		opens: make(map[string]int),
	}
	b.meshes = append(b.meshes, m)
	return m
}

func (b *fakeBus) broadcast(name string, payload []byte) {
	b.mu.Lock()
	meshes := make([]*fakeMesh, len(b.meshes))
	copy(meshes, b.meshes)
	b.mu.Unlock()

	for _, m := range meshes {
		m.deliver(name, payload)
	}
}

// fakeMesh holds one node's subscriptions. Re-opening a channel replaces the
// subscription, mirroring the transport contract.
type fakeMesh struct {
	bus   *fakeBus
	mu    sync.Mutex
	subs  map[string]func([]byte)
	opens map[string]int
}

func newFakeMesh() *fakeMesh {
	return (&fakeBus{}).join()
}

func (m *fakeMesh) OpenChannel(_ context.Context, name string, recv func(payload []byte)) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[name] = recv
	m.opens[name]++
	return &fakeChannel{mesh: m, name: name}, nil
}

func (m *fakeMesh) deliver(name string, payload []byte) {
	m.mu.Lock()
	recv := m.subs[name]
	m.mu.Unlock()
	if recv != nil {
		recv(payload)
	}
}

type fakeChannel struct {
	mesh *fakeMesh
	name string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Publish(_ context.Context, payload []byte) error {
	c.mesh.bus.broadcast(c.name, payload)
	return nil
}

// recordingApplier records applied changes in arrival order.
type recordingApplier struct {
	mu      sync.Mutex
	applied []string
}

func (a *recordingApplier) record(change string, q storage.Queue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, change+":"+q.Name)
}

func (a *recordingApplier) changes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.applied))
	copy(out, a.applied)
	return out
}

func (a *recordingApplier) ApplyQueueCreated(_ context.Context, q storage.Queue) error {
	a.record(ChangeQueueCreated, q)
	return nil
}

func (a *recordingApplier) ApplyQueueDeleted(_ context.Context, q storage.Queue) error {
	a.record(ChangeQueueDeleted, q)
	return nil
}

func (a *recordingApplier) ApplyQueuePurged(_ context.Context, q storage.Queue) error {
	a.record(ChangeQueuePurged, q)
	return nil
}

func TestMeshAgentDeliversToRemoteApplier(t *testing.T) {
	bus := &fakeBus{}
	ctx := context.Background()

	localApplier := &recordingApplier{}
	local := NewMeshListenerManager(bus.join(), "node-1", localApplier, nil)
	require.NoError(t, local.Start(ctx))

	remoteApplier := &recordingApplier{}
	remote := NewMeshListenerManager(bus.join(), "node-2", remoteApplier, nil)
	require.NoError(t, remote.Start(ctx))

	agent := NewMeshAgent(local, "node-1", nil)
	q := storage.Queue{Name: "orders", Owner: "svc"}
	require.NoError(t, agent.NotifyQueueChange(ctx, ChangeQueueCreated, q))

	// The remote node applies the change; the originating node skips its
	// own notification.
	assert.Equal(t, []string{ChangeQueueCreated + ":orders"}, remoteApplier.changes())
	assert.Empty(t, localApplier.changes())
}

func TestReregisterChannelsReplacesSubscriptions(t *testing.T) {
	mesh := newFakeMesh()
	ctx := context.Background()

	applier := &recordingApplier{}
	listener := NewMeshListenerManager(mesh, "node-2", applier, nil)
	require.NoError(t, listener.Start(ctx))
	require.NoError(t, listener.ReregisterChannels(ctx))
	require.NoError(t, listener.ReregisterChannels(ctx))

	assert.Equal(t, 3, mesh.opens[QueueNotificationChannel])
	assert.Equal(t, 3, mesh.opens[StoreSyncChannel])

	// Three registrations, one live subscription: the notification is
	// applied exactly once.
	payload, err := NewNotification("node-1", ChangeQueuePurged, storage.Queue{Name: "orders"}).Encode()
	require.NoError(t, err)
	mesh.deliver(QueueNotificationChannel, payload)

	assert.Equal(t, []string{ChangeQueuePurged + ":orders"}, applier.changes())
}

func TestMeshAgentBeforeRegistration(t *testing.T) {
	listener := NewMeshListenerManager(newFakeMesh(), "node-1", &recordingApplier{}, nil)
	agent := NewMeshAgent(listener, "node-1", nil)

	err := agent.NotifyQueueChange(context.Background(), ChangeQueueCreated, storage.Queue{Name: "orders"})
	assert.ErrorIs(t, err, ErrChannelNotRegistered)
}

func TestMalformedNotificationDropped(t *testing.T) {
	mesh := newFakeMesh()
	applier := &recordingApplier{}
	listener := NewMeshListenerManager(mesh, "node-2", applier, nil)
	require.NoError(t, listener.Start(context.Background()))

	mesh.deliver(QueueNotificationChannel, []byte("not json"))

	assert.Empty(t, applier.changes())
}

func TestStoreSyncRequest(t *testing.T) {
	bus := &fakeBus{}
	ctx := context.Background()

	synced := 0
	remote := NewMeshListenerManager(bus.join(), "node-2", &recordingApplier{}, nil)
	remote.SetStoreSyncHandler(func(ctx context.Context) error {
		synced++
		return nil
	})
	require.NoError(t, remote.Start(ctx))

	localSynced := 0
	local := NewMeshListenerManager(bus.join(), "node-1", &recordingApplier{}, nil)
	local.SetStoreSyncHandler(func(ctx context.Context) error {
		localSynced++
		return nil
	})
	require.NoError(t, local.Start(ctx))

	agent := NewMeshAgent(local, "node-1", nil)
	require.NoError(t, agent.RequestStoreSync(ctx))

	// Remote nodes sync; the requesting node skips its own notification.
	assert.Equal(t, 1, synced)
	assert.Equal(t, 0, localSynced)
}
