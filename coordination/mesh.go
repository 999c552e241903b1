// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/relaymq/storage"
)

// Mesh channel names. The listener manager owns both: queue notifications
// carry structural changes, store sync signals a full metadata re-read.
const (
	QueueNotificationChannel = "queue.notifications"
	StoreSyncChannel         = "store.sync"
)

// ErrChannelNotRegistered is returned when publishing through a channel the
// listener manager has not registered.
var ErrChannelNotRegistered = errors.New("notification channel not registered")

var _ ListenerManager = (*MeshListenerManager)(nil)

// MeshListenerManager subscribes the node to the mesh notification channels
// and routes incoming notifications to the applier. It owns the channel
// handles; the mesh agent publishes through them but never mutates
// subscription state.
type MeshListenerManager struct {
	mesh    Mesh
	nodeID  string
	applier Applier
	logger  *slog.Logger

	// onStoreSync, when set, runs on a store sync notification.
	onStoreSync func(ctx context.Context) error

	mu       sync.Mutex
	channels map[string]Channel
}

// NewMeshListenerManager creates a mesh listener manager bound to the given
// mesh handle.
func NewMeshListenerManager(mesh Mesh, nodeID string, applier Applier, logger *slog.Logger) *MeshListenerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeshListenerManager{
		mesh:     mesh,
		nodeID:   nodeID,
		applier:  applier,
		logger:   logger,
		channels: make(map[string]Channel),
	}
}

// SetStoreSyncHandler installs the callback run when a remote node requests a
// store sync. Must be called before Start.
func (m *MeshListenerManager) SetStoreSyncHandler(fn func(ctx context.Context) error) {
	m.onStoreSync = fn
}

// Start registers the notification channels.
func (m *MeshListenerManager) Start(ctx context.Context) error {
	return m.ReregisterChannels(ctx)
}

// Stop drops the channel handles. The mesh owns subscription teardown.
func (m *MeshListenerManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = make(map[string]Channel)
	return nil
}

// ReregisterChannels (re-)subscribes the notification channels. The mesh
// replaces an existing subscription for a name rather than adding a second
// one, so the call is idempotent: repeated merges or a race with startup
// registration cannot duplicate delivery.
func (m *MeshListenerManager) ReregisterChannels(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := map[string]func([]byte){
		QueueNotificationChannel: m.handleQueueNotification,
		StoreSyncChannel:         m.handleStoreSync,
	}

	for name, handler := range handlers {
		ch, err := m.mesh.OpenChannel(ctx, name, handler)
		if err != nil {
			return fmt.Errorf("registering channel %s: %w", name, err)
		}
		m.channels[name] = ch
	}
	return nil
}

// channel returns the registered handle for name, or nil.
func (m *MeshListenerManager) channel(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[name]
}

func (m *MeshListenerManager) handleQueueNotification(payload []byte) {
	n, err := DecodeNotification(payload)
	if err != nil {
		m.logger.Warn("dropping malformed cluster notification", "error", err)
		return
	}

	ctx := context.Background()
	if err := dispatch(ctx, n, m.applier, m.nodeID); err != nil {
		m.logger.Warn("failed to apply cluster notification",
			"change", n.Change, "queue", n.Queue.Name, "origin", n.Node, "error", err)
	}
}

func (m *MeshListenerManager) handleStoreSync(payload []byte) {
	n, err := DecodeNotification(payload)
	if err != nil {
		m.logger.Warn("dropping malformed store sync notification", "error", err)
		return
	}
	if n.Node == m.nodeID || m.onStoreSync == nil {
		return
	}

	if err := m.onStoreSync(context.Background()); err != nil {
		m.logger.Warn("store sync failed", "origin", n.Node, "error", err)
	}
}

var _ NotificationAgent = (*MeshAgent)(nil)

// MeshAgent publishes queue changes through the channels registered by the
// mesh listener manager.
type MeshAgent struct {
	listener *MeshListenerManager
	nodeID   string
	logger   *slog.Logger
}

// NewMeshAgent creates a mesh notification agent over the listener's
// channels.
func NewMeshAgent(listener *MeshListenerManager, nodeID string, logger *slog.Logger) *MeshAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeshAgent{listener: listener, nodeID: nodeID, logger: logger}
}

// NotifyQueueChange publishes a queue change to the cluster. Delivery is
// best-effort; no acknowledgment flows back.
func (a *MeshAgent) NotifyQueueChange(ctx context.Context, change string, q storage.Queue) error {
	ch := a.listener.channel(QueueNotificationChannel)
	if ch == nil {
		return ErrChannelNotRegistered
	}

	payload, err := NewNotification(a.nodeID, change, q).Encode()
	if err != nil {
		return err
	}
	return ch.Publish(ctx, payload)
}

// RequestStoreSync asks remote nodes to re-read shared metadata.
func (a *MeshAgent) RequestStoreSync(ctx context.Context) error {
	ch := a.listener.channel(StoreSyncChannel)
	if ch == nil {
		return ErrChannelNotRegistered
	}

	payload, err := NewNotification(a.nodeID, "store.sync", storage.Queue{}).Encode()
	if err != nil {
		return err
	}
	return ch.Publish(ctx, payload)
}
