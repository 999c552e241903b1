// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coordination exchanges broker state-change notifications between
// cluster nodes. A notification agent publishes local changes; a listener
// manager subscribes the node to the cluster's notification medium and
// applies incoming changes locally. The backend is selected once at startup:
// a pub/sub mesh, a relational notification log, or nothing at all for
// standalone brokers.
package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/relaymq/storage"
)

// Change types carried by cluster notifications. They mirror the pipeline's
// change constants.
const (
	ChangeQueueCreated = "queue.created"
	ChangeQueueDeleted = "queue.deleted"
	ChangeQueuePurged  = "queue.purged"
)

var (
	// ErrAgentBeforeListener is returned when the mesh notification agent is
	// requested before the listener manager that registers its channels.
	ErrAgentBeforeListener = errors.New("cannot create mesh notification agent: create the mesh listener manager first to register its channels")

	// ErrBackendNotConfigured is returned when the selected backend is
	// missing its runtime dependency (mesh handle or notification log).
	ErrBackendNotConfigured = errors.New("coordination backend dependency not configured")
)

// NotificationAgent publishes local queue changes to the cluster.
type NotificationAgent interface {
	NotifyQueueChange(ctx context.Context, change string, q storage.Queue) error
}

// Applier applies remotely-notified queue changes to local broker state.
// Implementations must tolerate replayed notifications.
type Applier interface {
	ApplyQueueCreated(ctx context.Context, q storage.Queue) error
	ApplyQueueDeleted(ctx context.Context, q storage.Queue) error
	ApplyQueuePurged(ctx context.Context, q storage.Queue) error
}

// ListenerManager subscribes the local node to cluster notifications and
// routes them to the Applier.
type ListenerManager interface {
	// Start registers subscriptions or begins polling.
	Start(ctx context.Context) error

	// Stop tears the subscriptions down.
	Stop() error
}

// Channel is a handle to a named cluster notification channel. Delivery is
// FIFO per publisher within a channel and best-effort.
type Channel interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
}

// Mesh is the pub/sub transport the mesh backend runs on. OpenChannel
// subscribes recv to the named channel and returns a publish handle; opening
// a channel that is already open replaces the previous subscription, so
// repeated registration never duplicates delivery.
type Mesh interface {
	OpenChannel(ctx context.Context, name string, recv func(payload []byte)) (Channel, error)
}

// dispatch routes a decoded notification to the applier. Notifications
// published by this node are skipped; the originating mutation already
// happened locally.
func dispatch(ctx context.Context, n Notification, applier Applier, nodeID string) error {
	if n.Node == nodeID {
		return nil
	}

	switch n.Change {
	case ChangeQueueCreated:
		return applier.ApplyQueueCreated(ctx, n.Queue)
	case ChangeQueueDeleted:
		return applier.ApplyQueueDeleted(ctx, n.Queue)
	case ChangeQueuePurged:
		return applier.ApplyQueuePurged(ctx, n.Queue)
	default:
		return fmt.Errorf("unknown cluster notification change %q", n.Change)
	}
}
