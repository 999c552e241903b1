// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package recovery watches the distributed runtime lifecycle and repairs
// node-local cluster state after a network partition heals.
package recovery

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/relaymq/coordination"
)

// reregisterTimeout bounds how long a post-merge repair may take.
const reregisterTimeout = 10 * time.Second

// LifecycleSource emits distributed runtime lifecycle transitions.
type LifecycleSource interface {
	RegisterLifecycleListener(fn func(coordination.LifecycleState))
}

// Reregisterer restores the node's notification channel subscriptions.
type Reregisterer interface {
	ReregisterChannels(ctx context.Context) error
}

// Monitor re-registers cluster notification subscriptions when a partition
// merge discards them. Without this, a node that sat on the losing side of a
// partition would silently stop receiving queue change notifications.
type Monitor struct {
	listener Reregisterer
	logger   *slog.Logger

	merges atomic.Int64
}

// NewMonitor creates a partition recovery monitor repairing the given
// listener's subscriptions.
func NewMonitor(listener Reregisterer, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{listener: listener, logger: logger}
}

// Start subscribes the monitor to the runtime's lifecycle events.
func (m *Monitor) Start(source LifecycleSource) {
	source.RegisterLifecycleListener(m.onLifecycleState)
}

// MergeCount reports how many partition merges the monitor has handled.
func (m *Monitor) MergeCount() int64 {
	return m.merges.Load()
}

func (m *Monitor) onLifecycleState(state coordination.LifecycleState) {
	m.logger.Info("cluster runtime lifecycle changed", "state", string(state))

	if state != coordination.StateMerged {
		return
	}
	m.merges.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), reregisterTimeout)
	defer cancel()

	if err := m.listener.ReregisterChannels(ctx); err != nil {
		m.logger.Error("failed to re-register notification channels after partition merge", "error", err)
		return
	}
	m.logger.Info("re-registered notification channels after partition merge")
}
