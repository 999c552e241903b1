// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"

	"github.com/absmach/relaymq/storage"
)

var _ NotificationAgent = (*NoopAgent)(nil)

// NoopAgent is the notification agent for standalone brokers. Its publish
// operations never err and have no remote effect.
type NoopAgent struct{}

// NewNoopAgent creates a no-op notification agent.
func NewNoopAgent() *NoopAgent {
	return &NoopAgent{}
}

func (a *NoopAgent) NotifyQueueChange(_ context.Context, _ string, _ storage.Queue) error {
	// Standalone: no remote nodes to notify.
	return nil
}
