// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the notification circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive publish failures trip the
	// breaker.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

var _ NotificationAgent = (*BreakerAgent)(nil)

// BreakerAgent wraps a notification agent with a circuit breaker so a
// struggling coordination backend cannot stall the event pipeline. While the
// breaker is open, publishes fail fast.
type BreakerAgent struct {
	agent   NotificationAgent
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerAgent wraps agent with a circuit breaker.
func NewBreakerAgent(agent NotificationAgent, cfg BreakerConfig, logger *slog.Logger) *BreakerAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cluster-notifications",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("cluster notification circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &BreakerAgent{agent: agent, breaker: breaker}
}

func (a *BreakerAgent) NotifyQueueChange(ctx context.Context, change string, q storage.Queue) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.agent.NotifyQueueChange(ctx, change, q)
	})
	return err
}
