// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/cenkalti/backoff/v5"
)

// DefaultPollInterval is how often the relational listener reads the
// notification log when no interval is configured.
const DefaultPollInterval = time.Second

// pollBatchSize caps how many log entries a single poll reads.
const pollBatchSize = 256

// LogEntry is one appended cluster notification in the relational log.
type LogEntry struct {
	ID        int64
	Payload   []byte
	CreatedAt time.Time
}

// NotificationLog is the shared relational store the RDBMS backend runs on.
// Entry IDs are assigned by the store and strictly increase.
type NotificationLog interface {
	// Append stores an encoded notification and returns its assigned ID.
	Append(ctx context.Context, payload []byte) (int64, error)

	// ReadAfter returns up to limit entries with ID greater than id, in
	// ascending ID order.
	ReadAfter(ctx context.Context, id int64, limit int) ([]LogEntry, error)

	// LatestID returns the highest assigned ID, or 0 for an empty log.
	LatestID(ctx context.Context) (int64, error)
}

var _ NotificationAgent = (*RDBMSAgent)(nil)

// RDBMSAgent publishes queue changes by appending them to the shared
// notification log. The agent binds the store directly; no listener has to
// exist first.
type RDBMSAgent struct {
	log    NotificationLog
	nodeID string
}

// NewRDBMSAgent creates a notification agent over the shared log.
func NewRDBMSAgent(log NotificationLog, nodeID string) *RDBMSAgent {
	return &RDBMSAgent{log: log, nodeID: nodeID}
}

func (a *RDBMSAgent) NotifyQueueChange(ctx context.Context, change string, q storage.Queue) error {
	payload, err := NewNotification(a.nodeID, change, q).Encode()
	if err != nil {
		return err
	}
	if _, err := a.log.Append(ctx, payload); err != nil {
		return fmt.Errorf("appending cluster notification: %w", err)
	}
	return nil
}

var _ ListenerManager = (*RDBMSListenerManager)(nil)

// RDBMSListenerManager polls the shared notification log and applies entries
// appended by other nodes. Each node tracks its own cursor, starting at the
// log's tail so historical entries are not replayed on startup.
type RDBMSListenerManager struct {
	log          NotificationLog
	nodeID       string
	applier      Applier
	pollInterval time.Duration
	logger       *slog.Logger

	lastID int64

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRDBMSListenerManager creates a polling listener over the shared log.
func NewRDBMSListenerManager(log NotificationLog, nodeID string, applier Applier, pollInterval time.Duration, logger *slog.Logger) *RDBMSListenerManager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RDBMSListenerManager{
		log:          log,
		nodeID:       nodeID,
		applier:      applier,
		pollInterval: pollInterval,
		logger:       logger,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start positions the cursor at the log's tail and begins polling.
func (m *RDBMSListenerManager) Start(ctx context.Context) error {
	latest, err := m.log.LatestID(ctx)
	if err != nil {
		return fmt.Errorf("reading notification log tail: %w", err)
	}
	m.lastID = latest

	go m.poll()
	return nil
}

// Stop halts polling and waits for the poll loop to exit.
func (m *RDBMSListenerManager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
	return nil
}

func (m *RDBMSListenerManager) poll() {
	defer close(m.done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.drain(); err != nil {
				m.logger.Warn("failed to read cluster notification log", "error", err)
			}
		}
	}
}

// drain reads and applies all entries past the cursor. Transient read errors
// are retried with exponential backoff before the poll cycle gives up.
func (m *RDBMSListenerManager) drain() error {
	ctx := context.Background()

	for {
		operation := func() ([]LogEntry, error) {
			return m.log.ReadAfter(ctx, m.lastID, pollBatchSize)
		}

		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = 50 * time.Millisecond
		expBackoff.MaxInterval = m.pollInterval

		entries, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(expBackoff),
			backoff.WithMaxElapsedTime(m.pollInterval))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		for _, entry := range entries {
			m.apply(ctx, entry)
			m.lastID = entry.ID
		}
		if len(entries) < pollBatchSize {
			return nil
		}
	}
}

func (m *RDBMSListenerManager) apply(ctx context.Context, entry LogEntry) {
	n, err := DecodeNotification(entry.Payload)
	if err != nil {
		m.logger.Warn("dropping malformed cluster notification", "id", entry.ID, "error", err)
		return
	}

	if err := dispatch(ctx, n, m.applier, m.nodeID); err != nil {
		m.logger.Warn("failed to apply cluster notification",
			"id", entry.ID, "change", n.Change, "queue", n.Queue.Name, "origin", n.Node, "error", err)
	}
}
