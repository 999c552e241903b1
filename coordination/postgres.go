// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var _ NotificationLog = (*PostgresLog)(nil)

// PostgresLog is the notification log over a shared PostgreSQL database.
// BIGSERIAL assignment gives entries their strictly increasing IDs.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to the database and ensures the log table exists.
func NewPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to notification store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging notification store: %w", err)
	}

	l := &PostgresLog{pool: pool}
	if err := l.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLog) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS cluster_notifications (
			id         BIGSERIAL PRIMARY KEY,
			payload    BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := l.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating notification log table: %w", err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, payload []byte) (int64, error) {
	const q = `INSERT INTO cluster_notifications (payload) VALUES ($1) RETURNING id`

	var id int64
	if err := l.pool.QueryRow(ctx, q, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("appending notification log entry: %w", err)
	}
	return id, nil
}

func (l *PostgresLog) ReadAfter(ctx context.Context, id int64, limit int) ([]LogEntry, error) {
	const q = `
		SELECT id, payload, created_at
		FROM cluster_notifications
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := l.pool.Query(ctx, q, id, limit)
	if err != nil {
		return nil, fmt.Errorf("reading notification log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notification log: %w", err)
	}
	return entries, nil
}

func (l *PostgresLog) LatestID(ctx context.Context) (int64, error) {
	const q = `SELECT COALESCE(MAX(id), 0) FROM cluster_notifications`

	var id int64
	if err := l.pool.QueryRow(ctx, q).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading notification log tail: %w", err)
	}
	return id, nil
}

// Close releases the database pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}
