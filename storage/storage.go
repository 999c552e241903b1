// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Queue is the immutable identity of a broker queue. Two queues are the same
// queue when name and owner match; the remaining flags describe the queue but
// do not identify it.
type Queue struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"` // owning scope, e.g. virtual host
	Exclusive bool   `json:"exclusive"`
	Durable   bool   `json:"durable"`
	Topic     bool   `json:"topic"` // queue backs topic messages
}

// Key returns the unique store key for the queue.
func (q Queue) Key() string {
	return q.Owner + "/" + q.Name
}

// Equal reports identity equality (name and owner).
func (q Queue) Equal(other Queue) bool {
	return q.Name == other.Name && q.Owner == other.Owner
}

// QueueStore persists broker queue metadata.
type QueueStore interface {
	// Save stores queue metadata. Returns ErrAlreadyExists if a queue with
	// the same name and owner is already stored.
	Save(ctx context.Context, q Queue) error

	// Delete removes queue metadata. Returns ErrNotFound if absent.
	Delete(ctx context.Context, owner, name string) error

	// Get retrieves queue metadata. Returns ErrNotFound if absent.
	Get(ctx context.Context, owner, name string) (Queue, error)

	// List returns all queues for an owner; an empty owner lists every queue.
	List(ctx context.Context, owner string) ([]Queue, error)

	// Close releases the underlying resources.
	Close() error
}
