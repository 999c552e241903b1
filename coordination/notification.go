// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/google/uuid"
)

// Notification is the envelope exchanged between cluster nodes for a queue
// change.
type Notification struct {
	EventID   string        `json:"event_id"`
	Node      string        `json:"node"`
	Change    string        `json:"change"`
	Queue     storage.Queue `json:"queue"`
	Timestamp string        `json:"timestamp"`
}

// NewNotification creates a notification for a change originating on node.
func NewNotification(node, change string, q storage.Queue) Notification {
	return Notification{
		EventID:   uuid.New().String(),
		Node:      node,
		Change:    change,
		Queue:     q,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Encode serializes the notification for the wire.
func (n Notification) Encode() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return data, nil
}

// DecodeNotification deserializes a notification from the wire.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return n, nil
}
