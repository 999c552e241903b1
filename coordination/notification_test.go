// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRoundtrip(t *testing.T) {
	q := storage.Queue{Name: "orders", Owner: "svc", Durable: true}
	n := NewNotification("node-1", ChangeQueueCreated, q)

	assert.NotEmpty(t, n.EventID)
	ts, err := time.Parse(time.RFC3339Nano, n.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)

	payload, err := n.Encode()
	require.NoError(t, err)

	decoded, err := DecodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, n, decoded)
}

func TestNotificationIDsUnique(t *testing.T) {
	a := NewNotification("node-1", ChangeQueueCreated, storage.Queue{Name: "q"})
	b := NewNotification("node-1", ChangeQueueCreated, storage.Queue{Name: "q"})
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestDecodeNotificationMalformed(t *testing.T) {
	_, err := DecodeNotification([]byte("{broken"))
	assert.Error(t, err)
}

func TestDispatchUnknownChange(t *testing.T) {
	n := NewNotification("node-1", "queue.renamed", storage.Queue{Name: "orders"})
	err := dispatch(context.Background(), n, &recordingApplier{}, "node-2")
	assert.Error(t, err)
}
