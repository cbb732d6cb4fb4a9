package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherStreams(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, "org-1", TypeOrderCreated, OrderCreatedEvent{
		OrderID:     "ord-1",
		OrderNumber: "ORD-1",
		SiteID:      "site-1",
	}))
	require.NoError(t, pub.Publish(ctx, "org-1", TypeOrderVoided, OrderVoidedEvent{
		OrderID: "ord-1",
		SiteID:  "site-1",
		Reason:  "walkout",
	}))
	require.NoError(t, pub.Publish(ctx, "org-2", TypeOrderCreated, OrderCreatedEvent{
		OrderID: "ord-9",
	}))

	// Streams are per organization and keep append order.
	stream := pub.Stream("org-1")
	require.Len(t, stream, 2)
	assert.Equal(t, TypeOrderCreated, stream[0].Type)
	assert.Equal(t, TypeOrderVoided, stream[1].Type)
	assert.Equal(t, "org-1", stream[0].OrganizationID)
	assert.NotEmpty(t, stream[0].ID)

	var payload OrderCreatedEvent
	require.NoError(t, json.Unmarshal(stream[0].Payload, &payload))
	assert.Equal(t, "ord-1", payload.OrderID)

	assert.Len(t, pub.Stream("org-2"), 1)
	assert.Empty(t, pub.Stream("org-3"))
}

func TestStreamReturnsCopy(t *testing.T) {
	pub := NewMemoryPublisher()
	require.NoError(t, pub.Publish(context.Background(), "org-1", TypeOrderCreated, OrderCreatedEvent{OrderID: "ord-1"}))

	stream := pub.Stream("org-1")
	stream[0].Type = "mutated"

	assert.Equal(t, TypeOrderCreated, pub.Stream("org-1")[0].Type)
}

func TestBusinessDate(t *testing.T) {
	ts := time.Date(2025, 6, 1, 23, 30, 0, 0, time.FixedZone("PST", -8*3600))
	assert.Equal(t, "2025-06-02", BusinessDate(ts), "business date is derived in UTC")
}
