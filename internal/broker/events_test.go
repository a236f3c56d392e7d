package broker

import (
	"context"
	"encoding/json"
	"testing"

	"techstore/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func TestEventHandlerRoutesByType(t *testing.T) {
	ctx := context.Background()
	h := NewEventHandler()

	var created *models.OrderCreatedEvent
	var changed *models.OrderStatusChangedEvent
	h.OnOrderCreated(func(_ context.Context, e *models.OrderCreatedEvent) error {
		created = e
		return nil
	})
	h.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		changed = e
		return nil
	})

	require.NoError(t, h.HandleMessage(ctx, message(t, &models.OrderCreatedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   "o-1",
		Items:     []models.OrderItemData{{ProductID: "p1", Quantity: 2, UnitPrice: 1000}},
	})))
	require.NotNil(t, created)
	assert.Equal(t, "o-1", created.OrderID)
	assert.Equal(t, 2, created.Items[0].Quantity)

	require.NoError(t, h.HandleMessage(ctx, message(t, &models.OrderStatusChangedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   "o-1",
		From:      models.OrderStatusPending,
		To:        models.OrderStatusCancelled,
	})))
	require.NotNil(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, changed.To)

	assert.NoError(t, h.HandleMessage(ctx, message(t, &models.BaseEvent{EventType: "SOMETHING_ELSE"})))
	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("{")}))
}

func TestNewBaseEvent(t *testing.T) {
	a := NewBaseEvent(models.EventTypeOrderCreated)
	b := NewBaseEvent(models.EventTypeOrderCreated)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, models.EventTypeOrderCreated, a.EventType)
	assert.Equal(t, "order-o-9", orderKey("o-9"))
}

func TestNewMessageCarriesEventType(t *testing.T) {
	event := &models.OrderCreatedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   "o-9",
	}
	msg, err := newMessage(orderKey(event.OrderID), event.EventType, event)
	require.NoError(t, err)

	assert.Equal(t, "order-o-9", string(msg.Key))
	assert.Equal(t, models.EventTypeOrderCreated, headerValue(msg, EventTypeHeader))
	assert.Empty(t, headerValue(msg, "missing"))

	var decoded models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)

	_, err = newMessage("k", "bad", map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}
