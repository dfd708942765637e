package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from  OrderStatus
		event OrderEvent
		to    OrderStatus
	}{
		{OrderStatusDraft, EventPaymentSuccess, OrderStatusConfirmed},
		{OrderStatusDraft, EventPaymentFailed, OrderStatusCancelled},
		{OrderStatusDraft, EventPaymentExpired, OrderStatusCancelled},
		{OrderStatusDraft, EventCashOnDeliverySelected, OrderStatusConfirmed},
		{OrderStatusDraft, EventStaleOperatorCancel, OrderStatusCancelled},
		{OrderStatusConfirmed, EventShip, OrderStatusShipped},
		{OrderStatusConfirmed, EventOperatorCancel, OrderStatusCancelled},
		{OrderStatusShipped, EventDeliver, OrderStatusDelivered},
	}
	for _, tc := range allowed {
		to, err := Transition(tc.from, tc.event)
		require.NoError(t, err)
		assert.Equal(t, tc.to, to)
	}

	rejected := []struct {
		from  OrderStatus
		event OrderEvent
	}{
		{OrderStatusConfirmed, EventPaymentSuccess},
		{OrderStatusCancelled, EventPaymentSuccess},
		{OrderStatusShipped, EventOperatorCancel},
		{OrderStatusDelivered, EventShip},
		{OrderStatusDraft, EventShip},
		{OrderStatusDraft, EventDeliver},
		{OrderStatusCancelled, EventStaleOperatorCancel},
	}
	for _, tc := range rejected {
		_, err := Transition(tc.from, tc.event)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s/%s", tc.from, tc.event)
	}
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	assert.False(t, CanTransition(OrderStatusConfirmed, OrderStatusDraft))
	assert.False(t, CanTransition(OrderStatusShipped, OrderStatusConfirmed))
	assert.False(t, CanTransition(OrderStatusDelivered, OrderStatusShipped))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusDraft))
	assert.True(t, CanTransition(OrderStatusDraft, OrderStatusConfirmed))
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusConfirmed.Terminal())
}

func TestEventForOutcome(t *testing.T) {
	ev, ok := EventForOutcome(PaymentSuccess)
	assert.True(t, ok)
	assert.Equal(t, EventPaymentSuccess, ev)
	ev, ok = EventForOutcome(PaymentExpired)
	assert.True(t, ok)
	assert.Equal(t, EventPaymentExpired, ev)
	_, ok = EventForOutcome(PaymentPending)
	assert.False(t, ok)
}
