package models

import "fmt"

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderEvent drives a status transition.
type OrderEvent string

const (
	EventPaymentSuccess         OrderEvent = "payment_success"
	EventPaymentFailed          OrderEvent = "payment_failed"
	EventPaymentExpired         OrderEvent = "payment_expired"
	EventCashOnDeliverySelected OrderEvent = "cash_on_delivery_selected"
	EventStaleOperatorCancel    OrderEvent = "stale_operator_cancel"
	EventShip                   OrderEvent = "ship"
	EventOperatorCancel         OrderEvent = "operator_cancel"
	EventDeliver                OrderEvent = "deliver"
)

type transitionKey struct {
	from  OrderStatus
	event OrderEvent
}

var transitions = map[transitionKey]OrderStatus{
	{OrderStatusDraft, EventPaymentSuccess}:         OrderStatusConfirmed,
	{OrderStatusDraft, EventPaymentFailed}:          OrderStatusCancelled,
	{OrderStatusDraft, EventPaymentExpired}:         OrderStatusCancelled,
	{OrderStatusDraft, EventCashOnDeliverySelected}: OrderStatusConfirmed,
	{OrderStatusDraft, EventStaleOperatorCancel}:    OrderStatusCancelled,
	{OrderStatusConfirmed, EventShip}:               OrderStatusShipped,
	{OrderStatusConfirmed, EventOperatorCancel}:     OrderStatusCancelled,
	{OrderStatusShipped, EventDeliver}:              OrderStatusDelivered,
}

// Transition returns the state reached from `from` on `event`.
func Transition(from OrderStatus, event OrderEvent) (OrderStatus, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, event)
	}
	return to, nil
}

// CanTransition reports whether some event moves from one status to the other.
func CanTransition(from, to OrderStatus) bool {
	for k, v := range transitions {
		if k.from == from && v == to {
			return true
		}
	}
	return false
}

// EventForOutcome maps a provider outcome to the FSM event it triggers.
// PENDING has no event.
func EventForOutcome(o PaymentOutcome) (OrderEvent, bool) {
	switch o {
	case PaymentSuccess:
		return EventPaymentSuccess, true
	case PaymentFailed:
		return EventPaymentFailed, true
	case PaymentExpired:
		return EventPaymentExpired, true
	}
	return "", false
}
