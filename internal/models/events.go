package models

import "time"

// Notification types emitted to external sinks.
const (
	EventTypeOrderCreated        = "ORDER_CREATED"
	EventTypePaymentInitiated    = "PAYMENT_INITIATED"
	EventTypeOrderConfirmed      = "ORDER_CONFIRMED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeOrderShipped        = "ORDER_SHIPPED"
	EventTypeOrderDelivered      = "ORDER_DELIVERED"
	EventTypeStaleDraftsReported = "STALE_DRAFTS_REPORTED"
	EventTypeLoginFailureAlert   = "LOGIN_FAILURE_ALERT"
	EventTypeLoginFailed         = "LOGIN_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is an order-state event handed to registered listeners.
type Notification struct {
	BaseEvent
	OrderID       int64         `json:"order_id,omitempty"`
	OrderNumber   string        `json:"order_number,omitempty"`
	UserID        int64         `json:"user_id,omitempty"`
	OldStatus     OrderStatus   `json:"old_status,omitempty"`
	NewStatus     OrderStatus   `json:"new_status,omitempty"`
	Total         Money         `json:"total,omitempty"`
	Currency      string        `json:"currency,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Source        string        `json:"source,omitempty"`
	Note          string        `json:"note,omitempty"`
	Drafts        []StaleDraft  `json:"drafts,omitempty"`
	Subject       string        `json:"subject,omitempty"`
	ClientIP      string        `json:"client_ip,omitempty"`
	Count         int64         `json:"count,omitempty"`
}

// Key is the partition key used by the message broker.
func (n *Notification) Key() string {
	switch {
	case n.OrderNumber != "":
		return "order-" + n.OrderNumber
	case n.Subject != "":
		return "subject-" + n.Subject
	}
	return n.EventType
}

// StaleDraft is one entry of the stale-draft report.
type StaleDraft struct {
	OrderID     int64     `json:"order_id" db:"id"`
	OrderNumber string    `json:"order_number" db:"order_number"`
	UserID      int64     `json:"user_id" db:"user_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	AgeDays     int       `json:"age_days" db:"-"`
	Total       Money     `json:"total" db:"total"`
}

// LoginFailedEvent is published by the authentication module on each failed login.
type LoginFailedEvent struct {
	BaseEvent
	Username string `json:"username"`
	ClientIP string `json:"client_ip"`
}
