package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Listener receives a notification once the state change behind it is durable.
type Listener func(ctx context.Context, n *models.Notification) error

type namedListener struct {
	name string
	fn   Listener
}

// Dispatcher fans notifications out to the listeners registered at startup.
// Listener errors are logged and never reach the emitter.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []namedListener
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with no listeners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: util.GetLogger()}
}

// Register adds a listener.
func (d *Dispatcher) Register(name string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, namedListener{name: name, fn: fn})
}

// Emit stamps n and hands it to every listener in registration order.
func (d *Dispatcher) Emit(ctx context.Context, n *models.Notification) {
	if n.EventID == "" {
		n.EventID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	util.NotificationsTotal.WithLabelValues(n.EventType).Inc()

	d.mu.RLock()
	listeners := append([]namedListener(nil), d.listeners...)
	d.mu.RUnlock()

	for _, l := range listeners {
		if err := l.fn(ctx, n); err != nil {
			d.logger.Error("Notification listener failed",
				zap.String("listener", l.name),
				zap.String("event_type", n.EventType),
				zap.String("event_id", n.EventID),
				zap.Error(err))
		}
	}
}

// LogListener writes every notification to the structured log.
func LogListener(logger *zap.Logger) Listener {
	return func(ctx context.Context, n *models.Notification) error {
		logger.Info("Notification",
			zap.String("event_type", n.EventType),
			zap.String("event_id", n.EventID),
			zap.String("order_number", n.OrderNumber),
			zap.String("old_status", string(n.OldStatus)),
			zap.String("new_status", string(n.NewStatus)),
			zap.String("source", n.Source))
		return nil
	}
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventWriter
}

// EventWriter is the subset of Producer the publisher needs.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Publish writes a notification keyed by order number (or subject).
func (ep *EventPublisher) Publish(ctx context.Context, n *models.Notification) error {
	return ep.producer.PublishEvent(ctx, n.Key(), n)
}

// EventHandler handles incoming events
type EventHandler struct {
	onLoginFailed func(context.Context, *models.LoginFailedEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnLoginFailed registers a handler for LOGIN_FAILED events
func (eh *EventHandler) OnLoginFailed(handler func(context.Context, *models.LoginFailedEvent) error) {
	eh.onLoginFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeLoginFailed:
		if eh.onLoginFailed != nil {
			var event models.LoginFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LoginFailed event: %w", err)
			}
			return eh.onLoginFailed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
