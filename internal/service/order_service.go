package service

import (
	"context"
	"errors"
	"fmt"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Notifier receives order events after commit.
type Notifier interface {
	Emit(ctx context.Context, n *models.Notification)
}

// applyTransition moves order through event inside tx and appends the
// history row. It reports false, changing nothing, when the target status
// was already recorded for the order.
func applyTransition(ctx context.Context, tx store.Tx, order *models.Order, event models.OrderEvent, source, note string) (bool, error) {
	to, err := models.Transition(order.Status, event)
	if err != nil {
		return false, err
	}

	inserted, err := tx.AppendHistory(ctx, &models.StatusHistory{
		OrderID:   order.ID,
		OldStatus: order.Status,
		NewStatus: to,
		Source:    source,
		Note:      note,
	})
	if err != nil {
		return false, fmt.Errorf("failed to append history: %w", err)
	}
	if !inserted {
		return false, nil
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, to); err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = to
	return true, nil
}

var statusEventTypes = map[models.OrderStatus]string{
	models.OrderStatusDraft:     models.EventTypeOrderCreated,
	models.OrderStatusConfirmed: models.EventTypeOrderConfirmed,
	models.OrderStatusShipped:   models.EventTypeOrderShipped,
	models.OrderStatusDelivered: models.EventTypeOrderDelivered,
	models.OrderStatusCancelled: models.EventTypeOrderCancelled,
}

func orderNotification(eventType string, order *models.Order, old models.OrderStatus, source, note string) *models.Notification {
	n := &models.Notification{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserID:        order.UserID,
		OldStatus:     old,
		NewStatus:     order.Status,
		Total:         order.Total,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		Source:        source,
		Note:          note,
	}
	n.EventType = eventType
	return n
}

// OrderView is an order with its lines, history and latest payment attempt.
type OrderView struct {
	Order   *models.Order          `json:"order"`
	Lines   []models.OrderLine     `json:"lines"`
	History []models.StatusHistory `json:"history"`
	Payment *models.PaymentIntent  `json:"payment,omitempty"`
}

// OrderService serves order reads and operator actions.
type OrderService struct {
	repo      store.Repository
	inventory *InventoryClient
	notifier  Notifier
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, inventory *InventoryClient, notifier Notifier) *OrderService {
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// GetOrder returns the order if it belongs to userID.
func (s *OrderService) GetOrder(ctx context.Context, userID int64, number string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.String("order_number", number))
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", number, store.ErrNotFound)
	}
	return s.view(ctx, order)
}

func (s *OrderService) view(ctx context.Context, order *models.Order) (*OrderView, error) {
	lines, err := s.repo.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.GetOrderHistory(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	intent, err := s.repo.GetLatestIntent(ctx, order.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &OrderView{Order: order, Lines: lines, History: history, Payment: intent}, nil
}

// Ship marks a confirmed order as shipped.
func (s *OrderService) Ship(ctx context.Context, number, note string) (*models.Order, error) {
	return s.operatorTransition(ctx, number, note, func(models.OrderStatus) models.OrderEvent {
		return models.EventShip
	})
}

// Deliver marks a shipped order as delivered.
func (s *OrderService) Deliver(ctx context.Context, number, note string) (*models.Order, error) {
	return s.operatorTransition(ctx, number, note, func(models.OrderStatus) models.OrderEvent {
		return models.EventDeliver
	})
}

// Cancel cancels a draft (abandoned checkout) or a confirmed order.
func (s *OrderService) Cancel(ctx context.Context, number, note string) (*models.Order, error) {
	return s.operatorTransition(ctx, number, note, func(status models.OrderStatus) models.OrderEvent {
		if status == models.OrderStatusDraft {
			return models.EventStaleOperatorCancel
		}
		return models.EventOperatorCancel
	})
}

func (s *OrderService) operatorTransition(ctx context.Context, number, note string, eventFor func(models.OrderStatus) models.OrderEvent) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.operatorTransition", attribute.String("order_number", number))
	defer span.End()

	var (
		order *models.Order
		old   models.OrderStatus
		lines []models.OrderLine
	)
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, number)
		if err != nil {
			return err
		}
		old = order.Status
		changed, err := applyTransition(ctx, tx, order, eventFor(order.Status), models.SourceOperator, note)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: %s already reached", models.ErrInvalidTransition, order.Status)
		}
		if old == models.OrderStatusDraft {
			lines, err = tx.GetOrderLines(ctx, order.ID)
		}
		return err
	})
	if err != nil {
		util.SpanError(span, err)
		if errors.Is(err, models.ErrInvalidTransition) {
			s.logger.Warn("Operator transition rejected",
				zap.String("order_number", number),
				zap.Error(err))
		}
		return nil, err
	}

	if order.Status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.WithLabelValues("operator").Inc()
		if old == models.OrderStatusDraft {
			s.inventory.Release(ctx, lines)
		}
	}

	s.logger.Info("Order transitioned by operator",
		zap.String("order_number", number),
		zap.String("old_status", string(old)),
		zap.String("new_status", string(order.Status)))
	s.notifier.Emit(ctx, orderNotification(statusEventTypes[order.Status], order, old, models.SourceOperator, note))
	return order, nil
}
