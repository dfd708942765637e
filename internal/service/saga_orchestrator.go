package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AddressChoice selects where a checkout ships to.
type AddressChoice string

const (
	AddressDefault AddressChoice = "default"
	AddressNew     AddressChoice = "new"
)

// CheckoutRequest is one checkout submission.
type CheckoutRequest struct {
	UserID         int64
	Method         models.PaymentMethod
	AddressChoice  AddressChoice
	NewAddress     *AddressInput
	IdempotencyKey string
}

// NextActionKind tells the storefront what to do after checkout.
type NextActionKind string

const (
	NextActionRedirect NextActionKind = "redirect"
	NextActionDone     NextActionKind = "done"
	// NextActionPending means payment initiation for a replayed order has not
	// produced a redirect yet.
	NextActionPending NextActionKind = "pending"
)

type NextAction struct {
	Kind NextActionKind `json:"kind"`
	URL  string         `json:"url,omitempty"`
}

// CheckoutResult is the order created (or replayed) by a checkout.
type CheckoutResult struct {
	Order    *models.Order      `json:"order"`
	Lines    []models.OrderLine `json:"lines"`
	Next     NextAction         `json:"next_action"`
	Replayed bool               `json:"replayed"`
}

// CheckoutOrchestrator validates a cart, materializes the order and starts payment.
type CheckoutOrchestrator struct {
	repo      store.Repository
	carts     *CartService
	registry  *PaymentMethodRegistry
	inventory *InventoryClient
	notifier  Notifier
	currency  string
	logger    *zap.Logger

	newOrderNumber func() string
}

// NewCheckoutOrchestrator creates a new checkout orchestrator
func NewCheckoutOrchestrator(
	repo store.Repository,
	carts *CartService,
	registry *PaymentMethodRegistry,
	inventory *InventoryClient,
	notifier Notifier,
	currency string,
) *CheckoutOrchestrator {
	return &CheckoutOrchestrator{
		repo:           repo,
		carts:          carts,
		registry:       registry,
		inventory:      inventory,
		notifier:       notifier,
		currency:       currency,
		logger:         util.GetLogger(),
		newOrderNumber: newOrderNumber,
	}
}

func newOrderNumber() string {
	return fmt.Sprintf("SG-%s-%s", time.Now().UTC().Format("060102"), strings.ToUpper(uuid.New().String()[:8]))
}

// Checkout runs one checkout. Calls repeated with the same idempotency key
// return the same open order and next action.
func (o *CheckoutOrchestrator) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.Checkout",
		attribute.Int64("user_id", req.UserID),
		attribute.String("method", string(req.Method)))
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := o.findOpen(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return o.replay(ctx, existing)
	}

	result, err := o.checkout(ctx, req)
	if err != nil {
		util.SpanError(span, err)
		o.logFailure(req, err)
		util.CheckoutsTotal.WithLabelValues(string(req.Method), outcomeLabel(err)).Inc()
		return nil, err
	}
	util.CheckoutsTotal.WithLabelValues(string(req.Method), string(result.Next.Kind)).Inc()
	return result, nil
}

func (o *CheckoutOrchestrator) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	snap, err := o.carts.Snapshot(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if snap.Empty() && len(snap.Unavailable) == 0 {
		return nil, ErrCartEmpty
	}
	if len(snap.Unavailable) > 0 {
		return nil, fmt.Errorf("%w: unavailable products %s", ErrStockRefused, strings.Join(snap.Unavailable, ", "))
	}

	shipTo, newAddr, err := o.resolveAddress(ctx, req)
	if err != nil {
		return nil, err
	}

	backend, err := o.registry.Lookup(req.Method, snap.Class)
	if err != nil {
		return nil, err
	}

	lines := make([]models.OrderLine, len(snap.Lines))
	for i, item := range snap.Lines {
		lines[i] = models.OrderLine{
			ProductKey:   item.ProductKey,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			ProductClass: item.Class,
		}
	}

	if err := o.inventory.Reserve(ctx, lines); err != nil {
		return nil, err
	}

	order := &models.Order{
		Number:          o.newOrderNumber(),
		UserID:          req.UserID,
		Status:          models.OrderStatusDraft,
		Total:           snap.Total,
		Currency:        o.currency,
		PaymentMethod:   req.Method,
		ProductClass:    snap.Class,
		ShippingAddress: shipTo,
		IdempotencyKey:  req.IdempotencyKey,
	}

	var (
		replayed *models.Order
		draft    models.Order
	)
	err = o.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, req.UserID); err != nil {
			return err
		}
		existing, err := tx.FindOpenOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			replayed = existing
			return nil
		}

		if newAddr != nil {
			if err := insertAddress(ctx, tx, newAddr); err != nil {
				return fmt.Errorf("failed to save address: %w", err)
			}
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		for i := range lines {
			lines[i].OrderID = order.ID
		}
		if err := tx.CreateOrderLines(ctx, lines); err != nil {
			return fmt.Errorf("failed to create order lines: %w", err)
		}
		if _, err := tx.AppendHistory(ctx, &models.StatusHistory{
			OrderID:   order.ID,
			NewStatus: models.OrderStatusDraft,
			Source:    models.SourceOrchestrator,
			Note:      "checkout",
		}); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		draft = *order

		if backend.Offline() {
			if _, err := applyTransition(ctx, tx, order, models.EventCashOnDeliverySelected, models.SourceOrchestrator, "cash on delivery"); err != nil {
				return err
			}
			if _, err := tx.ClearCart(ctx, req.UserID); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		}
		return nil
	})
	if err != nil || replayed != nil {
		o.inventory.Release(ctx, lines)
		if err != nil {
			return nil, err
		}
		return o.replay(ctx, replayed)
	}

	o.logger.Info("Order created",
		zap.String("order_number", order.Number),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.String("method", string(order.PaymentMethod)),
		zap.String("product_class", string(order.ProductClass)))
	o.notifier.Emit(ctx, orderNotification(models.EventTypeOrderCreated, &draft, "", models.SourceOrchestrator, "checkout"))

	if backend.Offline() {
		o.inventory.Commit(ctx, lines)
		util.OrdersConfirmedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
		o.notifier.Emit(ctx, orderNotification(models.EventTypeOrderConfirmed, order, models.OrderStatusDraft, models.SourceOrchestrator, "cash on delivery"))
		return &CheckoutResult{Order: order, Lines: lines, Next: NextAction{Kind: NextActionDone}}, nil
	}

	initiation, err := backend.Initiate(ctx, order)
	if err != nil {
		o.cancelAfterInitiationFailure(ctx, order, lines, err)
		return nil, fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, err)
	}

	intent := &models.PaymentIntent{
		OrderID:     order.ID,
		Provider:    order.PaymentMethod,
		ExternalRef: initiation.ExternalRef,
		NotifToken:  initiation.NotifToken,
		RedirectURL: initiation.RedirectURL,
		LastStatus:  models.PaymentPending,
	}
	err = o.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetExternalPaymentRef(ctx, order.ID, initiation.ExternalRef); err != nil {
			return err
		}
		return tx.CreatePaymentIntent(ctx, intent)
	})
	if err != nil {
		o.logger.Error("Payment initiated but intent not stored",
			zap.String("order_number", order.Number),
			zap.String("external_ref", initiation.ExternalRef),
			zap.Error(err),
			zap.Stack("stack"))
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}
	order.ExternalPaymentRef = &initiation.ExternalRef

	o.notifier.Emit(ctx, orderNotification(models.EventTypePaymentInitiated, order, order.Status, models.SourceOrchestrator, ""))
	return &CheckoutResult{
		Order: order,
		Lines: lines,
		Next:  NextAction{Kind: NextActionRedirect, URL: initiation.RedirectURL},
	}, nil
}

// cancelAfterInitiationFailure cancels the draft in its own transaction and
// releases its stock. The cart is left untouched.
func (o *CheckoutOrchestrator) cancelAfterInitiationFailure(ctx context.Context, order *models.Order, lines []models.OrderLine, cause error) {
	note := cause.Error()
	if len(note) > 200 {
		note = note[:200]
	}

	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, order.Number)
		if err != nil {
			return err
		}
		if _, err := applyTransition(ctx, tx, locked, models.EventPaymentFailed, models.SourceOrchestrator, note); err != nil {
			return err
		}
		*order = *locked
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to cancel order after initiation failure",
			zap.String("order_number", order.Number),
			zap.Error(err))
		return
	}

	o.inventory.Release(ctx, lines)
	util.OrdersCancelledTotal.WithLabelValues("initiation_failed").Inc()
	o.logger.Warn("Payment initiation failed, order cancelled",
		zap.String("order_number", order.Number),
		zap.String("method", string(order.PaymentMethod)),
		zap.Error(cause))
	o.notifier.Emit(ctx, orderNotification(models.EventTypeOrderCancelled, order, models.OrderStatusDraft, models.SourceOrchestrator, note))
}

func (o *CheckoutOrchestrator) findOpen(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var existing *models.Order
	err := o.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		var err error
		existing, err = tx.FindOpenOrderByIdempotencyKey(ctx, userID, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return existing, nil
}

func (o *CheckoutOrchestrator) replay(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	o.logger.Info("Duplicate checkout detected",
		zap.String("order_number", order.Number),
		zap.String("status", string(order.Status)))

	lines, err := o.repo.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	next := NextAction{Kind: NextActionDone}
	if order.Status == models.OrderStatusDraft {
		next = NextAction{Kind: NextActionPending}
		intent, err := o.repo.GetLatestIntent(ctx, order.ID)
		switch {
		case err == nil && intent.LastStatus == models.PaymentPending && intent.RedirectURL != "":
			next = NextAction{Kind: NextActionRedirect, URL: intent.RedirectURL}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	return &CheckoutResult{Order: order, Lines: lines, Next: next, Replayed: true}, nil
}

func (o *CheckoutOrchestrator) resolveAddress(ctx context.Context, req CheckoutRequest) (models.AddressSnapshot, *models.ShippingAddress, error) {
	choice := req.AddressChoice
	if choice == "" {
		choice = AddressDefault
		if req.NewAddress != nil {
			choice = AddressNew
		}
	}

	switch choice {
	case AddressDefault:
		addr, err := o.repo.GetDefaultAddress(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return models.AddressSnapshot{}, nil, fmt.Errorf("%w: no default address", ErrAddressRequired)
		}
		if err != nil {
			return models.AddressSnapshot{}, nil, err
		}
		return addr.Snapshot(), nil, nil

	case AddressNew:
		if req.NewAddress == nil {
			return models.AddressSnapshot{}, nil, ErrAddressRequired
		}
		if err := req.NewAddress.Validate(); err != nil {
			return models.AddressSnapshot{}, nil, err
		}
		addr := req.NewAddress.toModel(req.UserID)
		return addr.Snapshot(), addr, nil
	}
	return models.AddressSnapshot{}, nil, fmt.Errorf("%w: unknown address choice %q", ErrAddressRequired, choice)
}

func (o *CheckoutOrchestrator) logFailure(req CheckoutRequest, err error) {
	fields := []zap.Field{
		zap.Int64("user_id", req.UserID),
		zap.String("method", string(req.Method)),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrCartEmpty), errors.Is(err, ErrAddressRequired), errors.Is(err, ErrAddressInvalid),
		errors.Is(err, ErrMethodUnavailable), errors.Is(err, ErrStockRefused):
		o.logger.Info("Checkout rejected", fields...)
	case errors.Is(err, ErrPaymentInitiationFailed):
		// logged with the provider detail when the order was cancelled
	default:
		o.logger.Error("Checkout failed", append(fields, zap.Stack("stack"))...)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrCartEmpty):
		return "cart_empty"
	case errors.Is(err, ErrAddressRequired), errors.Is(err, ErrAddressInvalid):
		return "address"
	case errors.Is(err, ErrMethodUnavailable):
		return "method_unavailable"
	case errors.Is(err, ErrStockRefused):
		return "stock_refused"
	case errors.Is(err, ErrPaymentInitiationFailed):
		return "initiation_failed"
	}
	return "error"
}
