package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"
	"sugu-checkout/internal/wallet"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Callback entry points, used as the history note and metric label.
const (
	CallbackReturn  = "return"
	CallbackCancel  = "cancel"
	CallbackWebhook = "webhook"
)

// CallbackResult describes what a payment callback did to its order.
type CallbackResult struct {
	Order   *models.Order
	Outcome models.PaymentOutcome
	// Changed is true only for the callback that performed the transition.
	Changed bool
	// Unknown is set when the callback named an order that does not exist.
	Unknown bool
}

type callback struct {
	provider    models.PaymentMethod
	source      string
	number      string
	externalRef string
	payloadHash string
	verify      func(intent *models.PaymentIntent) error
	// customerCancel turns a non-successful outcome into a failure.
	customerCancel bool
}

// PaymentService reconciles provider callbacks against the order FSM.
// Provider statuses are always re-queried; callback contents only say which
// order to look at.
type PaymentService struct {
	repo      store.Repository
	registry  *PaymentMethodRegistry
	inventory *InventoryClient
	card      CardGateway
	notifier  Notifier
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo store.Repository,
	registry *PaymentMethodRegistry,
	inventory *InventoryClient,
	card CardGateway,
	notifier Notifier,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		registry:  registry,
		inventory: inventory,
		card:      card,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// HandleWalletReturn handles the customer coming back from the wallet page.
func (s *PaymentService) HandleWalletReturn(ctx context.Context, number, payToken string) (*CallbackResult, error) {
	return s.reconcile(ctx, callback{
		provider:    models.PaymentMethodMobileWallet,
		source:      CallbackReturn,
		number:      number,
		externalRef: payToken,
	})
}

// HandleWalletCancel handles the customer abandoning the wallet page. The
// order is cancelled unless the provider reports the payment as successful.
func (s *PaymentService) HandleWalletCancel(ctx context.Context, number string) (*CallbackResult, error) {
	return s.reconcile(ctx, callback{
		provider:       models.PaymentMethodMobileWallet,
		source:         CallbackCancel,
		number:         number,
		customerCancel: true,
	})
}

// HandleWalletNotification handles the provider webhook posted to notif_url.
func (s *PaymentService) HandleWalletNotification(ctx context.Context, number string, raw []byte) (*CallbackResult, error) {
	n, err := wallet.ParseNotification(raw)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues(string(models.PaymentMethodMobileWallet), CallbackWebhook, "invalid_signature").Inc()
		s.logger.Error("Malformed wallet notification", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if number == "" {
		number = n.OrderID
	}

	return s.reconcile(ctx, callback{
		provider:    models.PaymentMethodMobileWallet,
		source:      CallbackWebhook,
		number:      number,
		payloadHash: wallet.PayloadHash(raw),
		verify: func(intent *models.PaymentIntent) error {
			if !wallet.VerifyNotifToken(intent.NotifToken, n.NotifToken) {
				return errors.New("notif_token mismatch")
			}
			return nil
		},
	})
}

// HandleCardWebhook handles a signed card gateway event.
func (s *PaymentService) HandleCardWebhook(ctx context.Context, raw []byte, header string) (*CallbackResult, error) {
	if s.card == nil {
		return nil, fmt.Errorf("%w: card", ErrMethodUnavailable)
	}

	ev, err := s.card.VerifyWebhook(raw, header)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues(string(models.PaymentMethodCard), CallbackWebhook, "invalid_signature").Inc()
		s.logger.Error("Card webhook rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if ev.OrderRef == "" {
		s.logger.Info("Ignoring card event without order reference",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type))
		return &CallbackResult{Outcome: ev.Outcome}, nil
	}

	return s.reconcile(ctx, callback{
		provider:    models.PaymentMethodCard,
		source:      CallbackWebhook,
		number:      ev.OrderRef,
		externalRef: ev.SessionID,
		payloadHash: wallet.PayloadHash(raw),
	})
}

// HandleCardReturn handles the customer coming back from the hosted card page.
func (s *PaymentService) HandleCardReturn(ctx context.Context, number string) (*CallbackResult, error) {
	return s.reconcile(ctx, callback{
		provider: models.PaymentMethodCard,
		source:   CallbackReturn,
		number:   number,
	})
}

func (s *PaymentService) reconcile(ctx context.Context, cb callback) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.reconcile",
		attribute.String("order_number", cb.number),
		attribute.String("provider", string(cb.provider)),
		attribute.String("source", cb.source))
	defer span.End()

	result, label, err := s.doReconcile(ctx, cb)
	util.PaymentCallbacksTotal.WithLabelValues(string(cb.provider), cb.source, label).Inc()
	if err != nil {
		util.SpanError(span, err)
	}
	return result, err
}

func (s *PaymentService) doReconcile(ctx context.Context, cb callback) (*CallbackResult, string, error) {
	logger := s.logger.With(
		zap.String("order_number", cb.number),
		zap.String("provider", string(cb.provider)),
		zap.String("source", cb.source))

	order, err := s.repo.GetOrderByNumber(ctx, cb.number)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Payment callback for unknown order")
		return &CallbackResult{Unknown: true}, "unknown", nil
	}
	if err != nil {
		return nil, "error", err
	}

	intent, err := s.repo.GetLatestIntent(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Payment callback for order without payment attempt",
			zap.String("status", string(order.Status)))
		return &CallbackResult{Order: order}, "no_intent", nil
	}
	if err != nil {
		return nil, "error", err
	}
	if intent.Provider != cb.provider {
		logger.Warn("Payment callback from another provider",
			zap.String("intent_provider", string(intent.Provider)))
		return &CallbackResult{Order: order}, "provider_mismatch", nil
	}

	if cb.verify != nil {
		if err := cb.verify(intent); err != nil {
			logger.Error("Payment callback failed verification", zap.Error(err))
			return nil, "invalid_signature", fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
		}
	}
	if cb.externalRef != "" && cb.externalRef != intent.ExternalRef {
		logger.Warn("Callback reference differs from stored payment reference",
			zap.String("callback_ref", util.MaskSecret(cb.externalRef)),
			zap.String("stored_ref", util.MaskSecret(intent.ExternalRef)))
	}

	backend, ok := s.registry.Backend(cb.provider)
	if !ok {
		return nil, "error", fmt.Errorf("%w: %s", ErrMethodUnavailable, cb.provider)
	}
	outcome, err := backend.Status(ctx, intent.ExternalRef)
	if err != nil {
		if cb.customerCancel {
			logger.Warn("Status query failed on cancel, order left unchanged", zap.Error(err))
			return &CallbackResult{Order: order, Outcome: models.PaymentPending}, "status_error", nil
		}
		logger.Warn("Authoritative status query failed", zap.Error(err))
		return nil, "status_error", err
	}

	note := cb.source
	if cb.customerCancel && outcome != models.PaymentSuccess {
		outcome = models.PaymentFailed
		note = "customer cancelled"
	}

	event, terminal := models.EventForOutcome(outcome)
	if !terminal {
		logger.Info("Payment still pending")
		return &CallbackResult{Order: order, Outcome: outcome}, "pending", nil
	}
	target, err := models.Transition(models.OrderStatusDraft, event)
	if err != nil {
		return nil, "error", err
	}

	var (
		changed bool
		lines   []models.OrderLine
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, cb.number)
		if err != nil {
			return err
		}
		order = locked

		current, err := tx.GetLatestIntent(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.ID == intent.ID && current.LastStatus == outcome {
			return nil
		}

		if order.Status != models.OrderStatusDraft {
			if order.Status != target {
				return fmt.Errorf("%w: %s payment for %s order", models.ErrInvalidTransition, outcome, order.Status)
			}
			return tx.UpdatePaymentIntent(ctx, intent.ID, outcome, cb.payloadHash)
		}

		if changed, err = applyTransition(ctx, tx, order, event, models.SourceReconciler, note); err != nil {
			return err
		}
		if err := tx.UpdatePaymentIntent(ctx, intent.ID, outcome, cb.payloadHash); err != nil {
			return fmt.Errorf("failed to update payment intent: %w", err)
		}
		if !changed {
			return nil
		}
		if order.Status == models.OrderStatusConfirmed {
			if err := tx.LockUser(ctx, order.UserID); err != nil {
				return err
			}
			if _, err := tx.ClearCart(ctx, order.UserID); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		}
		lines, err = tx.GetOrderLines(ctx, order.ID)
		return err
	})
	if errors.Is(err, models.ErrInvalidTransition) {
		logger.Warn("Payment callback rejected by order state", zap.Error(err))
		return nil, "invalid_transition", err
	}
	if err != nil {
		logger.Error("Payment reconciliation failed", zap.Error(err), zap.Stack("stack"))
		return nil, "error", err
	}

	result := &CallbackResult{Order: order, Outcome: outcome, Changed: changed}
	if !changed {
		logger.Info("Duplicate payment callback ignored",
			zap.String("status", string(order.Status)),
			zap.String("outcome", string(outcome)))
		return result, "noop", nil
	}

	logger.Info("Order payment reconciled",
		zap.String("outcome", string(outcome)),
		zap.String("status", string(order.Status)))

	switch order.Status {
	case models.OrderStatusConfirmed:
		s.inventory.Commit(ctx, lines)
		util.OrdersConfirmedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
		s.notifier.Emit(ctx, orderNotification(models.EventTypeOrderConfirmed, order, models.OrderStatusDraft, models.SourceReconciler, note))
	case models.OrderStatusCancelled:
		s.inventory.Release(ctx, lines)
		util.OrdersCancelledTotal.WithLabelValues("payment_" + strings.ToLower(string(outcome))).Inc()
		s.notifier.Emit(ctx, orderNotification(models.EventTypeOrderCancelled, order, models.OrderStatusDraft, models.SourceReconciler, note))
	}
	return result, "changed", nil
}
