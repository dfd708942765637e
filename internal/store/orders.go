package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sugu-checkout/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, order_number, user_id, status, total, currency, payment_method, product_class,
	shipping_address, external_payment_ref, idempotency_key, created_at, updated_at`

const intentColumns = `id, order_id, provider, external_ref, notif_token, redirect_url, last_status,
	raw_payload_hash, created_at, updated_at`

// CreateOrder creates a new order
func (s *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, status, total, currency, payment_method,
			product_class, shipping_address, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, s.q, order, query,
		order.Number, order.UserID, order.Status, order.Total, order.Currency, order.PaymentMethod,
		order.ProductClass, order.ShippingAddress, order.IdempotencyKey)
}

// GetOrderByNumber retrieves an order by its public number
func (s *queries) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order,
		"SELECT "+orderColumns+" FROM orders WHERE order_number = $1", number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder retrieves an order and holds its row lock until the transaction ends
func (s *queries) LockOrder(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order,
		"SELECT "+orderColumns+" FROM orders WHERE order_number = $1 FOR UPDATE", number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %s: %w", number, err)
	}
	return &order, nil
}

// FindOpenOrderByIdempotencyKey retrieves the user's non-terminal order for a key
func (s *queries) FindOpenOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order,
		"SELECT "+orderColumns+` FROM orders
		WHERE user_id = $1 AND idempotency_key = $2 AND status IN ('DRAFT', 'CONFIRMED', 'SHIPPED')`,
		userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *queries) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// SetExternalPaymentRef stores the provider reference of the current payment attempt
func (s *queries) SetExternalPaymentRef(ctx context.Context, orderID int64, ref string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE orders SET external_payment_ref = $1, updated_at = NOW() WHERE id = $2",
		ref, orderID)
	return err
}

// CreateOrderLines inserts the priced lines of an order
func (s *queries) CreateOrderLines(ctx context.Context, lines []models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_key, unit_price, quantity, product_class)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range lines {
		l := &lines[i]
		if err := sqlx.GetContext(ctx, s.q, &l.ID, query,
			l.OrderID, l.ProductKey, l.UnitPrice, l.Quantity, l.ProductClass); err != nil {
			return fmt.Errorf("failed to create order line %s: %w", l.ProductKey, err)
		}
	}
	return nil
}

// GetOrderLines retrieves all lines of an order
func (s *queries) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := sqlx.SelectContext(ctx, s.q, &lines, `
		SELECT id, order_id, product_key, unit_price, quantity, product_class
		FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	return lines, err
}

// AppendHistory records a transition. It reports false when the
// (order, new status) row already exists.
func (s *queries) AppendHistory(ctx context.Context, h *models.StatusHistory) (bool, error) {
	err := sqlx.GetContext(ctx, s.q, h, `
		INSERT INTO order_status_history (order_id, old_status, new_status, source, note)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, new_status) DO NOTHING
		RETURNING id, at`,
		h.OrderID, h.OldStatus, h.NewStatus, h.Source, h.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to append history: %w", err)
	}
	return true, nil
}

// GetOrderHistory retrieves the transitions of an order in order
func (s *queries) GetOrderHistory(ctx context.Context, orderID int64) ([]models.StatusHistory, error) {
	var rows []models.StatusHistory
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, order_id, old_status, new_status, at, source, note
		FROM order_status_history WHERE order_id = $1 ORDER BY id`, orderID)
	return rows, err
}

// CreatePaymentIntent creates a new payment intent
func (s *queries) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (order_id, provider, external_ref, notif_token, redirect_url, last_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, s.q, intent, query,
		intent.OrderID, intent.Provider, intent.ExternalRef, intent.NotifToken, intent.RedirectURL, intent.LastStatus)
}

// UpdatePaymentIntent records the latest provider status of an intent
func (s *queries) UpdatePaymentIntent(ctx context.Context, intentID int64, status models.PaymentOutcome, payloadHash string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE payment_intents
		SET last_status = $1,
			raw_payload_hash = COALESCE(NULLIF($2::text, ''), raw_payload_hash),
			updated_at = NOW()
		WHERE id = $3`,
		status, payloadHash, intentID)
	return err
}

// GetLatestIntent retrieves the most recent payment intent of an order
func (s *queries) GetLatestIntent(ctx context.Context, orderID int64) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := sqlx.GetContext(ctx, s.q, &intent,
		"SELECT "+intentColumns+" FROM payment_intents WHERE order_id = $1 ORDER BY id DESC LIMIT 1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ListDraftsOlderThan retrieves DRAFT orders created before cutoff, oldest first
func (s *queries) ListDraftsOlderThan(ctx context.Context, cutoff time.Time) ([]models.StaleDraft, error) {
	var drafts []models.StaleDraft
	err := sqlx.SelectContext(ctx, s.q, &drafts, `
		SELECT id, order_number, user_id, created_at, total
		FROM orders
		WHERE status = 'DRAFT' AND created_at < $1
		ORDER BY created_at`, cutoff)
	return drafts, err
}
