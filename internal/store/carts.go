package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sugu-checkout/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateCart returns the user's cart, creating it on first use
func (s *queries) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, s.q, &cart, `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart for user %d: %w", userID, err)
	}
	return &cart, nil
}

// GetCartLines retrieves the lines of the user's cart
func (s *queries) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := sqlx.SelectContext(ctx, s.q, &lines, `
		SELECT l.id, l.cart_id, l.product_key, l.quantity, l.created_at, l.updated_at
		FROM cart_lines l
		JOIN carts c ON c.id = l.cart_id
		WHERE c.user_id = $1
		ORDER BY l.id`, userID)
	return lines, err
}

// GetCartLine retrieves a single cart line
func (s *queries) GetCartLine(ctx context.Context, cartID int64, productKey string) (*models.CartLine, error) {
	var line models.CartLine
	err := sqlx.GetContext(ctx, s.q, &line, `
		SELECT id, cart_id, product_key, quantity, created_at, updated_at
		FROM cart_lines WHERE cart_id = $1 AND product_key = $2`, cartID, productKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// SaveCartLine sets the quantity of a line, inserting it when missing
func (s *queries) SaveCartLine(ctx context.Context, cartID int64, productKey string, qty models.Quantity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cart_lines (cart_id, product_key, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_key)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		cartID, productKey, qty)
	if err != nil {
		return fmt.Errorf("failed to save cart line: %w", err)
	}
	return nil
}

// DeleteCartLine removes a product from a cart
func (s *queries) DeleteCartLine(ctx context.Context, cartID int64, productKey string) error {
	_, err := s.q.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE cart_id = $1 AND product_key = $2", cartID, productKey)
	return err
}

// ClearCart removes every line of the user's cart
func (s *queries) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", err)
	}
	return res.RowsAffected()
}
