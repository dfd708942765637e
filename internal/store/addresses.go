package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sugu-checkout/internal/models"

	"github.com/jmoiron/sqlx"
)

const addressColumns = "id, user_id, full_name, phone, quarter, street, city, extra, is_default, created_at"

// ListAddresses retrieves a user's addresses, default first
func (s *queries) ListAddresses(ctx context.Context, userID int64) ([]models.ShippingAddress, error) {
	var addrs []models.ShippingAddress
	err := sqlx.SelectContext(ctx, s.q, &addrs,
		"SELECT "+addressColumns+" FROM shipping_addresses WHERE user_id = $1 ORDER BY is_default DESC, id",
		userID)
	return addrs, err
}

// GetAddress retrieves one address owned by the user
func (s *queries) GetAddress(ctx context.Context, userID, addressID int64) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	err := sqlx.GetContext(ctx, s.q, &addr,
		"SELECT "+addressColumns+" FROM shipping_addresses WHERE id = $1 AND user_id = $2",
		addressID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetDefaultAddress retrieves the user's default address
func (s *queries) GetDefaultAddress(ctx context.Context, userID int64) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	err := sqlx.GetContext(ctx, s.q, &addr,
		"SELECT "+addressColumns+" FROM shipping_addresses WHERE user_id = $1 AND is_default",
		userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// InsertAddress stores a new address
func (s *queries) InsertAddress(ctx context.Context, addr *models.ShippingAddress) error {
	return sqlx.GetContext(ctx, s.q, addr, `
		INSERT INTO shipping_addresses (user_id, full_name, phone, quarter, street, city, extra, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+addressColumns,
		addr.UserID, addr.FullName, addr.Phone, addr.Quarter, addr.Street, addr.City, addr.Extra, addr.IsDefault)
}

// ClearDefaultAddress unsets the default flag on all of the user's addresses
func (s *queries) ClearDefaultAddress(ctx context.Context, userID int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE shipping_addresses SET is_default = FALSE WHERE user_id = $1 AND is_default", userID)
	return err
}

// SetDefaultAddress makes one address the default, clearing its siblings
func (s *queries) SetDefaultAddress(ctx context.Context, userID, addressID int64) error {
	if err := s.ClearDefaultAddress(ctx, userID); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE shipping_addresses SET is_default = TRUE WHERE id = $1 AND user_id = $2",
		addressID, userID)
	if err != nil {
		return fmt.Errorf("failed to set default address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
