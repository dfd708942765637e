package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sugu-checkout/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const productColumns = "product_key, name, unit_price, is_salam, active, shipping_methods, stock"

// GetProduct retrieves a catalog product by key
func (s *queries) GetProduct(ctx context.Context, key string) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, s.q, &product,
		"SELECT "+productColumns+" FROM products WHERE product_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByKeys retrieves multiple products by key
func (s *queries) GetProductsByKeys(ctx context.Context, keys []string) ([]models.Product, error) {
	if len(keys) == 0 {
		return []models.Product{}, nil
	}
	var products []models.Product
	err := sqlx.SelectContext(ctx, s.q, &products,
		"SELECT "+productColumns+" FROM products WHERE product_key = ANY($1)", pq.Array(keys))
	return products, err
}

// ListProducts retrieves all catalog products
func (s *queries) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := sqlx.SelectContext(ctx, s.q, &products,
		"SELECT "+productColumns+" FROM products ORDER BY product_key")
	return products, err
}
