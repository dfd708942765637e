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

// CartService manages per-user carts. Mutations are serialized per user.
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// CartItem is one priced cart line.
type CartItem struct {
	ProductKey string              `json:"product_key"`
	Name       string              `json:"name"`
	UnitPrice  models.Money        `json:"unit_price"`
	Quantity   models.Quantity     `json:"quantity"`
	LineTotal  models.Money        `json:"line_total"`
	Class      models.ProductClass `json:"product_class"`
}

// CartSnapshot is the cart as seen at one instant, totals recomputed.
type CartSnapshot struct {
	Lines []CartItem          `json:"lines"`
	Total models.Money        `json:"total"`
	Class models.ProductClass `json:"product_class"`
	// Unavailable lists cart products that are missing or inactive.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Empty reports whether the snapshot has no purchasable line.
func (s *CartSnapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Add creates a line or increments an existing one.
func (s *CartService) Add(ctx context.Context, userID int64, productKey string, qty models.Quantity) error {
	ctx, span := util.StartSpan(ctx, "CartService.Add", attribute.String("product_key", productKey))
	defer span.End()

	if qty < models.MinQuantity {
		return fmt.Errorf("%w: quantity must be at least 0.001", models.ErrValidation)
	}

	product, err := s.repo.GetProduct(ctx, productKey)
	if err != nil {
		return err
	}
	if !product.Active {
		return fmt.Errorf("%w: product %s is not available", ErrStockRefused, productKey)
	}

	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}

		newQty := qty
		line, err := tx.GetCartLine(ctx, cart.ID, productKey)
		switch {
		case err == nil:
			if newQty, err = line.Quantity.Add(qty); err != nil {
				return err
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return tx.SaveCartLine(ctx, cart.ID, productKey, newQty)
	})
}

// SetQuantity replaces a line quantity. Zero removes the line.
func (s *CartService) SetQuantity(ctx context.Context, userID int64, productKey string, qty models.Quantity) error {
	if qty == 0 {
		return s.Remove(ctx, userID, productKey)
	}
	if qty < models.MinQuantity {
		return fmt.Errorf("%w: quantity must be at least 0.001", models.ErrValidation)
	}

	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.GetCartLine(ctx, cart.ID, productKey); err != nil {
			return err
		}
		return tx.SaveCartLine(ctx, cart.ID, productKey, qty)
	})
}

// Remove deletes a line. Removing a missing line is not an error.
func (s *CartService) Remove(ctx context.Context, userID int64, productKey string) error {
	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}
		return tx.DeleteCartLine(ctx, cart.ID, productKey)
	})
}

// Clear empties the user's cart.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	return s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		_, err := tx.ClearCart(ctx, userID)
		return err
	})
}

// Snapshot prices the cart from the current catalog.
func (s *CartService) Snapshot(ctx context.Context, userID int64) (*CartSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Snapshot")
	defer span.End()

	lines, err := s.repo.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	snap := &CartSnapshot{Lines: []CartItem{}, Class: models.ProductClassClassic}
	if len(lines) == 0 {
		return snap, nil
	}

	keys := make([]string, len(lines))
	for i, l := range lines {
		keys[i] = l.ProductKey
	}
	products, err := s.repo.GetProductsByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byKey := make(map[string]*models.Product, len(products))
	for i := range products {
		byKey[products[i].Key] = &products[i]
	}

	classes := make([]models.ProductClass, 0, len(lines))
	for _, l := range lines {
		p, ok := byKey[l.ProductKey]
		if !ok || !p.Active {
			snap.Unavailable = append(snap.Unavailable, l.ProductKey)
			continue
		}
		lineTotal, err := p.UnitPrice.MulQty(l.Quantity)
		if err != nil {
			return nil, err
		}
		if snap.Total, err = snap.Total.Add(lineTotal); err != nil {
			return nil, err
		}
		snap.Lines = append(snap.Lines, CartItem{
			ProductKey: p.Key,
			Name:       p.Name,
			UnitPrice:  p.UnitPrice,
			Quantity:   l.Quantity,
			LineTotal:  lineTotal,
			Class:      p.Class(),
		})
		classes = append(classes, p.Class())
	}
	snap.Class = models.ClassOf(classes)
	return snap, nil
}
