package service

import (
	"context"
	"fmt"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/redisclient"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"

	"go.uber.org/zap"
)

// InventoryClient reserves per-line stock in Redis, keyed by product class.
type InventoryClient struct {
	repo   store.Repository
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(repo store.Repository, redis *redisclient.Client) *InventoryClient {
	return &InventoryClient{
		repo:   repo,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Reserve reserves every line or none of them.
func (ic *InventoryClient) Reserve(ctx context.Context, lines []models.OrderLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for i, line := range lines {
		ok, err := ic.redis.ReserveStock(ctx, string(line.ProductClass), line.ProductKey, int64(line.Quantity))
		if err != nil {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
			ic.Release(ctx, lines[:i])
			util.SpanError(span, err)
			return fmt.Errorf("failed to reserve stock for product %s: %w", line.ProductKey, err)
		}
		if !ok {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			ic.Release(ctx, lines[:i])
			return fmt.Errorf("%w: insufficient stock for product %s", ErrStockRefused, line.ProductKey)
		}
	}
	return nil
}

// Release returns reserved stock (compensation)
func (ic *InventoryClient) Release(ctx context.Context, lines []models.OrderLine) {
	for _, line := range lines {
		if err := ic.redis.ReleaseStock(ctx, string(line.ProductClass), line.ProductKey, int64(line.Quantity)); err != nil {
			ic.logger.Error("Failed to release stock",
				zap.String("product_key", line.ProductKey),
				zap.Int64("order_id", line.OrderID),
				zap.Error(err))
		}
	}
}

// Commit makes reservations final once the order is confirmed.
func (ic *InventoryClient) Commit(ctx context.Context, lines []models.OrderLine) {
	for _, line := range lines {
		if err := ic.redis.CommitStock(ctx, string(line.ProductClass), line.ProductKey, int64(line.Quantity)); err != nil {
			ic.logger.Error("Failed to commit stock",
				zap.String("product_key", line.ProductKey),
				zap.Int64("order_id", line.OrderID),
				zap.Error(err))
		}
	}
}

// SyncInventory seeds Redis from catalog stock for products not tracked yet.
func (ic *InventoryClient) SyncInventory(ctx context.Context) error {
	ic.logger.Info("Starting inventory sync to Redis")

	products, err := ic.repo.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	seeded := 0
	for _, product := range products {
		if !product.Active {
			continue
		}
		created, err := ic.redis.SeedInventory(ctx, string(product.Class()), product.Key, int64(product.Stock))
		if err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.String("product_key", product.Key),
				zap.Error(err))
			continue
		}
		if created {
			seeded++
		}
	}

	ic.logger.Info("Inventory sync completed",
		zap.Int("products", len(products)),
		zap.Int("seeded", seeded))
	return nil
}
