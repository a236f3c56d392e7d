package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/store"
	"techstore/internal/util"

	"go.uber.org/zap"
)

// StockKeeper reserves and releases catalog stock for whole orders.
type StockKeeper struct {
	products store.ProductRepository
	logger   *zap.Logger
}

// NewStockKeeper creates a new stock keeper
func NewStockKeeper(products store.ProductRepository) *StockKeeper {
	return &StockKeeper{
		products: products,
		logger:   util.GetLogger(),
	}
}

// Reserve takes every line out of stock or none of them. Lines already
// reserved are released again when a later line fails.
func (k *StockKeeper) Reserve(ctx context.Context, orderRef string, items []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "StockKeeper.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for i, item := range items {
		err := k.products.ReserveStock(ctx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}

		k.Release(ctx, orderRef, items[:i])
		util.RecordError(span, err)

		if errors.Is(err, apperr.ErrInsufficientStock) {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return apperr.InsufficientStock("insufficient stock for %s", item.Name)
		}
		if errors.Is(err, apperr.ErrNotFound) {
			util.StockReservationsFailed.WithLabelValues("not_found").Inc()
			return apperr.NotFound("product %s not found", item.ProductID)
		}
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reserve stock for product %s: %w", item.ProductID, err)
	}

	return nil
}

// Release returns the units of items to the catalog. Failures are logged.
func (k *StockKeeper) Release(ctx context.Context, orderRef string, items []models.OrderItem) {
	ctx, span := util.StartSpan(ctx, "StockKeeper.Release")
	defer span.End()

	for _, item := range items {
		if err := k.products.ReleaseStock(ctx, item.ProductID, item.Quantity); err != nil {
			util.RecordError(span, err)
			k.logger.Error("Failed to release stock",
				zap.String("order", orderRef),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
}
