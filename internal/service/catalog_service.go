package service

import (
	"context"
	"fmt"
	"strings"

	"shop-service/internal/models"
	"shop-service/internal/redisclient"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CatalogService serves product reads and manages the inventory units behind
// each product.
type CatalogService struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(st *store.Store, redis *redisclient.Client) *CatalogService {
	return &CatalogService{
		store:  st,
		redis:  redis,
		logger: util.NamedLogger("catalog"),
	}
}

// ParsePayloadList splits a pasted multi-line credential dump into trimmed
// payloads. The second return value lists payloads repeated within the batch
// itself; any repeat rejects the whole batch.
func ParsePayloadList(raw string) ([]string, []string) {
	var (
		payloads []string
		dupes    []string
		seen     = make(map[string]bool)
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if seen[line] {
			dupes = append(dupes, line)
			continue
		}
		seen[line] = true
		payloads = append(payloads, line)
	}
	return payloads, dupes
}

// BulkAddUnits imports a batch of credentials for a product. The entire
// batch is rejected if any payload repeats within the batch or duplicates a
// payload already anywhere in the store. On success the product's stock is
// recomputed and returned.
func (cs *CatalogService) BulkAddUnits(ctx context.Context, productID int64, raw string) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.BulkAddUnits")
	defer span.End()

	payloads, dupes := ParsePayloadList(raw)
	if len(dupes) > 0 {
		return 0, &store.DuplicatePayloadError{Payloads: dupes}
	}
	if len(payloads) == 0 {
		return 0, fmt.Errorf("empty credential list")
	}

	var stock int
	err := cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := cs.store.GetProduct(ctx, tx, productID); err != nil {
			return err
		}

		existing, err := cs.store.FindExistingPayloads(ctx, tx, payloads)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &store.DuplicatePayloadError{Payloads: existing}
		}

		if err := cs.store.InsertUnits(ctx, tx, productID, payloads); err != nil {
			return err
		}

		stock, err = cs.store.RefreshProductStock(ctx, tx, productID, 0)
		return err
	})
	if err != nil {
		return 0, err
	}

	cs.logger.Info("Inventory units imported",
		zap.Int64("product_id", productID),
		zap.Int("count", len(payloads)),
		zap.Int("stock", stock))

	cs.cacheStock(ctx, productID, stock)

	return stock, nil
}

// RemoveUnit deletes a still-available unit and refreshes stock.
func (cs *CatalogService) RemoveUnit(ctx context.Context, productID, unitID int64) (int, error) {
	var stock int
	err := cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := cs.store.RemoveAvailableUnit(ctx, tx, productID, unitID); err != nil {
			return err
		}
		var err error
		stock, err = cs.store.RefreshProductStock(ctx, tx, productID, 0)
		return err
	})
	if err != nil {
		return 0, err
	}

	cs.cacheStock(ctx, productID, stock)
	return stock, nil
}

// ClearUnits deletes all available units of a product. Sold units stay. The
// cached stock entry is dropped rather than rewritten; the next catalog read
// repopulates it from the database.
func (cs *CatalogService) ClearUnits(ctx context.Context, productID int64) error {
	err := cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := cs.store.ClearAvailableUnits(ctx, tx, productID); err != nil {
			return err
		}
		_, err := cs.store.RefreshProductStock(ctx, tx, productID, 0)
		return err
	})
	if err != nil {
		return err
	}

	if cs.redis != nil {
		if err := cs.redis.InvalidateStock(ctx, productID); err != nil {
			cs.logger.Warn("Failed to invalidate stock cache",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}
	return nil
}

// ListProducts returns active products. Stock counts are overlaid with the
// redis cache when present, which keeps hot listings off the units table.
func (cs *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := cs.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	if cs.redis != nil {
		for i := range products {
			if stock, ok, err := cs.redis.GetCachedStock(ctx, products[i].ID); err == nil && ok {
				products[i].Stock = stock
			}
		}
	}

	return products, nil
}

// GetProduct returns a single product by id.
func (cs *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return cs.store.GetProduct(ctx, cs.store.DB(), id)
}

// SyncStockToRedis primes the stock cache from the database at startup.
func (cs *CatalogService) SyncStockToRedis(ctx context.Context) error {
	if cs.redis == nil {
		return nil
	}

	products, err := cs.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for _, p := range products {
		count, err := cs.store.CountAvailable(ctx, cs.store.DB(), p.ID)
		if err != nil {
			cs.logger.Error("Failed to count available units",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
			continue
		}
		cs.cacheStock(ctx, p.ID, count)
	}

	cs.logger.Info("Stock cache primed", zap.Int("count", len(products)))
	return nil
}

func (cs *CatalogService) cacheStock(ctx context.Context, productID int64, stock int) {
	if cs.redis == nil {
		return
	}
	if err := cs.redis.CacheStock(ctx, productID, stock); err != nil {
		cs.logger.Warn("Failed to cache stock",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}
