package stats

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"kasirdapur/backend/internal/cache"
	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/store"
)

// Collector aggregates committed sales into per-day statistics and keeps
// a cached snapshot warm for readers. It also runs the periodic inventory
// valuation scan.
type Collector struct {
	repo     store.Repository
	cache    cache.StatsCache
	cacheTTL time.Duration

	mu        sync.RWMutex
	valuation domain.InventoryValuation
}

func NewCollector(repo store.Repository, cacheStore cache.StatsCache, cacheTTL time.Duration) *Collector {
	if cacheStore == nil {
		cacheStore = cache.NoopStatsCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Collector{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// RecordSale folds one committed sale into the daily aggregates. The store
// write is authoritative; refreshing the cached snapshot is best-effort.
func (c *Collector) RecordSale(ctx context.Context, sale domain.Sale, costOfGoodsCents int64) error {
	date := sale.CreatedAt.UTC().Format("2006-01-02")
	if err := c.repo.RecordSaleStats(ctx, date, sale.TotalCents, costOfGoodsCents); err != nil {
		return err
	}

	fresh, err := c.repo.GetSalesStats(ctx, date)
	if err == nil {
		if cacheErr := c.cache.Set(ctx, statsKey(date), &fresh, c.cacheTTL); cacheErr != nil {
			log.Printf("[stats] WARN: failed to refresh stats cache for %s: %v", date, cacheErr)
		}
	}
	return nil
}

// DailySnapshot serves the aggregates for a date, preferring the cache.
func (c *Collector) DailySnapshot(ctx context.Context, date string) (domain.SalesStats, error) {
	if cached, ok, err := c.cache.Get(ctx, statsKey(date)); err == nil && ok {
		return *cached, nil
	}

	stats, err := c.repo.GetSalesStats(ctx, date)
	if err != nil {
		return domain.SalesStats{}, err
	}
	_ = c.cache.Set(ctx, statsKey(date), &stats, c.cacheTTL)
	return stats, nil
}

// Valuation returns the most recent inventory valuation snapshot. Zero
// value until the first scan completes.
func (c *Collector) Valuation() domain.InventoryValuation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valuation
}

// RunValuationScan recomputes the inventory valuation on a fixed interval
// until the context is cancelled. Run it in its own goroutine.
func (c *Collector) RunValuationScan(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	c.scanOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scanOnce(ctx)
		}
	}
}

func (c *Collector) scanOnce(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	products, err := c.repo.ListProducts(scanCtx)
	if err != nil {
		log.Printf("[stats] WARN: valuation scan failed to list products: %v", err)
		return
	}

	skus := make([]string, 0, len(products))
	for _, p := range products {
		if p.BatchManagement.Enabled || p.TrackStock {
			skus = append(skus, p.SKU)
		}
	}

	batchesBySKU, err := c.repo.GetActiveBatchesBySKUs(scanCtx, skus)
	if err != nil {
		log.Printf("[stats] WARN: valuation scan failed to load batches: %v", err)
		return
	}

	valuation := domain.InventoryValuation{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Products:    len(skus),
	}
	for _, batches := range batchesBySKU {
		for _, b := range batches {
			if b.Stock <= 0 {
				continue
			}
			valuation.Batches++
			valuation.ValueCents += int64(math.Round(float64(b.CostCents) * b.Stock))
		}
	}

	c.mu.Lock()
	c.valuation = valuation
	c.mu.Unlock()

	log.Printf("[stats] inventory valuation: %d batches across %d products worth %d cents",
		valuation.Batches, valuation.Products, valuation.ValueCents)
}

func statsKey(date string) string {
	return "pos:stats:daily:" + date
}
