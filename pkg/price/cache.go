package price

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gasline/gasline/internal/constants"
)

// Cache is a single-slot cache of the native-token reference price.
// A populated slot is never cleared: when a refresh fails, the stale
// value keeps being served rather than failing the caller.
type Cache struct {
	feed     Feed
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	value     float64
	fetchedAt time.Time
	populated bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCache creates a price cache over the given feed.
// interval is both the freshness window and the background refresh period.
func NewCache(feed Feed, interval time.Duration, logger *zap.Logger) *Cache {
	if interval <= 0 {
		interval = constants.DefaultPriceRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		feed:     feed,
		interval: interval,
		logger:   logger.Named("pricecache"),
	}
}

// Price returns the cached price, refreshing on demand when the slot is
// stale. The second return is false only when no price has ever been
// fetched successfully.
func (c *Cache) Price(ctx context.Context) (float64, bool) {
	c.mu.RLock()
	value, populated, fetchedAt := c.value, c.populated, c.fetchedAt
	c.mu.RUnlock()

	if populated && time.Since(fetchedAt) < c.interval {
		return value, true
	}

	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("price refresh failed, serving stale value",
			zap.Bool("populated", populated),
			zap.Error(err),
		)
		return value, populated
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.populated
}

// refresh fetches a fresh price and replaces the slot atomically.
func (c *Cache) refresh(ctx context.Context) error {
	value, err := c.feed.FetchPrice(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.value = value
	c.fetchedAt = time.Now()
	c.populated = true
	c.mu.Unlock()

	c.logger.Debug("price refreshed", zap.Float64("value", value))
	return nil
}

// Start launches the background refresher. It performs an eager initial
// fetch so the first transaction does not pay the fetch latency.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.refresh(ctx); err != nil {
			c.logger.Warn("initial price fetch failed", zap.Error(err))
		}

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.refresh(ctx); err != nil {
					c.logger.Warn("background price refresh failed", zap.Error(err))
				}
			}
		}
	}()

	c.logger.Info("price refresher started", zap.Duration("interval", c.interval))
}

// Stop stops the background refresher.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
