// collector.go - expiry sweep over the bucket listing.

// Package cleanup is the expiry garbage collector. It walks the full provider
// listing, page by page, and deletes every object past its expiry. Work is
// linear in the number of stored objects; the same TTL that bounds retention
// bounds that number. A run is cheap while a full listing fits in one
// schedule tick (roughly a few hundred thousand objects at one page per
// 100-200ms); beyond that, runs start to overlap the next tick and the
// lock turns them into skips.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/lock"
	"github.com/Cyxzhar/quickdrop/internal/logging"
	"github.com/Cyxzhar/quickdrop/internal/metrics"
	"github.com/Cyxzhar/quickdrop/internal/storage"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultLockKey  = "quickdrop:collector:lock"
	DefaultLockTTL  = 30 * time.Minute
	DefaultInterval = 24 * time.Hour
	// DefaultCallTimeout bounds each List and Delete call.
	DefaultCallTimeout = 30 * time.Second
)

// ErrRunInProgress means another process holds the run lock.
var ErrRunInProgress = errors.New("collector run already in progress")

// Stats counts one run. Partial counts are kept when a run aborts.
type Stats struct {
	Scanned  int
	Deleted  int
	Failed   int
	Skipped  int
	Pages    int
	Duration time.Duration
}

type Config struct {
	Store       storage.Store
	Locker      lock.Locker // nil when the scheduler already guarantees one run
	LockKey     string
	LockTTL     time.Duration
	DefaultTTL  time.Duration
	PageSize    int
	CallTimeout time.Duration // per List and Delete call
	Now         func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type Collector struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Collector {
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = storage.DefaultPageSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Collector{cfg: cfg, log: log.With(zap.String("component", "cleanup"))}
}

// Run scans the whole bucket once. A listing failure aborts the run and is
// returned; objects already deleted stay deleted.
func (c *Collector) Run(ctx context.Context) (Stats, error) {
	start := c.cfg.Now()
	var stats Stats

	if c.cfg.Locker != nil {
		release, ok, err := c.cfg.Locker.TryAcquire(ctx, c.cfg.LockKey, c.cfg.LockTTL)
		if err != nil {
			c.cfg.Metrics.RecordGC("error", 0, 0, 0, 0)
			return stats, fmt.Errorf("collector lock: %w", err)
		}
		if !ok {
			c.log.Info("collector run skipped", zap.String("reason", "lock_held"))
			c.cfg.Metrics.RecordGC("skipped", 0, 0, 0, 0)
			return stats, ErrRunInProgress
		}
		defer func() {
			// The run context may be cancelled already; the release still has to go out.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(rctx); err != nil {
				c.log.Warn("collector lock release failed", zap.Error(err))
			}
		}()
	}

	c.log.Info("collector run starting", zap.Int("page_size", c.cfg.PageSize))

	err := c.scan(ctx, &stats)
	stats.Duration = c.cfg.Now().Sub(start)

	fields := []zap.Field{
		zap.Int("scanned", stats.Scanned),
		zap.Int("deleted", stats.Deleted),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("pages", stats.Pages),
		zap.Int64("duration_ms", stats.Duration.Milliseconds()),
	}
	if err != nil {
		c.log.Error("collector run failed", append(fields, zap.Error(err))...)
		c.cfg.Metrics.RecordGC("error", stats.Scanned, stats.Deleted, stats.Failed, stats.Duration)
		return stats, err
	}
	c.log.Info("collector run complete", fields...)
	c.cfg.Metrics.RecordGC("ok", stats.Scanned, stats.Deleted, stats.Failed, stats.Duration)
	return stats, nil
}

func (c *Collector) scan(ctx context.Context, stats *Stats) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		listCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		page, err := c.cfg.Store.List(listCtx, storage.ListInput{Cursor: cursor, Limit: c.cfg.PageSize})
		cancel()
		if err != nil {
			return fmt.Errorf("list page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++
		stats.Scanned += len(page.Objects)

		now := c.cfg.Now()
		for _, obj := range page.Objects {
			if obj.MetaUnknown {
				// Deleting on a guessed expiry could drop a long-lived object.
				stats.Skipped++
				c.log.Warn("object metadata unavailable", zap.String("key", obj.Key))
				continue
			}
			expiry := storage.ExpiryOf(obj, c.cfg.DefaultTTL)
			if !now.After(expiry) {
				continue
			}
			if err := c.delete(ctx, obj.Key); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				stats.Failed++
				c.log.Warn("delete expired object failed", zap.String("key", obj.Key), zap.Error(err))
				continue
			}
			stats.Deleted++
			c.log.Debug("deleted expired object",
				zap.String("key", obj.Key),
				zap.Time("expired_at", expiry))
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (c *Collector) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return c.cfg.Store.Delete(ctx, key)
}

// Schedule runs the collector immediately and then every interval until ctx
// is done. Failed runs are logged and wait for the next tick.
func (c *Collector) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.log.Info("collector schedule starting", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runScheduled(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("collector schedule stopping")
			return
		case <-ticker.C:
			c.runScheduled(ctx)
		}
	}
}

func (c *Collector) runScheduled(ctx context.Context) {
	// Errors are already logged with their partial counts by Run.
	_, _ = c.Run(ctx)
}
