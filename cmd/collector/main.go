// Command collector runs one expiry sweep over the bucket and exits. It is
// meant for cron or a scheduled container; the gateway can also run the same
// sweep in-process with QD_CLEANUP_ENABLED.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/cleanup"
	"github.com/Cyxzhar/quickdrop/internal/config"
	"github.com/Cyxzhar/quickdrop/internal/lock"
	"github.com/Cyxzhar/quickdrop/internal/logging"
	"github.com/Cyxzhar/quickdrop/internal/metrics"
)

func main() {
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address while the run lasts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New("collector", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := run(cfg, logger, *metricsAddr)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg config.Config, logger *zap.Logger, metricsAddr string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(metricsAddr); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	openCtx, openCancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
	store, err := cfg.Storage.Open(openCtx)
	openCancel()
	if err != nil {
		logger.Error("open store", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
		return 1
	}

	ccfg := cleanup.Config{
		Store:       store,
		LockTTL:     cfg.Cleanup.LockTTL,
		DefaultTTL:  cfg.DefaultTTL,
		PageSize:    cfg.Cleanup.PageSize,
		CallTimeout: cfg.Storage.Timeout,
		Logger:      logger,
		Metrics:     m,
	}
	var locker *lock.Redis
	if cfg.Cleanup.RedisURL != "" {
		client, err := lock.NewClient(cfg.Cleanup.RedisURL)
		if err != nil {
			logger.Error("redis", zap.Error(err))
			return 1
		}
		defer client.Close()
		locker = lock.NewRedis(client)
		ccfg.Locker = locker
	}

	stats, err := cleanup.New(ccfg).Run(ctx)
	switch {
	case errors.Is(err, cleanup.ErrRunInProgress):
		holder, herr := locker.Holder(ctx, cleanup.DefaultLockKey)
		if herr != nil {
			logger.Warn("read lock holder", zap.Error(herr))
		}
		logger.Info("another run holds the lock; nothing to do", zap.String("holder", holder))
		return 0
	case err != nil:
		logger.Error("run failed",
			zap.Int("scanned", stats.Scanned),
			zap.Int("deleted", stats.Deleted),
			zap.Error(err))
		return 1
	}

	fmt.Printf("scanned=%d deleted=%d failed=%d skipped=%d pages=%d duration=%s\n",
		stats.Scanned, stats.Deleted, stats.Failed, stats.Skipped, stats.Pages, stats.Duration)
	if stats.Failed > 0 {
		return 1
	}
	return 0
}
