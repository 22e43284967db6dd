// Command gateway serves share links, the upload API and health endpoints
// over the configured storage backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/cleanup"
	"github.com/Cyxzhar/quickdrop/internal/config"
	"github.com/Cyxzhar/quickdrop/internal/lock"
	"github.com/Cyxzhar/quickdrop/internal/logging"
	"github.com/Cyxzhar/quickdrop/internal/metrics"
	"github.com/Cyxzhar/quickdrop/internal/server"
	"github.com/Cyxzhar/quickdrop/internal/storage"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New("gateway", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	openCtx, openCancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
	store, err := cfg.Storage.Open(openCtx)
	openCancel()
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warn("using in-memory store; objects are lost on restart")
	}

	breaker := storage.NewBreaker(store, breakerFailures, breakerTimeout)
	breaker.OnStateChange(func(from, to storage.CircuitState) {
		m.SetBreakerOpen(to == storage.StateOpen)
		logger.Warn("storage circuit changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})

	var opts []upload.Option
	if cfg.CheckCollisions {
		opts = append(opts, upload.WithCollisionCheck(breaker))
	}
	pipeline := upload.New(breaker, cfg.PublicURL, opts...)

	if cfg.Cleanup.Enabled {
		collector, closeLock, err := newCollector(cfg, breaker, logger, m)
		if err != nil {
			return err
		}
		defer closeLock()
		go collector.Schedule(ctx, cfg.Cleanup.Interval)
		logger.Info("collector scheduled", zap.Duration("interval", cfg.Cleanup.Interval))
	}

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		PublicURL:      cfg.PublicURL,
		DefaultTTL:     cfg.DefaultTTL,
		RawCacheMaxAge: cfg.RawCacheMaxAge,
		StorageTimeout: cfg.Storage.Timeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
		Version:        cfg.Version,
		Store:          breaker,
		Uploads:        pipeline,
		Breaker:        breaker,
		Logger:         logger,
		Metrics:        m,
	})

	// Serve in the background so the main goroutine can wait for signals.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting",
			zap.String("addr", cfg.Addr),
			zap.String("public_url", cfg.PublicURL),
			zap.String("backend", cfg.Storage.Backend),
			zap.String("version", cfg.Version))
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// newCollector builds the in-process collector. Without QD_REDIS_URL it runs
// unlocked, which is only safe with a single gateway replica.
func newCollector(cfg config.Config, store storage.Store, logger *zap.Logger, m *metrics.Metrics) (*cleanup.Collector, func(), error) {
	ccfg := cleanup.Config{
		Store:       store,
		LockTTL:     cfg.Cleanup.LockTTL,
		DefaultTTL:  cfg.DefaultTTL,
		PageSize:    cfg.Cleanup.PageSize,
		CallTimeout: cfg.Storage.Timeout,
		Logger:      logger,
		Metrics:     m,
	}
	closeLock := func() {}
	if cfg.Cleanup.RedisURL != "" {
		client, err := lock.NewClient(cfg.Cleanup.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		ccfg.Locker = lock.NewRedis(client)
		closeLock = func() { _ = client.Close() }
	} else {
		logger.Warn("collector running without a run lock; keep a single replica")
	}
	return cleanup.New(ccfg), closeLock, nil
}
