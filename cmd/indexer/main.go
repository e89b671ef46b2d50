package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/senzenn/solana-indexer/internal/cache"
	"github.com/senzenn/solana-indexer/internal/platform/config"
	"github.com/senzenn/solana-indexer/internal/platform/observability"
	"github.com/senzenn/solana-indexer/internal/solana"
	"github.com/senzenn/solana-indexer/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("solana-indexer", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "solana-indexer", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.LogError(context.Background(), "tracer shutdown failed", err)
		}
	}()

	logger.Info("observability setup complete")

	// Solana RPC client pool
	logger.Info("connecting to Solana...")
	client, err := solana.NewClient(solana.Config{
		Endpoints:           cfg.Solana.RPCEndpoints,
		Commitment:          cfg.Solana.Commitment,
		RateLimit:           cfg.Solana.RateLimit.RequestsPerSecond,
		Burst:               cfg.Solana.RateLimit.Burst,
		HealthCheckInterval: cfg.Solana.HealthCheckInterval,
		Logger:              logger,
		Meter:               metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create Solana client", err)
		log.Fatalf("Failed to create Solana client: %v", err)
	}
	defer client.Close()

	// Cache manager
	logger.Info("creating cache manager...")
	manager := cache.NewManager(cache.ManagerConfig{
		Slots:        toTierConfig(cfg.Cache.Slots),
		Transactions: toTierConfig(cfg.Cache.Transactions),
		Accounts:     toTierConfig(cfg.Cache.Accounts),
		Blocks:       toTierConfig(cfg.Cache.Blocks),
		Logger:       logger,
		Meter:        metrics,
	})

	// Warm the slot tier before serving reads
	if cfg.Warmup.Enabled {
		warmer, err := cache.NewWarmer(cache.WarmerConfig{
			Source:      client,
			Manager:     manager,
			Logger:      logger,
			Meter:       metrics,
			Concurrency: cfg.Warmup.Concurrency,
			Timeout:     cfg.Warmup.Timeout,
		})
		if err != nil {
			logger.LogError(ctx, "failed to create warmer", err)
			log.Fatalf("Failed to create warmer: %v", err)
		}

		result, err := warmer.WarmRecentSlots(ctx, int(cfg.Warmup.SlotCount))
		if err != nil {
			// Warmup failure is not fatal, the cache fills on demand.
			logger.LogWarn(ctx, "cache warmup failed", "error", err)
		} else {
			logger.Info("cache warmed",
				"requested", result.Requested,
				"warmed", result.Warmed,
				"skipped", result.Skipped,
				"duration_ms", result.Duration.Milliseconds(),
			)
		}
	}

	// Account watcher
	accountWatcher, err := watcher.New(watcher.Config{
		Accounts:     cfg.Watcher.Accounts,
		PollInterval: cfg.Watcher.PollInterval,
		Manager:      manager,
		Source:       client,
		Logger:       logger,
		Meter:        metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create watcher", err)
		log.Fatalf("Failed to create watcher: %v", err)
	}

	sweeper := cache.NewSweeper(manager, cfg.Maintenance.Interval, logger)

	logger.Info("starting indexer...")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		return accountWatcher.Run(gctx)
	})

	g.Go(func() error {
		return runHTTPServer(gctx, cfg.HTTP.Port, manager, metrics, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.LogError(context.Background(), "indexer stopped with error", err)
	}

	logger.Info("application stopped")
}

// toTierConfig maps the config file tier section onto the cache package.
func toTierConfig(tc config.TierConfig) cache.TierConfig {
	return cache.TierConfig{
		MaxEntries:  tc.MaxEntries,
		MaxWeight:   tc.MaxWeight,
		TTL:         tc.TTL,
		IdleTimeout: tc.IdleTimeout,
	}
}

// runHTTPServer serves health checks, Prometheus metrics and cache
// introspection until ctx is cancelled.
func runHTTPServer(ctx context.Context, port int, manager *cache.Manager, metrics *observability.Metrics, logger *observability.Logger) error {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Cache introspection
	mux.HandleFunc("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Stats(), logger)
	})
	mux.HandleFunc("/cache/performance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Performance(), logger)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("HTTP server listening", "address", server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// writeJSON renders v as the JSON response body.
func writeJSON(w http.ResponseWriter, v any, logger *observability.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogError(context.Background(), "failed to encode response", err)
	}
}
