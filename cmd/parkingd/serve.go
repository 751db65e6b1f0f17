package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/parking-ledger/api"
	"github.com/warp/parking-ledger/billing"
	"github.com/warp/parking-ledger/config"
	"github.com/warp/parking-ledger/observability"
	"github.com/warp/parking-ledger/rates"
	"github.com/warp/parking-ledger/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the UF refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	cmd.Flags().StringVar(&cfg.DBDSN, "db", cfg.DBDSN, `database DSN (sqlite path, ":memory:" or postgres URL)`)
	cmd.Flags().BoolVar(&cfg.DemoScenarios, "demo", cfg.DemoScenarios, "mount the demo scenario routes")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := observability.NewLogger(observability.LoggerConfig{
		ServiceName: cfg.ServiceName,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Initialize store
	store, err := sqlite.Open(ctx, cfg.DBDriver, cfg.DBDSN, log.Named("store"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	cache := rates.NewCache(rates.CacheConfig{
		Path:     cfg.RateCacheFile,
		Source:   rates.NewMindicadorSource(cfg.RateSourceURL, cfg.RateTimeout),
		Logger:   log.Named("rates"),
		Recorder: metrics,
	})
	metrics.SetRate(cache.Current())

	refresher := rates.NewRefresher(cache, cfg.RateRefreshInterval, log.Named("refresher"))
	refresher.Start()
	defer refresher.Stop()

	svc, err := billing.NewService(billing.Config{
		Repo:     store,
		Admin:    store,
		Rates:    cache,
		Logger:   log.Named("billing"),
		Observer: metrics,
	})
	if err != nil {
		return err
	}

	var seeder api.Seeder
	if cfg.DemoScenarios {
		seeder = store
	}
	handler := api.NewHandler(svc, seeder, log.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("db_driver", cfg.DBDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
