// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/inference-gateway/internal/auth"
	"github.com/adiadia/inference-gateway/internal/balancer"
	"github.com/adiadia/inference-gateway/internal/config"
	"github.com/adiadia/inference-gateway/internal/forwarder"
	"github.com/adiadia/inference-gateway/internal/logging"
	"github.com/adiadia/inference-gateway/internal/metrics"
	"github.com/adiadia/inference-gateway/internal/persistence"
	"github.com/adiadia/inference-gateway/internal/proxy"
	"github.com/adiadia/inference-gateway/internal/quota"
	httptransport "github.com/adiadia/inference-gateway/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)
	metrics.Init()

	store, closeStore, err := persistence.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer closeStore()

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set; credential administration routes are unauthenticated")
	}

	engine := quota.NewEngine(store, logger, quota.WithLocation(cfg.QuotaLocation))

	registry, err := balancer.NewRegistry(
		cfg.BackendURLs,
		balancer.NewHTTPProber(cfg.HealthCheckPath, cfg.HealthTimeout, cfg.UpstreamAPIKey),
		balancer.WithHealthCheckInterval(cfg.HealthInterval),
		balancer.WithRegistryLogger(logger),
	)
	if err != nil {
		log.Fatalf("backend registry: %v", err)
	}

	// Probe once so the first requests route on real health.
	registry.Refresh(ctx)

	fwd := forwarder.New(
		forwarder.WithUpstreamKey(cfg.UpstreamAPIKey),
		forwarder.WithStrippedHeaders(auth.HeaderAPIKey),
		forwarder.WithLogger(logger),
	)
	strategy := balancer.ParseStrategy(cfg.Strategy)
	svc := proxy.NewService(registry, fwd, engine, strategy, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		Credentials:       store,
		Quota:             engine,
		Backends:          registry,
		Proxy:             svc,
		Store:             httptransport.HealthCheckFunc(store.Ping),
		Logger:            logger,
		AdminToken:        cfg.AdminToken,
		ListTimeout:       cfg.ListTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("gateway listening",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreDriver,
			"backends", len(cfg.BackendURLs),
			"strategy", strategy,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.GenerationTimeout,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
