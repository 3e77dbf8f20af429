package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/habithub/internal/auth"
	"github.com/geocoder89/habithub/internal/cache"
	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/gateway"
	httpx "github.com/geocoder89/habithub/internal/http"
	"github.com/geocoder89/habithub/internal/http/handlers"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/geocoder89/habithub/internal/redisclient"
	"github.com/geocoder89/habithub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store, closeStore, err := openStore(ctx, cfg, prom)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		habitCache cache.Store
		checks     []handlers.Pinger
	)

	if cfg.RedisAddr != "" {
		rdb := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		habitCache = cache.NewRedis(rdb.Raw(), cfg.CacheTTL, log)
		checks = append(checks, handlers.Pinger{Name: "redis", Ping: rdb.Ping})
	} else {
		habitCache = cache.NewMemory(cfg.CacheTTL)
	}

	gw := gateway.New(gateway.Deps{
		Store:  store,
		Tokens: auth.NewManager(cfg.JWTSecret, cfg.AccessTTL),
		Hasher: security.NewHasher(cfg.BcryptCost),
		Cache:  habitCache,
		Log:    log,
		Prom:   prom,
	}, cfg)

	router := httpx.NewRouter(log, cfg, httpx.Deps{
		Gateway:  gw,
		Prom:     prom,
		Gatherer: reg,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver, "grid_days", cfg.GridSize())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	shutdownCh := make(chan error, 1)

	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdownCh <- srv.Shutdown(sctx)
	}()

	select {
	case err := <-shutdownCh:
		if err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return err
		}
		log.Info("shutdown complete")
	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}

	return nil
}
