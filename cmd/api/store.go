package main

import (
	"context"
	"fmt"

	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/db"
	"github.com/geocoder89/habithub/internal/gateway"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/geocoder89/habithub/internal/repo/memory"
	"github.com/geocoder89/habithub/internal/repo/postgres"
	"github.com/geocoder89/habithub/internal/repo/sqlite"
)

// openStore connects the configured credential store and brings its schema
// up to date. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom) (gateway.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewStore(pool, prom), pool.Close, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, prom)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.DriverMemory:
		return memory.NewStore(), func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func runMigrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Env)

	_, closeStore, err := openStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	closeStore()

	log.Info("schema up to date", "store", cfg.StoreDriver)
	return nil
}
