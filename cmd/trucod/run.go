package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/truco/internal/janitor"
	"github.com/MarkoPoloResearchLab/truco/internal/lobbyapi"
	"github.com/MarkoPoloResearchLab/truco/internal/lobbycache"
	"github.com/MarkoPoloResearchLab/truco/internal/oplog"
	"github.com/MarkoPoloResearchLab/truco/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/truco/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	registry, err := mesas.NewService(store, func() time.Time { return time.Now().UTC() },
		mesas.WithOperationLogger(oplog.NewZapLogger(logger)))
	if err != nil {
		return fmt.Errorf("registry init: %w", err)
	}

	var cache *lobbycache.Cache
	var listCache lobbyapi.ListCache
	if cfg.RedisAddr != "" {
		redisClient, err := lobbycache.NewClient(ctx, cfg.RedisAddr, logger)
		if err != nil {
			logger.Warn("lobby cache disabled", zap.Error(err))
		} else {
			defer func() { _ = redisClient.Close() }()
			cache = lobbycache.New(redisClient, cfg.CacheTTL, logger)
			listCache = cache
		}
	}

	sweeper, err := janitor.New(registry, janitor.Config{
		Interval: cfg.SweepInterval,
		Grace:    cfg.SweepGrace,
		OnSweep: func(ctx context.Context, _ []mesas.TableID) {
			cache.Invalidate(ctx)
		},
	}, logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sweeper.Shutdown() }()

	return lobbyapi.Run(ctx, cfg.API, registry, listCache, logger)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (mesas.Store, func() error, error) {
	if cfg.StoreDriver == storeDriverPgx {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), func() error { pool.Close(); return nil }, nil
	}
	gormDB, closeDB, err := openGormDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormDB.AutoMigrate(gormstore.Models()...); err != nil {
		_ = closeDB()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormstore.New(gormDB), closeDB, nil
}
