package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/chain"
	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/kv"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/services"
	"github.com/tbourn/go-lockd-backend/internal/verify"
)

// app holds the wired components shared by the serve and decay commands.
type app struct {
	cfg       config.Config
	db        *gorm.DB
	store     kv.Client
	heights   *chain.HeightCache
	engine    *ledger.Engine
	scheduler *ledger.Scheduler
	limiter   *guard.RateLimiter

	locks     *services.LockService
	purchases *services.PurchaseService
	contents  *services.ContentService
	admin     *services.AdminService
}

// openDB opens the database and brings the schema up to date.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newApp(cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	store := kv.NewRedisFromConfig(cfg.Redis)
	params := verify.NetParams(cfg.Chain.Network)

	src := chain.NewClient(chain.ClientConfig{
		URL:            cfg.Chain.APIURL,
		RequestTimeout: cfg.Chain.RequestTimeout,
		MaxRetries:     cfg.Chain.MaxRetries,
	})
	heights := chain.NewHeightCache(src, store, cfg.Chain.HeightCacheTTL)

	verifier := verify.New(src, verify.Options{
		HeightTolerance:  cfg.Verify.HeightTolerance,
		RequireUnspent:   cfg.Verify.RequireUnspent,
		MinConfirmations: cfg.Verify.MinConfirmations,
		ProtocolTag:      cfg.Locks.ProtocolTag,
		Params:           params,
	})

	idem := guard.NewIdempotency(db, cfg.IdempotencyLease)
	limiter := guard.NewRateLimiter(store, cfg.Rate, cfg.DeployMode)

	engine := ledger.NewEngine(db)
	scheduler := ledger.NewScheduler(engine, heights, store, ledger.SchedulerOptions{
		Interval: cfg.Decay.Interval,
		LeaseTTL: cfg.Decay.LeaseTTL,
	})

	a := &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		heights:   heights,
		engine:    engine,
		scheduler: scheduler,
		limiter:   limiter,
		locks: &services.LockService{
			Guard:    idem,
			Limiter:  limiter,
			Verifier: verifier,
			Heights:  heights,
			Limits:   cfg.Locks,
			Params:   params,
		},
		purchases: &services.PurchaseService{
			Guard:          idem,
			Limiter:        limiter,
			Verifier:       verifier,
			Heights:        heights,
			HolderShareBps: cfg.Locks.HolderShareBps,
		},
		contents: &services.ContentService{
			DB:      db,
			Scorer:  engine,
			Heights: heights,
			Decay:   scheduler,
		},
		admin: &services.AdminService{
			Scorer:  engine,
			Heights: heights,
		},
	}
	log.Info().
		Str("component", programName).
		Str("network", cfg.Chain.Network).
		Str("deploy_mode", cfg.DeployMode).
		Str("db", cfg.DBPath).
		Msg("components wired")
	return a, nil
}

// ready reports whether the database and the shared store answer.
func (a *app) ready(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("kv store: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kv store: %w", err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
