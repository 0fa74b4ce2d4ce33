package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sitesmith/hunter/internal/business"
	"github.com/sitesmith/hunter/internal/grid"
	"github.com/sitesmith/hunter/internal/resilience"
)

// stores bundles the two persistence layers behind one close handle.
type stores struct {
	cells grid.Store
	leads business.Store
	close func()
}

// initStores opens the configured backend, applies migrations, and returns
// ready-to-use stores.
func initStores(ctx context.Context) (*stores, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "sqlite":
		return initSQLite(ctx)
	case "postgres", "":
		return initPostgres(ctx)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initPostgres(ctx context.Context) (*stores, error) {
	// The database may still be coming up when the scheduler starts;
	// retry the first contact on transient failures.
	pingCfg := resilience.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger("store", "ping"),
	}
	pool, err := resilience.DoVal(ctx, pingCfg, func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "store: create connection pool")
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, eris.Wrap(err, "store: ping database")
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	if err := grid.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		cells: grid.NewPostgresStore(pool),
		leads: business.NewPostgresStore(pool),
		close: pool.Close,
	}, nil
}

func initSQLite(ctx context.Context) (*stores, error) {
	path := cfg.Store.SQLitePath
	if path == "" {
		path = "hunter.db"
	}

	gs, err := grid.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := gs.Migrate(ctx); err != nil {
		gs.Close() //nolint:errcheck
		return nil, err
	}

	bs := business.NewSQLiteStore(gs.DB())
	if err := bs.EnsureSchema(ctx); err != nil {
		gs.Close() //nolint:errcheck
		return nil, err
	}

	return &stores{
		cells: gs,
		leads: bs,
		close: func() { gs.Close() }, //nolint:errcheck
	}, nil
}
