package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-outcomes/internal/backfill"
	"github.com/sells-group/signal-outcomes/internal/db"
	"github.com/sells-group/signal-outcomes/internal/marketdata"
	"github.com/sells-group/signal-outcomes/internal/orchestrator"
	"github.com/sells-group/signal-outcomes/internal/outcome"
	"github.com/sells-group/signal-outcomes/internal/store"
)

// defaultSQLitePath is used when the sqlite driver has no database_url.
const defaultSQLitePath = "outcomes.db"

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, db.PoolConfig{
			URL:      cfg.Store.DatabaseURL,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates the config for mode, connects, and applies migrations.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds the store and services used by the backfill, calculate,
// pipeline and schedule commands.
type pipelineEnv struct {
	Store        store.Store
	Backfill     *backfill.Service
	Calculator   *outcome.Calculator
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the store.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline builds every service for mode. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	env.Calculator = outcome.NewCalculator(st, cfg.Outcome, cfg.Prices.LookbackDays)

	if mode == "backfill" || mode == "pipeline" {
		provider, err := marketdata.New(cfg.Provider)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Backfill = backfill.New(st, provider, cfg.Backfill, cfg.Prices.LookbackDays)
		env.Orchestrator = orchestrator.New(env.Backfill, env.Calculator, st)
	}

	return env, nil
}
