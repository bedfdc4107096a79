package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zonestats/internal/stats"
	"github.com/sells-group/zonestats/internal/store"
	"github.com/sells-group/zonestats/internal/zone"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "zonestats.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, store.Unavailable("connect", err)
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, store.Unavailable("connect", err)
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates. Callers close the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, store.Unavailable("migrate", err)
	}
	return st, nil
}

// loadClassifier uses the configured keyword file, or the built-in table.
func loadClassifier() (*zone.Classifier, error) {
	if cfg.Zones.KeywordsFile == "" {
		return zone.NewClassifier(zone.DefaultTable()), nil
	}
	t, err := zone.LoadTable(cfg.Zones.KeywordsFile)
	if err != nil {
		return nil, err
	}
	return zone.NewClassifier(t), nil
}

func newAggregator(c *zone.Classifier) *stats.Aggregator {
	conv := stats.NewConverter(cfg.Currency.Reference, cfg.Currency.Codes())
	return stats.NewAggregator(conv, c.Zones())
}

// newStatsService builds a statistics service whose store queries are
// bounded by the configured per-call timeout.
func newStatsService(st stats.Store, c *zone.Classifier) *stats.Service {
	return stats.NewService(st, newAggregator(c)).WithTimeout(cfg.Zones.OpTimeout())
}

// opContext bounds a single store call by the configured per-call timeout.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := cfg.Zones.OpTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
