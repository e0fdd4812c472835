package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/womatch-cli/internal/corpus"
	"github.com/sells-group/womatch-cli/internal/store"
)

// initStore opens the configured store along with a corpus index over the
// same database.
func initStore(ctx context.Context) (store.Store, corpus.Index, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "womatch.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		return st, corpus.NewSQLiteIndex(st.DB()), nil

	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, corpus.NewPostgresIndex(st.Pool()), nil

	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
