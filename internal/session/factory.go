package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"clinicalcore/internal/config"
)

// Closer is implemented by backends that hold a connection pool open for
// the lifetime of the process.
type Closer interface {
	Close()
}

// Build constructs the configured SessionStore backend (§4.1). For
// "postgres" it also runs schema initialization before returning.
func Build(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect session postgres: %w", err)
		}
		store := NewPostgresStore(pool)
		if err := store.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init session schema: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}
