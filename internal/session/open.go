package session

import (
	"context"
	"fmt"
)

const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

type OpenConfig struct {
	Kind        string
	SQLitePath  string
	PostgresDSN string
}

// Open returns the session cache selected by cfg.Kind and a func releasing it.
func Open(ctx context.Context, cfg OpenConfig) (Store, func(), error) {
	switch cfg.Kind {
	case KindMemory:
		return NewMemoryStore(), func() {}, nil
	case KindSQLite, "":
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case KindPostgres:
		store, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres session store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Kind)
	}
}
