package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the session cache in a PostgreSQL table, for setups
// where several shells share one wallet.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS wallet_sessions (
    provider TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    chain_id BIGINT NOT NULL,
    connected_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, provider string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT provider, address, chain_id, connected_at, expires_at
FROM wallet_sessions
WHERE provider = $1
`, provider)

	var rec Record
	if err := row.Scan(&rec.Provider, &rec.Address, &rec.ChainID, &rec.ConnectedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = p.Delete(ctx, provider)
		return nil, nil
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO wallet_sessions (provider, address, chain_id, connected_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (provider) DO UPDATE
SET address = EXCLUDED.address,
    chain_id = EXCLUDED.chain_id,
    connected_at = EXCLUDED.connected_at,
    expires_at = EXCLUDED.expires_at
`, record.Provider, record.Address, record.ChainID, record.ConnectedAt, record.ExpiresAt)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, provider string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM wallet_sessions WHERE provider = $1`, provider)
	return err
}
