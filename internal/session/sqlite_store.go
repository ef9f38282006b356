package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the session cache in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

const createSQLiteTableSQL = `
CREATE TABLE IF NOT EXISTS wallet_sessions (
    provider TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    chain_id INTEGER NOT NULL,
    connected_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
)`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps writes serialized on the file
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createSQLiteTableSQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, provider string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT provider, address, chain_id, connected_at, expires_at
FROM wallet_sessions
WHERE provider = ?`, provider)

	var (
		rec                  Record
		connected, expiresAt int64
	)
	if err := row.Scan(&rec.Provider, &rec.Address, &rec.ChainID, &connected, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.ConnectedAt = time.Unix(0, connected).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()

	if time.Now().After(rec.ExpiresAt) {
		_ = s.Delete(ctx, provider)
		return nil, nil
	}
	return &rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wallet_sessions (provider, address, chain_id, connected_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
    address = excluded.address,
    chain_id = excluded.chain_id,
    connected_at = excluded.connected_at,
    expires_at = excluded.expires_at`,
		record.Provider, record.Address, record.ChainID,
		record.ConnectedAt.UnixNano(), record.ExpiresAt.UnixNano())
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wallet_sessions WHERE provider = ?`, provider)
	return err
}
