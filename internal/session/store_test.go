package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testRecord(provider string, ttl time.Duration) Record {
	now := time.Now().UTC()
	return Record{
		Provider:    provider,
		Address:     "0x00000000000000000000000000000000000000aa",
		ChainID:     1,
		ConnectedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing provider")
	}

	if err := store.Save(ctx, testRecord("key", time.Minute)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, _ := store.Get(ctx, "key")
	if got == nil || got.ChainID != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec, _ := store.Get(ctx, "key"); rec != nil {
		t.Fatalf("expected record to be deleted")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, testRecord("old", -time.Second)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec, _ := store.Get(ctx, "old"); rec != nil {
		t.Fatalf("expected expired record to be hidden")
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	record := testRecord("privatekey:0xaa", time.Hour)
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	defer store2.Close()

	got, err := store2.Get(ctx, record.Provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Address != record.Address {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("expiry not preserved: %v vs %v", got.ExpiresAt, record.ExpiresAt)
	}

	if err := store2.Delete(ctx, record.Provider); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec, _ := store2.Get(ctx, record.Provider); rec != nil {
		t.Fatalf("expected record to be deleted")
	}
}

func TestSQLiteStoreDropsExpired(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testRecord("stale", -time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec, err := store.Get(ctx, "stale"); err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v (err %v)", rec, err)
	}
}

func TestOpenSelectsStore(t *testing.T) {
	ctx := context.Background()

	store, release, err := Open(ctx, OpenConfig{Kind: KindMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	release()
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	store, release, err = Open(ctx, OpenConfig{Kind: KindSQLite, SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer release()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}

	if _, _, err := Open(ctx, OpenConfig{Kind: "redis"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
