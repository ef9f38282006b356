package session

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	rec := testRecord("test-provider", time.Minute)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, rec.Provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Address != rec.Address {
		t.Fatalf("unexpected record: %#v", got)
	}

	if err := store.Delete(ctx, rec.Provider); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
