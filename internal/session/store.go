package session

import (
	"context"
	"sync"
	"time"
)

// Record is the connector's cached view of the last connected provider.
type Record struct {
	Provider    string    `json:"provider"`
	Address     string    `json:"address"`
	ChainID     int64     `json:"chainId"`
	ConnectedAt time.Time `json:"connectedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store abstracts session cache persistence. Get returns nil, nil for a
// missing or expired record.
type Store interface {
	Get(ctx context.Context, provider string) (*Record, error)
	Save(ctx context.Context, record Record) error
	Delete(ctx context.Context, provider string) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, provider string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[provider]
	if !ok {
		return nil, nil
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.Provider] = record
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, provider)
	return nil
}
