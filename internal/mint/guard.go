package mint

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrMintInFlight = errors.New("a mint is already in flight for this account")

// Guard allows one mint in flight per account. Acquire returns ErrMintInFlight
// when the slot is taken; the returned release frees it.
type Guard interface {
	Acquire(ctx context.Context, account common.Address) (release func(), err error)
}

// MemoryGuard guards attempts within one process.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[common.Address]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[common.Address]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, account common.Address) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[account]; busy {
		return nil, ErrMintInFlight
	}
	g.held[account] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, account)
			g.mu.Unlock()
		})
	}, nil
}
