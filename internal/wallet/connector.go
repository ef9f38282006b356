package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"mintwidget/internal/session"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrNotConnected = errors.New("wallet not connected")
	ErrWrongNetwork = errors.New("wallet connected to unexpected network")
	ErrClosed       = errors.New("wallet connector closed")
)

// Backend is the provider handle: everything the mint path needs from an RPC node.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a Backend for an RPC url.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthClient(ctx context.Context, rpcURL string) (Backend, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

type Config struct {
	RPCURL             string
	PrivateKeyHex      string
	KeystorePath       string
	KeystorePassphrase string
	// ExpectedChainID rejects connections to any other network when non-zero.
	ExpectedChainID int64
	SessionTTL      time.Duration
	Dialer          Dialer
}

// Connector negotiates one wallet session. It is created with Open and must be
// released with Close; there is no package-level instance.
type Connector struct {
	cfg      Config
	store    session.Store
	provider string
	dial     Dialer

	mu      sync.RWMutex
	closed  bool
	backend Backend
	address common.Address
	chainID *big.Int
	signer  *bind.TransactOpts
}

// Open validates the configuration and returns a disconnected connector.
func Open(cfg Config, store session.Store) (*Connector, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	provider, err := providerID(cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = session.NewMemoryStore()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = dialEthClient
	}
	return &Connector{
		cfg:      cfg,
		store:    store,
		provider: provider,
		dial:     dial,
	}, nil
}

// Provider identifies the signing source in the session cache.
func (c *Connector) Provider() string {
	return c.provider
}

// Connect dials the provider, loads the signer and records the session.
// Calling it on a connected connector is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.backend != nil {
		return nil
	}

	key, err := loadKey(c.cfg)
	if err != nil {
		return err
	}

	backend, err := c.dial(ctx, c.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return fmt.Errorf("fetch chain id: %w", err)
	}
	if c.cfg.ExpectedChainID != 0 && chainID.Int64() != c.cfg.ExpectedChainID {
		backend.Close()
		return fmt.Errorf("%w: got %s, want %d", ErrWrongNetwork, chainID, c.cfg.ExpectedChainID)
	}

	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		backend.Close()
		return fmt.Errorf("transactor: %w", err)
	}

	c.backend = backend
	c.address = signer.From
	c.chainID = chainID
	c.signer = signer

	now := time.Now().UTC()
	if err := c.store.Save(ctx, session.Record{
		Provider:    c.provider,
		Address:     c.address.Hex(),
		ChainID:     chainID.Int64(),
		ConnectedAt: now,
		ExpiresAt:   now.Add(c.cfg.SessionTTL),
	}); err != nil {
		slog.Warn("session cache save failed", "provider", c.provider, "error", err)
	}

	slog.Info("wallet connected", "address", c.address.Hex(), "chain_id", chainID.String())
	return nil
}

// Restore connects automatically when the session cache holds a record for
// this provider. It reports whether a connection was made.
func (c *Connector) Restore(ctx context.Context) (bool, error) {
	rec, err := c.store.Get(ctx, c.provider)
	if err != nil {
		return false, fmt.Errorf("read session cache: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	if addr := c.Address(); !common.IsHexAddress(rec.Address) || common.HexToAddress(rec.Address) != addr {
		slog.Warn("cached session address replaced", "cached", rec.Address, "address", addr.Hex())
	}
	return true, nil
}

// Disconnect drops the provider handle and forgets the cached session.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.release()
	c.mu.Unlock()
	return c.store.Delete(ctx, c.provider)
}

// Close tears the connector down. The session cache is kept so the next
// Open/Restore reconnects.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
	c.closed = true
	return nil
}

func (c *Connector) release() {
	if c.backend != nil {
		c.backend.Close()
	}
	c.backend = nil
	c.signer = nil
	c.chainID = nil
	c.address = common.Address{}
}

func (c *Connector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// Address returns the connected account, or the zero address when disconnected.
func (c *Connector) Address() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

func (c *Connector) ChainID() (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, ErrNotConnected
	}
	return new(big.Int).Set(c.chainID), nil
}

// Signer returns transact options bound to the connected account and ctx.
func (c *Connector) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.signer == nil {
		return nil, ErrNotConnected
	}
	opts := *c.signer
	opts.Context = ctx
	return &opts, nil
}

func (c *Connector) Backend() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, ErrNotConnected
	}
	return c.backend, nil
}

func (c *Connector) Ping(ctx context.Context) error {
	backend, err := c.Backend()
	if err != nil {
		return err
	}
	_, err = backend.BlockNumber(ctx)
	return err
}
