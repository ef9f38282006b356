package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrReverted = errors.New("transaction reverted")

// Client abstracts the on-chain mint interaction.
type Client interface {
	SubmitMint(ctx context.Context, req MintRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// HealthChecker is implemented by clients that can check their RPC node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type MintRequest struct {
	To       common.Address
	Value    *big.Int // wei
	GasLimit uint64
}
