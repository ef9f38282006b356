package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mintwidget/internal/contracts"
	"mintwidget/internal/wallet"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Wallet is the part of the connector the chain client signs and sends with.
type Wallet interface {
	Signer(ctx context.Context) (*bind.TransactOpts, error)
	Backend() (wallet.Backend, error)
}

// EthClient submits mint transactions to the minter contract.
type EthClient struct {
	wallet       Wallet
	abi          abi.ABI
	address      common.Address
	pollInterval time.Duration
}

type EthClientConfig struct {
	ContractMinter string
	PollInterval   time.Duration
}

func NewEthClient(w Wallet, cfg EthClientConfig) (*EthClient, error) {
	if w == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if cfg.ContractMinter == "" {
		return nil, fmt.Errorf("minter address is required")
	}

	parsedABI, err := contracts.ParseMinterABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EthClient{
		wallet:       w,
		abi:          parsedABI,
		address:      common.HexToAddress(cfg.ContractMinter),
		pollInterval: poll,
	}, nil
}

func (c *EthClient) SubmitMint(ctx context.Context, req MintRequest) (*types.Transaction, error) {
	backend, err := c.wallet.Backend()
	if err != nil {
		return nil, err
	}
	opts, err := c.wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = req.Value
	opts.GasLimit = req.GasLimit

	bound := bind.NewBoundContract(c.address, c.abi, backend, backend, backend)
	tx, err := bound.Transact(opts, contracts.MintMethod, req.To)
	if err != nil {
		return nil, fmt.Errorf("mint tx: %w", err)
	}
	return tx, nil
}

func (c *EthClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	backend, err := c.wallet.Backend()
	if err != nil {
		return nil, err
	}
	receipt, err := WaitForReceipt(ctx, backend, tx, c.pollInterval)
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	backend, err := c.wallet.Backend()
	if err != nil {
		return err
	}
	_, err = backend.BlockNumber(ctx)
	return err
}

// ReceiptFetcher is the single RPC call the confirmation wait needs.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client ReceiptFetcher, tx *types.Transaction, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
