package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"mintwidget/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeClient emulates the minter contract without a node: every mint is
// confirmed with a Minted log carrying an incrementing token id.
// Used by tests and the CLI dry run.
type FakeClient struct {
	Contract common.Address
	// SubmitErr and WaitErr, when set, fail the matching step.
	SubmitErr error
	WaitErr   error
	// Logs replaces the generated receipt logs when set.
	Logs func(req MintRequest, tokenID *big.Int) []*types.Log
	// Release, when non-nil, holds WaitMined until it is closed.
	Release chan struct{}

	mu        sync.Mutex
	nonce     uint64
	pending   map[common.Hash]MintRequest
	submitted []MintRequest
}

func (f *FakeClient) SubmitMint(ctx context.Context, req MintRequest) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	nonce := f.nonce
	f.nonce++
	to := f.Contract
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", req.To.Hex(), nonce)))
	tx := types.NewTx(&types.LegacyTx{
		Nonce: nonce,
		To:    &to,
		Value: req.Value,
		Gas:   req.GasLimit,
		Data:  sum[:],
	})

	if f.pending == nil {
		f.pending = make(map[common.Hash]MintRequest)
	}
	f.pending[tx.Hash()] = req
	f.submitted = append(f.submitted, req)
	return tx, nil
}

func (f *FakeClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.Release != nil {
		select {
		case <-f.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.WaitErr != nil {
		return nil, f.WaitErr
	}

	f.mu.Lock()
	req, ok := f.pending[tx.Hash()]
	delete(f.pending, tx.Hash())
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tx.Hash().Hex())
	}

	tokenID := new(big.Int).SetUint64(tx.Nonce() + 1)
	var logs []*types.Log
	if f.Logs != nil {
		logs = f.Logs(req, tokenID)
	} else {
		log, err := EncodeMintedLog(f.Contract, req.To, tokenID)
		if err != nil {
			return nil, err
		}
		logs = []*types.Log{log}
	}
	for i, log := range logs {
		log.TxHash = tx.Hash()
		log.Index = uint(i)
	}

	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: tx.Hash(),
		Logs:   logs,
	}, nil
}

// Submitted returns the mint requests seen so far.
func (f *FakeClient) Submitted() []MintRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MintRequest(nil), f.submitted...)
}

// EncodeMintedLog builds the log the minter contract emits for a mint.
func EncodeMintedLog(contract, recipient common.Address, tokenID *big.Int) (*types.Log, error) {
	parsed, err := contracts.ParseMinterABI()
	if err != nil {
		return nil, err
	}
	event := parsed.Events[contracts.MintedEvent]
	data, err := event.Inputs.NonIndexed().Pack(tokenID)
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID, common.BytesToHash(recipient.Bytes())},
		Data:    data,
	}, nil
}
