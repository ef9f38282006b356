package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"mintwidget/internal/chain"
	"mintwidget/internal/telemetry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrClosed = errors.New("mint flow closed")

// Listener observes every state transition, in order.
type Listener func(Status)

type Config struct {
	Account  common.Address
	Price    *big.Int // wei sent with each mint
	GasLimit uint64
	Client   chain.Client
	// Guard defaults to an in-process MemoryGuard.
	Guard Guard
}

// Flow drives mint attempts for one account:
// idle → submitted → pending → {success, failed}.
type Flow struct {
	account  common.Address
	price    *big.Int
	gasLimit uint64
	client   chain.Client
	guard    Guard
	scanner  *Scanner
	tracer   trace.Tracer

	// attempts run on the flow's context so a caller going away does not
	// abandon a transaction the wallet already signed.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	attempts  uint64
	status    Status
	listeners []Listener
}

func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Client == nil {
		return nil, errors.New("chain client is required")
	}
	if cfg.Account == (common.Address{}) {
		return nil, errors.New("account is required")
	}
	if cfg.GasLimit == 0 {
		return nil, errors.New("gas limit is required")
	}
	price := new(big.Int)
	if cfg.Price != nil {
		price.Set(cfg.Price)
	}
	guard := cfg.Guard
	if guard == nil {
		guard = NewMemoryGuard()
	}
	scanner, err := NewScanner()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		account:  cfg.Account,
		price:    price,
		gasLimit: cfg.GasLimit,
		client:   cfg.Client,
		guard:    guard,
		scanner:  scanner,
		tracer:   telemetry.Tracer("mint"),
		ctx:      ctx,
		cancel:   cancel,
		status:   Status{State: StateIdle, UpdatedAt: time.Now()},
	}, nil
}

func (f *Flow) Account() common.Address {
	return f.account
}

// OnTransition registers a listener for state changes.
func (f *Flow) OnTransition(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// Status returns a snapshot that callers may keep and modify freely.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status.clone()
}

// Start begins a new attempt. It takes the in-flight slot and moves to
// submitted before returning; submission, confirmation and the log scan run
// in the background and the result is delivered on the returned channel.
func (f *Flow) Start(ctx context.Context) (<-chan Result, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	release, err := f.guard.Acquire(ctx, f.account)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		release()
		return nil, ErrClosed
	}
	f.attempts++
	attempt := f.attempts
	f.wg.Add(1)
	f.mu.Unlock()

	// a new attempt never carries the previous token id
	f.transition(Status{State: StateSubmitted, Attempt: attempt})
	slog.Info("mint submitted", "account", f.account.Hex(), "attempt", attempt)

	done := make(chan Result, 1)
	go func() {
		defer f.wg.Done()
		res := f.execute(attempt)
		// free the slot before publishing so a caller reacting to the
		// terminal state can start the next attempt right away
		release()
		f.transition(finalStatus(res))
		done <- res
		close(done)
	}()
	return done, nil
}

// Mint runs one attempt to completion. If ctx ends first the attempt keeps
// running and ctx.Err() is returned.
func (f *Flow) Mint(ctx context.Context) (Result, error) {
	done, err := f.Start(ctx)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Dismiss returns a terminal flow to idle.
func (f *Flow) Dismiss() error {
	var err error
	f.apply(func(cur Status) (Status, bool) {
		if cur.State.InFlight() {
			err = ErrMintInFlight
			return cur, false
		}
		if cur.State == StateIdle {
			return cur, false
		}
		return Status{State: StateIdle, Attempt: cur.Attempt}, true
	})
	return err
}

// Close stops accepting attempts and waits for running ones. Attempts still
// waiting on a receipt are cancelled.
func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
	f.wg.Wait()
}

func (f *Flow) execute(attempt uint64) Result {
	ctx, span := f.tracer.Start(f.ctx, "mint.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", f.account.Hex()),
		attribute.Int64("attempt", int64(attempt)),
	)

	tx, err := f.submit(ctx)
	if err != nil {
		return f.fail(span, attempt, common.Hash{}, err)
	}
	f.transition(Status{State: StatePending, Attempt: attempt, TxHash: tx.Hash()})
	slog.Info("mint pending", "tx", tx.Hash().Hex(), "attempt", attempt)

	receipt, err := f.confirm(ctx, tx)
	if err != nil {
		return f.fail(span, attempt, tx.Hash(), err)
	}

	event, summary := f.scan(ctx, receipt)
	res := Result{
		Attempt: attempt,
		State:   StateSuccess,
		TxHash:  tx.Hash(),
		Event:   event,
		Scan:    summary,
		Outcome: OutcomeMinted,
	}
	if event == nil {
		res.Outcome = OutcomeNoEvent
		slog.Warn("mint confirmed without Minted event", "tx", tx.Hash().Hex(), "logs", summary.Logs, "malformed", summary.Malformed)
	} else {
		span.SetAttributes(attribute.String("token.id", event.TokenID.String()))
		slog.Info("mint confirmed", "tx", tx.Hash().Hex(), "token_id", event.TokenID.String())
	}
	return res
}

func finalStatus(res Result) Status {
	st := Status{
		State:   res.State,
		Attempt: res.Attempt,
		TxHash:  res.TxHash,
		Outcome: res.Outcome,
	}
	if id := res.TokenID(); id != nil {
		st.TokenID = new(big.Int).Set(id)
	}
	if res.Err != nil {
		st.Error = res.Err.Error()
		if st.Error == "" {
			st.Error = fmt.Sprintf("mint attempt %d failed", res.Attempt)
		}
	}
	return st
}

func (f *Flow) submit(ctx context.Context) (*types.Transaction, error) {
	ctx, span := f.tracer.Start(ctx, "mint.submit")
	defer span.End()

	tx, err := f.client.SubmitMint(ctx, chain.MintRequest{
		To:       f.account,
		Value:    new(big.Int).Set(f.price),
		GasLimit: f.gasLimit,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.hash", tx.Hash().Hex()))
	return tx, nil
}

func (f *Flow) confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, span := f.tracer.Start(ctx, "mint.confirm")
	defer span.End()

	receipt, err := f.client.WaitMined(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if receipt.BlockNumber != nil {
		span.SetAttributes(attribute.Int64("block.number", receipt.BlockNumber.Int64()))
	}
	return receipt, nil
}

func (f *Flow) scan(ctx context.Context, receipt *types.Receipt) (*MintedEvent, ScanSummary) {
	_, span := f.tracer.Start(ctx, "mint.scan")
	defer span.End()

	event, summary := f.scanner.Scan(receipt, func(log *types.Log, err error) {
		slog.Warn("skipping malformed Minted log", "tx", log.TxHash.Hex(), "index", log.Index, "error", err)
	})
	span.SetAttributes(
		attribute.Int("logs", summary.Logs),
		attribute.Int("logs.malformed", summary.Malformed),
		attribute.Bool("matched", event != nil),
	)
	return event, summary
}

func (f *Flow) fail(span trace.Span, attempt uint64, txHash common.Hash, err error) Result {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("mint failed", "attempt", attempt, "tx", txHash.Hex(), "error", err)

	return Result{
		Attempt: attempt,
		State:   StateFailed,
		Outcome: OutcomeFailed,
		TxHash:  txHash,
		Err:     err,
	}
}

// transition publishes next unless a newer attempt has already moved the flow on.
func (f *Flow) transition(next Status) {
	f.apply(func(cur Status) (Status, bool) {
		if next.Attempt < cur.Attempt {
			return cur, false
		}
		return next, true
	})
}

// apply updates the status under the lock and notifies listeners outside it.
func (f *Flow) apply(update func(cur Status) (Status, bool)) {
	f.mu.Lock()
	next, changed := update(f.status)
	if !changed {
		f.mu.Unlock()
		return
	}
	next.UpdatedAt = time.Now()
	f.status = next
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l(next.clone())
	}
}
