package mint

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
)

var stateMessages = map[State]string{
	StateSubmitted: "Please Accept Transaction",
	StatePending:   "Transactions sent to blockchain",
	StateSuccess:   "Yaaay new token minted",
	StateFailed:    "Ouups",
}

// Message is the status line shown to the user for the state.
func (s State) Message() string {
	return stateMessages[s]
}

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

func (s State) InFlight() bool {
	return s == StateSubmitted || s == StatePending
}

// Outcome qualifies a terminal state.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeMinted  Outcome = "minted"
	OutcomeNoEvent Outcome = "no_event"
	OutcomeFailed  Outcome = "failed"
)

// Status is a snapshot of the flow.
type Status struct {
	State     State
	Attempt   uint64
	TxHash    common.Hash
	TokenID   *big.Int
	Outcome   Outcome
	Error     string
	UpdatedAt time.Time
}

func (s Status) Message() string {
	return s.State.Message()
}

func (s Status) clone() Status {
	if s.TokenID != nil {
		s.TokenID = new(big.Int).Set(s.TokenID)
	}
	return s
}

// Result is what one mint attempt ends with.
type Result struct {
	Attempt uint64
	State   State
	Outcome Outcome
	TxHash  common.Hash
	Event   *MintedEvent
	Scan    ScanSummary
	Err     error
}

// TokenID returns the minted token, or nil when no Minted event was found.
func (r Result) TokenID() *big.Int {
	if r.Event == nil {
		return nil
	}
	return r.Event.TokenID
}
