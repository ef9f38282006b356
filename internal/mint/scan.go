package mint

import (
	"errors"
	"fmt"
	"math/big"

	"mintwidget/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Classification int

const (
	Unrelated Classification = iota
	Malformed
	Matched
)

func (c Classification) String() string {
	switch c {
	case Matched:
		return "matched"
	case Malformed:
		return "malformed"
	default:
		return "unrelated"
	}
}

// MintedEvent is a decoded Minted log.
type MintedEvent struct {
	Recipient common.Address
	TokenID   *big.Int
	Contract  common.Address
	LogIndex  uint
}

type ScanSummary struct {
	Logs      int
	Unrelated int
	Malformed int
	Matched   int
}

// Scanner finds the Minted event in a receipt.
type Scanner struct {
	abi     abi.ABI
	event   abi.Event
	indexed abi.Arguments
}

func NewScanner() (*Scanner, error) {
	parsed, err := contracts.ParseMinterABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	event, ok := parsed.Events[contracts.MintedEvent]
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", contracts.MintedEvent)
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return &Scanner{abi: parsed, event: event, indexed: indexed}, nil
}

// Classify decodes one log without panicking or swallowing anything: a log is
// unrelated when it is not the Minted event, malformed when it claims to be
// one but does not decode.
func (s *Scanner) Classify(log *types.Log) (Classification, *MintedEvent, error) {
	if log == nil || len(log.Topics) == 0 {
		return Unrelated, nil, nil
	}
	event, err := s.abi.EventByID(log.Topics[0])
	if err != nil || event.Name != s.event.Name {
		return Unrelated, nil, nil
	}

	if len(log.Topics)-1 != len(s.indexed) {
		return Malformed, nil, fmt.Errorf("expected %d indexed topics, got %d", len(s.indexed), len(log.Topics)-1)
	}
	values := make(map[string]interface{})
	if err := s.event.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return Malformed, nil, fmt.Errorf("unpack data: %w", err)
	}
	if err := abi.ParseTopicsIntoMap(values, s.indexed, log.Topics[1:]); err != nil {
		return Malformed, nil, fmt.Errorf("parse topics: %w", err)
	}

	tokenID, ok := values["tokenId"].(*big.Int)
	if !ok {
		return Malformed, nil, errors.New("tokenId missing from event")
	}
	recipient, ok := values["recipient"].(common.Address)
	if !ok {
		return Malformed, nil, errors.New("recipient missing from event")
	}
	return Matched, &MintedEvent{
		Recipient: recipient,
		TokenID:   tokenID,
		Contract:  log.Address,
		LogIndex:  log.Index,
	}, nil
}

// Scan walks the receipt logs in order and returns the first matched event.
// Malformed logs are reported through onMalformed and skipped.
func (s *Scanner) Scan(receipt *types.Receipt, onMalformed func(log *types.Log, err error)) (*MintedEvent, ScanSummary) {
	var summary ScanSummary
	if receipt == nil {
		return nil, summary
	}
	for _, log := range receipt.Logs {
		summary.Logs++
		class, event, err := s.Classify(log)
		switch class {
		case Matched:
			summary.Matched++
			return event, summary
		case Malformed:
			summary.Malformed++
			if onMalformed != nil {
				onMalformed(log, err)
			}
		default:
			summary.Unrelated++
		}
	}
	return nil, summary
}
