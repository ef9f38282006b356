package mint

import (
	"math/big"
	"testing"

	"mintwidget/internal/chain"
	"mintwidget/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testContract  = common.HexToAddress(contracts.DefaultMinterAddress)
	testRecipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func mintedLog(t *testing.T, tokenID int64) *types.Log {
	t.Helper()
	log, err := chain.EncodeMintedLog(testContract, testRecipient, big.NewInt(tokenID))
	if err != nil {
		t.Fatalf("encode minted log: %v", err)
	}
	return log
}

func transferLog() *types.Log {
	return &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
			{}, {}, common.BigToHash(big.NewInt(3)),
		},
	}
}

func TestClassify(t *testing.T) {
	scanner, err := NewScanner()
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}

	good := mintedLog(t, 7)
	missingTopic := mintedLog(t, 7)
	missingTopic.Topics = missingTopic.Topics[:1]
	shortData := mintedLog(t, 7)
	shortData.Data = shortData.Data[:4]

	cases := []struct {
		name string
		log  *types.Log
		want Classification
	}{
		{"minted", good, Matched},
		{"other event", transferLog(), Unrelated},
		{"anonymous", &types.Log{Address: testContract}, Unrelated},
		{"nil", nil, Unrelated},
		{"missing indexed topic", missingTopic, Malformed},
		{"truncated data", shortData, Malformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class, event, err := scanner.Classify(tc.log)
			if class != tc.want {
				t.Fatalf("expected %s, got %s (err %v)", tc.want, class, err)
			}
			switch class {
			case Matched:
				if event == nil || event.TokenID.Int64() != 7 || event.Recipient != testRecipient {
					t.Fatalf("unexpected event %+v", event)
				}
			case Malformed:
				if err == nil {
					t.Fatalf("malformed log should carry an error")
				}
			default:
				if event != nil || err != nil {
					t.Fatalf("unrelated log should be silent, got %+v / %v", event, err)
				}
			}
		})
	}
}

func TestScanPicksFirstMatchAndSkipsNoise(t *testing.T) {
	scanner, err := NewScanner()
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	broken := mintedLog(t, 1)
	broken.Data = nil

	receipt := &types.Receipt{Logs: []*types.Log{
		transferLog(),
		broken,
		mintedLog(t, 5),
		mintedLog(t, 9),
	}}

	var reported int
	event, summary := scanner.Scan(receipt, func(*types.Log, error) { reported++ })
	if event == nil || event.TokenID.Int64() != 5 {
		t.Fatalf("expected first Minted event (5), got %+v", event)
	}
	if reported != 1 || summary.Malformed != 1 || summary.Unrelated != 1 || summary.Matched != 1 {
		t.Fatalf("unexpected summary %+v (reported %d)", summary, reported)
	}
	if summary.Logs != 3 {
		t.Fatalf("scan should stop at the first match, walked %d logs", summary.Logs)
	}
}

func TestScanWithoutMatch(t *testing.T) {
	scanner, err := NewScanner()
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	event, summary := scanner.Scan(&types.Receipt{Logs: []*types.Log{transferLog()}}, nil)
	if event != nil {
		t.Fatalf("expected no event, got %+v", event)
	}
	if summary.Unrelated != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if event, _ := scanner.Scan(nil, nil); event != nil {
		t.Fatalf("nil receipt should scan to nothing")
	}
}
