package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MinterABI is the subset of the minter contract the widget talks to: the
// payable mint and the event it emits.
var MinterABI = []byte(`[
  {
    "inputs": [{"internalType": "address", "name": "to", "type": "address"}],
    "name": "mint",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ],
    "name": "Minted",
    "type": "event"
  }
]`)

const (
	MintMethod  = "mint"
	MintedEvent = "Minted"

	DefaultMinterAddress = "0x5A822a4a563B649A6E8Fb8b9df1c087eF6223dc5"
	DefaultMintPrice     = "0.0001"
	DefaultMintGasLimit  = uint64(300000)
)

func ParseMinterABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(string(MinterABI)))
}
