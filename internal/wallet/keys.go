package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	providerPrivateKey = "privatekey"
	providerKeystore   = "keystore"
)

func providerID(cfg Config) (string, error) {
	switch {
	case cfg.KeystorePath != "":
		abs, err := filepath.Abs(cfg.KeystorePath)
		if err != nil {
			return "", fmt.Errorf("keystore path: %w", err)
		}
		return providerKeystore + ":" + abs, nil
	case cfg.PrivateKeyHex != "":
		return providerPrivateKey, nil
	default:
		return "", errors.New("private key or keystore path is required")
	}
}

func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.KeystorePath != "" {
		blob, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore: %w", err)
		}
		key, err := keystore.DecryptKey(blob, cfg.KeystorePassphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	}
	return parsePrivateKey(cfg.PrivateKeyHex)
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
