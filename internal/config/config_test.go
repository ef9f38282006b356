package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mintwidget/internal/contracts"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{"DEPLOYMENT_PATH": ""})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mint.Contract != contracts.DefaultMinterAddress {
		t.Fatalf("unexpected contract %s", cfg.Mint.Contract)
	}
	if cfg.Mint.PriceWei.String() != "100000000000000" {
		t.Fatalf("expected 1e14 wei, got %s", cfg.Mint.PriceWei)
	}
	if cfg.Mint.GasLimit != 300000 {
		t.Fatalf("expected gas limit 300000, got %d", cfg.Mint.GasLimit)
	}
	if cfg.Metadata.BaseURI != DefaultMetadataBaseURI || cfg.Metadata.Gateway != DefaultIPFSGateway {
		t.Fatalf("unexpected metadata config: %+v", cfg.Metadata)
	}
	if cfg.Session.Kind != SessionStoreSQLite {
		t.Fatalf("expected sqlite session store, got %s", cfg.Session.Kind)
	}
	if cfg.Service.HTTPAddr != "127.0.0.1:3000" {
		t.Fatalf("unexpected http addr %s", cfg.Service.HTTPAddr)
	}
}

func TestLoadEnvOverridesDeploymentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.json")
	blob := `{
	  "chainId": 5,
	  "contracts": {"minter": "0x0000000000000000000000000000000000000001"},
	  "mint": {"price": "0.5", "gasLimit": 120000},
	  "metadata": {"baseUri": "ipfs://file-base/"}
	}`
	if err := os.WriteFile(path, []byte(blob), 0o600); err != nil {
		t.Fatalf("write deployment: %v", err)
	}

	cfg, err := Load(EnvMap{
		"DEPLOYMENT_PATH":       path,
		"MINT_GAS_LIMIT":        "250000",
		"IPFS_GATEWAY":          "https://gw.example/ipfs/",
		"RECEIPT_POLL_INTERVAL": "250ms",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Chain.ChainID != 5 {
		t.Fatalf("expected chain id from file, got %d", cfg.Chain.ChainID)
	}
	if cfg.Mint.Contract != "0x0000000000000000000000000000000000000001" {
		t.Fatalf("expected contract from file, got %s", cfg.Mint.Contract)
	}
	if cfg.Mint.PriceWei.String() != "500000000000000000" {
		t.Fatalf("unexpected price %s", cfg.Mint.PriceWei)
	}
	if cfg.Mint.GasLimit != 250000 {
		t.Fatalf("expected env gas limit, got %d", cfg.Mint.GasLimit)
	}
	if cfg.Metadata.BaseURI != "ipfs://file-base/" {
		t.Fatalf("expected base uri from file, got %s", cfg.Metadata.BaseURI)
	}
	if cfg.Metadata.Gateway != "https://gw.example/ipfs/" {
		t.Fatalf("expected gateway from env, got %s", cfg.Metadata.Gateway)
	}
	if cfg.Chain.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.Chain.PollInterval)
	}
}

func TestLoadMissingExplicitDeployment(t *testing.T) {
	_, err := Load(EnvMap{"DEPLOYMENT_PATH": filepath.Join(t.TempDir(), "missing.json")})
	if err == nil {
		t.Fatalf("expected error for missing deployment file")
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	_, err := Load(EnvMap{"SESSION_STORE": "postgres"})
	if err == nil {
		t.Fatalf("expected error without SESSION_POSTGRES_DSN")
	}
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.0001")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if wei.String() != "100000000000000" {
		t.Fatalf("unexpected wei %s", wei)
	}

	if _, err := ParseEther("0.0000000000000000001"); err == nil {
		t.Fatalf("expected error for sub-wei precision")
	}
	if _, err := ParseEther("-1"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, err := ParseEther("abc"); err == nil {
		t.Fatalf("expected error for non-numeric amount")
	}
}

func TestLoadAllowedOrigins(t *testing.T) {
	cfg, err := Load(EnvMap{
		"DEPLOYMENT_PATH":       "",
		"SHELL_ALLOWED_ORIGINS": " https://widget.example , ,http://kiosk.lan:8080",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.Service.AllowedOrigins
	if len(got) != 2 || got[0] != "https://widget.example" || got[1] != "http://kiosk.lan:8080" {
		t.Fatalf("unexpected allowed origins %q", got)
	}
}

func TestLoadRequiresSecretOffLoopback(t *testing.T) {
	for _, addr := range []string{":3000", "0.0.0.0:3000", "192.168.1.20:3000"} {
		if _, err := Load(EnvMap{"DEPLOYMENT_PATH": "", "API_HTTP_ADDR": addr}); err == nil {
			t.Fatalf("%s: expected error without SHELL_HMAC_SECRET", addr)
		}
	}
	for _, addr := range []string{"127.0.0.1:3000", "localhost:3000", "[::1]:3000"} {
		if _, err := Load(EnvMap{"DEPLOYMENT_PATH": "", "API_HTTP_ADDR": addr}); err != nil {
			t.Fatalf("%s: unexpected error %v", addr, err)
		}
	}
	cfg, err := Load(EnvMap{"DEPLOYMENT_PATH": "", "API_HTTP_ADDR": ":3000", "SHELL_HMAC_SECRET": "s3cret"})
	if err != nil {
		t.Fatalf("load with secret: %v", err)
	}
	if cfg.Service.HTTPAddr != ":3000" {
		t.Fatalf("unexpected http addr %s", cfg.Service.HTTPAddr)
	}
}
