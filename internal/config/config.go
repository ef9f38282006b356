package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mintwidget/internal/contracts"

	"github.com/shopspring/decimal"
)

const (
	DefaultMetadataBaseURI = "ipfs://bafybeifx4gwcqivqppatsqsgvkvncyjms6ahub535nocnvsgkmeyxnvz3a/"
	DefaultIPFSGateway     = "https://cloudflare-ipfs.com/ipfs/"

	SessionStoreMemory   = "memory"
	SessionStoreSQLite   = "sqlite"
	SessionStorePostgres = "postgres"

	weiDecimals = 18
)

// DeploymentConfig represents deployment.json.
type DeploymentConfig struct {
	ChainID   int64 `json:"chainId"`
	Contracts struct {
		Minter string `json:"minter"`
	} `json:"contracts"`
	Mint struct {
		Price    string `json:"price"`
		GasLimit uint64 `json:"gasLimit"`
	} `json:"mint"`
	Metadata struct {
		BaseURI string `json:"baseUri"`
		Gateway string `json:"gateway"`
	} `json:"metadata"`
}

// AppConfig ties together the deployment file, environment and derived values.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Mint       MintConfig
	Metadata   MetadataConfig
	Session    SessionConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServiceConfig struct {
	HTTPAddr      string
	HMACSecret    string
	HMACClockSkew time.Duration
	// AllowedOrigins are browser origins besides loopback ones that may call
	// the signed routes.
	AllowedOrigins []string
}

type ChainConfig struct {
	RPCURL             string
	ChainID            int64
	PrivateKey         string
	KeystorePath       string
	KeystorePassphrase string
	PollInterval       time.Duration
}

type MintConfig struct {
	Contract  string
	Price     string
	PriceWei  *big.Int
	GasLimit  uint64
	RedisAddr string
	LockTTL   time.Duration
}

type MetadataConfig struct {
	BaseURI string
	Gateway string
	Timeout time.Duration
}

type SessionConfig struct {
	Kind        string
	SQLitePath  string
	PostgresDSN string
	TTL         time.Duration
}

type TelemetryConfig struct {
	OtelEndpoint string
}

type LogConfig struct {
	Level string
	File  string
}

const defaultDeploymentPath = "./deployment.json"

// Load aggregates configuration from the deployment file and the given environment.
// Environment values win over the file, the file wins over built-in defaults.
func Load(source EnvSource) (*AppConfig, error) {
	if source == nil {
		return nil, errors.New("env source is required")
	}

	deployCfg, err := loadDeployment(source)
	if err != nil {
		return nil, fmt.Errorf("load deployment: %w", err)
	}

	chainID, err := envOrInt64(source, "CHAIN_ID", deployCfg.ChainID)
	if err != nil {
		return nil, err
	}
	pollInterval, err := envOrDuration(source, "RECEIPT_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	chainCfg := ChainConfig{
		RPCURL:             envOr(source, "CHAIN_RPC_URL", ""),
		ChainID:            chainID,
		PrivateKey:         envOr(source, "CHAIN_PRIVATE_KEY", ""),
		KeystorePath:       envOr(source, "CHAIN_KEYSTORE_PATH", ""),
		KeystorePassphrase: envOr(source, "CHAIN_KEYSTORE_PASSPHRASE", ""),
		PollInterval:       pollInterval,
	}

	mintCfg, err := loadMint(source, deployCfg)
	if err != nil {
		return nil, err
	}

	metadataTimeout, err := envOrDuration(source, "METADATA_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	metadataCfg := MetadataConfig{
		BaseURI: envOr(source, "METADATA_BASE_URI", orDefault(deployCfg.Metadata.BaseURI, DefaultMetadataBaseURI)),
		Gateway: envOr(source, "IPFS_GATEWAY", orDefault(deployCfg.Metadata.Gateway, DefaultIPFSGateway)),
		Timeout: metadataTimeout,
	}

	sessionCfg, err := loadSession(source)
	if err != nil {
		return nil, err
	}

	skew, err := envOrInt64(source, "HMAC_CLOCK_SKEW_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	serviceCfg := ServiceConfig{
		HTTPAddr:       envOr(source, "API_HTTP_ADDR", "127.0.0.1:3000"),
		HMACSecret:     envOr(source, "SHELL_HMAC_SECRET", ""),
		HMACClockSkew:  time.Duration(skew) * time.Second,
		AllowedOrigins: splitList(envOr(source, "SHELL_ALLOWED_ORIGINS", "")),
	}
	if serviceCfg.HMACSecret == "" && !loopbackAddr(serviceCfg.HTTPAddr) {
		return nil, fmt.Errorf("SHELL_HMAC_SECRET is required when listening on %s", serviceCfg.HTTPAddr)
	}

	return &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Mint:       mintCfg,
		Metadata:   metadataCfg,
		Session:    sessionCfg,
		Telemetry:  TelemetryConfig{OtelEndpoint: strings.TrimSpace(envOr(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""))},
		Log: LogConfig{
			Level: envOr(source, "LOG_LEVEL", "info"),
			File:  envOr(source, "LOG_FILE", ""),
		},
	}, nil
}

func loadDeployment(source EnvSource) (*DeploymentConfig, error) {
	path, explicit := source.Lookup("DEPLOYMENT_PATH")
	if !explicit || strings.TrimSpace(path) == "" {
		path = defaultDeploymentPath
		explicit = false
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return &DeploymentConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadMint(source EnvSource, deployCfg *DeploymentConfig) (MintConfig, error) {
	price := envOr(source, "MINT_PRICE", orDefault(deployCfg.Mint.Price, contracts.DefaultMintPrice))
	priceWei, err := ParseEther(price)
	if err != nil {
		return MintConfig{}, fmt.Errorf("invalid MINT_PRICE: %w", err)
	}

	gasDefault := deployCfg.Mint.GasLimit
	if gasDefault == 0 {
		gasDefault = contracts.DefaultMintGasLimit
	}
	gasLimit, err := envOrUint64(source, "MINT_GAS_LIMIT", gasDefault)
	if err != nil {
		return MintConfig{}, err
	}

	lockTTL, err := envOrDuration(source, "MINT_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return MintConfig{}, err
	}

	return MintConfig{
		Contract:  envOr(source, "MINTER_CONTRACT", orDefault(deployCfg.Contracts.Minter, contracts.DefaultMinterAddress)),
		Price:     price,
		PriceWei:  priceWei,
		GasLimit:  gasLimit,
		RedisAddr: strings.TrimSpace(envOr(source, "REDIS_ADDR", "")),
		LockTTL:   lockTTL,
	}, nil
}

func loadSession(source EnvSource) (SessionConfig, error) {
	kind := strings.ToLower(envOr(source, "SESSION_STORE", SessionStoreSQLite))
	switch kind {
	case SessionStoreMemory, SessionStoreSQLite, SessionStorePostgres:
	default:
		return SessionConfig{}, fmt.Errorf("invalid SESSION_STORE: %s", kind)
	}
	ttl, err := envOrDuration(source, "SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	cfg := SessionConfig{
		Kind:        kind,
		SQLitePath:  envOr(source, "SESSION_SQLITE_PATH", filepath.Join(os.TempDir(), "mintwidget-session.db")),
		PostgresDSN: envOr(source, "SESSION_POSTGRES_DSN", ""),
		TTL:         ttl,
	}
	if kind == SessionStorePostgres && cfg.PostgresDSN == "" {
		return SessionConfig{}, errors.New("SESSION_POSTGRES_DSN is required for postgres session store")
	}
	return cfg, nil
}

// ParseEther converts a decimal amount of the native currency into wei.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	wei := d.Shift(weiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, weiDecimals)
	}
	return wei.BigInt(), nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func envOr(source EnvSource, key, fallback string) string {
	if val, ok := source.Lookup(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt64(source EnvSource, key string, fallback int64) (int64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func envOrUint64(source EnvSource, key string, fallback uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func envOrDuration(source EnvSource, key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loopbackAddr reports whether addr only accepts connections from this host.
// An empty host listens on every interface.
func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
