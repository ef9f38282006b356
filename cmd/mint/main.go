package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"mintwidget/internal/chain"
	"mintwidget/internal/config"
	"mintwidget/internal/logging"
	"mintwidget/internal/metadata"
	"mintwidget/internal/mint"
	"mintwidget/internal/session"
	"mintwidget/internal/telemetry"
	"mintwidget/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
)

// dryRunAccount receives fake mints when no wallet is used.
const dryRunAccount = "0x000000000000000000000000000000000000dEaD"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 1 for setup or mint failures, 2 for bad
// flags or when the token was minted but its metadata could not be read.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "mint against an in-memory contract instead of the RPC node")
	timeout := fs.Duration("timeout", 5*time.Minute, "give up waiting for the receipt after this long")
	skipMetadata := fs.Bool("skip-metadata", false, "do not fetch the minted token's metadata")
	forget := fs.Bool("forget", false, "disconnect and clear the cached wallet session, then exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	logFile, err := logging.Init(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(stderr, "logging error: %v\n", err)
		return 1
	}
	defer logFile.Close()

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, "mintwidget-cli", cfg.Telemetry.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	account, client, closeWallet, err := connect(ctx, cfg, *dryRun, *forget)
	if err != nil {
		slog.Error("wallet error", "error", err)
		return 1
	}
	defer closeWallet()
	if *forget {
		fmt.Fprintln(stdout, "wallet session cleared")
		return 0
	}

	var guard mint.Guard
	if cfg.Mint.RedisAddr != "" && !*dryRun {
		redisGuard, err := mint.NewRedisGuard(ctx, mint.RedisGuardConfig{Addr: cfg.Mint.RedisAddr, TTL: cfg.Mint.LockTTL})
		if err != nil {
			slog.Error("redis guard error", "error", err)
			return 1
		}
		defer redisGuard.Close()
		guard = redisGuard
	}

	flow, err := mint.NewFlow(mint.Config{
		Account:  account,
		Price:    cfg.Mint.PriceWei,
		GasLimit: cfg.Mint.GasLimit,
		Client:   client,
		Guard:    guard,
	})
	if err != nil {
		slog.Error("mint flow error", "error", err)
		return 1
	}
	defer flow.Close()
	flow.OnTransition(func(s mint.Status) {
		if msg := s.Message(); msg != "" {
			fmt.Fprintln(stdout, msg)
		}
	})

	mintCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	res, err := flow.Mint(mintCtx)
	if err != nil {
		fmt.Fprintf(stderr, "mint not completed: %v\n", err)
		return 1
	}
	if res.Err != nil {
		fmt.Fprintf(stderr, "mint failed: %v\n", res.Err)
		return 1
	}

	fmt.Fprintf(stdout, "tx:    %s\n", res.TxHash.Hex())
	tokenID := res.TokenID()
	if tokenID == nil {
		fmt.Fprintln(stdout, "token: none (no Minted event in receipt)")
		return 0
	}
	fmt.Fprintf(stdout, "token: %s\n", tokenID)
	if *skipMetadata {
		return 0
	}

	fetcher, err := metadata.NewFetcher(metadata.Config{
		BaseURI: cfg.Metadata.BaseURI,
		Gateway: cfg.Metadata.Gateway,
		Timeout: cfg.Metadata.Timeout,
	})
	if err != nil {
		slog.Error("metadata error", "error", err)
		return 1
	}
	token, err := fetcher.Fetch(ctx, tokenID)
	if err != nil {
		fmt.Fprintf(stderr, "metadata: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "name:  %s\n", token.Name)
	fmt.Fprintf(stdout, "image: %s\n", fetcher.ImageURL(token))
	return 0
}

// connect resolves the minting account and chain client. Outside a dry run the
// cached session is restored when present, otherwise a fresh connection is made.
func connect(ctx context.Context, cfg *config.AppConfig, dryRun, forget bool) (common.Address, chain.Client, func(), error) {
	if dryRun {
		if forget {
			return common.Address{}, nil, nil, errors.New("-forget has no effect with -dry-run")
		}
		fake := &chain.FakeClient{Contract: common.HexToAddress(cfg.Mint.Contract)}
		return common.HexToAddress(dryRunAccount), fake, func() {}, nil
	}

	sessions, closeSessions, err := session.Open(ctx, session.OpenConfig{
		Kind:        cfg.Session.Kind,
		SQLitePath:  cfg.Session.SQLitePath,
		PostgresDSN: cfg.Session.PostgresDSN,
	})
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	conn, err := wallet.Open(wallet.Config{
		RPCURL:             cfg.Chain.RPCURL,
		PrivateKeyHex:      cfg.Chain.PrivateKey,
		KeystorePath:       cfg.Chain.KeystorePath,
		KeystorePassphrase: cfg.Chain.KeystorePassphrase,
		ExpectedChainID:    cfg.Chain.ChainID,
		SessionTTL:         cfg.Session.TTL,
	}, sessions)
	if err != nil {
		closeSessions()
		return common.Address{}, nil, nil, err
	}
	release := func() {
		_ = conn.Close()
		closeSessions()
	}

	if forget {
		if err := conn.Disconnect(ctx); err != nil {
			release()
			return common.Address{}, nil, nil, err
		}
		return common.Address{}, nil, release, nil
	}

	restored, err := conn.Restore(ctx)
	if err != nil {
		slog.Warn("cached wallet session not restored", "error", err)
	}
	if !restored {
		if err := conn.Connect(ctx); err != nil {
			release()
			return common.Address{}, nil, nil, err
		}
	}

	client, err := chain.NewEthClient(conn, chain.EthClientConfig{
		ContractMinter: cfg.Mint.Contract,
		PollInterval:   cfg.Chain.PollInterval,
	})
	if err != nil {
		release()
		return common.Address{}, nil, nil, err
	}
	return conn.Address(), client, release, nil
}
