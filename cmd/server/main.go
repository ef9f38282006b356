package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mintwidget/internal/chain"
	"mintwidget/internal/config"
	"mintwidget/internal/logging"
	"mintwidget/internal/metadata"
	"mintwidget/internal/mint"
	"mintwidget/internal/server"
	"mintwidget/internal/session"
	"mintwidget/internal/telemetry"
	"mintwidget/internal/wallet"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logFile, err := logging.Init(logging.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, "mintwidget-shell", cfg.Telemetry.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	sessions, closeSessions, err := session.Open(ctx, session.OpenConfig{
		Kind:        cfg.Session.Kind,
		SQLitePath:  cfg.Session.SQLitePath,
		PostgresDSN: cfg.Session.PostgresDSN,
	})
	if err != nil {
		log.Fatalf("session store error: %v", err)
	}
	defer closeSessions()

	conn, err := wallet.Open(wallet.Config{
		RPCURL:             cfg.Chain.RPCURL,
		PrivateKeyHex:      cfg.Chain.PrivateKey,
		KeystorePath:       cfg.Chain.KeystorePath,
		KeystorePassphrase: cfg.Chain.KeystorePassphrase,
		ExpectedChainID:    cfg.Chain.ChainID,
		SessionTTL:         cfg.Session.TTL,
	}, sessions)
	if err != nil {
		log.Fatalf("wallet error: %v", err)
	}
	defer conn.Close()

	if restored, err := conn.Restore(ctx); err != nil {
		slog.Warn("cached wallet session not restored", "error", err)
	} else if restored {
		slog.Info("wallet session restored", "address", conn.Address().Hex())
	}

	var guard mint.Guard
	if cfg.Mint.RedisAddr != "" {
		redisGuard, err := mint.NewRedisGuard(ctx, mint.RedisGuardConfig{Addr: cfg.Mint.RedisAddr, TTL: cfg.Mint.LockTTL})
		if err != nil {
			log.Fatalf("redis guard error: %v", err)
		}
		defer redisGuard.Close()
		guard = redisGuard
	}

	fetcher, err := metadata.NewFetcher(metadata.Config{
		BaseURI: cfg.Metadata.BaseURI,
		Gateway: cfg.Metadata.Gateway,
		Timeout: cfg.Metadata.Timeout,
	})
	if err != nil {
		log.Fatalf("metadata error: %v", err)
	}

	apiServer, err := server.NewServer(cfg, server.Deps{
		Wallet: conn,
		Clients: func() (chain.Client, error) {
			client, err := chain.NewEthClient(conn, chain.EthClientConfig{
				ContractMinter: cfg.Mint.Contract,
				PollInterval:   cfg.Chain.PollInterval,
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Metadata: fetcher,
		Guard:    guard,
		Sessions: sessions,
	})
	if err != nil {
		log.Fatalf("server error: %v", err)
	}

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown", "error", err)
	}
}
