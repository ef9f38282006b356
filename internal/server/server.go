package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"mintwidget/internal/chain"
	"mintwidget/internal/config"
	"mintwidget/internal/contracts"
	"mintwidget/internal/hmacauth"
	"mintwidget/internal/metadata"
	"mintwidget/internal/mint"
	"mintwidget/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the connector surface the shell drives.
type Wallet interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	Address() common.Address
	ChainID() (*big.Int, error)
	Ping(ctx context.Context) error
}

// MetadataSource resolves token metadata for display.
type MetadataSource interface {
	Fetch(ctx context.Context, tokenID *big.Int) (*metadata.Token, error)
	ImageURL(token *metadata.Token) string
	TokenURL(tokenID *big.Int) string
}

// ClientFactory builds the chain client used by the flow of the connected account.
type ClientFactory func() (chain.Client, error)

type Deps struct {
	Wallet   Wallet
	Clients  ClientFactory
	Metadata MetadataSource
	// Guard defaults to an in-process guard shared by every flow the shell creates.
	Guard mint.Guard
	// Sessions is pinged by the health check when it can be.
	Sessions any
}

type Server struct {
	cfg        *config.AppConfig
	wallet     Wallet
	clients    ClientFactory
	metadata   MetadataSource
	guard      mint.Guard
	price      *big.Int
	gasLimit   uint64
	hmac       *hmacauth.Verifier
	origins    *originGuard
	httpServer *http.Server
	metrics    *metricsRegistry
	dbHealthFn func(context.Context) error

	mu   sync.Mutex
	flow *mint.Flow
}

func NewServer(cfg *config.AppConfig, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Wallet == nil || deps.Clients == nil || deps.Metadata == nil {
		return nil, errors.New("wallet, chain client factory and metadata source are required")
	}

	price := cfg.Mint.PriceWei
	if price == nil {
		p, err := config.ParseEther(contracts.DefaultMintPrice)
		if err != nil {
			return nil, err
		}
		price = p
	}
	gasLimit := cfg.Mint.GasLimit
	if gasLimit == 0 {
		gasLimit = contracts.DefaultMintGasLimit
	}
	guard := deps.Guard
	if guard == nil {
		guard = mint.NewMemoryGuard()
	}

	s := &Server{
		cfg:      cfg,
		wallet:   deps.Wallet,
		clients:  deps.Clients,
		metadata: deps.Metadata,
		guard:    guard,
		price:    price,
		gasLimit: gasLimit,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		origins: newOriginGuard(cfg.Service.AllowedOrigins),
		metrics: newMetricsRegistry(),
	}
	if cfg.Service.HMACSecret == "" {
		slog.Warn("shell routes are unsigned; only local origins may call them")
	}
	if checker, ok := deps.Sessions.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	signed := func(h http.HandlerFunc) http.Handler {
		return s.origins.Middleware(s.hmac.Middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/connect", signed(s.handleConnect))
	mux.Handle("POST /api/v1/disconnect", signed(s.handleDisconnect))
	mux.Handle("POST /api/v1/mints", signed(s.handleMint))
	mux.Handle("POST /api/v1/mints/dismiss", signed(s.handleDismiss))
	mux.HandleFunc("GET /api/v1/mints/status", s.handleMintStatus)
	mux.HandleFunc("GET /api/v1/tokens/{id}/metadata", s.handleTokenMetadata)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	slog.Info("mint shell listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops serving, then waits for the running attempt (cancelling a
// receipt wait still in progress).
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	flow := s.flow
	s.flow = nil
	s.mu.Unlock()
	if flow != nil {
		flow.Close()
	}
	return err
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type walletResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	ChainID   string `json:"chainId,omitempty"`
}

type mintStatusResponse struct {
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	Account     string    `json:"account,omitempty"`
	Attempt     uint64    `json:"attempt,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	TokenID     string    `json:"tokenId,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
	MetadataURL string    `json:"metadataUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type tokenMetadataResponse struct {
	TokenID     string               `json:"tokenId"`
	Source      string               `json:"source"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Image       string               `json:"image"`
	ImageURL    string               `json:"imageUrl"`
	Attributes  []metadata.Attribute `json:"attributes,omitempty"`
	Raw         json.RawMessage      `json:"raw,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.Connect(r.Context()); err != nil {
		s.metrics.incConnection("connect", "failed")
		switch {
		case errors.Is(err, wallet.ErrWrongNetwork):
			writeError(w, http.StatusConflict, "wrong_network", err)
		case errors.Is(err, wallet.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "wallet_closed", err)
		default:
			writeError(w, http.StatusBadGateway, "connect_failed", err)
		}
		return
	}
	s.metrics.incConnection("connect", "ok")
	writeJSON(w, http.StatusOK, s.walletStatus())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	flow := s.flow
	if flow != nil && flow.Status().State.InFlight() {
		s.mu.Unlock()
		s.metrics.incConnection("disconnect", "rejected")
		writeError(w, http.StatusConflict, "mint_in_flight", mint.ErrMintInFlight)
		return
	}
	s.flow = nil
	s.mu.Unlock()
	if flow != nil {
		flow.Close()
	}

	if err := s.wallet.Disconnect(r.Context()); err != nil {
		s.metrics.incConnection("disconnect", "failed")
		writeError(w, http.StatusInternalServerError, "disconnect_failed", err)
		return
	}
	s.metrics.incConnection("disconnect", "ok")
	writeJSON(w, http.StatusOK, s.walletStatus())
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if !s.wallet.Connected() {
		s.metrics.incRejected("not_connected")
		writeError(w, http.StatusPreconditionFailed, "not_connected", wallet.ErrNotConnected)
		return
	}

	flow, err := s.currentFlow()
	if err != nil {
		s.metrics.incRejected("chain_unavailable")
		writeError(w, http.StatusBadGateway, "chain_unavailable", err)
		return
	}

	done, err := flow.Start(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, mint.ErrMintInFlight):
			s.metrics.incRejected("in_flight")
			writeError(w, http.StatusConflict, "mint_in_flight", err)
		case errors.Is(err, mint.ErrClosed):
			s.metrics.incRejected("closed")
			writeError(w, http.StatusServiceUnavailable, "shutting_down", err)
		default:
			s.metrics.incRejected("guard_error")
			writeError(w, http.StatusBadGateway, "guard_unavailable", err)
		}
		return
	}
	go s.metrics.track(done)
	writeJSON(w, http.StatusAccepted, s.statusResponse(flow.Status(), flow.Account()))
}

func (s *Server) handleMintStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	flow := s.flow
	s.mu.Unlock()
	if flow != nil {
		if err := flow.Dismiss(); err != nil {
			writeError(w, http.StatusConflict, "mint_in_flight", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleTokenMetadata(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	tokenID, ok := new(big.Int).SetString(raw, 10)
	if !ok || tokenID.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "invalid_token_id", fmt.Errorf("invalid token id %q", raw))
		return
	}

	token, err := s.metadata.Fetch(r.Context(), tokenID)
	if err != nil {
		s.metrics.incMetadata("unavailable")
		slog.Warn("metadata fetch failed", "token_id", tokenID.String(), "error", err)
		writeError(w, http.StatusBadGateway, "metadata_unavailable", err)
		return
	}
	s.metrics.incMetadata("ok")

	writeJSON(w, http.StatusOK, tokenMetadataResponse{
		TokenID:     tokenID.String(),
		Source:      s.metadata.TokenURL(tokenID),
		Name:        token.Name,
		Description: token.Description,
		Image:       token.Image,
		ImageURL:    s.metadata.ImageURL(token),
		Attributes:  token.Attributes,
		Raw:         token.Raw,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	// a disconnected wallet is a normal idle widget, not a degraded one
	if s.wallet.Connected() {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.wallet.Ping(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string             `json:"status"`
		Wallet   walletResponse     `json:"wallet"`
		RPC      interface{}        `json:"rpc"`
		Sessions interface{}        `json:"sessions"`
		Mint     mintStatusResponse `json:"mint"`
	}{
		Status:   status,
		Wallet:   s.walletStatus(),
		RPC:      rpcInfo,
		Sessions: dbInfo,
		Mint:     s.snapshot(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// currentFlow returns the flow of the connected account, creating it on first use.
func (s *Server) currentFlow() (*mint.Flow, error) {
	account := s.wallet.Address()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow != nil && s.flow.Account() == account {
		return s.flow, nil
	}
	if s.flow != nil {
		s.flow.Close()
		s.flow = nil
	}

	client, err := s.clients()
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}
	flow, err := mint.NewFlow(mint.Config{
		Account:  account,
		Price:    s.price,
		GasLimit: s.gasLimit,
		Client:   client,
		Guard:    s.guard,
	})
	if err != nil {
		return nil, err
	}
	flow.OnTransition(s.metrics.observe)
	s.flow = flow
	return flow, nil
}

func (s *Server) snapshot() mintStatusResponse {
	s.mu.Lock()
	flow := s.flow
	s.mu.Unlock()
	if flow == nil {
		return s.statusResponse(mint.Status{State: mint.StateIdle}, s.wallet.Address())
	}
	return s.statusResponse(flow.Status(), flow.Account())
}

func (s *Server) statusResponse(st mint.Status, account common.Address) mintStatusResponse {
	resp := mintStatusResponse{
		State:     string(st.State),
		Message:   st.Message(),
		Attempt:   st.Attempt,
		Outcome:   string(st.Outcome),
		Error:     st.Error,
		UpdatedAt: st.UpdatedAt,
	}
	if account != (common.Address{}) {
		resp.Account = account.Hex()
	}
	if st.TxHash != (common.Hash{}) {
		resp.TxHash = st.TxHash.Hex()
	}
	if st.TokenID != nil {
		resp.TokenID = st.TokenID.String()
		resp.MetadataURL = "/api/v1/tokens/" + st.TokenID.String() + "/metadata"
	}
	return resp
}

func (s *Server) walletStatus() walletResponse {
	if !s.wallet.Connected() {
		return walletResponse{}
	}
	resp := walletResponse{Connected: true, Address: s.wallet.Address().Hex()}
	if chainID, err := s.wallet.ChainID(); err == nil {
		resp.ChainID = chainID.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
	writeJSON(w, code, errorResponse{Error: kind, Message: err.Error()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = fmt.Sprintf("%d", time.Now().UnixNano())
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}
