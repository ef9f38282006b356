package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mintwidget/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const ipfsScheme = "ipfs://"

// ErrMetadataUnavailable wraps every fetch failure: transport, status and decoding.
var ErrMetadataUnavailable = errors.New("token metadata unavailable")

// Token is the metadata document for one token. Raw keeps the full document,
// including fields the widget does not interpret.
type Token struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image"`
	Attributes  []Attribute     `json:"attributes,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

type Config struct {
	BaseURI    string
	Gateway    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Fetcher struct {
	baseURI    string
	gateway    string
	httpClient *http.Client
}

func NewFetcher(cfg Config) (*Fetcher, error) {
	if !strings.HasPrefix(cfg.BaseURI, ipfsScheme) {
		return nil, fmt.Errorf("metadata base uri must start with %s", ipfsScheme)
	}
	gateway := strings.TrimSpace(cfg.Gateway)
	parsed, err := url.Parse(gateway)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway URL: scheme must be http or https")
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Fetcher{
		baseURI:    cfg.BaseURI,
		gateway:    gateway,
		httpClient: httpClient,
	}, nil
}

// Locator is the content address of a token's metadata document.
func (f *Fetcher) Locator(tokenID *big.Int) string {
	return f.baseURI + tokenID.String()
}

// GatewayURL rewrites an ipfs:// locator to the gateway. Other URIs pass through.
func (f *Fetcher) GatewayURL(locator string) string {
	if !strings.HasPrefix(locator, ipfsScheme) {
		return locator
	}
	return f.gateway + locator[len(ipfsScheme):]
}

// TokenURL is the gateway address requested for tokenID.
func (f *Fetcher) TokenURL(tokenID *big.Int) string {
	return f.GatewayURL(f.Locator(tokenID))
}

// ImageURL resolves the document's image through the gateway.
func (f *Fetcher) ImageURL(token *Token) string {
	if token == nil {
		return ""
	}
	return f.GatewayURL(token.Image)
}

// Fetch issues a single GET for the token's metadata. No retry, no caching.
func (f *Fetcher) Fetch(ctx context.Context, tokenID *big.Int) (*Token, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid token id", ErrMetadataUnavailable)
	}
	target := f.TokenURL(tokenID)

	ctx, span := telemetry.Tracer("metadata").Start(ctx, "metadata.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("token.id", tokenID.String()),
		attribute.String("http.url", target),
	)

	token, err := f.fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	return token, nil
}

func (f *Fetcher) fetch(ctx context.Context, target string) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	token.Raw = json.RawMessage(body)
	return &token, nil
}
