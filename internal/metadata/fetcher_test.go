package metadata

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testBase = "ipfs://bafybeifx4gwcqivqppatsqsgvkvncyjms6ahub535nocnvsgkmeyxnvz3a/"

func TestTokenURLUsesGatewayRule(t *testing.T) {
	f, err := NewFetcher(Config{BaseURI: testBase, Gateway: "https://cloudflare-ipfs.com/ipfs/"})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	got := f.TokenURL(big.NewInt(7))
	want := "https://cloudflare-ipfs.com/ipfs/bafybeifx4gwcqivqppatsqsgvkvncyjms6ahub535nocnvsgkmeyxnvz3a/7"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if f.Locator(big.NewInt(7)) != testBase+"7" {
		t.Fatalf("unexpected locator %s", f.Locator(big.NewInt(7)))
	}
	if f.GatewayURL("https://example.com/a.png") != "https://example.com/a.png" {
		t.Fatalf("non-ipfs uri should pass through")
	}
}

func TestFetchRequestsExactGatewayPath(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Salty #7","image":"ipfs://imgcid/7.png","edition":7}`))
	}))
	defer srv.Close()

	f, err := NewFetcher(Config{BaseURI: testBase, Gateway: srv.URL + "/ipfs", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	token, err := f.Fetch(context.Background(), big.NewInt(7))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if requested != "/ipfs/bafybeifx4gwcqivqppatsqsgvkvncyjms6ahub535nocnvsgkmeyxnvz3a/7" {
		t.Fatalf("unexpected request path %s", requested)
	}
	if token.Name != "Salty #7" {
		t.Fatalf("unexpected name %q", token.Name)
	}
	if f.ImageURL(token) != srv.URL+"/ipfs/imgcid/7.png" {
		t.Fatalf("unexpected image url %s", f.ImageURL(token))
	}
	if len(token.Raw) == 0 {
		t.Fatalf("expected raw document to be kept")
	}
}

func TestFetchFailuresAreUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			f, err := NewFetcher(Config{BaseURI: testBase, Gateway: srv.URL + "/ipfs/", HTTPClient: srv.Client()})
			if err != nil {
				t.Fatalf("new fetcher: %v", err)
			}
			if _, err := f.Fetch(context.Background(), big.NewInt(1)); !errors.Is(err, ErrMetadataUnavailable) {
				t.Fatalf("expected ErrMetadataUnavailable, got %v", err)
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	gateway := srv.URL + "/ipfs/"
	srv.Close()

	f, err := NewFetcher(Config{BaseURI: testBase, Gateway: gateway})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := f.Fetch(context.Background(), big.NewInt(1)); !errors.Is(err, ErrMetadataUnavailable) {
		t.Fatalf("expected ErrMetadataUnavailable, got %v", err)
	}
}

func TestNewFetcherValidation(t *testing.T) {
	if _, err := NewFetcher(Config{BaseURI: "https://not-ipfs/", Gateway: "https://gw/ipfs/"}); err == nil {
		t.Fatalf("expected error for non-ipfs base")
	}
	if _, err := NewFetcher(Config{BaseURI: testBase, Gateway: "ftp://gw/ipfs/"}); err == nil {
		t.Fatalf("expected error for non-http gateway")
	}
}
