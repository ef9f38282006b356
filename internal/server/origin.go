package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var errForeignOrigin = errors.New("request origin is not allowed")

// originGuard refuses browser requests issued from pages other than the
// widget's own. Requests without an Origin header (curl, the CLI) pass.
type originGuard struct {
	allowed map[string]struct{}
}

func newOriginGuard(origins []string) *originGuard {
	g := &originGuard{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			g.allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return g
}

func (g *originGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.permits(r) {
			slog.Warn("cross-origin request refused",
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"),
				"fetch_site", r.Header.Get("Sec-Fetch-Site"),
			)
			writeError(w, http.StatusForbidden, "forbidden_origin", errForeignOrigin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *originGuard) permits(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Browsers always send Origin on cross-site POSTs; Sec-Fetch-Site
		// covers the ones that strip it.
		return r.Header.Get("Sec-Fetch-Site") != "cross-site"
	}
	if _, ok := g.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		// "null" origins come from sandboxed frames and file pages.
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
