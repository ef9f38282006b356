package server

import (
	"net/http"

	"mintwidget/internal/mint"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	mintAttemptsTotal  *prometheus.CounterVec
	mintRejectedTotal  *prometheus.CounterVec
	metadataFetchTotal *prometheus.CounterVec
	connectionsTotal   *prometheus.CounterVec
	mintInFlight       prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwidget_mint_attempts_total",
		Help: "Finished mint attempts by outcome",
	}, []string{"outcome"})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwidget_mint_rejected_total",
		Help: "Mint requests refused before submission",
	}, []string{"reason"})

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwidget_metadata_fetch_total",
		Help: "Token metadata fetches by result",
	}, []string{"result"})

	connections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mintwidget_wallet_connections_total",
		Help: "Wallet connect and disconnect requests by result",
	}, []string{"action", "result"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mintwidget_mint_in_flight",
		Help: "1 while a mint attempt is submitted or pending",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(attempts, rejected, fetches, connections, inFlight)

	return &metricsRegistry{
		registry:           r,
		mintAttemptsTotal:  attempts,
		mintRejectedTotal:  rejected,
		metadataFetchTotal: fetches,
		connectionsTotal:   connections,
		mintInFlight:       inFlight,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe is registered as a flow listener and only drives the gauge.
func (m *metricsRegistry) observe(s mint.Status) {
	if s.State.InFlight() {
		m.mintInFlight.Set(1)
		return
	}
	m.mintInFlight.Set(0)
}

// observeResult counts every finished attempt, including one whose terminal
// status was superseded by a newer attempt before it could be published.
func (m *metricsRegistry) observeResult(res mint.Result) {
	m.mintAttemptsTotal.WithLabelValues(string(res.Outcome)).Inc()
}

// track waits for an attempt started with Flow.Start and records its outcome.
func (m *metricsRegistry) track(done <-chan mint.Result) {
	if res, ok := <-done; ok {
		m.observeResult(res)
	}
}

func (m *metricsRegistry) incRejected(reason string) {
	m.mintRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *metricsRegistry) incMetadata(result string) {
	m.metadataFetchTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incConnection(action, result string) {
	m.connectionsTotal.WithLabelValues(action, result).Inc()
}
