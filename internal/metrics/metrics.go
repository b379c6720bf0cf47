// Package metrics provides Prometheus metrics for sessionvault.
//
// Each Metrics value owns a private registry so several instances (tests,
// embedded services) never collide on the global default registerer.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Metrics holds all sessionvault metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	ChunksTotal        *prometheus.CounterVec
	ChunkBytesTotal    *prometheus.CounterVec
	ManifestsTotal     *prometheus.CounterVec
	AnchorsTotal       *prometheus.CounterVec
	SignaturesTotal    *prometheus.CounterVec
	WalletLoadsTotal   *prometheus.CounterVec
	LedgerSubmitsTotal *prometheus.CounterVec
	IntegrityChecks    *prometheus.CounterVec

	// Gauges
	LoadedWallets prometheus.Gauge

	// Histograms
	AnchorDuration *prometheus.HistogramVec
	LedgerDuration *prometheus.HistogramVec
}

// New creates and registers all metrics under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks processed by the chunk cipher.",
		}, []string{"op", "result"}),
		ChunkBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Plaintext bytes processed by the chunk cipher.",
		}, []string{"op"}),
		ManifestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifests_total",
			Help:      "Session manifests created.",
		}, []string{"result"}),
		AnchorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchors_total",
			Help:      "Manifest anchoring attempts.",
		}, []string{"result"}),
		SignaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Transaction signing requests.",
		}, []string{"result"}),
		WalletLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_loads_total",
			Help:      "Wallet load attempts.",
		}, []string{"result"}),
		LedgerSubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions by backend and result.",
		}, []string{"backend", "result"}),
		IntegrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_checks_total",
			Help:      "Manifest integrity verifications.",
		}, []string{"result"}),

		LoadedWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallets_loaded",
			Help:      "Wallets whose private key is currently held in memory.",
		}),

		AnchorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anchor_duration_seconds",
			Help:      "End-to-end manifest anchoring latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"result"}),
		LedgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_submit_duration_seconds",
			Help:      "Ledger submission round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
	}

	reg.MustRegister(
		m.ChunksTotal,
		m.ChunkBytesTotal,
		m.ManifestsTotal,
		m.AnchorsTotal,
		m.SignaturesTotal,
		m.WalletLoadsTotal,
		m.LedgerSubmitsTotal,
		m.IntegrityChecks,
		m.LoadedWallets,
		m.AnchorDuration,
		m.LedgerDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func resultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordChunk records a seal ("encrypt") or open ("decrypt") operation.
func (m *Metrics) RecordChunk(op string, size int, err error) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err == nil {
		m.ChunkBytesTotal.WithLabelValues(op).Add(float64(size))
	}
}

// RecordManifest records a manifest creation attempt.
func (m *Metrics) RecordManifest(err error) {
	if m == nil {
		return
	}
	m.ManifestsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// RecordAnchor records an anchoring attempt and its latency.
func (m *Metrics) RecordAnchor(duration time.Duration, err error) {
	if m == nil {
		return
	}
	res := resultLabel(err)
	m.AnchorsTotal.WithLabelValues(res).Inc()
	m.AnchorDuration.WithLabelValues(res).Observe(duration.Seconds())
}

// RecordSignature records a signing request. Unsigned means the wallet
// was not loaded.
func (m *Metrics) RecordSignature(signed bool) {
	if m == nil {
		return
	}
	res := ResultSuccess
	if !signed {
		res = ResultDenied
	}
	m.SignaturesTotal.WithLabelValues(res).Inc()
}

// RecordWalletLoad records a wallet load attempt.
func (m *Metrics) RecordWalletLoad(err error) {
	if m == nil {
		return
	}
	m.WalletLoadsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// SetLoadedWallets sets the number of wallets held in memory.
func (m *Metrics) SetLoadedWallets(n int) {
	if m == nil {
		return
	}
	m.LoadedWallets.Set(float64(n))
}

// RecordLedgerSubmit records one ledger round trip.
func (m *Metrics) RecordLedgerSubmit(backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.LedgerSubmitsTotal.WithLabelValues(backend, resultLabel(err)).Inc()
	m.LedgerDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordIntegrityCheck records a manifest verification outcome.
func (m *Metrics) RecordIntegrityCheck(ok bool) {
	if m == nil {
		return
	}
	res := ResultSuccess
	if !ok {
		res = ResultFailure
	}
	m.IntegrityChecks.WithLabelValues(res).Inc()
}

// Handler returns the /metrics HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
