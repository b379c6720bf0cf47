package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCounters(t *testing.T) {
	m := New("sv")

	m.RecordChunk("encrypt", 100, nil)
	m.RecordChunk("encrypt", 50, nil)
	m.RecordChunk("decrypt", 0, errors.New("auth"))
	m.RecordManifest(nil)
	m.RecordSignature(false)
	m.RecordAnchor(20*time.Millisecond, nil)
	m.SetLoadedWallets(3)

	if got := testutil.ToFloat64(m.ChunksTotal.WithLabelValues("encrypt", ResultSuccess)); got != 2 {
		t.Errorf("encrypt successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChunkBytesTotal.WithLabelValues("encrypt")); got != 150 {
		t.Errorf("encrypt bytes = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.ChunksTotal.WithLabelValues("decrypt", ResultFailure)); got != 1 {
		t.Errorf("decrypt failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SignaturesTotal.WithLabelValues(ResultDenied)); got != 1 {
		t.Errorf("denied signatures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoadedWallets); got != 3 {
		t.Errorf("loaded wallets = %v, want 3", got)
	}
}

func TestNilMetricsNoop(t *testing.T) {
	var m *Metrics
	m.RecordChunk("encrypt", 1, nil)
	m.RecordAnchor(time.Second, errors.New("x"))
	m.RecordLedgerSubmit("memory", time.Millisecond, nil)
	m.SetLoadedWallets(1)
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances with the same namespace must not panic on registration.
	a := New("sv")
	b := New("sv")
	a.RecordManifest(nil)

	if got := testutil.ToFloat64(b.ManifestsTotal.WithLabelValues(ResultSuccess)); got != 0 {
		t.Errorf("instances share state: %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New("sv")
	m.RecordLedgerSubmit("http", 10*time.Millisecond, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`sv_ledger_submissions_total{backend="http",result="success"} 1`,
		"sv_ledger_submit_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
