package manifest

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/ledger"
	"sessionvault/internal/merkle"
	"sessionvault/internal/wallet"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func leafHex(label string) string {
	return merkle.HashLeafBytes([]byte(label)).String()
}

func testHashes(labels ...string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = leafHex(l)
	}
	return out
}

// stubLedger returns a fixed txid and counts submissions.
type stubLedger struct {
	txid     string
	err      error
	delay    time.Duration
	calls    atomic.Int32
	payloads []*ledger.Payload
	mu       sync.Mutex
}

func (s *stubLedger) Submit(ctx context.Context, p *ledger.Payload) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.txid, nil
}

func (s *stubLedger) Close() error { return nil }

// stubSigner signs with a fixed marker unless unloaded.
type stubSigner struct {
	loaded bool
	// emptySig signs with a zero-length signature.
	emptySig bool
}

func (s stubSigner) SignTransaction(id string, payload []byte) ([]byte, bool) {
	if !s.loaded {
		return nil, false
	}
	if s.emptySig {
		return []byte{}, true
	}
	return []byte("sig"), true
}

func (s stubSigner) Identity(id string) (string, string, bool) {
	return "lw" + strings.Repeat("0", 40), "pem", s.loaded
}

func newTestService(t *testing.T, store Store, signer Signer) *Service {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	svc, err := NewService(ServiceConfig{
		Store:        store,
		Signer:       signer,
		SignerWallet: "anchor",
		Now:          func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

// =============================================================================
// Codec info
// =============================================================================

func TestCodecInfoJSON(t *testing.T) {
	info := CodecInfo{
		"codec":    StringValue("h264"),
		"bitrate":  NumberValue(2500),
		"lossless": BoolValue(false),
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"bitrate":2500,"codec":"h264","lossless":false}` {
		t.Errorf("unexpected encoding: %s", data)
	}

	var back CodecInfo
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back["bitrate"].Kind() != KindNumber || back["bitrate"].Any() != float64(2500) {
		t.Errorf("bitrate = %v", back["bitrate"])
	}

	if err := json.Unmarshal([]byte(`{"nested":{"a":1}}`), &back); err == nil {
		t.Error("nested values must be rejected")
	}
	if err := json.Unmarshal([]byte(`{"n":null}`), &back); err == nil {
		t.Error("null values must be rejected")
	}
}

func TestCodecInfoFromMap(t *testing.T) {
	info, err := CodecInfoFromMap(map[string]any{"fps": 30, "codec": "vp9", "hdr": true})
	if err != nil {
		t.Fatalf("CodecInfoFromMap failed: %v", err)
	}
	if got := info.Keys(); strings.Join(got, ",") != "codec,fps,hdr" {
		t.Errorf("Keys() = %v", got)
	}

	if _, err := CodecInfoFromMap(map[string]any{"x": []int{1}}); !errors.Is(err, ErrInvalidCodecInfo) {
		t.Errorf("expected ErrInvalidCodecInfo, got %v", err)
	}
}

// =============================================================================
// Manifest hash
// =============================================================================

func baseManifest() *SessionManifest {
	return &SessionManifest{
		SessionID:          "S1",
		MerkleRoot:         strings.Repeat("ab", 32),
		ChunkCount:         3,
		TotalSize:          300,
		ParticipantPubkeys: []string{"pk-b", "pk-a"},
		CodecInfo:          CodecInfo{"codec": StringValue("h264"), "fps": NumberValue(30)},
		RecorderVersion:    "1.0",
		DeviceFingerprint:  "fp",
		CipherSuite:        chunkcrypt.DefaultSuite,
		CreatedAt:          testNow,
	}
}

func TestManifestHashDeterministic(t *testing.T) {
	a := baseManifest()
	b := baseManifest()
	b.ParticipantPubkeys = []string{"pk-a", "pk-b"}
	b.CreatedAt = testNow.In(time.FixedZone("X", 3600))

	ha, err := ManifestHash(a)
	if err != nil {
		t.Fatalf("ManifestHash failed: %v", err)
	}
	hb, _ := ManifestHash(b)
	if ha != hb {
		t.Error("participant order and timezone must not change the hash")
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d", len(ha))
	}

	txid := "tx"
	at := testNow
	b.AnchorTxID, b.AnchoredAt = &txid, &at
	if hb, _ := ManifestHash(b); hb != ha {
		t.Error("anchor fields must not affect the hash")
	}
}

func TestManifestHashSensitivity(t *testing.T) {
	base, _ := ManifestHash(baseManifest())

	mutations := map[string]func(m *SessionManifest){
		"root":        func(m *SessionManifest) { m.MerkleRoot = strings.Repeat("cd", 32) },
		"size":        func(m *SessionManifest) { m.TotalSize++ },
		"participant": func(m *SessionManifest) { m.ParticipantPubkeys = append(m.ParticipantPubkeys, "pk-c") },
		"codec":       func(m *SessionManifest) { m.CodecInfo["fps"] = NumberValue(60) },
		"suite":       func(m *SessionManifest) { m.CipherSuite = chunkcrypt.SuiteXChaCha20Stream },
		"created_at":  func(m *SessionManifest) { m.CreatedAt = m.CreatedAt.Add(time.Nanosecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			m := baseManifest()
			mutate(m)
			h, err := ManifestHash(m)
			if err != nil {
				t.Fatalf("ManifestHash failed: %v", err)
			}
			if h == base {
				t.Errorf("changing %s did not change the hash", name)
			}
		})
	}
}

func TestCanonicalBytesSortedKeys(t *testing.T) {
	data, err := CanonicalBytes(baseManifest())
	if err != nil {
		t.Fatalf("CanonicalBytes failed: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, `{"chunk_count":3,"cipher_suite":`) {
		t.Errorf("keys not sorted: %s", s)
	}
	if !strings.Contains(s, `"participant_pubkeys":["pk-a","pk-b"]`) {
		t.Errorf("participants not sorted: %s", s)
	}
	if strings.Contains(s, "anchor") {
		t.Errorf("anchor fields leaked into canonical form: %s", s)
	}
}

// =============================================================================
// Create / integrity
// =============================================================================

func TestCreateManifest(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	m, err := svc.CreateManifest(ctx, CreateRequest{
		SessionID:          "S1",
		ChunkHashes:        testHashes("h1", "h2", "h3"),
		TotalSize:          300,
		ParticipantPubkeys: []string{"pk-b", "pk-a", "pk-b"},
		CodecInfo:          CodecInfo{"codec": StringValue("h264")},
	})
	if err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}

	if m.State() != StateCreated || m.AnchorTxID != nil || m.AnchoredAt != nil {
		t.Errorf("new manifest should be unanchored: %+v", m)
	}
	if m.ChunkCount != 3 || m.TotalSize != 300 {
		t.Errorf("extent = %d/%d", m.ChunkCount, m.TotalSize)
	}
	if !m.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v", m.CreatedAt)
	}
	if strings.Join(m.ParticipantPubkeys, ",") != "pk-a,pk-b" {
		t.Errorf("participants = %v", m.ParticipantPubkeys)
	}
	if m.CipherSuite != chunkcrypt.DefaultSuite {
		t.Errorf("suite = %s", m.CipherSuite)
	}

	got, err := svc.GetManifest(ctx, "S1")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if got.MerkleRoot != m.MerkleRoot {
		t.Error("stored root differs")
	}

	if _, err := Document(got); err != nil {
		t.Errorf("Document failed schema validation: %v", err)
	}
}

func TestCreateManifestRejects(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: testHashes("a")})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"duplicate session", CreateRequest{SessionID: "S1"}, ErrManifestExists},
		{"empty session", CreateRequest{SessionID: ""}, ErrInvalidManifest},
		{"bad hash", CreateRequest{SessionID: "S2", ChunkHashes: []string{"h1"}}, ErrInvalidManifest},
		{"negative size", CreateRequest{SessionID: "S3", TotalSize: -1}, ErrInvalidManifest},
		{"unknown suite", CreateRequest{SessionID: "S4", CipherSuite: "rot13"}, ErrInvalidManifest},
		{"bad codec", CreateRequest{SessionID: "S5", CodecInfo: CodecInfo{"x": {}}}, ErrInvalidCodecInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateManifest(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateManifestEmptySession(t *testing.T) {
	svc := newTestService(t, nil, nil)
	m, err := svc.CreateManifest(context.Background(), CreateRequest{SessionID: "empty"})
	if err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	if m.MerkleRoot != merkle.EmptyRoot.String() {
		t.Errorf("empty session root = %s, want hash of empty input", m.MerkleRoot)
	}
}

func TestVerifyManifestIntegrity(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()
	hashes := testHashes("h1", "h2", "h3", "h4")

	m, err := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: hashes})
	if err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}

	if !VerifyManifestIntegrity(m, hashes) {
		t.Error("original hashes should verify")
	}
	for i := range hashes {
		mutated := append([]string(nil), hashes...)
		mutated[i] = leafHex("tampered")
		if VerifyManifestIntegrity(m, mutated) {
			t.Errorf("mutating hash %d should fail verification", i)
		}
	}
	if VerifyManifestIntegrity(m, hashes[:3]) {
		t.Error("dropping a chunk should fail verification")
	}
	if VerifyManifestIntegrity(m, []string{"zz"}) {
		t.Error("unparseable hashes should fail verification")
	}

	if err := svc.CheckIntegrity(ctx, "S1", hashes[1:]); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
	if err := svc.CheckIntegrity(ctx, "missing", hashes); !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestChunkProof(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()
	hashes := testHashes("a", "b", "c", "d", "e")

	m, err := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: hashes})
	if err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	root, _ := merkle.ParseLeaf(m.MerkleRoot)

	for i := range hashes {
		proof, err := svc.ChunkProof(ctx, "S1", hashes, i)
		if err != nil {
			t.Fatalf("ChunkProof(%d) failed: %v", i, err)
		}
		if !proof.Verify(root) {
			t.Errorf("proof %d does not verify", i)
		}
	}

	if _, err := svc.ChunkProof(ctx, "S1", hashes[:4], 0); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for wrong chunk set, got %v", err)
	}
	if _, err := svc.ChunkProof(ctx, "S1", hashes, 9); !errors.Is(err, merkle.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestListManifests(t *testing.T) {
	store := NewMemoryStore()
	clock := testNow
	svc, _ := NewService(ServiceConfig{
		Store:  store,
		Signer: stubSigner{loaded: true},
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := svc.CreateManifest(ctx, CreateRequest{SessionID: id}); err != nil {
			t.Fatalf("CreateManifest(%s) failed: %v", id, err)
		}
	}
	m, _ := svc.GetManifest(ctx, "a")
	if _, err := svc.AnchorManifest(ctx, m, &stubLedger{txid: "tx-a"}); err != nil {
		t.Fatalf("AnchorManifest failed: %v", err)
	}

	all, _ := svc.ListManifests(ctx, ListOptions{})
	if ids := sessionIDs(all); ids != "c,a,b" {
		t.Errorf("creation order = %s", ids)
	}
	anchored, _ := svc.ListManifests(ctx, ListOptions{State: StateAnchored})
	if ids := sessionIDs(anchored); ids != "a" {
		t.Errorf("anchored = %s", ids)
	}
	limited, _ := svc.ListManifests(ctx, ListOptions{State: StateCreated, Limit: 1})
	if ids := sessionIDs(limited); ids != "c" {
		t.Errorf("limited = %s", ids)
	}
}

func sessionIDs(ms []*SessionManifest) string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.SessionID
	}
	return strings.Join(ids, ",")
}

// =============================================================================
// Anchoring
// =============================================================================

func TestAnchorManifestEndToEnd(t *testing.T) {
	ctx := context.Background()

	wallets, err := wallet.NewManager(wallet.ManagerConfig{
		Dir:              filepath.Join(t.TempDir(), "wallets"),
		AllowUnencrypted: true,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer wallets.Close()
	info, err := wallets.CreateWallet(ctx, "anchor", wallet.Unencrypted(), wallet.TypeSoftware)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	if err := wallets.LoadWallet(ctx, "anchor", nil); err != nil {
		t.Fatalf("LoadWallet failed: %v", err)
	}

	svc := newTestService(t, nil, wallets)
	hashes := testHashes("h1", "h2", "h3")

	m, err := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: hashes, TotalSize: 300})
	if err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}

	// Independently computed 3-leaf root: H(H(a||b) || H(c||c)).
	a, _ := hex.DecodeString(hashes[0])
	b, _ := hex.DecodeString(hashes[1])
	c, _ := hex.DecodeString(hashes[2])
	ab := blake2b.Sum256(append(append([]byte{}, a...), b...))
	cc := blake2b.Sum256(append(append([]byte{}, c...), c...))
	want := blake2b.Sum256(append(ab[:], cc[:]...))
	if m.MerkleRoot != hex.EncodeToString(want[:]) {
		t.Fatalf("root = %s, want %x", m.MerkleRoot, want)
	}

	stub := &stubLedger{txid: "txid-123"}
	txid, err := svc.AnchorManifest(ctx, m, stub)
	if err != nil {
		t.Fatalf("AnchorManifest failed: %v", err)
	}
	if txid != "txid-123" {
		t.Errorf("txid = %q", txid)
	}
	if m.State() != StateAnchored || m.TxID() != "txid-123" || !m.AnchoredAt.Equal(testNow) {
		t.Errorf("in-memory manifest not updated: %+v", m)
	}

	stored, _ := svc.GetManifest(ctx, "S1")
	if stored.State() != StateAnchored || stored.TxID() != "txid-123" {
		t.Errorf("stored manifest not anchored: %+v", stored)
	}

	p := stub.payloads[0]
	wantHash, _ := ManifestHash(stored)
	if p.ManifestHash != wantHash || p.MerkleRoot != m.MerkleRoot || p.SessionID != "S1" {
		t.Errorf("payload mismatch: %+v", p)
	}
	if p.SignerAddress != info.Address {
		t.Errorf("signer address = %s, want %s", p.SignerAddress, info.Address)
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		t.Fatalf("signature not base64: %v", err)
	}
	ok, err := wallet.VerifySignature(p.PublicKey, p.SigningBytes(), sig)
	if err != nil || !ok {
		t.Errorf("payload signature does not verify: %v", err)
	}
}

func TestAnchorManifestMonotonic(t *testing.T) {
	svc := newTestService(t, nil, stubSigner{loaded: true})
	ctx := context.Background()

	m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: testHashes("x")})
	stale := m.Clone()

	if _, err := svc.AnchorManifest(ctx, m, &stubLedger{txid: "first"}); err != nil {
		t.Fatalf("AnchorManifest failed: %v", err)
	}

	second := &stubLedger{txid: "second"}
	txid, err := svc.AnchorManifest(ctx, m, second)
	if !errors.Is(err, ErrAlreadyAnchored) || txid != "first" {
		t.Errorf("re-anchor = %q, %v", txid, err)
	}

	// A stale copy that still looks unanchored must not overwrite either.
	txid, err = svc.AnchorManifest(ctx, stale, second)
	if !errors.Is(err, ErrAlreadyAnchored) || txid != "first" {
		t.Errorf("stale re-anchor = %q, %v", txid, err)
	}
	if second.calls.Load() != 0 {
		t.Errorf("ledger called %d times for an anchored manifest", second.calls.Load())
	}

	stored, _ := svc.GetManifest(ctx, "S1")
	if stored.TxID() != "first" {
		t.Errorf("stored txid = %q", stored.TxID())
	}
}

func TestAnchorManifestConcurrent(t *testing.T) {
	svc := newTestService(t, nil, stubSigner{loaded: true})
	ctx := context.Background()
	m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.AnchorManifest(ctx, m.Clone(), &stubLedger{txid: fmt.Sprintf("tx-%d", i)}); err == nil {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("expected exactly one successful anchor, got %d", successes.Load())
	}
}

func TestAnchorManifestFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("wallet not loaded", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: false})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})
		stub := &stubLedger{txid: "tx"}

		_, err := svc.AnchorManifest(ctx, m, stub)
		if !errors.Is(err, ErrWalletNotLoaded) {
			t.Errorf("expected ErrWalletNotLoaded, got %v", err)
		}
		if stub.calls.Load() != 0 {
			t.Error("unsigned payload must not be submitted")
		}
	})

	t.Run("retryable ledger error", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})

		mem := ledger.NewMemoryLedger()
		mem.FailNext(1, fmt.Errorf("%w: node unreachable", ledger.ErrSubmission))

		_, err := svc.AnchorManifest(ctx, m, mem)
		var anchorErr *AnchorError
		if !errors.As(err, &anchorErr) || anchorErr.SessionID != "S1" {
			t.Fatalf("expected *AnchorError naming the session, got %v", err)
		}
		if !ledger.IsRetryable(err) || !strings.Contains(err.Error(), "node unreachable") {
			t.Errorf("error should carry the ledger cause: %v", err)
		}
		if m.State() != StateCreated {
			t.Error("failed anchor must leave the manifest created")
		}

		txid, err := svc.AnchorManifest(ctx, m, mem)
		if err != nil || !strings.HasPrefix(txid, "mem-") {
			t.Errorf("retry = %q, %v", txid, err)
		}
	})

	t.Run("rejection", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})
		stub := &stubLedger{err: fmt.Errorf("%w: malformed", ledger.ErrRejection)}

		_, err := svc.AnchorManifest(ctx, m, stub)
		if !errors.Is(err, ledger.ErrRejection) || ledger.IsRetryable(err) {
			t.Errorf("expected permanent rejection, got %v", err)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true, emptySig: true})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})
		mem := ledger.NewMemoryLedger()

		_, err := svc.AnchorManifest(ctx, m, mem)
		if !errors.Is(err, ledger.ErrInvalidPayload) {
			t.Fatalf("expected ErrInvalidPayload, got %v", err)
		}
		if !errors.Is(err, ledger.ErrRejection) || ledger.IsRetryable(err) {
			t.Errorf("malformed payload must be a permanent rejection, got %v", err)
		}
		if mem.Len() != 0 {
			t.Error("malformed payload reached the ledger")
		}
		stored, _ := svc.GetManifest(ctx, "S1")
		if stored.State() != StateCreated {
			t.Error("rejected anchor must leave the manifest created")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		svc, _ := NewService(ServiceConfig{
			Store:         NewMemoryStore(),
			Signer:        stubSigner{loaded: true},
			AnchorTimeout: 20 * time.Millisecond,
		})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})
		stub := &stubLedger{txid: "late", delay: time.Second}

		_, err := svc.AnchorManifest(ctx, m, stub)
		if !ledger.IsRetryable(err) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("timeout should be a retryable submission error, got %v", err)
		}
		stored, _ := svc.GetManifest(ctx, "S1")
		if stored.State() != StateCreated {
			t.Error("timed out anchor must leave the manifest created")
		}
	})

	t.Run("empty txid", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1"})
		_, err := svc.AnchorManifest(ctx, m, &stubLedger{})
		if !ledger.IsRetryable(err) {
			t.Errorf("expected retryable error, got %v", err)
		}
	})

	t.Run("root divergence", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true})
		m, _ := svc.CreateManifest(ctx, CreateRequest{SessionID: "S1", ChunkHashes: testHashes("a")})
		m.MerkleRoot = leafHex("forged")

		_, err := svc.AnchorManifest(ctx, m, &stubLedger{txid: "tx"})
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("not stored", func(t *testing.T) {
		svc := newTestService(t, nil, stubSigner{loaded: true})
		_, err := svc.AnchorManifest(ctx, baseManifest(), &stubLedger{txid: "tx"})
		if !errors.Is(err, ErrManifestNotFound) {
			t.Errorf("expected ErrManifestNotFound, got %v", err)
		}
	})
}
