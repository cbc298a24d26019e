package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/claims"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/policy"
	"github.com/flightshield/flightshield/proofs"
	"github.com/flightshield/flightshield/rawdb"
)

func newTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	logger, err := log.NewWriter(io.Discard, log.FormatJSON, slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	n, err := newNode(cfg, logger)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}
	return n
}

func doJSON(t *testing.T, h http.Handler, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

// purchaseAndProve buys a policy over HTTP, fetches its path and builds a
// stub claim for it.
func purchaseAndProve(t *testing.T, h http.Handler, pool string, policyID uint64) claimRequest {
	t.Helper()
	note, err := policy.NewNote(pool, crypto.FieldFromUint64(policyID), crypto.FieldFromUint64(42))
	if err != nil {
		t.Fatal(err)
	}
	var bought purchaseResponse
	if code := doJSON(t, h, "POST", "/pools/"+pool+"/purchase",
		purchaseRequest{Commitment: crypto.FieldHex(note.Commitment())}, &bought); code != http.StatusOK {
		t.Fatalf("purchase status %d", code)
	}
	note.SetIndex(bought.Index)

	var pr proofResponse
	if code := doJSON(t, h, "GET", fmt.Sprintf("/pools/%s/proof/%d", pool, bought.Index), nil, &pr); code != http.StatusOK {
		t.Fatalf("proof status %d", code)
	}
	if pr.Leaf != crypto.FieldHex(note.Commitment()) {
		t.Fatal("proof endpoint returned a different leaf")
	}
	w, err := circuit.NewWitness(note, pr.Proof, 240)
	if err != nil {
		t.Fatalf("NewWitness: %v", err)
	}
	if crypto.FieldHex(w.Root) != pr.Root {
		t.Fatal("path does not lead to the reported root")
	}
	proof, err := proofs.NewStubBackend(circuit.DefaultParams()).Prove(context.Background(), w)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	return claimRequest{
		Proof:         proof,
		Root:          pr.Root,
		NullifierHash: crypto.FieldHex(w.NullifierHash),
		Recipient:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	}
}

func TestAPI_PurchaseAndClaim(t *testing.T) {
	n := newTestNode(t, validConfig())
	h := n.Handler()

	claim := purchaseAndProve(t, h, "lh-2026", 1)
	purchaseAndProve(t, h, "lh-2026", 2)

	var paid claimResponse
	if code := doJSON(t, h, "POST", "/pools/lh-2026/claim", claim, &paid); code != http.StatusOK {
		t.Fatalf("claim status %d", code)
	}
	if paid.Amount != "100000000" || paid.Recipient != claim.Recipient {
		t.Fatalf("payout = %+v", paid)
	}

	if code := doJSON(t, h, "POST", "/pools/lh-2026/claim", claim, nil); code != http.StatusConflict {
		t.Fatalf("replay status %d, want 409", code)
	}

	var spent nullifierResponse
	if code := doJSON(t, h, "GET", "/pools/lh-2026/nullifiers/"+claim.NullifierHash, nil, &spent); code != http.StatusOK || !spent.Spent {
		t.Fatalf("nullifier lookup: %d %+v", code, spent)
	}

	var root poolInfo
	if code := doJSON(t, h, "GET", "/pools/lh-2026/root", nil, &root); code != http.StatusOK {
		t.Fatalf("root status %d", code)
	}
	if root.Size != 2 || root.Capacity != 64 || len(root.Roots) != 3 || root.Premium != "5000000" {
		t.Fatalf("root info = %+v", root)
	}
}

func TestAPI_Rejections(t *testing.T) {
	n := newTestNode(t, validConfig())
	h := n.Handler()
	claim := purchaseAndProve(t, h, "lh-2026", 1)

	unknownRoot := claim
	unknownRoot.Root = crypto.FieldHex(crypto.FieldFromUint64(5))
	badNH := claim
	badNH.NullifierHash = crypto.FieldHex(crypto.FieldFromUint64(5))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown pool", "GET", "/pools/nope/root", nil, http.StatusNotFound},
		{"index out of range", "GET", "/pools/lh-2026/proof/7", nil, http.StatusNotFound},
		{"bad index", "GET", "/pools/lh-2026/proof/x", nil, http.StatusBadRequest},
		{"bad commitment", "POST", "/pools/lh-2026/purchase", purchaseRequest{Commitment: "0xzz"}, http.StatusBadRequest},
		{"zero commitment", "POST", "/pools/lh-2026/purchase", purchaseRequest{Commitment: "0x0"}, http.StatusUnprocessableEntity},
		{"unknown root", "POST", "/pools/lh-2026/claim", unknownRoot, http.StatusUnprocessableEntity},
		{"proof mismatch", "POST", "/pools/lh-2026/claim", badNH, http.StatusUnprocessableEntity},
		{"no checkpoint", "GET", "/pools/lh-2026/checkpoint", nil, http.StatusNotFound},
		{"wrong method", "GET", "/pools/lh-2026/claim", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		if code := doJSON(t, h, tt.method, tt.path, tt.body, nil); code != tt.want {
			t.Fatalf("%s: status %d, want %d", tt.name, code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/pools/lh-2026/purchase", strings.NewReader(`{"commitment":"0x1","extra":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
}

func TestAPI_CheckpointWithIssuerKey(t *testing.T) {
	signer, err := crypto.NewBLSSigner(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	cfg := validConfig()
	cfg.Issuer.BLSKey = fmt.Sprintf("%x", signer.SecretKey())
	n := newTestNode(t, cfg)
	h := n.Handler()
	purchaseAndProve(t, h, "lh-2026", 1)

	var cp checkpointJSON
	if code := doJSON(t, h, "GET", "/pools/lh-2026/checkpoint", nil, &cp); code != http.StatusOK {
		t.Fatalf("checkpoint status %d", code)
	}
	if cp.Size != 1 || !bytes.Equal(cp.PublicKey, signer.PublicKey()) {
		t.Fatalf("checkpoint = %+v", cp)
	}
}

func TestAPI_PoolsHealthMetrics(t *testing.T) {
	cfg := validConfig()
	cfg.Pools = append(cfg.Pools, PoolConfig{ID: "lh-2027"})
	n := newTestNode(t, cfg)
	h := n.Handler()

	var pools []poolInfo
	if code := doJSON(t, h, "GET", "/pools", nil, &pools); code != http.StatusOK {
		t.Fatalf("pools status %d", code)
	}
	if len(pools) != 2 || pools[0].ID != "lh-2026" || pools[1].ID != "lh-2027" || pools[1].Payout != "0" {
		t.Fatalf("pools = %+v", pools)
	}

	// Nothing is started yet.
	if code := doJSON(t, h, "GET", "/health", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("health before start: %d", code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "flightshield_pool_open 2") {
		t.Fatalf("metrics: %d\n%s", rec.Code, rec.Body.String())
	}

	var snap map[string]any
	if code := doJSON(t, h, "GET", "/debug/metrics", nil, &snap); code != http.StatusOK {
		t.Fatalf("debug metrics status %d", code)
	}
	if open, ok := snap["pool.open"].(float64); !ok || open != 2 {
		t.Fatalf("pool.open = %v", snap["pool.open"])
	}
	latency, ok := snap["api.latency_ms"].(map[string]any)
	if !ok {
		t.Fatalf("api.latency_ms = %v", snap["api.latency_ms"])
	}
	for _, key := range []string{"count", "sum", "min", "max", "mean"} {
		if _, ok := latency[key]; !ok {
			t.Fatalf("api.latency_ms lacks %q: %v", key, latency)
		}
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", claims.ErrNullifierSpent), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", accumulator.ErrCapacityExceeded), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", crypto.ErrBlobOverflow), http.StatusConflict},
		{claims.ErrUnknownRoot, http.StatusUnprocessableEntity},
		{claims.ErrInvalidProof, http.StatusUnprocessableEntity},
		{claims.ErrInvalidCommit, http.StatusUnprocessableEntity},
		{accumulator.ErrIndexOutOfRange, http.StatusNotFound},
		{rawdb.ErrNotFound, http.StatusNotFound},
		{proofs.ErrQueueFull, http.StatusServiceUnavailable},
		{proofs.ErrDeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Fatalf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAPI_SnapshotTooLargeForBlob(t *testing.T) {
	if testing.Short() {
		t.Skip("fills a pool past one blob")
	}
	cfg := validConfig()
	cfg.Circuit.Depth = 13
	n := newTestNode(t, cfg)
	p, ok := n.Pool("lh-2026")
	if !ok {
		t.Fatal("pool missing")
	}
	for i := uint64(1); i <= uint64(crypto.MaxBlobLeaves)+1; i++ {
		if _, err := p.Purchase(crypto.FieldFromUint64(i)); err != nil {
			t.Fatalf("Purchase %d: %v", i, err)
		}
	}
	if code := doJSON(t, n.Handler(), "GET", "/pools/lh-2026/snapshot", nil, nil); code != http.StatusConflict {
		t.Fatalf("snapshot status %d, want %d", code, http.StatusConflict)
	}
}

func TestNode_StartStop(t *testing.T) {
	n := newTestNode(t, validConfig())
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := n.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
	resp, err := http.Get("http://" + n.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	n.Wait()
	if n.Running() {
		t.Fatal("node still running")
	}
}

func TestNode_RestartKeepsState(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = t.TempDir()

	n := newTestNode(t, cfg)
	claim := purchaseAndProve(t, n.Handler(), "lh-2026", 1)
	if code := doJSON(t, n.Handler(), "POST", "/pools/lh-2026/claim", claim, nil); code != http.StatusOK {
		t.Fatalf("claim status %d", code)
	}
	pool, _ := n.Pool("lh-2026")
	root := pool.Root()
	if err := n.Start(); err != nil {
		t.Fatal(err)
	}
	if err := n.Stop(); err != nil {
		t.Fatal(err)
	}

	m := newTestNode(t, cfg)
	defer m.db.Close()
	restored, ok := m.Pool("lh-2026")
	if !ok {
		t.Fatal("pool missing after restart")
	}
	if got := restored.Root(); !got.Equal(&root) {
		t.Fatal("root changed across restart")
	}
	nh, _ := crypto.FieldFromHex(claim.NullifierHash)
	if !restored.IsSpent(nh) {
		t.Fatal("spent set lost across restart")
	}
	var zero fr.Element
	if restored.IsSpent(zero) {
		t.Fatal("unexpected spent entry")
	}
}
