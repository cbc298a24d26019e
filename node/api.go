package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/claims"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/metrics"
	"github.com/flightshield/flightshield/proofs"
	"github.com/flightshield/flightshield/rawdb"
)

// maxBodyBytes bounds request bodies. A Groth16 proof is a few hundred
// bytes, a stub proof a few kilobytes.
const maxBodyBytes = 1 << 20

type poolInfo struct {
	ID       string   `json:"id"`
	Size     uint64   `json:"size"`
	Capacity uint64   `json:"capacity"`
	Root     string   `json:"root"`
	Roots    []string `json:"roots,omitempty"`
	Premium  string   `json:"premium"`
	Payout   string   `json:"payout"`
}

type proofResponse struct {
	PoolID string             `json:"poolId"`
	Index  uint64             `json:"index"`
	Leaf   string             `json:"leaf"`
	Root   string             `json:"root"`
	Proof  *accumulator.Proof `json:"proof"`
}

type purchaseRequest struct {
	Commitment string `json:"commitment"`
}

type purchaseResponse struct {
	PoolID     string          `json:"poolId"`
	Index      uint64          `json:"index"`
	Root       string          `json:"root"`
	Premium    string          `json:"premium"`
	Checkpoint *checkpointJSON `json:"checkpoint,omitempty"`
}

type claimRequest struct {
	Proof         *proofs.Proof  `json:"proof"`
	Root          string         `json:"root"`
	NullifierHash string         `json:"nullifierHash"`
	Recipient     common.Address `json:"recipient"`
}

type claimResponse struct {
	PoolID        string         `json:"poolId"`
	Recipient     common.Address `json:"recipient"`
	Amount        string         `json:"amount"`
	NullifierHash string         `json:"nullifierHash"`
}

type nullifierResponse struct {
	NullifierHash string `json:"nullifierHash"`
	Spent         bool   `json:"spent"`
}

type checkpointJSON struct {
	PoolID    string        `json:"poolId"`
	Size      uint64        `json:"size"`
	Root      string        `json:"root"`
	PublicKey hexutil.Bytes `json:"publicKey"`
	Signature hexutil.Bytes `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func encodeCheckpoint(c *claims.Checkpoint) *checkpointJSON {
	if c == nil {
		return nil
	}
	return &checkpointJSON{
		PoolID:    c.PoolID,
		Size:      c.Size,
		Root:      crypto.FieldHex(c.Root),
		PublicKey: c.PublicKey,
		Signature: c.Signature,
	}
}

// Handler returns the HTTP API, including /metrics and /health.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", n.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler(metrics.DefaultRegistry))
	mux.HandleFunc("GET /debug/metrics", n.handleDebugMetrics)
	mux.HandleFunc("GET /pools", n.handlePools)
	mux.HandleFunc("GET /pools/{id}/root", n.withPool(n.handleRoot))
	mux.HandleFunc("GET /pools/{id}/proof/{index}", n.withPool(n.handleProof))
	mux.HandleFunc("GET /pools/{id}/nullifiers/{nh}", n.withPool(n.handleNullifier))
	mux.HandleFunc("GET /pools/{id}/snapshot", n.withPool(n.handleSnapshot))
	mux.HandleFunc("GET /pools/{id}/checkpoint", n.withPool(n.handleCheckpoint))
	mux.HandleFunc("POST /pools/{id}/purchase", n.withPool(n.handlePurchase))
	mux.HandleFunc("POST /pools/{id}/claim", n.withPool(n.handleClaim))
	return n.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (n *Node) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequests.Inc()
		metrics.APILatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
		if rec.status >= 400 {
			metrics.APIErrors.Inc()
		}
		n.log.Debug("API request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"elapsed", time.Since(start))
	})
}

func (n *Node) withPool(h func(http.ResponseWriter, *http.Request, *claims.Pool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool, ok := n.pools[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("unknown pool"))
			return
		}
		h(w, r, pool)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, claims.ErrNullifierSpent),
		errors.Is(err, accumulator.ErrCapacityExceeded),
		errors.Is(err, crypto.ErrBlobOverflow):
		return http.StatusConflict
	case errors.Is(err, claims.ErrUnknownRoot),
		errors.Is(err, claims.ErrInvalidProof),
		errors.Is(err, claims.ErrInvalidCommit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, accumulator.ErrIndexOutOfRange),
		errors.Is(err, rawdb.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, proofs.ErrQueueFull),
		errors.Is(err, proofs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, proofs.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !n.lc.healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, n.lc.health())
}

// handleDebugMetrics returns the registry as JSON, histograms summarised.
func (n *Node) handleDebugMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.DefaultRegistry.Snapshot())
}

func info(p *claims.Pool, withRoots bool) poolInfo {
	cfg := p.Config()
	pi := poolInfo{
		ID:       p.ID(),
		Size:     p.Size(),
		Capacity: p.Capacity(),
		Root:     crypto.FieldHex(p.Root()),
		Premium:  cfg.Premium.Dec(),
		Payout:   cfg.Payout.Dec(),
	}
	if withRoots {
		for _, root := range p.Roots() {
			pi.Roots = append(pi.Roots, crypto.FieldHex(root))
		}
	}
	return pi
}

func (n *Node) handlePools(w http.ResponseWriter, r *http.Request) {
	out := make([]poolInfo, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, info(n.pools[id], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (n *Node) handleRoot(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	writeJSON(w, http.StatusOK, info(p, true))
}

func (n *Node) handleProof(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Report the root the proof was built against, which a concurrent
	// purchase may already have replaced.
	proof, err := p.Prove(index)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	leaves := p.Leaves()
	root, err := accumulator.ComputeRoot(leaves[index], proof)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, proofResponse{
		PoolID: p.ID(),
		Index:  index,
		Leaf:   crypto.FieldHex(leaves[index]),
		Root:   crypto.FieldHex(root),
		Proof:  proof,
	})
}

func (n *Node) handleNullifier(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	nh, err := crypto.FieldFromHex(r.PathValue("nh"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, nullifierResponse{NullifierHash: crypto.FieldHex(nh), Spent: p.IsSpent(nh)})
}

func (n *Node) handleSnapshot(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	snap, err := p.Snapshot()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (n *Node) handleCheckpoint(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	cp, err := p.LatestCheckpoint()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, encodeCheckpoint(cp))
}

func (n *Node) handlePurchase(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	commitment, err := crypto.FieldFromHex(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := p.Purchase(commitment)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{
		PoolID:     receipt.PoolID,
		Index:      receipt.Index,
		Root:       crypto.FieldHex(receipt.Root),
		Premium:    receipt.Premium.Dec(),
		Checkpoint: encodeCheckpoint(receipt.Checkpoint),
	})
}

func (n *Node) handleClaim(w http.ResponseWriter, r *http.Request, p *claims.Pool) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	root, err := crypto.FieldFromHex(req.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	nh, err := crypto.FieldFromHex(req.NullifierHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payout, err := p.Claim(r.Context(), &claims.ClaimRequest{
		Proof:         req.Proof,
		Root:          root,
		NullifierHash: nh,
		Recipient:     req.Recipient,
	})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		PoolID:        payout.PoolID,
		Recipient:     payout.Recipient,
		Amount:        payout.Amount.Dec(),
		NullifierHash: crypto.FieldHex(payout.NullifierHash),
	})
}
