// Package claims is the issuer side of flight-delay cover: a Pool accepts
// policy commitments into its accumulator and pays claims whose zero
// knowledge proof binds a known root to an unspent nullifier hash.
//
// A pool never sees which commitment a claim belongs to. It learns only the
// root the claimant proved against and the nullifier hash that stops the
// same policy from being paid twice.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/holiman/uint256"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/log"
	"github.com/flightshield/flightshield/metrics"
	"github.com/flightshield/flightshield/proofs"
	"github.com/flightshield/flightshield/rawdb"
)

// Pool errors.
var (
	ErrUnknownRoot     = errors.New("claims: unknown root")
	ErrNullifierSpent  = errors.New("claims: nullifier already spent")
	ErrInvalidProof    = errors.New("claims: invalid proof")
	ErrInvalidConfig   = errors.New("claims: invalid pool config")
	ErrConfigMismatch  = errors.New("claims: stored pool has a different shape")
	ErrInvalidCommit   = errors.New("claims: commitment equals the zero value")
	ErrMissingVerifier = errors.New("claims: pool needs a verifier")
)

// Config describes one pool. Depth and ZeroValue fix the accumulator's
// shape and cannot change once leaves are stored.
type Config struct {
	ID              string
	Depth           int
	ZeroValue       fr.Element
	RootHistorySize int
	Premium         *uint256.Int
	Payout          *uint256.Int
}

// DefaultConfig returns a depth-6 pool with a zero premium and payout.
func DefaultConfig(id string) Config {
	return Config{
		ID:              id,
		Depth:           accumulator.DefaultDepth,
		RootHistorySize: DefaultRootHistorySize,
		Premium:         new(uint256.Int),
		Payout:          new(uint256.Int),
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if len(c.ID) == 0 || len(c.ID) > rawdb.MaxPoolIDLength {
		return fmt.Errorf("%w: id length %d", ErrInvalidConfig, len(c.ID))
	}
	if c.Depth < 1 || c.Depth > accumulator.MaxDepth {
		return fmt.Errorf("%w: depth %d", ErrInvalidConfig, c.Depth)
	}
	if c.RootHistorySize < 0 {
		return fmt.Errorf("%w: root history size %d", ErrInvalidConfig, c.RootHistorySize)
	}
	return nil
}

type configJSON struct {
	ID              string `json:"id"`
	Depth           int    `json:"depth"`
	ZeroValue       string `json:"zeroValue"`
	RootHistorySize int    `json:"rootHistorySize"`
	Premium         string `json:"premium"`
	Payout          string `json:"payout"`
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// MarshalJSON encodes amounts as decimal strings and the zero value as hex.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		ID:              c.ID,
		Depth:           c.Depth,
		ZeroValue:       crypto.FieldHex(c.ZeroValue),
		RootHistorySize: c.RootHistorySize,
		Premium:         amountString(c.Premium),
		Payout:          amountString(c.Payout),
	})
}

// UnmarshalJSON decodes a config written by MarshalJSON.
func (c *Config) UnmarshalJSON(data []byte) error {
	var dec configJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	zero, err := crypto.FieldFromHex(dec.ZeroValue)
	if err != nil {
		return fmt.Errorf("pool zeroValue: %w", err)
	}
	premium, err := uint256.FromDecimal(dec.Premium)
	if err != nil {
		return fmt.Errorf("pool premium: %w", err)
	}
	payout, err := uint256.FromDecimal(dec.Payout)
	if err != nil {
		return fmt.Errorf("pool payout: %w", err)
	}
	*c = Config{
		ID:              dec.ID,
		Depth:           dec.Depth,
		ZeroValue:       zero,
		RootHistorySize: dec.RootHistorySize,
		Premium:         premium,
		Payout:          payout,
	}
	return nil
}

// Option configures a Pool.
type Option func(*Pool)

// WithSigner makes the pool sign and store a checkpoint after every
// purchase.
func WithSigner(s *crypto.BLSSigner) Option {
	return func(p *Pool) { p.signer = s }
}

// WithLogger replaces the pool's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pool) { p.log = l.Module("claims").With("pool", p.config.ID) }
}

// Receipt is returned by Purchase.
type Receipt struct {
	PoolID     string
	Index      uint64
	Root       fr.Element
	Premium    *uint256.Int
	Checkpoint *Checkpoint
}

// ClaimRequest is what a claimant submits: a proof and its public inputs,
// plus where to send the payout.
type ClaimRequest struct {
	Proof         *proofs.Proof
	Root          fr.Element
	NullifierHash fr.Element
	Recipient     common.Address
}

// Payout describes an accepted claim.
type Payout struct {
	PoolID        string
	Recipient     common.Address
	Amount        *uint256.Int
	Root          fr.Element
	NullifierHash fr.Element
}

// contextVerifier is implemented by verifiers that accept a deadline, such
// as proofs.Queue.
type contextVerifier interface {
	VerifyContext(ctx context.Context, proof *proofs.Proof, pub proofs.PublicInputs) error
}

// Pool owns one accumulator and its spent set. Purchases are serialised;
// claims verify concurrently and serialise only the spend.
type Pool struct {
	config   Config
	db       ethdb.KeyValueStore
	verifier proofs.Verifier
	signer   *crypto.BLSSigner
	log      *log.Logger

	mu    sync.Mutex // serialises purchases
	tree  *accumulator.Tree
	roots *RootHistory

	spendMu sync.Mutex // serialises spend and record
	spent   *NullifierSet
}

// NewPool creates an empty in-memory pool.
func NewPool(cfg Config, verifier proofs.Verifier, opts ...Option) (*Pool, error) {
	return Open(rawdb.NewMemoryDatabase(), cfg, verifier, opts...)
}

// Open returns the pool cfg.ID stored in db, replaying its leaves and spent
// nullifier hashes. A pool that is not in db yet is created and its config
// stored. A stored pool must have the same depth and zero value as cfg;
// amounts and the root history size follow cfg.
func Open(db ethdb.KeyValueStore, cfg Config, verifier proofs.Verifier, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, ErrMissingVerifier
	}
	if cfg.Premium == nil {
		cfg.Premium = new(uint256.Int)
	}
	if cfg.Payout == nil {
		cfg.Payout = new(uint256.Int)
	}
	tree, err := accumulator.New(cfg.Depth, cfg.ZeroValue, accumulator.Arity)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		config:   cfg,
		db:       db,
		verifier: verifier,
		log:      log.Default().Module("claims").With("pool", cfg.ID),
		tree:     tree,
		roots:    NewRootHistory(cfg.RootHistorySize),
		spent:    NewNullifierSet(),
	}
	for _, opt := range opts {
		opt(p)
	}

	stored, err := rawdb.ReadPoolConfig(db, cfg.ID)
	switch {
	case errors.Is(err, rawdb.ErrNotFound):
		enc, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		if err := rawdb.WritePoolConfig(db, cfg.ID, enc); err != nil {
			return nil, fmt.Errorf("claims: store pool config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("claims: read pool config: %w", err)
	default:
		var prev Config
		if err := json.Unmarshal(stored, &prev); err != nil {
			return nil, fmt.Errorf("%w: %v", rawdb.ErrCorrupt, err)
		}
		if prev.Depth != cfg.Depth || !prev.ZeroValue.Equal(&cfg.ZeroValue) {
			return nil, fmt.Errorf("%w: %q has depth %d", ErrConfigMismatch, cfg.ID, prev.Depth)
		}
	}
	if err := p.restore(); err != nil {
		return nil, err
	}
	return p, nil
}

// restore replays stored leaves and nullifier hashes. Roots are recorded for
// the trailing insertions so the history matches a pool that was never
// restarted.
func (p *Pool) restore() error {
	leaves, err := rawdb.ReadLeaves(p.db, p.config.ID)
	if err != nil {
		return fmt.Errorf("claims: restore leaves: %w", err)
	}
	keep := p.roots.Capacity()
	split := 0
	if len(leaves) >= keep {
		split = len(leaves) - keep + 1
	} else {
		p.roots.Add(p.tree.Root())
	}
	if _, err := p.tree.InsertBatch(leaves[:split]); err != nil {
		return fmt.Errorf("claims: restore leaves: %w", err)
	}
	if split > 0 {
		p.roots.Add(p.tree.Root())
	}
	for _, leaf := range leaves[split:] {
		if _, err := p.tree.Insert(leaf); err != nil {
			return fmt.Errorf("claims: restore leaves: %w", err)
		}
		p.roots.Add(p.tree.Root())
	}

	spent, err := rawdb.ReadNullifiers(p.db, p.config.ID)
	if err != nil {
		return fmt.Errorf("claims: restore nullifiers: %w", err)
	}
	for _, raw := range spent {
		nh, err := crypto.FieldFromBytes(raw[:])
		if err != nil {
			return fmt.Errorf("%w: nullifier hash: %v", rawdb.ErrCorrupt, err)
		}
		p.spent.Spend(nh)
	}
	if len(leaves) > 0 || len(spent) > 0 {
		p.log.Info("Pool restored", "size", len(leaves), "spent", len(spent), "root", crypto.FieldHex(p.tree.Root()))
	}
	return nil
}

// ID returns the pool id.
func (p *Pool) ID() string { return p.config.ID }

// Config returns the pool's config.
func (p *Pool) Config() Config { return p.config }

// Root returns the current accumulator root.
func (p *Pool) Root() fr.Element { return p.tree.Root() }

// Size returns the number of purchased policies.
func (p *Pool) Size() uint64 { return p.tree.Size() }

// Capacity returns the maximum number of policies.
func (p *Pool) Capacity() uint64 { return p.tree.Capacity() }

// Roots returns the roots claims are currently accepted against, oldest
// first.
func (p *Pool) Roots() []fr.Element { return p.roots.Roots() }

// IsKnownRoot reports whether root is in the pool's root history.
func (p *Pool) IsKnownRoot(root fr.Element) bool { return p.roots.Contains(root) }

// IsSpent reports whether a claim with nullifier hash nh has been paid.
func (p *Pool) IsSpent(nh fr.Element) bool { return p.spent.Has(nh) }

// Prove returns the inclusion proof for the policy at index against the
// current root.
func (p *Pool) Prove(index uint64) (*accumulator.Proof, error) {
	return p.tree.Prove(index)
}

// Leaves returns the pool's commitments in insertion order.
func (p *Pool) Leaves() []fr.Element { return p.tree.Leaves() }

// Purchase inserts a policy commitment and returns its index and the new
// root. The leaf, the leaf count and the checkpoint for the new root are
// committed in one batch before the in-memory tree changes, so a failed
// purchase leaves no trace.
func (p *Pool) Purchase(commitment fr.Element) (*Receipt, error) {
	if commitment.Equal(&p.config.ZeroValue) {
		return nil, ErrInvalidCommit
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	index := p.tree.Size()
	root, err := p.tree.NextRoot(commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: pool %q holds %d policies", accumulator.ErrCapacityExceeded, p.config.ID, index)
	}
	batch := p.db.NewBatch()
	if err := rawdb.WriteLeaves(batch, p.config.ID, index, []fr.Element{commitment}); err != nil {
		return nil, fmt.Errorf("claims: store leaf: %w", err)
	}
	var cp *Checkpoint
	if p.signer != nil {
		if cp, err = p.checkpoint(batch, index+1, root); err != nil {
			return nil, err
		}
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("claims: store leaf: %w", err)
	}
	if _, err := p.tree.Insert(commitment); err != nil {
		return nil, err
	}
	p.roots.Add(root)

	receipt := &Receipt{
		PoolID:     p.config.ID,
		Index:      index,
		Root:       root,
		Premium:    new(uint256.Int).Set(p.config.Premium),
		Checkpoint: cp,
	}

	metrics.PoliciesPurchased.Inc()
	metrics.TreeSize.Set(int64(index + 1))
	p.log.Info("Policy purchased", "index", index, "root", crypto.FieldHex(root))
	return receipt, nil
}

// checkpoint signs a checkpoint and puts it into w. Caller holds mu.
func (p *Pool) checkpoint(w ethdb.KeyValueWriter, size uint64, root fr.Element) (*Checkpoint, error) {
	cp, err := SignCheckpoint(p.signer, p.config.ID, size, root)
	if err != nil {
		return nil, fmt.Errorf("claims: sign checkpoint: %w", err)
	}
	enc, err := EncodeCheckpoint(cp)
	if err != nil {
		return nil, err
	}
	if err := rawdb.WriteCheckpoint(w, p.config.ID, size, enc); err != nil {
		return nil, fmt.Errorf("claims: store checkpoint: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint returns the most recent stored checkpoint.
func (p *Pool) LatestCheckpoint() (*Checkpoint, error) {
	enc, err := rawdb.ReadLatestCheckpoint(p.db, p.config.ID)
	if err != nil {
		return nil, err
	}
	return DecodeCheckpoint(enc)
}

// Claim pays a claim if its root is known, its nullifier hash is unspent and
// its proof verifies. Proofs verify outside any pool lock; the spend itself
// is atomic, so of several concurrent claims with one nullifier hash at most
// one succeeds.
func (p *Pool) Claim(ctx context.Context, req *ClaimRequest) (*Payout, error) {
	if req == nil || req.Proof == nil {
		return nil, p.reject(ErrInvalidProof, req)
	}
	if !p.roots.Contains(req.Root) {
		return nil, p.reject(ErrUnknownRoot, req)
	}
	if p.spent.Has(req.NullifierHash) {
		return nil, p.reject(ErrNullifierSpent, req)
	}
	pub := proofs.PublicInputs{Root: req.Root, NullifierHash: req.NullifierHash}
	if err := p.verify(ctx, req.Proof, pub); err != nil {
		return nil, p.reject(err, req)
	}

	p.spendMu.Lock()
	defer p.spendMu.Unlock()

	if !p.spent.Spend(req.NullifierHash) {
		return nil, p.reject(ErrNullifierSpent, req)
	}
	if err := rawdb.WriteNullifier(p.db, p.config.ID, req.NullifierHash.Bytes()); err != nil {
		p.spent.revert(req.NullifierHash)
		return nil, p.reject(fmt.Errorf("claims: store nullifier hash: %w", err), req)
	}

	metrics.ClaimsAccepted.Inc()
	p.log.Info("Claim paid", "nullifierHash", crypto.FieldHex(req.NullifierHash),
		"root", crypto.FieldHex(req.Root), "recipient", req.Recipient.Hex())
	return &Payout{
		PoolID:        p.config.ID,
		Recipient:     req.Recipient,
		Amount:        new(uint256.Int).Set(p.config.Payout),
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
	}, nil
}

func (p *Pool) verify(ctx context.Context, proof *proofs.Proof, pub proofs.PublicInputs) error {
	var err error
	if cv, ok := p.verifier.(contextVerifier); ok {
		err = cv.VerifyContext(ctx, proof, pub)
	} else {
		if err = ctx.Err(); err == nil {
			err = p.verifier.Verify(proof, pub)
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, proofs.ErrInvalidProof), errors.Is(err, proofs.ErrWrongBackend):
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	default:
		return fmt.Errorf("claims: verify: %w", err)
	}
}

func (p *Pool) reject(err error, req *ClaimRequest) error {
	metrics.ClaimsRejected.Inc()
	if errors.Is(err, ErrNullifierSpent) {
		metrics.ClaimsReplayed.Inc()
	}
	if req != nil {
		p.log.Warn("Claim rejected", "err", err, "nullifierHash", crypto.FieldHex(req.NullifierHash),
			"root", crypto.FieldHex(req.Root))
	} else {
		p.log.Warn("Claim rejected", "err", err)
	}
	return err
}

// Snapshot packs the pool's leaves into a KZG-committed blob.
func (p *Pool) Snapshot() (*Snapshot, error) {
	p.mu.Lock()
	leaves := p.tree.Leaves()
	root := p.tree.Root()
	p.mu.Unlock()
	return newSnapshot(p.config.ID, p.config.Depth, p.config.ZeroValue, root, leaves)
}
