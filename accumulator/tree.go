// Package accumulator implements a fixed-depth, append-only binary Merkle
// tree over BN254 field elements. Leaves are policy commitments; the root is
// the only value an issuer publishes.
//
// Internal nodes are H2(left, right). Unfilled leaf slots hold a configurable
// zero value, and the hashes of empty subtrees are precomputed per tree. The
// tree keeps a filled-subtree cache so an insertion costs depth hashes.
package accumulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/crypto"
)

const (
	// Arity is the only supported branching factor.
	Arity = 2

	// MaxDepth bounds the tree so that capacity fits in a uint64 index.
	MaxDepth = 32

	// DefaultDepth gives a capacity of 64 leaves per pool.
	DefaultDepth = 6
)

// Accumulator errors.
var (
	ErrCapacityExceeded = errors.New("accumulator: capacity exceeded")
	ErrIndexOutOfRange  = errors.New("accumulator: index out of range")
	ErrInvalidDepth     = errors.New("accumulator: invalid depth")
	ErrUnsupportedArity = errors.New("accumulator: unsupported arity")
)

// Tree is an append-only Merkle accumulator. It is safe for concurrent use:
// insertions are serialised, reads run concurrently with each other.
type Tree struct {
	mu     sync.RWMutex
	depth  int
	zero   fr.Element
	empty  []fr.Element // empty[i] is the root of an empty subtree of height i
	filled []fr.Element // filled[i] is the last left child written at level i
	leaves []fr.Element
	root   fr.Element
}

// New creates an empty tree of the given depth. Every leaf slot starts out
// equal to zeroValue.
func New(depth int, zeroValue fr.Element, arity int) (*Tree, error) {
	if arity != Arity {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedArity, arity)
	}
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidDepth, depth, MaxDepth)
	}
	t := &Tree{
		depth:  depth,
		zero:   zeroValue,
		empty:  emptyHashes(depth, zeroValue),
		filled: make([]fr.Element, depth),
	}
	t.root = t.empty[depth]
	return t, nil
}

func emptyHashes(depth int, zero fr.Element) []fr.Element {
	out := make([]fr.Element, depth+1)
	out[0] = zero
	for i := 1; i <= depth; i++ {
		out[i] = crypto.H2(out[i-1], out[i-1])
	}
	return out
}

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int { return t.depth }

// Capacity returns the number of leaf slots, 2^depth.
func (t *Tree) Capacity() uint64 { return uint64(1) << t.depth }

// ZeroValue returns the value of an unfilled leaf.
func (t *Tree) ZeroValue() fr.Element { return t.zero }

// Root returns the current root.
func (t *Tree) Root() fr.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Size returns the number of inserted leaves.
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.leaves))
}

// Leaf returns the leaf at index.
func (t *Tree) Leaf(index uint64) (fr.Element, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= uint64(len(t.leaves)) {
		return fr.Element{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, len(t.leaves))
	}
	return t.leaves[index], nil
}

// Leaves returns a copy of the leaf sequence in insertion order.
func (t *Tree) Leaves() []fr.Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]fr.Element, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Insert appends leaf at the next free index and returns that index.
func (t *Tree) Insert(leaf fr.Element) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := uint64(len(t.leaves))
	if idx >= t.Capacity() {
		return 0, fmt.Errorf("%w: %d leaves at depth %d", ErrCapacityExceeded, idx, t.depth)
	}
	t.append(idx, leaf)
	return idx, nil
}

// NextRoot returns the root the tree would have after Insert(leaf), leaving
// the tree unchanged.
func (t *Tree) NextRoot(leaf fr.Element) (fr.Element, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	index := uint64(len(t.leaves))
	if index >= t.Capacity() {
		return fr.Element{}, fmt.Errorf("%w: %d leaves at depth %d", ErrCapacityExceeded, index, t.depth)
	}
	current := leaf
	for level := 0; level < t.depth; level++ {
		if index%2 == 0 {
			current = crypto.H2(current, t.empty[level])
		} else {
			current = crypto.H2(t.filled[level], current)
		}
		index /= 2
	}
	return current, nil
}

// InsertBatch appends leaves in order and returns the index of the first.
// Either every leaf is inserted or none is.
func (t *Tree) InsertBatch(leaves []fr.Element) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := uint64(len(t.leaves))
	if start+uint64(len(leaves)) > t.Capacity() {
		return 0, fmt.Errorf("%w: %d + %d leaves at depth %d", ErrCapacityExceeded, start, len(leaves), t.depth)
	}
	for i := range leaves {
		t.append(start+uint64(i), leaves[i])
	}
	return start, nil
}

// append stores the leaf and walks its path to the root. Caller holds mu.
func (t *Tree) append(index uint64, leaf fr.Element) {
	t.leaves = append(t.leaves, leaf)
	current := leaf
	for level := 0; level < t.depth; level++ {
		if index%2 == 0 {
			// Left child; the right sibling is still empty.
			t.filled[level] = current
			current = crypto.H2(current, t.empty[level])
		} else {
			current = crypto.H2(t.filled[level], current)
		}
		index /= 2
	}
	t.root = current
}

// Prove returns the inclusion proof for the leaf at index against the
// current root.
func (t *Tree) Prove(index uint64) (*Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := uint64(len(t.leaves))
	if index >= n {
		return nil, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, n)
	}
	proof := &Proof{
		Index:       index,
		Siblings:    make([]fr.Element, t.depth),
		PathIndices: make([]uint8, t.depth),
	}

	layer := make([]fr.Element, n)
	copy(layer, t.leaves)
	pos := index
	for level := 0; level < t.depth; level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, t.empty[level])
		}
		proof.PathIndices[level] = uint8(pos & 1)
		if sib := pos ^ 1; sib < uint64(len(layer)) {
			proof.Siblings[level] = layer[sib]
		} else {
			proof.Siblings[level] = t.empty[level]
		}

		next := make([]fr.Element, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = crypto.H2(layer[i], layer[i+1])
		}
		layer = next
		pos /= 2
	}
	return proof, nil
}
