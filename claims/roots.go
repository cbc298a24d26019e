package claims

import (
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// DefaultRootHistorySize is the number of recent roots a pool accepts claims
// against.
const DefaultRootHistorySize = 30

// RootHistory is a bounded ring of recent accumulator roots. Adding a root
// beyond capacity evicts the oldest one.
type RootHistory struct {
	mu     sync.RWMutex
	ring   []fr.Element
	next   int
	size   int
	counts map[fr.Element]int
}

// NewRootHistory returns an empty history holding up to capacity roots. A
// non-positive capacity selects DefaultRootHistorySize.
func NewRootHistory(capacity int) *RootHistory {
	if capacity <= 0 {
		capacity = DefaultRootHistorySize
	}
	return &RootHistory{
		ring:   make([]fr.Element, capacity),
		counts: make(map[fr.Element]int, capacity),
	}
}

// Add records root as the latest root.
func (h *RootHistory) Add(root fr.Element) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == len(h.ring) {
		old := h.ring[h.next]
		if h.counts[old]--; h.counts[old] == 0 {
			delete(h.counts, old)
		}
	} else {
		h.size++
	}
	h.ring[h.next] = root
	h.counts[root]++
	h.next = (h.next + 1) % len(h.ring)
}

// Contains reports whether root is one of the retained roots.
func (h *RootHistory) Contains(root fr.Element) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[root] > 0
}

// Latest returns the most recently added root.
func (h *RootHistory) Latest() (fr.Element, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return fr.Element{}, false
	}
	return h.ring[(h.next+len(h.ring)-1)%len(h.ring)], true
}

// Roots returns the retained roots, oldest first.
func (h *RootHistory) Roots() []fr.Element {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]fr.Element, 0, h.size)
	start := (h.next + len(h.ring) - h.size) % len(h.ring)
	for i := 0; i < h.size; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}

// Len returns the number of retained roots.
func (h *RootHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity returns the maximum number of retained roots.
func (h *RootHistory) Capacity() int { return len(h.ring) }
