package claims

import (
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// NullifierSet holds the nullifier hashes of paid claims.
type NullifierSet struct {
	mu    sync.RWMutex
	spent map[fr.Element]struct{}
}

// NewNullifierSet returns an empty set.
func NewNullifierSet() *NullifierSet {
	return &NullifierSet{spent: make(map[fr.Element]struct{})}
}

// Spend marks nh as spent. It returns false if nh was already spent.
func (s *NullifierSet) Spend(nh fr.Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spent[nh]; ok {
		return false
	}
	s.spent[nh] = struct{}{}
	return true
}

// Has reports whether nh is spent.
func (s *NullifierSet) Has(nh fr.Element) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spent[nh]
	return ok
}

// Len returns the number of spent nullifier hashes.
func (s *NullifierSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spent)
}

// revert undoes a Spend whose record could not be persisted.
func (s *NullifierSet) revert(nh fr.Element) {
	s.mu.Lock()
	delete(s.spent, nh)
	s.mu.Unlock()
}
