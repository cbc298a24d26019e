// Package rawdb stores pool state (leaves, spent nullifier hashes, signed
// checkpoints and pool configs) in a go-ethereum key-value store, using a
// prefix-keyed schema.
package rawdb

import (
	"errors"
	"path/filepath"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// Database errors.
var (
	ErrNotFound      = errors.New("rawdb: not found")
	ErrCorrupt       = errors.New("rawdb: corrupt entry")
	ErrPoolIDTooLong = errors.New("rawdb: pool id too long")
)

// LevelDB tuning for the pool database. The data set is small.
const (
	DefaultCache   = 16 // MiB
	DefaultHandles = 16
	dbDirName      = "pooldb"
	metricsPrefix  = "flightshield/db/"
)

// NewMemoryDatabase returns an in-memory store.
func NewMemoryDatabase() ethdb.KeyValueStore {
	return memorydb.New()
}

// NewLevelDBDatabase opens a LevelDB store at file.
func NewLevelDBDatabase(file string, cache, handles int, readonly bool) (ethdb.KeyValueStore, error) {
	return leveldb.New(file, cache, handles, metricsPrefix, readonly)
}

// Open returns the store for datadir. An empty datadir gives an in-memory
// store.
func Open(datadir string, readonly bool) (ethdb.KeyValueStore, error) {
	if datadir == "" {
		return NewMemoryDatabase(), nil
	}
	return NewLevelDBDatabase(filepath.Join(datadir, dbDirName), DefaultCache, DefaultHandles, readonly)
}
