package rawdb

import (
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/ethdb"
)

func checkPool(pool string) error {
	if len(pool) == 0 || len(pool) > MaxPoolIDLength {
		return fmt.Errorf("%w: %d bytes", ErrPoolIDTooLong, len(pool))
	}
	return nil
}

// --- Leaf Accessors ---

// AppendLeaves writes leaves starting at index start and the new leaf count
// in one batch.
func AppendLeaves(db ethdb.KeyValueStore, pool string, start uint64, leaves []fr.Element) error {
	batch := db.NewBatch()
	if err := WriteLeaves(batch, pool, start, leaves); err != nil {
		return err
	}
	return batch.Write()
}

// WriteLeaves puts leaves starting at index start and the new leaf count.
// Pass a batch to commit them together with other writes.
func WriteLeaves(db ethdb.KeyValueWriter, pool string, start uint64, leaves []fr.Element) error {
	if err := checkPool(pool); err != nil {
		return err
	}
	for i := range leaves {
		b := leaves[i].Bytes()
		if err := db.Put(leafKey(pool, start+uint64(i)), b[:]); err != nil {
			return err
		}
	}
	return db.Put(leafCountKey(pool), encodeIndex(start+uint64(len(leaves))))
}

// ReadLeafCount returns the number of stored leaves for pool.
func ReadLeafCount(db ethdb.KeyValueReader, pool string) (uint64, error) {
	ok, err := db.Has(leafCountKey(pool))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	data, err := db.Get(leafCountKey(pool))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: leaf count for %q", ErrCorrupt, pool)
	}
	return binary.BigEndian.Uint64(data), nil
}

// ReadLeaf returns one stored leaf.
func ReadLeaf(db ethdb.KeyValueReader, pool string, index uint64) (fr.Element, error) {
	var e fr.Element
	ok, err := db.Has(leafKey(pool, index))
	if err != nil {
		return e, err
	}
	if !ok {
		return e, ErrNotFound
	}
	data, err := db.Get(leafKey(pool, index))
	if err != nil {
		return e, err
	}
	if err := e.SetBytesCanonical(data); err != nil {
		return e, fmt.Errorf("%w: leaf %d of %q: %v", ErrCorrupt, index, pool, err)
	}
	return e, nil
}

// ReadLeaves returns every stored leaf for pool in index order.
func ReadLeaves(db ethdb.KeyValueReader, pool string) ([]fr.Element, error) {
	n, err := ReadLeafCount(db, pool)
	if err != nil {
		return nil, err
	}
	leaves := make([]fr.Element, n)
	for i := uint64(0); i < n; i++ {
		if leaves[i], err = ReadLeaf(db, pool, i); err != nil {
			return nil, fmt.Errorf("rawdb: leaf %d of %d: %w", i, n, err)
		}
	}
	return leaves, nil
}

// --- Nullifier Accessors ---

// WriteNullifier marks a nullifier hash as spent.
func WriteNullifier(db ethdb.KeyValueWriter, pool string, nh [32]byte) error {
	if err := checkPool(pool); err != nil {
		return err
	}
	return db.Put(nullifierKey(pool, nh), spentMarker)
}

// HasNullifier reports whether a nullifier hash is spent.
func HasNullifier(db ethdb.KeyValueReader, pool string, nh [32]byte) bool {
	ok, _ := db.Has(nullifierKey(pool, nh))
	return ok
}

// ReadNullifiers returns every spent nullifier hash for pool.
func ReadNullifiers(db ethdb.Iteratee, pool string) ([][32]byte, error) {
	prefix := poolKey(nullifierPrefix, pool)
	it := db.NewIterator(prefix, nil)
	defer it.Release()

	var out [][32]byte
	for it.Next() {
		key := it.Key()
		if len(key) != len(prefix)+32 {
			return nil, fmt.Errorf("%w: nullifier key length %d", ErrCorrupt, len(key))
		}
		var nh [32]byte
		copy(nh[:], key[len(prefix):])
		out = append(out, nh)
	}
	return out, it.Error()
}

// --- Checkpoint Accessors ---

// WriteCheckpoint stores an encoded checkpoint for the tree size it covers.
func WriteCheckpoint(db ethdb.KeyValueWriter, pool string, size uint64, data []byte) error {
	if err := checkPool(pool); err != nil {
		return err
	}
	return db.Put(checkpointKey(pool, size), data)
}

// ReadCheckpoint returns the checkpoint stored for size.
func ReadCheckpoint(db ethdb.KeyValueReader, pool string, size uint64) ([]byte, error) {
	ok, err := db.Has(checkpointKey(pool, size))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.Get(checkpointKey(pool, size))
}

// ReadLatestCheckpoint returns the checkpoint with the largest tree size.
func ReadLatestCheckpoint(db ethdb.Iteratee, pool string) ([]byte, error) {
	it := db.NewIterator(poolKey(checkpointPrefix, pool), nil)
	defer it.Release()

	var latest []byte
	for it.Next() {
		latest = append(latest[:0], it.Value()...)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// --- Pool Accessors ---

// WritePoolConfig stores a pool's encoded configuration.
func WritePoolConfig(db ethdb.KeyValueWriter, pool string, data []byte) error {
	if err := checkPool(pool); err != nil {
		return err
	}
	return db.Put(poolConfigKey(pool), data)
}

// ReadPoolConfig returns a pool's encoded configuration.
func ReadPoolConfig(db ethdb.KeyValueReader, pool string) ([]byte, error) {
	ok, err := db.Has(poolConfigKey(pool))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.Get(poolConfigKey(pool))
}

// ReadPoolIDs lists every pool with a stored config, in key order.
func ReadPoolIDs(db ethdb.Iteratee) ([]string, error) {
	it := db.NewIterator(poolPrefix, nil)
	defer it.Release()

	var ids []string
	for it.Next() {
		key := it.Key()[len(poolPrefix):]
		if len(key) == 0 || int(key[0]) != len(key)-1 {
			return nil, fmt.Errorf("%w: pool key", ErrCorrupt)
		}
		ids = append(ids, string(key[1:]))
	}
	return ids, it.Error()
}
