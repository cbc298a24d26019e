package rawdb

import "encoding/binary"

// Key prefixes. Every key after the prefix starts with the length-prefixed
// pool id, so one pool's keys never prefix another's.
var (
	leafPrefix       = []byte("l") // l + pool + index (8 bytes BE) -> leaf (32 bytes)
	leafCountPrefix  = []byte("m") // m + pool -> leaf count (8 bytes BE)
	nullifierPrefix  = []byte("n") // n + pool + nullifier hash -> spentMarker
	checkpointPrefix = []byte("c") // c + pool + tree size (8 bytes BE) -> checkpoint
	poolPrefix       = []byte("p") // p + pool -> pool config
)

var spentMarker = []byte{0x01}

// MaxPoolIDLength is the longest pool id the schema can encode.
const MaxPoolIDLength = 255

func encodeIndex(i uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, i)
	return enc
}

// poolKey = prefix + len(pool) + pool
func poolKey(prefix []byte, pool string) []byte {
	key := make([]byte, 0, len(prefix)+1+len(pool)+40)
	key = append(key, prefix...)
	key = append(key, byte(len(pool)))
	return append(key, pool...)
}

// leafKey = leafPrefix + pool + index
func leafKey(pool string, index uint64) []byte {
	return append(poolKey(leafPrefix, pool), encodeIndex(index)...)
}

// leafCountKey = leafCountPrefix + pool
func leafCountKey(pool string) []byte {
	return poolKey(leafCountPrefix, pool)
}

// nullifierKey = nullifierPrefix + pool + nullifier hash
func nullifierKey(pool string, nh [32]byte) []byte {
	return append(poolKey(nullifierPrefix, pool), nh[:]...)
}

// checkpointKey = checkpointPrefix + pool + size
func checkpointKey(pool string, size uint64) []byte {
	return append(poolKey(checkpointPrefix, pool), encodeIndex(size)...)
}

// poolConfigKey = poolPrefix + pool
func poolConfigKey(pool string) []byte {
	return poolKey(poolPrefix, pool)
}
