package pager

import (
	"bytes"
	"encoding/binary"
)

// Comparator orders two B-tree keys. It returns <0, 0, >0 the way
// bytes.Compare does. Selected per tree at create/cursor-open time so a
// single BTree implementation can back both key classes named in
// spec.md §4.3.
type Comparator func(a, b []byte) int

// BlobComparator orders keys lexicographically. It backs user-data trees
// and the TTL companion tree.
func BlobComparator(a, b []byte) int { return bytes.Compare(a, b) }

// IntComparator orders keys as signed 64-bit big-endian-encoded rowids,
// via EncodeInt64Key/DecodeInt64Key. spec.md §4.3 names an INT key class
// alongside BLOB; this store's only system-managed tree with a name-like
// key (the column-family catalog) uses BlobComparator instead, matching
// spec.md §4.5's literal "key is the CF name bytes" — so IntComparator
// is exposed for rowid-keyed trees a caller builds on top of CreateBTree,
// not used internally. See DESIGN.md for the §4.3/§4.5 resolution.
func IntComparator(a, b []byte) int {
	return int64Compare(decodeInt64Key(a), decodeInt64Key(b))
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// EncodeInt64Key encodes a signed rowid so big-endian byte comparison
// matches signed integer order: the sign bit is flipped so negative
// values sort before non-negative ones.
func EncodeInt64Key(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^(1<<63))
	return buf[:]
}

func decodeInt64Key(k []byte) int64 {
	if len(k) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k) ^ (1 << 63))
}

// DecodeInt64Key reverses EncodeInt64Key.
func DecodeInt64Key(k []byte) int64 { return decodeInt64Key(k) }
