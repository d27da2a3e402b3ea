package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// TTL support — companion tree key encoding and value-trailer framing
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §4.6: a TTL entry is a row in the CF's companion TTL B-tree
// keyed by (expire_epoch_ms BE u64, user_key_bytes), value empty. A data
// row written via put_ttl carries an 8-byte trailer [expire_epoch_ms]
// appended to its value; a plain put never does.

// NoTTL is the sentinel expiry meaning "no TTL set".
const NoTTL int64 = 0

// EncodeTTLKey builds the companion tree's key: expire_epoch_ms in
// big-endian (so range scans "everything due now" are a plain prefix
// scan up to the current timestamp), followed by the user key bytes.
func EncodeTTLKey(expireEpochMs int64, userKey []byte) []byte {
	buf := make([]byte, 8+len(userKey))
	binary.BigEndian.PutUint64(buf[0:8], uint64(expireEpochMs))
	copy(buf[8:], userKey)
	return buf
}

// DecodeTTLKey splits a companion-tree key back into its expiry and
// user-key components.
func DecodeTTLKey(k []byte) (expireEpochMs int64, userKey []byte) {
	if len(k) < 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(k[0:8])), k[8:]
}

// ttlTrailerSize is the width of the expire_epoch_ms trailer appended to
// a value written through put_ttl.
const ttlTrailerSize = 8

// AppendTTLTrailer returns value with an 8-byte big-endian
// expire_epoch_ms trailer appended, for storage in the data tree.
func AppendTTLTrailer(value []byte, expireEpochMs int64) []byte {
	out := make([]byte, len(value)+ttlTrailerSize)
	copy(out, value)
	binary.BigEndian.PutUint64(out[len(value):], uint64(expireEpochMs))
	return out
}

// SplitTTLTrailer reports whether stored carries a TTL trailer and, if
// so, separates it into the plain value and its expiry. hasTrailer is a
// caller-supplied fact (recorded alongside the row, not guessed from the
// bytes) since an 8-byte plain value is otherwise indistinguishable from
// a trailer-bearing one.
func SplitTTLTrailer(stored []byte, hasTrailer bool) (value []byte, expireEpochMs int64) {
	if !hasTrailer || len(stored) < ttlTrailerSize {
		return stored, NoTTL
	}
	split := len(stored) - ttlTrailerSize
	return stored[:split], int64(binary.BigEndian.Uint64(stored[split:]))
}
