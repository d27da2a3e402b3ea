package pager

// ───────────────────────────────────────────────────────────────────────────
// TTL index — the companion tree operations of spec.md §4.6
// ───────────────────────────────────────────────────────────────────────────
//
// A TTLIndex pairs a CF's data tree with its companion TTL tree (keyed
// by EncodeTTLKey's (expire_epoch_ms, user_key) ordering) and implements
// put_ttl/get_ttl/ttl_remaining/purge_expired on top of the low-level
// trailer encoding in ttl.go and the HasTTL-aware leaf access in
// btree_ttl.go. Lazy expiry (get_ttl/ttl_remaining deleting an
// already-expired row on read) and purge_expired both need a write
// transaction; the caller supplies txID so the store layer can decide
// whether that's an explicit transaction or an auto-commit wrapper.

// TTLIndex operates on one CF's (data, ttl) tree pair.
type TTLIndex struct {
	data *BTree
	ttl  *BTree
}

// NewTTLIndex wraps a CF's data and TTL companion trees.
func NewTTLIndex(data, ttl *BTree) *TTLIndex {
	return &TTLIndex{data: data, ttl: ttl}
}

// PutTTL stores value under key with the given absolute expiry. It
// removes any previously-registered TTL row for key (found by reading
// the current expiry out of the data row itself, per spec.md §4.6)
// before inserting the new one. expireEpochMs == NoTTL records a plain,
// non-expiring value and removes key's TTL registration if any existed.
func (idx *TTLIndex) PutTTL(txID TxID, key, value []byte, expireEpochMs int64) error {
	if _, hadTTL, oldExpiry, found, err := idx.data.GetTTL(key); err == nil && found && hadTTL {
		if _, err := idx.ttl.Delete(txID, EncodeTTLKey(oldExpiry, key)); err != nil {
			return err
		}
	}

	if expireEpochMs == NoTTL {
		return idx.data.Insert(txID, key, value)
	}
	if err := idx.data.InsertTTL(txID, key, value, expireEpochMs); err != nil {
		return err
	}
	return idx.ttl.Insert(txID, EncodeTTLKey(expireEpochMs, key), nil)
}

// GetTTL reads key, lazily deleting and reporting NOTFOUND if its
// expiry has already passed as of nowMs. remainingMs is NoTTL when the
// value carries no expiry.
func (idx *TTLIndex) GetTTL(txID TxID, key []byte, nowMs int64) (value []byte, remainingMs int64, found bool, err error) {
	val, hasTTL, expiry, found, err := idx.data.GetTTL(key)
	if err != nil || !found {
		return nil, NoTTL, false, err
	}
	if hasTTL && nowMs >= expiry {
		if err := idx.expireNow(txID, key, expiry); err != nil {
			return nil, NoTTL, false, err
		}
		return nil, NoTTL, false, nil
	}
	if !hasTTL {
		return val, NoTTL, true, nil
	}
	return val, expiry - nowMs, true, nil
}

// TTLRemaining reports the remaining lifetime of key without returning
// its value, applying the same lazy-expiry rule as GetTTL.
func (idx *TTLIndex) TTLRemaining(txID TxID, key []byte, nowMs int64) (remainingMs int64, found bool, err error) {
	_, remaining, found, err := idx.GetTTL(txID, key, nowMs)
	return remaining, found, err
}

// expireNow removes an expired key's data row and its TTL row.
func (idx *TTLIndex) expireNow(txID TxID, key []byte, expiry int64) error {
	if _, err := idx.data.Delete(txID, key); err != nil {
		return err
	}
	_, err := idx.ttl.Delete(txID, EncodeTTLKey(expiry, key))
	return err
}

// PurgeExpired deletes every (data row, TTL row) pair whose expiry is
// <= nowMs, scanning the TTL tree from its lowest key so entries are
// visited in expiry order and the scan can stop at the first
// not-yet-expired entry. limit caps the number of rows purged in this
// call (0 = unbounded); spec.md's purge_expired returns the count
// actually deleted.
func (idx *TTLIndex) PurgeExpired(txID TxID, nowMs int64, limit int) (int, error) {
	type due struct {
		ttlKey  []byte
		userKey []byte
	}
	var expired []due

	err := idx.ttl.ScanRange(EncodeTTLKey(0, nil), nil, func(k, _ []byte) bool {
		expiry, userKey := DecodeTTLKey(k)
		if expiry > nowMs {
			return false
		}
		expired = append(expired, due{
			ttlKey:  append([]byte(nil), k...),
			userKey: append([]byte(nil), userKey...),
		})
		return limit <= 0 || len(expired) < limit
	})
	if err != nil {
		return 0, err
	}

	for _, d := range expired {
		if _, err := idx.data.Delete(txID, d.userKey); err != nil {
			return 0, err
		}
		if _, err := idx.ttl.Delete(txID, d.ttlKey); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
