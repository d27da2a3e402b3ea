package pager

// ───────────────────────────────────────────────────────────────────────────
// TTL-aware leaf access
// ───────────────────────────────────────────────────────────────────────────
//
// InsertTTL and GetTTL mirror Insert/Get but thread the leaf's HasTTL
// bit (see btree_page.go's LeafEntry) through, so a caller can tell a
// plain value from one carrying an AppendTTLTrailer expiry without
// needing external bookkeeping of which keys were written via put_ttl.

// InsertTTL stores value with an expire_epoch_ms trailer appended,
// marking the leaf entry HasTTL so GetTTL/SplitTTLTrailer can recover
// the plain value and its expiry later.
func (bt *BTree) InsertTTL(txID TxID, key, value []byte, expireEpochMs int64) error {
	stored := AppendTTLTrailer(value, expireEpochMs)
	entry := LeafEntry{Key: key, HasTTL: true}

	if len(stored) > bt.overflowThresh {
		overflowHead, err := bt.writeOverflow(txID, stored)
		if err != nil {
			return err
		}
		entry.Overflow = true
		entry.OverflowPageID = overflowHead
		entry.TotalSize = uint32(len(stored))
	} else {
		entry.Value = stored
	}

	return bt.insertIntoTree(txID, key, entry)
}

// GetTTL looks up key and, if found, reports whether its stored value
// carries a TTL trailer. When hasTTL is true, value is already split
// from its expiry trailer and expireEpochMs holds the deadline;
// otherwise expireEpochMs is NoTTL.
func (bt *BTree) GetTTL(key []byte) (value []byte, hasTTL bool, expireEpochMs int64, found bool, err error) {
	leafID, err := bt.findLeaf(key)
	if err != nil {
		return nil, false, NoTTL, false, err
	}
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return nil, false, NoTTL, false, err
	}
	defer bt.pager.UnpinPage(leafID)

	bp := WrapBTreePage(buf)
	pos, ok := bp.FindLeafEntry(key)
	if !ok {
		return nil, false, NoTTL, false, nil
	}
	entry := bp.GetLeafEntry(pos)

	var stored []byte
	if entry.Overflow {
		stored, err = bt.readOverflow(entry.OverflowPageID, entry.TotalSize)
		if err != nil {
			return nil, false, NoTTL, false, err
		}
	} else {
		stored = entry.Value
	}

	val, expiry := SplitTTLTrailer(stored, entry.HasTTL)
	return val, entry.HasTTL, expiry, true, nil
}
