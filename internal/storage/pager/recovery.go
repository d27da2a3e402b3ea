package pager

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads the WAL frame-by-frame (ReadAllRecords reconstructs the
// logical record stream from the on-disk salt/checksum-validated frames,
// stopping at the first torn or stale frame it finds) and replays only
// fully committed transactions whose page images have an LSN > the
// checkpoint LSN already recorded in the superblock. Uncommitted/aborted
// transactions are discarded.
//
// A COMMIT frame's commit-marker field carries the database's page count
// as of that commit (WALRecord.DBSizePages); recovery trusts that value
// directly for the replayed NextPageID/PageCount instead of re-deriving it
// from the highest page ID touched by PAGE_IMAGE records, since a
// transaction that shrinks the file or touches no new pages would
// otherwise be mis-sized by a max-PageID heuristic.
//
// Algorithm:
//   1. Read all WAL records (ReadAllRecords already discards anything
//      past a checksum or salt mismatch, i.e. a torn write).
//   2. Build a map TxID → list of PAGE_IMAGE records, tracking whether
//      each TxID saw a COMMIT (and its DBSizePages) or an ABORT.
//   3. For each committed TX, apply PAGE_IMAGE records whose LSN exceeds
//      the checkpoint LSN.
//   4. Fsync the database file.
//   5. Update and flush the superblock with the new checkpoint LSN and
//      the highest committed DBSizePages.
//   6. Truncate the WAL back to its header (reset checksum chain, bumped
//      checkpoint sequence; the salts are unchanged).

// Recover replays the WAL and applies committed transactions.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	// Classify records by TxID.
	type txRecords struct {
		pages       []*WALRecord
		committed   bool
		aborted     bool
		dbSizePages uint32
		commitLSN   LSN
	}
	txMap := make(map[TxID]*txRecords)

	var maxLSN LSN
	var maxTxID TxID

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		switch rec.Type {
		case WALRecordBegin:
			txMap[rec.TxID] = &txRecords{}
		case WALRecordPageImage:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.pages = append(tr.pages, rec)
		case WALRecordCommit:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.committed = true
			tr.dbSizePages = rec.DBSizePages
			tr.commitLSN = rec.LSN
		case WALRecordAbort:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.aborted = true
			}
		case WALRecordCheckpoint:
			// Checkpoint record; all prior transactions are flushed.
		}
	}

	// Replay committed transactions only, in LSN order (records is in WAL
	// order), so a later commit's image of a page overwrites an earlier one.
	var applied int
	for _, rec := range records {
		if rec.Type != WALRecordPageImage {
			continue
		}
		if tr := txMap[rec.TxID]; !tr.committed || tr.aborted {
			continue
		}
		// Only apply if the record's LSN > checkpoint LSN.
		if rec.LSN <= LSN(p.sb.CheckpointLSN) {
			continue
		}
		if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
		}
		applied++
	}

	if applied > 0 {
		// Fsync the database file.
		if err := p.file.Sync(); err != nil {
			return err
		}

		// Update superblock.
		p.sb.CheckpointLSN = maxLSN
		if TxID(maxTxID+1) > p.sb.NextTxID {
			p.sb.NextTxID = TxID(maxTxID + 1)
		}

		// Trust the last committed COMMIT frame's DBSizePages over a
		// max-PageID scan: a commit that never dirtied the highest-numbered
		// page (or shrank the file) would otherwise leave NextPageID stale.
		var committedMaxLSN LSN
		for _, tr := range txMap {
			if !tr.committed {
				continue
			}
			if tr.dbSizePages > 0 && tr.commitLSN > committedMaxLSN {
				committedMaxLSN = tr.commitLSN
				p.sb.NextPageID = PageID(tr.dbSizePages)
				p.sb.PageCount = uint64(p.sb.NextPageID)
			}
		}

		sbBuf := MarshalSuperblock(p.sb, p.pageSize)
		if err := p.writePageRaw(0, sbBuf); err != nil {
			return fmt.Errorf("recover superblock: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	// Set WAL next LSN beyond recovered records.
	p.wal.SetNextLSN(maxLSN + 1)

	// Truncate the WAL.
	return p.wal.Truncate()
}
