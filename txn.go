package tinykv

import (
	"sync/atomic"

	"github.com/kvstore/tinykv/internal/storage/pager"
)

// Tx is an explicit transaction obtained from Store.Begin, per spec.md
// §4.7. While one is active on a Store, every CF operation called
// through that Store (or any of its CF handles) runs inside it instead
// of auto-committing; Commit or Rollback ends it.
//
// A read-only Tx (Begin(false)) does not open a write transaction on
// the underlying pager — the engine has no separate read-transaction
// machinery below the WAL reader-slot that pins a snapshot against
// checkpoint reclamation. Operations performed through a read-only Tx
// therefore still read live pages rather than a pager-level consistent
// snapshot; only the reader-slot's checkpoint exclusion is real. This
// is a known simplification, not a literal per-commit snapshot.
type Tx struct {
	store *Store
	write bool
	txID  pager.TxID

	readerSlot int
	hasReader  bool

	done atomic.Bool
}

// Begin opens an explicit transaction on the store. write selects a
// read-write transaction (auto-committing CF calls instead join this
// one) or a read-only snapshot. Only one explicit transaction may be
// active on a Store at a time; a second Begin returns ErrTxActive,
// matching spec.md §4.7's "nesting not supported" rule.
func (s *Store) Begin(write bool) (*Tx, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if s.explicit != nil {
		return nil, s.setErr(ErrTxActive)
	}

	tx := &Tx{store: s, write: write}
	if write {
		txID, err := s.pgr.BeginTx()
		if err != nil {
			return nil, s.setErr(err)
		}
		tx.txID = txID
	} else {
		slot, _ := s.pgr.BeginReader()
		tx.readerSlot = slot
		tx.hasReader = true
	}

	s.explicit = tx
	return tx, nil
}

// Commit finalizes the transaction. Calling Commit twice, or after
// Rollback, returns ErrNoTx.
func (tx *Tx) Commit() error {
	if tx.done.Swap(true) {
		return tx.store.setErr(ErrNoTx)
	}
	tx.clearExplicit()
	if !tx.write {
		if tx.hasReader {
			tx.store.pgr.EndReader(tx.readerSlot)
		}
		return nil
	}
	return tx.store.setErr(tx.store.pgr.CommitTx(tx.txID))
}

// Rollback aborts the transaction, discarding any writes it made.
// Calling Rollback twice, or after Commit, returns ErrNoTx.
func (tx *Tx) Rollback() error {
	if tx.done.Swap(true) {
		return tx.store.setErr(ErrNoTx)
	}
	tx.clearExplicit()
	if !tx.write {
		if tx.hasReader {
			tx.store.pgr.EndReader(tx.readerSlot)
		}
		return nil
	}
	return tx.store.setErr(tx.store.pgr.AbortTx(tx.txID))
}

func (tx *Tx) clearExplicit() {
	tx.store.txMu.Lock()
	if tx.store.explicit == tx {
		tx.store.explicit = nil
	}
	tx.store.txMu.Unlock()
}
