package pager

import "sync"

// ───────────────────────────────────────────────────────────────────────────
// WAL index — process-local substitute for the shared-memory region
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §4 describes the WAL-index as a shared-memory region (the
// `-shm` file) mapping page number to most recent frame number, with a
// reader-slot table recording each reader's max-frame bound so a writer
// never reclaims frames a live reader might still need. This store is a
// single-process Go library: there is nothing for another process to
// attach to, so the index lives as an in-process table keyed by the
// database's absolute path, shared by every Pager opened against that
// path within the process (mirroring what the real -shm file would give
// multiple processes).

var (
	walIndexMu sync.Mutex
	walIndexes = map[string]*WALIndex{}
)

// WALIndex tracks, per database, the current WAL frame count and the
// set of live reader snapshots.
type WALIndex struct {
	mu         sync.Mutex
	refs       int
	maxFrame   uint64
	pageFrame  map[PageID]uint64 // page number -> most recent frame containing it
	nextReader int
	readers    map[int]uint64 // reader slot -> max frame bound (snapshot)
}

// OpenWALIndex returns the shared WALIndex for path, creating it on
// first use, and increments its reference count.
func OpenWALIndex(path string) *WALIndex {
	walIndexMu.Lock()
	defer walIndexMu.Unlock()
	idx, ok := walIndexes[path]
	if !ok {
		idx = &WALIndex{
			pageFrame: make(map[PageID]uint64),
			readers:   make(map[int]uint64),
		}
		walIndexes[path] = idx
	}
	idx.refs++
	return idx
}

// CloseWALIndex decrements path's reference count, dropping the index
// once the last Pager referencing it has closed.
func CloseWALIndex(path string) {
	walIndexMu.Lock()
	defer walIndexMu.Unlock()
	if idx, ok := walIndexes[path]; ok {
		idx.refs--
		if idx.refs > 0 {
			return
		}
	}
	delete(walIndexes, path)
}

// RecordFrame registers that pgno's most recent content lives at frame.
func (w *WALIndex) RecordFrame(pgno PageID, frame uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pageFrame[pgno] = frame
	if frame > w.maxFrame {
		w.maxFrame = frame
	}
}

// FrameFor returns pgno's most recent WAL frame if that frame is no
// later than snapshotMax, and (0, false) otherwise. Only the latest
// frame per page is kept, so when the latest frame is newer than
// snapshotMax the result is (0, false) even if an older frame of the
// page lies within the snapshot.
func (w *WALIndex) FrameFor(pgno PageID, snapshotMax uint64) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	frame, ok := w.pageFrame[pgno]
	if !ok || frame > snapshotMax {
		return 0, false
	}
	return frame, true
}

// BeginReader allocates a reader slot pinned at the current max frame,
// and returns the slot id (for EndReader) and the snapshot bound.
func (w *WALIndex) BeginReader() (slot int, snapshotMax uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	slot = w.nextReader
	w.nextReader++
	snapshotMax = w.maxFrame
	w.readers[slot] = snapshotMax
	return slot, snapshotMax
}

// EndReader releases a reader slot.
func (w *WALIndex) EndReader(slot int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.readers, slot)
}

// MinReaderFrame returns the lowest max-frame bound among live readers,
// or (maxFrame, true-as-"no readers") if none are active — a checkpoint
// may reclaim frames at or below this bound for FULL/RESTART/TRUNCATE
// modes without starving a reader mid-snapshot.
func (w *WALIndex) MinReaderFrame() (bound uint64, noReaders bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.readers) == 0 {
		return w.maxFrame, true
	}
	min := w.maxFrame
	for _, f := range w.readers {
		if f < min {
			min = f
		}
	}
	return min, false
}

// AdvanceFrame bumps the committed-frame counter by one (called once
// per committed transaction) and returns the new value.
func (w *WALIndex) AdvanceFrame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxFrame++
	return w.maxFrame
}

// MaxFrame reports the highest frame number committed so far.
func (w *WALIndex) MaxFrame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxFrame
}

// Reset clears frame bookkeeping after a checkpoint truncates the WAL.
func (w *WALIndex) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxFrame = 0
	w.pageFrame = make(map[PageID]uint64)
}
