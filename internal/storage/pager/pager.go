package pager

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool / Pager
// ───────────────────────────────────────────────────────────────────────────
//
// The Pager is the central I/O layer. It manages the database file, the WAL,
// the buffer pool (page cache with dirty tracking), the free-list, and the
// superblock. All page reads and writes go through the Pager so that CRC
// validation and WAL logging happen automatically.

// PagerState is the pager's transaction state machine, per spec.md §4.2.
type PagerState int

const (
	PagerStateOpen PagerState = iota
	PagerStateReader
	PagerStateWriterLocked
	PagerStateWriterCacheMod
	PagerStateWriterDBMod
	PagerStateWriterFinished
	PagerStateError
)

func (s PagerState) String() string {
	switch s {
	case PagerStateOpen:
		return "OPEN"
	case PagerStateReader:
		return "READER"
	case PagerStateWriterLocked:
		return "WRITER_LOCKED"
	case PagerStateWriterCacheMod:
		return "WRITER_CACHEMOD"
	case PagerStateWriterDBMod:
		return "WRITER_DBMOD"
	case PagerStateWriterFinished:
		return "WRITER_FINISHED"
	case PagerStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SyncLevel governs fsync discipline around commits and checkpoints.
type SyncLevel int

const (
	SyncOff SyncLevel = iota
	SyncNormal
	SyncFull
)

// CheckpointMode selects how aggressively a checkpoint reclaims WAL
// frames, per spec.md §4.7's "except at checkpoint time for
// FULL/RESTART/TRUNCATE" reader/writer concurrency carve-out.
type CheckpointMode int

const (
	// CheckpointPassive copies as many frames as possible without
	// blocking readers or writers; it may not empty the WAL.
	CheckpointPassive CheckpointMode = iota
	// CheckpointFull blocks new writers until every frame up to the
	// start of the checkpoint is copied, but still lets existing
	// readers finish against older frames.
	CheckpointFull
	// CheckpointRestart is Full, plus it blocks until every reader has
	// moved off the WAL so the log can restart from frame 0.
	CheckpointRestart
	// CheckpointTruncate is Restart, plus it truncates the WAL file to
	// zero length afterward.
	CheckpointTruncate
)

// PageFrame is an in-memory cached page.
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	lsn    LSN // LSN of last modification
	pinned int // pin count (>0 = cannot evict)
	prev   *PageFrame
	next   *PageFrame
}

// BufferPoolConfig configures the page buffer pool.
type BufferPoolConfig struct {
	MaxPages int // maximum number of cached pages (default 1024)
}

// PageBufferPool is an LRU page cache with dirty-page tracking.
type PageBufferPool struct {
	mu       sync.Mutex
	maxPages int
	pages    map[PageID]*PageFrame
	// LRU doubly-linked list: head = most recent, tail = least recent.
	head *PageFrame
	tail *PageFrame
}

func newPageBufferPool(maxPages int) *PageBufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &PageBufferPool{
		maxPages: maxPages,
		pages:    make(map[PageID]*PageFrame, maxPages),
	}
}

func (bp *PageBufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *PageBufferPool) put(f *PageFrame) {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return
	}
	// Evict if at capacity.
	for len(bp.pages) >= bp.maxPages {
		if !bp.evictOne() {
			break // all pages pinned — cannot evict
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
}

func (bp *PageBufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne removes the least-recently-used unpinned page.
// Returns false if no page can be evicted.
func (bp *PageBufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 {
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true
		}
	}
	return false
}

// dirtyPages returns all dirty page frames.
func (bp *PageBufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *PageBufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *PageBufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev = nil
	f.next = nil
}

func (bp *PageBufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	DBPath        string
	WALPath       string
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)

	JournalMode       JournalMode // rollback journal vs WAL; default WAL
	SyncLevel         SyncLevel   // zero value is SyncOff; DefaultConfig uses SyncNormal
	BusyTimeoutMs     int         // default 0 (no retry)
	WALSizeLimitFrames int        // auto-checkpoint trigger; 0 disables it

	Logger *zerolog.Logger // default: a disabled logger
}

// Pager manages page-level I/O, WAL, buffer pool, and free-list.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	wal      *WALFile
	pool     *PageBufferPool
	sb       *Superblock
	freeMgr  *FreeManager
	pageSize int
	path     string
	walPath  string
	closed   bool

	state         PagerState
	lock          *FileLock
	readerRefs    int
	walIdx        *WALIndex
	journalMode   JournalMode
	syncLevel     SyncLevel
	busyTimeoutMs int
	walSizeLimit  int
	log           zerolog.Logger
}

// busyRetry runs op, retrying with deterministic exponential backoff and
// jitter while it returns a CodeBusy error and the configured busy
// timeout budget remains — resolving spec.md §9's open question on the
// backoff schedule. Only the final attempt's error is surfaced.
func (p *Pager) busyRetry(op func() error) error {
	if p.busyTimeoutMs <= 0 {
		return op()
	}
	deadline := time.Now().Add(time.Duration(p.busyTimeoutMs) * time.Millisecond)
	backoff := 2 * time.Millisecond
	const maxBackoff = 100 * time.Millisecond
	for {
		err := op()
		if err == nil || Code(err) != CodeBusy {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(backoff) + 1))
		sleep := backoff + jitter
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// OpenPager opens or creates a page-based database.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file: %w", err)
	}

	syncLevel := cfg.SyncLevel
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logger.Level(zerolog.Disabled)
	}

	p := &Pager{
		file:          f,
		pageSize:      ps,
		path:          cfg.DBPath,
		walPath:       cfg.WALPath,
		pool:          newPageBufferPool(cfg.MaxCachePages),
		freeMgr:       NewFreeManager(),
		state:         PagerStateOpen,
		lock:          NewFileLock(f),
		walIdx:        OpenWALIndex(cfg.DBPath),
		journalMode:   cfg.JournalMode,
		syncLevel:     syncLevel,
		busyTimeoutMs: cfg.BusyTimeoutMs,
		walSizeLimit:  cfg.WALSizeLimitFrames,
		log:           logger.With().Str("component", "pager").Str("path", cfg.DBPath).Logger(),
	}

	if isNew {
		sb := NewSuperblock(uint32(ps))
		buf := MarshalSuperblock(sb, ps)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write superblock: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.sb = sb
	} else {
		sb, err := p.readSuperblock()
		if err != nil {
			f.Close()
			return nil, err
		}
		p.sb = sb
		p.pageSize = int(sb.PageSize) // honour on-disk page size

		// Load free list.
		if sb.FreeListRoot != InvalidPageID {
			if err := p.freeMgr.LoadFromDisk(sb.FreeListRoot, p.readPageRaw); err != nil {
				f.Close()
				return nil, fmt.Errorf("load freelist: %w", err)
			}
		}
	}

	// Open or create WAL.
	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.DBPath + ".wal"
	}
	p.walPath = walPath
	wf, err := OpenWALFile(walPath, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	p.wal = wf

	// If WAL has records, perform recovery before accepting new writes.
	if !isNew {
		if err := p.Recover(); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("WAL recovery: %w", err)
		}
	}

	p.log.Info().Bool("new", isNew).Int("page_size", p.pageSize).Msg("pager opened")
	return p, nil
}

func (p *Pager) readSuperblock() (*Superblock, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	return UnmarshalSuperblock(buf)
}

// readPageRaw reads a page directly from the database file (no cache).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writePageRaw writes a page directly to the database file (no cache).
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	if id != 0 {
		// Page 0 (the superblock) carries no CRC: its bytes 16..20 hold
		// the page-size and version fields.
		SetPageCRC(buf)
	}
	off := int64(id) * int64(p.pageSize)
	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage returns a page by ID, using the buffer pool cache.
// The page is pinned in the cache; call UnpinPage when done.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *Pager) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	// Cache miss — read from file.
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return buf, nil
}

// UnpinPage decrements the pin count.
func (p *Pager) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage writes (updates) a page through the WAL. The page image is
// logged to the WAL and cached as dirty. The caller should have called
// BeginTx beforehand.
func (p *Pager) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// NOTE: CRC is set by the caller (BTree layer).  We skip re-computing
	// it here to avoid redundant work.

	// Log full page image to WAL.
	rec := &WALRecord{
		Type:   WALRecordPageImage,
		TxID:   txID,
		PageID: id,
		Data:   append([]byte{}, buf...), // copy
	}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return fmt.Errorf("WAL write page %d: %w", id, err)
	}

	// Update buffer pool.
	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		p.pool.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	f.lsn = lsn
	p.pool.mu.Unlock()

	return nil
}

// ── Transaction management ────────────────────────────────────────────────

// BeginTx starts a new write transaction, acquiring the RESERVED file
// lock (spec.md §4.7: exactly one write transaction at a time across
// every process sharing this file). Blocked acquisition surfaces as a
// CodeBusy error, retried per busy_timeout_ms.
func (p *Pager) BeginTx() (TxID, error) {
	if err := p.busyRetry(func() error { return p.lock.Acquire(LockReserved, false) }); err != nil {
		p.log.Warn().Err(err).Msg("begin tx: lock contention")
		return 0, err
	}

	p.mu.Lock()
	txID := p.sb.NextTxID
	p.sb.NextTxID++
	p.state = PagerStateWriterLocked
	p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordBegin, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		p.lock.Release()
		p.setErrorState()
		return 0, err
	}
	p.mu.Lock()
	p.state = PagerStateWriterCacheMod
	p.mu.Unlock()
	return txID, nil
}

// CommitTx writes a COMMIT record, fsyncs the WAL per the configured
// sync level, and releases the write lock.
func (p *Pager) CommitTx(txID TxID) error {
	p.mu.Lock()
	p.state = PagerStateWriterDBMod
	p.mu.Unlock()

	p.mu.Lock()
	dbSize := uint32(p.sb.NextPageID)
	p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordCommit, TxID: txID, DBSizePages: dbSize}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		p.setErrorState()
		return err
	}
	if p.syncLevel != SyncOff {
		if err := p.wal.Sync(); err != nil {
			p.setErrorState()
			return err
		}
	}
	p.walIdx.AdvanceFrame()

	p.mu.Lock()
	p.state = PagerStateWriterFinished
	p.mu.Unlock()
	if err := p.lock.Release(); err != nil {
		return err
	}
	p.mu.Lock()
	p.state = PagerStateOpen
	p.mu.Unlock()

	if p.walSizeLimit > 0 && int(p.walIdx.MaxFrame()) >= p.walSizeLimit {
		if _, _, err := p.checkpointMode(CheckpointPassive); err != nil {
			p.log.Warn().Err(err).Msg("auto-checkpoint failed")
		}
	}
	return nil
}

// AbortTx writes an ABORT record and releases the write lock. Dirty
// pages for this TX will be discarded on the next recovery or
// checkpoint.
func (p *Pager) AbortTx(txID TxID) error {
	rec := &WALRecord{Type: WALRecordAbort, TxID: txID}
	_, err := p.wal.AppendRecord(rec)
	p.lock.Release()
	p.mu.Lock()
	p.state = PagerStateOpen
	p.mu.Unlock()
	return err
}

// setErrorState drives the pager into ERROR, per spec.md §7's
// propagation policy: the first non-OK status during a write sticks
// until rollback/AbortTx.
func (p *Pager) setErrorState() {
	p.mu.Lock()
	p.state = PagerStateError
	p.mu.Unlock()
}

// State reports the pager's current transaction state.
func (p *Pager) State() PagerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// ── Page allocation ───────────────────────────────────────────────────────

// AllocPage allocates a new page (from the free-list or by extending the file).
// Returns the page ID and a zeroed buffer. The page is pinned in the cache.
func (p *Pager) AllocPage() (PageID, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
	}
	buf := make([]byte, p.pageSize)
	// Put in pool pinned.
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return pid, buf
}

// FreePage marks a page as free for reuse.
func (p *Pager) FreePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freePageLocked is like FreePage but assumes p.mu is already held.
func (p *Pager) freePageLocked(pid PageID) {
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freeOldFreeListChain walks the old free-list chain and adds those pages
// to the FreeManager so they can be reused. Must be called with p.mu held.
func (p *Pager) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeMgr.Free(pid)
		pid = next
	}
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint performs a CheckpointFull: flushes all dirty pages to the
// database file, writes an updated superblock, fsyncs the file, then
// truncates the WAL. Kept as the zero-argument entry point used
// throughout the rest of the package; CheckpointMode exposes the richer
// PASSIVE/FULL/RESTART/TRUNCATE contract from spec.md §4.7.
func (p *Pager) Checkpoint() error {
	_, _, err := p.checkpointMode(CheckpointFull)
	return err
}

// CheckpointMode runs a checkpoint at the given mode and reports
// (walFramesTotal, framesCheckpointed). RESTART and TRUNCATE briefly
// escalate the file lock to EXCLUSIVE so no reader can be mid-snapshot
// against WAL frames the checkpoint is about to reclaim.
func (p *Pager) CheckpointMode(mode CheckpointMode) (framesTotal int, framesCheckpointed int, err error) {
	return p.checkpointMode(mode)
}

func (p *Pager) checkpointMode(mode CheckpointMode) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	framesTotal := int(p.walIdx.MaxFrame())

	if mode >= CheckpointRestart {
		if err := p.busyRetryLocked(func() error { return p.lock.Acquire(LockExclusive, false) }); err != nil {
			return framesTotal, 0, err
		}
		defer p.lock.Downgrade(LockShared)
	}

	if mode >= CheckpointFull {
		if _, noReaders := p.walIdx.MinReaderFrame(); mode >= CheckpointRestart && !noReaders {
			return framesTotal, 0, NewError(CodeBusy, "readers still pinned to WAL frames", nil)
		}
	}

	// Write checkpoint record to WAL.
	rec := &WALRecord{Type: WALRecordCheckpoint}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return framesTotal, 0, err
	}
	if err := p.wal.Sync(); err != nil {
		return framesTotal, 0, err
	}

	// Flush dirty pages to main file.
	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	for _, f := range dirty {
		SetPageCRC(f.buf)
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			p.pool.mu.Unlock()
			return framesTotal, 0, fmt.Errorf("checkpoint flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()
	framesCheckpointed := len(dirty)

	// Free old free-list chain pages before writing the new one.
	oldFLHead := p.sb.FreeListRoot
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	// Flush free-list to disk.
	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
		return pid, make([]byte, p.pageSize)
	})
	for _, fb := range flPages {
		pid := PageID(binary.LittleEndian.Uint32(fb[4:8]))
		if err := p.writePageRaw(pid, fb); err != nil {
			return framesTotal, framesCheckpointed, fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}

	// Update superblock.
	p.sb.FreeListRoot = flHead
	p.sb.CheckpointLSN = lsn
	sbBuf := MarshalSuperblock(p.sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return framesTotal, framesCheckpointed, fmt.Errorf("checkpoint superblock: %w", err)
	}

	// Fsync the main file.
	if err := p.file.Sync(); err != nil {
		return framesTotal, framesCheckpointed, err
	}

	if mode == CheckpointPassive {
		p.log.Debug().Int("frames", framesCheckpointed).Msg("passive checkpoint")
		return framesTotal, framesCheckpointed, nil
	}

	// FULL/RESTART/TRUNCATE reclaim the WAL; TRUNCATE also shrinks the file.
	if err := p.wal.Truncate(); err != nil {
		return framesTotal, framesCheckpointed, err
	}
	p.walIdx.Reset()
	p.log.Debug().Str("mode", fmt.Sprintf("%d", mode)).Int("frames", framesCheckpointed).Msg("checkpoint")
	return framesTotal, framesCheckpointed, nil
}

// busyRetryLocked is busyRetry for callers that already hold p.mu.
func (p *Pager) busyRetryLocked(op func() error) error {
	if p.busyTimeoutMs <= 0 {
		return op()
	}
	deadline := time.Now().Add(time.Duration(p.busyTimeoutMs) * time.Millisecond)
	backoff := 2 * time.Millisecond
	const maxBackoff = 100 * time.Millisecond
	for {
		err := op()
		if err == nil || Code(err) != CodeBusy {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		p.mu.Unlock()
		jitter := time.Duration(rand.Int64N(int64(backoff) + 1))
		sleep := backoff + jitter
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		p.mu.Lock()
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// ── Superblock access ─────────────────────────────────────────────────────

// Superblock returns a copy of the current superblock.
func (p *Pager) Superblock() Superblock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.sb
}

// UpdateSuperblock updates the in-memory superblock fields. It does NOT
// write to disk. Use Checkpoint for that.
func (p *Pager) UpdateSuperblock(fn func(sb *Superblock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sb)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// BeginReader pins a reader snapshot at the current WAL frame and
// returns its slot (for EndReader) and snapshot bound, per spec.md
// §4.7's read transactions and §5's reader/writer isolation. The first
// reader to enter (in-process) also raises the file lock to SHARED,
// cross-process visible to a writer's RESERVED/EXCLUSIVE acquisition.
func (p *Pager) BeginReader() (slot int, snapshotMax uint64) {
	p.mu.Lock()
	p.readerRefs++
	first := p.readerRefs == 1
	p.mu.Unlock()

	if first {
		if err := p.lock.Acquire(LockShared, true); err != nil {
			p.log.Warn().Err(err).Msg("begin reader: shared lock")
		}
	}
	return p.walIdx.BeginReader()
}

// EndReader releases a reader slot obtained from BeginReader. The last
// reader to leave drops the SHARED file lock, unless a write transaction
// (or an in-progress checkpoint escalation) still needs it.
func (p *Pager) EndReader(slot int) {
	p.walIdx.EndReader(slot)

	p.mu.Lock()
	p.readerRefs--
	last := p.readerRefs == 0
	holdsOnlyShared := p.lock.Level() == LockShared
	p.mu.Unlock()

	if last && holdsOnlyShared {
		if err := p.lock.Downgrade(LockNone); err != nil {
			p.log.Warn().Err(err).Msg("end reader: release shared lock")
		}
	}
}

// truncateFile shrinks the main database file to match the current
// NextPageID, reclaiming the disk space incremental_vacuum freed up by
// relocating live tail pages and dropping already-free ones.
func (p *Pager) truncateFile() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := int64(p.sb.NextPageID) * int64(p.pageSize)
	return p.file.Truncate(size)
}

// ── Close ─────────────────────────────────────────────────────────────────

// Close performs a final checkpoint and closes all files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Final checkpoint to ensure all data is on disk.
	if err := p.Checkpoint(); err != nil {
		// Best effort — still close files.
		_ = p.lock.Release()
		_ = p.wal.Close()
		_ = p.file.Close()
		p.log.Error().Err(err).Msg("close: final checkpoint failed")
		return err
	}
	_ = p.lock.Release()
	CloseWALIndex(p.path)
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	p.log.Info().Msg("pager closed")
	return p.file.Close()
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// WALPath returns the WAL file path.
func (p *Pager) WALPath() string { return p.walPath }
