// Package tinykv is an embedded, single-writer/multi-reader ACID
// key-value store: a paged B-tree engine with write-ahead logging, a
// bounded page cache, column families, per-key TTL, incremental vacuum,
// and online integrity checking, persisted to one on-disk file plus its
// companion WAL.
//
// Open a store, then use its default column family or an explicit one:
//
//	store, err := tinykv.Open("data.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.Put([]byte("hello"), []byte("world"))
//	v, found, _ := store.Get([]byte("hello"))
package tinykv

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvstore/tinykv/internal/storage/pager"
)

// Stats carries the counters spec.md §6's `stats` surface reports.
type Stats struct {
	Puts       uint64
	Gets       uint64
	Deletes    uint64
	Iterations uint64
	Errors     uint64
}

type statCounters struct {
	puts, gets, deletes, iterations, errors atomic.Uint64
}

func (s *statCounters) snapshot() Stats {
	return Stats{
		Puts:       s.puts.Load(),
		Gets:       s.gets.Load(),
		Deletes:    s.deletes.Load(),
		Iterations: s.iterations.Load(),
		Errors:     s.errors.Load(),
	}
}

// NowMs returns the current Unix time in milliseconds, matching the
// `now_ms()` helper spec.md §6 exposes to callers for computing
// expire_epoch_ms arguments to PutTTL.
func NowMs() int64 { return time.Now().UnixMilli() }

// Store is a handle bound to one database file, per spec.md §3. Safe
// for concurrent use from multiple goroutines; the engine itself runs
// every operation synchronously on the calling goroutine (spec.md §5).
type Store struct {
	path string
	cfg  Config
	pgr  *pager.Pager
	cat  *pager.Catalog

	cfMu sync.Mutex // serializes cf_create/cf_drop against each other

	txMu      sync.Mutex
	explicit  *Tx
	readSlots sync.Map // int(slot) -> struct{}, bookkeeping only

	stats statCounters

	errMu   sync.Mutex
	lastErr string

	sched *scheduler

	closeOnce sync.Once
}

// Open creates or opens a database at path using DefaultConfig.
func Open(path string) (*Store, error) {
	return OpenV2(path, DefaultConfig())
}

// OpenV2 creates or opens a database at path with explicit
// configuration, per spec.md §6's `open_v2`.
func OpenV2(path string, cfg Config) (*Store, error) {
	if cfg.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open %q read-only: %w", path, pager.NewError(pager.CodeReadOnly, "database file does not exist", err))
		}
		if info, err := os.Stat(path + ".wal"); err == nil && info.Size() > 0 {
			return nil, fmt.Errorf("open %q read-only: %w", path, pager.NewError(pager.CodeReadOnly, "WAL file is non-empty; refusing read-only open", nil))
		}
	}

	pgr, err := pager.OpenPager(cfg.toPagerConfig(path))
	if err != nil {
		return nil, fmt.Errorf("open pager: %w", err)
	}

	txID, err := pgr.BeginTx()
	if err != nil {
		pgr.Close()
		return nil, fmt.Errorf("open catalog tx: %w", err)
	}
	cat, err := pager.OpenCatalog(pgr, txID)
	if err != nil {
		pgr.AbortTx(txID)
		pgr.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := pgr.CommitTx(txID); err != nil {
		pgr.Close()
		return nil, fmt.Errorf("commit catalog open: %w", err)
	}

	s := &Store{
		path: path,
		cfg:  cfg,
		pgr:  pgr,
		cat:  cat,
	}

	if cfg.MaintenanceSchedule != "" {
		sched, err := newScheduler(s, cfg.MaintenanceSchedule)
		if err != nil {
			pgr.Close()
			return nil, fmt.Errorf("maintenance schedule %q: %w", cfg.MaintenanceSchedule, err)
		}
		s.sched = sched
		sched.Start()
	}

	return s, nil
}

// Close flushes outstanding data with a FULL checkpoint, stops the
// maintenance scheduler if one is running, and releases the underlying
// file. Safe to call once; subsequent calls are no-ops.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.sched != nil {
			s.sched.Stop()
		}
		if _, _, cerr := s.pgr.CheckpointMode(pager.CheckpointFull); cerr != nil {
			err = fmt.Errorf("checkpoint on close: %w", cerr)
		}
		if cerr := s.pgr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// DefaultCF returns a handle to the store's default column family,
// matching spec.md §6's `cf_get_default`.
func (s *Store) DefaultCF() *CF { return &CF{store: s, name: ""} }

// Put writes key/value into the default column family, auto-committing
// if no explicit transaction is active.
func (s *Store) Put(key, value []byte) error { return s.DefaultCF().Put(key, value) }

// Get reads key from the default column family.
func (s *Store) Get(key []byte) (value []byte, found bool, err error) {
	return s.DefaultCF().Get(key)
}

// Delete removes key from the default column family. Idempotent: a
// missing key is success, per spec.md §4.6.
func (s *Store) Delete(key []byte) error { return s.DefaultCF().Delete(key) }

// Exists reports whether key is present (and unexpired) in the default
// column family, without copying its value.
func (s *Store) Exists(key []byte) (bool, error) { return s.DefaultCF().Exists(key) }

// PutTTL writes key/value into the default CF with an expiry.
func (s *Store) PutTTL(key, value []byte, expireEpochMs int64) error {
	return s.DefaultCF().PutTTL(key, value, expireEpochMs)
}

// GetTTL reads key from the default CF along with its remaining TTL.
func (s *Store) GetTTL(key []byte) (value []byte, remainingMs int64, found bool, err error) {
	return s.DefaultCF().GetTTL(key)
}

// TTLRemaining reports key's remaining TTL in the default CF.
func (s *Store) TTLRemaining(key []byte) (remainingMs int64, found bool, err error) {
	return s.DefaultCF().TTLRemaining(key)
}

// PurgeExpired deletes every due entry across every open column family
// (default plus every name in cf_list), per spec.md §4.6's
// "purge_expired(store) iterates over all CFs".
func (s *Store) PurgeExpired() (deleted int, err error) {
	n, err := s.DefaultCF().PurgeExpired()
	if err != nil {
		return n, err
	}
	deleted = n
	names, err := s.CFList()
	if err != nil {
		return deleted, err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		cf, err := s.CFOpen(name)
		if err != nil {
			return deleted, err
		}
		n, err := cf.PurgeExpired()
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Stats returns a snapshot of the store's operation counters.
func (s *Store) Stats() Stats { return s.stats.snapshot() }

// Errmsg returns the last sticky error's message, or "" if none,
// matching spec.md §6's `errmsg` surface for non-Go bindings layered on
// top of this package later.
func (s *Store) Errmsg() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *Store) setErr(err error) error {
	if err == nil {
		return nil
	}
	s.stats.errors.Add(1)
	s.errMu.Lock()
	s.lastErr = err.Error()
	s.errMu.Unlock()
	return err
}

// Sync flushes WAL frames to the database file with a FULL checkpoint.
func (s *Store) Sync() error {
	_, _, err := s.pgr.CheckpointMode(pager.CheckpointFull)
	return s.setErr(err)
}

// Checkpoint runs a checkpoint of the requested mode, returning the
// total WAL frame count and how many were copied back to the database
// file, per spec.md §4.1's `checkpoint(mode)`.
func (s *Store) Checkpoint(mode CheckpointMode) (walTotal, framesCheckpointed int, err error) {
	walTotal, framesCheckpointed, err = s.pgr.CheckpointMode(mode)
	return walTotal, framesCheckpointed, s.setErr(err)
}

// IncrementalVacuum relocates up to nPages live tail pages into earlier
// free slots and shrinks the file, per spec.md §4.4.
func (s *Store) IncrementalVacuum(nPages int) (*pager.VacuumResult, error) {
	result, err := pager.IncrementalVacuum(s.pgr, s.cat, nPages)
	return result, s.setErr(err)
}

// IntegrityCheck traverses every live tree and cross-checks reachability
// against the free-list, per spec.md §4.8. A non-empty, nil-error result
// lists every structural problem found; a nil/empty result means clean.
func (s *Store) IntegrityCheck() ([]string, error) {
	issues, err := pager.IntegrityCheck(s.pgr, s.cat)
	return issues, s.setErr(err)
}

// Path returns the database file path this store was opened with.
func (s *Store) Path() string { return s.path }

// autoTx runs fn inside txID: the caller's explicit transaction if one
// is active, otherwise a new transaction committed (or aborted, on
// error) before returning — spec.md §4.7's auto-commit discipline.
func (s *Store) autoTx(fn func(txID pager.TxID) error) error {
	s.txMu.Lock()
	explicit := s.explicit
	s.txMu.Unlock()

	if explicit != nil && explicit.write {
		return fn(explicit.txID)
	}

	txID, err := s.pgr.BeginTx()
	if err != nil {
		return err
	}
	if err := fn(txID); err != nil {
		s.pgr.AbortTx(txID)
		return err
	}
	return s.pgr.CommitTx(txID)
}
