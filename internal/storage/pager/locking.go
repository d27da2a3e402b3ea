package pager

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ───────────────────────────────────────────────────────────────────────────
// OS advisory file locking — SHARED / RESERVED / EXCLUSIVE
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §5: coordination across store handles sharing a path uses OS
// advisory file locks at SHARED / RESERVED / EXCLUSIVE granularity. A
// read transaction takes SHARED; a write transaction takes RESERVED
// (§4.7: "exactly one write transaction at a time, enforced by a
// RESERVED-level file lock"); a checkpoint in FULL/RESTART/TRUNCATE mode
// escalates briefly to EXCLUSIVE to block new readers.
//
// None of the retrieved reference repos implement this for real — bbolt
// takes a single whole-file LOCK_EX/LOCK_UN pair (coarser than the
// three-level scheme this spec names), and the reference pager
// simulates lock state in-process only. This uses POSIX byte-range locks
// (fcntl F_SETLK/F_SETLKW via golang.org/x/sys/unix) over three
// dedicated byte offsets near the top of the address space, the same
// technique classical embedded SQL engines use to get independent
// lock levels out of a primitive that only locks byte ranges.

const (
	lockByteShared    int64 = 1 << 30
	lockByteReserved  int64 = lockByteShared + 1
	lockByteExclusive int64 = lockByteShared + 2
)

// LockLevel names the granularity of an advisory lock held on the
// database file.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockExclusive
)

// FileLock manages the three-level advisory lock over a single open
// file descriptor. It is not safe for concurrent use by multiple
// goroutines without external synchronization, matching the pager's own
// single-writer assumption.
type FileLock struct {
	file    *os.File
	current LockLevel
}

// NewFileLock wraps f for lock management. f is not closed by FileLock.
func NewFileLock(f *os.File) *FileLock {
	return &FileLock{file: f, current: LockNone}
}

// Acquire raises the lock to at least level, blocking according to wait.
// Returns ErrBusy (wrapping the underlying errno) if a non-blocking
// acquisition fails because another process holds a conflicting lock.
func (fl *FileLock) Acquire(level LockLevel, wait bool) error {
	if level <= fl.current {
		return nil
	}
	switch level {
	case LockShared:
		if err := fl.lockRange(lockByteShared, 1, unix.F_RDLCK, wait); err != nil {
			return err
		}
	case LockReserved:
		if fl.current < LockShared {
			if err := fl.lockRange(lockByteShared, 1, unix.F_RDLCK, wait); err != nil {
				return err
			}
		}
		if err := fl.lockRange(lockByteReserved, 1, unix.F_WRLCK, wait); err != nil {
			return err
		}
	case LockExclusive:
		if fl.current < LockReserved {
			if err := fl.Acquire(LockReserved, wait); err != nil {
				return err
			}
		}
		if err := fl.lockRange(lockByteExclusive, 1, unix.F_WRLCK, wait); err != nil {
			return err
		}
		// Upgrade the shared byte to exclusive so no other reader can
		// be holding it concurrently with our write.
		if err := fl.lockRange(lockByteShared, 1, unix.F_WRLCK, wait); err != nil {
			return err
		}
	default:
		return fmt.Errorf("lock: unknown level %d", level)
	}
	fl.current = level
	return nil
}

// Release drops the lock entirely, back to LockNone.
func (fl *FileLock) Release() error {
	if fl.current == LockNone {
		return nil
	}
	if err := fl.unlockRange(lockByteShared, 3); err != nil {
		return err
	}
	fl.current = LockNone
	return nil
}

// Downgrade drops from the current level to level (must be lower),
// e.g. EXCLUSIVE -> SHARED after a checkpoint finishes.
func (fl *FileLock) Downgrade(level LockLevel) error {
	if level >= fl.current {
		return nil
	}
	if err := fl.unlockRange(lockByteShared, 3); err != nil {
		return err
	}
	fl.current = LockNone
	if level == LockNone {
		return nil
	}
	return fl.Acquire(level, true)
}

// Level reports the lock currently held.
func (fl *FileLock) Level() LockLevel { return fl.current }

func (fl *FileLock) lockRange(start int64, length int64, typ int16, wait bool) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  start,
		Len:    length,
	}
	cmd := unix.F_SETLK
	if wait {
		cmd = unix.F_SETLKW
	}
	if err := unix.FcntlFlock(fl.file.Fd(), cmd, &lk); err != nil {
		if !wait && (err == unix.EACCES || err == unix.EAGAIN) {
			return NewError(CodeBusy, "file lock held by another process", err)
		}
		return NewError(CodeError, "acquire file lock", err)
	}
	return nil
}

func (fl *FileLock) unlockRange(start int64, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  start,
		Len:    length,
	}
	if err := unix.FcntlFlock(fl.file.Fd(), unix.F_SETLK, &lk); err != nil {
		return NewError(CodeError, "release file lock", err)
	}
	return nil
}
