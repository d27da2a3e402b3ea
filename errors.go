package tinykv

import "github.com/kvstore/tinykv/internal/storage/pager"

// ErrCode is the stable integer status code carried by every error this
// package returns, per spec.md §7. Re-exported from the pager package
// rather than redefined so Code(err) and errors.Is both work uniformly
// whether the error originated in the facade or deeper in the engine.
type ErrCode = pager.ErrCode

const (
	CodeOK       = pager.CodeOK
	CodeError    = pager.CodeError
	CodeBusy     = pager.CodeBusy
	CodeLocked   = pager.CodeLocked
	CodeNoMem    = pager.CodeNoMem
	CodeReadOnly = pager.CodeReadOnly
	CodeCorrupt  = pager.CodeCorrupt
	CodeNotFound = pager.CodeNotFound
	CodeProtocol = pager.CodeProtocol
)

// Error wraps an ErrCode with a message and optional cause. Use Code(err)
// or errors.Is against the sentinels below to inspect one.
type Error = pager.Error

// Sentinel errors for errors.Is, one per non-OK/non-generic code.
var (
	ErrBusy                  = pager.ErrBusy
	ErrLocked                = pager.ErrLocked
	ErrNoMem                 = pager.ErrNoMem
	ErrReadOnly              = pager.ErrReadOnly
	ErrCorrupt               = pager.ErrCorrupt
	ErrNotFound              = pager.ErrNotFound
	ErrProtocol              = pager.ErrProtocol
	ErrTooManyColumnFamilies = pager.ErrTooManyColumnFamilies

	// ErrCFGone is returned by a CF handle whose column family has been
	// dropped (spec.md §9's open question (b): cf_drop invalidates
	// already-open handles, so their next operation must fail).
	ErrCFGone = pager.NewError(pager.CodeError, "column family dropped or closed", nil)

	// ErrTxActive is returned by Begin when an explicit transaction is
	// already open on this Store (spec.md §4.7: nesting is not
	// supported, a second begin returns ERROR).
	ErrTxActive = pager.NewError(pager.CodeError, "a transaction is already active on this store", nil)

	// ErrNoTx is returned by Tx.Commit/Tx.Rollback once that Tx has
	// already been committed or rolled back.
	ErrNoTx = pager.NewError(pager.CodeError, "transaction already finished", nil)
)

// Code extracts the ErrCode carried by err, or CodeOK for nil and
// CodeError for a plain error not produced by this module.
func Code(err error) ErrCode { return pager.Code(err) }
