package tinykv

import (
	"bytes"

	"github.com/kvstore/tinykv/internal/storage/pager"
)

// Iterator walks a column family's live keys in ascending order,
// skipping any entry whose TTL has already elapsed, per spec.md §4.6's
// `iterator`/`prefix_iterator` pair. Obtained from CF.Iterator or
// CF.PrefixIterator; always Close it to release its reader slot.
type Iterator struct {
	cf     *CF
	dataBT *pager.BTree
	cursor *pager.Cursor
	prefix []byte

	readerSlot int
	hasReader  bool
	closed     bool

	eof   bool
	key   []byte
	value []byte
}

// Iterator returns an iterator over every live key in the column
// family, positioned before the first entry.
func (c *CF) Iterator() (*Iterator, error) { return c.newIterator(nil) }

// PrefixIterator returns an iterator over every live key beginning with
// prefix, in ascending order.
func (c *CF) PrefixIterator(prefix []byte) (*Iterator, error) { return c.newIterator(prefix) }

func (c *CF) newIterator(prefix []byte) (*Iterator, error) {
	dataBT, _, ok, err := c.resolve(0, false)
	if err != nil {
		return nil, c.store.setErr(err)
	}
	if !ok {
		return nil, c.store.setErr(pager.ErrCFGone)
	}

	it := &Iterator{cf: c, dataBT: dataBT, prefix: prefix}
	if dataBT == nil {
		it.eof = true // default CF never written to: empty
		return it, nil
	}

	it.cursor = dataBT.CursorOpen(pager.CursorRead)
	it.readerSlot, _ = c.store.pgr.BeginReader()
	it.hasReader = true

	var posErr error
	if len(prefix) == 0 {
		posErr = it.cursor.First()
	} else {
		var rel int
		rel, posErr = it.cursor.MoveTo(prefix)
		if posErr == nil && rel > 0 {
			// Every key on the landing leaf sorts before prefix; step to
			// the first key after it, which may be on the next leaf.
			posErr = it.cursor.Next()
		}
	}
	if posErr != nil {
		c.store.pgr.EndReader(it.readerSlot)
		it.hasReader = false
		return nil, c.store.setErr(posErr)
	}
	it.advance()
	return it, nil
}

// advance positions the iterator on the next key that is both within
// the prefix bound and not expired, or marks it Eof.
func (it *Iterator) advance() {
	for {
		if it.cursor.Eof() {
			it.eof = true
			it.key, it.value = nil, nil
			return
		}
		key, err := it.cursor.Key()
		if err != nil {
			it.eof = true
			return
		}
		if !bytes.HasPrefix(key, it.prefix) {
			it.eof = true
			it.key, it.value = nil, nil
			return
		}
		val, hasTTL, expiry, found, err := it.dataBT.GetTTL(key)
		if err != nil || !found {
			_ = it.cursor.Next()
			continue
		}
		if hasTTL && NowMs() >= expiry {
			_ = it.cursor.Next()
			continue
		}
		it.key, it.value = key, val
		it.eof = false
		return
	}
}

// Eof reports whether the iterator has exhausted its range.
func (it *Iterator) Eof() bool { return it.eof }

// Next advances to the next qualifying key.
func (it *Iterator) Next() error {
	if it.eof {
		return nil
	}
	if err := it.cursor.Next(); err != nil {
		return it.cf.store.setErr(err)
	}
	it.advance()
	it.cf.store.stats.iterations.Add(1)
	return nil
}

// Key returns the current key. Valid only while !Eof().
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value, TTL trailer stripped. Valid only
// while !Eof().
func (it *Iterator) Value() []byte { return it.value }

// Close releases the iterator's reader slot. Idempotent.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	if it.hasReader {
		it.cf.store.pgr.EndReader(it.readerSlot)
		it.hasReader = false
	}
	if it.cursor != nil {
		it.cursor.Close()
	}
}
