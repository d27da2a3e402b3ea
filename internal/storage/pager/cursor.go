package pager

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Cursor — ordered navigation over a BTree
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §3 models a Cursor as a stack of (page, slot-index) frames from
// root to current leaf, a mode flag, and a state. The frame stack here is
// captured at cursor_open/move_to time as `path` (root..leaf); Next/Prev
// then walk the leaf sibling chain rather than re-descending through the
// stack, since every leaf already carries NextLeaf/PrevLeaf pointers —
// this is equivalent in observable behavior (ascending leaf order) and
// considerably simpler than maintaining live parent-slot bookmarks that
// would need invalidation on every split/merge a sibling cursor performs.

// CursorState is the cursor's position validity.
type CursorState int

const (
	CursorInvalid CursorState = iota // no position established yet
	CursorValid                      // positioned on a live cell
	CursorEOF                        // past the last (or before the first) entry
)

// CursorMode records whether a cursor was opened for reading or writing.
// The mode is stored but no operation consults it: a write cursor is not
// invalidated by mutations made through another cursor on the same tree.
type CursorMode int

const (
	CursorRead CursorMode = iota
	CursorWrite
)

// Cursor navigates a BTree in key order.
type Cursor struct {
	bt    *BTree
	mode  CursorMode
	state CursorState

	leafID PageID // current leaf page
	slot   int    // current slot within leafID

	path []PageID // root..leaf, as of the last move_to/first/last
}

// CursorOpen allocates a cursor over the tree, initially CursorInvalid.
func (bt *BTree) CursorOpen(mode CursorMode) *Cursor {
	return &Cursor{bt: bt, mode: mode, state: CursorInvalid, leafID: InvalidPageID}
}

// Close invalidates the cursor. Cheap and idempotent; there is no
// pinned state to release since pages are unpinned as soon as each
// navigation step finishes reading them.
func (c *Cursor) Close() { c.state = CursorInvalid }

// State reports the cursor's current validity.
func (c *Cursor) State() CursorState { return c.state }

// MoveTo descends from the root to the leaf that would contain key,
// and positions the cursor there. It returns 0 on an exact match; -1 if
// the cursor sits on the first entry of the leaf that sorts after key (or
// the leaf is empty, leaving the cursor at EOF); +1 if every entry of the
// leaf sorts before key, in which case the cursor sits on the leaf's last
// entry.
func (c *Cursor) MoveTo(key []byte) (int, error) {
	path, err := c.bt.pathToLeaf(key)
	if err != nil {
		return 0, err
	}
	c.path = path
	c.leafID = path[len(path)-1]

	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return 0, err
	}
	bp := WrapBTreePage(buf)
	pos, found := bp.FindLeafEntry(key)
	c.bt.pager.UnpinPage(c.leafID)

	if found {
		c.slot = pos
		c.state = CursorValid
		return 0, nil
	}
	sc := bp.slotCount()
	if pos >= sc {
		// key sorts after every entry on this leaf.
		c.slot = sc
		if sc == 0 {
			c.state = CursorEOF
			return -1, nil
		}
		c.state = CursorValid
		c.slot = sc - 1
		return 1, nil
	}
	c.slot = pos
	c.state = CursorValid
	return -1, nil
}

// First positions the cursor on the smallest key in the tree.
func (c *Cursor) First() error {
	pid := c.bt.root
	var path []PageID
	for {
		path = append(path, pid)
		buf, err := c.bt.pager.ReadPage(pid)
		if err != nil {
			return err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			c.bt.pager.UnpinPage(pid)
			break
		}
		var next PageID
		if bp.slotCount() > 0 {
			next = bp.GetInternalEntry(0).ChildID
		} else {
			next = bp.RightChild()
		}
		c.bt.pager.UnpinPage(pid)
		pid = next
	}
	c.path = path
	c.leafID = pid
	c.slot = 0

	buf, err := c.bt.pager.ReadPage(pid)
	if err != nil {
		return err
	}
	sc := WrapBTreePage(buf).slotCount()
	c.bt.pager.UnpinPage(pid)
	if sc == 0 {
		c.state = CursorEOF
	} else {
		c.state = CursorValid
	}
	return nil
}

// Last positions the cursor on the largest key in the tree.
func (c *Cursor) Last() error {
	pid := c.bt.root
	var path []PageID
	for {
		path = append(path, pid)
		buf, err := c.bt.pager.ReadPage(pid)
		if err != nil {
			return err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			c.bt.pager.UnpinPage(pid)
			break
		}
		next := bp.RightChild()
		c.bt.pager.UnpinPage(pid)
		pid = next
	}
	c.path = path
	c.leafID = pid

	buf, err := c.bt.pager.ReadPage(pid)
	if err != nil {
		return err
	}
	sc := WrapBTreePage(buf).slotCount()
	c.bt.pager.UnpinPage(pid)
	if sc == 0 {
		c.slot = 0
		c.state = CursorEOF
		return nil
	}
	c.slot = sc - 1
	c.state = CursorValid
	return nil
}

// Next advances to the next key in ascending order.
func (c *Cursor) Next() error {
	if c.state == CursorInvalid {
		return fmt.Errorf("cursor: Next called without a position")
	}
	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)
	sc := bp.slotCount()
	if c.slot+1 < sc {
		c.bt.pager.UnpinPage(c.leafID)
		c.slot++
		c.state = CursorValid
		return nil
	}
	nextLeaf := bp.NextLeaf()
	c.bt.pager.UnpinPage(c.leafID)
	if nextLeaf == InvalidPageID {
		c.state = CursorEOF
		return nil
	}
	nbuf, err := c.bt.pager.ReadPage(nextLeaf)
	if err != nil {
		return err
	}
	nsc := WrapBTreePage(nbuf).slotCount()
	c.bt.pager.UnpinPage(nextLeaf)
	c.leafID = nextLeaf
	if nsc == 0 {
		c.state = CursorEOF
		return nil
	}
	c.slot = 0
	c.state = CursorValid
	return nil
}

// Prev steps to the previous key in ascending order.
func (c *Cursor) Prev() error {
	if c.state == CursorInvalid {
		return fmt.Errorf("cursor: Prev called without a position")
	}
	if c.slot > 0 {
		c.slot--
		c.state = CursorValid
		return nil
	}
	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return err
	}
	prevLeaf := WrapBTreePage(buf).PrevLeaf()
	c.bt.pager.UnpinPage(c.leafID)
	if prevLeaf == InvalidPageID {
		c.state = CursorEOF
		return nil
	}
	pbuf, err := c.bt.pager.ReadPage(prevLeaf)
	if err != nil {
		return err
	}
	psc := WrapBTreePage(pbuf).slotCount()
	c.bt.pager.UnpinPage(prevLeaf)
	c.leafID = prevLeaf
	if psc == 0 {
		c.state = CursorEOF
		return nil
	}
	c.slot = psc - 1
	c.state = CursorValid
	return nil
}

// Eof reports whether the cursor has run off either end.
func (c *Cursor) Eof() bool { return c.state != CursorValid }

// entry reads the current leaf entry. Caller must check Eof first.
func (c *Cursor) entry() (LeafEntry, error) {
	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return LeafEntry{}, err
	}
	defer c.bt.pager.UnpinPage(c.leafID)
	bp := WrapBTreePage(buf)
	if c.slot >= bp.slotCount() {
		return LeafEntry{}, fmt.Errorf("cursor: slot %d out of range", c.slot)
	}
	return bp.GetLeafEntry(c.slot), nil
}

// Key returns the current entry's key.
func (c *Cursor) Key() ([]byte, error) {
	e, err := c.entry()
	if err != nil {
		return nil, err
	}
	return e.Key, nil
}

// PayloadSize returns the current entry's logical value size, following
// the overflow chain's declared total length when the value spilled.
func (c *Cursor) PayloadSize() (int, error) {
	e, err := c.entry()
	if err != nil {
		return 0, err
	}
	if e.Overflow {
		return int(e.TotalSize), nil
	}
	return len(e.Value), nil
}

// Value returns a copy of the current entry's full value, transparently
// following the overflow chain.
func (c *Cursor) Value() ([]byte, error) {
	e, err := c.entry()
	if err != nil {
		return nil, err
	}
	if e.Overflow {
		return c.bt.readOverflow(e.OverflowPageID, e.TotalSize)
	}
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, nil
}
