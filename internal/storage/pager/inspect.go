package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & Verification Tools
// ───────────────────────────────────────────────────────────────────────────

// peekPageSize reads the page-size field out of a raw page-0 buffer
// without requiring the rest of the superblock to validate, so callers
// can trim buf to the real page size before calling UnmarshalSuperblock.
func peekPageSize(buf []byte, n int) int {
	if n < int(sbPageSizeOff)+2 {
		return 0
	}
	ps := int(binary.BigEndian.Uint16(buf[sbPageSizeOff:]))
	if ps == 1 {
		return 65536
	}
	return ps
}

// PageInfo holds inspection information about a single page.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	LSN      LSN
	CRC      uint32
	CRCValid bool
	Flags    uint8
	// B+Tree specifics
	IsLeaf     bool
	KeyCount   int
	RightChild PageID
	NextLeaf   PageID
	PrevLeaf   PageID
	// Slotted page stats
	SlotCount int
	FreeSpace int
	// Overflow — OverflowCapacity is the page's max payload size; unlike
	// the teacher's format, overflow pages no longer self-describe how
	// many of those bytes are live (that now lives in the owning leaf
	// cell's TotalSize), so a lone page can't report an exact fill level.
	NextOverflow     PageID
	OverflowCapacity int
	// FreeList
	NextFreeList PageID
	EntryCount   int
}

// InspectPage reads a single page and returns detailed information.
func InspectPage(dbPath string, pageID PageID, pageSize int) (*PageInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	off := int64(pageID) * int64(pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}

	hdr := UnmarshalHeader(buf)
	crcValid := VerifyPageCRC(buf) == nil

	info := &PageInfo{
		ID:       hdr.ID,
		Type:     hdr.Type,
		TypeStr:  hdr.Type.String(),
		LSN:      hdr.LSN,
		CRC:      hdr.CRC,
		CRCValid: crcValid,
		Flags:    hdr.Flags,
	}

	switch hdr.Type {
	case PageTypeBTreeInternal, PageTypeBTreeLeaf:
		bp := WrapBTreePage(buf)
		info.IsLeaf = bp.IsLeaf()
		info.KeyCount = bp.KeyCount()
		info.RightChild = bp.RightChild()
		info.NextLeaf = bp.NextLeaf()
		info.PrevLeaf = bp.PrevLeaf()
		info.SlotCount = bp.slotCount()
		info.FreeSpace = bp.freeSpace()

	case PageTypeOverflow:
		op := WrapOverflowPage(buf)
		info.NextOverflow = op.NextOverflow()
		info.OverflowCapacity = OverflowCapacity(pageSize)

	case PageTypeFreeList:
		fl := WrapFreeListPage(buf)
		info.NextFreeList = fl.NextFreeList()
		info.EntryCount = fl.EntryCount()
	}

	return info, nil
}

// VerifyDB checks the integrity of an entire database file.
// Returns a list of issues found (empty = healthy).
func VerifyDB(dbPath string) ([]string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var issues []string

	// Read superblock and determine page size.
	sbBuf := make([]byte, MaxPageSize) // read max possible
	n, err := f.ReadAt(sbBuf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < MinPageSize {
		return []string{"file too small to contain a superblock"}, nil
	}

	// Peek at the page size field so we can trim the buffer to the
	// actual page size before unmarshalling.
	peekPS := peekPageSize(sbBuf, n)
	if peekPS >= MinPageSize && peekPS <= MaxPageSize && peekPS <= n {
		sbBuf = sbBuf[:peekPS]
	} else {
		sbBuf = sbBuf[:n]
	}

	sb, err := UnmarshalSuperblock(sbBuf)
	if err != nil {
		return []string{fmt.Sprintf("superblock: %v", err)}, nil
	}

	pageSize := int(sb.PageSize)
	totalPages := fi.Size() / int64(pageSize)
	if fi.Size()%int64(pageSize) != 0 {
		issues = append(issues, fmt.Sprintf("file size %d not a multiple of page size %d",
			fi.Size(), pageSize))
	}

	if uint64(totalPages) != sb.PageCount && uint64(totalPages) > sb.PageCount {
		// Allow file to be larger (pages may have been allocated).
	}

	// Check each page's CRC. Page 0 (the superblock) carries no CRC of
	// its own — its magic/version/page-size fields were already
	// validated by UnmarshalSuperblock above.
	buf := make([]byte, pageSize)
	for i := int64(1); i < totalPages; i++ {
		if _, err := f.ReadAt(buf, i*int64(pageSize)); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: read error: %v", i, err))
			continue
		}
		if err := VerifyPageCRC(buf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: %v", i, err))
		}

		// Type-specific checks.
		hdr := UnmarshalHeader(buf)
		if hdr.ID != PageID(i) {
			issues = append(issues, fmt.Sprintf("page %d: header ID mismatch (says %d)", i, hdr.ID))
		}
	}

	return issues, nil
}

// IntegrityCheck performs the full structural verification spec.md §4.8
// calls for integrity_check(): per-page CRC and slot-directory sanity,
// in-page key ordering, parent/child key-range containment across the
// whole B+Tree forest, overflow-chain acyclicity, and a reachability
// cross-check against the free-list so no page is simultaneously "live"
// and "free". A read, CRC or slot-directory failure on a page
// short-circuits further structural checks on that page (its layout
// cannot be trusted enough to keep probing) but the scan continues on
// to other pages; key-order and key-range violations are all reported.
func IntegrityCheck(p *Pager, cat *Catalog) ([]string, error) {
	sb := p.Superblock()
	totalPages := int(sb.NextPageID)

	var issues []string
	visited := make(map[PageID]struct{}, totalPages)
	visited[0] = struct{}{}

	type root struct {
		name string
		pid  PageID
	}
	roots := []root{
		{"default-cf-data", sb.DefaultCFDataRoot},
		{"default-cf-ttl", sb.DefaultCFTTLRoot},
		{"catalog", sb.CatalogRoot},
	}
	if cat != nil {
		if names, err := cat.List(); err == nil {
			for _, name := range names {
				entry, found, err := cat.Get(name)
				if err != nil || !found {
					continue
				}
				roots = append(roots,
					root{"cf:" + name + ":data", entry.DataRoot},
					root{"cf:" + name + ":ttl", entry.TTLRoot})
			}
		}
	}

	for _, r := range roots {
		if r.pid == InvalidPageID {
			continue
		}
		checkBTreeStructure(p, r.pid, r.name, BlobComparator, nil, nil, visited, &issues)
	}

	walkFreeListChain(p, sb.FreeListRoot, visited)
	freeSet := make(map[PageID]struct{})
	for _, pid := range p.freeMgr.AllFree() {
		freeSet[pid] = struct{}{}
	}
	for pid := range freeSet {
		if _, live := visited[pid]; live {
			issues = append(issues, fmt.Sprintf("page %d: present on free-list but also reachable from a tree", pid))
		}
	}
	for pid := PageID(1); pid < PageID(totalPages); pid++ {
		_, reachable := visited[pid]
		_, free := freeSet[pid]
		if !reachable && !free {
			issues = append(issues, fmt.Sprintf("page %d: allocated but unreachable from any known root and absent from the free-list (orphan)", pid))
		}
	}

	return issues, nil
}

// checkBTreeStructure recursively validates one subtree: CRC, slot
// directory bounds, in-page key order, and containment of every key
// within (lowKey, highKey) as propagated down from the parent.
func checkBTreeStructure(p *Pager, pid PageID, treeName string, cmp Comparator, lowKey, highKey []byte, visited map[PageID]struct{}, issues *[]string) {
	if pid == InvalidPageID {
		return
	}
	if _, seen := visited[pid]; seen {
		*issues = append(*issues, fmt.Sprintf("page %d (%s): visited more than once — cycle in tree structure", pid, treeName))
		return
	}
	visited[pid] = struct{}{}

	buf, err := p.ReadPage(pid)
	if err != nil {
		*issues = append(*issues, fmt.Sprintf("page %d (%s): read error: %v", pid, treeName, err))
		return
	}
	defer p.UnpinPage(pid)

	if err := VerifyPageCRC(buf); err != nil {
		*issues = append(*issues, fmt.Sprintf("page %d (%s): %v", pid, treeName, err))
		return
	}

	bp := WrapBTreePage(buf)
	if issue := checkSlotDirectory(bp, pid, treeName); issue != "" {
		*issues = append(*issues, issue)
		return
	}

	sc := bp.slotCount()

	var prevKey []byte
	for i := 0; i < sc; i++ {
		var key []byte
		if bp.IsLeaf() {
			key = bp.GetLeafEntry(i).Key
		} else {
			key = bp.GetInternalEntry(i).Key
		}
		if i > 0 && cmp(prevKey, key) >= 0 {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): keys out of order at slot %d", pid, treeName, i))
		}
		if lowKey != nil && cmp(key, lowKey) < 0 {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): key at slot %d lies below parent's lower bound", pid, treeName, i))
		}
		if highKey != nil && cmp(key, highKey) >= 0 {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): key at slot %d lies at/above parent's upper bound", pid, treeName, i))
		}
		prevKey = key
	}

	if bp.IsLeaf() {
		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if entry.Overflow {
				checkOverflowChain(p, entry.OverflowPageID, treeName, visited, issues)
			}
		}
		return
	}

	childLow := lowKey
	for i := 0; i < sc; i++ {
		entry := bp.GetInternalEntry(i)
		checkBTreeStructure(p, entry.ChildID, treeName, cmp, childLow, entry.Key, visited, issues)
		childLow = entry.Key
	}
	checkBTreeStructure(p, bp.RightChild(), treeName, cmp, childLow, highKey, visited, issues)
}

// checkSlotDirectory verifies a B+Tree page's slot directory (the
// btree_page.go layout) is internally consistent: every live slot's
// [Offset, Offset+Length) range lies inside the page and past the slot
// directory, and no two live slots' ranges overlap.
func checkSlotDirectory(bp *BTreePage, pid PageID, treeName string) string {
	sc := bp.slotCount()
	dirEnd := bp.slotDirEnd()
	type span struct{ lo, hi int }
	var spans []span

	for i := 0; i < sc; i++ {
		e := bp.getSlotEntry(i)
		if e.Offset == 0 && e.Length == 0 {
			continue // tombstone
		}
		lo, hi := int(e.Offset), int(e.Offset)+int(e.Length)
		if lo < dirEnd || hi > len(bp.buf) || lo > hi {
			return fmt.Sprintf("page %d (%s): slot %d record range [%d,%d) out of bounds (dirEnd=%d, pageSize=%d)",
				pid, treeName, i, lo, hi, dirEnd, len(bp.buf))
		}
		spans = append(spans, span{lo, hi})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	for i := 1; i < len(spans); i++ {
		if spans[i].lo < spans[i-1].hi {
			return fmt.Sprintf("page %d (%s): record ranges overlap ([%d,%d) and [%d,%d))",
				pid, treeName, spans[i-1].lo, spans[i-1].hi, spans[i].lo, spans[i].hi)
		}
	}
	return ""
}

// checkOverflowChain walks an overflow chain checking for cycles; a
// chain that revisits a page would otherwise spin this walk forever.
func checkOverflowChain(p *Pager, headID PageID, treeName string, visited map[PageID]struct{}, issues *[]string) {
	pid := headID
	seen := make(map[PageID]struct{})
	for pid != InvalidPageID {
		if _, dup := seen[pid]; dup {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): cycle in overflow chain", pid, treeName))
			return
		}
		seen[pid] = struct{}{}
		visited[pid] = struct{}{}

		buf, err := p.ReadPage(pid)
		if err != nil {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): overflow read error: %v", pid, treeName, err))
			return
		}
		if err := VerifyPageCRC(buf); err != nil {
			*issues = append(*issues, fmt.Sprintf("page %d (%s): overflow %v", pid, treeName, err))
			p.UnpinPage(pid)
			return
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		p.UnpinPage(pid)
		pid = next
	}
}

// DumpTree produces a human-readable dump of a B+Tree starting at root.
func DumpTree(dbPath string, rootPageID PageID, pageSize int) (string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	var dump func(pid PageID, depth int) error

	readPage := func(pid PageID) ([]byte, error) {
		buf := make([]byte, pageSize)
		off := int64(pid) * int64(pageSize)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}

	dump = func(pid PageID, depth int) error {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		indent := strings.Repeat("  ", depth)
		hdr := UnmarshalHeader(buf)
		bp := WrapBTreePage(buf)

		if bp.IsLeaf() {
			fmt.Fprintf(&sb, "%sLeaf[%d] keys=%d next=%d prev=%d\n",
				indent, pid, bp.KeyCount(), bp.NextLeaf(), bp.PrevLeaf())
			sc := bp.slotCount()
			for i := 0; i < sc; i++ {
				entry := bp.GetLeafEntry(i)
				if entry.Overflow {
					fmt.Fprintf(&sb, "%s  [%d] key=%q overflow=page%d size=%d\n",
						indent, i, entry.Key, entry.OverflowPageID, entry.TotalSize)
				} else {
					fmt.Fprintf(&sb, "%s  [%d] key=%q val=%d bytes\n",
						indent, i, entry.Key, len(entry.Value))
				}
			}
		} else {
			fmt.Fprintf(&sb, "%sInternal[%d] keys=%d rightChild=%d lsn=%d\n",
				indent, pid, bp.KeyCount(), bp.RightChild(), hdr.LSN)
			sc := bp.slotCount()
			for i := 0; i < sc; i++ {
				entry := bp.GetInternalEntry(i)
				fmt.Fprintf(&sb, "%s  child=%d sep=%q\n", indent, entry.ChildID, entry.Key)
				if err := dump(entry.ChildID, depth+1); err != nil {
					return err
				}
			}
			// Dump right child.
			rc := bp.RightChild()
			if rc != InvalidPageID {
				fmt.Fprintf(&sb, "%s  rightChild=%d\n", indent, rc)
				if err := dump(rc, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := dump(rootPageID, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WALInfo holds information about a WAL file.
type WALInfo struct {
	PageSize   int
	Records    int
	MinLSN     LSN
	MaxLSN     LSN
	TxCount    int
	Committed  int
	Aborted    int
	PageImages int
}

// InspectWAL reads and summarises a WAL file.
func InspectWAL(walPath string) (*WALInfo, error) {
	records, err := ReadAllRecords(walPath)
	if err != nil {
		return nil, err
	}

	info := &WALInfo{Records: len(records)}
	txSet := make(map[TxID]bool)

	for _, rec := range records {
		if info.MinLSN == 0 || rec.LSN < info.MinLSN {
			info.MinLSN = rec.LSN
		}
		if rec.LSN > info.MaxLSN {
			info.MaxLSN = rec.LSN
		}
		txSet[rec.TxID] = true

		switch rec.Type {
		case WALRecordCommit:
			info.Committed++
		case WALRecordAbort:
			info.Aborted++
		case WALRecordPageImage:
			info.PageImages++
		}
	}
	info.TxCount = len(txSet)

	// Read page size from WAL header.
	f, err := os.Open(walPath)
	if err == nil {
		var hdr [WALFileHdrSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err == nil {
			info.PageSize = int(binary.BigEndian.Uint32(hdr[walHdrPageSzOff:]))
		}
		f.Close()
	}

	return info, nil
}

// SuperblockInfo holds display-friendly superblock data.
type SuperblockInfo struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	FeatureFlags  uint64
	CatalogRoot   PageID
	FreeListRoot  PageID
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
	CRCValid      bool
}

// InspectSuperblock reads and returns the superblock metadata.
func InspectSuperblock(dbPath string) (*SuperblockInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// Trim to the actual page size before unmarshalling.
	ps := peekPageSize(buf, n)
	if ps >= MinPageSize && ps <= MaxPageSize && ps <= n {
		buf = buf[:ps]
	} else {
		buf = buf[:n]
	}

	// Page 0 carries no CRC of its own; report magic+size validity instead.
	sb, err := UnmarshalSuperblock(buf)
	crcValid := err == nil
	if err != nil {
		return &SuperblockInfo{CRCValid: crcValid}, err
	}

	return &SuperblockInfo{
		FormatVersion: sb.FormatVersion,
		PageSize:      sb.PageSize,
		PageCount:     sb.PageCount,
		FeatureFlags:  uint64(sb.FeatureFlags),
		CatalogRoot:   sb.CatalogRoot,
		FreeListRoot:  sb.FreeListRoot,
		CheckpointLSN: sb.CheckpointLSN,
		NextTxID:      sb.NextTxID,
		NextPageID:    sb.NextPageID,
		CRCValid:      crcValid,
	}, nil
}
