package pager

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Reachability scan — backs integrity_check and incremental_vacuum
// ───────────────────────────────────────────────────────────────────────────
//
// A full reachability walk starts from the superblock's known roots (the
// default CF's data/TTL trees, the catalog tree, and every named CF's
// data/TTL trees reachable through the catalog) and marks every page
// visited. Anything allocated but unvisited and not already on the
// free-list is an orphan: a page lost to a crash mid-write, an aborted
// transaction that allocated before rolling back, or a stale overflow
// chain from a superseded value. spec.md §4.8 calls for exactly this
// walk as the structural half of integrity_check; §4.4 reuses it to find
// pages a crash left allocated-but-unreferenced before incremental
// vacuum compacts the tail of the file.

// ScanResult holds statistics from a reachability walk.
type ScanResult struct {
	TotalPages     int
	ReachablePages int
	FreeBefore     int
	FreeAfter      int
	Reclaimed      int
	Errors         []string
}

// ReclaimOrphans runs a full reachability scan from cat's registered
// roots and adds every unreachable, not-already-free page to the
// pager's free-list. It must be called with no concurrent writers.
func ReclaimOrphans(p *Pager, cat *Catalog) (*ScanResult, error) {
	sb := p.Superblock()
	totalPages := int(sb.NextPageID)
	if totalPages < 1 {
		return &ScanResult{}, nil
	}

	result := &ScanResult{
		TotalPages: totalPages,
		FreeBefore: p.freeMgr.Count(),
	}

	reachable := make(map[PageID]struct{}, totalPages)
	reachable[0] = struct{}{} // superblock

	if sb.DefaultCFDataRoot != InvalidPageID {
		walkBTreePage(p, sb.DefaultCFDataRoot, reachable, result)
	}
	if sb.DefaultCFTTLRoot != InvalidPageID {
		walkBTreePage(p, sb.DefaultCFTTLRoot, reachable, result)
	}
	if sb.CatalogRoot != InvalidPageID {
		walkBTreePage(p, sb.CatalogRoot, reachable, result)
	}

	entries, err := cat.List()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("catalog scan: %v", err))
	}
	for _, name := range entries {
		entry, found, err := cat.Get(name)
		if err != nil || !found {
			continue
		}
		if entry.DataRoot != InvalidPageID {
			walkBTreePage(p, entry.DataRoot, reachable, result)
		}
		if entry.TTLRoot != InvalidPageID {
			walkBTreePage(p, entry.TTLRoot, reachable, result)
		}
	}

	walkFreeListChain(p, sb.FreeListRoot, reachable)
	result.ReachablePages = len(reachable)

	freeSet := make(map[PageID]struct{})
	for _, pid := range p.freeMgr.AllFree() {
		freeSet[pid] = struct{}{}
	}

	var reclaimed int
	for pid := PageID(0); pid < PageID(totalPages); pid++ {
		if _, ok := reachable[pid]; ok {
			continue
		}
		if _, ok := freeSet[pid]; ok {
			continue
		}
		p.freeMgr.Free(pid)
		reclaimed++
	}

	result.Reclaimed = reclaimed
	result.FreeAfter = p.freeMgr.Count()

	if reclaimed > 0 {
		if err := p.Checkpoint(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("checkpoint: %v", err))
		}
	}
	return result, nil
}

// walkBTreePage recursively marks all pages of a B+Tree (including
// overflow chains hanging off its leaves) as reachable.
func walkBTreePage(p *Pager, pid PageID, reachable map[PageID]struct{}, result *ScanResult) {
	if pid == InvalidPageID {
		return
	}
	if _, seen := reachable[pid]; seen {
		return
	}
	reachable[pid] = struct{}{}

	buf, err := p.ReadPage(pid)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read page %d: %v", pid, err))
		return
	}
	defer p.UnpinPage(pid)

	bp := WrapBTreePage(buf)
	if bp.IsLeaf() {
		sc := bp.slotCount()
		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if entry.Overflow {
				walkOverflowChain(p, entry.OverflowPageID, reachable, result)
			}
		}
		return
	}

	sc := bp.slotCount()
	for i := 0; i < sc; i++ {
		walkBTreePage(p, bp.GetInternalEntry(i).ChildID, reachable, result)
	}
	walkBTreePage(p, bp.RightChild(), reachable, result)
}

func walkOverflowChain(p *Pager, headID PageID, reachable map[PageID]struct{}, result *ScanResult) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.ReadPage(pid)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read overflow %d: %v", pid, err))
			return
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		p.UnpinPage(pid)
		pid = next
	}
}

func walkFreeListChain(p *Pager, headID PageID, reachable map[PageID]struct{}) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.ReadPage(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.UnpinPage(pid)
		pid = next
	}
}
