package pager

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Column-family catalog — maps CF name to its data/TTL tree roots
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §4.5: the catalog is a blob-key B+Tree keyed by CF name bytes,
// whose value is a packed record (data_root_pgno u32, ttl_root_pgno u32,
// flags u32). The catalog root page ID is recorded in the superblock.
// The default CF's roots live directly in the superblock's meta slots
// rather than in the catalog tree (it always exists and is never
// created/dropped through cf_create/cf_drop).

// MaxColumnFamilies is the hard cap named in spec.md §4.5. Exceeding it
// is reported as ErrTooManyColumnFamilies.
const MaxColumnFamilies = 1024

// CFFlag is a bitmask of column-family flags.
type CFFlag uint32

// CatalogEntry is the value stored in the column-family catalog tree.
// The on-disk record also carries the original-case name (the tree key
// itself is case-folded for lookup), so cf_list can report names back
// in the case they were created with.
type CatalogEntry struct {
	Name     string
	DataRoot PageID
	TTLRoot  PageID
	Flags    CFFlag
}

func marshalCatalogValue(e CatalogEntry) []byte {
	nameBytes := []byte(e.Name)
	buf := make([]byte, 2+len(nameBytes)+4+4+4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(nameBytes)))
	off := 2
	copy(buf[off:], nameBytes)
	off += len(nameBytes)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(e.DataRoot))
	binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(e.TTLRoot))
	binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(e.Flags))
	return buf
}

func unmarshalCatalogValue(buf []byte) (CatalogEntry, error) {
	if len(buf) < 2 {
		return CatalogEntry{}, fmt.Errorf("catalog value: truncated")
	}
	nl := int(binary.BigEndian.Uint16(buf[0:2]))
	off := 2
	if len(buf) < off+nl+12 {
		return CatalogEntry{}, fmt.Errorf("catalog value: truncated name/fields")
	}
	name := string(buf[off : off+nl])
	off += nl
	return CatalogEntry{
		Name:     name,
		DataRoot: PageID(binary.BigEndian.Uint32(buf[off : off+4])),
		TTLRoot:  PageID(binary.BigEndian.Uint32(buf[off+4 : off+8])),
		Flags:    CFFlag(binary.BigEndian.Uint32(buf[off+8 : off+12])),
	}, nil
}

// catalogKey normalizes a CF name for case-insensitive lookup (ASCII
// fold) while preserving the original name in the stored entry, per
// spec.md §4.5's "case-insensitive for string keys" in-memory hash. The
// on-disk key is the folded form so the tree itself enforces uniqueness
// the same way the in-memory hash does.
func catalogKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

// Catalog manages the column-family catalog B+Tree.
type Catalog struct {
	mu    sync.RWMutex
	pager *Pager
	tree  *BTree
}

// OpenCatalog opens or creates the column-family catalog tree. Its root
// is recorded in the superblock's CatalogRoot field (reused from the
// teacher's tenant/table catalog, repurposed here for CF metadata).
func OpenCatalog(p *Pager, txID TxID) (*Catalog, error) {
	sb := p.Superblock()
	cat := &Catalog{pager: p}

	if sb.CatalogRoot == InvalidPageID {
		bt, err := CreateBTree(p, txID, BlobComparator)
		if err != nil {
			return nil, fmt.Errorf("create catalog tree: %w", err)
		}
		cat.tree = bt
		p.UpdateSuperblock(func(s *Superblock) {
			s.CatalogRoot = bt.Root()
		})
	} else {
		cat.tree = NewBTree(p, sb.CatalogRoot, BlobComparator)
	}
	return cat, nil
}

// Create registers a new column family. Returns ErrExists if a CF with
// this name (case-insensitively) already exists, or
// ErrTooManyColumnFamilies at the MaxColumnFamilies cap.
func (c *Catalog) Create(txID TxID, entry CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := catalogKey(entry.Name)
	if _, found, err := c.tree.Get(key); err != nil {
		return err
	} else if found {
		return fmt.Errorf("column family %q: %w", entry.Name, ErrExists)
	}

	sb := c.pager.Superblock()
	if int(sb.CFCount) >= MaxColumnFamilies {
		return fmt.Errorf("%d column families already open: %w", sb.CFCount, ErrTooManyColumnFamilies)
	}

	if err := c.tree.Insert(txID, key, marshalCatalogValue(entry)); err != nil {
		return err
	}
	c.pager.UpdateSuperblock(func(s *Superblock) { s.CFCount++ })
	return nil
}

// Get retrieves a catalog entry by name. Returns (entry, false, nil) if
// absent.
func (c *Catalog) Get(name string) (CatalogEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found, err := c.tree.Get(catalogKey(name))
	if err != nil || !found {
		return CatalogEntry{}, false, err
	}
	e, err := unmarshalCatalogValue(val)
	return e, err == nil, err
}

// Drop removes a catalog entry. The caller is responsible for freeing
// the CF's data/TTL trees (FreeAllPages) before or after calling Drop.
func (c *Catalog) Drop(txID TxID, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found, err := c.tree.Delete(txID, catalogKey(name))
	if err != nil || !found {
		return found, err
	}
	c.pager.UpdateSuperblock(func(s *Superblock) {
		if s.CFCount > 0 {
			s.CFCount--
		}
	})
	return true, nil
}

// List returns all registered column-family names, sorted byte-wise by
// their original-case names (sort.Strings). The default CF is not stored
// in this tree; the caller prepends it.
func (c *Catalog) List() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	err := c.tree.ScanRange(nil, nil, func(key, val []byte) bool {
		e, uerr := unmarshalCatalogValue(val)
		if uerr == nil {
			names = append(names, e.Name)
		}
		return true
	})
	sort.Strings(names)
	return names, err
}

// Root returns the catalog tree's root page ID.
func (c *Catalog) Root() PageID { return c.tree.Root() }

// Update rewrites an existing entry (e.g. after TTL-tree creation).
func (c *Catalog) Update(txID TxID, entry CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Insert(txID, catalogKey(entry.Name), marshalCatalogValue(entry))
}
