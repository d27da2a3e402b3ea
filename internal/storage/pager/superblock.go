package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Superblock — the first page of the file
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (spec.md §6's literal page-1 header; all multi-byte integers
// big-endian, unlike every other page type's little-endian common
// header — intentional, this page is format-compatible in shape with
// the header real embedded engines publish so external tooling reading
// the magic and page size does not need to know this project's page
// types):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────
//  0       16    Magic               [16]byte "SQLite format 3\0"
//  16      2     PageSize            uint16 BE (1 means 65536)
//  18      1     WriteVersion        1=rollback journal, 2=WAL
//  19      1     ReadVersion         1=rollback journal, 2=WAL
//  20      1     ReservedSpace       bytes reserved per page (0 here)
//  21      1     MaxPayloadFraction
//  22      1     MinPayloadFraction
//  23      4     ChangeCounter       uint32 BE
//  27      4     DBSizePages         uint32 BE (in-header page count)
//  31      4     FreeListTrunk       uint32 BE (PageID)
//  35      4     FreeListCount       uint32 BE
//  39      4     SchemaCookie        uint32 BE
//  43      60    Meta[0..14]         15 x uint32 BE
//
// meta[7]=default CF data root, meta[8]=catalog root, meta[9]=CF count,
// meta[10]=default CF TTL root (spec.md §6). meta[11:13] carry a 64-bit
// feature-flags bitmask (low/high 32 bits) — a forward-compatibility
// extension beyond the literal layout: a future build that sets a bit
// this build doesn't recognize in SupportedFeatures fails to open the
// file instead of silently misinterpreting it, the same purpose
// real embedded formats serve with compatible/incompatible feature
// bits. The remaining meta slots are reserved and zero today.
//
// This project numbers pages from 0 (PageID 0 doubles as the "no page"
// sentinel every tree-root field uses), so what spec.md calls "page 1"
// is PageID 0 here — a numbering-origin choice, not a format deviation;
// both describe the first page of the file. See DESIGN.md.
//
// Unlike every other page type, the superblock carries no CRC32: the
// byte layout above is deliberately exhaustive (real SQLite's own page-1
// header has none either), and corruption here is caught by magic/
// version/page-size sanity checks on open rather than a checksum.

const (
	// SuperblockMagic identifies a valid database file.
	SuperblockMagic = "SQLite format 3\x00"

	sbMagicOff        = 0
	sbPageSizeOff     = 16 // 2 bytes BE
	sbWriteVersionOff = 18 // 1 byte
	sbReadVersionOff  = 19 // 1 byte
	sbReservedOff     = 20 // 1 byte
	sbMaxFractionOff  = 21 // 1 byte
	sbMinFractionOff  = 22 // 1 byte
	sbChangeCtrOff    = 23 // 4 bytes BE
	sbDBSizeOff       = 27 // 4 bytes BE
	sbFreeListRootOff = 31 // 4 bytes BE
	sbFreeListCntOff  = 35 // 4 bytes BE
	sbSchemaCookieOff = 39 // 4 bytes BE
	sbMetaOff         = 43 // 15 x 4 bytes BE

	metaSlotCount = 15
	sbHeaderSize  = sbMetaOff + metaSlotCount*4 // 103 bytes

	metaDefaultCFDataRoot = 7
	metaCatalogRoot       = 8
	metaCFCount           = 9
	metaDefaultCFTTLRoot  = 10
	metaFeatureFlagsLo    = 11
	metaFeatureFlagsHi    = 12
)

// FeatureFlag is a bitmask of on-disk format features. A build refuses to
// open a file whose stored flags aren't a subset of SupportedFeatures.
type FeatureFlag uint64

// SupportedFeatures is the set of features understood by this build.
const SupportedFeatures FeatureFlag = 0

// JournalMode selects how the pager protects against torn writes:
// rollback journal (classic undo log) or write-ahead log. Values match
// spec.md §6's file-format write/read version byte (1=rollback, 2=WAL).
type JournalMode uint32

const (
	JournalModeDelete JournalMode = 1 // rollback journal, deleted on commit
	JournalModeWAL     JournalMode = 2
)

// Superblock holds the parsed contents of page 0 (spec.md's "page 1").
type Superblock struct {
	// FormatVersion has no byte of its own in the literal page-1 layout;
	// it mirrors WriteVersion for callers that only care "is this a
	// WAL-mode file or not" without reaching into JournalMode.
	FormatVersion uint32

	PageSize      uint32
	WriteVersion  JournalMode
	ReadVersion   JournalMode
	ChangeCounter uint32
	PageCount     uint64 // in-header DB size in pages (meta field is 4 bytes; stored here widened)
	FreeListRoot  PageID
	FreeListCount uint32
	SchemaCookie  uint32

	// Column-family / catalog metadata (meta[7..10] per spec.md §6).
	DefaultCFDataRoot PageID
	CatalogRoot       PageID
	CFCount           uint32
	DefaultCFTTLRoot  PageID

	FeatureFlags FeatureFlag // meta[11:13]; see package doc above

	// Carried for API continuity with the rest of the pager; not part
	// of the literal page-1 byte layout.
	CheckpointLSN LSN
	NextTxID      TxID
	NextPageID    PageID
	JournalMode   JournalMode
}

// MarshalSuperblock serializes a Superblock into a newly allocated
// buffer of pageSize bytes, per the literal layout documented above.
func MarshalSuperblock(sb *Superblock, pageSize int) []byte {
	buf := make([]byte, pageSize)

	copy(buf[sbMagicOff:sbMagicOff+16], SuperblockMagic)

	encodedPageSize := uint16(sb.PageSize)
	if sb.PageSize == 65536 {
		encodedPageSize = 1
	}
	binary.BigEndian.PutUint16(buf[sbPageSizeOff:], encodedPageSize)
	buf[sbWriteVersionOff] = byte(sb.WriteVersion)
	buf[sbReadVersionOff] = byte(sb.ReadVersion)
	buf[sbReservedOff] = 0
	buf[sbMaxFractionOff] = 64
	buf[sbMinFractionOff] = 32
	binary.BigEndian.PutUint32(buf[sbChangeCtrOff:], sb.ChangeCounter)
	binary.BigEndian.PutUint32(buf[sbDBSizeOff:], uint32(sb.PageCount))
	binary.BigEndian.PutUint32(buf[sbFreeListRootOff:], uint32(sb.FreeListRoot))
	binary.BigEndian.PutUint32(buf[sbFreeListCntOff:], sb.FreeListCount)
	binary.BigEndian.PutUint32(buf[sbSchemaCookieOff:], sb.SchemaCookie)

	putMeta(buf, metaDefaultCFDataRoot, uint32(sb.DefaultCFDataRoot))
	putMeta(buf, metaCatalogRoot, uint32(sb.CatalogRoot))
	putMeta(buf, metaCFCount, sb.CFCount)
	putMeta(buf, metaDefaultCFTTLRoot, uint32(sb.DefaultCFTTLRoot))
	putMeta(buf, metaFeatureFlagsLo, uint32(sb.FeatureFlags))
	putMeta(buf, metaFeatureFlagsHi, uint32(sb.FeatureFlags>>32))

	return buf
}

func putMeta(buf []byte, slot int, v uint32) {
	binary.BigEndian.PutUint32(buf[sbMetaOff+slot*4:], v)
}

func getMeta(buf []byte, slot int) uint32 {
	return binary.BigEndian.Uint32(buf[sbMetaOff+slot*4:])
}

// UnmarshalSuperblock decodes page 0 from buf. It validates magic bytes
// and page size; the literal format carries no checksum of its own.
func UnmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < sbHeaderSize {
		return nil, fmt.Errorf("superblock too small: %d bytes", len(buf))
	}
	magic := string(buf[sbMagicOff : sbMagicOff+16])
	if magic != SuperblockMagic {
		return nil, fmt.Errorf("bad magic %q, expected %q", magic, SuperblockMagic)
	}

	pageSize := uint32(binary.BigEndian.Uint16(buf[sbPageSizeOff:]))
	if pageSize == 1 {
		pageSize = 65536
	}

	sb := &Superblock{
		PageSize:      pageSize,
		WriteVersion:  JournalMode(buf[sbWriteVersionOff]),
		ReadVersion:   JournalMode(buf[sbReadVersionOff]),
		ChangeCounter: binary.BigEndian.Uint32(buf[sbChangeCtrOff:]),
		PageCount:     uint64(binary.BigEndian.Uint32(buf[sbDBSizeOff:])),
		FreeListRoot:  PageID(binary.BigEndian.Uint32(buf[sbFreeListRootOff:])),
		FreeListCount: binary.BigEndian.Uint32(buf[sbFreeListCntOff:]),
		SchemaCookie:  binary.BigEndian.Uint32(buf[sbSchemaCookieOff:]),

		DefaultCFDataRoot: PageID(getMeta(buf, metaDefaultCFDataRoot)),
		CatalogRoot:       PageID(getMeta(buf, metaCatalogRoot)),
		CFCount:           getMeta(buf, metaCFCount),
		DefaultCFTTLRoot:  PageID(getMeta(buf, metaDefaultCFTTLRoot)),
		FeatureFlags: FeatureFlag(getMeta(buf, metaFeatureFlagsLo)) |
			FeatureFlag(getMeta(buf, metaFeatureFlagsHi))<<32,

		JournalMode:   JournalMode(buf[sbWriteVersionOff]),
		FormatVersion: uint32(buf[sbWriteVersionOff]),
	}

	if sb.FeatureFlags&^SupportedFeatures != 0 {
		return nil, fmt.Errorf("file uses unsupported feature flags %#x", sb.FeatureFlags&^SupportedFeatures)
	}
	if sb.PageSize < MinPageSize || sb.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size %d out of range [%d..%d]",
			sb.PageSize, MinPageSize, MaxPageSize)
	}
	if sb.PageSize&(sb.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", sb.PageSize)
	}
	if sb.WriteVersion != JournalModeDelete && sb.WriteVersion != JournalModeWAL {
		return nil, fmt.Errorf("unsupported file format write version %d", sb.WriteVersion)
	}

	return sb, nil
}

// NewSuperblock creates a default Superblock for a new database.
func NewSuperblock(pageSize uint32) *Superblock {
	return &Superblock{
		FormatVersion: uint32(JournalModeWAL),
		PageSize:      pageSize,
		WriteVersion:  JournalModeWAL,
		ReadVersion:   JournalModeWAL,
		ChangeCounter: 1,
		PageCount:     1, // only the superblock so far
		FreeListRoot:  InvalidPageID,
		FreeListCount: 0,
		SchemaCookie:  1,

		DefaultCFDataRoot: InvalidPageID,
		CatalogRoot:       InvalidPageID,
		CFCount:           0,
		DefaultCFTTLRoot:  InvalidPageID,

		CheckpointLSN: 0,
		NextTxID:      1,
		NextPageID:    1, // page 0 is the superblock
		JournalMode:   JournalModeWAL,
	}
}
