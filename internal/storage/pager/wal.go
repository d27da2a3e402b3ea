package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL file format
// ───────────────────────────────────────────────────────────────────────────
//
// Physical layout follows spec.md §6's literal WAL format: a 32-byte file
// header followed by a stream of 24-byte frame headers each immediately
// followed by pageSize bytes of page content. There is no separate
// BEGIN/COMMIT/ABORT record type on disk — a transaction's durability is
// recorded the way a real WAL does it, via the commit-marker field on a
// frame, not via a distinct record.
//
// WAL file header (32 bytes, all fields big-endian):
//   [0:4]   Magic            0x377f0682 (page numbers within frames are BE)
//   [4:8]   Version          uint32 (currently 1)
//   [8:12]  PageSize         uint32
//   [12:16] CheckpointSeq    uint32 — bumped each time this WAL is reused after a checkpoint
//   [16:20] Salt1            uint32 — hashed from the WAL path (fnv32a); kept across checkpoints
//   [20:24] Salt2            uint32
//   [24:28] Checksum1        uint32 — running Fletcher-style checksum seed
//   [28:32] Checksum2        uint32
//
// WAL frame (24-byte header + PageSize bytes of payload):
//   [0:4]   Pgno             uint32 BE — 0 is reserved for a control frame
//                            (this engine's BEGIN/ABORT/CHECKPOINT markers,
//                            which carry no page image); spec.md's model
//                            only defines page-image frames, so control
//                            frames are this project's documented extension
//                            to the format, not part of the literal spec.
//   [4:8]   CommitMarker     uint32 BE — 0 mid-transaction, else the
//                            post-commit database size in pages: this is
//                            the last frame of a committed transaction.
//   [8:12]  Salt1            uint32 BE — must equal the header's Salt1
//   [12:16] Salt2            uint32 BE — must equal the header's Salt2
//   [16:20] Checksum1        uint32 BE
//   [20:24] Checksum2        uint32 BE
//   [24:24+PageSize]         Payload — the page image for a page frame;
//                            for a control frame, byte 0 is the control
//                            record type and bytes 1:9 carry the TxID
//                            (both zero-padded beyond that).
//
// The checksum pair is the two-word running Fletcher-style accumulator
// SQLite's own WAL uses: each frame's checksum continues the previous
// frame's (or the header's, for the first frame) over big-endian uint32
// words of that frame's header tail ([0:16)) and payload. A checksum
// mismatch on read stops recovery at that frame — the WAL after it is
// torn and discarded.

const (
	WALMagicBE     = uint32(0x377f0682)
	WALVersion     = uint32(1)
	WALFileHdrSize = 32
	WALFrameHdrSize = 24

	walHdrMagicOff   = 0
	walHdrVersionOff = 4
	walHdrPageSzOff  = 8
	walHdrCkptSeqOff = 12
	walHdrSalt1Off   = 16
	walHdrSalt2Off   = 20
	walHdrCksum1Off  = 24
	walHdrCksum2Off  = 28

	frmPgnoOff   = 0
	frmCommitOff = 4
	frmSalt1Off  = 8
	frmSalt2Off  = 12
	frmCksum1Off = 16
	frmCksum2Off = 20
)

// WALRecordType identifies the kind of logical record a control frame
// carries (BEGIN/ABORT/CHECKPOINT); page-image frames carry no type byte
// of their own since Pgno != 0 already identifies them.
type WALRecordType uint8

const (
	WALRecordBegin      WALRecordType = 0x01
	WALRecordPageImage  WALRecordType = 0x02
	WALRecordCommit     WALRecordType = 0x03
	WALRecordAbort      WALRecordType = 0x04
	WALRecordCheckpoint WALRecordType = 0x05
)

func (rt WALRecordType) String() string {
	switch rt {
	case WALRecordBegin:
		return "BEGIN"
	case WALRecordPageImage:
		return "PAGE_IMAGE"
	case WALRecordCommit:
		return "COMMIT"
	case WALRecordAbort:
		return "ABORT"
	case WALRecordCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(rt))
	}
}

// WALRecord is an in-memory representation of a logical WAL entry,
// independent of whether it became a page frame or a control frame on
// disk. LSN is assigned as the 1-based frame index in append order.
type WALRecord struct {
	Type   WALRecordType
	LSN    LSN
	TxID   TxID
	PageID PageID
	Data   []byte // full page image for PAGE_IMAGE, nil otherwise

	// DBSizePages is only meaningful on a COMMIT record: the post-commit
	// database size in pages, written into the frame's commit-marker
	// field per spec.md §6 so a reader can tell a committed transaction's
	// last frame apart from a mid-transaction one without a separate
	// on-disk COMMIT marker.
	DBSizePages uint32
}

// ───────────────────────────────────────────────────────────────────────────
// WAL writer/reader
// ───────────────────────────────────────────────────────────────────────────

// WALFile manages the append-only WAL file.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	nextLSN  LSN
	writePos int64 // current write offset — avoids Seek syscall

	salt1, salt2   uint32
	runningCk1     uint32
	runningCk2     uint32
	ckptSeq        uint32
}

func frameSize(pageSize int) int64 { return int64(WALFrameHdrSize + pageSize) }

// OpenWALFile opens or creates a WAL file. If the file exists, it validates
// the header. If it does not exist, it writes a new header.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{f: f, path: path, pageSize: pageSize, nextLSN: 1}

	if exists {
		if err := wf.loadHeader(); err != nil {
			f.Close()
			return nil, err
		}
		if err := wf.resumeChecksumChain(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		wf.salt1 = fnv32a(path, 0x9e3779b9)
		wf.salt2 = fnv32a(path, 0x85ebca6b)
		wf.runningCk1, wf.runningCk2 = 0, 0
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = endPos
	if fs := frameSize(pageSize); fs > 0 {
		wf.nextLSN = LSN((endPos-WALFileHdrSize)/fs) + 1
	}

	return wf, nil
}

// fnv32a derives a deterministic-but-unpredictable-looking salt from the
// WAL path and a fixed mixing constant, so two fresh WALs for different
// files don't share salts without requiring a crypto/rand import for what
// is only a frame-generation tag, not a security boundary.
func fnv32a(s string, seed uint32) uint32 {
	h := seed
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (wf *WALFile) writeHeader() error {
	var hdr [WALFileHdrSize]byte
	binary.BigEndian.PutUint32(hdr[walHdrMagicOff:], WALMagicBE)
	binary.BigEndian.PutUint32(hdr[walHdrVersionOff:], WALVersion)
	binary.BigEndian.PutUint32(hdr[walHdrPageSzOff:], uint32(wf.pageSize))
	binary.BigEndian.PutUint32(hdr[walHdrCkptSeqOff:], wf.ckptSeq)
	binary.BigEndian.PutUint32(hdr[walHdrSalt1Off:], wf.salt1)
	binary.BigEndian.PutUint32(hdr[walHdrSalt2Off:], wf.salt2)
	binary.BigEndian.PutUint32(hdr[walHdrCksum1Off:], wf.runningCk1)
	binary.BigEndian.PutUint32(hdr[walHdrCksum2Off:], wf.runningCk2)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return wf.f.Sync()
}

func (wf *WALFile) loadHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n < WALFileHdrSize {
		return fmt.Errorf("WAL header too short: %d bytes", n)
	}
	if binary.BigEndian.Uint32(hdr[walHdrMagicOff:]) != WALMagicBE {
		return fmt.Errorf("bad WAL magic")
	}
	ver := binary.BigEndian.Uint32(hdr[walHdrVersionOff:])
	if ver != WALVersion {
		return fmt.Errorf("unsupported WAL version %d", ver)
	}
	ps := binary.BigEndian.Uint32(hdr[walHdrPageSzOff:])
	if int(ps) != wf.pageSize {
		return fmt.Errorf("WAL page size %d != expected %d", ps, wf.pageSize)
	}
	wf.ckptSeq = binary.BigEndian.Uint32(hdr[walHdrCkptSeqOff:])
	wf.salt1 = binary.BigEndian.Uint32(hdr[walHdrSalt1Off:])
	wf.salt2 = binary.BigEndian.Uint32(hdr[walHdrSalt2Off:])
	wf.runningCk1 = binary.BigEndian.Uint32(hdr[walHdrCksum1Off:])
	wf.runningCk2 = binary.BigEndian.Uint32(hdr[walHdrCksum2Off:])
	return nil
}

// resumeChecksumChain replays the existing frames once to pick up the
// checksum chain where it left off, so appends after a reopen keep
// producing checksums continuous with what's already on disk.
func (wf *WALFile) resumeChecksumChain() error {
	frames, _, err := readFrames(wf.f, wf.pageSize, wf.salt1, wf.salt2, wf.runningCk1, wf.runningCk2)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return nil
	}
	last := frames[len(frames)-1]
	wf.runningCk1, wf.runningCk2 = last.ck1, last.ck2
	return nil
}

// AppendRecord writes a WAL record and assigns it a monotonic LSN.
// Returns the assigned LSN.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn

	pgno, commitMarker, payload := wf.frameFields(rec)

	frame := make([]byte, WALFrameHdrSize+wf.pageSize)
	binary.BigEndian.PutUint32(frame[frmPgnoOff:], pgno)
	binary.BigEndian.PutUint32(frame[frmCommitOff:], commitMarker)
	binary.BigEndian.PutUint32(frame[frmSalt1Off:], wf.salt1)
	binary.BigEndian.PutUint32(frame[frmSalt2Off:], wf.salt2)
	copy(frame[WALFrameHdrSize:], payload)

	ck1, ck2 := fletcherStep(wf.runningCk1, wf.runningCk2, frame[:16])
	ck1, ck2 = fletcherStep(ck1, ck2, frame[WALFrameHdrSize:])
	binary.BigEndian.PutUint32(frame[frmCksum1Off:], ck1)
	binary.BigEndian.PutUint32(frame[frmCksum2Off:], ck2)
	wf.runningCk1, wf.runningCk2 = ck1, ck2

	n, err := wf.f.WriteAt(frame, wf.writePos)
	if err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// frameFields maps a logical WALRecord onto this engine's frame encoding.
func (wf *WALFile) frameFields(rec *WALRecord) (pgno, commitMarker uint32, payload []byte) {
	payload = make([]byte, wf.pageSize)
	switch rec.Type {
	case WALRecordPageImage:
		pgno = uint32(rec.PageID)
		copy(payload, rec.Data)
	case WALRecordBegin, WALRecordAbort, WALRecordCheckpoint:
		payload[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(payload[1:9], uint64(rec.TxID))
	case WALRecordCommit:
		payload[0] = byte(rec.Type)
		binary.BigEndian.PutUint64(payload[1:9], uint64(rec.TxID))
		commitMarker = rec.DBSizePages
	}
	return pgno, commitMarker, payload
}

// Sync fsyncs the WAL file to guarantee durability.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Truncate resets the WAL file to just the header (after a checkpoint),
// restarts the checksum chain from zero and bumps the checkpoint
// sequence. The salts are kept; frames of the previous generation are
// gone because the file is cut back to its header.
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.writePos = WALFileHdrSize
	wf.ckptSeq++
	wf.runningCk1, wf.runningCk2 = 0, 0
	if err := wf.writeHeader(); err != nil {
		return err
	}
	return wf.f.Sync()
}

// NextLSN returns the next LSN that will be assigned.
func (wf *WALFile) NextLSN() LSN {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.nextLSN
}

// SetNextLSN allows recovery to set the LSN counter.
func (wf *WALFile) SetNextLSN(lsn LSN) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.nextLSN = lsn
}

// ───────────────────────────────────────────────────────────────────────────
// Checksums
// ───────────────────────────────────────────────────────────────────────────

// fletcherStep folds data (a multiple of 8 bytes: pairs of big-endian
// uint32 words) into the running (s0, s1) checksum pair, continuing the
// chain from the previous frame (or the WAL header, for the first frame).
func fletcherStep(s0, s1 uint32, data []byte) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		x0 := binary.BigEndian.Uint32(data[i:])
		x1 := binary.BigEndian.Uint32(data[i+4:])
		s0 += x0 + s1
		s1 += x1 + s0
	}
	return s0, s1
}

// ───────────────────────────────────────────────────────────────────────────
// Frame reading
// ───────────────────────────────────────────────────────────────────────────

type walFrame struct {
	pgno, commitMarker uint32
	payload            []byte
	ck1, ck2           uint32
}

// readFrames reads every well-formed frame from f's body (after the
// 32-byte header), verifying the checksum chain. It stops — without
// erroring — at the first torn or mismatched frame, since that marks
// the tail of a WAL left mid-write by a crash.
func readFrames(f *os.File, pageSize int, salt1, salt2, seedCk1, seedCk2 uint32) ([]walFrame, int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := fi.Size()
	if size < WALFileHdrSize {
		return nil, WALFileHdrSize, nil
	}

	fs := frameSize(pageSize)
	var frames []walFrame
	ck1, ck2 := seedCk1, seedCk2
	off := int64(WALFileHdrSize)

	buf := make([]byte, fs)
	for off+fs <= size {
		if _, err := f.ReadAt(buf, off); err != nil {
			break
		}
		pgno := binary.BigEndian.Uint32(buf[frmPgnoOff:])
		commit := binary.BigEndian.Uint32(buf[frmCommitOff:])
		s1 := binary.BigEndian.Uint32(buf[frmSalt1Off:])
		s2 := binary.BigEndian.Uint32(buf[frmSalt2Off:])
		wantCk1 := binary.BigEndian.Uint32(buf[frmCksum1Off:])
		wantCk2 := binary.BigEndian.Uint32(buf[frmCksum2Off:])

		if s1 != salt1 || s2 != salt2 {
			break // frame belongs to a stale WAL generation
		}

		gotCk1, gotCk2 := fletcherStep(ck1, ck2, buf[:16])
		gotCk1, gotCk2 = fletcherStep(gotCk1, gotCk2, buf[WALFrameHdrSize:])
		if gotCk1 != wantCk1 || gotCk2 != wantCk2 {
			break // torn write — stop here
		}
		ck1, ck2 = gotCk1, gotCk2

		payload := make([]byte, pageSize)
		copy(payload, buf[WALFrameHdrSize:])
		frames = append(frames, walFrame{pgno: pgno, commitMarker: commit, payload: payload, ck1: ck1, ck2: ck2})
		off += fs
	}

	return frames, off, nil
}

// decodeControl turns a control frame's payload back into type + TxID.
func decodeControl(payload []byte) (WALRecordType, TxID) {
	return WALRecordType(payload[0]), TxID(binary.BigEndian.Uint64(payload[1:9]))
}

// ReadAllRecords reads all WAL records from the file (after the header),
// reconstructing the logical BEGIN/PAGE_IMAGE/COMMIT/ABORT/CHECKPOINT
// sequence from the physical frame stream. Partial/corrupt frames at the
// tail are silently ignored (crash truncation).
func ReadAllRecords(path string) ([]*WALRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr [WALFileHdrSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	pageSize := int(binary.BigEndian.Uint32(hdr[walHdrPageSzOff:]))
	salt1 := binary.BigEndian.Uint32(hdr[walHdrSalt1Off:])
	salt2 := binary.BigEndian.Uint32(hdr[walHdrSalt2Off:])
	seedCk1 := binary.BigEndian.Uint32(hdr[walHdrCksum1Off:])
	seedCk2 := binary.BigEndian.Uint32(hdr[walHdrCksum2Off:])
	if pageSize <= 0 {
		return nil, nil
	}

	frames, _, err := readFrames(f, pageSize, salt1, salt2, seedCk1, seedCk2)
	if err != nil {
		return nil, err
	}

	records := make([]*WALRecord, 0, len(frames))
	for i, fr := range frames {
		lsn := LSN(i + 1)
		if fr.pgno == 0 {
			typ, txID := decodeControl(fr.payload)
			records = append(records, &WALRecord{Type: typ, LSN: lsn, TxID: txID, DBSizePages: fr.commitMarker})
			continue
		}
		rec := &WALRecord{Type: WALRecordPageImage, LSN: lsn, PageID: PageID(fr.pgno), Data: fr.payload}
		records = append(records, rec)
	}
	return records, nil
}
