package pager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournal_WriteRollback(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.db")
	journalPath := dbPath + "-journal"

	original := make([]byte, 16)
	copy(original, []byte("original page 1!"))
	if err := os.WriteFile(dbPath, original, 0644); err != nil {
		t.Fatal(err)
	}

	j, err := CreateJournal(journalPath, 16, 512, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.WritePage(1, original); err != nil {
		t.Fatal(err)
	}
	if err := j.Sync(); err != nil {
		t.Fatal(err)
	}

	dbFile, err := os.OpenFile(dbPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer dbFile.Close()
	corrupt := make([]byte, 16)
	copy(corrupt, []byte("corrupted data!!"))
	if _, err := dbFile.WriteAt(corrupt, 0); err != nil {
		t.Fatal(err)
	}

	if err := Rollback(j, dbFile); err != nil {
		t.Fatal(err)
	}

	restored := make([]byte, 16)
	if _, err := dbFile.ReadAt(restored, 0); err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(original) {
		t.Fatalf("rollback restored %q, want %q", restored, original)
	}

	if err := j.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(journalPath); !os.IsNotExist(err) {
		t.Fatalf("expected journal file removed after Finalize, stat err = %v", err)
	}
}

func TestJournal_OpenExisting(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "data.db-journal")

	created, err := CreateJournal(journalPath, 16, 512, 7)
	if err != nil {
		t.Fatal(err)
	}
	page := make([]byte, 16)
	copy(page, []byte("page two bytes!!"))
	if err := created.WritePage(2, page); err != nil {
		t.Fatal(err)
	}
	if err := created.file.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenJournal(journalPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.file.Close()

	if reopened.pageSize != 16 {
		t.Fatalf("pageSize = %d, want 16", reopened.pageSize)
	}
	if reopened.nonce != created.nonce {
		t.Fatalf("nonce mismatch after reopen: %x != %x", reopened.nonce, created.nonce)
	}
}

func TestJournal_RollbackStopsAtTornRecord(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.db")
	journalPath := dbPath + "-journal"

	page := make([]byte, 16)
	copy(page, []byte("good page data!!"))
	if err := os.WriteFile(dbPath, make([]byte, 32), 0644); err != nil {
		t.Fatal(err)
	}

	j, err := CreateJournal(journalPath, 16, 512, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.WritePage(1, page); err != nil {
		t.Fatal(err)
	}
	// Simulate a torn tail write: a record header with no matching data.
	if _, err := j.file.Write([]byte{0, 0, 0, 2, 0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatal(err)
	}

	dbFile, err := os.OpenFile(dbPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer dbFile.Close()

	if err := Rollback(j, dbFile); err != nil {
		t.Fatal(err)
	}

	restored := make([]byte, 16)
	if _, err := dbFile.ReadAt(restored, 0); err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(page) {
		t.Fatalf("page 1 not restored despite a valid record preceding the torn one: got %q", restored)
	}
}
