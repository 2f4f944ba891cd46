package archive

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
)

func sampleEntry(proposalID string) Entry {
	return Entry{
		ProposalID: proposalID,
		SnapshotID: "snap-1",
		Version:    2,
		Digest:     "abc123",
		SignerName: "Ada Lovelace",
		SignedAt:   time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Document:   []byte{0xa4, 0x01, 0x02},
		Signature:  []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestLedgerRecordAndRead(t *testing.T) {
	dir := t.TempDir()
	ledger := New(dir)

	commit, err := ledger.Record(sampleEntry("prop-1"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	entry, head, err := ledger.Read("prop-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if head.Hash != commit.Hash {
		t.Fatalf("expected head %s, got %s", commit.Hash, head.Hash)
	}
	if !bytes.Equal(entry.Document, []byte{0xa4, 0x01, 0x02}) {
		t.Fatalf("unexpected document bytes %x", entry.Document)
	}
	if !bytes.Equal(entry.Signature, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("unexpected signature bytes %x", entry.Signature)
	}
	if entry.Version != 2 || entry.Digest != "abc123" || entry.SignerName != "Ada Lovelace" {
		t.Fatalf("unexpected manifest %+v", entry)
	}

	repo, err := git.PlainOpen(filepath.Join(dir, "prop-1"))
	if err != nil {
		t.Fatalf("open ledger repo: %v", err)
	}
	if _, err := repo.Tag("v2"); err != nil {
		t.Fatalf("expected version tag: %v", err)
	}
}

func TestLedgerRefusesSecondRecord(t *testing.T) {
	ledger := New(t.TempDir())
	if _, err := ledger.Record(sampleEntry("prop-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := ledger.Record(sampleEntry("prop-1")); err == nil {
		t.Fatal("expected second Record() to fail")
	}
}

func TestLedgerReadMissing(t *testing.T) {
	ledger := New(t.TempDir())
	if _, _, err := ledger.Read("nope"); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived, got %v", err)
	}
}

func TestLedgerConcurrentProposals(t *testing.T) {
	dir := t.TempDir()
	ledger := New(dir)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := ledger.Record(sampleEntry(id)); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Record() error = %v", err)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := os.Stat(filepath.Join(dir, id, manifestFile)); err != nil {
			t.Fatalf("expected manifest for %s: %v", id, err)
		}
	}
}
