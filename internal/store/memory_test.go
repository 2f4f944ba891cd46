package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"proppy/api/internal/blocks"
)

func seedProposal(t *testing.T, s *MemoryStore, id, companyID, status string) Proposal {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	proposal := Proposal{
		ID:        id,
		CompanyID: companyID,
		ShareUID:  "SHARE" + id,
		Title:     "Proposal " + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.InsertProposal(context.Background(), proposal); err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	return proposal
}

func TestMemoryStoreWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusDraft)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SaveBlocks(ctx, "p1", []blocks.Block{{UID: "b1", Type: blocks.Paragraph, Payload: map[string]any{"value": "x"}}}); err != nil {
			return err
		}
		proposal, err := s.LockProposal(ctx, "p1")
		if err != nil {
			return err
		}
		proposal.Status = StatusWon
		if err := s.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	proposal, err := s.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if proposal.Status != StatusDraft {
		t.Fatalf("expected status rollback to draft, got %s", proposal.Status)
	}
	if _, err := s.GetBlock(ctx, "b1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected block insert rolled back, got %v", err)
	}
}

func TestMemoryStoreNestedTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusDraft)

	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.SaveBlocks(ctx, "p1", []blocks.Block{{UID: "b1", Type: blocks.Section}})
		})
	})
	if err != nil {
		t.Fatalf("nested tx: %v", err)
	}
	block, err := s.GetBlock(ctx, "b1")
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if block.Payload == nil {
		t.Fatal("expected empty payload map, got nil")
	}
}

func TestMemoryStoreDetachAndReattach(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusDraft)

	if err := s.SaveBlocks(ctx, "p1", []blocks.Block{
		{UID: "a", Type: blocks.Section, Payload: map[string]any{"value": "A"}, Ordering: 0},
		{UID: "b", Type: blocks.Paragraph, Payload: map[string]any{"value": "B"}, Ordering: 1},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DetachBlocks(ctx, "p1", []string{"b"}); err != nil {
		t.Fatalf("detach: %v", err)
	}

	attached, _ := s.ListBlocks(ctx, "p1")
	if len(attached) != 1 || attached[0].UID != "a" {
		t.Fatalf("expected only block a attached, got %+v", attached)
	}
	detached, err := s.GetBlock(ctx, "b")
	if err != nil {
		t.Fatalf("get detached: %v", err)
	}
	if detached.ProposalID != nil || detached.DetachedFrom == nil || *detached.DetachedFrom != "p1" {
		t.Fatalf("unexpected detached row %+v", detached)
	}

	if err := s.SaveBlocks(ctx, "p1", []blocks.Block{detached.Block}); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	reattached, _ := s.GetBlock(ctx, "b")
	if reattached.ProposalID == nil || reattached.DetachedFrom != nil {
		t.Fatalf("expected block reattached, got %+v", reattached)
	}
}

func TestMemoryStoreDeleteProposalCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusTrash)
	seedProposal(t, s, "p2", "c1", StatusDraft)

	_ = s.SaveBlocks(ctx, "p1", []blocks.Block{{UID: "a", Type: blocks.Section}, {UID: "b", Type: blocks.Paragraph}})
	_ = s.DetachBlocks(ctx, "p1", []string{"b"})
	_ = s.SaveBlocks(ctx, "p2", []blocks.Block{{UID: "c", Type: blocks.Section}})
	_ = s.InsertSnapshot(ctx, Snapshot{ID: "s1", ProposalID: "p1", Version: 1}, []blocks.Block{{UID: "a", Type: blocks.Section}})
	_ = s.InsertThread(ctx, Thread{ID: "t1", SnapshotID: "s1", BlockUID: "a"})
	_ = s.InsertComment(ctx, Comment{ID: "m1", ThreadID: "t1", Comment: "hi"})
	_ = s.InsertEvent(ctx, Event{ID: "e1", SnapshotID: "s1", Kind: "load"})

	if err := s.DeleteProposal(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, uid := range []string{"a", "b"} {
		if _, err := s.GetBlock(ctx, uid); !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected block %s removed, got %v", uid, err)
		}
	}
	if _, err := s.GetBlock(ctx, "c"); err != nil {
		t.Fatalf("expected other proposal's block kept: %v", err)
	}
	if _, err := s.GetSnapshot(ctx, "s1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected snapshot removed, got %v", err)
	}
	if count, _ := s.CountComments(ctx, "s1"); count != 0 {
		t.Fatalf("expected comments removed, got %d", count)
	}
	if events, _ := s.ListEvents(ctx, "s1"); len(events) != 0 {
		t.Fatalf("expected events removed, got %d", len(events))
	}
}

func TestMemoryStoreSignatureIsOneShot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusSent)

	record := SignatureRecord{ID: "sig1", ProposalID: "p1", SnapshotID: "s1", SchemaVersion: 1}
	if err := s.InsertSignature(ctx, record); err != nil {
		t.Fatalf("first signature: %v", err)
	}
	record.ID = "sig2"
	if err := s.InsertSignature(ctx, record); !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("expected ErrAlreadySigned, got %v", err)
	}
	signed, _ := s.IsSigned(ctx, "p1")
	if !signed {
		t.Fatal("expected proposal to be signed")
	}
}

func TestMemoryStoreSnapshotsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusSent)

	for version := 1; version <= 3; version++ {
		id := "s" + string(rune('0'+version))
		if err := s.InsertSnapshot(ctx, Snapshot{ID: id, ProposalID: "p1", Version: version}, nil); err != nil {
			t.Fatalf("insert snapshot %d: %v", version, err)
		}
	}
	if err := s.InsertSnapshot(ctx, Snapshot{ID: "dup", ProposalID: "p1", Version: 2}, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	max, _ := s.MaxSnapshotVersion(ctx, "p1")
	if max != 3 {
		t.Fatalf("expected max version 3, got %d", max)
	}
	latest, err := s.GetLatestSnapshot(ctx, "p1")
	if err != nil || latest.Version != 3 {
		t.Fatalf("expected latest version 3, got %+v (%v)", latest, err)
	}
	list, _ := s.ListSnapshots(ctx, "p1")
	if len(list) != 3 || list[0].Version != 3 || list[2].Version != 1 {
		t.Fatalf("unexpected snapshot order %+v", list)
	}
}

func TestMemoryStoreSearchSectionsScopesByCompany(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedProposal(t, s, "p1", "c1", StatusDraft)
	seedProposal(t, s, "p2", "c2", StatusDraft)
	_ = s.SaveBlocks(ctx, "p1", []blocks.Block{{UID: "a", Type: blocks.Section, Payload: map[string]any{"value": "Pricing"}}})
	_ = s.SaveBlocks(ctx, "p2", []blocks.Block{{UID: "b", Type: blocks.Section, Payload: map[string]any{"value": "Pricing"}}})

	hits, err := s.SearchSections(ctx, "c1", "pric", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].UID != "a" || hits[0].Level != "h1" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestMemoryStoreReopensResolvedBlockThread(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := Thread{ID: "t1", SnapshotID: "s1", BlockUID: "b1", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertThread(ctx, first); err != nil {
		t.Fatalf("insert thread: %v", err)
	}
	if err := s.InsertThread(ctx, Thread{ID: "t2", SnapshotID: "s1", BlockUID: "b1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for a second open thread, got %v", err)
	}
	if err := s.ResolveThread(ctx, "t1"); err != nil {
		t.Fatalf("resolve thread: %v", err)
	}
	if _, err := s.FindThread(ctx, "s1", "b1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected resolved thread to be skipped, got %v", err)
	}

	if err := s.InsertThread(ctx, Thread{ID: "t2", SnapshotID: "s1", BlockUID: "b1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert second thread: %v", err)
	}
	open, err := s.FindThread(ctx, "s1", "b1")
	if err != nil {
		t.Fatalf("find thread: %v", err)
	}
	if open.ID != "t2" {
		t.Fatalf("expected the open thread t2, got %s", open.ID)
	}
}

func TestMemoryStoreClientNamesUniquePerCompany(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, client := range []Client{
		{ID: "cl1", CompanyID: "c1", Name: "Initech"},
		{ID: "cl2", CompanyID: "c2", Name: "Initech"},
		{ID: "cl3", CompanyID: "c1", Name: "Hooli"},
	} {
		if err := s.InsertClient(ctx, client); err != nil {
			t.Fatalf("insert client %s: %v", client.ID, err)
		}
	}
	if err := s.InsertClient(ctx, Client{ID: "cl4", CompanyID: "c1", Name: "Initech"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on duplicate name, got %v", err)
	}
	if err := s.UpdateClient(ctx, Client{ID: "cl3", Name: "Initech"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on rename, got %v", err)
	}

	found, err := s.FindClientByName(ctx, "c2", "Initech")
	if err != nil {
		t.Fatalf("find client: %v", err)
	}
	if found.ID != "cl2" {
		t.Fatalf("expected cl2, got %s", found.ID)
	}
	clients, err := s.ListClients(ctx, "c1")
	if err != nil {
		t.Fatalf("list clients: %v", err)
	}
	if len(clients) != 2 || clients[0].Name != "Hooli" {
		t.Fatalf("expected clients ordered by name, got %+v", clients)
	}
}

func TestMemoryStoreDeleteClientClearsProposals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.InsertClient(ctx, Client{ID: "cl1", CompanyID: "c1", Name: "Initech"}); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	proposal := seedProposal(t, s, "p1", "c1", StatusDraft)
	clientID := "cl1"
	proposal.ClientID = &clientID
	if err := s.UpdateProposal(ctx, proposal); err != nil {
		t.Fatalf("update proposal: %v", err)
	}

	if err := s.DeleteClient(ctx, "cl1"); err != nil {
		t.Fatalf("delete client: %v", err)
	}
	got, err := s.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.ClientID != nil {
		t.Fatalf("expected client to be cleared, got %v", *got.ClientID)
	}
	if _, err := s.GetClient(ctx, "cl1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deleted client to be gone, got %v", err)
	}
}
