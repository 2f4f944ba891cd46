package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"proppy/api/internal/blocks"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("PROPPY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PROPPY_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedPostgresProposal(t *testing.T, ctx context.Context, s *PostgresStore) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.InsertCompany(ctx, Company{ID: "c1", Name: "Acme", CreatedAt: now}); err != nil {
		t.Fatalf("insert company: %v", err)
	}
	if err := s.InsertProposal(ctx, Proposal{ID: "p1", CompanyID: "c1", ShareUID: "ABCDEFGHI", Status: StatusSent, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	if err := s.InsertSnapshot(ctx, Snapshot{ID: "s1", ProposalID: "p1", Version: 1, CreatedAt: now}, []blocks.Block{
		{UID: "sig", Type: blocks.Signature, Payload: map[string]any{}},
	}); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
}

func TestPostgresSignatureIsImmutable(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedPostgresProposal(t, ctx, s)

	record := SignatureRecord{ID: "sig1", ProposalID: "p1", SnapshotID: "s1", SchemaVersion: 1, Document: []byte{0xa0}, Digest: "d", Signature: []byte{1}, CreatedAt: time.Now().UTC()}
	if err := s.InsertSignature(ctx, record); err != nil {
		t.Fatalf("insert signature: %v", err)
	}
	record.ID = "sig2"
	if err := s.InsertSignature(ctx, record); !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("expected ErrAlreadySigned, got %v", err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE signatures SET digest = 'x' WHERE id = 'sig1'`)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got %v", err)
	}
}

func TestPostgresWithTxRollsBack(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedPostgresProposal(t, ctx, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		proposal, err := s.LockProposal(ctx, "p1")
		if err != nil {
			return err
		}
		proposal.Status = StatusWon
		if err := s.UpdateProposal(ctx, proposal); err != nil {
			return err
		}
		if err := s.SetFrozenBlockPayload(ctx, "s1", "sig", map[string]any{"name": "Ada"}); err != nil {
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
	if proposal.Status != StatusSent {
		t.Fatalf("expected status to stay sent, got %s", proposal.Status)
	}
	frozen, err := s.ListFrozenBlocks(ctx, "s1")
	if err != nil {
		t.Fatalf("list frozen: %v", err)
	}
	if len(frozen) != 1 || len(frozen[0].Payload) != 0 {
		t.Fatalf("expected untouched signature block, got %+v", frozen)
	}
}

func TestPostgresBlocksDetachAndCascade(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedPostgresProposal(t, ctx, s)

	if err := s.SaveBlocks(ctx, "p1", []blocks.Block{
		{UID: "a", Type: blocks.Section, Payload: map[string]any{"value": "Scope"}},
		{UID: "b", Type: blocks.Paragraph, Payload: map[string]any{"value": "text"}, Ordering: 1},
	}); err != nil {
		t.Fatalf("save blocks: %v", err)
	}
	if err := s.DetachBlocks(ctx, "p1", []string{"b"}); err != nil {
		t.Fatalf("detach: %v", err)
	}
	detached, err := s.GetBlock(ctx, "b")
	if err != nil {
		t.Fatalf("get detached: %v", err)
	}
	if detached.ProposalID != nil || detached.DetachedFrom == nil {
		t.Fatalf("unexpected detached block %+v", detached)
	}

	if err := s.DeleteProposal(ctx, "p1"); err != nil {
		t.Fatalf("delete proposal: %v", err)
	}
	var remaining int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&remaining); err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected blocks to cascade, %d left", remaining)
	}
}
