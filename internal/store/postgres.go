package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"proppy/api/internal/blocks"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertCompany(ctx context.Context, company Company) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO companies (id, name, trial_expires_at, subscription_status, subscription_plan, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, company.ID, company.Name, company.TrialExpiresAt, company.SubscriptionStatus, company.SubscriptionPlan, company.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	var (
		company Company
		trial   sql.NullTime
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, trial_expires_at, subscription_status, subscription_plan, created_at
		FROM companies WHERE id = $1
	`, companyID).Scan(&company.ID, &company.Name, &trial, &company.SubscriptionStatus, &company.SubscriptionPlan, &company.CreatedAt)
	if err != nil {
		return Company{}, err
	}
	company.TrialExpiresAt = nullTime(trial)
	return company, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, company_id, username, email, is_active, is_disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.CompanyID, user.Username, user.Email, user.IsActive, user.IsDisabled, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, company_id, username, email, is_active, is_disabled, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.CompanyID, &user.Username, &user.Email, &user.IsActive, &user.IsDisabled, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListTeamEmails returns the addresses of the company's enabled users.
func (s *PostgresStore) ListTeamEmails(ctx context.Context, companyID string) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT email FROM users
		WHERE company_id = $1 AND is_disabled = FALSE AND email <> ''
		ORDER BY created_at ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list team emails: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

const clientColumns = `id, company_id, name, contacts, source, created_at, updated_at`

func scanClient(row rowScanner) (Client, error) {
	var (
		client   Client
		contacts []byte
	)
	if err := row.Scan(&client.ID, &client.CompanyID, &client.Name, &contacts, &client.Source, &client.CreatedAt, &client.UpdatedAt); err != nil {
		return Client{}, err
	}
	decoded, err := decodeStrings(contacts)
	if err != nil {
		return Client{}, err
	}
	client.Contacts = decoded
	return client, nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, client Client) error {
	contacts, err := encodeJSON(nonNilStrings(client.Contacts))
	if err != nil {
		return err
	}
	// A taken name reports ErrConflict without aborting the surrounding transaction.
	result, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO clients (id, company_id, name, contacts, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (company_id, name) DO NOTHING
	`, client.ID, client.CompanyID, client.Name, contacts, client.Source, client.CreatedAt, client.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	if err := requireAffected(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID)
	return scanClient(row)
}

func (s *PostgresStore) FindClientByName(ctx context.Context, companyID, name string) (Client, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE company_id = $1 AND name = $2
	`, companyID, name)
	return scanClient(row)
}

func (s *PostgresStore) ListClients(ctx context.Context, companyID string) ([]Client, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE company_id = $1
		ORDER BY name ASC, id ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	out := make([]Client, 0)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, client)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateClient(ctx context.Context, client Client) error {
	contacts, err := encodeJSON(nonNilStrings(client.Contacts))
	if err != nil {
		return err
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE clients SET name = $2, contacts = $3::jsonb, updated_at = $4
		WHERE id = $1
	`, client.ID, client.Name, contacts, client.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update client: %w", err)
	}
	return requireAffected(result)
}

// DeleteClient removes the client; its proposals keep existing without one.
func (s *PostgresStore) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) CountActiveProposals(ctx context.Context, companyID string) (int, error) {
	var count int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposals
		WHERE company_id = $1 AND status IN ('draft', 'sent')
	`, companyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active proposals: %w", err)
	}
	return count, nil
}

const proposalColumns = `id, company_id, client_id, share_uid, title, tags, status, cover_image_url, created_at, updated_at, changed_status_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (Proposal, error) {
	var (
		proposal Proposal
		client   sql.NullString
		tags     []byte
		changed  sql.NullTime
	)
	if err := row.Scan(
		&proposal.ID, &proposal.CompanyID, &client, &proposal.ShareUID, &proposal.Title, &tags,
		&proposal.Status, &proposal.CoverImageURL, &proposal.CreatedAt, &proposal.UpdatedAt, &changed,
	); err != nil {
		return Proposal{}, err
	}
	decoded, err := decodeStrings(tags)
	if err != nil {
		return Proposal{}, err
	}
	proposal.Tags = decoded
	proposal.ClientID = nullString(client)
	proposal.ChangedStatusAt = nullTime(changed)
	return proposal, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, proposal Proposal) error {
	tags, err := encodeJSON(nonNilStrings(proposal.Tags))
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO proposals (id, company_id, client_id, share_uid, title, tags, status, cover_image_url, created_at, updated_at, changed_status_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)
	`, proposal.ID, proposal.CompanyID, proposal.ClientID, proposal.ShareUID, proposal.Title, tags,
		proposal.Status, proposal.CoverImageURL, proposal.CreatedAt, proposal.UpdatedAt, proposal.ChangedStatusAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, proposalID)
	return scanProposal(row)
}

// LockProposal reads the proposal with a row lock held until the
// surrounding transaction ends.
func (s *PostgresStore) LockProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) GetProposalByShareUID(ctx context.Context, shareUID string) (Proposal, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE share_uid = $1`, shareUID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposals(ctx context.Context, companyID string) ([]Proposal, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE company_id = $1
		ORDER BY updated_at DESC, id ASC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	out := make([]Proposal, 0)
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, proposal)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, proposal Proposal) error {
	tags, err := encodeJSON(nonNilStrings(proposal.Tags))
	if err != nil {
		return err
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE proposals
		SET client_id = $2, title = $3, tags = $4::jsonb, status = $5, cover_image_url = $6,
			updated_at = $7, changed_status_at = $8
		WHERE id = $1
	`, proposal.ID, proposal.ClientID, proposal.Title, tags, proposal.Status, proposal.CoverImageURL,
		proposal.UpdatedAt, proposal.ChangedStatusAt)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	return requireAffected(result)
}

// DeleteProposal removes the proposal. Attached and detached blocks,
// snapshots and everything hanging off them cascade.
func (s *PostgresStore) DeleteProposal(ctx context.Context, proposalID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM proposals WHERE id = $1`, proposalID)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	return requireAffected(result)
}

const blockColumns = `uid, proposal_id, detached_from, type, data, ordering, version, created_at, updated_at`

func scanBlock(row rowScanner) (Block, error) {
	var (
		block    Block
		proposal sql.NullString
		detached sql.NullString
		data     []byte
		kind     string
	)
	if err := row.Scan(&block.UID, &proposal, &detached, &kind, &data, &block.Ordering, &block.Version, &block.CreatedAt, &block.UpdatedAt); err != nil {
		return Block{}, err
	}
	payload, err := decodeObject(data)
	if err != nil {
		return Block{}, err
	}
	block.Type = blocks.Type(kind)
	block.Payload = payload
	block.ProposalID = nullString(proposal)
	block.DetachedFrom = nullString(detached)
	return block, nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, proposalID string) ([]Block, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE proposal_id = $1
		ORDER BY ordering ASC, uid ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	out := make([]Block, 0)
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBlock(ctx context.Context, uid string) (Block, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE uid = $1`, uid)
	return scanBlock(row)
}

// SaveBlocks upserts items and attaches every one of them to proposalID,
// clearing any detached marker.
func (s *PostgresStore) SaveBlocks(ctx context.Context, proposalID string, items []blocks.Block) error {
	now := time.Now().UTC()
	for _, item := range items {
		data, err := encodeJSON(nonNilPayload(item.Payload))
		if err != nil {
			return err
		}
		_, err = s.conn(ctx).ExecContext(ctx, `
			INSERT INTO blocks (uid, proposal_id, detached_from, type, data, ordering, version, created_at, updated_at)
			VALUES ($1, $2, NULL, $3, $4::jsonb, $5, $6, $7, $7)
			ON CONFLICT (uid) DO UPDATE
			SET proposal_id = EXCLUDED.proposal_id,
				detached_from = NULL,
				type = EXCLUDED.type,
				data = EXCLUDED.data,
				ordering = EXCLUDED.ordering,
				version = EXCLUDED.version,
				updated_at = EXCLUDED.updated_at
		`, item.UID, proposalID, string(item.Type), data, item.Ordering, item.Version, now)
		if err != nil {
			return fmt.Errorf("save block %s: %w", item.UID, err)
		}
	}
	return nil
}

// DetachBlocks unlinks uids from proposalID while keeping the rows so an
// undo can reattach them.
func (s *PostgresStore) DetachBlocks(ctx context.Context, proposalID string, uids []string) error {
	for _, uid := range uids {
		_, err := s.conn(ctx).ExecContext(ctx, `
			UPDATE blocks
			SET proposal_id = NULL, detached_from = $2, updated_at = NOW()
			WHERE uid = $1 AND proposal_id = $2
		`, uid, proposalID)
		if err != nil {
			return fmt.Errorf("detach block %s: %w", uid, err)
		}
	}
	return nil
}

const snapshotColumns = `id, proposal_id, version, title, cover_image_url, sent_to, subject, from_name, body, sent_at, created_at`

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snapshot Snapshot
		sentTo   []byte
		sentAt   sql.NullTime
	)
	if err := row.Scan(
		&snapshot.ID, &snapshot.ProposalID, &snapshot.Version, &snapshot.Title, &snapshot.CoverImageURL,
		&sentTo, &snapshot.Subject, &snapshot.FromName, &snapshot.Body, &sentAt, &snapshot.CreatedAt,
	); err != nil {
		return Snapshot{}, err
	}
	decoded, err := decodeStrings(sentTo)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.SentTo = decoded
	snapshot.SentAt = nullTime(sentAt)
	return snapshot, nil
}

func (s *PostgresStore) MaxSnapshotVersion(ctx context.Context, proposalID string) (int, error) {
	var version int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM shared_proposals WHERE proposal_id = $1
	`, proposalID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("max snapshot version: %w", err)
	}
	return version, nil
}

// InsertSnapshot stores the snapshot header together with its frozen
// blocks.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snapshot Snapshot, frozen []blocks.Block) error {
	sentTo, err := encodeJSON(nonNilStrings(snapshot.SentTo))
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO shared_proposals (id, proposal_id, version, title, cover_image_url, sent_to, subject, from_name, body, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)
	`, snapshot.ID, snapshot.ProposalID, snapshot.Version, snapshot.Title, snapshot.CoverImageURL, sentTo,
		snapshot.Subject, snapshot.FromName, snapshot.Body, snapshot.SentAt, snapshot.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, item := range frozen {
		data, err := encodeJSON(nonNilPayload(item.Payload))
		if err != nil {
			return err
		}
		_, err = s.conn(ctx).ExecContext(ctx, `
			INSERT INTO shared_blocks (id, shared_proposal_id, uid, type, data, ordering, version)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		`, snapshot.ID+":"+item.UID, snapshot.ID, item.UID, string(item.Type), data, item.Ordering, item.Version)
		if err != nil {
			return fmt.Errorf("insert frozen block %s: %w", item.UID, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM shared_proposals WHERE id = $1`, snapshotID)
	return scanSnapshot(row)
}

func (s *PostgresStore) GetSnapshotByVersion(ctx context.Context, proposalID string, version int) (Snapshot, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM shared_proposals WHERE proposal_id = $1 AND version = $2
	`, proposalID, version)
	return scanSnapshot(row)
}

func (s *PostgresStore) GetLatestSnapshot(ctx context.Context, proposalID string) (Snapshot, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM shared_proposals
		WHERE proposal_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, proposalID)
	return scanSnapshot(row)
}

// ListSnapshots returns every snapshot of the proposal, newest version
// first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, proposalID string) ([]Snapshot, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM shared_proposals
		WHERE proposal_id = $1
		ORDER BY version DESC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snapshot)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSnapshotEmail(ctx context.Context, snapshot Snapshot) error {
	sentTo, err := encodeJSON(nonNilStrings(snapshot.SentTo))
	if err != nil {
		return err
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE shared_proposals
		SET sent_to = $2::jsonb, subject = $3, from_name = $4, body = $5, sent_at = $6
		WHERE id = $1
	`, snapshot.ID, sentTo, snapshot.Subject, snapshot.FromName, snapshot.Body, snapshot.SentAt)
	if err != nil {
		return fmt.Errorf("update snapshot email: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListFrozenBlocks(ctx context.Context, snapshotID string) ([]blocks.Block, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT uid, type, data, ordering, version FROM shared_blocks
		WHERE shared_proposal_id = $1
		ORDER BY ordering ASC, uid ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list frozen blocks: %w", err)
	}
	defer rows.Close()

	out := make([]blocks.Block, 0)
	for rows.Next() {
		var (
			item blocks.Block
			kind string
			data []byte
		)
		if err := rows.Scan(&item.UID, &kind, &data, &item.Ordering, &item.Version); err != nil {
			return nil, fmt.Errorf("scan frozen block: %w", err)
		}
		payload, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		item.Type = blocks.Type(kind)
		item.Payload = payload
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetFrozenBlockPayload(ctx context.Context, snapshotID, uid string, payload map[string]any) error {
	data, err := encodeJSON(nonNilPayload(payload))
	if err != nil {
		return err
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE shared_blocks SET data = $3::jsonb
		WHERE shared_proposal_id = $1 AND uid = $2
	`, snapshotID, uid, data)
	if err != nil {
		return fmt.Errorf("update frozen block: %w", err)
	}
	return requireAffected(result)
}

const threadColumns = `id, shared_proposal_id, block_uid, resolved, created_at, updated_at`

func scanThread(row rowScanner) (Thread, error) {
	var thread Thread
	err := row.Scan(&thread.ID, &thread.SnapshotID, &thread.BlockUID, &thread.Resolved, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		return Thread{}, err
	}
	thread.Comments = []Comment{}
	return thread, nil
}

// FindThread returns the unresolved thread of a block, if any.
func (s *PostgresStore) FindThread(ctx context.Context, snapshotID, blockUID string) (Thread, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+threadColumns+` FROM comment_threads
		WHERE shared_proposal_id = $1 AND block_uid = $2 AND resolved = FALSE
	`, snapshotID, blockUID)
	return scanThread(row)
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+threadColumns+` FROM comment_threads WHERE id = $1`, threadID)
	return scanThread(row)
}

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO comment_threads (id, shared_proposal_id, block_uid, resolved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, thread.ID, thread.SnapshotID, thread.BlockUID, thread.Resolved, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResolveThread(ctx context.Context, threadID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE comment_threads SET resolved = TRUE, updated_at = NOW() WHERE id = $1
	`, threadID)
	if err != nil {
		return fmt.Errorf("resolve thread: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO comments (id, thread_id, username, comment, from_client, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.ThreadID, comment.Username, comment.Comment, comment.FromClient, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// ListThreads returns the snapshot's threads with their comments in
// creation order.
func (s *PostgresStore) ListThreads(ctx context.Context, snapshotID string) ([]Thread, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+threadColumns+` FROM comment_threads
		WHERE shared_proposal_id = $1
		ORDER BY created_at ASC, id ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	threads := make([]Thread, 0)
	index := map[string]int{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		index[thread.ID] = len(threads)
		threads = append(threads, thread)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	commentRows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.username, c.comment, c.from_client, c.created_at
		FROM comments c
		JOIN comment_threads t ON t.id = c.thread_id
		WHERE t.shared_proposal_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		var comment Comment
		if err := commentRows.Scan(&comment.ID, &comment.ThreadID, &comment.Username, &comment.Comment, &comment.FromClient, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if i, ok := index[comment.ThreadID]; ok {
			threads[i].Comments = append(threads[i].Comments, comment)
		}
	}
	return threads, commentRows.Err()
}

func (s *PostgresStore) CountComments(ctx context.Context, snapshotID string) (int, error) {
	var count int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments c
		JOIN comment_threads t ON t.id = c.thread_id
		WHERE t.shared_proposal_id = $1
	`, snapshotID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event Event) error {
	data, err := encodeJSON(nonNilPayload(event.Payload))
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO events (id, shared_proposal_id, user_uid, kind, data, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, event.ID, event.SnapshotID, event.ViewerUID, event.Kind, data, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, snapshotID string) ([]Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, shared_proposal_id, user_uid, kind, data, created_at FROM events
		WHERE shared_proposal_id = $1
		ORDER BY created_at ASC, id ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			event Event
			data  []byte
		)
		if err := rows.Scan(&event.ID, &event.SnapshotID, &event.ViewerUID, &event.Kind, &data, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		payload, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		event.Payload = payload
		out = append(out, event)
	}
	return out, rows.Err()
}

// InsertSignature records the signature. A second signature for the same
// proposal fails with ErrAlreadySigned.
func (s *PostgresStore) InsertSignature(ctx context.Context, record SignatureRecord) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO signatures (id, proposal_id, shared_proposal_id, schema_version, document, digest, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.ProposalID, record.SnapshotID, record.SchemaVersion, record.Document, record.Digest, record.Signature, record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySigned
		}
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSignature(ctx context.Context, proposalID string) (SignatureRecord, error) {
	var record SignatureRecord
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, proposal_id, shared_proposal_id, schema_version, document, digest, signature, created_at
		FROM signatures WHERE proposal_id = $1
	`, proposalID).Scan(&record.ID, &record.ProposalID, &record.SnapshotID, &record.SchemaVersion,
		&record.Document, &record.Digest, &record.Signature, &record.CreatedAt)
	if err != nil {
		return SignatureRecord{}, err
	}
	return record, nil
}

func (s *PostgresStore) IsSigned(ctx context.Context, proposalID string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM signatures WHERE proposal_id = $1)`, proposalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signature: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertHookEndpoint(ctx context.Context, endpoint HookEndpoint) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO hook_endpoints (id, company_id, trigger, target_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, trigger, target_url) DO NOTHING
	`, endpoint.ID, endpoint.CompanyID, endpoint.Trigger, endpoint.TargetURL, endpoint.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert hook endpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHookEndpoint(ctx context.Context, companyID, endpointID string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM hook_endpoints WHERE company_id = $1 AND id = $2
	`, companyID, endpointID)
	if err != nil {
		return fmt.Errorf("delete hook endpoint: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListHookEndpoints(ctx context.Context, companyID, trigger string) ([]HookEndpoint, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, company_id, trigger, target_url, created_at FROM hook_endpoints
		WHERE company_id = $1 AND ($2 = '' OR trigger = $2)
		ORDER BY created_at ASC, id ASC
	`, companyID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list hook endpoints: %w", err)
	}
	defer rows.Close()

	out := make([]HookEndpoint, 0)
	for rows.Next() {
		var endpoint HookEndpoint
		if err := rows.Scan(&endpoint.ID, &endpoint.CompanyID, &endpoint.Trigger, &endpoint.TargetURL, &endpoint.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hook endpoint: %w", err)
		}
		out = append(out, endpoint)
	}
	return out, rows.Err()
}

// SearchSections is the database fallback for section search: a case
// insensitive match over section and subtitle headings of the company's
// live proposals.
func (s *PostgresStore) SearchSections(ctx context.Context, companyID, query string, limit int) ([]SectionHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SectionHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT b.uid, b.proposal_id, p.title, b.type, COALESCE(b.data->>'value', '')
		FROM blocks b
		JOIN proposals p ON p.id = b.proposal_id
		WHERE p.company_id = $1
			AND p.status <> 'trash'
			AND b.type IN ('section', 'subtitle')
			AND b.data->>'value' ILIKE '%' || $2 || '%'
		ORDER BY p.updated_at DESC, b.ordering ASC
		LIMIT $3
	`, companyID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search sections: %w", err)
	}
	defer rows.Close()

	out := make([]SectionHit, 0)
	for rows.Next() {
		var hit SectionHit
		if err := rows.Scan(&hit.UID, &hit.ProposalID, &hit.ProposalTitle, &hit.Level, &hit.Title); err != nil {
			return nil, fmt.Errorf("scan section hit: %w", err)
		}
		if hit.Level == string(blocks.Section) {
			hit.Level = string(blocks.LevelSection)
		} else {
			hit.Level = string(blocks.LevelSubsection)
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
