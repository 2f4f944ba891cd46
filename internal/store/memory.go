package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"proppy/api/internal/blocks"
)

// MemoryStore keeps everything in process. Transactions serialize on a
// single lock and restore a copy of the state when fn fails.
type MemoryStore struct {
	txMu  sync.Mutex
	state *memState
}

type memTxKey struct{}

type memState struct {
	companies  map[string]Company
	users      map[string]User
	clients    map[string]Client
	proposals  map[string]Proposal
	blocks     map[string]Block
	snapshots  map[string]Snapshot
	frozen     map[string][]blocks.Block
	threads    map[string]Thread
	comments   []Comment
	events     []Event
	signatures map[string]SignatureRecord
	hooks      []HookEndpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		companies:  map[string]Company{},
		users:      map[string]User{},
		clients:    map[string]Client{},
		proposals:  map[string]Proposal{},
		blocks:     map[string]Block{},
		snapshots:  map[string]Snapshot{},
		frozen:     map[string][]blocks.Block{},
		threads:    map[string]Thread{},
		signatures: map[string]SignatureRecord{},
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		companies:  make(map[string]Company, len(s.companies)),
		users:      make(map[string]User, len(s.users)),
		clients:    make(map[string]Client, len(s.clients)),
		proposals:  make(map[string]Proposal, len(s.proposals)),
		blocks:     make(map[string]Block, len(s.blocks)),
		snapshots:  make(map[string]Snapshot, len(s.snapshots)),
		frozen:     make(map[string][]blocks.Block, len(s.frozen)),
		threads:    make(map[string]Thread, len(s.threads)),
		comments:   append([]Comment(nil), s.comments...),
		events:     make([]Event, 0, len(s.events)),
		signatures: make(map[string]SignatureRecord, len(s.signatures)),
		hooks:      append([]HookEndpoint(nil), s.hooks...),
	}
	for k, v := range s.companies {
		out.companies[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.clients {
		out.clients[k] = copyClient(v)
	}
	for k, v := range s.proposals {
		out.proposals[k] = copyProposal(v)
	}
	for k, v := range s.blocks {
		out.blocks[k] = copyBlock(v)
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = copySnapshot(v)
	}
	for k, v := range s.frozen {
		out.frozen[k] = cloneBlocks(v)
	}
	for k, v := range s.threads {
		out.threads[k] = v
	}
	for _, event := range s.events {
		event.Payload = blocks.ClonePayload(event.Payload)
		out.events = append(out.events, event)
	}
	for k, v := range s.signatures {
		out.signatures[k] = v
	}
	return out
}

func copyProposal(p Proposal) Proposal {
	p.Tags = append([]string{}, p.Tags...)
	return p
}

func copyClient(c Client) Client {
	c.Contacts = append([]string{}, c.Contacts...)
	return c
}

func copySnapshot(s Snapshot) Snapshot {
	s.SentTo = append([]string{}, s.SentTo...)
	return s
}

func copyBlock(b Block) Block {
	b.Block = b.Block.Clone()
	return b
}

func cloneBlocks(items []blocks.Block) []blocks.Block {
	out := make([]blocks.Block, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// guard takes the store lock unless ctx already runs inside this store's
// transaction.
func (m *MemoryStore) guard(ctx context.Context) func() {
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryStore); ok && owner == m {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryStore); ok && owner == m {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	saved := m.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) InsertCompany(ctx context.Context, company Company) error {
	defer m.guard(ctx)()
	m.state.companies[company.ID] = company
	return nil
}

func (m *MemoryStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	defer m.guard(ctx)()
	company, ok := m.state.companies[companyID]
	if !ok {
		return Company{}, sql.ErrNoRows
	}
	return company, nil
}

func (m *MemoryStore) InsertUser(ctx context.Context, user User) error {
	defer m.guard(ctx)()
	m.state.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	defer m.guard(ctx)()
	user, ok := m.state.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *MemoryStore) ListTeamEmails(ctx context.Context, companyID string) ([]string, error) {
	defer m.guard(ctx)()
	users := make([]User, 0)
	for _, user := range m.state.users {
		if user.CompanyID == companyID && !user.IsDisabled && user.Email != "" {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	out := make([]string, 0, len(users))
	for _, user := range users {
		out = append(out, user.Email)
	}
	return out, nil
}

func (m *MemoryStore) InsertClient(ctx context.Context, client Client) error {
	defer m.guard(ctx)()
	for _, existing := range m.state.clients {
		if existing.CompanyID == client.CompanyID && existing.Name == client.Name {
			return ErrConflict
		}
	}
	m.state.clients[client.ID] = copyClient(client)
	return nil
}

func (m *MemoryStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	defer m.guard(ctx)()
	client, ok := m.state.clients[clientID]
	if !ok {
		return Client{}, sql.ErrNoRows
	}
	return copyClient(client), nil
}

func (m *MemoryStore) FindClientByName(ctx context.Context, companyID, name string) (Client, error) {
	defer m.guard(ctx)()
	for _, client := range m.state.clients {
		if client.CompanyID == companyID && client.Name == name {
			return copyClient(client), nil
		}
	}
	return Client{}, sql.ErrNoRows
}

func (m *MemoryStore) ListClients(ctx context.Context, companyID string) ([]Client, error) {
	defer m.guard(ctx)()
	out := make([]Client, 0)
	for _, client := range m.state.clients {
		if client.CompanyID == companyID {
			out = append(out, copyClient(client))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) UpdateClient(ctx context.Context, client Client) error {
	defer m.guard(ctx)()
	existing, ok := m.state.clients[client.ID]
	if !ok {
		return sql.ErrNoRows
	}
	for id, other := range m.state.clients {
		if id != client.ID && other.CompanyID == existing.CompanyID && other.Name == client.Name {
			return ErrConflict
		}
	}
	client.CompanyID = existing.CompanyID
	client.CreatedAt = existing.CreatedAt
	m.state.clients[client.ID] = copyClient(client)
	return nil
}

// DeleteClient removes the client and clears it from its proposals.
func (m *MemoryStore) DeleteClient(ctx context.Context, clientID string) error {
	defer m.guard(ctx)()
	if _, ok := m.state.clients[clientID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.state.clients, clientID)
	for id, proposal := range m.state.proposals {
		if ptrEquals(proposal.ClientID, clientID) {
			proposal.ClientID = nil
			m.state.proposals[id] = proposal
		}
	}
	return nil
}

func (m *MemoryStore) CountActiveProposals(ctx context.Context, companyID string) (int, error) {
	defer m.guard(ctx)()
	count := 0
	for _, proposal := range m.state.proposals {
		if proposal.CompanyID == companyID && IsActiveStatus(proposal.Status) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertProposal(ctx context.Context, proposal Proposal) error {
	defer m.guard(ctx)()
	for _, existing := range m.state.proposals {
		if existing.ShareUID == proposal.ShareUID {
			return ErrConflict
		}
	}
	m.state.proposals[proposal.ID] = copyProposal(proposal)
	return nil
}

func (m *MemoryStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	defer m.guard(ctx)()
	proposal, ok := m.state.proposals[proposalID]
	if !ok {
		return Proposal{}, sql.ErrNoRows
	}
	return copyProposal(proposal), nil
}

func (m *MemoryStore) LockProposal(ctx context.Context, proposalID string) (Proposal, error) {
	return m.GetProposal(ctx, proposalID)
}

func (m *MemoryStore) GetProposalByShareUID(ctx context.Context, shareUID string) (Proposal, error) {
	defer m.guard(ctx)()
	for _, proposal := range m.state.proposals {
		if proposal.ShareUID == shareUID {
			return copyProposal(proposal), nil
		}
	}
	return Proposal{}, sql.ErrNoRows
}

func (m *MemoryStore) ListProposals(ctx context.Context, companyID string) ([]Proposal, error) {
	defer m.guard(ctx)()
	out := make([]Proposal, 0)
	for _, proposal := range m.state.proposals {
		if proposal.CompanyID == companyID {
			out = append(out, copyProposal(proposal))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateProposal(ctx context.Context, proposal Proposal) error {
	defer m.guard(ctx)()
	existing, ok := m.state.proposals[proposal.ID]
	if !ok {
		return sql.ErrNoRows
	}
	proposal.CompanyID = existing.CompanyID
	proposal.ShareUID = existing.ShareUID
	proposal.CreatedAt = existing.CreatedAt
	m.state.proposals[proposal.ID] = copyProposal(proposal)
	return nil
}

func (m *MemoryStore) DeleteProposal(ctx context.Context, proposalID string) error {
	defer m.guard(ctx)()
	if _, ok := m.state.proposals[proposalID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.state.proposals, proposalID)
	delete(m.state.signatures, proposalID)

	for uid, block := range m.state.blocks {
		if ptrEquals(block.ProposalID, proposalID) || ptrEquals(block.DetachedFrom, proposalID) {
			delete(m.state.blocks, uid)
		}
	}

	removedSnapshots := map[string]bool{}
	for id, snapshot := range m.state.snapshots {
		if snapshot.ProposalID == proposalID {
			removedSnapshots[id] = true
			delete(m.state.snapshots, id)
			delete(m.state.frozen, id)
		}
	}
	removedThreads := map[string]bool{}
	for id, thread := range m.state.threads {
		if removedSnapshots[thread.SnapshotID] {
			removedThreads[id] = true
			delete(m.state.threads, id)
		}
	}
	comments := m.state.comments[:0]
	for _, comment := range m.state.comments {
		if !removedThreads[comment.ThreadID] {
			comments = append(comments, comment)
		}
	}
	m.state.comments = comments
	events := m.state.events[:0]
	for _, event := range m.state.events {
		if !removedSnapshots[event.SnapshotID] {
			events = append(events, event)
		}
	}
	m.state.events = events
	return nil
}

func (m *MemoryStore) ListBlocks(ctx context.Context, proposalID string) ([]Block, error) {
	defer m.guard(ctx)()
	out := make([]Block, 0)
	for _, block := range m.state.blocks {
		if ptrEquals(block.ProposalID, proposalID) {
			out = append(out, copyBlock(block))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

func (m *MemoryStore) GetBlock(ctx context.Context, uid string) (Block, error) {
	defer m.guard(ctx)()
	block, ok := m.state.blocks[uid]
	if !ok {
		return Block{}, sql.ErrNoRows
	}
	return copyBlock(block), nil
}

func (m *MemoryStore) SaveBlocks(ctx context.Context, proposalID string, items []blocks.Block) error {
	defer m.guard(ctx)()
	now := nowUTC()
	for _, item := range items {
		owner := proposalID
		row, ok := m.state.blocks[item.UID]
		if !ok {
			row.CreatedAt = now
		}
		row.Block = item.Clone()
		if row.Payload == nil {
			row.Payload = map[string]any{}
		}
		row.ProposalID = &owner
		row.DetachedFrom = nil
		row.UpdatedAt = now
		m.state.blocks[item.UID] = row
	}
	return nil
}

func (m *MemoryStore) DetachBlocks(ctx context.Context, proposalID string, uids []string) error {
	defer m.guard(ctx)()
	for _, uid := range uids {
		row, ok := m.state.blocks[uid]
		if !ok || !ptrEquals(row.ProposalID, proposalID) {
			continue
		}
		from := proposalID
		row.ProposalID = nil
		row.DetachedFrom = &from
		row.UpdatedAt = nowUTC()
		m.state.blocks[uid] = row
	}
	return nil
}

func (m *MemoryStore) MaxSnapshotVersion(ctx context.Context, proposalID string) (int, error) {
	defer m.guard(ctx)()
	max := 0
	for _, snapshot := range m.state.snapshots {
		if snapshot.ProposalID == proposalID && snapshot.Version > max {
			max = snapshot.Version
		}
	}
	return max, nil
}

func (m *MemoryStore) InsertSnapshot(ctx context.Context, snapshot Snapshot, frozen []blocks.Block) error {
	defer m.guard(ctx)()
	for _, existing := range m.state.snapshots {
		if existing.ProposalID == snapshot.ProposalID && existing.Version == snapshot.Version {
			return ErrConflict
		}
	}
	m.state.snapshots[snapshot.ID] = copySnapshot(snapshot)
	m.state.frozen[snapshot.ID] = cloneBlocks(frozen)
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error) {
	defer m.guard(ctx)()
	snapshot, ok := m.state.snapshots[snapshotID]
	if !ok {
		return Snapshot{}, sql.ErrNoRows
	}
	return copySnapshot(snapshot), nil
}

func (m *MemoryStore) GetSnapshotByVersion(ctx context.Context, proposalID string, version int) (Snapshot, error) {
	defer m.guard(ctx)()
	for _, snapshot := range m.state.snapshots {
		if snapshot.ProposalID == proposalID && snapshot.Version == version {
			return copySnapshot(snapshot), nil
		}
	}
	return Snapshot{}, sql.ErrNoRows
}

func (m *MemoryStore) GetLatestSnapshot(ctx context.Context, proposalID string) (Snapshot, error) {
	snapshots, err := m.ListSnapshots(ctx, proposalID)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snapshots) == 0 {
		return Snapshot{}, sql.ErrNoRows
	}
	return snapshots[0], nil
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, proposalID string) ([]Snapshot, error) {
	defer m.guard(ctx)()
	out := make([]Snapshot, 0)
	for _, snapshot := range m.state.snapshots {
		if snapshot.ProposalID == proposalID {
			out = append(out, copySnapshot(snapshot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *MemoryStore) UpdateSnapshotEmail(ctx context.Context, snapshot Snapshot) error {
	defer m.guard(ctx)()
	existing, ok := m.state.snapshots[snapshot.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.SentTo = append([]string{}, snapshot.SentTo...)
	existing.Subject = snapshot.Subject
	existing.FromName = snapshot.FromName
	existing.Body = snapshot.Body
	existing.SentAt = snapshot.SentAt
	m.state.snapshots[snapshot.ID] = existing
	return nil
}

func (m *MemoryStore) ListFrozenBlocks(ctx context.Context, snapshotID string) ([]blocks.Block, error) {
	defer m.guard(ctx)()
	out := cloneBlocks(m.state.frozen[snapshotID])
	blocks.SortByOrdering(out)
	return out, nil
}

func (m *MemoryStore) SetFrozenBlockPayload(ctx context.Context, snapshotID, uid string, payload map[string]any) error {
	defer m.guard(ctx)()
	items := m.state.frozen[snapshotID]
	for i := range items {
		if items[i].UID == uid {
			items[i].Payload = blocks.ClonePayload(payload)
			return nil
		}
	}
	return sql.ErrNoRows
}

// FindThread returns the unresolved thread of a block, if any.
func (m *MemoryStore) FindThread(ctx context.Context, snapshotID, blockUID string) (Thread, error) {
	defer m.guard(ctx)()
	for _, thread := range m.state.threads {
		if thread.SnapshotID == snapshotID && thread.BlockUID == blockUID && !thread.Resolved {
			thread.Comments = []Comment{}
			return thread, nil
		}
	}
	return Thread{}, sql.ErrNoRows
}

func (m *MemoryStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	defer m.guard(ctx)()
	thread, ok := m.state.threads[threadID]
	if !ok {
		return Thread{}, sql.ErrNoRows
	}
	thread.Comments = []Comment{}
	return thread, nil
}

func (m *MemoryStore) InsertThread(ctx context.Context, thread Thread) error {
	defer m.guard(ctx)()
	if !thread.Resolved {
		for _, existing := range m.state.threads {
			if existing.SnapshotID == thread.SnapshotID && existing.BlockUID == thread.BlockUID && !existing.Resolved {
				return ErrConflict
			}
		}
	}
	thread.Comments = nil
	m.state.threads[thread.ID] = thread
	return nil
}

func (m *MemoryStore) ResolveThread(ctx context.Context, threadID string) error {
	defer m.guard(ctx)()
	thread, ok := m.state.threads[threadID]
	if !ok {
		return sql.ErrNoRows
	}
	thread.Resolved = true
	thread.UpdatedAt = nowUTC()
	m.state.threads[threadID] = thread
	return nil
}

func (m *MemoryStore) InsertComment(ctx context.Context, comment Comment) error {
	defer m.guard(ctx)()
	m.state.comments = append(m.state.comments, comment)
	return nil
}

func (m *MemoryStore) ListThreads(ctx context.Context, snapshotID string) ([]Thread, error) {
	defer m.guard(ctx)()
	out := make([]Thread, 0)
	for _, thread := range m.state.threads {
		if thread.SnapshotID != snapshotID {
			continue
		}
		thread.Comments = []Comment{}
		for _, comment := range m.state.comments {
			if comment.ThreadID == thread.ID {
				thread.Comments = append(thread.Comments, comment)
			}
		}
		out = append(out, thread)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CountComments(ctx context.Context, snapshotID string) (int, error) {
	defer m.guard(ctx)()
	count := 0
	for _, comment := range m.state.comments {
		if thread, ok := m.state.threads[comment.ThreadID]; ok && thread.SnapshotID == snapshotID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertEvent(ctx context.Context, event Event) error {
	defer m.guard(ctx)()
	event.Payload = blocks.ClonePayload(event.Payload)
	m.state.events = append(m.state.events, event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, snapshotID string) ([]Event, error) {
	defer m.guard(ctx)()
	out := make([]Event, 0)
	for _, event := range m.state.events {
		if event.SnapshotID == snapshotID {
			event.Payload = blocks.ClonePayload(event.Payload)
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) InsertSignature(ctx context.Context, record SignatureRecord) error {
	defer m.guard(ctx)()
	if _, exists := m.state.signatures[record.ProposalID]; exists {
		return ErrAlreadySigned
	}
	m.state.signatures[record.ProposalID] = record
	return nil
}

func (m *MemoryStore) GetSignature(ctx context.Context, proposalID string) (SignatureRecord, error) {
	defer m.guard(ctx)()
	record, ok := m.state.signatures[proposalID]
	if !ok {
		return SignatureRecord{}, sql.ErrNoRows
	}
	return record, nil
}

func (m *MemoryStore) IsSigned(ctx context.Context, proposalID string) (bool, error) {
	defer m.guard(ctx)()
	_, ok := m.state.signatures[proposalID]
	return ok, nil
}

func (m *MemoryStore) InsertHookEndpoint(ctx context.Context, endpoint HookEndpoint) error {
	defer m.guard(ctx)()
	for _, existing := range m.state.hooks {
		if existing.CompanyID == endpoint.CompanyID && existing.Trigger == endpoint.Trigger && existing.TargetURL == endpoint.TargetURL {
			return nil
		}
	}
	m.state.hooks = append(m.state.hooks, endpoint)
	return nil
}

func (m *MemoryStore) DeleteHookEndpoint(ctx context.Context, companyID, endpointID string) error {
	defer m.guard(ctx)()
	for i, existing := range m.state.hooks {
		if existing.CompanyID == companyID && existing.ID == endpointID {
			m.state.hooks = append(m.state.hooks[:i], m.state.hooks[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *MemoryStore) ListHookEndpoints(ctx context.Context, companyID, trigger string) ([]HookEndpoint, error) {
	defer m.guard(ctx)()
	out := make([]HookEndpoint, 0)
	for _, endpoint := range m.state.hooks {
		if endpoint.CompanyID == companyID && (trigger == "" || endpoint.Trigger == trigger) {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (m *MemoryStore) SearchSections(ctx context.Context, companyID, query string, limit int) ([]SectionHit, error) {
	defer m.guard(ctx)()
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]SectionHit, 0)
	if query == "" {
		return out, nil
	}
	if limit <= 0 {
		limit = 20
	}
	uids := make([]string, 0, len(m.state.blocks))
	for uid := range m.state.blocks {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		block := m.state.blocks[uid]
		if block.ProposalID == nil || (block.Type != blocks.Section && block.Type != blocks.Subtitle) {
			continue
		}
		proposal, ok := m.state.proposals[*block.ProposalID]
		if !ok || proposal.CompanyID != companyID || proposal.Status == StatusTrash {
			continue
		}
		title := block.Text()
		if !strings.Contains(strings.ToLower(title), query) {
			continue
		}
		level := blocks.LevelSubsection
		if block.Type == blocks.Section {
			level = blocks.LevelSection
		}
		out = append(out, SectionHit{
			UID:           block.UID,
			ProposalID:    proposal.ID,
			ProposalTitle: proposal.Title,
			Level:         string(level),
			Title:         title,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func ptrEquals(value *string, want string) bool {
	return value != nil && *value == want
}
