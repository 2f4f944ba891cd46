package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/store"
)

type fakeEngine struct {
	mu        sync.Mutex
	healthy   bool
	searchErr error
	hits      []store.SectionHit
	indexed   []SectionRecord
	deleted   []string
	lastQuery Query
}

func (f *fakeEngine) Search(q Query) ([]store.SectionHit, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.hits, len(f.hits), nil
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexSections(records []SectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeEngine) DeleteSection(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func memoryFallback(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.InsertProposal(ctx, store.Proposal{ID: "p1", CompanyID: "c1", ShareUID: "AAA", Title: "Website", Status: store.StatusDraft, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.SaveBlocks(ctx, "p1", []blocks.Block{
		{UID: "s1", Type: blocks.Section, Payload: map[string]any{"value": "Pricing"}},
	}))
	return s
}

func TestSearchUsesHealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: true, hits: []store.SectionHit{{UID: "x", Title: "Pricing"}}}
	svc := NewService(engine, memoryFallback(t))

	resp := svc.Search(context.Background(), Query{Text: "pricing", CompanyID: "c1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "x", resp.Results[0].UID)
	assert.Equal(t, defaultLimit, engine.lastQuery.Limit)
	assert.Equal(t, "c1", engine.lastQuery.CompanyID)
}

func TestSearchFallsBackOnEngineError(t *testing.T) {
	logging.Discard()
	engine := &fakeEngine{healthy: true, searchErr: errors.New("down")}
	svc := NewService(engine, memoryFallback(t))

	resp := svc.Search(context.Background(), Query{Text: "pric", CompanyID: "c1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "s1", resp.Results[0].UID)
	assert.Equal(t, "Website", resp.Results[0].ProposalTitle)
}

func TestSearchFallbackRespectsTenant(t *testing.T) {
	svc := NewService(nil, memoryFallback(t))
	resp := svc.Search(context.Background(), Query{Text: "pric", CompanyID: "other"})
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestRecordsAndStaleIDs(t *testing.T) {
	items := []blocks.Block{
		{UID: "a", Type: blocks.Section, Payload: map[string]any{"value": "Intro"}, Ordering: 0},
		{UID: "b", Type: blocks.Paragraph, Payload: map[string]any{"value": "hello"}, Ordering: 1},
		{UID: "c", Type: blocks.Subtitle, Payload: map[string]any{"value": "Details"}, Ordering: 2},
	}
	records := Records("c1", "p1", "Website", items)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "h1", records[0].Level)
	assert.Equal(t, "c1", records[0].CompanyID)
	assert.Equal(t, "c", records[1].ID)

	after := Records("c1", "p1", "Website", items[:2])
	assert.Equal(t, []string{"c"}, StaleIDs(records, after))
}

func TestReindexRunsInBackground(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := NewService(engine, nil)

	svc.Reindex([]SectionRecord{{ID: "a"}}, []string{"old"})
	assert.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.indexed) == 1 && len(engine.deleted) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReindexSkipsUnhealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	svc := NewService(engine, nil)
	svc.Reindex([]SectionRecord{{ID: "a"}}, nil)
	time.Sleep(20 * time.Millisecond)
	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.indexed)
}
