package search

import (
	"context"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/store"
)

// Service tries the engine first and falls back to the database.
type Service struct {
	engine   Engine
	fallback Fallback
}

// NewService creates a search service. engine may be nil when Meilisearch
// is not configured.
func NewService(engine Engine, fallback Fallback) *Service {
	return &Service{engine: engine, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logging.Log.WithError(err).Warn("search: engine error, falling back to database")
	}
	if s.fallback == nil {
		return Response{Results: []store.SectionHit{}, Query: q.Text}
	}

	results, err := s.fallback.SearchSections(ctx, q.CompanyID, q.Text, q.Limit)
	if err != nil {
		logging.Log.WithError(err).Error("search: database fallback failed")
		return Response{Results: []store.SectionHit{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: len(results), Query: q.Text}
}

// Records builds the index documents for a proposal's live blocks.
func Records(companyID, proposalID, proposalTitle string, items []blocks.Block) []SectionRecord {
	sections := blocks.SearchContent(items)
	out := make([]SectionRecord, 0, len(sections))
	for _, section := range sections {
		out = append(out, SectionRecord{
			ID:            section.UID,
			CompanyID:     companyID,
			ProposalID:    proposalID,
			ProposalTitle: proposalTitle,
			Level:         string(section.Level),
			Title:         section.Title,
			Content:       section.Content,
		})
	}
	return out
}

// Reindex pushes current and removes stale section documents in the
// background. staleIDs are uids that were indexed before and no longer head
// a section.
func (s *Service) Reindex(records []SectionRecord, staleIDs []string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	logging.SafeGo("search.reindex", func() {
		if err := s.engine.IndexSections(records); err != nil {
			logging.Log.WithError(err).Warn("search: index sections")
		}
		for _, id := range staleIDs {
			if err := s.engine.DeleteSection(id); err != nil {
				logging.Log.WithError(err).WithField("section", id).Warn("search: delete section")
			}
		}
	})
}

// StaleIDs returns section ids present in before but not in after.
func StaleIDs(before, after []SectionRecord) []string {
	keep := make(map[string]bool, len(after))
	for _, record := range after {
		keep[record.ID] = true
	}
	out := make([]string, 0)
	for _, record := range before {
		if !keep[record.ID] {
			out = append(out, record.ID)
		}
	}
	return out
}

func nonNil(r []store.SectionHit) []store.SectionHit {
	if r == nil {
		return []store.SectionHit{}
	}
	return r
}
