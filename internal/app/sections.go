package app

import (
	"context"
	"errors"
	"strings"

	"proppy/api/internal/blocks"
	"proppy/api/internal/search"
	"proppy/api/internal/store"
	"proppy/api/internal/util"
)

// ImportSection clips the section starting at uid out of another proposal of
// the same company and returns fresh copies for the target proposal. The
// caller inserts them with its next save.
func (s *Service) ImportSection(ctx context.Context, session Session, targetID, uid string) ([]blocks.Block, error) {
	if _, err := s.ownedProposal(ctx, session, targetID, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(uid) == "" {
		return nil, validationFailed(errors.New("uidToImport is required"))
	}

	start, err := s.store.GetBlock(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("Section not found")
		}
		return nil, err
	}
	if start.ProposalID == nil {
		return nil, notFound("Section not found")
	}
	source, err := s.store.GetProposal(ctx, *start.ProposalID)
	if err != nil {
		return nil, err
	}
	if source.CompanyID != session.CompanyID {
		return nil, forbidden()
	}

	rows, err := s.store.ListBlocks(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	clipped, err := blocks.ExtractSection(liveBlocks(rows), uid, util.NewBlockUID)
	if errors.Is(err, blocks.ErrBlockNotFound) {
		return nil, notFound("Section not found")
	}
	return clipped, err
}

// SearchSections looks up importable sections across the company's
// proposals.
func (s *Service) SearchSections(ctx context.Context, session Session, query string, limit int) search.Response {
	query = strings.TrimSpace(query)
	if query == "" {
		return search.Response{Results: []store.SectionHit{}}
	}
	return s.search.Search(ctx, search.Query{Text: query, CompanyID: session.CompanyID, Limit: limit})
}
