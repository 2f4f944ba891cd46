package app

import (
	"context"
	"errors"
	"slices"

	"github.com/sirupsen/logrus"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/search"
	"proppy/api/internal/store"
	"proppy/api/internal/triggers"
	"proppy/api/internal/util"
)

// Template is a shared proposal offered as a starting point to every company.
type Template struct {
	ShareUID string `json:"uid"`
	Title    string `json:"title"`
}

// ListTemplates returns the configured templates that have been shared.
func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	out := make([]Template, 0, len(s.config.TemplateShareUIDs))
	for _, shareUID := range s.config.TemplateShareUIDs {
		_, snapshot, err := s.resolveShared(ctx, shareUID, 0)
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			logging.Log.WithField("shareToken", shareUID).Warn("template is not shared")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Template{ShareUID: shareUID, Title: snapshot.Title})
	}
	return out, nil
}

// DuplicateTemplate copies the latest version of a template into a new draft
// of the session's company.
func (s *Service) DuplicateTemplate(ctx context.Context, session Session, shareUID string) (ProposalDetail, error) {
	if !slices.Contains(s.config.TemplateShareUIDs, shareUID) {
		return ProposalDetail{}, notFound("Template not found")
	}
	_, snapshot, err := s.resolveShared(ctx, shareUID, 0)
	if err != nil {
		return ProposalDetail{}, err
	}
	frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
	if err != nil {
		return ProposalDetail{}, err
	}
	items := blocks.Duplicate(frozen, util.NewBlockUID)
	for i := range items {
		if items[i].Type == blocks.Signature || items[i].Type == blocks.Payment {
			items[i].Payload = blocks.DefaultPayload(items[i].Type)
		}
	}

	now := s.now()
	proposal := store.Proposal{
		ID:            util.NewID("prop"),
		CompanyID:     session.CompanyID,
		Title:         snapshot.Title,
		Tags:          []string{},
		Status:        store.StatusDraft,
		CoverImageURL: snapshot.CoverImageURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.insertProposal(ctx, &proposal, items); err != nil {
		return ProposalDetail{}, err
	}

	s.search.Reindex(search.Records(proposal.CompanyID, proposal.ID, proposal.Title, items), nil)
	s.fire(triggers.ProposalCreated, proposal.CompanyID, map[string]any{"id": proposal.ID})
	logging.Log.WithFields(logrus.Fields{
		"proposal": proposal.ID,
		"template": shareUID,
	}).Info("template duplicated")
	return ProposalDetail{Proposal: proposal, Blocks: items}, nil
}
