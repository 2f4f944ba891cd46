package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
	"proppy/api/internal/search"
	"proppy/api/internal/store"
	"proppy/api/internal/triggers"
	"proppy/api/internal/util"
)

// ProposalDetail is a live proposal with its attached blocks in order.
type ProposalDetail struct {
	Proposal store.Proposal
	Blocks   []blocks.Block
	Signed   bool
}

type SaveProposalInput struct {
	Title         string         `json:"title"`
	Tags          []string       `json:"tags"`
	CoverImageURL string         `json:"coverImageUrl"`
	ClientID      *string        `json:"clientId"`
	ClientName    *string        `json:"clientName"`
	Blocks        []blocks.Block `json:"blocks"`
}

func (in SaveProposalInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Length(0, 255)),
		validation.Field(&in.Tags, validation.Each(validation.Required, validation.Length(1, 64))),
		validation.Field(&in.ClientName, validation.Length(0, 64)),
		validation.Field(&in.Blocks, validation.Each(validation.By(validBlock))),
	)
}

func validBlock(value any) error {
	block, ok := value.(blocks.Block)
	if !ok {
		return errors.New("must be a block")
	}
	if !block.Type.Valid() {
		return fmt.Errorf("unknown block type %q", block.Type)
	}
	return nil
}

const shareTokenAttempts = 3

// CreateProposal starts an empty draft with a section header and a paragraph.
func (s *Service) CreateProposal(ctx context.Context, session Session, title string) (ProposalDetail, error) {
	now := s.now()
	proposal := store.Proposal{
		ID:        util.NewID("prop"),
		CompanyID: session.CompanyID,
		Title:     strings.TrimSpace(title),
		Tags:      []string{},
		Status:    store.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	initial := []blocks.Block{
		{UID: util.NewBlockUID(), Type: blocks.Section, Payload: blocks.DefaultPayload(blocks.Section), Ordering: 0},
		{UID: util.NewBlockUID(), Type: blocks.Paragraph, Payload: blocks.DefaultPayload(blocks.Paragraph), Ordering: 1},
	}

	if err := s.insertProposal(ctx, &proposal, initial); err != nil {
		return ProposalDetail{}, err
	}

	s.fire(triggers.ProposalCreated, proposal.CompanyID, map[string]any{"id": proposal.ID})
	logging.Log.WithFields(logrus.Fields{"proposal": proposal.ID, "company": proposal.CompanyID}).Info("proposal created")
	return ProposalDetail{Proposal: proposal, Blocks: initial}, nil
}

// insertProposal stores a new proposal and its blocks, drawing a fresh share
// token when the first one collides.
func (s *Service) insertProposal(ctx context.Context, proposal *store.Proposal, items []blocks.Block) error {
	var err error
	for attempt := 0; attempt < shareTokenAttempts; attempt++ {
		proposal.ShareUID = util.NewShareToken()
		err = s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.store.InsertProposal(ctx, *proposal); err != nil {
				return err
			}
			return s.store.SaveBlocks(ctx, proposal.ID, items)
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *Service) GetProposal(ctx context.Context, session Session, proposalID string) (ProposalDetail, error) {
	proposal, err := s.ownedProposal(ctx, session, proposalID, false)
	if err != nil {
		return ProposalDetail{}, err
	}
	return s.proposalDetail(ctx, proposal)
}

func (s *Service) proposalDetail(ctx context.Context, proposal store.Proposal) (ProposalDetail, error) {
	rows, err := s.store.ListBlocks(ctx, proposal.ID)
	if err != nil {
		return ProposalDetail{}, err
	}
	signed, err := s.store.IsSigned(ctx, proposal.ID)
	if err != nil {
		return ProposalDetail{}, err
	}
	return ProposalDetail{Proposal: proposal, Blocks: liveBlocks(rows), Signed: signed}, nil
}

func (s *Service) ListProposals(ctx context.Context, session Session) ([]store.Proposal, error) {
	return s.store.ListProposals(ctx, session.CompanyID)
}

// SaveProposal applies an editor save: metadata plus the full block list.
// Blocks missing from the list are detached, not deleted, and come back when
// a later save names their uid again.
func (s *Service) SaveProposal(ctx context.Context, session Session, proposalID string, input SaveProposalInput) (ProposalDetail, error) {
	if err := input.Validate(); err != nil {
		return ProposalDetail{}, validationFailed(err)
	}
	incoming := make([]blocks.Block, len(input.Blocks))
	for i, block := range input.Blocks {
		if block.UID == "" {
			block.UID = util.NewBlockUID()
		}
		incoming[i] = block
	}

	var (
		proposal store.Proposal
		before   []blocks.Block
		result   blocks.MergeResult
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		proposal, err = s.ownedProposal(ctx, session, proposalID, true)
		if err != nil {
			return err
		}
		if err := s.requireUnsigned(ctx, proposal.ID); err != nil {
			return err
		}
		if proposal.Status == store.StatusWon {
			return precondition("Won proposals cannot be edited")
		}
		clientID, err := s.proposalClient(ctx, proposal.CompanyID, input.ClientID, input.ClientName)
		if err != nil {
			return err
		}

		rows, err := s.store.ListBlocks(ctx, proposal.ID)
		if err != nil {
			return err
		}
		before = liveBlocks(rows)

		pool, err := s.detachedPool(ctx, session, proposal.ID, before, incoming)
		if err != nil {
			return err
		}
		result = blocks.Merge(before, func(uid string) (blocks.Block, bool) {
			block, ok := pool[uid]
			return block, ok
		}, incoming)

		if err := s.store.SaveBlocks(ctx, proposal.ID, result.Merged); err != nil {
			return fmt.Errorf("save blocks: %w", err)
		}
		if err := s.store.DetachBlocks(ctx, proposal.ID, result.Detached); err != nil {
			return fmt.Errorf("detach blocks: %w", err)
		}

		proposal.Title = strings.TrimSpace(input.Title)
		proposal.Tags = nonNilTags(input.Tags)
		proposal.CoverImageURL = input.CoverImageURL
		proposal.ClientID = clientID
		proposal.UpdatedAt = s.now()
		return s.store.UpdateProposal(ctx, proposal)
	})
	if err != nil {
		return ProposalDetail{}, err
	}

	for action, count := range result.Counts() {
		metrics.BlockMergeDecisions.WithLabelValues(string(action)).Add(float64(count))
	}
	previous := search.Records(proposal.CompanyID, proposal.ID, proposal.Title, before)
	current := search.Records(proposal.CompanyID, proposal.ID, proposal.Title, result.Merged)
	s.search.Reindex(current, search.StaleIDs(previous, current))

	return ProposalDetail{Proposal: proposal, Blocks: result.Merged}, nil
}

// detachedPool finds the stored blocks that incoming names but that are not
// attached to the proposal. Only detached blocks of the same company can be
// reattached; a uid attached to another proposal is rejected.
func (s *Service) detachedPool(ctx context.Context, session Session, proposalID string, attached, incoming []blocks.Block) (map[string]blocks.Block, error) {
	current := make(map[string]bool, len(attached))
	for _, block := range attached {
		current[block.UID] = true
	}

	pool := map[string]blocks.Block{}
	for _, block := range incoming {
		if current[block.UID] {
			continue
		}
		row, err := s.store.GetBlock(ctx, block.UID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if row.ProposalID != nil {
			return nil, validationFailed(fmt.Errorf("block %s belongs to another proposal", block.UID))
		}
		if row.DetachedFrom != nil && *row.DetachedFrom != proposalID {
			owner, err := s.store.GetProposal(ctx, *row.DetachedFrom)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			if err == nil && owner.CompanyID != session.CompanyID {
				return nil, validationFailed(fmt.Errorf("block %s belongs to another proposal", block.UID))
			}
		}
		pool[block.UID] = row.Block
	}
	return pool, nil
}

func nonNilTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// ChangeStatus forces a status. Moving from an inactive to an active status
// consumes a plan slot and is gated by publish eligibility.
func (s *Service) ChangeStatus(ctx context.Context, session Session, proposalID, status string) (store.Proposal, error) {
	if err := validation.Validate(status, validation.Required, validation.In(
		store.StatusDraft, store.StatusSent, store.StatusWon, store.StatusLost, store.StatusTrash,
	)); err != nil {
		return store.Proposal{}, validationFailed(validation.Errors{"status": err})
	}

	proposal, changed, err := s.setStatus(ctx, session, proposalID, status)
	if err != nil {
		return store.Proposal{}, err
	}
	if changed {
		s.fire(triggers.ProposalMovedTo, proposal.CompanyID, map[string]any{
			"id":     proposal.ID,
			"title":  proposal.Title,
			"status": proposal.Status,
		})
	}
	return proposal, nil
}

// MarkAsSent records that the proposal was delivered outside the product.
func (s *Service) MarkAsSent(ctx context.Context, session Session, proposalID string) (store.Proposal, error) {
	proposal, _, err := s.setStatus(ctx, session, proposalID, store.StatusSent)
	return proposal, err
}

func (s *Service) setStatus(ctx context.Context, session Session, proposalID, status string) (store.Proposal, bool, error) {
	var (
		proposal store.Proposal
		changed  bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		proposal, err = s.ownedProposal(ctx, session, proposalID, true)
		if err != nil {
			return err
		}
		if err := s.requireUnsigned(ctx, proposal.ID); err != nil {
			return err
		}
		if proposal.Status == status {
			return nil
		}
		if err := s.transition(ctx, &proposal, status); err != nil {
			return err
		}
		changed = true
		return s.store.UpdateProposal(ctx, proposal)
	})
	return proposal, changed, err
}

// transition moves proposal to status in memory after the eligibility check.
func (s *Service) transition(ctx context.Context, proposal *store.Proposal, status string) error {
	if store.IsActiveStatus(status) && !store.IsActiveStatus(proposal.Status) {
		decision, err := s.publish.CanActivate(ctx, proposal.CompanyID)
		if err != nil {
			return err
		}
		if !decision.Allowed() {
			return publishBlocked(decision)
		}
	}
	now := s.now()
	proposal.Status = status
	proposal.ChangedStatusAt = &now
	return nil
}

// DeleteProposal permanently removes a trashed, unsigned proposal with its
// snapshots, conversations, events and every block it ever owned.
func (s *Service) DeleteProposal(ctx context.Context, session Session, proposalID string) error {
	var (
		proposal store.Proposal
		before   []blocks.Block
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		proposal, err = s.ownedProposal(ctx, session, proposalID, true)
		if err != nil {
			return err
		}
		if proposal.Status != store.StatusTrash {
			return precondition("Only trashed proposals can be deleted")
		}
		if err := s.requireUnsigned(ctx, proposal.ID); err != nil {
			return err
		}
		rows, err := s.store.ListBlocks(ctx, proposal.ID)
		if err != nil {
			return err
		}
		before = liveBlocks(rows)
		return s.store.DeleteProposal(ctx, proposal.ID)
	})
	if err != nil {
		return err
	}

	stale := search.StaleIDs(search.Records(proposal.CompanyID, proposal.ID, proposal.Title, before), nil)
	s.search.Reindex(nil, stale)
	logging.Log.WithField("proposal", proposal.ID).Info("proposal deleted")
	return nil
}

// Duplicate copies a proposal's metadata and blocks into a new draft.
func (s *Service) Duplicate(ctx context.Context, session Session, proposalID string) (ProposalDetail, error) {
	source, err := s.GetProposal(ctx, session, proposalID)
	if err != nil {
		return ProposalDetail{}, err
	}

	now := s.now()
	copied := store.Proposal{
		ID:            util.NewID("prop"),
		CompanyID:     source.Proposal.CompanyID,
		ClientID:      source.Proposal.ClientID,
		Title:         "Copy of " + source.Proposal.Title,
		Tags:          append([]string{}, source.Proposal.Tags...),
		Status:        store.StatusDraft,
		CoverImageURL: source.Proposal.CoverImageURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	items := blocks.Duplicate(source.Blocks, util.NewBlockUID)
	if err := s.insertProposal(ctx, &copied, items); err != nil {
		return ProposalDetail{}, err
	}

	s.search.Reindex(search.Records(copied.CompanyID, copied.ID, copied.Title, items), nil)
	s.fire(triggers.ProposalDuplicated, copied.CompanyID, map[string]any{
		"id":    copied.ID,
		"title": copied.Title,
	})
	return ProposalDetail{Proposal: copied, Blocks: items}, nil
}
