package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"proppy/api/internal/store"
	"proppy/api/internal/util"
)

type PostCommentInput struct {
	ThreadID string `json:"threadId"`
	BlockUID string `json:"blockUid"`
	Username string `json:"username"`
	Comment  string `json:"comment"`
	Version  int    `json:"version"`
}

func (in PostCommentInput) validate(anonymous bool) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Comment, validation.Required, validation.Length(1, 5000)),
		validation.Field(&in.BlockUID, validation.When(in.ThreadID == "", validation.Required.Error("a thread or block id is required"))),
		validation.Field(&in.Username, validation.When(anonymous, validation.Required.Error("username is required for anonymous commenters"))),
		validation.Field(&in.Version, validation.Min(0)),
	)
}

// PostComment adds a comment on a frozen version. Viewer is nil for
// anonymous clients; a viewer from another company comments as a client.
// Replies go to an unresolved thread of the same version; otherwise the
// block's open thread is used, or a new one started.
func (s *Service) PostComment(ctx context.Context, viewer *Session, shareUID string, input PostCommentInput) ([]store.Thread, error) {
	proposal, snapshot, err := s.resolveShared(ctx, shareUID, input.Version)
	if err != nil {
		return nil, err
	}
	if viewer != nil && viewer.CompanyID != proposal.CompanyID {
		viewer = nil
	}
	if err := input.validate(viewer == nil); err != nil {
		return nil, validationFailed(err)
	}

	username := strings.TrimSpace(input.Username)
	if viewer != nil {
		username = viewer.Username
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		thread, err := s.commentThread(ctx, snapshot, input)
		if err != nil {
			return err
		}
		return s.store.InsertComment(ctx, store.Comment{
			ID:         util.NewID("cmt"),
			ThreadID:   thread.ID,
			Username:   username,
			Comment:    input.Comment,
			FromClient: viewer == nil,
			CreatedAt:  s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	if viewer == nil {
		s.notifyTeam(proposal.CompanyID,
			fmt.Sprintf("New comment on %s", snapshot.Title),
			fmt.Sprintf("%s commented: %s (%s)", username, input.Comment, s.shareLink(proposal.ShareUID)))
	}
	return s.store.ListThreads(ctx, snapshot.ID)
}

func (s *Service) commentThread(ctx context.Context, snapshot store.Snapshot, input PostCommentInput) (store.Thread, error) {
	if input.ThreadID != "" {
		thread, err := s.store.GetThread(ctx, input.ThreadID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Thread{}, err
		}
		if err != nil || thread.SnapshotID != snapshot.ID || thread.Resolved {
			return store.Thread{}, notFound("Thread not found")
		}
		return thread, nil
	}

	frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
	if err != nil {
		return store.Thread{}, err
	}
	found := false
	for _, block := range frozen {
		if block.UID == input.BlockUID {
			found = true
			break
		}
	}
	if !found {
		return store.Thread{}, notFound("Block not found")
	}

	thread, err := s.store.FindThread(ctx, snapshot.ID, input.BlockUID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Thread{}, err
	}

	now := s.now()
	thread = store.Thread{
		ID:         util.NewID("thr"),
		SnapshotID: snapshot.ID,
		BlockUID:   input.BlockUID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertThread(ctx, thread); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Thread{}, precondition("The block's thread changed, please retry")
		}
		return store.Thread{}, err
	}
	return thread, nil
}

// ResolveThread closes a thread on one of the session company's proposals.
func (s *Service) ResolveThread(ctx context.Context, session Session, threadID string) error {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Thread not found")
		}
		return err
	}
	snapshot, err := s.store.GetSnapshot(ctx, thread.SnapshotID)
	if err != nil {
		return err
	}
	if _, err := s.ownedProposal(ctx, session, snapshot.ProposalID, false); err != nil {
		return notFound("Thread not found")
	}
	return s.store.ResolveThread(ctx, thread.ID)
}
