package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sirupsen/logrus"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
	"proppy/api/internal/render"
	"proppy/api/internal/store"
	"proppy/api/internal/triggers"
	"proppy/api/internal/util"
)

// SharedView is the public read model of one frozen version.
type SharedView struct {
	Proposal    store.Proposal
	Snapshot    store.Snapshot
	Blocks      []blocks.Block
	Threads     []store.Thread
	IsLatest    bool
	Signed      bool
	CompanyName string
}

// Share freezes the proposal's current content as the next version.
//
// The first share of an inactive proposal needs publish eligibility; later
// shares of the same proposal do not.
func (s *Service) Share(ctx context.Context, session Session, proposalID string) (store.Snapshot, error) {
	var (
		proposal store.Proposal
		snapshot store.Snapshot
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

		previous, err := s.store.GetLatestSnapshot(ctx, proposal.ID)
		hasPrevious := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if !hasPrevious && !store.IsActiveStatus(proposal.Status) {
			decision, err := s.publish.PublishState(ctx, proposal.CompanyID, session.Active)
			if err != nil {
				return err
			}
			if !decision.Allowed() {
				return publishBlocked(decision)
			}
		}

		snapshot, err = s.freeze(ctx, proposal, previous.SentTo)
		return err
	})
	if err != nil {
		return store.Snapshot{}, err
	}

	metrics.SnapshotsFrozen.Inc()
	s.requestRender(proposal.ShareUID, snapshot.Version)
	s.fire(triggers.ProposalPublished, proposal.CompanyID, map[string]any{
		"id":      snapshot.ID,
		"version": snapshot.Version,
		"title":   snapshot.Title,
		"link":    s.shareLink(proposal.ShareUID),
	})
	logging.Log.WithFields(logrus.Fields{
		"proposal": proposal.ID,
		"version":  snapshot.Version,
	}).Info("proposal shared")
	return snapshot, nil
}

// freeze copies the attached blocks by value into a new snapshot. Must run
// inside a transaction holding the proposal lock.
func (s *Service) freeze(ctx context.Context, proposal store.Proposal, recipients []string) (store.Snapshot, error) {
	latest, err := s.store.MaxSnapshotVersion(ctx, proposal.ID)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("next version: %w", err)
	}
	rows, err := s.store.ListBlocks(ctx, proposal.ID)
	if err != nil {
		return store.Snapshot{}, err
	}
	frozen := liveBlocks(rows)

	snapshot := store.Snapshot{
		ID:            util.NewID("snap"),
		ProposalID:    proposal.ID,
		Version:       latest + 1,
		Title:         proposal.Title,
		CoverImageURL: proposal.CoverImageURL,
		SentTo:        append([]string{}, recipients...),
		CreatedAt:     s.now(),
	}
	if err := s.store.InsertSnapshot(ctx, snapshot, frozen); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Snapshot{}, precondition("Version already exists")
		}
		return store.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snapshot, nil
}

type ShareEmailInput struct {
	Emails   []string `json:"emails"`
	Subject  string   `json:"subject"`
	FromName string   `json:"from"`
	Body     string   `json:"body"`
}

func (in ShareEmailInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Emails, validation.Required, validation.Each(validation.Required, is.EmailFormat)),
		validation.Field(&in.Subject, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.FromName, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.Body, validation.Required),
	)
}

// ShareEmail records the email metadata on the latest version, marks the
// proposal sent and hands the message to the mailer. A version's email
// metadata is fixed once it has been sent.
func (s *Service) ShareEmail(ctx context.Context, session Session, proposalID string, input ShareEmailInput) (store.Snapshot, error) {
	if err := input.Validate(); err != nil {
		return store.Snapshot{}, validationFailed(err)
	}

	var (
		proposal store.Proposal
		snapshot store.Snapshot
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
		snapshot, err = s.store.GetLatestSnapshot(ctx, proposal.ID)
		if errors.Is(err, store.ErrNotFound) {
			return precondition("Proposal has not been shared yet")
		}
		if err != nil {
			return err
		}
		if snapshot.SentAt != nil {
			return precondition("This version was already emailed; share a new version first")
		}

		sentAt := s.now()
		snapshot.SentTo = uniqueEmails(input.Emails)
		snapshot.Subject = input.Subject
		snapshot.FromName = input.FromName
		snapshot.Body = input.Body
		snapshot.SentAt = &sentAt
		if err := s.store.UpdateSnapshotEmail(ctx, snapshot); err != nil {
			return err
		}
		if err := s.addClientContacts(ctx, proposal, snapshot.SentTo); err != nil {
			return fmt.Errorf("update client contacts: %w", err)
		}

		if proposal.Status == store.StatusSent {
			return nil
		}
		if err := s.transition(ctx, &proposal, store.StatusSent); err != nil {
			return err
		}
		return s.store.UpdateProposal(ctx, proposal)
	})
	if err != nil {
		return store.Snapshot{}, err
	}

	mail := ShareMail{
		To:       snapshot.SentTo,
		Subject:  snapshot.Subject,
		FromName: snapshot.FromName,
		Body:     snapshot.Body,
		ReplyTo:  session.Email,
		Link:     s.shareLink(proposal.ShareUID),
	}
	logging.SafeGo("mail.share", func() {
		if err := s.mailer.SendShare(context.Background(), mail); err != nil {
			metrics.BackgroundFailures.WithLabelValues("mail").Inc()
			logging.Log.WithError(err).WithField("proposal", proposal.ID).Warn("share email failed")
		}
	})
	return snapshot, nil
}

func uniqueEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if seen[strings.ToLower(email)] {
			continue
		}
		seen[strings.ToLower(email)] = true
		out = append(out, email)
	}
	return out
}

// resolveShared finds the proposal behind a share token and the requested
// version, or the latest one when version is 0.
func (s *Service) resolveShared(ctx context.Context, shareUID string, version int) (store.Proposal, store.Snapshot, error) {
	proposal, err := s.store.GetProposalByShareUID(ctx, shareUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Proposal{}, store.Snapshot{}, notFound("Shared proposal not found")
		}
		return store.Proposal{}, store.Snapshot{}, err
	}
	var snapshot store.Snapshot
	if version > 0 {
		snapshot, err = s.store.GetSnapshotByVersion(ctx, proposal.ID, version)
	} else {
		snapshot, err = s.store.GetLatestSnapshot(ctx, proposal.ID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Proposal{}, store.Snapshot{}, notFound("Shared proposal not found")
		}
		return store.Proposal{}, store.Snapshot{}, err
	}
	return proposal, snapshot, nil
}

// GetShared returns the shared page of a version; version 0 means latest.
func (s *Service) GetShared(ctx context.Context, shareUID string, version int) (SharedView, error) {
	proposal, snapshot, err := s.resolveShared(ctx, shareUID, version)
	if err != nil {
		return SharedView{}, err
	}
	return s.sharedView(ctx, proposal, snapshot)
}

func (s *Service) sharedView(ctx context.Context, proposal store.Proposal, snapshot store.Snapshot) (SharedView, error) {
	frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
	if err != nil {
		return SharedView{}, err
	}
	threads, err := s.store.ListThreads(ctx, snapshot.ID)
	if err != nil {
		return SharedView{}, err
	}
	latest, err := s.store.MaxSnapshotVersion(ctx, proposal.ID)
	if err != nil {
		return SharedView{}, err
	}
	signed, err := s.store.IsSigned(ctx, proposal.ID)
	if err != nil {
		return SharedView{}, err
	}
	view := SharedView{
		Proposal: proposal,
		Snapshot: snapshot,
		Blocks:   frozen,
		Threads:  threads,
		IsLatest: snapshot.Version == latest,
		Signed:   signed,
	}
	if company, err := s.store.GetCompany(ctx, proposal.CompanyID); err == nil {
		view.CompanyName = company.Name
	}
	return view, nil
}

// LoadSnapshot returns the printable content of a version.
func (s *Service) LoadSnapshot(ctx context.Context, shareUID string, version int) (render.Document, error) {
	proposal, snapshot, err := s.resolveShared(ctx, shareUID, version)
	if err != nil {
		return render.Document{}, err
	}
	frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
	if err != nil {
		return render.Document{}, err
	}
	return render.Document{
		ShareToken:    proposal.ShareUID,
		Version:       snapshot.Version,
		Title:         snapshot.Title,
		CoverImageURL: snapshot.CoverImageURL,
		CreatedAt:     snapshot.CreatedAt,
		Blocks:        frozen,
	}, nil
}

// SharedPage renders a version as a standalone HTML page.
func (s *Service) SharedPage(ctx context.Context, shareUID string, version int) (string, error) {
	doc, err := s.LoadSnapshot(ctx, shareUID, version)
	if err != nil {
		return "", err
	}
	return render.HTML(doc)
}

var errRenderingDisabled = errors.New("pdf rendering is not configured")

// SharedPDF returns the stored PDF of a version, printing it when missing.
func (s *Service) SharedPDF(ctx context.Context, shareUID string, version int) ([]byte, string, error) {
	if s.renderer == nil {
		return nil, "", errRenderingDisabled
	}
	_, snapshot, err := s.resolveShared(ctx, shareUID, version)
	if err != nil {
		return nil, "", err
	}
	data, err := s.renderer.Fetch(ctx, shareUID, snapshot.Version)
	if err != nil {
		return nil, "", err
	}
	return data, render.Filename(snapshot.Title), nil
}
