package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"proppy/api/internal/archive"
	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
	"proppy/api/internal/signing"
	"proppy/api/internal/store"
	"proppy/api/internal/util"
)

type SignInput struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	UserAgent string `json:"userAgent"`
}

func (in SignInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.Signature, validation.Required),
		validation.Field(&in.UserAgent, validation.Required),
	)
}

// Sign signs a version on behalf of the client. Version 0 means the latest;
// any other version must be the latest one. It succeeds once per proposal and
// writes the signature record, the signature block payload and the won
// status together or not at all.
func (s *Service) Sign(ctx context.Context, shareUID string, version int, input SignInput, ip string) (SharedView, error) {
	if err := input.Validate(); err != nil {
		metrics.SignaturesRecorded.WithLabelValues("invalid").Inc()
		return SharedView{}, validationFailed(err)
	}
	proposal, err := s.store.GetProposalByShareUID(ctx, shareUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SharedView{}, notFound("Shared proposal not found")
		}
		return SharedView{}, err
	}

	var (
		snapshot store.Snapshot
		record   store.SignatureRecord
	)
	signedAt := s.now()
	params := signing.Params{
		IP:             ip,
		SignatureImage: input.Signature,
		UserAgent:      input.UserAgent,
		NameTyped:      input.Name,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		proposal, err = s.store.LockProposal(ctx, proposal.ID)
		if err != nil {
			return err
		}
		if err := s.requireUnsigned(ctx, proposal.ID); err != nil {
			return err
		}
		snapshot, err = s.latestVersion(ctx, proposal.ID, version, "Only the latest version can be signed")
		if err != nil {
			return err
		}
		frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		signatureBlock, ok := blocks.Find(frozen, blocks.Signature)
		if !ok {
			return precondition("Proposal has no signature block")
		}

		canonical, err := signing.Encode(signableDocument(snapshot, frozen, params))
		if err != nil {
			return err
		}
		signature, err := s.signer.Sign(canonical)
		if err != nil {
			return fmt.Errorf("sign document: %w", err)
		}
		record = store.SignatureRecord{
			ID:            util.NewID("sig"),
			ProposalID:    proposal.ID,
			SnapshotID:    snapshot.ID,
			SchemaVersion: signing.SchemaVersion,
			Document:      canonical,
			Digest:        signing.Digest(canonical),
			Signature:     signature,
			CreatedAt:     signedAt,
		}
		if err := s.store.InsertSignature(ctx, record); err != nil {
			if errors.Is(err, store.ErrAlreadySigned) {
				return precondition("Proposal is signed")
			}
			return err
		}
		payload := signing.SignedBlockPayload(params, signature, signedAt)
		if err := s.store.SetFrozenBlockPayload(ctx, snapshot.ID, signatureBlock.UID, payload); err != nil {
			return fmt.Errorf("update signature block: %w", err)
		}

		proposal.Status = store.StatusWon
		proposal.ChangedStatusAt = &signedAt
		return s.store.UpdateProposal(ctx, proposal)
	})
	if err != nil {
		metrics.SignaturesRecorded.WithLabelValues("rejected").Inc()
		return SharedView{}, err
	}

	metrics.SignaturesRecorded.WithLabelValues("signed").Inc()
	logging.Log.WithFields(logrus.Fields{
		"proposal": proposal.ID,
		"version":  snapshot.Version,
		"digest":   record.Digest,
	}).Info("proposal signed")

	s.archiveSignature(record, snapshot.Version, input.Name)
	s.requestRender(proposal.ShareUID, snapshot.Version)
	s.notifyTeam(proposal.CompanyID,
		fmt.Sprintf("%s was signed", snapshot.Title),
		fmt.Sprintf("%s signed %s", input.Name, s.shareLink(proposal.ShareUID)))

	return s.sharedView(ctx, proposal, snapshot)
}

// latestVersion returns the newest snapshot of a proposal. A non-zero
// version must name that snapshot; an older existing version fails with
// stale as the message.
func (s *Service) latestVersion(ctx context.Context, proposalID string, version int, stale string) (store.Snapshot, error) {
	latest, err := s.store.GetLatestSnapshot(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Snapshot{}, notFound("Shared proposal not found")
	}
	if err != nil {
		return store.Snapshot{}, err
	}
	if version == 0 || version == latest.Version {
		return latest, nil
	}
	if _, err := s.store.GetSnapshotByVersion(ctx, proposalID, version); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Snapshot{}, notFound("Shared proposal not found")
		}
		return store.Snapshot{}, err
	}
	return store.Snapshot{}, precondition(stale)
}

func signableDocument(snapshot store.Snapshot, frozen []blocks.Block, params signing.Params) signing.Document {
	entries := make([]signing.BlockEntry, 0, len(frozen))
	for _, block := range frozen {
		entries = append(entries, signing.BlockEntry{Type: string(block.Type), Payload: block.Payload})
	}
	meta := signing.SnapshotMeta{
		Title:     snapshot.Title,
		Version:   snapshot.Version,
		CreatedAt: snapshot.CreatedAt.Unix(),
	}
	return signing.BuildDocument(meta, entries, params)
}

func (s *Service) archiveSignature(record store.SignatureRecord, version int, signer string) {
	if s.ledger == nil {
		return
	}
	entry := archive.Entry{
		ProposalID: record.ProposalID,
		SnapshotID: record.SnapshotID,
		Version:    version,
		Digest:     record.Digest,
		SignerName: signer,
		SignedAt:   record.CreatedAt,
		Document:   record.Document,
		Signature:  record.Signature,
	}
	logging.SafeGo("archive.signature", func() {
		commit, err := s.ledger.Record(entry)
		if err != nil {
			metrics.BackgroundFailures.WithLabelValues("archive").Inc()
			logging.Log.WithError(err).WithField("proposal", entry.ProposalID).Error("archive signed document")
			return
		}
		logging.Log.WithFields(logrus.Fields{"proposal": entry.ProposalID, "commit": commit.Hash}).Info("signed document archived")
	})
}

// Verification is the outcome of checking a stored signature.
type Verification struct {
	ProposalID    string           `json:"proposalId"`
	SnapshotID    string           `json:"snapshotId"`
	Digest        string           `json:"digest"`
	DigestMatches bool             `json:"digestMatches"`
	Document      signing.Document `json:"document"`
	Archived      bool             `json:"archived"`
	ArchiveCommit string           `json:"archiveCommit,omitempty"`
	ArchiveMatch  bool             `json:"archiveMatches"`
}

// VerifySignature re-checks the stored signature of a proposal against the
// service key and, when a ledger is configured, against the archived copy.
func (s *Service) VerifySignature(ctx context.Context, proposalID string) (Verification, error) {
	record, err := s.store.GetSignature(ctx, proposalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Verification{}, notFound("Proposal is not signed")
		}
		return Verification{}, err
	}
	doc, err := signing.Verify(record.Document, record.Signature, s.signer.PublicKey())
	if err != nil {
		return Verification{}, err
	}

	result := Verification{
		ProposalID:    record.ProposalID,
		SnapshotID:    record.SnapshotID,
		Digest:        record.Digest,
		DigestMatches: signing.Digest(record.Document) == record.Digest,
		Document:      doc,
	}
	if s.ledger == nil {
		return result, nil
	}
	entry, commit, err := s.ledger.Read(proposalID)
	if errors.Is(err, archive.ErrNotArchived) {
		return result, nil
	}
	if err != nil {
		return Verification{}, err
	}
	result.Archived = true
	result.ArchiveCommit = commit.Hash
	result.ArchiveMatch = bytes.Equal(entry.Document, record.Document) && bytes.Equal(entry.Signature, record.Signature)
	return result, nil
}

// VerifyOwnedSignature is VerifySignature restricted to the session's company.
func (s *Service) VerifyOwnedSignature(ctx context.Context, session Session, proposalID string) (Verification, error) {
	if _, err := s.ownedProposal(ctx, session, proposalID, false); err != nil {
		return Verification{}, err
	}
	return s.VerifySignature(ctx, proposalID)
}

// RecordPayment stores the charge of a completed client payment on the
// payment block of the latest version and marks the proposal won. Version
// follows the rules of Sign. A payment block accepts one charge.
func (s *Service) RecordPayment(ctx context.Context, shareUID string, version int, charge map[string]any) (SharedView, error) {
	if len(charge) == 0 {
		return SharedView{}, validationFailed(validation.Errors{"charge": validation.ErrRequired})
	}
	proposal, err := s.store.GetProposalByShareUID(ctx, shareUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SharedView{}, notFound("Shared proposal not found")
		}
		return SharedView{}, err
	}

	var snapshot store.Snapshot
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		proposal, err = s.store.LockProposal(ctx, proposal.ID)
		if err != nil {
			return err
		}
		snapshot, err = s.latestVersion(ctx, proposal.ID, version, "Only the latest version can be paid")
		if err != nil {
			return err
		}
		frozen, err := s.store.ListFrozenBlocks(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		paymentBlock, ok := blocks.Find(frozen, blocks.Payment)
		if !ok {
			return precondition("Proposal has no payment block")
		}
		if _, paid := paymentBlock.Payload["charge"]; paid {
			return precondition("Proposal is already paid")
		}
		payload := blocks.ClonePayload(paymentBlock.Payload)
		if payload == nil {
			payload = map[string]any{}
		}
		payload["charge"] = blocks.ClonePayload(charge)
		if err := s.store.SetFrozenBlockPayload(ctx, snapshot.ID, paymentBlock.UID, payload); err != nil {
			return err
		}

		if proposal.Status == store.StatusWon {
			return nil
		}
		now := s.now()
		proposal.Status = store.StatusWon
		proposal.ChangedStatusAt = &now
		return s.store.UpdateProposal(ctx, proposal)
	})
	if err != nil {
		return SharedView{}, err
	}

	logging.Log.WithFields(logrus.Fields{"proposal": proposal.ID, "version": snapshot.Version}).Info("payment recorded")
	s.requestRender(proposal.ShareUID, snapshot.Version)
	s.notifyTeam(proposal.CompanyID,
		fmt.Sprintf("%s was paid", snapshot.Title),
		fmt.Sprintf("Payment received on %s", s.shareLink(proposal.ShareUID)))
	return s.sharedView(ctx, proposal, snapshot)
}
