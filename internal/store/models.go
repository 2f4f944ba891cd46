package store

import (
	"database/sql"
	"errors"
	"time"

	"proppy/api/internal/blocks"
)

// ErrAlreadySigned is returned when a second signature is recorded for a
// proposal.
var ErrAlreadySigned = errors.New("proposal already signed")

// ErrNotFound is the not-found error of every lookup. It is sql.ErrNoRows
// so callers can match either.
var ErrNotFound = sql.ErrNoRows

// ErrConflict is returned when a write collides with a unique key.
var ErrConflict = errors.New("unique key conflict")

func nowUTC() time.Time {
	return time.Now().UTC()
}

const (
	StatusDraft = "draft"
	StatusSent  = "sent"
	StatusWon   = "won"
	StatusLost  = "lost"
	StatusTrash = "trash"
)

// IsActiveStatus reports whether proposals in status count against the
// tenant's plan ceiling.
func IsActiveStatus(status string) bool {
	return status == StatusDraft || status == StatusSent
}

func ValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusSent, StatusWon, StatusLost, StatusTrash:
		return true
	}
	return false
}

type Company struct {
	ID                 string
	Name               string
	TrialExpiresAt     *time.Time
	SubscriptionStatus string
	SubscriptionPlan   string
	CreatedAt          time.Time
}

type User struct {
	ID         string
	CompanyID  string
	Username   string
	Email      string
	IsActive   bool
	IsDisabled bool
	CreatedAt  time.Time
}

// Client is a customer of a company. Contacts collects every address a
// proposal for the client was emailed to.
type Client struct {
	ID        string
	CompanyID string
	Name      string
	Contacts  []string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Proposal struct {
	ID              string
	CompanyID       string
	ClientID        *string
	ShareUID        string
	Title           string
	Tags            []string
	Status          string
	CoverImageURL   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ChangedStatusAt *time.Time
}

// Block is a live block row. ProposalID is nil while the block is detached;
// DetachedFrom then names the proposal it was last attached to.
type Block struct {
	blocks.Block
	ProposalID   *string
	DetachedFrom *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot is a frozen, versioned copy of a proposal.
type Snapshot struct {
	ID            string
	ProposalID    string
	Version       int
	Title         string
	CoverImageURL string
	SentTo        []string
	Subject       string
	FromName      string
	Body          string
	SentAt        *time.Time
	CreatedAt     time.Time
}

type Thread struct {
	ID         string
	SnapshotID string
	BlockUID   string
	Resolved   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Comments   []Comment
}

type Comment struct {
	ID         string
	ThreadID   string
	Username   string
	Comment    string
	FromClient bool
	CreatedAt  time.Time
}

type Event struct {
	ID         string
	SnapshotID string
	ViewerUID  string
	Kind       string
	Payload    map[string]any
	CreatedAt  time.Time
}

type SignatureRecord struct {
	ID            string
	ProposalID    string
	SnapshotID    string
	SchemaVersion int
	Document      []byte
	Digest        string
	Signature     []byte
	CreatedAt     time.Time
}

type HookEndpoint struct {
	ID        string
	CompanyID string
	Trigger   string
	TargetURL string
	CreatedAt time.Time
}

// SectionHit is one match of a section search.
type SectionHit struct {
	UID           string `json:"uid"`
	ProposalID    string `json:"proposalId"`
	ProposalTitle string `json:"proposalTitle"`
	Level         string `json:"level"`
	Title         string `json:"title"`
	Content       string `json:"content,omitempty"`
}
