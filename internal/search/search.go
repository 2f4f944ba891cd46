package search

import (
	"context"

	"proppy/api/internal/store"
)

// SectionRecord is the document pushed to the section index, one per
// section or subsection of a live proposal.
type SectionRecord struct {
	ID            string `json:"id"`
	CompanyID     string `json:"companyId"`
	ProposalID    string `json:"proposalId"`
	ProposalTitle string `json:"proposalTitle"`
	Level         string `json:"level"`
	Title         string `json:"title"`
	Content       string `json:"content"`
}

// Query describes a section search request. CompanyID is mandatory; hits
// never cross tenants.
type Query struct {
	Text      string
	CompanyID string
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []store.SectionHit `json:"results"`
	Total   int                `json:"total"`
	Query   string             `json:"query"`
}

// Engine is a full-text backend for section search.
type Engine interface {
	Search(q Query) ([]store.SectionHit, int, error)
	Healthy() bool
	IndexSections(records []SectionRecord) error
	DeleteSection(id string) error
}

// Fallback answers searches when the engine is unavailable.
type Fallback interface {
	SearchSections(ctx context.Context, companyID, query string, limit int) ([]store.SectionHit, error)
}

const defaultLimit = 20
