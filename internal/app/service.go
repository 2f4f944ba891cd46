package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"proppy/api/internal/analytics"
	"proppy/api/internal/archive"
	"proppy/api/internal/auth"
	"proppy/api/internal/blocks"
	"proppy/api/internal/config"
	"proppy/api/internal/eligibility"
	"proppy/api/internal/logging"
	"proppy/api/internal/render"
	"proppy/api/internal/search"
	"proppy/api/internal/signing"
	"proppy/api/internal/store"
	"proppy/api/internal/triggers"
	"proppy/api/internal/util"
)

// Session is the authenticated team member behind a request.
type Session struct {
	UserID    string
	CompanyID string
	Username  string
	Email     string
	Active    bool
}

type dataStore interface {
	WithTx(context.Context, func(context.Context) error) error
	Ping(context.Context) error

	InsertCompany(context.Context, store.Company) error
	GetCompany(context.Context, string) (store.Company, error)
	InsertUser(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)
	CountActiveProposals(context.Context, string) (int, error)

	InsertClient(context.Context, store.Client) error
	GetClient(context.Context, string) (store.Client, error)
	FindClientByName(context.Context, string, string) (store.Client, error)
	ListClients(context.Context, string) ([]store.Client, error)
	UpdateClient(context.Context, store.Client) error
	DeleteClient(context.Context, string) error

	InsertProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	LockProposal(context.Context, string) (store.Proposal, error)
	GetProposalByShareUID(context.Context, string) (store.Proposal, error)
	ListProposals(context.Context, string) ([]store.Proposal, error)
	UpdateProposal(context.Context, store.Proposal) error
	DeleteProposal(context.Context, string) error

	ListBlocks(context.Context, string) ([]store.Block, error)
	GetBlock(context.Context, string) (store.Block, error)
	SaveBlocks(context.Context, string, []blocks.Block) error
	DetachBlocks(context.Context, string, []string) error

	MaxSnapshotVersion(context.Context, string) (int, error)
	InsertSnapshot(context.Context, store.Snapshot, []blocks.Block) error
	GetSnapshot(context.Context, string) (store.Snapshot, error)
	GetSnapshotByVersion(context.Context, string, int) (store.Snapshot, error)
	GetLatestSnapshot(context.Context, string) (store.Snapshot, error)
	ListSnapshots(context.Context, string) ([]store.Snapshot, error)
	UpdateSnapshotEmail(context.Context, store.Snapshot) error
	ListFrozenBlocks(context.Context, string) ([]blocks.Block, error)
	SetFrozenBlockPayload(context.Context, string, string, map[string]any) error

	FindThread(context.Context, string, string) (store.Thread, error)
	GetThread(context.Context, string) (store.Thread, error)
	InsertThread(context.Context, store.Thread) error
	ResolveThread(context.Context, string) error
	InsertComment(context.Context, store.Comment) error
	ListThreads(context.Context, string) ([]store.Thread, error)
	CountComments(context.Context, string) (int, error)

	InsertEvent(context.Context, store.Event) error
	ListEvents(context.Context, string) ([]store.Event, error)

	InsertSignature(context.Context, store.SignatureRecord) error
	GetSignature(context.Context, string) (store.SignatureRecord, error)
	IsSigned(context.Context, string) (bool, error)

	InsertHookEndpoint(context.Context, store.HookEndpoint) error
	DeleteHookEndpoint(context.Context, string, string) error
	ListHookEndpoints(context.Context, string, string) ([]store.HookEndpoint, error)

	SearchSections(context.Context, string, string, int) ([]store.SectionHit, error)
}

// AnalyticsCache stores reconstructed summaries per snapshot.
type AnalyticsCache interface {
	Get(ctx context.Context, snapshotID string) (analytics.Summary, bool, error)
	Set(ctx context.Context, snapshotID string, summary analytics.Summary) error
	Invalidate(ctx context.Context, snapshotID string) error
}

// ErrSigningKeyRequired is returned by New in production when no signing
// key is configured.
var ErrSigningKeyRequired = errors.New("a signing key is required in production (set SIGNING_KEY_PATH)")

// Dependencies are the optional collaborators of the service. Nil members
// disable the feature they back, except Signer and Mailer which fall back to
// an ephemeral key and a log-only mailer. The ephemeral key is refused in
// production.
type Dependencies struct {
	Signer        signing.Signer
	Ledger        *archive.Ledger
	Printer       render.Printer
	Objects       render.ObjectStore
	SearchEngine  search.Engine
	Cache         AnalyticsCache
	Mailer        Mailer
	Plans         *eligibility.Plans
	WebhookClient *http.Client
}

type Service struct {
	config    config.Config
	store     dataStore
	publish   *eligibility.Provider
	signer    signing.Signer
	ledger    *archive.Ledger
	renderer  *render.Prerenderer
	search    *search.Service
	triggers  *triggers.Dispatcher
	analytics *analytics.Reconstructor
	cache     AnalyticsCache
	mailer    Mailer
	now       func() time.Time
}

func New(cfg config.Config, data dataStore, deps Dependencies) (*Service, error) {
	signer := deps.Signer
	if signer == nil {
		if cfg.Env == "production" {
			return nil, ErrSigningKeyRequired
		}
		keys, err := signing.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		logging.Log.Warn("no signing key configured, using an ephemeral key")
		signer = keys
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = LogMailer{}
	}
	plans := eligibility.DefaultPlans()
	if deps.Plans != nil {
		plans = *deps.Plans
	}

	s := &Service{
		config:    cfg,
		store:     data,
		signer:    signer,
		ledger:    deps.Ledger,
		search:    search.NewService(deps.SearchEngine, data),
		triggers:  triggers.NewDispatcher(),
		analytics: analytics.NewReconstructor(cfg.IgnoredIPs),
		cache:     deps.Cache,
		mailer:    mailer,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.publish = eligibility.NewProvider(tenantAccounts{store: data}, plans, cfg.TrialLength).
		WithClock(func() time.Time { return s.now() })
	if deps.Printer != nil && deps.Objects != nil {
		s.renderer = render.NewPrerenderer(s, deps.Printer, deps.Objects, cfg.PDFBaseURL)
	}

	s.triggers.SubscribeAll(triggers.LogSubscriber())
	s.triggers.SubscribeAll(triggers.NewWebhooks(data, deps.WebhookClient))
	return s, nil
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PublicKey() []byte {
	return s.signer.PublicKey()
}

// tenantAccounts adapts the company table to the eligibility source.
type tenantAccounts struct {
	store dataStore
}

func (t tenantAccounts) Account(ctx context.Context, companyID string) (eligibility.Account, error) {
	company, err := t.store.GetCompany(ctx, companyID)
	if err != nil {
		return eligibility.Account{}, err
	}
	account := eligibility.Account{
		CreatedAt:      company.CreatedAt,
		TrialExpiresAt: company.TrialExpiresAt,
	}
	if company.SubscriptionStatus != "" {
		account.Subscription = &eligibility.Subscription{
			Status: company.SubscriptionStatus,
			PlanID: company.SubscriptionPlan,
		}
	}
	return account, nil
}

func (t tenantAccounts) CountActiveProposals(ctx context.Context, companyID string) (int, error) {
	return t.store.CountActiveProposals(ctx, companyID)
}

// Bootstrap creates a company with one active user and returns a bearer
// token for that user.
func (s *Service) Bootstrap(ctx context.Context, companyName, username, email string) (Session, string, error) {
	now := s.now()
	company := store.Company{
		ID:        util.NewID("co"),
		Name:      strings.TrimSpace(companyName),
		CreatedAt: now,
	}
	user := store.User{
		ID:        util.NewID("usr"),
		CompanyID: company.ID,
		Username:  strings.TrimSpace(username),
		Email:     strings.TrimSpace(email),
		IsActive:  true,
		CreatedAt: now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertCompany(ctx, company); err != nil {
			return err
		}
		return s.store.InsertUser(ctx, user)
	})
	if err != nil {
		return Session{}, "", err
	}
	session := sessionFromUser(user)
	token, err := s.IssueToken(session)
	return session, token, err
}

func (s *Service) IssueToken(session Session) (string, error) {
	return auth.IssueToken([]byte(s.config.JWTSecret), session.UserID, session.CompanyID, util.NewID("jti"), s.config.AccessTTL)
}

// SessionFromToken resolves a bearer token to the user it was issued for.
// Disabled users and users moved to another company are rejected.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.config.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.IsDisabled || user.CompanyID != claims.Company {
		return Session{}, auth.ErrInvalidToken
	}
	return sessionFromUser(user), nil
}

func sessionFromUser(user store.User) Session {
	return Session{
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Username:  user.Username,
		Email:     user.Email,
		Active:    user.IsActive && !user.IsDisabled,
	}
}

// PublishState reports the eligibility shown to the user before sharing.
func (s *Service) PublishState(ctx context.Context, session Session) (eligibility.Decision, error) {
	return s.publish.PublishState(ctx, session.CompanyID, session.Active)
}

// ownedProposal loads a proposal of the session's company. Proposals of other
// companies are reported as missing.
func (s *Service) ownedProposal(ctx context.Context, session Session, proposalID string, lock bool) (store.Proposal, error) {
	load := s.store.GetProposal
	if lock {
		load = s.store.LockProposal
	}
	proposal, err := load(ctx, proposalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Proposal{}, notFound("Proposal not found")
		}
		return store.Proposal{}, err
	}
	if proposal.CompanyID != session.CompanyID {
		return store.Proposal{}, notFound("Proposal not found")
	}
	return proposal, nil
}

func (s *Service) requireUnsigned(ctx context.Context, proposalID string) error {
	signed, err := s.store.IsSigned(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("check signature: %w", err)
	}
	if signed {
		return precondition("Proposal is signed")
	}
	return nil
}

func (s *Service) shareLink(shareUID string) string {
	return fmt.Sprintf("%s/p/%s", strings.TrimRight(s.config.BaseURL, "/"), shareUID)
}

func (s *Service) fire(kind triggers.Kind, companyID string, payload map[string]any) {
	s.triggers.Fire(triggers.Event{
		Kind:       kind,
		CompanyID:  companyID,
		Payload:    payload,
		OccurredAt: s.now(),
	})
}

func (s *Service) requestRender(shareUID string, version int) {
	if s.renderer == nil {
		logging.Log.WithFields(logrus.Fields{"shareToken": shareUID, "version": version}).Debug("pdf rendering disabled")
		return
	}
	s.renderer.RequestRender(shareUID, version)
}

// Triggers exposes the dispatcher so callers can add subscribers.
func (s *Service) Triggers() *triggers.Dispatcher {
	return s.triggers
}

func liveBlocks(rows []store.Block) []blocks.Block {
	out := make([]blocks.Block, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Block.Clone())
	}
	blocks.SortByOrdering(out)
	return out
}
