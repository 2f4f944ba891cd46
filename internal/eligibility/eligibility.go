// Package eligibility decides whether a tenant may have another proposal in
// an active status, based on its trial and subscription.
package eligibility

import (
	"context"
	"fmt"
	"time"
)

type State string

const (
	CanPublish   State = "can_publish"
	TrialEnded   State = "trial_has_ended_please_subscribe"
	PlanTooSmall State = "plan_too_small_please_upgrade"
	UserInactive State = "user_inactive_cannot_publish"
)

const subscriptionCancelled = "cancelled"

type Subscription struct {
	Status string
	PlanID string
}

// Account is the tenant state the decision depends on.
type Account struct {
	CreatedAt      time.Time
	TrialExpiresAt *time.Time
	Subscription   *Subscription
}

type Source interface {
	Account(ctx context.Context, companyID string) (Account, error)
	CountActiveProposals(ctx context.Context, companyID string) (int, error)
}

// Decision carries the state and, for subscribed tenants, the plan ceiling.
type Decision struct {
	State   State `json:"publishState"`
	Ceiling int   `json:"ceiling,omitempty"`
}

func (d Decision) Allowed() bool {
	return d.State == CanPublish
}

type Provider struct {
	source      Source
	plans       Plans
	trialLength time.Duration
	now         func() time.Time
}

func NewProvider(source Source, plans Plans, trialLength time.Duration) *Provider {
	return &Provider{source: source, plans: plans, trialLength: trialLength, now: time.Now}
}

// WithClock replaces the provider's time source.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// TrialExpiry returns when the tenant's trial ends.
func (p *Provider) TrialExpiry(account Account) time.Time {
	if account.TrialExpiresAt != nil {
		return *account.TrialExpiresAt
	}
	return account.CreatedAt.Add(p.trialLength)
}

// CanActivate reports whether one more proposal may enter an active status.
func (p *Provider) CanActivate(ctx context.Context, companyID string) (Decision, error) {
	account, err := p.source.Account(ctx, companyID)
	if err != nil {
		return Decision{}, fmt.Errorf("load tenant account: %w", err)
	}
	return p.canActivate(ctx, companyID, account)
}

func (p *Provider) canActivate(ctx context.Context, companyID string, account Account) (Decision, error) {
	if p.now().Before(p.TrialExpiry(account)) {
		return Decision{State: CanPublish}, nil
	}
	if account.Subscription == nil {
		return Decision{State: TrialEnded}, nil
	}

	ceiling := p.plans.Ceiling(account.Subscription.PlanID)
	active, err := p.source.CountActiveProposals(ctx, companyID)
	if err != nil {
		return Decision{}, fmt.Errorf("count active proposals: %w", err)
	}
	if active < ceiling {
		return Decision{State: CanPublish, Ceiling: ceiling}, nil
	}
	return Decision{State: PlanTooSmall, Ceiling: ceiling}, nil
}

// PublishState is the state shown to a user about to share a proposal. A
// cancelled subscription blocks publishing regardless of the active count.
func (p *Provider) PublishState(ctx context.Context, companyID string, userActive bool) (Decision, error) {
	if !userActive {
		return Decision{State: UserInactive}, nil
	}
	account, err := p.source.Account(ctx, companyID)
	if err != nil {
		return Decision{}, fmt.Errorf("load tenant account: %w", err)
	}
	if p.now().Before(p.TrialExpiry(account)) {
		return Decision{State: CanPublish}, nil
	}
	if account.Subscription != nil && account.Subscription.Status == subscriptionCancelled {
		return Decision{State: PlanTooSmall, Ceiling: p.plans.Ceiling(account.Subscription.PlanID)}, nil
	}
	return p.canActivate(ctx, companyID, account)
}
