package eligibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	account Account
	active  int
	err     error
}

func (f *fakeSource) Account(context.Context, string) (Account, error) {
	return f.account, f.err
}

func (f *fakeSource) CountActiveProposals(context.Context, string) (int, error) {
	return f.active, nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func provider(source Source) *Provider {
	return NewProvider(source, DefaultPlans(), 14*24*time.Hour).WithClock(func() time.Time { return now })
}

func TestCanActivateDuringTrial(t *testing.T) {
	source := &fakeSource{account: Account{CreatedAt: now.Add(-time.Hour)}, active: 1000}
	decision, err := provider(source).CanActivate(context.Background(), "cmp_1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed())
}

func TestCanActivateAfterTrial(t *testing.T) {
	expired := Account{CreatedAt: now.Add(-30 * 24 * time.Hour)}

	cases := []struct {
		name         string
		subscription *Subscription
		active       int
		want         State
		ceiling      int
	}{
		{"no subscription", nil, 0, TrialEnded, 0},
		{"under ceiling", &Subscription{Status: "active", PlanID: "basic"}, 4, CanPublish, 5},
		{"at ceiling", &Subscription{Status: "active", PlanID: "basic-yearly"}, 5, PlanTooSmall, 5},
		{"professional", &Subscription{Status: "active", PlanID: "professional"}, 29, CanPublish, 30},
		{"unknown plan", &Subscription{Status: "active", PlanID: "legacy"}, 500, CanPublish, 100000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			account := expired
			account.Subscription = tc.subscription
			decision, err := provider(&fakeSource{account: account, active: tc.active}).CanActivate(context.Background(), "cmp_1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, decision.State)
			assert.Equal(t, tc.ceiling, decision.Ceiling)
		})
	}
}

func TestTrialOverride(t *testing.T) {
	later := now.Add(time.Hour)
	source := &fakeSource{account: Account{CreatedAt: now.Add(-365 * 24 * time.Hour), TrialExpiresAt: &later}}
	decision, err := provider(source).CanActivate(context.Background(), "cmp_1")
	require.NoError(t, err)
	assert.Equal(t, CanPublish, decision.State)
}

func TestPublishState(t *testing.T) {
	expired := Account{CreatedAt: now.Add(-30 * 24 * time.Hour)}

	decision, err := provider(&fakeSource{account: expired}).PublishState(context.Background(), "cmp_1", false)
	require.NoError(t, err)
	assert.Equal(t, UserInactive, decision.State)

	cancelled := expired
	cancelled.Subscription = &Subscription{Status: "cancelled", PlanID: "professional"}
	decision, err = provider(&fakeSource{account: cancelled}).PublishState(context.Background(), "cmp_1", true)
	require.NoError(t, err)
	assert.Equal(t, PlanTooSmall, decision.State)

	decision, err = provider(&fakeSource{account: expired}).PublishState(context.Background(), "cmp_1", true)
	require.NoError(t, err)
	assert.Equal(t, TrialEnded, decision.State)
}

func TestSourceErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	_, err := provider(&fakeSource{err: boom}).CanActivate(context.Background(), "cmp_1")
	assert.ErrorIs(t, err, boom)
}

func TestLoadPlans(t *testing.T) {
	plans, err := LoadPlans("")
	require.NoError(t, err)
	assert.Equal(t, 5, plans.Ceiling("basic"))

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: starter
    aliases: [starter-yearly]
    active_limit: 3
`), 0o600))
	plans, err = LoadPlans(path)
	require.NoError(t, err)
	assert.Equal(t, 3, plans.Ceiling("starter-yearly"))
	assert.Equal(t, 100000, plans.Ceiling("other"))

	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - id: broken\n"), 0o600))
	_, err = LoadPlans(path)
	assert.Error(t, err)
}
