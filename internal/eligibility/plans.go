package eligibility

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Plan struct {
	ID          string   `yaml:"id"`
	Aliases     []string `yaml:"aliases"`
	ActiveLimit int      `yaml:"active_limit"`
}

// Plans maps subscription plan ids to the number of proposals a tenant may
// keep active at once.
type Plans struct {
	DefaultLimit int    `yaml:"default_limit"`
	Plans        []Plan `yaml:"plans"`
}

func DefaultPlans() Plans {
	return Plans{
		DefaultLimit: 100000,
		Plans: []Plan{
			{ID: "basic", Aliases: []string{"basic-yearly"}, ActiveLimit: 5},
			{ID: "professional", Aliases: []string{"professional-yearly"}, ActiveLimit: 30},
			{ID: "enterprise", Aliases: []string{"enterprise-yearly"}, ActiveLimit: 100},
		},
	}
}

// LoadPlans reads plan ceilings from a YAML file. An empty path yields the
// built-in table.
func LoadPlans(path string) (Plans, error) {
	if path == "" {
		return DefaultPlans(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plans{}, fmt.Errorf("read plans file: %w", err)
	}
	var plans Plans
	if err := yaml.Unmarshal(raw, &plans); err != nil {
		return Plans{}, fmt.Errorf("parse plans file: %w", err)
	}
	for _, plan := range plans.Plans {
		if plan.ID == "" || plan.ActiveLimit <= 0 {
			return Plans{}, fmt.Errorf("plans file: plan %q needs an id and a positive active_limit", plan.ID)
		}
	}
	if plans.DefaultLimit <= 0 {
		plans.DefaultLimit = DefaultPlans().DefaultLimit
	}
	return plans, nil
}

// Ceiling returns the active proposal limit of planID.
func (p Plans) Ceiling(planID string) int {
	for _, plan := range p.Plans {
		if plan.ID == planID {
			return plan.ActiveLimit
		}
		for _, alias := range plan.Aliases {
			if alias == planID {
				return plan.ActiveLimit
			}
		}
	}
	return p.DefaultLimit
}
