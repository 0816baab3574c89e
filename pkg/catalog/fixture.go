package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/outreachhq/invoicing/pkg/billing"
)

// PlanRecord is the stored form of a plan
type PlanRecord struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	BasePrice   *float64            `yaml:"base_price,omitempty"`
	PricingKind billing.PricingKind `yaml:"pricing_kind,omitempty"`
	UnitPrice   *float64            `yaml:"unit_price,omitempty"`
}

// ClientRecord is the stored form of a client
type ClientRecord struct {
	billing.ClientProfile `yaml:",inline"`
	PlanID                string `yaml:"plan_id"`
	Inactive              bool   `yaml:"inactive,omitempty"`
}

// Fixture is an in-memory catalog, usually loaded from YAML for local
// previews and tests
type Fixture struct {
	Plans   []PlanRecord   `yaml:"plans"`
	Clients []ClientRecord `yaml:"clients"`
}

var _ Source = (*Fixture)(nil)

// LoadFixture reads a YAML catalog file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML catalog and checks its plan references
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog fixture: %w", err)
	}

	plans := make(map[string]bool, len(f.Plans))
	for _, p := range f.Plans {
		if _, ok := billing.ConfigurationFor(p.PricingKind, p.UnitPrice); !ok {
			return nil, fmt.Errorf("plan %s has unknown pricing kind %q", p.ID, p.PricingKind)
		}
		plans[p.ID] = true
	}
	for _, c := range f.Clients {
		if c.PlanID != "" && !plans[c.PlanID] {
			return nil, fmt.Errorf("client %s references unknown plan %s", c.ID, c.PlanID)
		}
	}
	return &f, nil
}

// Client implements Source.Client
func (f *Fixture) Client(ctx context.Context, clientID string) (*billing.ClientProfile, error) {
	for _, c := range f.Clients {
		if c.ID == clientID {
			client := c.ClientProfile
			return &client, nil
		}
	}
	return nil, ErrClientNotFound
}

// Account implements Source.Account
func (f *Fixture) Account(ctx context.Context, clientID string) (*Account, error) {
	for _, c := range f.Clients {
		if c.ID != clientID {
			continue
		}
		if c.PlanID == "" {
			return nil, fmt.Errorf("client %s: %w", clientID, ErrPlanNotFound)
		}
		plan, err := f.Plan(ctx, c.PlanID)
		if err != nil {
			return nil, err
		}
		return &Account{Client: c.ClientProfile, Plan: *plan}, nil
	}
	return nil, ErrClientNotFound
}

// Plan implements Source.Plan
func (f *Fixture) Plan(ctx context.Context, planID string) (*billing.Plan, error) {
	for _, p := range f.Plans {
		if p.ID == planID {
			config, _ := billing.ConfigurationFor(p.PricingKind, p.UnitPrice)
			return &billing.Plan{
				ID:            p.ID,
				Name:          p.Name,
				BasePrice:     p.BasePrice,
				Configuration: config,
			}, nil
		}
	}
	return nil, ErrPlanNotFound
}

// ListBillable implements Source.ListBillable
func (f *Fixture) ListBillable(ctx context.Context) ([]Account, error) {
	var accounts []Account
	for _, c := range f.Clients {
		if c.Inactive || c.PlanID == "" {
			continue
		}
		account, err := f.Account(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Client.ID < accounts[j].Client.ID
	})
	return accounts, nil
}
