// Package catalog looks up the client and plan records invoices are
// generated from. The records belong to the dashboard; this package only
// reads them.
package catalog

import (
	"context"
	"errors"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/ledger"
)

var (
	// ErrClientNotFound is returned when no client has the requested id
	ErrClientNotFound = errors.New("client not found")

	// ErrPlanNotFound is returned when no plan has the requested id, or a
	// client has no plan assigned
	ErrPlanNotFound = errors.New("plan not found")
)

// Account is a client together with the plan it is billed against
type Account struct {
	Client billing.ClientProfile
	Plan   billing.Plan
}

// Source reads client and plan records
type Source interface {
	// Client returns a client by id
	Client(ctx context.Context, clientID string) (*billing.ClientProfile, error)

	// Account returns the client and its assigned plan
	Account(ctx context.Context, clientID string) (*Account, error)

	// Plan returns a plan by id
	Plan(ctx context.Context, planID string) (*billing.Plan, error)

	// ListBillable returns every active client that has a plan, ordered by client id
	ListBillable(ctx context.Context) ([]Account, error)
}

// Jobs turns accounts into batch jobs without overrides
func Jobs(accounts []Account) []ledger.Job {
	jobs := make([]ledger.Job, 0, len(accounts))
	for _, a := range accounts {
		jobs = append(jobs, ledger.Job{Client: a.Client, Plan: a.Plan})
	}
	return jobs
}
