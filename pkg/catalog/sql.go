package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/storage/postgres"
)

const clientColumns = `
	c.id, c.business_name, c.billing_address, c.contact_name, c.contact_email,
	c.currency, c.license_count, c.staff_count, c.unit_price, c.discount_percentage,
	c.installments, c.payment_terms, c.plan_id`

const planColumns = `p.id, p.name, p.base_price, p.pricing_kind, p.unit_price`

// SQLSource reads the clients and plans tables
type SQLSource struct {
	db      postgres.DBProvider
	dialect postgres.Dialect
}

// NewSQLSource creates a catalog over the given connections. Reads go to
// replicas when there are any.
func NewSQLSource(db postgres.DBProvider, dialect postgres.Dialect) *SQLSource {
	return &SQLSource{db: db, dialect: dialect}
}

var _ Source = (*SQLSource)(nil)

// Client implements Source.Client. The client is returned whether or not it
// has a plan.
func (s *SQLSource) Client(ctx context.Context, clientID string) (*billing.ClientProfile, error) {
	account, _, err := s.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &account.Client, nil
}

// Account implements Source.Account
func (s *SQLSource) Account(ctx context.Context, clientID string) (*Account, error) {
	account, hasPlan, err := s.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !hasPlan {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrPlanNotFound)
	}
	return account, nil
}

func (s *SQLSource) lookup(ctx context.Context, clientID string) (*Account, bool, error) {
	query := s.dialect.Rebind(`SELECT ` + clientColumns + `, ` + planColumns + `
		FROM clients c
		LEFT JOIN plans p ON p.id = c.plan_id
		WHERE c.id = $1`)

	account, hasPlan, err := scanAccount(s.db.Replica().QueryRowContext(ctx, query, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrClientNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	return account, hasPlan, nil
}

// Plan implements Source.Plan
func (s *SQLSource) Plan(ctx context.Context, planID string) (*billing.Plan, error) {
	query := s.dialect.Rebind(`SELECT ` + planColumns + ` FROM plans p WHERE p.id = $1`)

	var row planRow
	err := s.db.Replica().QueryRowContext(ctx, query, planID).Scan(
		&row.id, &row.name, &row.basePrice, &row.kind, &row.unitPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", planID, err)
	}
	return row.plan()
}

// ListBillable implements Source.ListBillable
func (s *SQLSource) ListBillable(ctx context.Context) ([]Account, error) {
	query := `SELECT ` + clientColumns + `, ` + planColumns + `
		FROM clients c
		JOIN plans p ON p.id = c.plan_id
		WHERE c.active = TRUE
		ORDER BY c.id`

	rows, err := s.db.Replica().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list billable clients: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, _, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list billable clients: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type planRow struct {
	id        sql.NullString
	name      sql.NullString
	basePrice sql.NullFloat64
	kind      sql.NullString
	unitPrice sql.NullFloat64
}

func (r planRow) plan() (*billing.Plan, error) {
	config, ok := billing.ConfigurationFor(billing.PricingKind(r.kind.String), nullFloat(r.unitPrice))
	if !ok {
		return nil, fmt.Errorf("plan %s has unknown pricing kind %q", r.id.String, r.kind.String)
	}
	return &billing.Plan{
		ID:            r.id.String,
		Name:          r.name.String,
		BasePrice:     nullFloat(r.basePrice),
		Configuration: config,
	}, nil
}

// scanAccount reads a client row joined with its plan. hasPlan is false when
// the join found no plan.
func scanAccount(row rowScanner) (*Account, bool, error) {
	var (
		client                       billing.ClientProfile
		address, contact, email, cur sql.NullString
		unitPrice                    sql.NullFloat64
		terms, planID                sql.NullString
		plan                         planRow
	)

	err := row.Scan(
		&client.ID, &client.BusinessName, &address, &contact, &email,
		&cur, &client.LicenseCount, &client.StaffCount, &unitPrice, &client.DiscountPercentage,
		&client.PaymentTerms.Installments, &terms, &planID,
		&plan.id, &plan.name, &plan.basePrice, &plan.kind, &plan.unitPrice,
	)
	if err != nil {
		return nil, false, err
	}

	client.BillingAddress = address.String
	client.ContactName = contact.String
	client.ContactEmail = email.String
	client.Currency = cur.String
	client.UnitPrice = nullFloat(unitPrice)
	client.PaymentTerms.Terms = terms.String

	account := &Account{Client: client}
	if !plan.id.Valid {
		return account, false, nil
	}
	p, err := plan.plan()
	if err != nil {
		return nil, false, err
	}
	account.Plan = *p
	return account, true, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return billing.Float64(v.Float64)
}
