package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/storage/postgres"
)

func setupCatalogDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "catalog.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, postgres.RunMigrations(context.Background(), db, postgres.DialectSQLite, nil))

	statements := []string{
		`INSERT INTO plans (id, name, base_price, pricing_kind, unit_price) VALUES
			('sdr', 'SDR Team', NULL, 'per_staff', 2000),
			('li', 'LinkedIn Outreach Excellence 20X', 300, NULL, NULL),
			('flat', 'Starter', 499, 'fixed', NULL)`,
		`INSERT INTO clients (id, business_name, billing_address, contact_name, contact_email, currency,
			license_count, staff_count, unit_price, discount_percentage, installments, payment_terms, plan_id, active) VALUES
			('acme', 'Acme Corp', '1 Main St', 'Jane Roe', 'jane@acme.test', 'USD', 0, 2, NULL, 0, 1, 'Net 30', 'sdr', 1),
			('globex', 'Globex', NULL, NULL, NULL, 'EUR', 10, 0, 250, 10, 2, NULL, 'li', 1),
			('initech', 'Initech', NULL, NULL, NULL, 'USD', 0, 0, NULL, 0, 1, NULL, 'flat', 0),
			('hooli', 'Hooli', NULL, NULL, NULL, 'USD', 0, 0, NULL, 0, 1, NULL, NULL, 1)`,
	}
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestSQLSource_Account(t *testing.T) {
	source := NewSQLSource(postgres.SingleDB{DB: setupCatalogDB(t)}, postgres.DialectSQLite)
	ctx := context.Background()

	account, err := source.Account(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", account.Client.BusinessName)
	assert.Equal(t, "1 Main St", account.Client.BillingAddress)
	assert.Equal(t, "jane@acme.test", account.Client.ContactEmail)
	assert.Equal(t, 2, account.Client.StaffCount)
	assert.Nil(t, account.Client.UnitPrice)
	assert.Equal(t, billing.PaymentTerms{Installments: 1, Terms: "Net 30"}, account.Client.PaymentTerms)
	assert.Equal(t, "SDR Team", account.Plan.Name)
	assert.Equal(t, billing.PerStaff{PricePerStaff: billing.Float64(2000)}, account.Plan.Configuration)

	calc := billing.Calculate(account.Client, account.Plan)
	assert.Equal(t, 4000.0, calc.Final)

	// A plan without a pricing kind falls back to the name rule
	account, err = source.Account(ctx, "globex")
	require.NoError(t, err)
	assert.Nil(t, account.Plan.Configuration)
	assert.Equal(t, billing.Float64(250), account.Client.UnitPrice)
	calc = billing.Calculate(account.Client, account.Plan)
	assert.Equal(t, billing.PricingPerLicense, calc.Kind)
	assert.Equal(t, 2250.0, calc.Final)
	assert.Equal(t, 1125.0, calc.Monthly)

	_, err = source.Account(ctx, "hooli")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	client, err := source.Client(ctx, "hooli")
	require.NoError(t, err)
	assert.Equal(t, "Hooli", client.BusinessName)
	_, err = source.Client(ctx, "nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)

	_, err = source.Account(ctx, "nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestSQLSource_Plan(t *testing.T) {
	source := NewSQLSource(postgres.SingleDB{DB: setupCatalogDB(t)}, postgres.DialectSQLite)
	ctx := context.Background()

	plan, err := source.Plan(ctx, "flat")
	require.NoError(t, err)
	assert.Equal(t, billing.FixedPrice{}, plan.Configuration)
	assert.Equal(t, billing.Float64(499), plan.BasePrice)

	_, err = source.Plan(ctx, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestSQLSource_UnknownPricingKind(t *testing.T) {
	db := setupCatalogDB(t)
	_, err := db.Exec(`INSERT INTO plans (id, name, pricing_kind) VALUES ('odd', 'Odd', 'per_seat')`)
	require.NoError(t, err)

	source := NewSQLSource(postgres.SingleDB{DB: db}, postgres.DialectSQLite)
	_, err = source.Plan(context.Background(), "odd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per_seat")
}

func TestSQLSource_ListBillable(t *testing.T) {
	source := NewSQLSource(postgres.SingleDB{DB: setupCatalogDB(t)}, postgres.DialectSQLite)

	accounts, err := source.ListBillable(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2, "inactive and plan-less clients are skipped")
	assert.Equal(t, "acme", accounts[0].Client.ID)
	assert.Equal(t, "globex", accounts[1].Client.ID)

	jobs := Jobs(accounts)
	require.Len(t, jobs, 2)
	assert.Equal(t, "SDR Team", jobs[0].Plan.Name)
	assert.Equal(t, "Globex", jobs[1].Client.BusinessName)
}

func TestSQLSource_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM clients c JOIN plans p`).WillReturnError(errors.New("connection refused"))

	source := NewSQLSource(postgres.SingleDB{DB: db}, postgres.DialectPostgres)
	_, err = source.ListBillable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list billable clients")
	assert.NoError(t, mock.ExpectationsWereMet())
}

const fixtureYAML = `
plans:
  - id: sdr
    name: SDR Team
    pricing_kind: per_staff
    unit_price: 2000
  - id: flat
    name: Starter
    base_price: 499
clients:
  - id: b-client
    business_name: Beta LLC
    currency: USD
    plan_id: flat
    payment_terms:
      installments: 1
  - id: a-client
    business_name: Acme Corp
    currency: USD
    staff_count: 2
    discount_percentage: 5
    plan_id: sdr
    payment_terms:
      installments: 1
      terms: Net 30
  - id: c-client
    business_name: Gone Inc
    plan_id: flat
    inactive: true
`

func TestFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0644))

	f, err := LoadFixture(path)
	require.NoError(t, err)
	ctx := context.Background()

	account, err := f.Account(ctx, "a-client")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", account.Client.BusinessName)
	assert.Equal(t, 5.0, account.Client.DiscountPercentage)
	assert.Equal(t, "Net 30", account.Client.PaymentTerms.Terms)
	assert.Equal(t, billing.PerStaff{PricePerStaff: billing.Float64(2000)}, account.Plan.Configuration)
	assert.Equal(t, 3800.0, billing.Calculate(account.Client, account.Plan).Final)

	plan, err := f.Plan(ctx, "flat")
	require.NoError(t, err)
	assert.Nil(t, plan.Configuration)
	// the flat plan still honours a client's discount
	assert.Equal(t, 474.05, billing.Calculate(account.Client, *plan).Final)

	beta, err := f.Account(ctx, "b-client")
	require.NoError(t, err)
	assert.Equal(t, "flat", beta.Plan.ID)
	assert.Equal(t, 499.0, billing.Calculate(beta.Client, beta.Plan).Final)

	accounts, err := f.ListBillable(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a-client", accounts[0].Client.ID)
	assert.Equal(t, "b-client", accounts[1].Client.ID)

	client, err := f.Client(ctx, "c-client")
	require.NoError(t, err)
	assert.Equal(t, "Gone Inc", client.BusinessName)

	_, err = f.Account(ctx, "missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = f.Client(ctx, "missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = f.Plan(ctx, "missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestParseFixture_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "plans: [", "failed to parse"},
		{"unknown kind", "plans:\n  - id: x\n    name: X\n    pricing_kind: per_seat\n", "unknown pricing kind"},
		{"dangling plan", "clients:\n  - id: a\n    business_name: A\n    plan_id: nope\n", "unknown plan nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
