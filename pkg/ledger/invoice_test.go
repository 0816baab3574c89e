package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvoiceNumber(t *testing.T) {
	tests := []struct {
		name     string
		business string
		period   Period
		want     string
	}{
		{"simple", "Acme Corp", Period{Month: 1, Year: 2024}, "INV-ACMECORP-202401"},
		{"punctuation dropped", "O'Brien & Sons, Ltd.", Period{Month: 11, Year: 2023}, "INV-OBRIENSONSLT-202311"},
		{"truncated", "Supercalifragilistic Holdings", Period{Month: 6, Year: 2025}, "INV-SUPERCALIFRA-202506"},
		{"digits kept", "3M", Period{Month: 12, Year: 2024}, "INV-3M-202412"},
		{"non ascii only", "Über Café", Period{Month: 3, Year: 2024}, "INV-BERCAF-202403"},
		{"empty", "", Period{Month: 2, Year: 2024}, "INV-CLIENT-202402"},
		{"symbols only", "***", Period{Month: 2, Year: 2024}, "INV-CLIENT-202402"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateInvoiceNumber(tt.business, tt.period))
		})
	}
}

func TestPeriod(t *testing.T) {
	p := Period{Month: 2, Year: 2024}
	assert.Equal(t, "2024-02", p.String())
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), p.FirstDay())
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), p.LastDay())
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), Period{Month: 12, Year: 2023}.LastDay())

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, Period{Month: 1, Year: 2024}, PeriodOf(time.Date(2023, 12, 31, 22, 0, 0, 0, est)))

	for _, bad := range []Period{{0, 2024}, {13, 2024}, {1, 1999}, {1, 10000}} {
		err := bad.Validate()
		assert.ErrorIs(t, err, ErrValidation, bad.String())
	}
	assert.NoError(t, Period{Month: 12, Year: 9999}.Validate())
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"PAID":       StatusPaid,
		"paid":       StatusPaid,
		" overdue ":  StatusOverdue,
		"Generated":  StatusGenerated,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseStatus("cancelled")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "status", verr.Field)
}

func TestSetStatusKeepsPaidAt(t *testing.T) {
	first := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	inv := &Invoice{Status: StatusGenerated}
	inv.setStatus(StatusPaid, first)
	require.NotNil(t, inv.PaidAt)

	inv.setStatus(StatusPaid, later)
	assert.Equal(t, first, *inv.PaidAt)

	inv.setStatus(StatusOverdue, later)
	assert.Nil(t, inv.PaidAt)
	assert.Equal(t, StatusOverdue, inv.Status)
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	berr := &BlobStoreError{Op: "put", Err: cause}
	assert.ErrorIs(t, berr, ErrBlobStore)
	assert.ErrorIs(t, berr, cause)
	assert.Contains(t, berr.Error(), "put")

	cerr := &ConsistencyError{InvoiceID: "i", ClientID: "c", Period: Period{Month: 1, Year: 2024}, ByID: ErrNotFound, ByPeriod: ErrNotFound}
	assert.ErrorIs(t, cerr, ErrStorageConsistency)
	assert.Contains(t, cerr.Error(), "2024-01")
}
