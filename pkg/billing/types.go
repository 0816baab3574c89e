package billing

// PricingKind identifies the pricing strategy used for a calculation
type PricingKind string

const (
	PricingFixed      PricingKind = "fixed"
	PricingPerLicense PricingKind = "per_license"
	PricingPerStaff   PricingKind = "per_staff"
)

// PaymentTerms describes how a client settles an invoice
type PaymentTerms struct {
	Installments int    `json:"installments" yaml:"installments"`
	Terms        string `json:"terms,omitempty" yaml:"terms,omitempty"`
}

// ClientProfile is the billing view of a client. It is read-only input to
// the calculator and document synthesizer.
type ClientProfile struct {
	ID                 string       `json:"id" yaml:"id"`
	BusinessName       string       `json:"business_name" yaml:"business_name"`
	BillingAddress     string       `json:"billing_address,omitempty" yaml:"billing_address,omitempty"`
	ContactName        string       `json:"contact_name,omitempty" yaml:"contact_name,omitempty"`
	ContactEmail       string       `json:"contact_email,omitempty" yaml:"contact_email,omitempty"`
	Currency           string       `json:"currency" yaml:"currency"`
	LicenseCount       int          `json:"license_count" yaml:"license_count"`
	StaffCount         int          `json:"staff_count" yaml:"staff_count"`
	UnitPrice          *float64     `json:"unit_price,omitempty" yaml:"unit_price,omitempty"`
	DiscountPercentage float64      `json:"discount_percentage" yaml:"discount_percentage"`
	PaymentTerms       PaymentTerms `json:"payment_terms" yaml:"payment_terms"`
}

// Plan is a catalog entry a client is billed against
type Plan struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	BasePrice     *float64          `json:"base_price,omitempty" yaml:"base_price,omitempty"`
	Configuration PlanConfiguration `json:"-" yaml:"-"`
}

// PlanConfiguration is the pricing strategy of a plan. The set of
// implementations is closed: FixedPrice, PerLicense and PerStaff.
type PlanConfiguration interface {
	Kind() PricingKind
	planConfiguration()
}

// FixedPrice bills the plan base price once per period
type FixedPrice struct{}

// PerLicense bills per license held by the client
type PerLicense struct {
	PricePerLicense *float64
}

// PerStaff bills per staff member assigned to the client
type PerStaff struct {
	PricePerStaff *float64
}

func (FixedPrice) Kind() PricingKind { return PricingFixed }
func (PerLicense) Kind() PricingKind { return PricingPerLicense }
func (PerStaff) Kind() PricingKind   { return PricingPerStaff }

func (FixedPrice) planConfiguration() {}
func (PerLicense) planConfiguration() {}
func (PerStaff) planConfiguration()   {}

// ConfigurationFor builds a configuration from its stored representation.
// An empty kind yields nil so the legacy name rule can apply.
func ConfigurationFor(kind PricingKind, unitPrice *float64) (PlanConfiguration, bool) {
	switch kind {
	case "":
		return nil, true
	case PricingFixed:
		return FixedPrice{}, true
	case PricingPerLicense:
		return PerLicense{PricePerLicense: unitPrice}, true
	case PricingPerStaff:
		return PerStaff{PricePerStaff: unitPrice}, true
	default:
		return nil, false
	}
}

// Calculation is the ephemeral result of pricing a client against a plan
type Calculation struct {
	Kind        PricingKind `json:"kind"`
	Quantity    int         `json:"quantity"`
	UnitPrice   float64     `json:"unit_price"`
	Base        float64     `json:"base_amount"`
	Discount    float64     `json:"discount_amount"`
	Final       float64     `json:"final_amount"`
	Monthly     float64     `json:"monthly_amount"`
	Description string      `json:"description"`
}

// RequiresQuantity reports whether the pricing strategy bills per unit and
// therefore needs at least one unit to produce a valid invoice.
func (c Calculation) RequiresQuantity() bool {
	return c.Kind == PricingPerLicense || c.Kind == PricingPerStaff
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 {
	return &v
}
