package billing

import (
	"fmt"
	"math"
	"strings"
)

// legacyLicensePlans lists plan names that predate plan configurations and are
// billed per license when no configuration is stored.
//
// Deprecated: new plans must carry an explicit configuration. Do not add to
// this list.
var legacyLicensePlans = map[string]struct{}{
	"linkedin outreach excellence 20x": {},
}

// ResolveConfiguration returns the plan's pricing configuration, applying the
// legacy name rule when the plan has none.
func ResolveConfiguration(plan Plan) PlanConfiguration {
	if plan.Configuration != nil {
		return plan.Configuration
	}
	if _, ok := legacyLicensePlans[strings.ToLower(strings.TrimSpace(plan.Name))]; ok {
		return PerLicense{}
	}
	return FixedPrice{}
}

// Calculate prices a client against a plan
func Calculate(client ClientProfile, plan Plan) Calculation {
	calc := Calculation{}

	switch cfg := ResolveConfiguration(plan).(type) {
	case PerStaff:
		calc.Kind = PricingPerStaff
		calc.Quantity = clampCount(client.StaffCount)
		calc.UnitPrice = firstPrice(cfg.PricePerStaff, client.UnitPrice, plan.BasePrice)
		calc.Base = float64(calc.Quantity) * calc.UnitPrice
		calc.Description = fmt.Sprintf("%s (%d staff)", plan.Name, calc.Quantity)
	case PerLicense:
		calc.Kind = PricingPerLicense
		calc.Quantity = clampCount(client.LicenseCount)
		calc.UnitPrice = firstPrice(cfg.PricePerLicense, client.UnitPrice, plan.BasePrice)
		calc.Base = float64(calc.Quantity) * calc.UnitPrice
		calc.Description = fmt.Sprintf("%s (%d %s)", plan.Name, calc.Quantity, plural(calc.Quantity, "license", "licenses"))
	default:
		// FixedPrice, and any type embedding one
		calc.Kind = PricingFixed
		calc.Quantity = 1
		calc.UnitPrice = firstPrice(plan.BasePrice, client.UnitPrice)
		calc.Base = calc.UnitPrice
		calc.Description = plan.Name
	}

	pct := sanitize(client.DiscountPercentage)
	if calc.Base > 0 && pct > 0 {
		calc.Discount = calc.Base * pct / 100
	}
	calc.Final = calc.Base - calc.Discount

	if installments := client.PaymentTerms.Installments; installments > 0 {
		calc.Monthly = calc.Final / float64(installments)
	} else {
		calc.Monthly = calc.Final
	}

	return calc
}

// firstPrice returns the first non-nil price, sanitized, or zero
func firstPrice(prices ...*float64) float64 {
	for _, p := range prices {
		if p != nil {
			return sanitize(*p)
		}
	}
	return 0
}

// sanitize maps NaN, infinities and negative values to zero
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
