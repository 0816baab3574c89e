// Package billing computes what a client owes for one billing period.
//
// # Overview
//
// A client is billed against exactly one plan. The plan's pricing strategy is a
// closed set of configurations:
//
//   - FixedPrice: a flat amount per period
//   - PerLicense: price per license multiplied by the client's license count
//   - PerStaff: price per staff member multiplied by the client's staff count
//
// Calculate is pure and total: every input produces a Calculation, and garbage
// numeric inputs (NaN, infinities, negatives) are treated as zero.
//
// # Usage Example
//
//	calc := billing.Calculate(client, plan)
//	fmt.Printf("%s: %.2f (%.2f per installment)\n", calc.Description, calc.Final, calc.Monthly)
//
// # Unit price resolution
//
// Per-unit strategies resolve their unit price in order: the price on the plan
// configuration, then the client's negotiated unit price, then the plan base
// price, then zero.
//
// # Related Packages
//
//   - pkg/ledger: Persists invoices computed from a Calculation
//   - pkg/document: Renders a Calculation into an invoice document
package billing
