// Package cli implements invoicectl, the operator command line for the
// invoicing service.
//
// # Commands
//
// Most commands call a running server, set with -server or INVOICING_SERVER
// (default http://localhost:8080).
//
// generate: Generate or regenerate one client's invoice
//
//	invoicectl generate -client acme -month 3 -year 2024
//	invoicectl generate -client acme -month 3 -year 2024 \
//		-amount 3500 -due-date 2024-04-15 -notes "Prorated"
//
// generate-period: Generate invoices for every billable client
//
//	invoicectl generate-period -month 3 -year 2024 -concurrency 8
//
// list: List invoices by client or by period
//
//	invoicectl list -client acme
//	invoicectl list -month 3 -year 2024 -json
//
// set-status: Change an invoice's status
//
//	invoicectl set-status -id 6f1c... -status PAID
//
// download: Save an invoice's PDF
//
//	invoicectl download -id 6f1c... -out ./invoices/march.pdf
//
// render: Preview a PDF from a YAML catalog without a server or database
//
//	invoicectl render -catalog catalog.yaml -client acme -month 3 -year 2024 \
//		-branding branding.yaml -page-size letter
//
// sweep-overdue: Mark past-due invoices overdue. Reads the same INVOICING_*
// environment as the server and connects to the database directly.
//
//	invoicectl sweep-overdue -as-of 2024-04-01
//
// # Exit Codes
//
// 0 on success, 1 on any error. generate-period exits 1 when any client
// failed even though the others were written.
package cli
