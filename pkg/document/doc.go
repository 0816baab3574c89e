// Package document renders invoices to PDF.
//
// A Synthesizer turns a client profile, the invoice metadata and a billing
// calculation into PDF bytes. Rendering is a pure buffer transform: no clock
// reads, no network, no storage. The creation date is pinned to the invoice
// date and the catalog is written in sorted order, so identical inputs produce
// identical bytes.
//
//	s := document.NewSynthesizer(document.WithBranding(brand))
//	pdf, err := s.Render(client, meta, calc)
//
// Branding can be served from a YAML file that is reloaded on change:
//
//	w, err := document.NewBrandingWatcher("/etc/invoicing/branding.yaml", logger)
//	go w.Run(ctx, nil)
//	s := document.NewSynthesizer(document.WithBrandingSource(w))
//
// Amounts are printed as "<CODE> 1234.50" regardless of locale.
package document
