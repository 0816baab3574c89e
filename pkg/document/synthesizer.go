package document

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/outreachhq/invoicing/pkg/billing"
)

// ErrInvalidMeta is returned when the invoice metadata cannot be rendered
var ErrInvalidMeta = errors.New("invalid invoice metadata")

// InvoiceMeta carries the record fields printed on the document
type InvoiceMeta struct {
	Number       string
	InvoiceDate  time.Time
	DueDate      time.Time
	PeriodMonth  int
	PeriodYear   int
	PaymentTerms billing.PaymentTerms
	Notes        string
}

func (m InvoiceMeta) validate() error {
	if strings.TrimSpace(m.Number) == "" {
		return fmt.Errorf("%w: invoice number is required", ErrInvalidMeta)
	}
	if m.InvoiceDate.IsZero() {
		return fmt.Errorf("%w: invoice date is required", ErrInvalidMeta)
	}
	return nil
}

// PageSize selects the paper format
type PageSize string

const (
	PageA4     PageSize = "A4"
	PageLetter PageSize = "Letter"
)

// ParsePageSize parses "a4" or "letter"
func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a4":
		return PageA4, nil
	case "letter":
		return PageLetter, nil
	default:
		return "", fmt.Errorf("unsupported page size %q", s)
	}
}

// Synthesizer renders invoices to PDF. It performs no I/O and keeps no
// per-render state, so one instance may render concurrently.
type Synthesizer struct {
	branding BrandingSource
	compress bool
	pageSize PageSize
}

// Option configures a Synthesizer
type Option func(*Synthesizer)

// WithBranding renders with a fixed branding
func WithBranding(b Branding) Option {
	return func(s *Synthesizer) {
		s.branding = StaticBranding(b)
	}
}

// WithBrandingSource reads the branding on every render, e.g. from a BrandingWatcher
func WithBrandingSource(src BrandingSource) Option {
	return func(s *Synthesizer) {
		if src != nil {
			s.branding = src
		}
	}
}

// WithCompression toggles stream compression. Uncompressed output is useful
// for inspecting the text layer.
func WithCompression(on bool) Option {
	return func(s *Synthesizer) {
		s.compress = on
	}
}

// WithPageSize selects the paper format
func WithPageSize(size PageSize) Option {
	return func(s *Synthesizer) {
		s.pageSize = size
	}
}

// NewSynthesizer creates a synthesizer with A4 pages, compression and default branding
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		branding: StaticBranding(DefaultBranding()),
		compress: true,
		pageSize: PageA4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FormatMoney renders an amount as "<CODE> 1234.50": the currency code as a
// literal prefix and exactly two decimals, independent of locale.
func FormatMoney(currency string, amount float64) string {
	value := decimal.NewFromFloat(amount).StringFixed(2)
	if value == "-0.00" {
		value = "0.00"
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return value
	}
	return code + " " + value
}

const (
	margin     = 15.0
	lineHeight = 5.0
	qtyWidth   = 20.0
	moneyWidth = 35.0
)

// Render produces the PDF bytes for one invoice. Identical inputs yield
// identical bytes.
func (s *Synthesizer) Render(client billing.ClientProfile, meta InvoiceMeta, calc billing.Calculation) ([]byte, error) {
	pdf, err := s.build(client, meta, calc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}
	return buf.Bytes(), nil
}

// layout holds the state of one render
type layout struct {
	pdf      *gofpdf.Fpdf
	tr       func(string) string
	brand    Branding
	currency string
	width    float64
}

func (s *Synthesizer) build(client billing.ClientProfile, meta InvoiceMeta, calc billing.Calculation) (*gofpdf.Fpdf, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}

	brand := s.branding.Branding()

	pdf := gofpdf.New("P", "mm", string(s.pageSize), "")
	pdf.SetCompression(s.compress)
	pdf.SetCreationDate(meta.InvoiceDate.UTC())
	pdf.SetCatalogSort(true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")

	pageWidth, _ := pdf.GetPageSize()
	l := &layout{
		pdf:      pdf,
		tr:       pdf.UnicodeTranslatorFromDescriptor(""),
		brand:    brand,
		currency: client.Currency,
		width:    pageWidth - 2*margin,
	}

	pdf.SetTitle(l.tr("Invoice "+meta.Number), false)
	pdf.SetAuthor(l.tr(brand.CompanyName), false)
	pdf.SetHeaderFunc(l.header)
	pdf.SetFooterFunc(l.footer)

	pdf.AddPage()
	l.invoiceBlock(meta)
	l.billTo(client)
	l.lineItems(calc)
	l.totals(client, calc)
	l.paymentTerms(meta, calc)
	l.notes(meta.Notes)

	if pdf.Err() {
		return nil, fmt.Errorf("failed to lay out document: %w", pdf.Error())
	}
	return pdf, nil
}

func (l *layout) header() {
	pdf := l.pdf
	r, g, b := l.brand.accent()
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(r, g, b)
	pdf.Rect(0, 0, pageWidth, 6, "F")

	pdf.SetY(margin)
	pdf.SetTextColor(r, g, b)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(l.width, 8, l.tr(l.brand.CompanyName), "", 1, "L", false, 0, "")

	pdf.SetTextColor(90, 90, 90)
	pdf.SetFont("Helvetica", "", 8)
	for _, line := range l.brand.AddressLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.CellFormat(l.width, 4, l.tr(line), "", 1, "L", false, 0, "")
	}
	var contact []string
	for _, v := range []string{l.brand.Email, l.brand.Website} {
		if strings.TrimSpace(v) != "" {
			contact = append(contact, v)
		}
	}
	if len(contact) > 0 {
		pdf.CellFormat(l.width, 4, l.tr(strings.Join(contact, "  |  ")), "", 1, "L", false, 0, "")
	}
	if l.brand.TaxID != "" {
		pdf.CellFormat(l.width, 4, l.tr("Tax ID: "+l.brand.TaxID), "", 1, "L", false, 0, "")
	}

	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)
}

func (l *layout) footer() {
	pdf := l.pdf
	pdf.SetY(-15)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(120, 120, 120)

	half := l.width / 2
	pdf.CellFormat(half, 10, l.tr(l.brand.FooterText), "", 0, "L", false, 0, "")
	pdf.CellFormat(half, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func (l *layout) invoiceBlock(meta InvoiceMeta) {
	pdf := l.pdf

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(l.width, 10, "INVOICE", "", 1, "R", false, 0, "")

	rows := [][2]string{
		{"Invoice number", meta.Number},
		{"Issue date", formatDate(meta.InvoiceDate)},
	}
	if !meta.DueDate.IsZero() {
		rows = append(rows, [2]string{"Due date", formatDate(meta.DueDate)})
	}
	if meta.PeriodMonth >= 1 && meta.PeriodMonth <= 12 && meta.PeriodYear > 0 {
		period := time.Date(meta.PeriodYear, time.Month(meta.PeriodMonth), 1, 0, 0, 0, 0, time.UTC)
		rows = append(rows, [2]string{"Billing period", period.Format("January 2006")})
	}

	labelWidth := 40.0
	valueWidth := 50.0
	for _, row := range rows {
		pdf.SetX(margin + l.width - labelWidth - valueWidth)
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(labelWidth, lineHeight, l.tr(row[0]+":"), "", 0, "R", false, 0, "")
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(valueWidth, lineHeight, l.tr(row[1]), "", 1, "R", false, 0, "")
	}
	pdf.Ln(6)
}

func (l *layout) billTo(client billing.ClientProfile) {
	pdf := l.pdf

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(l.width, 6, "Bill to", "", 1, "L", false, 0, "")

	blockWidth := l.width / 2
	fields := []struct {
		text  string
		style string
	}{
		{client.BusinessName, "B"},
		{client.BillingAddress, ""},
		{prefixed("Attn: ", client.ContactName), ""},
		{client.ContactEmail, ""},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.text) == "" {
			continue
		}
		pdf.SetFont("Helvetica", f.style, 9)
		pdf.MultiCell(blockWidth, lineHeight, l.tr(strings.TrimSpace(f.text)), "", "L", false)
	}
	pdf.Ln(6)
}

func prefixed(prefix, v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return prefix + v
}

func (l *layout) descriptionWidth() float64 {
	return l.width - qtyWidth - 2*moneyWidth
}

func (l *layout) tableHeader() {
	pdf := l.pdf
	r, g, b := l.brand.accent()

	pdf.SetFillColor(r, g, b)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(l.descriptionWidth(), 7, "Description", "", 0, "L", true, 0, "")
	pdf.CellFormat(qtyWidth, 7, "Qty", "", 0, "R", true, 0, "")
	pdf.CellFormat(moneyWidth, 7, "Unit price", "", 0, "R", true, 0, "")
	pdf.CellFormat(moneyWidth, 7, "Amount", "", 1, "R", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func (l *layout) lineItems(calc billing.Calculation) {
	pdf := l.pdf
	l.tableHeader()

	pdf.SetFont("Helvetica", "", 9)
	descWidth := l.descriptionWidth()
	desc := l.tr(calc.Description)
	lines := pdf.SplitLines([]byte(desc), descWidth-2)
	rowHeight := float64(max(len(lines), 1))*lineHeight + 2

	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY()+rowHeight > pageHeight-20 {
		pdf.AddPage()
		l.tableHeader()
		pdf.SetFont("Helvetica", "", 9)
	}

	x, y := pdf.GetXY()
	pdf.SetXY(x, y+1)
	pdf.MultiCell(descWidth, lineHeight, desc, "", "L", false)
	pdf.SetXY(x+descWidth, y+1)
	pdf.CellFormat(qtyWidth, lineHeight, strconv.Itoa(calc.Quantity), "", 0, "R", false, 0, "")
	pdf.CellFormat(moneyWidth, lineHeight, FormatMoney(l.currency, calc.UnitPrice), "", 0, "R", false, 0, "")
	pdf.CellFormat(moneyWidth, lineHeight, FormatMoney(l.currency, calc.Base), "", 0, "R", false, 0, "")

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(x, y+rowHeight, x+l.width, y+rowHeight)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetXY(x, y+rowHeight+4)
}

func (l *layout) totalRow(label, value, style string) {
	pdf := l.pdf
	labelWidth := 45.0
	pdf.SetX(margin + l.width - labelWidth - moneyWidth)
	pdf.SetFont("Helvetica", style, 10)
	pdf.CellFormat(labelWidth, 6, l.tr(label), "", 0, "R", false, 0, "")
	pdf.CellFormat(moneyWidth, 6, l.tr(value), "", 1, "R", false, 0, "")
}

func (l *layout) totals(client billing.ClientProfile, calc billing.Calculation) {
	l.totalRow("Subtotal", FormatMoney(l.currency, calc.Base), "")
	if calc.Discount > 0 {
		label := "Discount"
		if client.DiscountPercentage > 0 {
			label = fmt.Sprintf("Discount (%s%%)", decimal.NewFromFloat(client.DiscountPercentage).String())
		}
		l.totalRow(label, "- "+FormatMoney(l.currency, calc.Discount), "")
	}
	l.totalRow("Total due", FormatMoney(l.currency, calc.Final), "B")
	l.pdf.Ln(6)
}

func (l *layout) section(title string) {
	l.pdf.SetFont("Helvetica", "B", 10)
	l.pdf.CellFormat(l.width, 6, l.tr(title), "", 1, "L", false, 0, "")
	l.pdf.SetFont("Helvetica", "", 9)
}

func (l *layout) paymentTerms(meta InvoiceMeta, calc billing.Calculation) {
	terms := strings.TrimSpace(meta.PaymentTerms.Terms)
	if terms == "" && !meta.DueDate.IsZero() {
		terms = "Payment due by " + formatDate(meta.DueDate) + "."
	}
	installments := meta.PaymentTerms.Installments
	if terms == "" && installments <= 1 {
		return
	}

	l.section("Payment terms")
	if terms != "" {
		l.pdf.MultiCell(l.width, lineHeight, l.tr(terms), "", "L", false)
	}
	if installments > 1 {
		l.pdf.MultiCell(l.width, lineHeight, l.tr(fmt.Sprintf("Payable in %d monthly installments of %s.",
			installments, FormatMoney(l.currency, calc.Monthly))), "", "L", false)
	}
	l.pdf.Ln(4)
}

func (l *layout) notes(notes string) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return
	}
	l.section("Notes")
	l.pdf.MultiCell(l.width, lineHeight, l.tr(notes), "", "L", false)
}

func formatDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}
