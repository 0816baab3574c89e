package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/catalog"
	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/ledger"
)

func newRenderCommand() *Command {
	cmd := &Command{
		Name:        "render",
		Description: "Render a preview PDF from a catalog file without storing anything",
		Flags:       flag.NewFlagSet("render", flag.ContinueOnError),
		Run:         runRender,
	}

	cmd.Flags.String("catalog", "", "YAML catalog file with plans and clients")
	cmd.Flags.String("client", "", "Client ID")
	cmd.Flags.Int("month", 0, "Billing month (1-12)")
	cmd.Flags.Int("year", 0, "Billing year")
	cmd.Flags.String("plan", "", "Plan ID (defaults to the client's assigned plan)")
	cmd.Flags.String("branding", "", "YAML branding file")
	cmd.Flags.String("page-size", "a4", "Page size (a4 or letter)")
	cmd.Flags.String("notes", "", "Notes printed on the document")
	cmd.Flags.String("out", "", "Output file (defaults to <invoice number>.pdf)")

	return cmd
}

func runRender(args []string) error {
	cmd := newRenderCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	catalogFile := flagString(cmd.Flags, "catalog")
	clientID := flagString(cmd.Flags, "client")
	if catalogFile == "" || clientID == "" {
		return fmt.Errorf("catalog and client are required")
	}
	month, year, err := periodFlags(cmd.Flags)
	if err != nil {
		return err
	}
	period := ledger.Period{Month: month, Year: year}
	if err := period.Validate(); err != nil {
		return err
	}

	fixture, err := catalog.LoadFixture(catalogFile)
	if err != nil {
		return err
	}
	client, plan, err := resolveAccount(context.Background(), fixture, clientID, flagString(cmd.Flags, "plan"))
	if err != nil {
		return err
	}

	opts, err := renderOptions(flagString(cmd.Flags, "branding"), flagString(cmd.Flags, "page-size"))
	if err != nil {
		return err
	}

	client.Currency = strings.ToUpper(strings.TrimSpace(client.Currency))
	if client.Currency == "" {
		client.Currency = ledger.DefaultCurrency
	}
	calc := billing.Calculate(*client, *plan)
	meta := document.InvoiceMeta{
		Number:       ledger.GenerateInvoiceNumber(client.BusinessName, period),
		InvoiceDate:  period.FirstDay(),
		DueDate:      period.LastDay(),
		PeriodMonth:  period.Month,
		PeriodYear:   period.Year,
		PaymentTerms: client.PaymentTerms,
		Notes:        flagString(cmd.Flags, "notes"),
	}

	data, err := document.NewSynthesizer(opts...).Render(*client, meta, calc)
	if err != nil {
		return fmt.Errorf("failed to render invoice: %w", err)
	}

	out := flagString(cmd.Flags, "out")
	if out == "" {
		out = meta.Number + ".pdf"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Rendered %s: %s, total %s\n", out, calc.Description, document.FormatMoney(client.Currency, calc.Final))
	return nil
}

// resolveAccount returns the client and either the named plan or the
// client's assigned one
func resolveAccount(ctx context.Context, source catalog.Source, clientID, planID string) (*billing.ClientProfile, *billing.Plan, error) {
	if planID != "" {
		client, err := source.Client(ctx, clientID)
		if err != nil {
			return nil, nil, err
		}
		plan, err := source.Plan(ctx, planID)
		if err != nil {
			return nil, nil, err
		}
		return client, plan, nil
	}

	account, err := source.Account(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	return &account.Client, &account.Plan, nil
}

func renderOptions(brandingFile, pageSize string) ([]document.Option, error) {
	size, err := document.ParsePageSize(pageSize)
	if err != nil {
		return nil, err
	}
	opts := []document.Option{document.WithPageSize(size)}

	if brandingFile != "" {
		branding, err := document.LoadBranding(brandingFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, document.WithBranding(branding))
	}
	return opts, nil
}
