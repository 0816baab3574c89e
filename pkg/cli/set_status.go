package cli

import (
	"flag"
	"fmt"
	"net/url"

	"github.com/outreachhq/invoicing/pkg/api"
	"github.com/outreachhq/invoicing/pkg/ledger"
)

func newSetStatusCommand() *Command {
	cmd := &Command{
		Name:        "set-status",
		Description: "Change an invoice's status",
		Flags:       flag.NewFlagSet("set-status", flag.ContinueOnError),
		Run:         runSetStatus,
	}

	addServerFlag(cmd.Flags)
	cmd.Flags.String("id", "", "Invoice ID")
	cmd.Flags.String("status", "", "New status (GENERATED, PAID or OVERDUE)")

	return cmd
}

func runSetStatus(args []string) error {
	cmd := newSetStatusCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id := flagString(cmd.Flags, "id")
	status := flagString(cmd.Flags, "status")
	if id == "" || status == "" {
		return fmt.Errorf("id and status are required")
	}
	// Fail fast on typos before calling the server
	parsed, err := ledger.ParseStatus(status)
	if err != nil {
		return err
	}

	client := newAPIClient(flagString(cmd.Flags, "server"))
	var inv ledger.Invoice
	if err := client.do("PUT", "/invoices/"+url.PathEscape(id)+"/status", api.UpdateStatusRequest{Status: string(parsed)}, &inv); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	fmt.Printf("Invoice %s is now %s\n", inv.InvoiceNumber, inv.Status)
	return nil
}
