package cli

import (
	"flag"
	"fmt"
	"net/url"

	"github.com/outreachhq/invoicing/pkg/api"
)

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List invoices of a client or a billing period",
		Flags:       flag.NewFlagSet("list", flag.ContinueOnError),
		Run:         runList,
	}

	addServerFlag(cmd.Flags)
	cmd.Flags.String("client", "", "Client ID")
	cmd.Flags.Int("month", 0, "Billing month (1-12)")
	cmd.Flags.Int("year", 0, "Billing year")
	cmd.Flags.Bool("json", false, "Print the full response as JSON")

	return cmd
}

func runList(args []string) error {
	cmd := newListCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	var path string
	if clientID := flagString(cmd.Flags, "client"); clientID != "" {
		path = "/clients/" + url.PathEscape(clientID) + "/invoices"
	} else {
		month, year, err := periodFlags(cmd.Flags)
		if err != nil {
			return fmt.Errorf("client or month and year are required")
		}
		path = fmt.Sprintf("/invoices?month=%d&year=%d", month, year)
	}

	client := newAPIClient(flagString(cmd.Flags, "server"))
	var resp api.InvoiceListResponse
	if err := client.do("GET", path, nil, &resp); err != nil {
		return fmt.Errorf("failed to list invoices: %w", err)
	}

	if flagBool(cmd.Flags, "json") {
		return printJSON(resp)
	}

	for _, inv := range resp.Invoices {
		fmt.Printf("%-36s  %-24s  %s  %12.2f %s  %s\n",
			inv.ID, inv.InvoiceNumber, inv.Period(), inv.Amount, inv.Currency, inv.Status)
	}
	fmt.Printf("%d invoice(s)\n", resp.Count)
	return nil
}
