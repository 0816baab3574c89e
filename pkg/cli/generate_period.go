package cli

import (
	"flag"
	"fmt"

	"github.com/outreachhq/invoicing/pkg/api"
)

func newGeneratePeriodCommand() *Command {
	cmd := &Command{
		Name:        "generate-period",
		Description: "Generate invoices for every billable client",
		Flags:       flag.NewFlagSet("generate-period", flag.ContinueOnError),
		Run:         runGeneratePeriod,
	}

	addServerFlag(cmd.Flags)
	cmd.Flags.Int("month", 0, "Billing month (1-12)")
	cmd.Flags.Int("year", 0, "Billing year")
	cmd.Flags.Int("concurrency", 0, "Clients generated in parallel (server default when 0)")
	cmd.Flags.Bool("json", false, "Print the full response as JSON")

	return cmd
}

func runGeneratePeriod(args []string) error {
	cmd := newGeneratePeriodCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	month, year, err := periodFlags(cmd.Flags)
	if err != nil {
		return err
	}
	req := api.GeneratePeriodRequest{
		Month:       month,
		Year:        year,
		Concurrency: cmd.Flags.Lookup("concurrency").Value.(flag.Getter).Get().(int),
	}

	client := newAPIClient(flagString(cmd.Flags, "server"))
	var resp api.GeneratePeriodResponse
	if err := client.do("POST", "/invoices/generate", req, &resp); err != nil {
		return fmt.Errorf("failed to generate invoices: %w", err)
	}

	if flagBool(cmd.Flags, "json") {
		return printJSON(resp)
	}

	for _, r := range resp.Results {
		switch {
		case r.Error != "":
			fmt.Printf("  %-20s FAILED  %s\n", r.ClientID, r.Error)
		case r.Created:
			fmt.Printf("  %-20s created %s\n", r.ClientID, r.Number)
		default:
			fmt.Printf("  %-20s updated %s\n", r.ClientID, r.Number)
		}
	}
	fmt.Printf("Period %s: %d created, %d updated, %d failed\n",
		resp.Period, resp.Summary.Created, resp.Summary.Updated, resp.Summary.Failed)

	if resp.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d clients failed", resp.Summary.Failed, len(resp.Results))
	}
	return nil
}
