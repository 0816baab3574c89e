package cli

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/outreachhq/invoicing/pkg/ledger"
)

func newDownloadCommand() *Command {
	cmd := &Command{
		Name:        "download",
		Description: "Download an invoice's PDF document",
		Flags:       flag.NewFlagSet("download", flag.ContinueOnError),
		Run:         runDownload,
	}

	addServerFlag(cmd.Flags)
	cmd.Flags.String("id", "", "Invoice ID")
	cmd.Flags.String("out", "", "Output file (defaults to <invoice number>.pdf in the current directory)")

	return cmd
}

func runDownload(args []string) error {
	cmd := newDownloadCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id := flagString(cmd.Flags, "id")
	if id == "" {
		return fmt.Errorf("id is required")
	}

	client := newAPIClient(flagString(cmd.Flags, "server"))
	escaped := url.PathEscape(id)

	out := flagString(cmd.Flags, "out")
	if out == "" {
		var inv ledger.Invoice
		if err := client.do("GET", "/invoices/"+escaped, nil, &inv); err != nil {
			return fmt.Errorf("failed to get invoice: %w", err)
		}
		out = inv.InvoiceNumber + ".pdf"
	}

	data, err := client.download("/invoices/" + escaped + "/document?disposition=attachment")
	if err != nil {
		return fmt.Errorf("failed to download document: %w", err)
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Saved %s (%d bytes)\n", out, len(data))
	return nil
}
