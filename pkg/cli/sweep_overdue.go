package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/outreachhq/invoicing/pkg/config"
	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/ledger"
	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/scheduler"
	"github.com/outreachhq/invoicing/pkg/storage/postgres"
)

func newSweepOverdueCommand() *Command {
	cmd := &Command{
		Name:        "sweep-overdue",
		Description: "Mark unpaid invoices past their due date as overdue (connects to the database)",
		Flags:       flag.NewFlagSet("sweep-overdue", flag.ContinueOnError),
		Run:         runSweepOverdue,
	}

	cmd.Flags.String("as-of", "", "Sweep as of this date (YYYY-MM-DD, defaults to today in UTC)")
	cmd.Flags.Duration("timeout", scheduler.DefaultSweepTimeout, "Sweep timeout")

	return cmd
}

func runSweepOverdue(args []string) error {
	cmd := newSweepOverdueCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	now := time.Now
	if asOf := flagString(cmd.Flags, "as-of"); asOf != "" {
		t, err := time.ParseInLocation(dateFormat, asOf, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid as-of date %q: %w", asOf, err)
		}
		now = func() time.Time { return t }
	}
	timeout := cmd.Flags.Lookup("timeout").Value.(flag.Getter).Get().(time.Duration)

	if err := config.LoadEnvFile(os.Getenv("INVOICING_ENV_FILE")); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.Storage, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	return sweepOverdue(ctx, ledger.New(store.Invoices, store.Blobs, document.NewSynthesizer(), ledger.WithLogger(logger)), logger, now)
}

func sweepOverdue(ctx context.Context, marker scheduler.OverdueMarker, logger *observability.Logger, now func() time.Time) error {
	sched := scheduler.New(marker, logger, scheduler.WithClock(now))
	n, err := sched.SweepOverdue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d invoice(s) overdue as of %s\n", n, scheduler.StartOfDay(now()).Format(dateFormat))
	return nil
}
