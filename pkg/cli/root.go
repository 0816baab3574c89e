package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "invoicectl",
		Description: "invoicectl - generate and manage client invoices",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("invoicectl", flag.ExitOnError),
	}

	// Add subcommands
	root.Subcommands["generate"] = newGenerateCommand()
	root.Subcommands["generate-period"] = newGeneratePeriodCommand()
	root.Subcommands["list"] = newListCommand()
	root.Subcommands["set-status"] = newSetStatusCommand()
	root.Subcommands["download"] = newDownloadCommand()
	root.Subcommands["render"] = newRenderCommand()
	root.Subcommands["sweep-overdue"] = newSweepOverdueCommand()

	return root
}

// Execute runs the command
func (c *Command) Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range names {
		fmt.Printf("  %-17s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// flagString reads a parsed string flag
func flagString(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.String()
}
