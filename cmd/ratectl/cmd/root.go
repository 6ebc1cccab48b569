// Package cmd provides the CLI commands for ratectl.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/logging"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	verbose bool
	format  string
	logger  *zap.Logger
}

// NewRootCmd builds the command tree. Each call returns an independent
// tree so tests can run commands side by side.
func NewRootCmd() *cobra.Command {
	opts := &options{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "ratectl",
		Short: "Segment shifts, quote prices and validate rate files offline",
		Long: `ratectl runs the billing engine's pricing core against local files.

Rate windows and rate cards are read from YAML or JSON. Nothing is written
to a database: quote loads the cards into memory for the call.

Examples:
  ratectl segment --start 18:00 --end 02:00 --windows care-home.yaml --fallback-sub 18 --fallback-client 27
  ratectl quote --cards cards.yaml --company acme --sub sub-1 --client client-1 --role nurse --shift WEEKDAY_DAY --date 2025-03-11 --hours 8
  ratectl validate --cards cards.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != formatTable && opts.format != formatJSON {
				return fmt.Errorf("unknown format %q (want table or json)", opts.format)
			}
			cfg := logging.DefaultConfig()
			cfg.Format = "console"
			cfg.Level = "warn"
			if opts.verbose {
				cfg.Level = "debug"
			}
			logger, err := logging.NewWithWriter(cfg, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}
			opts.logger = logger
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", formatTable, "output format (table, json)")

	root.AddCommand(newSegmentCmd(opts))
	root.AddCommand(newQuoteCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	return root
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
