package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/rates"
)

type validateFlags struct {
	windowsFile string
	cardsFile   string
}

func newValidateCmd(opts *options) *cobra.Command {
	f := &validateFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a rate template or a rate card file",
		Long: `Validate --windows (clock format, weekday names, no overlapping windows)
or --cards (field rules per rate mode, no overlapping versions of a key).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, f)
		},
	}
	cmd.Flags().StringVar(&f.windowsFile, "windows", "", "rate template file")
	cmd.Flags().StringVar(&f.cardsFile, "cards", "", "rate cards file")
	cmd.MarkFlagsOneRequired("windows", "cards")
	cmd.MarkFlagsMutuallyExclusive("windows", "cards")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *options, f *validateFlags) error {
	out := cmd.OutOrStdout()
	switch {
	case f.windowsFile != "":
		return validateWindows(out, opts, f.windowsFile)
	case f.cardsFile != "":
		return validateCards(cmd, opts, f.cardsFile)
	}
	return errors.New("one of --windows or --cards is required")
}

func validateWindows(out io.Writer, opts *options, path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	tmpl, err := factory.ParseRateTemplate(data)
	if err != nil {
		return err
	}
	if opts.format == formatJSON {
		return writeJSON(out, map[string]any{"valid": true, "name": tmpl.Name, "windows": len(tmpl.Windows)})
	}
	fmt.Fprintf(out, "ok: template %q, %d windows\n", tmpl.Name, len(tmpl.Windows))
	return nil
}

func validateCards(cmd *cobra.Command, opts *options, path string) error {
	store, err := loadCards(cmd.Context(), path)
	if err != nil {
		return err
	}
	cards, err := store.List(cmd.Context(), rates.Filter{})
	if err != nil {
		return err
	}
	n := len(cards)

	out := cmd.OutOrStdout()
	if opts.format == formatJSON {
		return writeJSON(out, map[string]any{"valid": true, "rate_cards": n})
	}
	fmt.Fprintf(out, "ok: %d rate cards\n", n)
	return nil
}
