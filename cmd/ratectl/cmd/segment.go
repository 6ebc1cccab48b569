package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
)

type segmentFlags struct {
	start          string
	end            string
	windowsFile    string
	fallbackSub    string
	fallbackClient string
	date           string
}

func newSegmentCmd(opts *options) *cobra.Command {
	f := &segmentFlags{}
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Split a shift across the rate windows of a template",
		Long: `Split the interval --start..--end across the windows in --windows and
price each slice. An end at or before the start crosses midnight.

Minutes no window covers are priced at the fallback rates. --date enables
applicable_days gating by the weekday the shift starts on.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd.OutOrStdout(), opts, f)
		},
	}
	cmd.Flags().StringVar(&f.start, "start", "", "shift start, HH:MM")
	cmd.Flags().StringVar(&f.end, "end", "", "shift end, HH:MM")
	cmd.Flags().StringVar(&f.windowsFile, "windows", "", "rate template file (YAML or JSON)")
	cmd.Flags().StringVar(&f.fallbackSub, "fallback-sub", "0", "subcontractor rate for uncovered minutes")
	cmd.Flags().StringVar(&f.fallbackClient, "fallback-client", "0", "client rate for uncovered minutes")
	cmd.Flags().StringVar(&f.date, "date", "", "shift date, YYYY-MM-DD (optional)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runSegment(out io.Writer, opts *options, f *segmentFlags) error {
	in := pricing.SegmentInput{StartTime: f.start, EndTime: f.end}

	if f.windowsFile != "" {
		data, err := readFile(f.windowsFile)
		if err != nil {
			return err
		}
		tmpl, err := factory.ParseRateTemplate(data)
		if err != nil {
			return err
		}
		in.Windows = tmpl.Windows
	}

	var err error
	if in.FallbackSubRate, err = parseAmount("fallback-sub", f.fallbackSub); err != nil {
		return err
	}
	if in.FallbackClientRate, err = parseAmount("fallback-client", f.fallbackClient); err != nil {
		return err
	}
	if f.date != "" {
		date, err := generic.ParseDate(f.date)
		if err != nil {
			return err
		}
		in.Date = &date
	}

	trc, err := pricing.Segment(in)
	if err != nil {
		return err
	}
	opts.logger.Debug("segmented shift")

	if opts.format == formatJSON {
		return writeJSON(out, segmentOutput{
			TotalHours:        trc.TotalHours,
			SubcontractorCost: trc.SubcontractorCost,
			ClientBill:        trc.ClientBill,
			Breakdown:         breakdownOutputs(trc.Breakdown),
		})
	}
	writeBreakdown(out, trc.Breakdown)
	fmt.Fprintf(out, "\nTotal: %s h  cost %s  bill %s\n",
		trc.TotalHours.StringFixed(2), trc.SubcontractorCost.StringFixed(2), trc.ClientBill.StringFixed(2))
	return nil
}

type segmentOutput struct {
	TotalHours        decimal.Decimal   `json:"total_hours"`
	SubcontractorCost decimal.Decimal   `json:"subcontractor_cost"`
	ClientBill        decimal.Decimal   `json:"client_bill"`
	Breakdown         []breakdownOutput `json:"breakdown"`
}

type breakdownOutput struct {
	Label      string          `json:"label"`
	Minutes    int             `json:"minutes"`
	SubRate    decimal.Decimal `json:"sub_rate"`
	ClientRate decimal.Decimal `json:"client_rate"`
	SubCost    decimal.Decimal `json:"sub_cost"`
	ClientCost decimal.Decimal `json:"client_cost"`
}

func breakdownOutputs(entries []pricing.BreakdownEntry) []breakdownOutput {
	out := make([]breakdownOutput, len(entries))
	for i, e := range entries {
		out[i] = breakdownOutput{
			Label:      e.Label,
			Minutes:    e.Minutes,
			SubRate:    e.SubRate,
			ClientRate: e.ClientRate,
			SubCost:    e.SubCost,
			ClientCost: e.ClientCost,
		}
	}
	return out
}

func writeBreakdown(out io.Writer, entries []pricing.BreakdownEntry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tMINUTES\tSUB RATE\tCLIENT RATE\tSUB COST\tCLIENT COST")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Label, e.Minutes,
			e.SubRate.String(), e.ClientRate.String(),
			e.SubCost.StringFixed(2), e.ClientCost.StringFixed(2))
	}
	_ = tw.Flush()
}

func parseAmount(flag, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &generic.InvalidValueError{Field: flag, Value: s}
	}
	return d, nil
}
