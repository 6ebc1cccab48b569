package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
	"github.com/warp/billing-engine/store/memory"
)

type quoteFlags struct {
	cardsFile   string
	windowsFile string
	company     string
	sub         string
	client      string
	role        string
	shift       string
	date        string
	start       string
	end         string
	hours       string
	ot          string
	minHours    string
}

func newQuoteCmd(opts *options) *cobra.Command {
	f := &quoteFlags{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price one line item against a file of rate cards",
		Long: `Load --cards into memory, resolve the subcontractor and client rates
effective on --date, then price either a clock interval (--start/--end) or
explicit hours (--hours/--ot). With --windows the interval is segmented.

A side with no effective card fails the quote; it is never priced as zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(cmd.Context(), cmd.OutOrStdout(), opts, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.cardsFile, "cards", "", "rate cards file (YAML or JSON)")
	flags.StringVar(&f.windowsFile, "windows", "", "rate template file for segmented pricing")
	flags.StringVar(&f.company, "company", "", "company ID")
	flags.StringVar(&f.sub, "sub", "", "subcontractor ID")
	flags.StringVar(&f.client, "client", "", "client ID")
	flags.StringVar(&f.role, "role", "", "role ID")
	flags.StringVar(&f.shift, "shift", "", "shift type, e.g. WEEKDAY_DAY")
	flags.StringVar(&f.date, "date", "", "work date, YYYY-MM-DD")
	flags.StringVar(&f.start, "start", "", "shift start, HH:MM")
	flags.StringVar(&f.end, "end", "", "shift end, HH:MM")
	flags.StringVar(&f.hours, "hours", "", "regular hours (units for SHIFT/DAILY rates)")
	flags.StringVar(&f.ot, "ot", "", "overtime hours")
	flags.StringVar(&f.minHours, "min-hours", "", "minimum billable hours, overrides the client card")
	for _, name := range []string{"cards", "company", "sub", "client", "role", "shift", "date"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.MarkFlagsRequiredTogether("start", "end")
	return cmd
}

func runQuote(ctx context.Context, out io.Writer, opts *options, f *quoteFlags) error {
	store, err := loadCards(ctx, f.cardsFile)
	if err != nil {
		return err
	}

	req, err := f.request()
	if err != nil {
		return err
	}
	engine := pricing.NewEngine(rates.NewResolver(store), store, opts.logger)
	quote, err := engine.Price(ctx, req)
	if err != nil {
		return err
	}

	if opts.format == formatJSON {
		return writeJSON(out, quoteOutput{
			SubCost:          quote.Price.SubCost,
			ClientBill:       quote.Price.ClientBill,
			MarginValue:      quote.Price.MarginValue,
			MarginPct:        quote.Price.MarginPct,
			Currency:         string(quote.Price.Currency),
			HoursRegular:     quote.HoursRegular,
			HoursOT:          quote.HoursOT,
			Segmented:        quote.Segmented,
			SubRateCardID:    string(quote.Sub.SourceID),
			ClientRateCardID: string(quote.Client.SourceID),
			Breakdown:        breakdownOutputs(quote.Breakdown),
		})
	}

	if quote.Segmented {
		writeBreakdown(out, quote.Breakdown)
		fmt.Fprintln(out)
	}
	p := quote.Price
	fmt.Fprintf(out, "Rates:  sub %s (%s)  client %s (%s)\n",
		quote.Sub.BaseRate, quote.Sub.SourceID, quote.Client.BaseRate, quote.Client.SourceID)
	fmt.Fprintf(out, "Hours:  regular %s  overtime %s\n", quote.HoursRegular, quote.HoursOT)
	fmt.Fprintf(out, "Cost:   %s %s\n", p.SubCost.StringFixed(2), p.Currency)
	fmt.Fprintf(out, "Bill:   %s %s\n", p.ClientBill.StringFixed(2), p.Currency)
	fmt.Fprintf(out, "Margin: %s %s (%s%%)\n", p.MarginValue.StringFixed(2), p.Currency, p.MarginPct.StringFixed(2))
	return nil
}

type quoteOutput struct {
	SubCost          decimal.Decimal   `json:"sub_cost"`
	ClientBill       decimal.Decimal   `json:"client_bill"`
	MarginValue      decimal.Decimal   `json:"margin_value"`
	MarginPct        decimal.Decimal   `json:"margin_pct"`
	Currency         string            `json:"currency"`
	HoursRegular     decimal.Decimal   `json:"hours_regular"`
	HoursOT          decimal.Decimal   `json:"hours_ot"`
	Segmented        bool              `json:"segmented"`
	SubRateCardID    string            `json:"sub_rate_card_id"`
	ClientRateCardID string            `json:"client_rate_card_id"`
	Breakdown        []breakdownOutput `json:"breakdown,omitempty"`
}

func (f *quoteFlags) request() (pricing.Request, error) {
	shiftType, err := rates.ParseShiftType(f.shift)
	if err != nil {
		return pricing.Request{}, err
	}
	date, err := generic.ParseDate(f.date)
	if err != nil {
		return pricing.Request{}, err
	}
	req := pricing.Request{
		CompanyID:       generic.CompanyID(f.company),
		SubcontractorID: generic.PartyID(f.sub),
		ClientID:        generic.PartyID(f.client),
		RoleID:          generic.RoleID(f.role),
		ShiftType:       shiftType,
		Date:            date,
		StartTime:       f.start,
		EndTime:         f.end,
	}
	if req.HoursRegular, err = optionalAmount("hours", f.hours); err != nil {
		return pricing.Request{}, err
	}
	if req.HoursOT, err = optionalAmount("ot", f.ot); err != nil {
		return pricing.Request{}, err
	}
	if req.MinHours, err = optionalAmount("min-hours", f.minHours); err != nil {
		return pricing.Request{}, err
	}
	if f.windowsFile != "" {
		data, err := readFile(f.windowsFile)
		if err != nil {
			return pricing.Request{}, err
		}
		tmpl, err := factory.ParseRateTemplate(data)
		if err != nil {
			return pricing.Request{}, err
		}
		req.Windows = tmpl.Windows
	}
	return req, nil
}

// loadCards parses a card file into a fresh memory store. Overlapping
// versions in the file fail here, the same way they would on a server.
func loadCards(ctx context.Context, path string) (*memory.Store, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cards, err := factory.ParseRateCards(data)
	if err != nil {
		return nil, err
	}
	store := memory.New()
	for _, c := range cards {
		if err := store.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("rate card %s: %w", c.ID, err)
		}
	}
	return store, nil
}

func optionalAmount(flag, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseAmount(flag, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
