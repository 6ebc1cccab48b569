/*
engine.go - Resolve-then-price flow used by the API and the CLI

PURPOSE:
  A pricing call needs two rates: the subcontractor's (what is paid) and
  the client's (what is charged). The Engine resolves both for the same
  company, role, shift type and date, then either:

    - segments the clock interval when rate windows are supplied, or
    - calculates flat hourly/OT, per-shift or per-day pricing.

PRECONDITIONS:
  If either side has no effective rate card, the call fails with a
  MissingRateError and nothing is priced or persisted. A missing card is
  never priced as zero.

MIXED MODES:
  Both sides must agree on what hours_regular counts. A unit-based card
  (SHIFT or DAILY) paired with an HOURLY card is rejected rather than
  billing one side a single hour.

MINIMUM HOURS:
  For hourly pricing, the request's MinHours (or else the client card's
  MinHours) pads a short shift into regular hours before calculation.
  Segmented pricing bills the actual clock minutes and ignores MinHours.

SEE ALSO:
  - calculator.go, segment.go: The pure calculations
  - rates/resolver.go: Effective-dated lookup
*/
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/rates"
)

// MissingRateError reports which side of a price had no effective card.
type MissingRateError struct {
	Side  generic.TargetType
	Query rates.Query
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("no %s rate card effective for %s", e.Side, e.Query)
}

func (e *MissingRateError) Unwrap() error {
	return generic.ErrRateCardNotFound
}

// Request is one line item to price.
type Request struct {
	CompanyID       generic.CompanyID
	SubcontractorID generic.PartyID
	ClientID        generic.PartyID
	RoleID          generic.RoleID
	ShiftType       rates.ShiftType
	Date            generic.TimePoint

	// Either a clock interval...
	StartTime string
	EndTime   string
	// ...or explicit hours. Explicit hours win when both are given.
	// For SHIFT/DAILY rates HoursRegular counts units and defaults to 1.
	HoursRegular *decimal.Decimal
	HoursOT      *decimal.Decimal

	MinHours *decimal.Decimal
	Windows  []TimeBasedRate
}

// Quote is the priced result with the inputs that produced it.
type Quote struct {
	Price        PriceCalculation
	Breakdown    []BreakdownEntry
	Segmented    bool
	HoursRegular decimal.Decimal
	HoursOT      decimal.Decimal
	Sub          rates.ResolvedRate
	Client       rates.ResolvedRate
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	Resolver *rates.Resolver
	Logs     TimeLogStore
	Logger   *zap.Logger

	Now   func() time.Time
	NewID func() string
}

func NewEngine(resolver *rates.Resolver, logs TimeLogStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Resolver: resolver,
		Logs:     logs,
		Logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Price resolves both sides and prices the request.
func (e *Engine) Price(ctx context.Context, req Request) (Quote, error) {
	sub, err := e.resolveSide(ctx, req, generic.TargetSubcontractor, req.SubcontractorID)
	if err != nil {
		return Quote{}, err
	}
	client, err := e.resolveSide(ctx, req, generic.TargetClient, req.ClientID)
	if err != nil {
		return Quote{}, err
	}

	if len(req.Windows) > 0 {
		return e.priceSegmented(req, sub, client)
	}
	return e.priceFlat(req, sub, client)
}

func (e *Engine) resolveSide(ctx context.Context, req Request, side generic.TargetType, party generic.PartyID) (rates.ResolvedRate, error) {
	q := rates.Query{
		CompanyID:  req.CompanyID,
		TargetType: side,
		TargetID:   party,
		RoleID:     req.RoleID,
		ShiftType:  req.ShiftType,
		AsOf:       req.Date,
	}
	rate, found, err := e.Resolver.Resolve(ctx, q)
	if err != nil {
		if generic.IsInvariantViolation(err) {
			e.Logger.Error("rate resolution invariant violated", zap.String("query", q.String()), zap.Error(err))
		}
		return rates.ResolvedRate{}, err
	}
	if !found {
		e.Logger.Warn("no effective rate card",
			zap.String("side", string(side)),
			zap.String("query", q.String()),
		)
		return rates.ResolvedRate{}, &MissingRateError{Side: side, Query: q}
	}
	return rate, nil
}

func (e *Engine) priceSegmented(req Request, sub, client rates.ResolvedRate) (Quote, error) {
	if sub.Mode != rates.ModeHourly || client.Mode != rates.ModeHourly {
		return Quote{}, &generic.InvalidValueError{
			Field: "windows",
			Value: fmt.Sprintf("%s/%s", sub.Mode, client.Mode),
			Err:   fmt.Errorf("%w: rate windows need hourly rates on both sides", generic.ErrInvalidValue),
		}
	}
	if req.StartTime == "" || req.EndTime == "" {
		return Quote{}, &generic.InvalidValueError{Field: "start_time/end_time", Value: "", Err: generic.ErrInvalidClockTime}
	}

	date := req.Date
	trc, err := Segment(SegmentInput{
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		Windows:            req.Windows,
		FallbackSubRate:    sub.BaseRate,
		FallbackClientRate: client.BaseRate,
		Date:               &date,
	})
	if err != nil {
		return Quote{}, err
	}
	price, err := FromTimeRange(trc, sub, client, req.ShiftType)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Price:        price,
		Breakdown:    trc.Breakdown,
		Segmented:    true,
		HoursRegular: trc.TotalHours,
		HoursOT:      decimal.Zero,
		Sub:          sub,
		Client:       client,
	}, nil
}

func (e *Engine) priceFlat(req Request, sub, client rates.ResolvedRate) (Quote, error) {
	unitBased := sub.Mode.IsUnitBased()
	if unitBased != client.Mode.IsUnitBased() {
		return Quote{}, &generic.InvalidValueError{
			Field: "rate_mode",
			Value: fmt.Sprintf("%s/%s", sub.Mode, client.Mode),
			Err:   fmt.Errorf("%w: one side counts units, the other hours", generic.ErrInvalidValue),
		}
	}

	regular, ot, err := requestHours(req, unitBased)
	if err != nil {
		return Quote{}, err
	}
	if !unitBased {
		minHours := req.MinHours
		if minHours == nil {
			minHours = client.MinHours
		}
		if minHours != nil {
			regular, ot = ApplyMinHours(regular, ot, *minHours)
		}
	}

	price, err := Calculate(CalculateInput{
		Sub:          sub,
		Client:       client,
		ShiftType:    req.ShiftType,
		HoursRegular: regular,
		HoursOT:      ot,
	})
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Price:        price,
		HoursRegular: regular,
		HoursOT:      ot,
		Sub:          sub,
		Client:       client,
	}, nil
}

// requestHours picks explicit hours, else the clock interval length, else
// one unit for unit-based rates.
func requestHours(req Request, unitBased bool) (regular, ot decimal.Decimal, err error) {
	ot = decimal.Zero
	if req.HoursOT != nil {
		ot = *req.HoursOT
	}
	switch {
	case req.HoursRegular != nil:
		return *req.HoursRegular, ot, nil
	case unitBased:
		return decimal.NewFromInt(1), ot, nil
	case req.StartTime != "" && req.EndTime != "":
		interval, err := generic.ParseClockInterval(req.StartTime, req.EndTime)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		return generic.MinutesToHours(interval.Minutes), ot, nil
	}
	return decimal.Zero, decimal.Zero, &generic.InvalidValueError{Field: "hours_regular", Value: ""}
}

// =============================================================================
// TIME LOGS
// =============================================================================

// PriceTimeLog prices a request and persists it as a draft time log.
// Nothing is written when pricing fails.
func (e *Engine) PriceTimeLog(ctx context.Context, req Request) (TimeLog, error) {
	if e.Logs == nil {
		return TimeLog{}, fmt.Errorf("price time log: no time log store configured")
	}
	quote, err := e.Price(ctx, req)
	if err != nil {
		return TimeLog{}, err
	}

	log := TimeLog{
		ID:               generic.TimeLogID(e.NewID()),
		CompanyID:        req.CompanyID,
		SubcontractorID:  req.SubcontractorID,
		ClientID:         req.ClientID,
		RoleID:           req.RoleID,
		ShiftType:        req.ShiftType,
		Date:             req.Date,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		HoursRegular:     quote.HoursRegular,
		HoursOT:          quote.HoursOT,
		Status:           StatusDraft,
		Price:            quote.Price,
		Breakdown:        quote.Breakdown,
		SubRateCardID:    quote.Sub.SourceID,
		ClientRateCardID: quote.Client.SourceID,
		CreatedAt:        e.Now().UTC(),
	}
	if err := e.Logs.SaveTimeLog(ctx, log); err != nil {
		return TimeLog{}, fmt.Errorf("save time log: %w", err)
	}

	e.Logger.Info("time log priced",
		zap.String("time_log_id", string(log.ID)),
		zap.String("company_id", string(log.CompanyID)),
		zap.String("sub_cost", log.Price.SubCost.StringFixed(2)),
		zap.String("client_bill", log.Price.ClientBill.StringFixed(2)),
		zap.Bool("segmented", quote.Segmented),
	)
	return log, nil
}
