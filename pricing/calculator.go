/*
Package pricing turns resolved rates and worked time into cost and bill.

PURPOSE:
  Given the rate resolved for the paying side (subcontractor) and the rate
  resolved for the billing side (client), this package computes what is
  paid, what is charged and the margin between them. Two paths exist:

    1. Calculate: flat hourly/OT, per-shift or per-day pricing
    2. Segment:   split a clock interval across time-of-day rate windows

  Both produce the same PriceCalculation shape, which callers denormalize
  onto the record they are pricing (a time log).

ROUNDING DISCIPLINE:
  Intermediate products are never rounded. Only the final subCost,
  clientBill, marginValue and marginPct are rounded to two places, once.
  The margin is taken from the rounded bill and cost so that
  clientBill - subCost == marginValue holds to the cent on every record.

PURITY:
  Calculate, ApplyMinHours and Segment do no I/O and hold no state. The
  same input always yields the same output.

SEE ALSO:
  - segment.go: Time-window segmentation
  - engine.go: Resolves both sides, then prices
  - reporting/aggregator.go: Relies on the margin identity
*/
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// PRICE CALCULATION - Output shape, never persisted on its own
// =============================================================================

type PriceCalculation struct {
	ShiftType rates.ShiftType

	SubBaseRate      decimal.Decimal
	SubOTRate        decimal.Decimal
	ClientBillRate   decimal.Decimal
	ClientOTBillRate decimal.Decimal

	SubCost     decimal.Decimal
	ClientBill  decimal.Decimal
	MarginValue decimal.Decimal
	MarginPct   decimal.Decimal

	Currency generic.Currency
}

// CalculateInput carries one pricing call. For SHIFT and DAILY rates
// HoursRegular is a unit count (shifts or days) and HoursOT is ignored.
type CalculateInput struct {
	Sub          rates.ResolvedRate
	Client       rates.ResolvedRate
	ShiftType    rates.ShiftType
	HoursRegular decimal.Decimal
	HoursOT      decimal.Decimal
}

// Calculate prices one line item on both sides.
func Calculate(in CalculateInput) (PriceCalculation, error) {
	if _, err := rates.LabelFor(in.ShiftType); err != nil {
		return PriceCalculation{}, err
	}
	if in.HoursRegular.IsNegative() {
		return PriceCalculation{}, &generic.InvalidValueError{Field: "hours_regular", Value: in.HoursRegular.String()}
	}
	if in.HoursOT.IsNegative() {
		return PriceCalculation{}, &generic.InvalidValueError{Field: "hours_ot", Value: in.HoursOT.String()}
	}
	currency, err := sharedCurrency(in.Sub, in.Client)
	if err != nil {
		return PriceCalculation{}, err
	}

	subBase, subOT := effectiveRates(in.Sub)
	clientBase, clientOT := effectiveRates(in.Client)

	subCost := sideCost(in.Sub.Mode, subBase, subOT, in.HoursRegular, in.HoursOT)
	clientBill := sideCost(in.Client.Mode, clientBase, clientOT, in.HoursRegular, in.HoursOT)

	calc := PriceCalculation{
		ShiftType:        in.ShiftType,
		SubBaseRate:      subBase,
		SubOTRate:        subOT,
		ClientBillRate:   clientBase,
		ClientOTBillRate: clientOT,
		Currency:         currency,
	}
	calc.applyTotals(subCost, clientBill)
	return calc, nil
}

// applyTotals rounds the two raw totals and derives the margin from them.
func (c *PriceCalculation) applyTotals(rawSubCost, rawClientBill decimal.Decimal) {
	c.SubCost = generic.RoundMoney(rawSubCost)
	c.ClientBill = generic.RoundMoney(rawClientBill)
	c.MarginValue = c.ClientBill.Sub(c.SubCost)
	c.MarginPct = generic.RoundMoney(generic.Percent(c.MarginValue, c.ClientBill))
}

// effectiveRates forces OT to zero for unit-based modes.
func effectiveRates(r rates.ResolvedRate) (base, ot decimal.Decimal) {
	if r.Mode.IsUnitBased() {
		return r.BaseRate, decimal.Zero
	}
	return r.BaseRate, r.OTRate
}

func sideCost(mode rates.RateMode, base, ot, regular, overtime decimal.Decimal) decimal.Decimal {
	if mode.IsUnitBased() {
		return base.Mul(regular)
	}
	return base.Mul(regular).Add(ot.Mul(overtime))
}

func sharedCurrency(sub, client rates.ResolvedRate) (generic.Currency, error) {
	switch {
	case sub.Currency == "" && client.Currency == "":
		return generic.DefaultCurrency, nil
	case sub.Currency == "":
		return client.Currency, nil
	case client.Currency == "" || sub.Currency == client.Currency:
		return sub.Currency, nil
	}
	return "", fmt.Errorf("%w: subcontractor rate in %s, client rate in %s",
		generic.ErrCurrencyMismatch, sub.Currency, client.Currency)
}

// =============================================================================
// MINIMUM HOURS
// =============================================================================

// ApplyMinHours pads a shortfall against minHours into the regular bucket,
// never into overtime, so the minimum is billed at the regular rate.
func ApplyMinHours(hoursRegular, hoursOT, minHours decimal.Decimal) (regular, ot decimal.Decimal) {
	worked := hoursRegular.Add(hoursOT)
	if worked.LessThan(minHours) {
		return hoursRegular.Add(minHours.Sub(worked)), hoursOT
	}
	return hoursRegular, hoursOT
}
