package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func hourly(base, ot string) rates.ResolvedRate {
	return rates.ResolvedRate{
		Label:    rates.LabelDay,
		Mode:     rates.ModeHourly,
		BaseRate: money(base),
		OTRate:   money(ot),
		Currency: generic.CurrencyGBP,
	}
}

func perShift(base string) rates.ResolvedRate {
	return rates.ResolvedRate{
		Label:    rates.LabelShift,
		Mode:     rates.ModeShift,
		BaseRate: money(base),
		Currency: generic.CurrencyGBP,
	}
}

// assertMarginIdentity checks clientBill - subCost == margin to the cent.
func assertMarginIdentity(t *testing.T, calc pricing.PriceCalculation) {
	t.Helper()
	assert.True(t, calc.ClientBill.Sub(calc.SubCost).Equal(calc.MarginValue),
		"bill %s - cost %s != margin %s", calc.ClientBill, calc.SubCost, calc.MarginValue)
}

// =============================================================================
// CALCULATE
// =============================================================================

func TestCalculate_HourlyWithOvertime(t *testing.T) {
	// GIVEN: sub 20/30, client 30/45, 8 regular + 2 OT hours
	calc, err := pricing.Calculate(pricing.CalculateInput{
		Sub:          hourly("20", "30"),
		Client:       hourly("30", "45"),
		ShiftType:    rates.ShiftWeekdayDay,
		HoursRegular: money("8"),
		HoursOT:      money("2"),
	})

	// THEN
	require.NoError(t, err)
	assertMoney(t, "220", calc.SubCost)
	assertMoney(t, "330", calc.ClientBill)
	assertMoney(t, "110", calc.MarginValue)
	assertMoney(t, "33.33", calc.MarginPct)
	assertMoney(t, "45", calc.ClientOTBillRate)
	assert.Equal(t, generic.CurrencyGBP, calc.Currency)
	assertMarginIdentity(t, calc)
}

func TestCalculate_ShiftModeIgnoresOvertime(t *testing.T) {
	// GIVEN: per-shift rates and OT hours the caller should not have sent
	calc, err := pricing.Calculate(pricing.CalculateInput{
		Sub:          perShift("180"),
		Client:       perShift("250"),
		ShiftType:    rates.ShiftFlat,
		HoursRegular: money("1"),
		HoursOT:      money("3"),
	})

	// THEN: OT rates are zero and OT hours add nothing
	require.NoError(t, err)
	assert.True(t, calc.SubOTRate.IsZero())
	assert.True(t, calc.ClientOTBillRate.IsZero())
	assertMoney(t, "180", calc.SubCost)
	assertMoney(t, "250", calc.ClientBill)
	assertMoney(t, "28", calc.MarginPct)
}

func TestCalculate_DailyModeCountsDays(t *testing.T) {
	daily := func(base string) rates.ResolvedRate {
		r := perShift(base)
		r.Mode = rates.ModeDaily
		r.Label = rates.LabelDaily
		r.OTRate = money("99") // never used
		return r
	}

	calc, err := pricing.Calculate(pricing.CalculateInput{
		Sub:          daily("200"),
		Client:       daily("260"),
		ShiftType:    rates.ShiftDaily,
		HoursRegular: money("3"),
	})

	require.NoError(t, err)
	assert.True(t, calc.SubOTRate.IsZero())
	assertMoney(t, "600", calc.SubCost)
	assertMoney(t, "780", calc.ClientBill)
}

func TestCalculate_RoundsOnlyFinalFigures(t *testing.T) {
	// GIVEN: rates with more places than money keeps
	calc, err := pricing.Calculate(pricing.CalculateInput{
		Sub:          hourly("10.333", "0"),
		Client:       hourly("15.555", "0"),
		ShiftType:    rates.ShiftWeekdayDay,
		HoursRegular: money("3"),
		HoursOT:      decimal.Zero,
	})

	// THEN: 30.999 → 31.00, 46.665 → 46.67, margin from the rounded pair
	require.NoError(t, err)
	assertMoney(t, "31", calc.SubCost)
	assertMoney(t, "46.67", calc.ClientBill)
	assertMoney(t, "15.67", calc.MarginValue)
	assertMoney(t, "33.58", calc.MarginPct)
	assertMarginIdentity(t, calc)
}

func TestCalculate_ZeroBillHasZeroPercent(t *testing.T) {
	calc, err := pricing.Calculate(pricing.CalculateInput{
		Sub:          hourly("20", "30"),
		Client:       hourly("0", "0"),
		ShiftType:    rates.ShiftWeekdayDay,
		HoursRegular: money("1"),
	})

	require.NoError(t, err)
	assertMoney(t, "-20", calc.MarginValue)
	assert.True(t, calc.MarginPct.IsZero())
}

func TestCalculate_Rejections(t *testing.T) {
	base := pricing.CalculateInput{
		Sub:          hourly("20", "30"),
		Client:       hourly("30", "45"),
		ShiftType:    rates.ShiftWeekdayDay,
		HoursRegular: money("8"),
	}

	t.Run("unmapped shift type", func(t *testing.T) {
		in := base
		in.ShiftType = "HALF_TERM"
		_, err := pricing.Calculate(in)
		assert.True(t, generic.IsInvariantViolation(err))
	})

	t.Run("negative hours", func(t *testing.T) {
		in := base
		in.HoursOT = money("-1")
		_, err := pricing.Calculate(in)
		assert.ErrorIs(t, err, generic.ErrInvalidValue)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		in := base
		in.Client.Currency = generic.CurrencyEUR
		_, err := pricing.Calculate(in)
		assert.ErrorIs(t, err, generic.ErrCurrencyMismatch)
	})
}

func TestCalculate_Deterministic(t *testing.T) {
	in := pricing.CalculateInput{
		Sub:          hourly("19.99", "29.985"),
		Client:       hourly("27.5", "41.25"),
		ShiftType:    rates.ShiftSaturday,
		HoursRegular: money("7.25"),
		HoursOT:      money("1.5"),
	}
	first, err := pricing.Calculate(in)
	require.NoError(t, err)
	second, err := pricing.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// =============================================================================
// MINIMUM HOURS
// =============================================================================

func TestApplyMinHours(t *testing.T) {
	cases := []struct {
		name            string
		reg, ot, min    string
		wantReg, wantOT string
	}{
		{"short shift padded into regular", "4", "0", "6", "6", "0"},
		{"overtime counts toward minimum", "3", "2", "6", "4", "2"},
		{"already above minimum", "8", "1", "6", "8", "1"},
		{"exactly minimum", "6", "0", "6", "6", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, ot := pricing.ApplyMinHours(money(tc.reg), money(tc.ot), money(tc.min))
			assertMoney(t, tc.wantReg, reg)
			assertMoney(t, tc.wantOT, ot)
		})
	}
}
