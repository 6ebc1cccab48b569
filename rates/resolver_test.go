package rates_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/rates"
	"github.com/warp/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(s string) generic.TimePoint { return generic.MustParseDate(s) }

func money(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func key(side generic.TargetType, label rates.RateLabel) rates.Key {
	party := generic.PartyID("sub-1")
	if side == generic.TargetClient {
		party = "client-1"
	}
	return rates.Key{
		CompanyID:  "acme",
		TargetType: side,
		TargetID:   party,
		RoleID:     "nurse",
		RateLabel:  label,
	}
}

func hourlyCard(id string, k rates.Key, rate string, period generic.EffectivePeriod) rates.RateCard {
	return rates.RateCard{
		ID:        generic.RateCardID(id),
		Key:       k,
		Terms:     rates.HourlyTerms{Rate: money(rate)},
		Effective: period,
		Currency:  generic.CurrencyGBP,
	}
}

func query(side generic.TargetType, st rates.ShiftType, asOf string) rates.Query {
	party := generic.PartyID("sub-1")
	if side == generic.TargetClient {
		party = "client-1"
	}
	return rates.Query{
		CompanyID:  "acme",
		TargetType: side,
		TargetID:   party,
		RoleID:     "nurse",
		ShiftType:  st,
		AsOf:       date(asOf),
	}
}

func newResolver(t *testing.T, cards ...rates.RateCard) *rates.Resolver {
	t.Helper()
	store := memory.New()
	for _, c := range cards {
		require.NoError(t, store.Save(context.Background(), c))
	}
	return rates.NewResolver(store)
}

// =============================================================================
// LABEL TABLE
// =============================================================================

func TestLabelFor_TotalOverShiftTypes(t *testing.T) {
	for _, st := range rates.AllShiftTypes {
		label, err := rates.LabelFor(st)
		require.NoError(t, err, "shift type %s must map to a label", st)
		assert.Contains(t, rates.AllRateLabels, label)
	}
}

func TestLabelFor_Mapping(t *testing.T) {
	cases := map[rates.ShiftType]rates.RateLabel{
		rates.ShiftWeekdayDay:   rates.LabelDay,
		rates.ShiftWeekdayNight: rates.LabelNight,
		rates.ShiftSaturday:     rates.LabelSaturday,
		rates.ShiftSunday:       rates.LabelSunday,
		rates.ShiftBankHoliday:  rates.LabelBankHoliday,
		rates.ShiftFlat:         rates.LabelShift,
		rates.ShiftDaily:        rates.LabelDaily,
	}
	for st, want := range cases {
		got, err := rates.LabelFor(st)
		require.NoError(t, err)
		assert.Equal(t, want, got, string(st))
	}
}

func TestLabelFor_UnmappedIsInvariantViolation(t *testing.T) {
	_, err := rates.LabelFor("HALF_TERM")

	var unmapped *generic.UnmappedShiftTypeError
	require.ErrorAs(t, err, &unmapped)
	assert.Equal(t, "HALF_TERM", unmapped.ShiftType)
	assert.True(t, generic.IsInvariantViolation(err))
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestResolve_PicksVersionEffectiveOnDate(t *testing.T) {
	// GIVEN: three consecutive versions of the same key
	k := key(generic.TargetSubcontractor, rates.LabelDay)
	resolver := newResolver(t,
		hourlyCard("v1", k, "18", generic.ClosedPeriod(date("2024-01-01"), date("2024-07-01"))),
		hourlyCard("v2", k, "19", generic.ClosedPeriod(date("2024-07-01"), date("2025-01-01"))),
		hourlyCard("v3", k, "20", generic.OpenPeriod(date("2025-01-01"))),
	)
	ctx := context.Background()

	cases := map[string]string{
		"2024-03-15": "v1",
		"2024-07-01": "v2", // newer version wins on a shared boundary day
		"2024-12-31": "v2",
		"2025-01-01": "v3",
		"2030-06-01": "v3",
	}
	for asOf, want := range cases {
		// WHEN
		rate, found, err := resolver.Resolve(ctx, query(generic.TargetSubcontractor, rates.ShiftWeekdayDay, asOf))

		// THEN
		require.NoError(t, err)
		require.True(t, found, asOf)
		assert.Equal(t, generic.RateCardID(want), rate.SourceID, asOf)
	}
}

func TestResolve_ExpiredNewestIsNeverReturned(t *testing.T) {
	// GIVEN: a closed 2024 version and a newer version that already lapsed
	k := key(generic.TargetSubcontractor, rates.LabelNight)
	resolver := newResolver(t,
		hourlyCard("old", k, "22", generic.ClosedPeriod(date("2024-01-01"), date("2025-01-01"))),
		hourlyCard("promo", k, "30", generic.ClosedPeriod(date("2025-01-01"), date("2025-02-01"))),
	)

	// WHEN: resolving after the promo lapsed
	_, found, err := resolver.Resolve(context.Background(), query(generic.TargetSubcontractor, rates.ShiftWeekdayNight, "2025-03-01"))

	// THEN: nothing is effective; the lapsed version is not used
	require.NoError(t, err)
	assert.False(t, found)
}

// stubStore returns fixed versions regardless of the key, as a store
// holding legacy overlapping rows would.
type stubStore []rates.RateCard

func (s stubStore) Versions(context.Context, rates.Key, generic.TimePoint) ([]rates.RateCard, error) {
	return s, nil
}

func TestResolve_ScansPastLapsedNewerVersions(t *testing.T) {
	// GIVEN: the newest started version lapsed, an older one is still open
	k := key(generic.TargetClient, rates.LabelDay)
	resolver := rates.NewResolver(stubStore{
		hourlyCard("lapsed", k, "35", generic.ClosedPeriod(date("2025-01-01"), date("2025-02-01"))),
		hourlyCard("base", k, "30", generic.OpenPeriod(date("2020-01-01"))),
	})

	// WHEN
	rate, found, err := resolver.Resolve(context.Background(), query(generic.TargetClient, rates.ShiftWeekdayDay, "2025-06-01"))

	// THEN: the scan continues to the older open version
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, generic.RateCardID("base"), rate.SourceID)
	assert.True(t, money("30").Equal(rate.BaseRate))
	assert.True(t, money("45").Equal(rate.OTRate), "OT defaults to 1.5 × base")
}

func TestResolve_FutureOnlyVersionIsNotFound(t *testing.T) {
	k := key(generic.TargetSubcontractor, rates.LabelDay)
	resolver := newResolver(t, hourlyCard("future", k, "25", generic.OpenPeriod(date("2026-01-01"))))

	_, found, err := resolver.Resolve(context.Background(), query(generic.TargetSubcontractor, rates.ShiftWeekdayDay, "2025-12-31"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_KeyIsolation(t *testing.T) {
	// GIVEN: only a DAY card for the subcontractor
	resolver := newResolver(t,
		hourlyCard("day", key(generic.TargetSubcontractor, rates.LabelDay), "20", generic.OpenPeriod(date("2025-01-01"))),
	)
	ctx := context.Background()

	// THEN: other labels and the other side do not see it
	_, found, err := resolver.Resolve(ctx, query(generic.TargetSubcontractor, rates.ShiftSaturday, "2025-06-01"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = resolver.Resolve(ctx, query(generic.TargetClient, rates.ShiftWeekdayDay, "2025-06-01"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_UnitBasedTermsForceZeroOT(t *testing.T) {
	shift := rates.RateCard{
		ID:        "flat",
		Key:       key(generic.TargetSubcontractor, rates.LabelShift),
		Terms:     rates.ShiftTerms{Rate: money("180")},
		Effective: generic.OpenPeriod(date("2025-01-01")),
	}
	daily := rates.RateCard{
		ID:        "daily",
		Key:       key(generic.TargetSubcontractor, rates.LabelDaily),
		Terms:     rates.DailyTerms{Rate: money("240")},
		Effective: generic.OpenPeriod(date("2025-01-01")),
	}
	resolver := newResolver(t, shift, daily)
	ctx := context.Background()

	rate, found, err := resolver.Resolve(ctx, query(generic.TargetSubcontractor, rates.ShiftFlat, "2025-02-01"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rates.ModeShift, rate.Mode)
	assert.True(t, rate.OTRate.IsZero())

	rate, found, err = resolver.Resolve(ctx, query(generic.TargetSubcontractor, rates.ShiftDaily, "2025-02-01"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rates.ModeDaily, rate.Mode)
	assert.True(t, money("240").Equal(rate.BaseRate))
	assert.True(t, rate.OTRate.IsZero())
}

func TestResolve_ExplicitOTRate(t *testing.T) {
	ot := money("27.5")
	card := hourlyCard("ot", key(generic.TargetSubcontractor, rates.LabelDay), "20", generic.OpenPeriod(date("2025-01-01")))
	card.Terms = rates.HourlyTerms{Rate: money("20"), OTRate: &ot}
	resolver := newResolver(t, card)

	rate, found, err := resolver.Resolve(context.Background(), query(generic.TargetSubcontractor, rates.ShiftWeekdayDay, "2025-01-01"))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, ot.Equal(rate.OTRate))
}

func TestResolve_InvalidQuery(t *testing.T) {
	resolver := newResolver(t)

	q := query(generic.TargetSubcontractor, rates.ShiftWeekdayDay, "2025-01-01")
	q.RoleID = ""
	_, _, err := resolver.Resolve(context.Background(), q)
	assert.True(t, generic.IsClientError(err))

	q = query(generic.TargetSubcontractor, "NOPE", "2025-01-01")
	_, _, err = resolver.Resolve(context.Background(), q)
	assert.ErrorIs(t, err, generic.ErrUnmappedShiftType)
}

type failingStore struct{}

func (failingStore) Versions(context.Context, rates.Key, generic.TimePoint) ([]rates.RateCard, error) {
	return nil, errors.New("connection reset")
}

func TestResolve_StoreErrorIsWrapped(t *testing.T) {
	resolver := rates.NewResolver(failingStore{})

	_, found, err := resolver.Resolve(context.Background(), query(generic.TargetSubcontractor, rates.ShiftWeekdayDay, "2025-01-01"))
	require.Error(t, err)
	assert.False(t, found)
	assert.Contains(t, err.Error(), "connection reset")
}

// =============================================================================
// CARD VALIDATION
// =============================================================================

func TestValidateCard(t *testing.T) {
	base := hourlyCard("c", key(generic.TargetSubcontractor, rates.LabelDay), "20", generic.OpenPeriod(date("2025-01-01")))
	require.NoError(t, rates.ValidateCard(base))

	t.Run("SHIFT label needs shift terms", func(t *testing.T) {
		c := base
		c.Key.RateLabel = rates.LabelShift
		assert.ErrorIs(t, rates.ValidateCard(c), generic.ErrInvalidRateCard)
	})

	t.Run("DAILY label needs daily terms", func(t *testing.T) {
		c := base
		c.Key.RateLabel = rates.LabelDaily
		c.Terms = rates.ShiftTerms{Rate: money("100")}
		assert.ErrorIs(t, rates.ValidateCard(c), generic.ErrInvalidRateCard)
	})

	t.Run("negative rate", func(t *testing.T) {
		c := base
		c.Terms = rates.HourlyTerms{Rate: money("-1")}
		assert.ErrorIs(t, rates.ValidateCard(c), generic.ErrInvalidRateCard)
	})

	t.Run("missing terms", func(t *testing.T) {
		c := base
		c.Terms = nil
		assert.ErrorIs(t, rates.ValidateCard(c), generic.ErrInvalidRateCard)
	})

	t.Run("bad period", func(t *testing.T) {
		c := base
		c.Effective = generic.ClosedPeriod(date("2025-02-01"), date("2025-01-01"))
		assert.ErrorIs(t, rates.ValidateCard(c), generic.ErrInvalidPeriod)
	})
}

func TestCheckOverlap(t *testing.T) {
	k := key(generic.TargetSubcontractor, rates.LabelDay)
	existing := []rates.RateCard{
		hourlyCard("a", k, "20", generic.ClosedPeriod(date("2025-01-01"), date("2025-06-01"))),
	}

	next := hourlyCard("b", k, "21", generic.OpenPeriod(date("2025-06-01")))
	assert.NoError(t, rates.CheckOverlap(next, existing))

	clash := hourlyCard("c", k, "21", generic.OpenPeriod(date("2025-05-01")))
	err := rates.CheckOverlap(clash, existing)
	var overlap *generic.VersionOverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, generic.RateCardID("a"), overlap.Existing)
	assert.True(t, generic.IsConflict(err))

	otherKey := hourlyCard("d", key(generic.TargetClient, rates.LabelDay), "30", generic.OpenPeriod(date("2025-05-01")))
	assert.NoError(t, rates.CheckOverlap(otherKey, existing))
}

func TestCloseOpenVersion(t *testing.T) {
	k := key(generic.TargetSubcontractor, rates.LabelDay)
	open := hourlyCard("v1", k, "20", generic.OpenPeriod(date("2025-01-01")))

	closed, err := rates.CloseOpenVersion(open, date("2025-06-01"), []rates.RateCard{open})
	require.NoError(t, err)
	assert.Equal(t, "[2025-01-01, 2025-06-01)", closed.Effective.String())
	assert.True(t, open.Effective.IsOpenEnded(), "input is not mutated")

	_, err = rates.CloseOpenVersion(closed, date("2025-09-01"), nil)
	assert.ErrorIs(t, err, generic.ErrVersionClosed)

	_, err = rates.CloseOpenVersion(open, date("2024-12-01"), nil)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	// A sibling already inside the closed range is reported
	stray := hourlyCard("v0", k, "19", generic.ClosedPeriod(date("2025-03-01"), date("2025-04-01")))
	_, err = rates.CloseOpenVersion(open, date("2025-06-01"), []rates.RateCard{stray})
	assert.ErrorIs(t, err, generic.ErrOverlappingVersions)
}
