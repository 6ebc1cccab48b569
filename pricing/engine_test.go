package pricing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
	"github.com/warp/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

type engineFixture struct {
	engine *pricing.Engine
	store  *memory.Store
	logs   *observer.ObservedLogs
}

func newEngine(t *testing.T, cards ...rates.RateCard) engineFixture {
	t.Helper()
	store := memory.New()
	for _, c := range cards {
		require.NoError(t, store.Save(context.Background(), c))
	}

	core, logs := observer.New(zap.InfoLevel)
	engine := pricing.NewEngine(rates.NewResolver(store), store, zap.New(core))
	engine.Now = func() time.Time { return time.Date(2025, time.March, 11, 12, 0, 0, 0, time.UTC) }
	seq := 0
	engine.NewID = func() string {
		seq++
		return fmt.Sprintf("tl-%d", seq)
	}
	return engineFixture{engine: engine, store: store, logs: logs}
}

func rateCard(id string, side generic.TargetType, label rates.RateLabel, terms rates.RateTerms) rates.RateCard {
	party := generic.PartyID("sub-1")
	if side == generic.TargetClient {
		party = "client-1"
	}
	return rates.RateCard{
		ID: generic.RateCardID(id),
		Key: rates.Key{
			CompanyID:  "acme",
			TargetType: side,
			TargetID:   party,
			RoleID:     "nurse",
			RateLabel:  label,
		},
		Terms:     terms,
		Effective: generic.OpenPeriod(generic.MustParseDate("2025-01-01")),
		Currency:  generic.CurrencyGBP,
	}
}

func dayCards() []rates.RateCard {
	return []rates.RateCard{
		rateCard("sub-day", generic.TargetSubcontractor, rates.LabelDay, rates.HourlyTerms{Rate: money("20")}),
		rateCard("client-day", generic.TargetClient, rates.LabelDay, rates.HourlyTerms{Rate: money("30")}),
	}
}

func request(shift rates.ShiftType) pricing.Request {
	return pricing.Request{
		CompanyID:       "acme",
		SubcontractorID: "sub-1",
		ClientID:        "client-1",
		RoleID:          "nurse",
		ShiftType:       shift,
		Date:            generic.MustParseDate("2025-03-11"),
	}
}

// =============================================================================
// PRICE
// =============================================================================

func TestEngine_PriceFromClockInterval(t *testing.T) {
	// GIVEN: hourly cards on both sides and a 09:00-17:00 shift
	f := newEngine(t, dayCards()...)
	req := request(rates.ShiftWeekdayDay)
	req.StartTime, req.EndTime = "09:00", "17:00"

	// WHEN
	quote, err := f.engine.Price(context.Background(), req)

	// THEN
	require.NoError(t, err)
	assert.False(t, quote.Segmented)
	assertMoney(t, "8", quote.HoursRegular)
	assertMoney(t, "160", quote.Price.SubCost)
	assertMoney(t, "240", quote.Price.ClientBill)
	assert.Equal(t, generic.RateCardID("sub-day"), quote.Sub.SourceID)
	assert.Equal(t, generic.RateCardID("client-day"), quote.Client.SourceID)
}

func TestEngine_ExplicitHoursWinOverInterval(t *testing.T) {
	f := newEngine(t, dayCards()...)
	req := request(rates.ShiftWeekdayDay)
	req.StartTime, req.EndTime = "09:00", "17:00"
	req.HoursRegular = ptr(money("7"))
	req.HoursOT = ptr(money("1"))

	quote, err := f.engine.Price(context.Background(), req)

	require.NoError(t, err)
	// sub 7×20 + 1×30, client 7×30 + 1×45
	assertMoney(t, "170", quote.Price.SubCost)
	assertMoney(t, "255", quote.Price.ClientBill)
}

func TestEngine_MinHoursFromClientCard(t *testing.T) {
	// GIVEN: the client card carries a 6 hour minimum
	cards := dayCards()
	cards[1].MinHours = ptr(money("6"))
	f := newEngine(t, cards...)

	req := request(rates.ShiftWeekdayDay)
	req.HoursRegular = ptr(money("4"))

	// WHEN
	quote, err := f.engine.Price(context.Background(), req)

	// THEN: both sides are priced on the padded 6 hours
	require.NoError(t, err)
	assertMoney(t, "6", quote.HoursRegular)
	assertMoney(t, "120", quote.Price.SubCost)
	assertMoney(t, "180", quote.Price.ClientBill)

	t.Run("request minimum overrides the card", func(t *testing.T) {
		req.MinHours = ptr(money("5"))
		quote, err := f.engine.Price(context.Background(), req)
		require.NoError(t, err)
		assertMoney(t, "5", quote.HoursRegular)
	})
}

func TestEngine_UnitBasedDefaultsToOneUnit(t *testing.T) {
	f := newEngine(t,
		rateCard("sub-shift", generic.TargetSubcontractor, rates.LabelShift, rates.ShiftTerms{Rate: money("180")}),
		rateCard("client-shift", generic.TargetClient, rates.LabelShift, rates.ShiftTerms{Rate: money("250")}),
	)
	req := request(rates.ShiftFlat)
	req.StartTime, req.EndTime = "08:00", "20:00"
	req.MinHours = ptr(money("20"))

	quote, err := f.engine.Price(context.Background(), req)

	require.NoError(t, err)
	assertMoney(t, "1", quote.HoursRegular, "one shift; interval and minimum do not apply")
	assertMoney(t, "180", quote.Price.SubCost)
	assertMoney(t, "250", quote.Price.ClientBill)
}

func TestEngine_RejectsUnitAndHourlyPair(t *testing.T) {
	// GIVEN: a per-shift subcontractor card and an hourly client card
	f := newEngine(t,
		rateCard("sub-shift", generic.TargetSubcontractor, rates.LabelDay, rates.ShiftTerms{Rate: money("180")}),
		rateCard("client-hourly", generic.TargetClient, rates.LabelDay, rates.HourlyTerms{Rate: money("30")}),
	)
	req := request(rates.ShiftWeekdayDay)
	req.StartTime, req.EndTime = "08:00", "20:00"

	// WHEN
	_, err := f.engine.Price(context.Background(), req)

	// THEN: a client error instead of billing the client one hour
	assert.ErrorIs(t, err, generic.ErrInvalidValue)
	assert.True(t, generic.IsClientError(err))
}

func TestEngine_MissingHours(t *testing.T) {
	f := newEngine(t, dayCards()...)

	_, err := f.engine.Price(context.Background(), request(rates.ShiftWeekdayDay))
	assert.True(t, generic.IsClientError(err))
}

func TestEngine_Segmented(t *testing.T) {
	f := newEngine(t, dayCards()...)
	req := request(rates.ShiftWeekdayDay)
	req.StartTime, req.EndTime = "06:00", "10:00"
	req.Windows = []pricing.TimeBasedRate{window("06:00", "08:00", "25", "35", "Early")}

	quote, err := f.engine.Price(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, quote.Segmented)
	require.Len(t, quote.Breakdown, 2)
	assert.Equal(t, pricing.FallbackLabel, quote.Breakdown[1].Label)
	// early 2×25 + standard 2×20; client 2×35 + 2×30
	assertMoney(t, "90", quote.Price.SubCost)
	assertMoney(t, "130", quote.Price.ClientBill)
	assertMoney(t, "20", quote.Price.SubBaseRate)
	assertMoney(t, "4", quote.HoursRegular)
}

func TestEngine_SegmentedRequiresHourlyRates(t *testing.T) {
	f := newEngine(t,
		rateCard("sub-shift", generic.TargetSubcontractor, rates.LabelShift, rates.ShiftTerms{Rate: money("180")}),
		rateCard("client-shift", generic.TargetClient, rates.LabelShift, rates.ShiftTerms{Rate: money("250")}),
	)
	req := request(rates.ShiftFlat)
	req.StartTime, req.EndTime = "06:00", "10:00"
	req.Windows = []pricing.TimeBasedRate{window("06:00", "08:00", "25", "35", "")}

	_, err := f.engine.Price(context.Background(), req)
	assert.True(t, generic.IsClientError(err))
}

func TestEngine_MissingRateAborts(t *testing.T) {
	// GIVEN: only the subcontractor side has a card
	f := newEngine(t, dayCards()[0])
	req := request(rates.ShiftWeekdayDay)
	req.HoursRegular = ptr(money("8"))

	// WHEN
	_, err := f.engine.Price(context.Background(), req)

	// THEN: a precondition failure naming the client side, never a zero rate
	var missing *pricing.MissingRateError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, generic.TargetClient, missing.Side)
	assert.True(t, generic.IsNotFound(err))
	assert.Equal(t, 1, f.logs.FilterMessage("no effective rate card").Len())
}

// =============================================================================
// PRICE TIME LOG
// =============================================================================

func TestEngine_PriceTimeLogPersistsDraft(t *testing.T) {
	f := newEngine(t, dayCards()...)
	req := request(rates.ShiftWeekdayDay)
	req.StartTime, req.EndTime = "22:00", "06:00"

	log, err := f.engine.PriceTimeLog(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, generic.TimeLogID("tl-1"), log.ID)
	assert.Equal(t, pricing.StatusDraft, log.Status)
	assertMoney(t, "160", log.Price.SubCost)
	assertMoney(t, "240", log.Price.ClientBill)
	assert.Equal(t, generic.RateCardID("client-day"), log.ClientRateCardID)

	saved, err := f.store.ListTimeLogs(context.Background(), pricing.TimeLogFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, log.ID, saved[0].ID)
	assert.Equal(t, 1, f.logs.FilterMessage("time log priced").Len())
}

func TestEngine_PriceTimeLogWritesNothingOnMissingRate(t *testing.T) {
	// GIVEN: no client card
	f := newEngine(t, dayCards()[0])
	req := request(rates.ShiftWeekdayDay)
	req.HoursRegular = ptr(money("8"))

	// WHEN
	_, err := f.engine.PriceTimeLog(context.Background(), req)

	// THEN
	require.ErrorIs(t, err, generic.ErrRateCardNotFound)
	saved, err := f.store.ListTimeLogs(context.Background(), pricing.TimeLogFilter{})
	require.NoError(t, err)
	assert.Empty(t, saved)
}
