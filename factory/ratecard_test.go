package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/factory"
	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

func money(s string) string { return generic.MustParseDecimal(s).String() }

// =============================================================================
// RATE CARDS
// =============================================================================

func TestParseRateCard_HourlyJSON(t *testing.T) {
	card, err := factory.ParseRateCard([]byte(`{
		"id": "rc-1",
		"company_id": "acme",
		"target_type": "subcontractor",
		"target_id": "sub-42",
		"role_id": "nurse",
		"rate_label": "day",
		"rate_mode": "HOURLY",
		"hourly_rate": 20.5,
		"ot_hourly_rate": "31",
		"min_hours": 4,
		"effective_from": "2025-01-01",
		"effective_to": "2026-01-01"
	}`))

	require.NoError(t, err)
	assert.Equal(t, generic.RateCardID("rc-1"), card.ID)
	assert.Equal(t, generic.TargetSubcontractor, card.Key.TargetType)
	assert.Equal(t, rates.LabelDay, card.Key.RateLabel)
	assert.Equal(t, generic.CurrencyGBP, card.Currency, "currency defaults")

	terms, ok := card.Terms.(rates.HourlyTerms)
	require.True(t, ok)
	assert.Equal(t, money("20.5"), terms.Rate.String())
	require.NotNil(t, terms.OTRate)
	assert.Equal(t, money("31"), terms.OTRate.String())

	require.NotNil(t, card.MinHours)
	assert.Equal(t, "4", card.MinHours.String())
	require.NotNil(t, card.Effective.To)
	assert.Equal(t, "2026-01-01", card.Effective.To.String())
}

func TestParseRateCard_ModeFromLabel(t *testing.T) {
	card, err := factory.ParseRateCard([]byte(`
company_id: acme
target_type: CLIENT
target_id: client-1
role_id: nurse
rate_label: DAILY
daily_rate: 240
effective_from: 2025-01-01
`))

	require.NoError(t, err)
	assert.Equal(t, rates.ModeDaily, card.Mode())
	assert.NotEmpty(t, card.ID, "id is generated")
	assert.True(t, card.Effective.IsOpenEnded())
}

func TestParseRateCard_RejectsForeignFields(t *testing.T) {
	cases := map[string]string{
		"daily card with hourly rate": `{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
			"rate_label":"DAILY","rate_mode":"DAILY","daily_rate":200,"hourly_rate":20,"effective_from":"2025-01-01"}`,
		"shift card with ot rate": `{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
			"rate_label":"SHIFT","rate_mode":"SHIFT","shift_rate":150,"ot_hourly_rate":30,"effective_from":"2025-01-01"}`,
		"hourly card missing rate": `{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
			"rate_label":"DAY","rate_mode":"HOURLY","effective_from":"2025-01-01"}`,
		"shift label on hourly mode": `{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
			"rate_label":"SHIFT","rate_mode":"HOURLY","hourly_rate":20,"effective_from":"2025-01-01"}`,
		"unknown mode": `{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
			"rate_label":"DAY","rate_mode":"WEEKLY","hourly_rate":20,"effective_from":"2025-01-01"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := factory.ParseRateCard([]byte(doc))
			assert.ErrorIs(t, err, generic.ErrInvalidRateCard)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestParseRateCard_BadDates(t *testing.T) {
	_, err := factory.ParseRateCard([]byte(`{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
		"rate_label":"DAY","hourly_rate":20,"effective_from":"01/01/2025"}`))
	assert.ErrorIs(t, err, generic.ErrInvalidDate)

	_, err = factory.ParseRateCard([]byte(`{"company_id":"a","target_type":"CLIENT","target_id":"c","role_id":"r",
		"rate_label":"DAY","hourly_rate":20,"effective_from":"2025-06-01","effective_to":"2025-01-01"}`))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestParseRateCards_ListAndWrapped(t *testing.T) {
	yamlDoc := []byte(`
rate_cards:
  - company_id: acme
    target_type: SUBCONTRACTOR
    target_id: sub-1
    role_id: nurse
    rate_label: NIGHT
    hourly_rate: "22.75"
    effective_from: "2025-01-01"
  - company_id: acme
    target_type: CLIENT
    target_id: client-1
    role_id: nurse
    rate_label: SHIFT
    shift_rate: 250
    effective_from: "2025-01-01"
`)
	cards, err := factory.ParseRateCards(yamlDoc)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, rates.ModeHourly, cards[0].Mode())
	assert.Equal(t, rates.ModeShift, cards[1].Mode())

	jsonList := []byte(`[{"company_id":"acme","target_type":"CLIENT","target_id":"c","role_id":"r",
		"rate_label":"DAY","hourly_rate":30,"effective_from":"2025-01-01"}]`)
	cards, err = factory.ParseRateCards(jsonList)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	_, err = factory.ParseRateCards([]byte(`[{"company_id":"acme"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate card 0")
}

func TestToDoc_RoundTrip(t *testing.T) {
	f := factory.NewRateCardFactory()
	f.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	original, err := f.ParseRateCard([]byte(`{"id":"rc-9","company_id":"acme","target_type":"CLIENT","target_id":"c",
		"role_id":"r","rate_label":"DAY","hourly_rate":30,"ot_hourly_rate":50,"currency":"eur",
		"effective_from":"2025-01-01","effective_to":"2025-07-01"}`))
	require.NoError(t, err)

	doc := factory.ToDoc(original)
	assert.Equal(t, "HOURLY", doc.RateMode)
	assert.Equal(t, "EUR", doc.Currency)
	assert.Equal(t, "2025-07-01", doc.EffectiveTo)

	again, err := f.FromDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, original.Key, again.Key)
	assert.Equal(t, original.Effective.String(), again.Effective.String())
	base, ot := again.Terms.Rates()
	assert.Equal(t, "30", base.String())
	assert.Equal(t, "50", ot.String())
}

// =============================================================================
// RATE TEMPLATES
// =============================================================================

func TestParseRateTemplate(t *testing.T) {
	tmpl, err := factory.ParseRateTemplate([]byte(`
name: care-home
windows:
  - start_time: "06:00"
    end_time: "20:00"
    subcontractor_rate: 20
    client_rate: 30
    description: Day
  - start_time: "20:00"
    end_time: "06:00"
    subcontractor_rate: 24
    client_rate: 36
    description: Night
    applicable_days: [monday, tuesday, wednesday, thursday, friday]
`))

	require.NoError(t, err)
	assert.Equal(t, "care-home", tmpl.Name)
	require.Len(t, tmpl.Windows, 2)
	assert.Equal(t, []string{"monday", "tuesday", "wednesday", "thursday", "friday"}, tmpl.Windows[1].ApplicableDays.Names())
	assert.Equal(t, "24", tmpl.Windows[1].SubcontractorRate.String())
}

func TestParseRateTemplate_RejectsOverlap(t *testing.T) {
	_, err := factory.ParseRateTemplate([]byte(`{"name":"bad","windows":[
		{"start_time":"06:00","end_time":"18:00","subcontractor_rate":20,"client_rate":30},
		{"start_time":"17:00","end_time":"22:00","subcontractor_rate":22,"client_rate":33}
	]}`))
	assert.ErrorIs(t, err, generic.ErrOverlappingWindows)
}

func TestParseRateTemplate_RejectsBadClockAndDay(t *testing.T) {
	_, err := factory.ParseRateTemplate([]byte(`{"windows":[{"start_time":"6am","end_time":"18:00"}]}`))
	assert.ErrorIs(t, err, generic.ErrInvalidClockTime)

	_, err = factory.ParseRateTemplate([]byte(`{"windows":[{"start_time":"06:00","end_time":"18:00","applicable_days":["someday"]}]}`))
	assert.ErrorIs(t, err, generic.ErrInvalidValue)
}

func TestStandardWindows(t *testing.T) {
	windows := factory.StandardWindows(
		factory.WindowRates{Sub: generic.MustParseDecimal("20"), Client: generic.MustParseDecimal("30")},
		factory.WindowRates{Sub: generic.MustParseDecimal("24"), Client: generic.MustParseDecimal("36")},
		factory.WindowRates{Sub: generic.MustParseDecimal("28"), Client: generic.MustParseDecimal("42")},
	)
	require.NoError(t, pricing.ValidateWindows(windows))

	fallback := generic.MustParseDecimal("1")
	segment := func(start, end, date string) pricing.TimeRangeCalculation {
		d := generic.MustParseDate(date)
		trc, err := pricing.Segment(pricing.SegmentInput{
			StartTime: start, EndTime: end, Windows: windows,
			FallbackSubRate: fallback, FallbackClientRate: fallback, Date: &d,
		})
		require.NoError(t, err)
		return trc
	}

	// Tuesday 18:00-22:00: 2h day + 2h night
	trc := segment("18:00", "22:00", "2025-03-11")
	require.Len(t, trc.Breakdown, 2)
	assert.Equal(t, "88", trc.SubcontractorCost.String())

	// Saturday: weekend all day
	trc = segment("18:00", "22:00", "2025-03-15")
	require.Len(t, trc.Breakdown, 1)
	assert.Equal(t, "00:00-00:00 (Weekend)", trc.Breakdown[0].Label)
	assert.Equal(t, "112", trc.SubcontractorCost.String())
}
