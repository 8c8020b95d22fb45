package suitability

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advisor/internal/domain"
)

func record(symbol string, mutate func(*domain.InstrumentRecord)) *domain.InstrumentRecord {
	rec := &domain.InstrumentRecord{
		Symbol:               symbol,
		Sector:               "Technology",
		RealizedVolatility:   0.18,
		AvgDailyDollarVolume: 5_000_000,
	}
	if mutate != nil {
		mutate(rec)
	}
	return rec
}

func TestFilterVolatilityTiers(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	universe := []*domain.InstrumentRecord{
		record("CALM", func(r *domain.InstrumentRecord) { r.RealizedVolatility = 0.15 }),
		record("MID", func(r *domain.InstrumentRecord) { r.RealizedVolatility = 0.28 }),
		record("WILD", func(r *domain.InstrumentRecord) { r.RealizedVolatility = 0.50 }),
	}

	tests := []struct {
		tolerance domain.RiskTolerance
		want      []string
	}{
		{domain.RiskLow, []string{"CALM"}},
		{domain.RiskMedium, []string{"CALM", "MID"}},
		{domain.RiskHigh, []string{"CALM", "MID", "WILD"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.tolerance), func(t *testing.T) {
			eligible, _ := f.Apply(universe, &domain.InvestorProfile{RiskTolerance: tt.tolerance})
			got := make([]string, 0, len(eligible))
			for _, rec := range eligible {
				got = append(got, rec.Symbol)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterRestrictedAndJurisdiction(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	universe := []*domain.InstrumentRecord{
		record("OK", nil),
		record("BANNED", func(r *domain.InstrumentRecord) { r.Restricted = true }),
		record("USONLY", func(r *domain.InstrumentRecord) { r.EligibleJurisdictions = []string{"US"} }),
	}

	eligible, exclusions := f.Apply(universe, &domain.InvestorProfile{
		RiskTolerance: domain.RiskHigh,
		Jurisdiction:  "DE",
	})

	require.Len(t, eligible, 1)
	assert.Equal(t, "OK", eligible[0].Symbol)
	require.Len(t, exclusions, 2)
	assert.Equal(t, "restricted instrument", exclusions[0].Reason)
	assert.Contains(t, exclusions[1].Reason, "jurisdiction DE")
}

func TestFilterLiquidityFloorByIncome(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	universe := []*domain.InstrumentRecord{
		record("MID", func(r *domain.InstrumentRecord) { r.AvgDailyDollarVolume = 600_000 }),
	}

	// 600k ADV clears the medium-income floor but not the low-income one.
	eligible, _ := f.Apply(universe, &domain.InvestorProfile{
		RiskTolerance: domain.RiskHigh,
		AnnualIncome:  40_000,
	})
	assert.Len(t, eligible, 1)

	eligible, exclusions := f.Apply(universe, &domain.InvestorProfile{
		RiskTolerance: domain.RiskHigh,
		AnnualIncome:  20_000,
	})
	assert.Empty(t, eligible)
	require.Len(t, exclusions, 1)
	assert.Contains(t, exclusions[0].Reason, "liquidity")
}

func TestFilterEmptyUniverse(t *testing.T) {
	f := NewFilter(zerolog.Nop())
	eligible, exclusions := f.Apply(nil, &domain.InvestorProfile{RiskTolerance: domain.RiskLow})
	assert.Empty(t, eligible)
	assert.Empty(t, exclusions)
}
