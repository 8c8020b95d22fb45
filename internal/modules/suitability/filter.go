// Package suitability removes instruments an investor must not be offered.
package suitability

import (
	"fmt"

	"github.com/rs/zerolog"

	"advisor/internal/domain"
)

// Volatility ceilings per risk tolerance, annualized decimals. A high
// tolerance investor has no ceiling.
const (
	lowVolCeiling    = 0.20
	mediumVolCeiling = 0.35
)

// liquidityFloor returns the minimum average daily dollar volume by income
// level. Lower-income investors are kept in more liquid names so positions
// stay exitable without market impact.
func liquidityFloor(annualIncome float64) float64 {
	switch {
	case annualIncome < 30_000:
		return 1_000_000
	case annualIncome < 75_000:
		return 500_000
	case annualIncome < 150_000:
		return 250_000
	default:
		return 100_000
	}
}

// Exclusion records why an instrument was removed, for the audit trail.
type Exclusion struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Filter screens universes against investor constraints.
type Filter struct {
	logger zerolog.Logger
}

// NewFilter creates a suitability filter.
func NewFilter(logger zerolog.Logger) *Filter {
	return &Filter{logger: logger.With().Str("component", "suitability").Logger()}
}

// Apply returns the instruments the investor may hold, plus the exclusion
// log. Order is preserved. An empty result is valid; downstream degrades to
// an all-cash recommendation.
func (f *Filter) Apply(universe []*domain.InstrumentRecord, profile *domain.InvestorProfile) ([]*domain.InstrumentRecord, []Exclusion) {
	eligible := make([]*domain.InstrumentRecord, 0, len(universe))
	var exclusions []Exclusion

	for _, rec := range universe {
		if reason := f.check(rec, profile); reason != "" {
			exclusions = append(exclusions, Exclusion{Symbol: rec.Symbol, Reason: reason})
			continue
		}
		eligible = append(eligible, rec)
	}

	f.logger.Info().
		Int("universe", len(universe)).
		Int("eligible", len(eligible)).
		Int("excluded", len(exclusions)).
		Msg("suitability screen complete")
	return eligible, exclusions
}

// check returns a non-empty reason when the instrument fails a screen.
// Screens are ordered cheapest first; the first failure wins.
func (f *Filter) check(rec *domain.InstrumentRecord, profile *domain.InvestorProfile) string {
	if rec.Restricted {
		return "restricted instrument"
	}
	if !rec.EligibleIn(profile.Jurisdiction) {
		return fmt.Sprintf("not eligible in jurisdiction %s", profile.Jurisdiction)
	}
	if floor := liquidityFloor(profile.AnnualIncome); rec.AvgDailyDollarVolume < floor {
		return fmt.Sprintf("liquidity %.0f below floor %.0f", rec.AvgDailyDollarVolume, floor)
	}
	switch profile.RiskTolerance {
	case domain.RiskLow:
		if rec.RealizedVolatility >= lowVolCeiling {
			return fmt.Sprintf("volatility %.1f%% exceeds low tolerance ceiling", rec.RealizedVolatility*100)
		}
	case domain.RiskMedium:
		if rec.RealizedVolatility >= mediumVolCeiling {
			return fmt.Sprintf("volatility %.1f%% exceeds medium tolerance ceiling", rec.RealizedVolatility*100)
		}
	}
	return ""
}
