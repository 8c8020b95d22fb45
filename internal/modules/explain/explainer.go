// Package explain turns optimizer output into human-readable rationales.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"advisor/internal/domain"
)

var factorLabels = map[domain.FactorName]string{
	domain.FactorSize:     "small size",
	domain.FactorValue:    "attractive valuation",
	domain.FactorQuality:  "high quality",
	domain.FactorMomentum: "positive momentum",
	domain.FactorLowVol:   "low volatility",
}

var bindingLabels = map[domain.BindingConstraint]string{
	domain.BindingNameCap:   "position capped by the single-name limit",
	domain.BindingSectorCap: "position capped by its sector limit",
	domain.BindingTurnover:  "trade size limited by the turnover budget",
}

// Explainer builds per-holding rationales from factor contributions and
// optimizer diagnostics.
type Explainer struct {
	logger zerolog.Logger
}

// NewExplainer creates an explainer.
func NewExplainer(logger zerolog.Logger) *Explainer {
	return &Explainer{logger: logger.With().Str("component", "explain").Logger()}
}

// Rationale composes the holding's explanation: its strongest factor
// drivers, then any binding constraint, then the trade cost. Parts are
// joined with "; " so the string reads as a compact audit line.
func (e *Explainer) Rationale(
	symbol string,
	contributions map[domain.FactorName]float64,
	binding domain.BindingConstraint,
	tradeCostBps float64,
) string {
	parts := []string{e.describeDrivers(contributions)}
	if label, ok := bindingLabels[binding]; ok {
		parts = append(parts, label)
	}
	if tradeCostBps > 0 {
		parts = append(parts, fmt.Sprintf("estimated transaction cost %.1f bps", tradeCostBps))
	}
	return strings.Join(parts, "; ")
}

// describeDrivers names the two largest positive factor contributions, or
// the least negative one when nothing is positive.
func (e *Explainer) describeDrivers(contributions map[domain.FactorName]float64) string {
	type driver struct {
		factor domain.FactorName
		value  float64
	}
	drivers := make([]driver, 0, len(contributions))
	for factor, value := range contributions {
		drivers = append(drivers, driver{factor: factor, value: value})
	}
	sort.Slice(drivers, func(i, j int) bool {
		if drivers[i].value != drivers[j].value {
			return drivers[i].value > drivers[j].value
		}
		return drivers[i].factor < drivers[j].factor
	})

	if len(drivers) == 0 {
		return "held for diversification"
	}
	if drivers[0].value <= 0 {
		return fmt.Sprintf("held for diversification despite weak %s signal", factorLabels[drivers[0].factor])
	}

	names := []string{factorLabels[drivers[0].factor]}
	if len(drivers) > 1 && drivers[1].value > 0 {
		names = append(names, factorLabels[drivers[1].factor])
	}
	return "selected for " + strings.Join(names, " and ")
}

// RiskBucket maps annualized portfolio volatility (decimal) to the coarse
// risk label shown to investors.
func RiskBucket(annualizedVol float64) string {
	switch {
	case annualizedVol < 0.20:
		return "Low"
	case annualizedVol < 0.35:
		return "Medium"
	default:
		return "High"
	}
}

// StatusNotes describes degraded outcomes for the response's risk notes.
func StatusNotes(status domain.SolverStatus, relaxed []string) []string {
	switch status {
	case domain.StatusInfeasibleRelaxed:
		return []string{"constraints were relaxed to find a solution: " + strings.Join(relaxed, ", ")}
	case domain.StatusInfeasible:
		return []string{"no feasible allocation exists under the policy; holding cash"}
	case domain.StatusFailed:
		return []string{"optimization failed; holding cash"}
	}
	return nil
}
