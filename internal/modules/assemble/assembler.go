// Package assemble builds the versioned response from module outputs.
package assemble

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"advisor/internal/domain"
	"advisor/internal/modules/explain"
	"advisor/internal/modules/risk"
	"advisor/pkg/formulas"
)

// SchemaVersion is the response contract version.
const SchemaVersion = "v1"

// Input carries everything the assembler needs for one response.
type Input struct {
	Profile         *domain.InvestorProfile
	Policy          domain.Policy
	Result          *domain.OptimizationResult
	Sectors         map[string]string // symbol -> sector
	ExpectedReturns map[string]float64
	Composite       map[string]float64
	Contributions   map[string]map[domain.FactorName]float64
	Covariance      *domain.CovarianceEstimate
	Histories       map[string][]float64 // daily prices, for the drawdown replay
}

// Assembler converts optimizer output into the response contract. All return
// figures stay decimals; the volatility estimate and max drawdown are
// converted to whole percentages here and nowhere else.
type Assembler struct {
	explainer *explain.Explainer
	now       func() time.Time
	logger    zerolog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(explainer *explain.Explainer, logger zerolog.Logger) *Assembler {
	return &Assembler{
		explainer: explainer,
		now:       time.Now,
		logger:    logger.With().Str("component", "assemble").Logger(),
	}
}

// Assemble builds the response. Recommendations are sorted by composite
// score descending with symbol as the tie break, so equal inputs serialize
// identically.
func (a *Assembler) Assemble(in Input) *domain.RecommendationResponse {
	recommendations := a.buildRecommendations(in)

	riskSummary := a.buildRiskSummary(in)
	portfolio := domain.PortfolioAnalysis{
		TotalValue:      in.Profile.PortfolioValue,
		NumHoldings:     len(recommendations),
		SectorBreakdown: sectorBreakdown(in),
		ExpectedImpact:  expectedImpact(in),
		Risk:            riskSummary,
	}

	return &domain.RecommendationResponse{
		SchemaVersion:   SchemaVersion,
		ResponseID:      uuid.NewString(),
		GeneratedAt:     a.now().UTC(),
		Status:          in.Result.Status,
		Policy:          in.Policy,
		Portfolio:       portfolio,
		Recommendations: recommendations,
		RiskAssessment:  riskSummary,
	}
}

func (a *Assembler) buildRecommendations(in Input) []domain.Recommendation {
	recommendations := make([]domain.Recommendation, 0, len(in.Result.Weights))
	for symbol, weight := range in.Result.Weights {
		if weight <= 0 {
			continue
		}
		contributions := in.Contributions[symbol]
		binding := in.Result.Binding[symbol]
		costBps := in.Result.TradeCosts[symbol] * 10_000

		recommendations = append(recommendations, domain.Recommendation{
			Symbol:              symbol,
			AllocationPct:       weight,
			ExpectedReturn:      in.ExpectedReturns[symbol],
			CompositeScore:      in.Composite[symbol],
			FactorContributions: contributions,
			TransactionCostBps:  costBps,
			BindingConstraint:   binding,
			Rationale:           a.explainer.Rationale(symbol, contributions, binding, costBps),
		})
	}

	sort.Slice(recommendations, func(i, j int) bool {
		if recommendations[i].CompositeScore != recommendations[j].CompositeScore {
			return recommendations[i].CompositeScore > recommendations[j].CompositeScore
		}
		return recommendations[i].Symbol < recommendations[j].Symbol
	})
	return recommendations
}

func (a *Assembler) buildRiskSummary(in Input) domain.RiskSummary {
	var vol float64
	if in.Covariance != nil {
		vol = risk.PortfolioVolatility(in.Covariance, in.Result.Weights)
	}

	summary := domain.RiskSummary{
		OverallRisk:        explain.RiskBucket(vol),
		VolatilityEstimate: round1(vol * 100),
		Notes:              explain.StatusNotes(in.Result.Status, in.Result.RelaxedConstraints),
	}

	if dd := a.replayDrawdown(in); dd != nil {
		summary.MaxDrawdownPct = round1(-*dd * 100)
	}
	return summary
}

// replayDrawdown replays the target weights over the historical window and
// measures the worst peak-to-trough loss the portfolio would have seen.
func (a *Assembler) replayDrawdown(in Input) *float64 {
	if len(in.Histories) == 0 || len(in.Result.Weights) == 0 {
		return nil
	}

	minLen := 0
	var total, covered float64
	for symbol, weight := range in.Result.Weights {
		if weight <= 0 {
			continue
		}
		total += weight
		prices, ok := in.Histories[symbol]
		if !ok || len(prices) < 2 {
			continue
		}
		covered += weight
		if minLen == 0 || len(prices) < minLen {
			minLen = len(prices)
		}
	}
	if minLen < 2 || covered <= 0 {
		return nil
	}

	portfolioReturns := make([]float64, minLen-1)
	for symbol, weight := range in.Result.Weights {
		if weight <= 0 {
			continue
		}
		prices, ok := in.Histories[symbol]
		if !ok || len(prices) < 2 {
			continue
		}
		returns := formulas.CalculateReturns(prices[len(prices)-minLen:])
		for i, r := range returns {
			portfolioReturns[i] += weight * r
		}
	}

	// Holdings with no usable history hand their weight to the covered ones
	// so the replay reflects the full invested total.
	if covered < total {
		a.logger.Debug().
			Float64("covered", covered).
			Float64("invested", total).
			Msg("drawdown replay missing history for some holdings")
		scale := total / covered
		for i := range portfolioReturns {
			portfolioReturns[i] *= scale
		}
	}

	return formulas.CalculateMaxDrawdown(formulas.CumulativeWealth(portfolioReturns))
}

func sectorBreakdown(in Input) map[string]float64 {
	out := make(map[string]float64)
	for symbol, weight := range in.Result.Weights {
		if weight <= 0 {
			continue
		}
		out[in.Sectors[symbol]] += weight
	}
	return out
}

func expectedImpact(in Input) domain.ExpectedImpact {
	var evPct float64
	for symbol, weight := range in.Result.Weights {
		evPct += weight * in.ExpectedReturns[symbol]
	}
	return domain.ExpectedImpact{
		EVPct:  evPct,
		EVAbs:  evPct * in.Profile.PortfolioValue,
		Per10K: evPct * 10_000,
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+sign(v)*0.5)) / 10
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
