// Package domain defines the typed entities shared across the engine.
package domain

import (
	"fmt"
	"time"
)

// RiskTolerance is an ordinal investor risk level.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// InvestorProfile describes one investor for a single request. Immutable once
// validated; a request never mutates its profile.
type InvestorProfile struct {
	Age              int                `json:"age"`
	AnnualIncome     float64            `json:"annual_income"`
	RiskTolerance    RiskTolerance      `json:"risk_tolerance"`
	HorizonYears     int                `json:"horizon_years"`
	Jurisdiction     string             `json:"jurisdiction"`
	PortfolioValue   float64            `json:"portfolio_value"`
	ExistingHoldings map[string]float64 `json:"existing_holdings"` // symbol -> quantity
}

// Validate checks the profile at the request boundary. Malformed profiles
// fail fast before any market data is fetched.
func (p *InvestorProfile) Validate() error {
	if p.Age < 18 || p.Age > 120 {
		return fmt.Errorf("%w: age %d out of range [18, 120]", ErrInvalidProfile, p.Age)
	}
	if p.AnnualIncome < 0 {
		return fmt.Errorf("%w: negative annual income", ErrInvalidProfile)
	}
	switch p.RiskTolerance {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: unknown risk tolerance %q", ErrInvalidProfile, p.RiskTolerance)
	}
	if p.HorizonYears <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidProfile, p.HorizonYears)
	}
	if p.PortfolioValue < 0 {
		return fmt.Errorf("%w: negative portfolio value", ErrInvalidProfile)
	}
	for symbol, qty := range p.ExistingHoldings {
		if symbol == "" {
			return fmt.Errorf("%w: empty symbol in holdings", ErrInvalidProfile)
		}
		if qty < 0 {
			return fmt.Errorf("%w: negative quantity for %s", ErrInvalidProfile, symbol)
		}
	}
	return nil
}

// Quote is a point-in-time price with provenance.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
	Source string    `json:"source"`
	Stale  bool      `json:"stale"`
}

// InstrumentRecord holds the per-instrument snapshot the engine works with.
// Read-only within one optimization run; freshness is bounded by the gateway
// TTLs and disclosed through Source/AsOf/Stale.
type InstrumentRecord struct {
	Symbol              string  `json:"symbol"`
	Name                string  `json:"name"`
	Sector              string  `json:"sector"`
	MarketCap           float64 `json:"market_cap"`
	PERatio             float64 `json:"pe_ratio"`
	PBRatio             float64 `json:"pb_ratio"`
	ReturnOnEquity      float64 `json:"return_on_equity"` // decimal, 0.15 = 15%
	GrossMargin         float64 `json:"gross_margin"`     // decimal
	Return1M            float64 `json:"return_1m"`        // decimal trailing return
	Return12M           float64 `json:"return_12m"`       // decimal trailing return
	RealizedVolatility  float64 `json:"realized_volatility"` // annualized, decimal
	AvgDailyDollarVolume float64 `json:"avg_daily_dollar_volume"`
	Price               float64 `json:"price"`

	// Suitability flags
	Restricted           bool     `json:"restricted"`
	EligibleJurisdictions []string `json:"eligible_jurisdictions"` // empty = unrestricted

	// Provenance
	Source string    `json:"source"`
	AsOf   time.Time `json:"as_of"`
	Stale  bool      `json:"stale"`
}

// EligibleIn reports whether the instrument may be offered in the given
// jurisdiction. An empty allow-list means no jurisdiction restriction.
func (r *InstrumentRecord) EligibleIn(jurisdiction string) bool {
	if len(r.EligibleJurisdictions) == 0 {
		return true
	}
	for _, j := range r.EligibleJurisdictions {
		if j == jurisdiction {
			return true
		}
	}
	return false
}

// Policy is the constraint set derived from an investor's income bracket.
// Invariant: 0 <= NameCap <= SectorCap <= 1 - CashFloor <= 1.
type Policy struct {
	NameCap        float64 `json:"name_cap"`         // max fraction per instrument
	SectorCap      float64 `json:"sector_cap"`       // max fraction per sector
	CashFloor      float64 `json:"cash_floor"`       // min fraction held in cash
	TurnoverBudget float64 `json:"turnover_budget"`  // max |Δw| sum per rebalance
	Bracket        string  `json:"bracket"`          // bracket label for audit logs
}

// Valid reports whether the cap configuration satisfies the policy invariant.
func (p Policy) Valid() bool {
	return p.NameCap >= 0 &&
		p.NameCap <= p.SectorCap &&
		p.SectorCap <= 1-p.CashFloor &&
		p.CashFloor >= 0 && p.CashFloor <= 1 &&
		p.TurnoverBudget >= 0
}

// FactorName identifies one of the five style factors.
type FactorName string

const (
	FactorSize     FactorName = "size"
	FactorValue    FactorName = "value"
	FactorQuality  FactorName = "quality"
	FactorMomentum FactorName = "momentum"
	FactorLowVol   FactorName = "low_volatility"
)

// FactorNames lists the factors in canonical order.
var FactorNames = []FactorName{FactorSize, FactorValue, FactorQuality, FactorMomentum, FactorLowVol}

// FactorScoreMatrix maps instrument -> factor -> standardized score.
// Recomputed from the filtered universe on every request, never persisted.
type FactorScoreMatrix struct {
	Symbols []string                          `json:"symbols"`
	Scores  map[string]map[FactorName]float64 `json:"scores"`
}

// Score returns the standardized score for a symbol/factor pair, 0 if absent.
func (m *FactorScoreMatrix) Score(symbol string, factor FactorName) float64 {
	if row, ok := m.Scores[symbol]; ok {
		return row[factor]
	}
	return 0
}

// CovarianceEstimate is a shrunk, well-conditioned covariance matrix over the
// filtered universe. Symbols gives row/column order.
type CovarianceEstimate struct {
	Symbols         []string    `json:"symbols"`
	Matrix          [][]float64 `json:"matrix"`
	Shrinkage       float64     `json:"shrinkage"`        // applied intensity
	ConditionNumber float64     `json:"condition_number"` // post-shrinkage
	Observations    int         `json:"observations"`     // historical sample length
}

// SolverStatus describes the outcome of a constrained solve.
type SolverStatus string

const (
	StatusOptimal           SolverStatus = "optimal"
	StatusInfeasibleRelaxed SolverStatus = "infeasible-relaxed"
	StatusInfeasible        SolverStatus = "infeasible"
	StatusFailed            SolverStatus = "failed"
)

// BindingConstraint identifies which limit stopped a holding short of its
// unconstrained optimum.
type BindingConstraint string

const (
	BindingNone      BindingConstraint = ""
	BindingNameCap   BindingConstraint = "name_cap"
	BindingSectorCap BindingConstraint = "sector_cap"
	BindingTurnover  BindingConstraint = "turnover_budget"
)

// OptimizationResult is the optimizer's output for one request.
type OptimizationResult struct {
	Weights            map[string]float64           `json:"weights"` // symbol -> target weight
	ObjectiveValue     float64                      `json:"objective_value"`
	Status             SolverStatus                 `json:"status"`
	RelaxedConstraints []string                     `json:"relaxed_constraints,omitempty"`
	Binding            map[string]BindingConstraint `json:"binding"`
	TradeCosts         map[string]float64           `json:"trade_costs"` // symbol -> cost in decimal of portfolio
}

// Recommendation is one explainable holding suggestion. Created fresh per
// request, never mutated, returned once.
type Recommendation struct {
	Symbol              string                 `json:"symbol"`
	AllocationPct       float64                `json:"allocation_pct"`  // decimal, 0.05 = 5%
	ExpectedReturn      float64                `json:"expected_return"` // decimal
	CompositeScore      float64                `json:"composite_score"`
	FactorContributions map[FactorName]float64 `json:"factor_contributions"`
	TransactionCostBps  float64                `json:"transaction_cost_bps"`
	BindingConstraint   BindingConstraint      `json:"binding_constraint,omitempty"`
	Rationale           string                 `json:"rationale"`
}

// RiskSummary reports portfolio-level risk. Per the units contract, the
// volatility estimate and max drawdown are WHOLE percentages (12.8 = 12.8%),
// unlike every return field which is a decimal.
type RiskSummary struct {
	OverallRisk        string   `json:"overall_risk"`        // Low | Medium | High
	VolatilityEstimate float64  `json:"volatility_estimate"` // whole percent
	MaxDrawdownPct     float64  `json:"max_drawdown_pct"`    // whole percent, negative
	Notes              []string `json:"notes,omitempty"`
}

// ExpectedImpact summarizes the expected-return impact of adopting the
// recommendations. EVPct is a decimal; the absolute figures are currency.
type ExpectedImpact struct {
	EVPct  float64 `json:"ev_pct"`
	EVAbs  float64 `json:"ev_abs"`
	Per10K float64 `json:"per_10k"`
}

// PortfolioAnalysis is the portfolio-level section of the response.
type PortfolioAnalysis struct {
	TotalValue      float64            `json:"total_value"`
	NumHoldings     int                `json:"num_holdings"`
	SectorBreakdown map[string]float64 `json:"sector_breakdown"` // decimal fractions
	ExpectedImpact  ExpectedImpact     `json:"expected_impact"`
	Risk            RiskSummary        `json:"risk"`
}

// RecommendationResponse is the versioned top-level response contract.
type RecommendationResponse struct {
	SchemaVersion   string             `json:"schema_version"`
	ResponseID      string             `json:"response_id"`
	GeneratedAt     time.Time          `json:"generated_at"`
	Status          SolverStatus       `json:"status"`
	Policy          Policy             `json:"policy"`
	Portfolio       PortfolioAnalysis  `json:"portfolio"`
	Recommendations []Recommendation   `json:"recommendations"`
	RiskAssessment  RiskSummary        `json:"risk_assessment"`
}
