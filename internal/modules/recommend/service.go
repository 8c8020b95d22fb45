// Package recommend orchestrates one recommendation request end to end.
package recommend

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"advisor/internal/clients/marketdata"
	"advisor/internal/config"
	"advisor/internal/domain"
	"advisor/internal/modules/assemble"
	"advisor/internal/modules/factors"
	"advisor/internal/modules/optimization"
	"advisor/internal/modules/policy"
	"advisor/internal/modules/risk"
	"advisor/internal/modules/suitability"
)

// DefaultUniverse is the instrument list used when a request does not name
// its own.
var DefaultUniverse = []string{
	"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "AVGO", "ORCL",
	"JNJ", "UNH", "LLY", "PFE", "ABBV", "MRK",
	"JPM", "BAC", "WFC", "GS", "MS", "V",
	"HD", "MCD", "NKE", "SBUX",
	"PG", "KO", "PEP", "WMT", "COST",
	"CAT", "HON", "UPS", "BA",
	"XOM", "CVX", "COP",
	"NEE", "DUK",
	"LIN", "SHW",
	"GOOG", "DIS", "NFLX", "TMUS",
}

// Request is one recommendation request.
type Request struct {
	Profile  domain.InvestorProfile `json:"profile"`
	Universe []string               `json:"universe,omitempty"`
}

// Service wires the pipeline: policy, universe, suitability, factors, risk,
// optimization, assembly.
type Service struct {
	gateway   *marketdata.Gateway
	policy    *policy.Engine
	filter    *suitability.Filter
	factors   *factors.Model
	risk      *risk.Model
	pool      *optimization.Pool
	assembler *assemble.Assembler
	cfg       *config.Config
	logger    zerolog.Logger
}

// NewService creates the recommendation service.
func NewService(
	gateway *marketdata.Gateway,
	policyEngine *policy.Engine,
	filter *suitability.Filter,
	factorModel *factors.Model,
	riskModel *risk.Model,
	pool *optimization.Pool,
	assembler *assemble.Assembler,
	cfg *config.Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		gateway:   gateway,
		policy:    policyEngine,
		filter:    filter,
		factors:   factorModel,
		risk:      riskModel,
		pool:      pool,
		assembler: assembler,
		cfg:       cfg,
		logger:    logger.With().Str("component", "recommend").Logger(),
	}
}

// Recommend runs the full pipeline for one request. Data gaps degrade the
// universe; only an invalid profile or a fully unavailable universe fail the
// request.
func (s *Service) Recommend(ctx context.Context, req *Request) (*domain.RecommendationResponse, error) {
	profile := &req.Profile
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	derived := s.policy.Derive(profile)

	symbols := req.Universe
	if len(symbols) == 0 {
		symbols = DefaultUniverse
	}
	universe, err := s.gateway.GetUniverse(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	eligible, exclusions := s.filter.Apply(universe, profile)
	if len(exclusions) > 0 {
		s.logger.Info().Int("excluded", len(exclusions)).Msg("instruments excluded by suitability")
	}
	if len(eligible) == 0 {
		s.logger.Warn().Msg("no eligible instruments, recommending cash")
		return s.allCash(profile, derived), nil
	}

	matrix := s.factors.Score(eligible)
	composite := s.factors.Composite(matrix)
	expectedReturns := s.factors.ExpectedReturns(composite)

	eligibleSymbols := make([]string, len(eligible))
	for i, rec := range eligible {
		eligibleSymbols[i] = rec.Symbol
	}
	histories, err := s.gateway.GetReturnHistories(ctx, eligibleSymbols, s.cfg.Risk.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load return histories: %w", err)
	}

	estimate, err := s.risk.Estimate(histories)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate covariance: %w", err)
	}

	problem := s.buildProblem(profile, derived, eligible, estimate, expectedReturns)
	result, err := s.pool.Solve(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	contributions := make(map[string]map[domain.FactorName]float64, len(estimate.Symbols))
	sectors := make(map[string]string, len(eligible))
	for _, rec := range eligible {
		sectors[rec.Symbol] = rec.Sector
		contributions[rec.Symbol] = s.factors.Contributions(matrix, rec.Symbol)
	}

	response := s.assembler.Assemble(assemble.Input{
		Profile:         profile,
		Policy:          derived,
		Result:          result,
		Sectors:         sectors,
		ExpectedReturns: expectedReturns,
		Composite:       composite,
		Contributions:   contributions,
		Covariance:      estimate,
		Histories:       histories,
	})

	s.logger.Info().
		Str("response_id", response.ResponseID).
		Str("status", string(response.Status)).
		Int("recommendations", len(response.Recommendations)).
		Str("bracket", derived.Bracket).
		Msg("recommendation generated")
	return response, nil
}

// buildProblem aligns module outputs to the covariance symbol order. The
// covariance estimate may cover fewer symbols than the eligible universe when
// histories were unavailable; those instruments are left out of the solve.
func (s *Service) buildProblem(
	profile *domain.InvestorProfile,
	derived domain.Policy,
	eligible []*domain.InstrumentRecord,
	estimate *domain.CovarianceEstimate,
	expectedReturns map[string]float64,
) *optimization.Problem {
	bySymbol := make(map[string]*domain.InstrumentRecord, len(eligible))
	for _, rec := range eligible {
		bySymbol[rec.Symbol] = rec
	}

	n := len(estimate.Symbols)
	returns := make([]float64, n)
	sectorList := make([]string, n)
	current := make([]float64, n)
	for i, symbol := range estimate.Symbols {
		returns[i] = expectedReturns[symbol]
		if rec, ok := bySymbol[symbol]; ok {
			sectorList[i] = rec.Sector
			if qty, held := profile.ExistingHoldings[symbol]; held && profile.PortfolioValue > 0 {
				current[i] = qty * rec.Price / profile.PortfolioValue
			}
		}
	}

	// Funding a portfolio from cash is not turnover; the budget only
	// applies when there are existing holdings to rebalance away from.
	problemPolicy := derived
	if len(profile.ExistingHoldings) == 0 {
		problemPolicy.TurnoverBudget = math.Inf(1)
	}

	return &optimization.Problem{
		Symbols:           estimate.Symbols,
		ExpectedReturns:   returns,
		Covariance:        estimate.Matrix,
		Sectors:           sectorList,
		CurrentWeights:    current,
		Policy:            problemPolicy,
		RiskAversion:      s.riskAversionFor(profile.RiskTolerance),
		LinearCostBps:     s.cfg.Optimizer.LinearCostBps,
		QuadraticCostCoef: s.cfg.Optimizer.QuadraticCostCoef,
	}
}

// riskAversionFor scales the base λ so conservative investors penalize
// variance harder than aggressive ones.
func (s *Service) riskAversionFor(tolerance domain.RiskTolerance) float64 {
	base := s.cfg.Optimizer.RiskAversion
	switch tolerance {
	case domain.RiskLow:
		return base * 1.5
	case domain.RiskHigh:
		return base * 0.75
	default:
		return base
	}
}

// allCash builds the degraded response used when nothing can be held.
func (s *Service) allCash(profile *domain.InvestorProfile, derived domain.Policy) *domain.RecommendationResponse {
	return s.assembler.Assemble(assemble.Input{
		Profile: profile,
		Policy:  derived,
		Result: &domain.OptimizationResult{
			Status:     domain.StatusInfeasible,
			Weights:    map[string]float64{},
			Binding:    map[string]domain.BindingConstraint{},
			TradeCosts: map[string]float64{},
		},
	})
}
