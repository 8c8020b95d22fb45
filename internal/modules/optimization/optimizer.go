package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"advisor/internal/domain"
)

const bindingTol = 1e-6

// relaxation is one rung of the ladder the optimizer climbs when the
// original problem has no solution. The cash floor and name cap are never
// relaxed.
type relaxation struct {
	label          string
	turnoverScale  float64 // 0 drops the turnover constraint
	sectorCapBonus float64
}

var ladder = []relaxation{
	{label: "", turnoverScale: 1},
	{label: "turnover x1.5", turnoverScale: 1.5},
	{label: "turnover x2", turnoverScale: 2},
	{label: "turnover dropped", turnoverScale: 0},
	{label: "turnover dropped, sector caps +5pp", turnoverScale: 0, sectorCapBonus: 0.05},
	{label: "turnover dropped, sector caps +10pp", turnoverScale: 0, sectorCapBonus: 0.10},
}

// Optimizer runs the solver through the relaxation ladder and annotates the
// result with binding constraints and trade costs.
type Optimizer struct {
	solver     Solver
	softBudget time.Duration
	logger     zerolog.Logger
}

// NewOptimizer creates an optimizer over the given solver. softBudget is a
// soft time limit per solve: exceeding it is logged, never enforced, so a
// slow solve still completes.
func NewOptimizer(solver Solver, softBudget time.Duration, logger zerolog.Logger) *Optimizer {
	return &Optimizer{
		solver:     solver,
		softBudget: softBudget,
		logger:     logger.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize solves the problem, relaxing constraints rung by rung when
// needed. It always returns a non-nil result: when even the most relaxed
// problem cannot be solved, the result is the all-cash portfolio with
// StatusInfeasible, or StatusFailed when the solver itself errored.
func (o *Optimizer) Optimize(ctx context.Context, p *Problem) (*domain.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid problem: %w", err)
	}

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); o.softBudget > 0 && elapsed > o.softBudget {
			o.logger.Warn().
				Dur("elapsed", elapsed).
				Dur("budget", o.softBudget).
				Int("instruments", len(p.Symbols)).
				Msg("solve exceeded soft time budget")
		}
	}()

	solverFailed := true
	for _, rung := range ladder {
		relaxed := applyRelaxation(p, rung)
		// A zero budget forbids every trade; no solve can do better than
		// the status quo, so climb straight to the next rung.
		if relaxed.turnoverConstrained() && relaxed.Policy.TurnoverBudget == 0 {
			o.logger.Debug().Str("rung", rung.label).Msg("zero turnover budget, climbing ladder")
			solverFailed = false
			continue
		}
		weights, err := o.solver.Solve(ctx, relaxed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Warn().Err(err).Str("rung", rung.label).Msg("solve failed")
			continue
		}
		solverFailed = false
		if !relaxed.feasible(weights, bindingTol) {
			o.logger.Debug().Str("rung", rung.label).Msg("solution infeasible, climbing ladder")
			continue
		}

		result := o.assemble(relaxed, weights)
		if rung.label == "" {
			result.Status = domain.StatusOptimal
		} else {
			result.Status = domain.StatusInfeasibleRelaxed
			result.RelaxedConstraints = []string{rung.label}
			o.logger.Info().Str("rung", rung.label).Msg("solved with relaxed constraints")
		}
		return result, nil
	}

	status := domain.StatusInfeasible
	if solverFailed {
		status = domain.StatusFailed
	}
	o.logger.Warn().Str("status", string(status)).Msg("relaxation ladder exhausted, degrading to all cash")
	return &domain.OptimizationResult{
		Weights:    map[string]float64{},
		Status:     status,
		Binding:    map[string]domain.BindingConstraint{},
		TradeCosts: map[string]float64{},
	}, nil
}

// applyRelaxation returns a copy of the problem with the rung's policy. A
// turnoverScale of 0 drops the constraint entirely.
func applyRelaxation(p *Problem, rung relaxation) *Problem {
	relaxed := *p
	if rung.turnoverScale == 0 {
		relaxed.Policy.TurnoverBudget = math.Inf(1)
	} else {
		relaxed.Policy.TurnoverBudget = p.Policy.TurnoverBudget * rung.turnoverScale
	}
	relaxed.Policy.SectorCap = math.Min(p.Policy.SectorCap+rung.sectorCapBonus, 1-p.Policy.CashFloor)
	return &relaxed
}

// assemble packages weights into a result with binding diagnostics and
// per-asset trade costs.
func (o *Optimizer) assemble(p *Problem, weights []float64) *domain.OptimizationResult {
	result := &domain.OptimizationResult{
		Weights:        make(map[string]float64, len(weights)),
		ObjectiveValue: p.utility(weights),
		Binding:        make(map[string]domain.BindingConstraint, len(weights)),
		TradeCosts:     make(map[string]float64, len(weights)),
	}

	sectorSums := make(map[string]float64)
	for i, w := range weights {
		sectorSums[p.Sectors[i]] += w
	}
	turnoverBinds := p.turnoverConstrained() &&
		p.turnover(weights) >= p.Policy.TurnoverBudget-bindingTol

	for i, w := range weights {
		symbol := p.Symbols[i]
		delta := weights[i] - p.CurrentWeights[i]
		if w <= 0 && delta == 0 {
			continue
		}
		result.Weights[symbol] = w
		result.TradeCosts[symbol] = p.tradeCost(delta)

		switch {
		case w >= p.Policy.NameCap-bindingTol:
			result.Binding[symbol] = domain.BindingNameCap
		case sectorSums[p.Sectors[i]] >= p.Policy.SectorCap-bindingTol:
			result.Binding[symbol] = domain.BindingSectorCap
		case turnoverBinds && math.Abs(delta) > bindingTol:
			result.Binding[symbol] = domain.BindingTurnover
		}
	}
	return result
}
