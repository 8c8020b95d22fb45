package optimization

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advisor/internal/domain"
)

func testPolicy() domain.Policy {
	return domain.Policy{
		NameCap:        0.10,
		SectorCap:      0.30,
		CashFloor:      0.05,
		TurnoverBudget: math.Inf(1), // fresh money, no rebalance constraint
		Bracket:        "test",
	}
}

// testProblem builds a diagonal-dominant problem over two sectors.
func testProblem(policy domain.Policy) *Problem {
	n := 8
	symbols := make([]string, n)
	returns := make([]float64, n)
	sectors := make([]string, n)
	current := make([]float64, n)
	cov := make([][]float64, n)
	for i := 0; i < n; i++ {
		symbols[i] = string(rune('A' + i))
		returns[i] = 0.04 + 0.005*float64(i)
		if i < 4 {
			sectors[i] = "Technology"
		} else {
			sectors[i] = "Healthcare"
		}
		cov[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				cov[i][j] = 0.04
			} else {
				cov[i][j] = 0.008
			}
		}
	}
	return &Problem{
		Symbols:           symbols,
		ExpectedReturns:   returns,
		Covariance:        cov,
		Sectors:           sectors,
		CurrentWeights:    current,
		Policy:            policy,
		RiskAversion:      4.0,
		LinearCostBps:     10,
		QuadraticCostCoef: 25,
	}
}

func newTestOptimizer() *Optimizer {
	solver := NewPenaltySolver(2000, zerolog.Nop())
	return NewOptimizer(solver, 10*time.Second, zerolog.Nop())
}

func TestOptimizeRespectsCaps(t *testing.T) {
	o := newTestOptimizer()
	p := testProblem(testPolicy())

	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOptimal, result.Status)
	require.NotEmpty(t, result.Weights)

	var total float64
	sectorTotals := map[string]float64{}
	for i, symbol := range p.Symbols {
		w := result.Weights[symbol]
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, p.Policy.NameCap+1e-6, "name cap for %s", symbol)
		total += w
		sectorTotals[p.Sectors[i]] += w
	}
	assert.LessOrEqual(t, total, 1-p.Policy.CashFloor+1e-6, "cash floor must hold")
	for sector, st := range sectorTotals {
		assert.LessOrEqual(t, st, p.Policy.SectorCap+1e-6, "sector cap for %s", sector)
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	o := newTestOptimizer()

	r1, err := o.Optimize(context.Background(), testProblem(testPolicy()))
	require.NoError(t, err)
	r2, err := o.Optimize(context.Background(), testProblem(testPolicy()))
	require.NoError(t, err)

	require.Equal(t, len(r1.Weights), len(r2.Weights))
	for symbol, w := range r1.Weights {
		assert.Equal(t, w, r2.Weights[symbol], "weight for %s must be identical across solves", symbol)
	}
	assert.Equal(t, r1.ObjectiveValue, r2.ObjectiveValue)
}

func TestOptimizeBindingDiagnostics(t *testing.T) {
	// Cheap trades and one dominant expected return push that name to its
	// cap, which must be reported as binding.
	policy := testPolicy()
	o := newTestOptimizer()
	p := testProblem(policy)
	p.ExpectedReturns[0] = 0.50

	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, result.Weights)
	assert.InDelta(t, policy.NameCap, result.Weights["A"], 1e-6)
	assert.Equal(t, domain.BindingNameCap, result.Binding["A"])
}

func TestOptimizeConcentratedLegacyPortfolio(t *testing.T) {
	// An investor arrives 80% in one technology name. The sector cap makes
	// the target portfolio unreachable within any turnover budget rung, so
	// the ladder drops turnover and the result is flagged as relaxed.
	policy := testPolicy()
	policy.TurnoverBudget = 0.25
	p := testProblem(policy)
	p.CurrentWeights[0] = 0.80

	o := newTestOptimizer()
	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInfeasibleRelaxed, result.Status)
	assert.NotEmpty(t, result.RelaxedConstraints)

	sectorTotal := 0.0
	for i, symbol := range p.Symbols {
		if p.Sectors[i] == "Technology" {
			sectorTotal += result.Weights[symbol]
		}
	}
	assert.LessOrEqual(t, sectorTotal, policy.SectorCap+0.10+1e-6,
		"even fully relaxed, sector exposure must respect the widest rung")
	assert.LessOrEqual(t, result.Weights["A"], policy.NameCap+1e-6,
		"name cap is never relaxed")
}

// wideProblem builds a 12-name problem over 6 sectors, wide enough that the
// caps admit the full investable budget.
func wideProblem(policy domain.Policy) *Problem {
	n := 12
	p := &Problem{
		Symbols:           make([]string, n),
		ExpectedReturns:   make([]float64, n),
		Covariance:        make([][]float64, n),
		Sectors:           make([]string, n),
		CurrentWeights:    make([]float64, n),
		Policy:            policy,
		RiskAversion:      4.0,
		LinearCostBps:     10,
		QuadraticCostCoef: 25,
	}
	sectorNames := []string{"Tech", "Health", "Fin", "Energy", "Staples", "Utilities"}
	for i := 0; i < n; i++ {
		p.Symbols[i] = string(rune('A' + i))
		p.ExpectedReturns[i] = 0.04 + 0.003*float64(i)
		p.Sectors[i] = sectorNames[i/2]
		p.Covariance[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				p.Covariance[i][j] = 0.04
			} else {
				p.Covariance[i][j] = 0.005
			}
		}
	}
	return p
}

func TestOptimizeFullyInvestsUpToCashFloor(t *testing.T) {
	policy := testPolicy()
	p := wideProblem(policy)

	o := newTestOptimizer()
	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)

	var total float64
	for _, w := range result.Weights {
		total += w
	}
	assert.InDelta(t, 1-policy.CashFloor, total, 1e-6,
		"weights plus cash floor must sum to 1 when caps allow")
}

func TestOptimizeDeploysBudgetUnderTurnoverLimit(t *testing.T) {
	// A quarter-invested investor with a 0.25 turnover budget cannot reach
	// the cash floor on any scaled rung. The ladder must keep climbing
	// until turnover is dropped and the budget is fully deployed, instead
	// of returning an underinvested portfolio from an early rung.
	policy := testPolicy()
	policy.TurnoverBudget = 0.25
	p := wideProblem(policy)
	for i := 0; i < 4; i++ {
		p.CurrentWeights[i] = 0.05
	}

	o := newTestOptimizer()
	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, domain.StatusInfeasibleRelaxed, result.Status)
	require.NotEmpty(t, result.RelaxedConstraints)
	assert.Contains(t, result.RelaxedConstraints[0], "turnover dropped")

	var total float64
	for _, w := range result.Weights {
		total += w
	}
	assert.InDelta(t, 1-policy.CashFloor, total, 1e-3,
		"cash must land on the floor once turnover is dropped")
}

func TestOptimizeTradeCosts(t *testing.T) {
	o := newTestOptimizer()
	p := testProblem(testPolicy())

	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)

	for symbol, w := range result.Weights {
		if w > 0 {
			assert.Greater(t, result.TradeCosts[symbol], 0.0,
				"buying into %s must carry a transaction cost", symbol)
		}
	}
}

func TestOptimizeZeroTurnoverBudget(t *testing.T) {
	// A zero budget forbids every trade. The ladder must climb past the
	// scaled rungs (still zero) to the dropped-turnover rung and flag the
	// result as relaxed instead of failing.
	policy := testPolicy()
	policy.TurnoverBudget = 0
	p := testProblem(policy)
	p.CurrentWeights[0] = 0.40

	o := newTestOptimizer()
	result, err := o.Optimize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInfeasibleRelaxed, result.Status)
	require.NotEmpty(t, result.RelaxedConstraints)
	assert.Contains(t, result.RelaxedConstraints[0], "turnover dropped")
}

func TestOptimizeEmptyProblem(t *testing.T) {
	o := newTestOptimizer()
	_, err := o.Optimize(context.Background(), &Problem{})
	require.Error(t, err)
}

func TestOptimizeCancelledContext(t *testing.T) {
	o := newTestOptimizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Optimize(ctx, testProblem(testPolicy()))
	require.Error(t, err)
}

func TestProblemFeasible(t *testing.T) {
	p := testProblem(testPolicy())

	w := make([]float64, len(p.Symbols))
	for i := range w {
		w[i] = 0.075 // sector sums land on the cap, budget deployed to capacity
	}
	assert.True(t, p.feasible(w, 1e-6))

	w[0] = 0.02 // strands budget the caps could still absorb
	assert.False(t, p.feasible(w, 1e-6))

	w[0] = 0.5 // breaches the name cap
	assert.False(t, p.feasible(w, 1e-6))
}

func TestSolveReportsNonConvergence(t *testing.T) {
	// One major iteration cannot converge; the failure must carry the
	// typed sentinel so the ladder can tell it apart from bad input.
	s := NewPenaltySolver(1, zerolog.Nop())
	_, err := s.Solve(context.Background(), testProblem(testPolicy()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOptimizationInfeasible))
}

func TestOptimizeSolverFailure(t *testing.T) {
	// When the solver errors at every rung the result degrades to all
	// cash with the failed status rather than surfacing an error.
	solver := NewPenaltySolver(1, zerolog.Nop())
	o := NewOptimizer(solver, 10*time.Second, zerolog.Nop())

	result, err := o.Optimize(context.Background(), testProblem(testPolicy()))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Empty(t, result.Weights)
}

func TestPoolSolvesConcurrently(t *testing.T) {
	pool := NewPool(newTestOptimizer(), 2, zerolog.Nop())
	defer pool.Close()

	results := make(chan *domain.OptimizationResult, 4)
	for i := 0; i < 4; i++ {
		go func() {
			result, err := pool.Solve(context.Background(), testProblem(testPolicy()))
			require.NoError(t, err)
			results <- result
		}()
	}

	first := <-results
	for i := 0; i < 3; i++ {
		other := <-results
		assert.Equal(t, first.Weights, other.Weights, "pool solves must stay deterministic")
	}
}

func TestPoolCancelledContext(t *testing.T) {
	pool := NewPool(newTestOptimizer(), 1, zerolog.Nop())
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Solve(ctx, testProblem(testPolicy()))
	require.Error(t, err)
}

func TestApplyRelaxationNeverTouchesCashFloorOrNameCap(t *testing.T) {
	p := testProblem(testPolicy())
	for _, rung := range ladder {
		relaxed := applyRelaxation(p, rung)
		assert.Equal(t, p.Policy.CashFloor, relaxed.Policy.CashFloor)
		assert.Equal(t, p.Policy.NameCap, relaxed.Policy.NameCap)
		assert.LessOrEqual(t, relaxed.Policy.SectorCap, 1-p.Policy.CashFloor)
	}
}
