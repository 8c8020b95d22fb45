package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"

	"advisor/internal/domain"
)

// Solver turns a problem into target weights. Implementations must be
// deterministic: the same problem always yields the same weights.
type Solver interface {
	Solve(ctx context.Context, p *Problem) ([]float64, error)
}

const (
	penaltyWeight = 1000.0
	smoothEps     = 1e-8
	projectionTol = 1e-6
)

// PenaltySolver solves the constrained problem by gradient descent on a
// penalized objective, then projects the result exactly onto the constraint
// set. Initialization is deterministic so repeated solves agree bit for bit.
type PenaltySolver struct {
	maxIterations int
	logger        zerolog.Logger
}

// NewPenaltySolver creates a solver.
func NewPenaltySolver(maxIterations int, logger zerolog.Logger) *PenaltySolver {
	return &PenaltySolver{
		maxIterations: maxIterations,
		logger:        logger.With().Str("component", "solver").Logger(),
	}
}

// Solve implements Solver.
func (s *PenaltySolver) Solve(ctx context.Context, p *Problem) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid problem: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(p.Symbols)
	sectorIdx := p.sectorIndex()

	objective := func(w []float64) float64 {
		return -p.utility(w) + penaltyWeight*s.violations(p, sectorIdx, w)
	}
	gradient := func(grad, w []float64) {
		s.gradients(p, sectorIdx, w, grad)
	}

	// Deterministic start: investable budget spread evenly, clipped to the
	// name cap.
	init := make([]float64, n)
	even := math.Min(p.investable()/float64(n), p.Policy.NameCap)
	for i := range init {
		init[i] = even
	}

	problem := optimize.Problem{Func: objective, Grad: gradient}
	settings := &optimize.Settings{
		MajorIterations: s.maxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, init, settings, &optimize.BFGS{})
	if err != nil || !accepted(result.Status) {
		s.logger.Debug().Err(err).Msg("gradient solve rejected, retrying derivative-free")
		result, err = optimize.Minimize(optimize.Problem{Func: objective}, init, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !accepted(result.Status) {
			return nil, fmt.Errorf("%w: solver status %v", domain.ErrOptimizationInfeasible, result.Status)
		}
	}

	return s.project(p, sectorIdx, result.X), nil
}

func accepted(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

// smoothAbs is a differentiable stand-in for |x|.
func smoothAbs(x float64) float64 {
	return math.Sqrt(x*x + smoothEps)
}

func smoothSign(x float64) float64 {
	return x / smoothAbs(x)
}

// violations sums squared constraint violations.
func (s *PenaltySolver) violations(p *Problem, sectorIdx map[string][]int, w []float64) float64 {
	var total, sum float64
	for _, wi := range w {
		if wi < 0 {
			total += wi * wi
		}
		if excess := wi - p.Policy.NameCap; excess > 0 {
			total += excess * excess
		}
		sum += wi
	}
	// Budget is an equality: cash sits exactly at the floor, everything
	// else is invested (caps permitting).
	gap := sum - p.investable()
	total += gap * gap
	for _, idxs := range sectorIdx {
		var sectorSum float64
		for _, i := range idxs {
			sectorSum += w[i]
		}
		if excess := sectorSum - p.Policy.SectorCap; excess > 0 {
			total += excess * excess
		}
	}
	if p.turnoverConstrained() {
		var turnover float64
		for i := range w {
			turnover += smoothAbs(w[i] - p.CurrentWeights[i])
		}
		if excess := turnover - p.Policy.TurnoverBudget; excess > 0 {
			total += excess * excess
		}
	}
	return total
}

// gradients writes the gradient of the penalized objective into grad.
func (s *PenaltySolver) gradients(p *Problem, sectorIdx map[string][]int, w, grad []float64) {
	n := len(w)
	var sum float64
	for i := 0; i < n; i++ {
		sum += w[i]
	}

	sectorSums := make(map[string]float64, len(sectorIdx))
	for sector, idxs := range sectorIdx {
		var sectorSum float64
		for _, i := range idxs {
			sectorSum += w[i]
		}
		sectorSums[sector] = sectorSum
	}

	var turnover float64
	if p.turnoverConstrained() {
		for i := range w {
			turnover += smoothAbs(w[i] - p.CurrentWeights[i])
		}
	}

	budgetGap := sum - p.investable()

	for i := 0; i < n; i++ {
		// Negative utility gradient.
		var cov float64
		for j := 0; j < n; j++ {
			cov += p.Covariance[i][j] * w[j]
		}
		delta := w[i] - p.CurrentWeights[i]
		costGrad := (p.LinearCostBps*smoothSign(delta) + 2*p.QuadraticCostCoef*delta) / 10_000
		g := -(p.ExpectedReturns[i] - p.RiskAversion*cov - costGrad)

		// Penalty gradients.
		if w[i] < 0 {
			g += penaltyWeight * 2 * w[i]
		}
		if excess := w[i] - p.Policy.NameCap; excess > 0 {
			g += penaltyWeight * 2 * excess
		}
		g += penaltyWeight * 2 * budgetGap
		if excess := sectorSums[p.Sectors[i]] - p.Policy.SectorCap; excess > 0 {
			g += penaltyWeight * 2 * excess
		}
		if p.turnoverConstrained() {
			if excess := turnover - p.Policy.TurnoverBudget; excess > 0 {
				g += penaltyWeight * 2 * excess * smoothSign(delta)
			}
		}
		grad[i] = g
	}
}

// project maps an approximate solution onto the constraint set exactly.
// Clipping and proportional scaling are deterministic, so equal inputs give
// equal outputs.
func (s *PenaltySolver) project(p *Problem, sectorIdx map[string][]int, w []float64) []float64 {
	out := make([]float64, len(w))
	copy(out, w)

	capsPass := func() {
		for i := range out {
			if out[i] < projectionTol {
				out[i] = 0
			}
			if out[i] > p.Policy.NameCap {
				out[i] = p.Policy.NameCap
			}
		}
		for _, idxs := range sectorIdx {
			var sectorSum float64
			for _, i := range idxs {
				sectorSum += out[i]
			}
			if sectorSum > p.Policy.SectorCap && sectorSum > 0 {
				scale := p.Policy.SectorCap / sectorSum
				for _, i := range idxs {
					out[i] *= scale
				}
			}
		}
		var total float64
		for i := range out {
			total += out[i]
		}
		if investable := p.investable(); total > investable && total > 0 {
			scale := investable / total
			for i := range out {
				out[i] *= scale
			}
		}
	}

	// topUp redistributes any unspent budget across assets with name and
	// sector headroom, proportional to current weight, so the cash
	// position lands exactly on the floor whenever the caps allow it.
	// Once every held name is capped, the remainder spreads across the
	// zero-weight names by headroom so the deployment still reaches the
	// cap capacity.
	topUp := func() {
		for iter := 0; iter < 16; iter++ {
			var total float64
			for i := range out {
				total += out[i]
			}
			deficit := p.investable() - total
			if deficit <= projectionTol {
				return
			}

			sectorRoom := make(map[string]float64, len(sectorIdx))
			for sector, idxs := range sectorIdx {
				var sectorSum float64
				for _, i := range idxs {
					sectorSum += out[i]
				}
				sectorRoom[sector] = p.Policy.SectorCap - sectorSum
			}

			room := make([]float64, len(out))
			var heldSum, roomSum float64
			for i := range out {
				r := math.Min(p.Policy.NameCap-out[i], sectorRoom[p.Sectors[i]])
				if r <= projectionTol {
					continue
				}
				room[i] = r
				roomSum += r
				if out[i] > 0 {
					heldSum += out[i]
				}
			}
			if roomSum <= 0 {
				return
			}

			for i := range out {
				if room[i] <= 0 {
					continue
				}
				var add float64
				if heldSum > 0 {
					if out[i] <= 0 {
						continue
					}
					add = deficit * out[i] / heldSum
				} else {
					add = deficit * room[i] / roomSum
				}
				if add > room[i] {
					add = room[i]
				}
				if r := sectorRoom[p.Sectors[i]]; add > r {
					add = r
				}
				if add <= 0 {
					continue
				}
				out[i] += add
				sectorRoom[p.Sectors[i]] -= add
			}
		}
	}

	capsPass()
	topUp()
	if p.turnoverConstrained() && p.Policy.TurnoverBudget > 0 {
		if turnover := p.turnover(out); turnover > p.Policy.TurnoverBudget {
			scale := p.Policy.TurnoverBudget / turnover
			for i := range out {
				out[i] = p.CurrentWeights[i] + scale*(out[i]-p.CurrentWeights[i])
			}
			capsPass()
		}
	}
	return out
}
