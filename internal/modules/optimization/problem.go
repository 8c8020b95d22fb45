// Package optimization solves the constrained mean-variance allocation.
package optimization

import (
	"fmt"
	"math"

	"advisor/internal/domain"
)

// Problem is one fully specified allocation solve. All slices are aligned to
// Symbols.
type Problem struct {
	Symbols         []string
	ExpectedReturns []float64
	Covariance      [][]float64
	Sectors         []string
	CurrentWeights  []float64
	Policy          domain.Policy
	RiskAversion    float64

	// Transaction cost model in basis points of portfolio value:
	// LinearCostBps per unit of absolute trade plus QuadraticCostCoef per
	// unit of squared trade.
	LinearCostBps     float64
	QuadraticCostCoef float64
}

// Validate checks internal consistency before solving.
func (p *Problem) Validate() error {
	n := len(p.Symbols)
	if n == 0 {
		return fmt.Errorf("empty problem")
	}
	if len(p.ExpectedReturns) != n || len(p.Sectors) != n || len(p.CurrentWeights) != n {
		return fmt.Errorf("misaligned problem: %d symbols, %d returns, %d sectors, %d current weights",
			n, len(p.ExpectedReturns), len(p.Sectors), len(p.CurrentWeights))
	}
	if len(p.Covariance) != n {
		return fmt.Errorf("covariance has %d rows for %d symbols", len(p.Covariance), n)
	}
	for i, row := range p.Covariance {
		if len(row) != n {
			return fmt.Errorf("covariance row %d has %d columns", i, len(row))
		}
	}
	if !p.Policy.Valid() {
		return fmt.Errorf("invalid policy: %+v", p.Policy)
	}
	if p.RiskAversion <= 0 {
		return fmt.Errorf("risk aversion must be positive, got %f", p.RiskAversion)
	}
	return nil
}

// investable is the weight budget available to risky assets.
func (p *Problem) investable() float64 {
	return 1 - p.Policy.CashFloor
}

// sectorIndex groups symbol indices by sector.
func (p *Problem) sectorIndex() map[string][]int {
	out := make(map[string][]int)
	for i, sector := range p.Sectors {
		out[sector] = append(out[sector], i)
	}
	return out
}

// tradeCost is the cost of moving from current to target weight for one
// asset, in decimal of portfolio value.
func (p *Problem) tradeCost(delta float64) float64 {
	return (p.LinearCostBps*math.Abs(delta) + p.QuadraticCostCoef*delta*delta) / 10_000
}

// utility is the objective being maximized: expected return minus the risk
// penalty minus transaction costs.
func (p *Problem) utility(w []float64) float64 {
	var ret, variance, costs float64
	for i := range w {
		ret += w[i] * p.ExpectedReturns[i]
		costs += p.tradeCost(w[i] - p.CurrentWeights[i])
		for j := range w {
			variance += w[i] * w[j] * p.Covariance[i][j]
		}
	}
	return ret - p.RiskAversion/2*variance - costs
}

// turnover is the total absolute trade implied by the target weights.
func (p *Problem) turnover(w []float64) float64 {
	var total float64
	for i := range w {
		total += math.Abs(w[i] - p.CurrentWeights[i])
	}
	return total
}

// deployTol is how much investable budget may sit idle before a solution
// counts as underinvested.
const deployTol = 1e-4

// capCapacity is the largest total weight the name and sector caps admit.
func (p *Problem) capCapacity() float64 {
	var total float64
	for _, idxs := range p.sectorIndex() {
		total += math.Min(p.Policy.SectorCap, p.Policy.NameCap*float64(len(idxs)))
	}
	return total
}

// feasible reports whether weights satisfy every hard constraint within tol.
// The budget is two-sided: the total must stay within the investable budget
// and must also deploy it in full, up to what the caps admit.
func (p *Problem) feasible(w []float64, tol float64) bool {
	var total float64
	for _, wi := range w {
		if wi < -tol || wi > p.Policy.NameCap+tol {
			return false
		}
		total += wi
	}
	if total > p.investable()+tol {
		return false
	}
	if target := math.Min(p.investable(), p.capCapacity()); total < target-deployTol {
		return false
	}
	for _, idxs := range p.sectorIndex() {
		var sectorTotal float64
		for _, i := range idxs {
			sectorTotal += w[i]
		}
		if sectorTotal > p.Policy.SectorCap+tol {
			return false
		}
	}
	if !math.IsInf(p.Policy.TurnoverBudget, 1) && p.turnover(w) > p.Policy.TurnoverBudget+tol {
		return false
	}
	return true
}

// turnoverConstrained reports whether the turnover budget is finite. An
// infinite budget means the rebalance is unconstrained (fresh money, or the
// ladder dropped the constraint).
func (p *Problem) turnoverConstrained() bool {
	return !math.IsInf(p.Policy.TurnoverBudget, 1)
}
