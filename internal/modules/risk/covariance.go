// Package risk estimates covariance over the filtered universe.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"advisor/internal/config"
	"advisor/internal/domain"
	"advisor/pkg/formulas"
)

// Model builds shrunk covariance estimates from daily return histories.
// Sample covariance is shrunk toward a constant-correlation target; the
// intensity starts from a Ledoit-Wolf style estimate and is escalated until
// the matrix conditioning is acceptable, which keeps the estimate usable even
// when instruments outnumber observations.
type Model struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewModel creates a risk model.
func NewModel(cfg config.RiskConfig, logger zerolog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.With().Str("component", "risk").Logger(),
	}
}

// Estimate computes the covariance of daily returns for the given price
// histories, annualized. Histories are gap-filled and truncated to a common
// length; symbols with fewer than two prices are rejected.
func (m *Model) Estimate(histories map[string][]float64) (*domain.CovarianceEstimate, error) {
	if len(histories) == 0 {
		return nil, fmt.Errorf("%w: no histories to estimate from", domain.ErrDataUnavailable)
	}

	symbols := make([]string, 0, len(histories))
	for symbol := range histories {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	minLen := math.MaxInt
	for _, symbol := range symbols {
		if n := len(histories[symbol]); n < minLen {
			minLen = n
		}
	}
	if minLen < 2 {
		return nil, fmt.Errorf("%w: price history too short", domain.ErrDataUnavailable)
	}

	// Align to the common trailing window and convert to returns.
	returns := make([][]float64, len(symbols))
	for i, symbol := range symbols {
		prices := fillGaps(histories[symbol])
		prices = prices[len(prices)-minLen:]
		returns[i] = formulas.CalculateReturns(prices)
	}
	obs := minLen - 1

	n := len(symbols)
	sample := make([][]float64, n)
	for i := range sample {
		sample[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			c := formulas.Covariance(returns[i], returns[j])
			sample[i][j] = c
			sample[j][i] = c
		}
	}

	intensity := m.shrinkageIntensity(returns, sample)
	shrunk := applyShrinkage(sample, intensity)
	cond := conditionNumber(shrunk)

	// Escalate shrinkage until the matrix is well conditioned.
	for cond > m.cfg.ConditionCeiling && intensity < m.cfg.ShrinkageMax {
		intensity = math.Min(intensity+0.1, m.cfg.ShrinkageMax)
		shrunk = applyShrinkage(sample, intensity)
		cond = conditionNumber(shrunk)
	}

	// Annualize.
	for i := range shrunk {
		for j := range shrunk[i] {
			shrunk[i][j] *= formulas.TradingDaysPerYear
		}
	}

	m.logger.Debug().
		Int("instruments", n).
		Int("observations", obs).
		Float64("shrinkage", intensity).
		Float64("condition_number", cond).
		Msg("covariance estimated")

	return &domain.CovarianceEstimate{
		Symbols:         symbols,
		Matrix:          shrunk,
		Shrinkage:       intensity,
		ConditionNumber: cond,
		Observations:    obs,
	}, nil
}

// shrinkageIntensity estimates how far to pull the sample toward the target.
// Noisier samples (short windows, unstable covariances) get more shrinkage.
// The estimate is clamped into the configured bounds.
func (m *Model) shrinkageIntensity(returns [][]float64, sample [][]float64) float64 {
	n := len(sample)
	if n < 2 {
		return m.cfg.ShrinkageMin
	}
	obs := float64(len(returns[0]))

	// More instruments per observation means a noisier sample estimate.
	ratio := float64(n) / obs
	intensity := ratio / (ratio + 1)

	return clampFloat(intensity, m.cfg.ShrinkageMin, m.cfg.ShrinkageMax)
}

// applyShrinkage blends the sample with a constant-correlation target that
// keeps the sample variances on the diagonal and replaces every off-diagonal
// entry with the one implied by the average correlation.
func applyShrinkage(sample [][]float64, intensity float64) [][]float64 {
	n := len(sample)
	avgCorr := 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			denom := math.Sqrt(sample[i][i] * sample[j][j])
			if denom > 0 {
				avgCorr += sample[i][j] / denom
				pairs++
			}
		}
	}
	if pairs > 0 {
		avgCorr /= float64(pairs)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			if i == j {
				out[i][j] = sample[i][j]
				continue
			}
			target := avgCorr * math.Sqrt(sample[i][i]*sample[j][j])
			out[i][j] = (1-intensity)*sample[i][j] + intensity*target
		}
	}
	return out
}

// conditionNumber computes the 2-norm condition number via SVD.
func conditionNumber(matrix [][]float64) float64 {
	n := len(matrix)
	if n == 0 {
		return 1
	}
	dense := mat.NewDense(n, n, nil)
	for i := range matrix {
		dense.SetRow(i, matrix[i])
	}
	var svd mat.SVD
	if !svd.Factorize(dense, mat.SVDNone) {
		return math.Inf(1)
	}
	values := svd.Values(nil)
	smallest := values[len(values)-1]
	if smallest <= 0 {
		return math.Inf(1)
	}
	return values[0] / smallest
}

// fillGaps forward-fills then back-fills non-positive prices, which stand in
// for missing observations.
func fillGaps(prices []float64) []float64 {
	out := make([]float64, len(prices))
	copy(out, prices)
	for i := 1; i < len(out); i++ {
		if out[i] <= 0 {
			out[i] = out[i-1]
		}
	}
	for i := len(out) - 2; i >= 0; i-- {
		if out[i] <= 0 {
			out[i] = out[i+1]
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PortfolioVolatility computes annualized portfolio volatility (decimal) for
// the given weights under the estimate.
func PortfolioVolatility(est *domain.CovarianceEstimate, weights map[string]float64) float64 {
	var variance float64
	for i, si := range est.Symbols {
		wi := weights[si]
		if wi == 0 {
			continue
		}
		for j, sj := range est.Symbols {
			wj := weights[sj]
			if wj == 0 {
				continue
			}
			variance += wi * wj * est.Matrix[i][j]
		}
	}
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}
