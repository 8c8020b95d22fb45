// Package factors computes standardized style factor scores and blends them
// into composite scores and expected returns.
package factors

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"advisor/internal/config"
	"advisor/internal/domain"
)

// Model scores a filtered universe on the five style factors. Scores are
// standardized within sector peer groups; groups smaller than the configured
// minimum fall back to the full universe so tiny sectors do not produce
// degenerate z-scores.
type Model struct {
	cfg    config.FactorConfig
	logger zerolog.Logger
}

// NewModel creates a factor model.
func NewModel(cfg config.FactorConfig, logger zerolog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.With().Str("component", "factors").Logger(),
	}
}

// Weights returns the normalized blend weights.
func (m *Model) Weights() map[domain.FactorName]float64 {
	w := map[domain.FactorName]float64{
		domain.FactorSize:     m.cfg.WeightSize,
		domain.FactorValue:    m.cfg.WeightValue,
		domain.FactorQuality:  m.cfg.WeightQuality,
		domain.FactorMomentum: m.cfg.WeightMomentum,
		domain.FactorLowVol:   m.cfg.WeightLowVol,
	}
	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		// Degenerate config falls back to equal weights.
		for k := range w {
			w[k] = 1.0 / float64(len(w))
		}
		return w
	}
	for k := range w {
		w[k] /= total
	}
	return w
}

// rawSignal computes the unstandardized factor value. Sign conventions make
// higher always better.
func rawSignal(rec *domain.InstrumentRecord, factor domain.FactorName) float64 {
	switch factor {
	case domain.FactorSize:
		// Small beats large.
		if rec.MarketCap <= 0 {
			return 0
		}
		return -math.Log(rec.MarketCap)
	case domain.FactorValue:
		// Cheap beats expensive; earnings yield plus book yield.
		var yield float64
		if rec.PERatio > 0 {
			yield += 1 / rec.PERatio
		}
		if rec.PBRatio > 0 {
			yield += 1 / rec.PBRatio
		}
		return yield
	case domain.FactorQuality:
		return rec.ReturnOnEquity + rec.GrossMargin
	case domain.FactorMomentum:
		// 12-1 momentum: trailing year excluding the most recent month.
		return rec.Return12M - rec.Return1M
	case domain.FactorLowVol:
		return -rec.RealizedVolatility
	}
	return 0
}

// Score computes the standardized factor score matrix for the universe.
func (m *Model) Score(universe []*domain.InstrumentRecord) *domain.FactorScoreMatrix {
	matrix := &domain.FactorScoreMatrix{
		Symbols: make([]string, 0, len(universe)),
		Scores:  make(map[string]map[domain.FactorName]float64, len(universe)),
	}
	for _, rec := range universe {
		matrix.Symbols = append(matrix.Symbols, rec.Symbol)
		matrix.Scores[rec.Symbol] = make(map[domain.FactorName]float64, len(domain.FactorNames))
	}
	if len(universe) == 0 {
		return matrix
	}

	bySector := make(map[string][]*domain.InstrumentRecord)
	for _, rec := range universe {
		bySector[rec.Sector] = append(bySector[rec.Sector], rec)
	}

	for _, factor := range domain.FactorNames {
		globalRaw := make([]float64, len(universe))
		for i, rec := range universe {
			globalRaw[i] = rawSignal(rec, factor)
		}
		globalMean, globalStd := meanStd(globalRaw)

		for sector, group := range bySector {
			mean, std := globalMean, globalStd
			if len(group) >= m.cfg.MinSectorGroup {
				raw := make([]float64, len(group))
				for i, rec := range group {
					raw[i] = rawSignal(rec, factor)
				}
				mean, std = meanStd(raw)
			} else {
				m.logger.Debug().
					Str("sector", sector).
					Int("size", len(group)).
					Msg("sector group below minimum, standardizing globally")
			}

			for _, rec := range group {
				z := 0.0
				if std > 0 {
					z = (rawSignal(rec, factor) - mean) / std
				}
				matrix.Scores[rec.Symbol][factor] = winsorize(z, m.cfg.WinsorizeLimit)
			}
		}
	}

	return matrix
}

// Composite blends standardized scores into a single score per symbol.
func (m *Model) Composite(matrix *domain.FactorScoreMatrix) map[string]float64 {
	weights := m.Weights()
	out := make(map[string]float64, len(matrix.Symbols))
	for _, symbol := range matrix.Symbols {
		var score float64
		for factor, w := range weights {
			score += w * matrix.Score(symbol, factor)
		}
		out[symbol] = score
	}
	return out
}

// ExpectedReturns maps composite scores to annual expected returns via the
// configured signal scale. A score of +1 adds SignalScale to the baseline of
// zero excess return.
func (m *Model) ExpectedReturns(composite map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(composite))
	for symbol, score := range composite {
		out[symbol] = m.cfg.SignalScale * score
	}
	return out
}

// Contributions decomposes a symbol's expected return into per-factor terms.
// The terms sum to the expected return exactly.
func (m *Model) Contributions(matrix *domain.FactorScoreMatrix, symbol string) map[domain.FactorName]float64 {
	weights := m.Weights()
	out := make(map[domain.FactorName]float64, len(weights))
	for factor, w := range weights {
		out[factor] = m.cfg.SignalScale * w * matrix.Score(symbol, factor)
	}
	return out
}

func meanStd(data []float64) (float64, float64) {
	mean, err := stats.Mean(data)
	if err != nil {
		return 0, 0
	}
	std, err := stats.StandardDeviationSample(data)
	if err != nil {
		return mean, 0
	}
	return mean, std
}

func winsorize(z, limit float64) float64 {
	if z > limit {
		return limit
	}
	if z < -limit {
		return -limit
	}
	return z
}
