// Package marketdata is the engine's single entry point for instrument data.
// It normalizes vendor responses, enforces rate limits with backoff, and
// serves from a two-tier TTL cache with stale fallback.
package marketdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"advisor/internal/domain"
)

// Provider is a market data vendor. Implementations return vendor-shaped
// data; the gateway owns normalization, caching and rate limiting.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*domain.InstrumentRecord, error)
	PriceHistory(ctx context.Context, symbol string, days int) ([]float64, error)
}

var sectors = []string{
	"Technology",
	"Healthcare",
	"Financials",
	"Consumer Discretionary",
	"Consumer Staples",
	"Industrials",
	"Energy",
	"Utilities",
	"Materials",
	"Communication Services",
}

// SyntheticProvider generates deterministic instrument data from the symbol
// alone. The same symbol always yields the same fundamentals and price path,
// which keeps fixtures and the demo deployment reproducible.
type SyntheticProvider struct {
	now func() time.Time
}

// NewSyntheticProvider creates a deterministic provider.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{now: time.Now}
}

// Name implements Provider.
func (p *SyntheticProvider) Name() string { return "synthetic" }

// seed derives a stable 64-bit seed from the symbol.
func seed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

// unit maps a seed and salt to a deterministic value in [0, 1).
func unit(s uint64, salt uint64) float64 {
	x := s ^ (salt * 0x9e3779b97f4a7c15)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return float64(x%1_000_000) / 1_000_000
}

// Quote implements Provider.
func (p *SyntheticProvider) Quote(_ context.Context, symbol string) (*domain.Quote, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrDataUnavailable)
	}
	s := seed(symbol)
	return &domain.Quote{
		Symbol: symbol,
		Price:  basePrice(s),
		AsOf:   p.now(),
		Source: p.Name(),
	}, nil
}

func basePrice(s uint64) float64 {
	return 10 + 490*unit(s, 1)
}

// Fundamentals implements Provider.
func (p *SyntheticProvider) Fundamentals(_ context.Context, symbol string) (*domain.InstrumentRecord, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrDataUnavailable)
	}
	s := seed(symbol)

	vol := 0.12 + 0.45*unit(s, 7) // annualized 12% to 57%
	rec := &domain.InstrumentRecord{
		Symbol:               symbol,
		Name:                 symbol + " Corp",
		Sector:               sectors[s%uint64(len(sectors))],
		MarketCap:            5e8 + 2e12*math.Pow(unit(s, 2), 3),
		PERatio:              5 + 55*unit(s, 3),
		PBRatio:              0.5 + 9.5*unit(s, 4),
		ReturnOnEquity:       -0.05 + 0.45*unit(s, 5),
		GrossMargin:          0.10 + 0.70*unit(s, 6),
		Return1M:             -0.10 + 0.20*unit(s, 8),
		Return12M:            -0.30 + 0.80*unit(s, 9),
		RealizedVolatility:   vol,
		AvgDailyDollarVolume: 1e5 + 5e9*math.Pow(unit(s, 10), 2),
		Price:                basePrice(s),
		Restricted:           unit(s, 11) < 0.02,
		Source:               p.Name(),
		AsOf:                 p.now(),
	}
	// A thin slice of the universe carries jurisdiction restrictions.
	if unit(s, 12) < 0.05 {
		rec.EligibleJurisdictions = []string{"US"}
	}
	return rec, nil
}

// PriceHistory implements Provider. The path is a deterministic random walk
// with drift and volatility consistent with the instrument's fundamentals.
func (p *SyntheticProvider) PriceHistory(_ context.Context, symbol string, days int) ([]float64, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", domain.ErrDataUnavailable)
	}
	if days < 2 {
		return nil, fmt.Errorf("%w: history of %d days too short", domain.ErrDataUnavailable, days)
	}
	s := seed(symbol)
	dailyVol := (0.12 + 0.45*unit(s, 7)) / math.Sqrt(252)
	drift := (-0.30 + 0.80*unit(s, 9)) / 252

	prices := make([]float64, days)
	prices[0] = basePrice(s)
	for i := 1; i < days; i++ {
		// Two uniforms folded into a rough gaussian shock.
		u1 := unit(s, uint64(100+i))
		u2 := unit(s, uint64(100000+i))
		shock := math.Sqrt(-2*math.Log(u1+1e-12)) * math.Cos(2*math.Pi*u2)
		prices[i] = prices[i-1] * (1 + drift + dailyVol*shock)
		if prices[i] < 0.01 {
			prices[i] = 0.01
		}
	}
	return prices, nil
}
