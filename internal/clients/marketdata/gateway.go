package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"advisor/internal/cache"
	"advisor/internal/config"
	"advisor/internal/domain"
)

// Gateway serves normalized instrument data. All reads go through the cache;
// vendor calls are rate limited and backed off, and when the vendor is
// unavailable within the request deadline the gateway degrades to stale
// cached data marked as such rather than failing the request.
type Gateway struct {
	provider Provider
	cache    *cache.Cache
	limiter  *rate.Limiter
	backoff  *backoff
	cfg      config.GatewayConfig
	sleep    func(ctx context.Context, d time.Duration) bool
	logger   zerolog.Logger
}

// NewGateway creates a gateway over the given provider and cache.
func NewGateway(provider Provider, c *cache.Cache, cfg config.GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Gateway{
		provider: provider,
		cache:    c,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		backoff:  newBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		cfg:      cfg,
		sleep:    sleepCtx,
		logger:   logger.With().Str("component", "marketdata").Logger(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// callVendor runs one provider call, bounded by the per-call timeout and
// retried a fixed number of times on failure before the caller falls back to
// stale data. Retry delays grow per attempt with jitter derived from the
// symbol, so repeated runs stay reproducible.
func (g *Gateway) callVendor(ctx context.Context, symbol string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= g.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			if !g.sleep(ctx, retryDelay(g.cfg.BackoffInitial, symbol, attempt)) {
				return err
			}
		}
		callCtx := ctx
		cancel := func() {}
		if g.cfg.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		}
		err = call(callCtx)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryDelay(base time.Duration, symbol string, attempt int) time.Duration {
	d := base << (attempt - 2)
	return d + time.Duration(unit(seed(symbol), uint64(attempt))*float64(d)/2)
}

func quoteKey(symbol string) string        { return "quote:" + symbol }
func fundamentalsKey(symbol string) string { return "fundamentals:" + symbol }
func historyKey(symbol string, days int) string {
	return fmt.Sprintf("history:%s:%d", symbol, days)
}

// acquire waits for a rate limiter slot within the context deadline. It
// returns false when the vendor is held in backoff or the deadline cannot
// accommodate the wait, in which case the caller should serve stale data.
func (g *Gateway) acquire(ctx context.Context) bool {
	if held, remaining := g.backoff.held(); held {
		g.logger.Debug().Dur("remaining", remaining).Msg("vendor in backoff hold")
		return false
	}
	res := g.limiter.Reserve()
	if !res.OK() {
		return false
	}
	delay := res.Delay()
	if delay == 0 {
		return true
	}
	if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
		res.Cancel()
		return false
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		res.Cancel()
		return false
	}
}

// GetQuote returns a quote for the symbol, fresh if possible, stale if the
// vendor is unavailable. Errors only when no data exists in any tier.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	key := quoteKey(symbol)
	if raw, ok := g.cache.Get(key); ok {
		var q domain.Quote
		if err := json.Unmarshal(raw, &q); err == nil {
			return &q, nil
		}
	}

	if g.acquire(ctx) {
		var q *domain.Quote
		err := g.callVendor(ctx, symbol, func(ctx context.Context) error {
			var cerr error
			q, cerr = g.provider.Quote(ctx, symbol)
			return cerr
		})
		if err == nil {
			g.backoff.success()
			if raw, merr := json.Marshal(q); merr == nil {
				g.cache.Set(key, raw, g.cfg.QuoteTTL)
			}
			return q, nil
		}
		g.recordFailure(err, symbol)
	}

	return staleFallback[domain.Quote](g, key, symbol, func(q *domain.Quote) { q.Stale = true })
}

// GetInstrument returns the fundamentals record for a symbol.
func (g *Gateway) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentRecord, error) {
	key := fundamentalsKey(symbol)
	if raw, ok := g.cache.Get(key); ok {
		var rec domain.InstrumentRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &rec, nil
		}
	}

	if g.acquire(ctx) {
		var rec *domain.InstrumentRecord
		err := g.callVendor(ctx, symbol, func(ctx context.Context) error {
			var cerr error
			rec, cerr = g.provider.Fundamentals(ctx, symbol)
			return cerr
		})
		if err == nil {
			g.backoff.success()
			if raw, merr := json.Marshal(rec); merr == nil {
				g.cache.Set(key, raw, g.cfg.FundamentalsTTL)
			}
			return rec, nil
		}
		g.recordFailure(err, symbol)
	}

	return staleFallback[domain.InstrumentRecord](g, key, symbol, func(r *domain.InstrumentRecord) { r.Stale = true })
}

// GetPriceHistory returns the trailing daily price series for a symbol.
func (g *Gateway) GetPriceHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	key := historyKey(symbol, days)
	if raw, ok := g.cache.Get(key); ok {
		var prices []float64
		if err := json.Unmarshal(raw, &prices); err == nil {
			return prices, nil
		}
	}

	if g.acquire(ctx) {
		var prices []float64
		err := g.callVendor(ctx, symbol, func(ctx context.Context) error {
			var cerr error
			prices, cerr = g.provider.PriceHistory(ctx, symbol, days)
			return cerr
		})
		if err == nil {
			g.backoff.success()
			if raw, merr := json.Marshal(prices); merr == nil {
				g.cache.Set(key, raw, g.cfg.FundamentalsTTL)
			}
			return prices, nil
		}
		g.recordFailure(err, symbol)
	}

	if raw, age, ok := g.cache.GetStale(key); ok {
		g.logger.Warn().Str("symbol", symbol).Dur("age", age).Msg("serving stale price history")
		var prices []float64
		if err := json.Unmarshal(raw, &prices); err == nil {
			return prices, nil
		}
	}
	return nil, fmt.Errorf("%w: no price history for %s", domain.ErrDataUnavailable, symbol)
}

// GetUniverse fetches fundamentals for all symbols concurrently, bounded by
// the configured concurrency. Symbols with no data in any tier are dropped
// with a warning; the error is non-nil only when the whole universe failed.
func (g *Gateway) GetUniverse(ctx context.Context, symbols []string) ([]*domain.InstrumentRecord, error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxConcurrent)

	records := make([]*domain.InstrumentRecord, len(symbols))
	for i, symbol := range symbols {
		i, symbol := i, symbol
		eg.Go(func() error {
			rec, err := g.GetInstrument(ctx, symbol)
			if err != nil {
				g.logger.Warn().Err(err).Str("symbol", symbol).Msg("excluding instrument, data unavailable")
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make([]*domain.InstrumentRecord, 0, len(symbols))
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: all %d instruments failed", domain.ErrDataUnavailable, len(symbols))
	}
	return out, nil
}

// GetReturnHistories fetches daily return series for all symbols, bounded by
// the configured concurrency. Series are aligned to equal length; symbols
// with no history are dropped.
func (g *Gateway) GetReturnHistories(ctx context.Context, symbols []string, days int) (map[string][]float64, error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.MaxConcurrent)

	histories := make([]([]float64), len(symbols))
	for i, symbol := range symbols {
		i, symbol := i, symbol
		eg.Go(func() error {
			prices, err := g.GetPriceHistory(ctx, symbol, days)
			if err != nil {
				g.logger.Warn().Err(err).Str("symbol", symbol).Msg("excluding instrument, no history")
				return nil
			}
			histories[i] = prices
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]float64, len(symbols))
	for i, symbol := range symbols {
		if histories[i] != nil {
			out[symbol] = histories[i]
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no return histories", domain.ErrDataUnavailable)
	}
	return out, nil
}

func (g *Gateway) recordFailure(err error, symbol string) {
	g.backoff.failure()
	g.logger.Warn().Err(err).Str("symbol", symbol).Msg("vendor request failed")
}

// staleFallback serves a stale cached value, marking it via markStale, or
// returns ErrDataUnavailable.
func staleFallback[T any](g *Gateway, key, symbol string, markStale func(*T)) (*T, error) {
	raw, age, ok := g.cache.GetStale(key)
	if !ok {
		return nil, fmt.Errorf("%w: no data for %s in any tier", domain.ErrDataUnavailable, symbol)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: corrupt cache entry for %s", domain.ErrDataUnavailable, symbol)
	}
	markStale(&v)
	g.logger.Warn().Str("symbol", symbol).Dur("age", age).Msg("serving stale data")
	return &v, nil
}
