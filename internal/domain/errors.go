package domain

import "errors"

// Error taxonomy for the engine. Transient conditions (rate limits, single
// instrument gaps) are absorbed where they occur; structural failures are
// surfaced to the caller as typed errors.
var (
	// ErrDataUnavailable means every data source was exhausted for a
	// required instrument. The instrument is excluded from the universe
	// with a logged warning; it is fatal only when the whole universe is
	// affected.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidProfile means the investor input failed boundary
	// validation. Fails fast; no partial computation is attempted.
	ErrInvalidProfile = errors.New("invalid investor profile")

	// ErrOptimizationInfeasible means a solve did not converge to an
	// accepted status. The optimizer absorbs it while climbing the
	// relaxation ladder; callers see a degraded all-cash result instead.
	ErrOptimizationInfeasible = errors.New("optimization infeasible")

	// ErrRateLimited is internal to the gateway; it is always resolved by
	// backoff or stale-cache fallback and never surfaces to callers.
	ErrRateLimited = errors.New("vendor rate limit exceeded")
)
