package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)

	assert.Empty(t, CalculateReturns([]float64{100}))
}

func TestCumulativeWealth(t *testing.T) {
	wealth := CumulativeWealth([]float64{0.10, -0.50})
	require.Len(t, wealth, 3)
	assert.Equal(t, 1.0, wealth[0])
	assert.InDelta(t, 1.10, wealth[1], 1e-9)
	assert.InDelta(t, 0.55, wealth[2], 1e-9)
}

func TestCalculateMaxDrawdown(t *testing.T) {
	dd := CalculateMaxDrawdown([]float64{100, 120, 90, 110, 80})
	require.NotNil(t, dd)
	// Peak 120, trough 80.
	assert.InDelta(t, (120.0-80.0)/120.0, *dd, 1e-9)

	assert.Nil(t, CalculateMaxDrawdown([]float64{100}))

	flat := CalculateMaxDrawdown([]float64{100, 100, 100})
	require.NotNil(t, flat)
	assert.Zero(t, *flat)
}

func TestCovariance(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	assert.InDelta(t, 10.0/3.0, Covariance(x, y), 1e-9)

	assert.Zero(t, Covariance(x, []float64{1}))
	assert.Zero(t, Covariance(nil, nil))
}
