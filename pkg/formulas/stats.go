package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization factor for daily series.
const TradingDaysPerYear = 252

// CalculateReturns converts prices to simple daily returns.
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// CumulativeWealth compounds a return series into a wealth curve starting at 1.0.
// The output has len(returns)+1 points.
func CumulativeWealth(returns []float64) []float64 {
	wealth := make([]float64, len(returns)+1)
	wealth[0] = 1.0
	for i, r := range returns {
		wealth[i+1] = wealth[i] * (1.0 + r)
	}
	return wealth
}

// Covariance calculates the covariance between two equal-length datasets
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}
