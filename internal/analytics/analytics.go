// Package analytics computes return and risk statistics over price series.
//
// Functions never panic on short input: they return nil slices or NaN where a
// statistic is undefined.
package analytics

import (
	"math"

	"globalfinance/models"
)

// Returns computes simple period returns. The result has len(prices)-1 entries.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = prices[i]/prices[i-1] - 1
	}
	return out
}

// LogReturns computes natural log returns.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

// CumulativeReturn is the total return from the first to the last price.
func CumulativeReturn(prices []float64) float64 {
	if len(prices) < 2 || prices[0] == 0 {
		return math.NaN()
	}
	return prices[len(prices)-1]/prices[0] - 1
}

// SMA returns the simple moving average over window n. The first n-1 entries are NaN.
func SMA(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= n {
			sum -= prices[i-n]
		}
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA returns the exponential moving average over window n, seeded with the
// SMA of the first n prices. The first n-1 entries are NaN.
func EMA(prices []float64, n int) []float64 {
	if n <= 0 || len(prices) == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	alpha := 2 / float64(n+1)
	var sum float64
	for i, p := range prices {
		switch {
		case i < n-1:
			sum += p
			out[i] = math.NaN()
		case i == n-1:
			sum += p
			out[i] = sum / float64(n)
		default:
			out[i] = alpha*p + (1-alpha)*out[i-1]
		}
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample standard deviation.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Volatility is the annualized standard deviation of log returns.
func Volatility(prices []float64, periodsPerYear float64) float64 {
	return StdDev(LogReturns(prices)) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the largest peak to trough decline as a positive fraction.
func MaxDrawdown(prices []float64) float64 {
	if len(prices) == 0 {
		return math.NaN()
	}
	peak := prices[0]
	var worst float64
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			if dd := (peak - p) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Normalize rebases prices so the first point equals base.
func Normalize(prices []float64, base float64) []float64 {
	if len(prices) == 0 || prices[0] == 0 {
		return nil
	}
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p / prices[0] * base
	}
	return out
}

// Correlation is the Pearson correlation of two equally long samples.
func Correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return math.NaN()
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(va*vb)
}

// Align restricts every series to the dates present in all of them and
// returns the closes per series in input order along with the shared dates.
func Align(series ...*models.Series) ([]string, [][]float64) {
	if len(series) == 0 {
		return nil, nil
	}
	counts := make(map[string]int)
	for _, s := range series {
		seen := make(map[string]bool)
		for _, d := range s.Dates() {
			if !seen[d] {
				seen[d] = true
				counts[d]++
			}
		}
	}

	var dates []string
	for _, d := range series[0].Dates() {
		if counts[d] == len(series) {
			dates = append(dates, d)
			counts[d] = 0
		}
	}

	closes := make([][]float64, len(series))
	for i, s := range series {
		byDate := make(map[string]float64, s.Len())
		for j, d := range s.Dates() {
			byDate[d] = s.Bars[j].Close
		}
		closes[i] = make([]float64, len(dates))
		for j, d := range dates {
			closes[i][j] = byDate[d]
		}
	}
	return dates, closes
}

// CorrelationMatrix correlates the daily returns of every pair of series over their shared dates.
func CorrelationMatrix(series ...*models.Series) [][]float64 {
	_, closes := Align(series...)
	returns := make([][]float64, len(closes))
	for i, c := range closes {
		returns[i] = Returns(c)
	}
	matrix := make([][]float64, len(series))
	for i := range matrix {
		matrix[i] = make([]float64, len(series))
		for j := range matrix[i] {
			if i == j {
				matrix[i][j] = 1
				continue
			}
			matrix[i][j] = Correlation(returns[i], returns[j])
		}
	}
	return matrix
}
