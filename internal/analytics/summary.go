package analytics

import (
	"math"

	"globalfinance/models"
)

// Summary describes a series over the requested range. Undefined statistics are nil
// so the summary always encodes to JSON.
type Summary struct {
	Symbol        string   `json:"symbol"`
	Points        int      `json:"points"`
	First         *float64 `json:"first"`
	Last          *float64 `json:"last"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	ChangePercent *float64 `json:"changePercent"`
	Volatility    *float64 `json:"volatility"`
	MaxDrawdown   *float64 `json:"maxDrawdown"`
	SMA20         *float64 `json:"sma20"`
	SMA50         *float64 `json:"sma50"`
}

// Finite returns nil for NaN and infinities.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func lastOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

// Summarize computes the dashboard statistics of a series.
func Summarize(s *models.Series) Summary {
	sum := Summary{Symbol: s.Symbol, Points: s.Len()}
	if s.Len() == 0 {
		return sum
	}
	closes := s.Closes()
	high, low := math.Inf(-1), math.Inf(1)
	for _, b := range s.Bars {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}

	sum.First = Finite(closes[0])
	sum.Last = Finite(lastOf(closes))
	sum.High = Finite(high)
	sum.Low = Finite(low)
	sum.ChangePercent = Finite(CumulativeReturn(closes) * 100)
	sum.Volatility = Finite(Volatility(closes, s.Interval.PeriodsPerYear()))
	sum.MaxDrawdown = Finite(MaxDrawdown(closes))
	sum.SMA20 = Finite(lastOf(SMA(closes, 20)))
	sum.SMA50 = Finite(lastOf(SMA(closes, 50)))
	return sum
}

// FiniteMatrix converts a matrix for JSON encoding.
func FiniteMatrix(m [][]float64) [][]*float64 {
	out := make([][]*float64, len(m))
	for i, row := range m {
		out[i] = make([]*float64, len(row))
		for j, v := range row {
			out[i][j] = Finite(v)
		}
	}
	return out
}
