package models

import (
	"math"
	"sort"
	"time"
)

// Bar represents one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time" db:"ts"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
}

// Valid reports whether the bar has finite positive prices and a consistent high/low.
func (b Bar) Valid() bool {
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return false
		}
	}
	return b.Low <= math.Min(b.Open, b.Close) && b.High >= math.Max(b.Open, b.Close)
}

// Series holds the price history of one symbol.
type Series struct {
	Symbol    string    `json:"symbol"`
	Currency  string    `json:"currency"`
	Interval  Interval  `json:"interval"`
	Bars      []Bar     `json:"bars"`
	FetchedAt time.Time `json:"fetchedAt"`
	// CoveredFrom is the earliest instant the cached bars are known to be complete from.
	CoveredFrom time.Time `json:"-"`
	Stale       bool      `json:"stale"`
}

// Normalize sorts the bars by time and drops duplicate timestamps, keeping the
// last occurrence.
func (s *Series) Normalize() {
	sort.SliceStable(s.Bars, func(i, j int) bool {
		return s.Bars[i].Time.Before(s.Bars[j].Time)
	})
	out := s.Bars[:0]
	for _, b := range s.Bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	s.Bars = out
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Dates formats bar times as yyyy-mm-dd.
func (s *Series) Dates() []string {
	dates := make([]string, len(s.Bars))
	for i, b := range s.Bars {
		dates[i] = b.Time.Format("2006-01-02")
	}
	return dates
}

// Last returns the most recent bar.
func (s *Series) Last() (Bar, bool) {
	if s.Len() == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Between returns a copy of the series restricted to bars in [from, to].
// A zero bound is open.
func (s *Series) Between(from, to time.Time) *Series {
	out := *s
	out.Bars = nil
	for _, b := range s.Bars {
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && b.Time.After(to) {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return &out
}
