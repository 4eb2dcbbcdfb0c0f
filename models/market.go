// Package models defines the data structures used in the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// AssetClass groups instruments on the dashboard.
type AssetClass string

const (
	AssetIndex     AssetClass = "index"
	AssetEquity    AssetClass = "equity"
	AssetCurrency  AssetClass = "currency"
	AssetCommodity AssetClass = "commodity"
	AssetCrypto    AssetClass = "crypto"
	AssetBond      AssetClass = "bond"
)

func (a AssetClass) Valid() bool {
	switch a {
	case AssetIndex, AssetEquity, AssetCurrency, AssetCommodity, AssetCrypto, AssetBond:
		return true
	}
	return false
}

// Source names the provider an instrument is fetched from.
type Source string

const (
	SourceYahoo Source = "yahoo"
	SourceISX   Source = "isx"
	SourceCSV   Source = "csv"
)

// Instrument is a single entry of the watchlist.
type Instrument struct {
	Symbol     string     `yaml:"symbol" json:"symbol"`
	Name       string     `yaml:"name" json:"name"`
	AssetClass AssetClass `yaml:"assetClass" json:"assetClass"`
	Region     string     `yaml:"region" json:"region"`
	Exchange   string     `yaml:"exchange" json:"exchange,omitempty"`
	Source     Source     `yaml:"source" json:"source"`
}

// Quote is the latest price of an instrument compared to its previous close.
type Quote struct {
	Symbol        string     `json:"symbol"`
	Name          string     `json:"name"`
	AssetClass    AssetClass `json:"assetClass"`
	Region        string     `json:"region"`
	Currency      string     `json:"currency"`
	Price         float64    `json:"price"`
	PreviousClose float64    `json:"previousClose"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"changePercent"`
	AsOf          time.Time  `json:"asOf"`
	Stale         bool       `json:"stale"`
}

// NewQuote derives the change fields from price and previous close.
func NewQuote(inst Instrument, currency string, price, previousClose float64, asOf time.Time) Quote {
	q := Quote{
		Symbol:        inst.Symbol,
		Name:          inst.Name,
		AssetClass:    inst.AssetClass,
		Region:        inst.Region,
		Currency:      currency,
		Price:         price,
		PreviousClose: previousClose,
		AsOf:          asOf,
	}
	if previousClose != 0 {
		q.Change = price - previousClose
		q.ChangePercent = q.Change / previousClose * 100
	}
	return q
}

// Direction returns "up", "down" or "flat" for styling.
func (q Quote) Direction() string {
	switch {
	case q.Change > 0:
		return "up"
	case q.Change < 0:
		return "down"
	}
	return "flat"
}

// Range is a lookback window understood by the providers.
type Range string

const (
	Range1D  Range = "1d"
	Range5D  Range = "5d"
	Range1M  Range = "1mo"
	Range3M  Range = "3mo"
	Range6M  Range = "6mo"
	Range1Y  Range = "1y"
	Range2Y  Range = "2y"
	Range5Y  Range = "5y"
	RangeYTD Range = "ytd"
	RangeMax Range = "max"
)

// Ranges lists every supported range in ascending order.
var Ranges = []Range{Range1D, Range5D, Range1M, Range3M, Range6M, Range1Y, Range2Y, Range5Y, RangeYTD, RangeMax}

func ParseRange(s string) (Range, error) {
	r := Range(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Ranges {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown range %q", s)
}

// Start returns the first instant covered by the range ending at now.
// RangeMax returns the zero time.
func (r Range) Start(now time.Time) time.Time {
	switch r {
	case Range1D:
		return now.AddDate(0, 0, -1)
	case Range5D:
		return now.AddDate(0, 0, -5)
	case Range1M:
		return now.AddDate(0, -1, 0)
	case Range3M:
		return now.AddDate(0, -3, 0)
	case Range6M:
		return now.AddDate(0, -6, 0)
	case Range1Y:
		return now.AddDate(-1, 0, 0)
	case Range2Y:
		return now.AddDate(-2, 0, 0)
	case Range5Y:
		return now.AddDate(-5, 0, 0)
	case RangeYTD:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	}
	return time.Time{}
}

// Interval is the bar width of a series.
type Interval string

const (
	IntervalDay   Interval = "1d"
	IntervalWeek  Interval = "1wk"
	IntervalMonth Interval = "1mo"
)

func ParseInterval(s string) (Interval, error) {
	switch i := Interval(strings.ToLower(strings.TrimSpace(s))); i {
	case IntervalDay, IntervalWeek, IntervalMonth:
		return i, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// PeriodsPerYear is used to annualize statistics computed over bars of this interval.
func (i Interval) PeriodsPerYear() float64 {
	switch i {
	case IntervalWeek:
		return 52
	case IntervalMonth:
		return 12
	}
	return 252
}
