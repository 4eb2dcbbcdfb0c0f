package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalfinance/models"
)

func TestReadTickersFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TICKERS.csv")
	require.NoError(t, os.WriteFile(path, []byte("Ticker,Name\nBBOB,Bank of Baghdad\n ,blank\nIMAP,Al-Mansour\n"), 0644))

	tickers, err := ReadTickersFromCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBOB", "IMAP"}, tickers)

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	tickers, err = ReadTickersFromCSV(empty)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"1,234.50": 1234.5,
		" 12 ":     12,
		"-":        0,
		"":         0,
		"-3.2":     -3.2,
	}
	for in, want := range cases {
		got, err := ParseNumber(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	_, err := ParseNumber("abc")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.December, 23, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"23/12/2024", "2024-12-23", "2024/12/23"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
	_, err := ParseDate("12/23/2024")
	assert.Error(t, err)
}

func TestParseBar(t *testing.T) {
	bar, err := ParseBar("23/12/2024", "1.500", "1.520", "1.490", "1.510", "1,250,000")
	require.NoError(t, err)
	assert.Equal(t, models.Bar{
		Time:   time.Date(2024, time.December, 23, 0, 0, 0, 0, time.UTC),
		Open:   1.5,
		High:   1.52,
		Low:    1.49,
		Close:  1.51,
		Volume: 1250000,
	}, bar)

	flat, err := ParseBar("19/12/2024", "-", "-", "-", "1.470", "0")
	require.NoError(t, err)
	assert.Equal(t, 1.47, flat.Open)
	assert.Equal(t, 1.47, flat.High)
	assert.Equal(t, 1.47, flat.Low)

	_, err = ParseBar("19/12/2024", "1.5", "1.5", "1.5", "-", "0")
	assert.EqualError(t, err, "missing close price")

	_, err = ParseBar("19/12/2024", "1.5", "1.4", "1.3", "1.45", "0")
	assert.EqualError(t, err, "inconsistent prices")

	_, err = ParseBar("19/12/2024", "abc", "1.5", "1.4", "1.45", "0")
	assert.Error(t, err)

	_, err = ParseBar("not a date", "1.5", "1.5", "1.4", "1.45", "0")
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scraper:
  maxPages: 3
market:
  watchlist:
    - symbol: BBOB
      source: isx
      assetClass: equity
      region: Middle East
      exchange: ISX
`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Scraper.MaxPages)
	assert.Equal(t, 60, config.Scraper.Timeout)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, 5*time.Minute, config.CacheTTL())
	require.Len(t, config.Market.Watchlist, 1)
	assert.Equal(t, "BBOB", config.Market.Watchlist[0].Name)

	inst, ok := config.Instrument("BBOB")
	require.True(t, ok)
	assert.Equal(t, models.SourceISX, inst.Source)
	_, ok = config.Instrument("NOPE")
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Len(t, config.Market.Watchlist, len(DefaultWatchlist))

	config.Market.Watchlist = append(config.Market.Watchlist, config.Market.Watchlist[0])
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Market.DefaultRange = "7y"
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Market.Watchlist[0].Source = "bloomberg"
	assert.Error(t, config.Validate())

	for name, mutate := range map[string]func(*Config){
		"refresh interval": func(c *Config) { c.Server.RefreshInterval = -5 },
		"market timeout":   func(c *Config) { c.Market.Timeout = -1 },
		"market retries":   func(c *Config) { c.Market.Retries = -1 },
		"scraper delay":    func(c *Config) { c.Scraper.Delay = -2 },
		"scraper retries":  func(c *Config) { c.Scraper.Retries = -1 },
	} {
		config = DefaultConfig()
		mutate(config)
		assert.Error(t, config.Validate(), name)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info")
	logger.Debug("hidden %d", 1)
	logger.Info("shown %d", 2)
	logger.WithField("symbol", "^GSPC").Warn("tagged")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "symbol=^GSPC")

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	for name, want := range map[string]logrus.Level{"warn": logrus.WarnLevel, "warning": logrus.WarnLevel, "DEBUG": logrus.DebugLevel} {
		level, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, level, name)
	}
}

func TestPerformanceTracker(t *testing.T) {
	pt := NewPerformanceTracker()
	pt.StartStep("fetch")
	pt.StartStep("parse")
	pt.EndStep()
	pt.EndStep()

	require.NoError(t, pt.Track("provider.yahoo", func() error { return nil }))
	require.Error(t, pt.Track("provider.yahoo", func() error { return errors.New("boom") }))

	aggs := map[string]StepAggregate{}
	for _, agg := range pt.Aggregates() {
		aggs[agg.StepName] = agg
	}
	assert.Equal(t, 2, aggs["provider.yahoo"].Count)
	assert.Equal(t, 1, aggs["provider.yahoo"].Failures)
	assert.Equal(t, 1, aggs["parse"].Count)

	report := pt.GenerateReport()
	assert.True(t, strings.Contains(report, "fetch") && strings.Contains(report, "  parse"))
	assert.Contains(t, pt.GenerateAggregateReport(), "Step: provider.yahoo")
}
