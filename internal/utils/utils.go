package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"globalfinance/models"
)

// ReadTickersFromCSV reads ticker symbols from a CSV file.
func ReadTickersFromCSV(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var tickers []string
	for _, record := range records[1:] { // Skip header
		if len(record) == 0 {
			continue
		}
		ticker := strings.TrimSpace(record[0]) // Ticker is in the first column
		if ticker != "" {
			tickers = append(tickers, ticker)
		}
	}

	return tickers, nil
}

// ParseNumber parses exchange formatted numbers such as "1,234.50" or "-".
// A dash or empty string is zero.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	time.RFC3339,
}

// ParseDate accepts dd/mm/yyyy (ISX) as well as ISO dates. The result is UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// ParseBar builds a daily bar from the text columns of a price table.
// Rows that only carry a close become a flat bar at that price.
func ParseBar(date, open, high, low, close, volume string) (models.Bar, error) {
	var bar models.Bar
	var err error
	if bar.Time, err = ParseDate(date); err != nil {
		return bar, err
	}
	fields := []struct {
		raw string
		dst *float64
	}{
		{open, &bar.Open},
		{high, &bar.High},
		{low, &bar.Low},
		{close, &bar.Close},
		{volume, &bar.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = ParseNumber(f.raw); err != nil {
			return bar, err
		}
	}
	if bar.Close <= 0 {
		return bar, fmt.Errorf("missing close price")
	}
	if bar.Open == 0 && bar.High == 0 && bar.Low == 0 {
		bar.Open, bar.High, bar.Low = bar.Close, bar.Close, bar.Close
	}
	if !bar.Valid() {
		return bar, fmt.Errorf("inconsistent prices")
	}
	return bar, nil
}
