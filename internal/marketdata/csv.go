package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"globalfinance/internal/utils"
	"globalfinance/models"
)

// CSVProvider serves series from the {symbol}_data.csv files written by the scraper.
type CSVProvider struct {
	dir string
	log *utils.Logger
	now func() time.Time
}

func NewCSVProvider(dir string, logger *utils.Logger) *CSVProvider {
	return &CSVProvider{dir: dir, log: logger, now: time.Now}
}

func (p *CSVProvider) Name() string {
	return string(models.SourceCSV)
}

// Path returns the file holding symbol's history.
func (p *CSVProvider) Path(symbol string) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_data.csv", symbol))
}

func (p *CSVProvider) History(ctx context.Context, symbol string, rng models.Range, interval models.Interval) (*models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(p.Path(symbol))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error opening data for %s", symbol)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "error reading data for %s", symbol)
	}
	bars, err := p.parse(symbol, records)
	if err != nil {
		return nil, err
	}

	series := &models.Series{
		Symbol:    symbol,
		Interval:  models.IntervalDay,
		Bars:      bars,
		FetchedAt: p.now().UTC(),
	}
	series.Normalize()
	series = series.Between(rng.Start(p.now()), time.Time{})
	if series.Len() == 0 {
		return nil, errors.Wrap(ErrNoData, symbol)
	}
	return series, nil
}

// Save writes series to its file using the scraper's column layout. The
// share and trade counts are left empty.
func (p *CSVProvider) Save(series *models.Series) (string, error) {
	if series.Len() == 0 {
		return "", errors.Wrap(ErrNoData, series.Symbol)
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create output directory")
	}
	path := p.Path(series.Symbol)
	file, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()

	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Date", "Open", "High", "Low", "Close", "Volume", "T.Shares", "Trades"}); err != nil {
		return "", errors.Wrap(err, "failed to write headers")
	}
	for _, b := range series.Bars {
		row := []string{b.Time.UTC().Format("2006-01-02"), num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume), "", ""}
		if err := writer.Write(row); err != nil {
			return "", errors.Wrap(err, "failed to write record")
		}
	}
	writer.Flush()
	return path, writer.Error()
}

func (p *CSVProvider) parse(symbol string, records [][]string) ([]models.Bar, error) {
	if len(records) == 0 {
		return nil, errors.Wrap(ErrNoData, symbol)
	}
	cols := make(map[string]int)
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, errors.Errorf("data for %s is missing column %s", symbol, required)
		}
	}

	var bars []models.Bar
	for n, record := range records[1:] {
		bar, err := parseRow(record, cols)
		if err != nil {
			p.log.Debug("Skipping %s row %d: %v", symbol, n+2, err)
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseRow converts one exported row. A row with only a close price is
// treated as a flat bar, which is how the exchange reports untraded days.
func parseRow(record []string, cols map[string]int) (models.Bar, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}
	return utils.ParseBar(field("date"), field("open"), field("high"), field("low"), field("close"), field("volume"))
}
