package visualization

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalfinance/internal/calendar"
	"globalfinance/internal/marketdata"
	"globalfinance/internal/store"
	"globalfinance/internal/utils"
	"globalfinance/models"
)

type fakeMarket struct {
	series map[string]*models.Series
	runs   []store.FetchRun
}

func (f *fakeMarket) History(ctx context.Context, inst models.Instrument, rng models.Range, interval models.Interval) (*models.Series, error) {
	s, ok := f.series[inst.Symbol]
	if !ok {
		return nil, errors.Wrap(marketdata.ErrSymbolNotFound, inst.Symbol)
	}
	return s, nil
}

func (f *fakeMarket) Quotes(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error) {
	var merr *multierror.Error
	quotes := []models.Quote{}
	for _, inst := range instruments {
		s, err := f.History(ctx, inst, models.Range1M, models.IntervalDay)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		q, _ := marketdata.QuoteFromSeries(inst, s)
		quotes = append(quotes, q)
	}
	return quotes, merr.ErrorOrNil()
}

func (f *fakeMarket) RecentRuns(ctx context.Context, limit int) ([]store.FetchRun, error) {
	return f.runs, nil
}

func testSeries(symbol string, closes []float64) *models.Series {
	s := &models.Series{Symbol: symbol, Currency: "USD", Interval: models.IntervalDay}
	start := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Bars = append(s.Bars, models.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c})
	}
	return s
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	config := utils.DefaultConfig()
	config.Scraper.OutputDir = t.TempDir()
	config.Market.Watchlist = []models.Instrument{
		{Symbol: "AAA", Name: "Alpha <b>Corp</b>", AssetClass: models.AssetEquity, Region: "Europe", Source: models.SourceYahoo},
		{Symbol: "BBB", Name: "Beta Industries", AssetClass: models.AssetEquity, Region: "Americas", Source: models.SourceYahoo},
		{Symbol: "^GSPC", Name: "S&P 500", AssetClass: models.AssetIndex, Region: "Americas", Source: models.SourceYahoo},
	}

	closes := []float64{10, 11, 12, 11, 13, 14, 13, 15}
	doubled := make([]float64, len(closes))
	for i, c := range closes {
		doubled[i] = c * 2
	}
	market := &fakeMarket{
		series: map[string]*models.Series{
			"AAA": testSeries("AAA", closes),
			"BBB": testSeries("BBB", doubled),
		},
		runs: []store.FetchRun{{ID: "run-1", Symbols: 3, Failures: 1}},
	}

	cal, err := calendar.New(clock.NewMock())
	require.NoError(t, err)
	srv, err := NewServer(config, market, cal, utils.NewWriterLogger(io.Discard, "debug"))
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestAPIQuotes(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := get(t, h, "/api/quotes")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp quotesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 2)
	assert.Equal(t, "AAA", resp.Quotes[0].Symbol)
	assert.Equal(t, 15.0, resp.Quotes[0].Price)
	assert.Equal(t, 13.0, resp.Quotes[0].PreviousClose)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "^GSPC")
}

func TestAPIHistory(t *testing.T) {
	h := newTestServer(t).Handler()

	rr := get(t, h, "/api/history/AAA?range=1mo")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Instrument models.Instrument      `json:"instrument"`
		Range      models.Range           `json:"range"`
		Series     models.Series          `json:"series"`
		Summary    map[string]interface{} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "AAA", resp.Instrument.Symbol)
	assert.Equal(t, models.Range1M, resp.Range)
	assert.Len(t, resp.Series.Bars, 8)
	assert.Equal(t, 15.0, resp.Summary["last"])
	assert.Nil(t, resp.Summary["sma20"])

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/history/ZZZ").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/history/AAA?range=forever").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/history/AAA?interval=1h").Code)
	// In the watchlist but unknown to the provider.
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/history/"+url.PathEscape("^GSPC")).Code)
}

func TestAPIMarketsAndRuns(t *testing.T) {
	h := newTestServer(t).Handler()

	rr := get(t, h, "/api/markets")
	require.Equal(t, http.StatusOK, rr.Code)
	var markets []calendar.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &markets))
	assert.Len(t, markets, len(calendar.Exchanges))

	rr = get(t, h, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []store.FetchRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestAPICorrelation(t *testing.T) {
	h := newTestServer(t).Handler()

	rr := get(t, h, "/api/correlation?symbols=AAA,BBB&range=3mo")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp correlationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"AAA", "BBB"}, resp.Symbols)
	assert.Equal(t, 8, resp.Points)
	require.Len(t, resp.Matrix, 2)
	require.NotNil(t, resp.Matrix[0][1])
	assert.InDelta(t, 1.0, *resp.Matrix[0][1], 1e-9)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/correlation?symbols=AAA").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/correlation?symbols=AAA,NOPE").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/correlation?symbols=AAA,%5EGSPC").Code)
}

func TestCharts(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, target := range []string{"/charts/AAA", "/charts/AAA?kind=candle&range=1y", "/charts/compare?symbols=AAA,BBB"} {
		rr := get(t, h, target)
		require.Equal(t, http.StatusOK, rr.Code, target)
		assert.Contains(t, rr.Body.String(), "echarts", target)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html", target)
	}

	assert.Equal(t, http.StatusNotFound, get(t, h, "/charts/ZZZ").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/charts/AAA?range=forever").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/charts/compare?symbols=AAA").Code)
}

func TestDashboard(t *testing.T) {
	h := newTestServer(t).Handler()

	rr := get(t, h, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `id="quotes"`)
	assert.Contains(t, body, `id="search-results"`)
	assert.Contains(t, body, "Alpha Corp")
	assert.NotContains(t, body, "<b>Corp")
	assert.Contains(t, body, "Iraq Stock Exchange")
	assert.Contains(t, body, "/sse/quotes")
	// Regions are sorted.
	assert.Less(t, strings.Index(body, "<h3>Americas</h3>"), strings.Index(body, "<h3>Europe</h3>"))
}

func TestDataFiles(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(srv.config.Scraper.OutputDir, "BBOB_data.csv"), []byte("Date,Close\n"), 0644))

	rr := get(t, srv.Handler(), "/data/BBOB_data.csv")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Date,Close\n", rr.Body.String())
}

func TestSearch(t *testing.T) {
	h := newTestServer(t).Handler()

	query := url.Values{}
	query.Set("datastar", `{"search":"alp"}`)
	rr := get(t, h, "/sse/search?"+query.Encode())
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "search-results")
	assert.Contains(t, body, "Alpha Corp")
	assert.NotContains(t, body, "Beta Industries")

	query.Set("datastar", `{"search":"zzz"}`)
	rr = get(t, h, "/sse/search?"+query.Encode())
	assert.Contains(t, rr.Body.String(), "No matches")
}

func TestMatchInstruments(t *testing.T) {
	watchlist := utils.DefaultWatchlist
	matches := matchInstruments(watchlist, "  NIKKEI ")
	require.Len(t, matches, 1)
	assert.Equal(t, "^N225", matches[0].Symbol)

	assert.Len(t, matchInstruments(watchlist, "^"), 9)
	assert.Empty(t, matchInstruments(watchlist, ""))
}

func TestLiveQuotesStream(t *testing.T) {
	srv := newTestServer(t)
	srv.refresh = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/quotes", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	patches := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && patches < 2 {
		if strings.Contains(scanner.Text(), `id="quotes"`) {
			patches++
		}
	}
	assert.Equal(t, 2, patches)
}
