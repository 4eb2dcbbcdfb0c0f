package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalfinance/internal/store"
	"globalfinance/models"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  map[string]int
	closes map[string][]float64
	fail   map[string]error
	now    func() time.Time
}

func newFakeProvider(now func() time.Time) *fakeProvider {
	return &fakeProvider{
		calls:  make(map[string]int),
		closes: make(map[string][]float64),
		fail:   make(map[string]error),
		now:    now,
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) History(ctx context.Context, symbol string, rng models.Range, interval models.Interval) (*models.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	closes, ok := f.closes[symbol]
	if !ok {
		return nil, errors.Wrap(ErrSymbolNotFound, symbol)
	}
	series := &models.Series{Symbol: symbol, Currency: "USD", Interval: interval}
	end := f.now().UTC().Truncate(24 * time.Hour)
	for i, c := range closes {
		series.Bars = append(series.Bars, models.Bar{
			Time:  end.AddDate(0, 0, i-len(closes)),
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		})
	}
	return series, nil
}

func (f *fakeProvider) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func newTestService(t *testing.T) (*Service, *fakeProvider, *clock.Mock) {
	t.Helper()
	cache, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.June, 12, 15, 0, 0, 0, time.UTC))

	config := testConfig("http://unused")
	config.Market.CacheTTL = 60
	svc := NewService(config, cache, mock, testLogger())
	fake := newFakeProvider(mock.Now)
	svc.Register(models.SourceYahoo, fake)
	return svc, fake, mock
}

var (
	spx  = models.Instrument{Symbol: "^GSPC", Name: "S&P 500", AssetClass: models.AssetIndex, Region: "Americas"}
	gold = models.Instrument{Symbol: "GC=F", Name: "Gold", AssetClass: models.AssetCommodity, Region: "Commodities"}
	nope = models.Instrument{Symbol: "NOPE", Name: "Nothing"}
)

func TestHistoryUsesFreshCache(t *testing.T) {
	svc, fake, mock := newTestService(t)
	fake.closes[spx.Symbol] = []float64{100, 101, 102}
	ctx := context.Background()

	first, err := svc.History(ctx, spx, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Len())

	second, err := svc.History(ctx, spx, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, second.Closes())
	assert.Equal(t, 1, fake.callCount(spx.Symbol), "served from cache")

	// A wider range is not covered by the cached fetch.
	_, err = svc.History(ctx, spx, models.Range1Y, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.callCount(spx.Symbol))

	mock.Add(2 * time.Minute)
	_, err = svc.History(ctx, spx, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.callCount(spx.Symbol), "expired entry refetched")
}

func TestHistoryCoverageResetsAfterGap(t *testing.T) {
	svc, fake, mock := newTestService(t)
	fake.closes[spx.Symbol] = []float64{100, 101, 102}
	ctx := context.Background()

	_, err := svc.History(ctx, spx, models.Range1Y, models.IntervalDay)
	require.NoError(t, err)
	require.Equal(t, 1, fake.callCount(spx.Symbol))

	// A short fetch long after the first one leaves a hole between them.
	mock.Add(90 * 24 * time.Hour)
	_, err = svc.History(ctx, spx, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	require.Equal(t, 2, fake.callCount(spx.Symbol))

	_, err = svc.History(ctx, spx, models.Range1Y, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.callCount(spx.Symbol), "gapped cache must not satisfy the wide range")

	// A refetch that overlaps the previous one keeps the wider coverage.
	mock.Add(2 * time.Minute)
	_, err = svc.History(ctx, spx, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	require.Equal(t, 4, fake.callCount(spx.Symbol))
	_, err = svc.History(ctx, spx, models.Range6M, models.IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, 4, fake.callCount(spx.Symbol))
}

func TestHistoryServesStaleOnProviderError(t *testing.T) {
	svc, fake, mock := newTestService(t)
	fake.closes[gold.Symbol] = []float64{2300, 2310}
	ctx := context.Background()

	_, err := svc.History(ctx, gold, models.Range1M, models.IntervalDay)
	require.NoError(t, err)

	mock.Add(10 * time.Minute)
	fake.fail[gold.Symbol] = errors.New("upstream unavailable")
	series, err := svc.History(ctx, gold, models.Range1M, models.IntervalDay)
	require.NoError(t, err)
	assert.True(t, series.Stale)
	assert.Equal(t, []float64{2300, 2310}, series.Closes())

	_, err = svc.History(ctx, nope, models.Range1M, models.IntervalDay)
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
}

func TestHistoryUnknownSource(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.History(context.Background(), models.Instrument{Symbol: "BBOB", Source: models.SourceISX}, models.Range1M, models.IntervalDay)
	assert.ErrorContains(t, err, "no provider registered")
}

func TestQuotes(t *testing.T) {
	svc, fake, _ := newTestService(t)
	fake.closes[spx.Symbol] = []float64{100, 110}
	fake.closes[gold.Symbol] = []float64{2000, 1900}

	quotes, err := svc.Quotes(context.Background(), []models.Instrument{gold, nope, spx})
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.Contains(t, err.Error(), "NOPE")

	require.Len(t, quotes, 2)
	assert.Equal(t, "GC=F", quotes[0].Symbol)
	assert.InDelta(t, -5, quotes[0].ChangePercent, 1e-9)
	assert.Equal(t, "^GSPC", quotes[1].Symbol)
	assert.InDelta(t, 10, quotes[1].Change, 1e-9)
	assert.Equal(t, "USD", quotes[1].Currency)
}

func TestRefreshRecordsRun(t *testing.T) {
	svc, fake, _ := newTestService(t)
	fake.closes[spx.Symbol] = []float64{100, 110}
	ctx := context.Background()

	run, err := svc.Refresh(ctx, []models.Instrument{spx, nope}, models.Range1M)
	require.Error(t, err)
	assert.Equal(t, 2, run.Symbols)
	assert.Equal(t, 1, run.Failures)

	runs, err := svc.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	aggs := svc.GetPerformanceTracker().Aggregates()
	require.Len(t, aggs, 1)
	assert.Equal(t, "provider.fake", aggs[0].StepName)
	assert.Equal(t, 1, aggs[0].Failures)
}

func TestQuoteFromSeries(t *testing.T) {
	_, ok := QuoteFromSeries(spx, &models.Series{})
	assert.False(t, ok)

	q, ok := QuoteFromSeries(spx, &models.Series{Bars: []models.Bar{{Close: 5}}, Stale: true})
	require.True(t, ok)
	assert.Zero(t, q.Change)
	assert.True(t, q.Stale)
}
