package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"globalfinance/internal/store"
	"globalfinance/internal/utils"
	"globalfinance/models"
)

// Cache persists fetched series between requests and restarts.
type Cache interface {
	SaveSeries(ctx context.Context, series *models.Series) error
	LoadSeries(ctx context.Context, symbol string, interval models.Interval, since time.Time) (*models.Series, error)
	RecordRun(ctx context.Context, run store.FetchRun) error
	RecentRuns(ctx context.Context, limit int) ([]store.FetchRun, error)
}

// Service routes instruments to their provider and caches the results.
type Service struct {
	providers map[models.Source]Provider
	cache     Cache
	clock     clock.Clock
	ttl       time.Duration
	workers   int
	perf      *utils.PerformanceTracker
	log       *utils.Logger
}

func NewService(config *utils.Config, cache Cache, clk clock.Clock, logger *utils.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		providers: make(map[models.Source]Provider),
		cache:     cache,
		clock:     clk,
		ttl:       config.CacheTTL(),
		workers:   config.Market.Workers,
		perf:      utils.NewPerformanceTracker(),
		log:       logger,
	}
}

// Register makes p serve instruments of the given source.
func (s *Service) Register(source models.Source, p Provider) {
	s.providers[source] = p
}

func (s *Service) GetPerformanceTracker() *utils.PerformanceTracker {
	return s.perf
}

func (s *Service) provider(inst models.Instrument) (Provider, error) {
	source := inst.Source
	if source == "" {
		source = models.SourceYahoo
	}
	p, ok := s.providers[source]
	if !ok {
		return nil, errors.Errorf("no provider registered for source %q", source)
	}
	return p, nil
}

// History returns the series of inst over rng. A fresh cache entry covering the
// range is served without calling the provider. When the provider fails, any
// cached bars are returned marked stale.
func (s *Service) History(ctx context.Context, inst models.Instrument, rng models.Range, interval models.Interval) (*models.Series, error) {
	now := s.clock.Now()
	since := rng.Start(now)

	cached, cacheErr := s.cache.LoadSeries(ctx, inst.Symbol, interval, since)
	if cacheErr != nil && cacheErr != store.ErrNotFound {
		s.log.Warn("Cache read failed for %s: %v", inst.Symbol, cacheErr)
	}
	if cacheErr == nil && cached.Len() > 0 && now.Sub(cached.FetchedAt) < s.ttl && !cached.CoveredFrom.After(since) {
		return cached, nil
	}

	series, err := s.fetch(ctx, inst, rng, interval)
	if err != nil {
		if cacheErr == nil && cached.Len() > 0 {
			s.log.Warn("Serving stale data for %s: %v", inst.Symbol, err)
			cached.Stale = true
			return cached, nil
		}
		return nil, err
	}
	return series, nil
}

// fetch always calls the provider and stores the result.
func (s *Service) fetch(ctx context.Context, inst models.Instrument, rng models.Range, interval models.Interval) (*models.Series, error) {
	p, err := s.provider(inst)
	if err != nil {
		return nil, err
	}

	var series *models.Series
	err = s.perf.Track(fmt.Sprintf("provider.%s", p.Name()), func() error {
		var err error
		series, err = p.History(ctx, inst.Symbol, rng, interval)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s history for %s", p.Name(), inst.Symbol)
	}

	series.Symbol = inst.Symbol
	series.Interval = interval
	series.FetchedAt = s.clock.Now().UTC()
	series.CoveredFrom = rng.Start(s.clock.Now())
	if err := s.cache.SaveSeries(ctx, series); err != nil {
		s.log.Warn("Failed to cache %s: %v", inst.Symbol, err)
	}
	return series, nil
}

// QuoteFromSeries takes the last close as price and the one before it as the
// previous close. A single bar yields a flat quote.
func QuoteFromSeries(inst models.Instrument, series *models.Series) (models.Quote, bool) {
	last, ok := series.Last()
	if !ok {
		return models.Quote{}, false
	}
	prev := last.Close
	if n := series.Len(); n > 1 {
		prev = series.Bars[n-2].Close
	}
	q := models.NewQuote(inst, series.Currency, last.Close, prev, last.Time)
	q.Stale = series.Stale
	return q, true
}

// Quotes fetches the latest quote of every instrument concurrently. Quotes are
// returned in input order; instruments that failed are left out and reported
// in the returned multierror.
func (s *Service) Quotes(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error) {
	results := make([]*models.Quote, len(instruments))
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, inst := range instruments {
		g.Go(func() error {
			series, err := s.History(ctx, inst, models.Range1M, models.IntervalDay)
			if err == nil {
				if q, ok := QuoteFromSeries(inst, series); ok {
					results[i] = &q
					return nil
				}
				err = errors.Wrap(ErrNoData, inst.Symbol)
			}
			mu.Lock()
			merr = multierror.Append(merr, err)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	quotes := make([]models.Quote, 0, len(instruments))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes, merr.ErrorOrNil()
}

// Refresh fetches every instrument from its provider regardless of the cache
// and records the run.
func (s *Service) Refresh(ctx context.Context, instruments []models.Instrument, rng models.Range) (store.FetchRun, error) {
	run := store.FetchRun{
		ID:        uuid.NewString(),
		StartedAt: s.clock.Now().UTC(),
		Symbols:   len(instruments),
	}
	s.log.Info("Refresh %s started for %d instruments", run.ID, len(instruments))

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, inst := range instruments {
		g.Go(func() error {
			if _, err := s.fetch(ctx, inst, rng, models.IntervalDay); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	run.FinishedAt = s.clock.Now().UTC()
	if err := merr.ErrorOrNil(); err != nil {
		run.Failures = merr.Len()
		run.Error = err.Error()
	}
	if err := s.cache.RecordRun(ctx, run); err != nil {
		s.log.Warn("Failed to record refresh %s: %v", run.ID, err)
	}
	s.log.Info("Refresh %s finished: %d/%d failed", run.ID, run.Failures, run.Symbols)
	return run, merr.ErrorOrNil()
}

// RecentRuns lists the latest refreshes.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]store.FetchRun, error) {
	return s.cache.RecentRuns(ctx, limit)
}
