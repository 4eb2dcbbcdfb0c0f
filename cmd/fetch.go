package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"globalfinance/internal/scraper"
	"globalfinance/internal/store"
	"globalfinance/internal/utils"
	"globalfinance/models"
)

// refreshEvery is how many tickers are scraped before the browser tab is replaced.
const refreshEvery = 5

var fetchConfig = struct {
	ticker string
	file   string
	source string
	rng    string
}{}

func init() {
	fetchCmd.Flags().StringVar(&fetchConfig.ticker, "ticker", "", "Single ticker to process")
	fetchCmd.Flags().StringVar(&fetchConfig.file, "file", "", "Path to CSV file containing tickers")
	fetchCmd.Flags().StringVar(&fetchConfig.source, "source", string(models.SourceISX), "Where to fetch from: isx or yahoo")
	fetchCmd.Flags().StringVar(&fetchConfig.rng, "range", "", "Range to fetch from yahoo (defaults to market.defaultRange)")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch price history for a ticker or a list of tickers",
	RunE: func(cmd *cobra.Command, args []string) error {
		startTime := time.Now()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		var tickers []string
		switch {
		case fetchConfig.ticker != "":
			tickers = []string{fetchConfig.ticker}
		case fetchConfig.file != "":
			tickers, err = utils.ReadTickersFromCSV(fetchConfig.file)
			if err != nil {
				return errors.Wrapf(err, "error reading CSV file %s", fetchConfig.file)
			}
			a.logger.Info("Found %d tickers to process", len(tickers))
		default:
			return errors.New("no input specified, use --ticker for a single ticker or --file for a ticker list")
		}

		switch models.Source(fetchConfig.source) {
		case models.SourceISX:
			err = a.fetchISX(ctx, tickers)
		case models.SourceYahoo:
			err = a.fetchYahoo(ctx, tickers)
		default:
			err = errors.Errorf("unknown source %q", fetchConfig.source)
		}
		if err != nil {
			return err
		}

		a.logger.Info("Total execution time: %v", time.Since(startTime).Round(time.Second))
		return nil
	},
}

// fetchISX scrapes every ticker in turn, saving each table to CSV and the store.
func (a *app) fetchISX(ctx context.Context, tickers []string) error {
	s, err := scraper.New(a.logger, a.config)
	if err != nil {
		return errors.Wrap(err, "failed to initialize scraper")
	}
	defer s.Close()

	if err := s.PreflightCheck(); err != nil {
		return errors.Wrap(err, "preflight check failed")
	}

	run := store.FetchRun{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Symbols: len(tickers)}
	var merr *multierror.Error
	total := len(tickers)
	a.logger.Info("Starting to process %d tickers", total)

	for i, ticker := range tickers {
		if i > 0 && i%refreshEvery == 0 {
			if err := s.RefreshBrowser(); err != nil {
				return errors.Wrap(err, "failed to refresh browser")
			}
		}
		a.logger.Info("Processing ticker %d/%d: %s", i+1, total, ticker)

		if err := a.processSingleTicker(ctx, s, ticker); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("Failed to process ticker %s: %v", ticker, err)
			merr = multierror.Append(merr, errors.Wrap(err, ticker))
		}

		if i < total-1 {
			delay := time.Duration(a.config.Scraper.Delay) * time.Second
			a.logger.Debug("Waiting %v before next ticker", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	run.FinishedAt = time.Now().UTC()
	if err := merr.ErrorOrNil(); err != nil {
		run.Failures = merr.Len()
		run.Error = err.Error()
	}
	if err := a.store.RecordRun(ctx, run); err != nil {
		a.logger.Warn("Failed to record run %s: %v", run.ID, err)
	}

	a.logger.Info("Aggregate Performance Report:\n%s", s.GetPerformanceTracker().GenerateAggregateReport())
	a.logger.Info("Completed processing %d tickers, %d failed", total, run.Failures)
	return merr.ErrorOrNil()
}

func (a *app) processSingleTicker(ctx context.Context, s *scraper.Scraper, ticker string) error {
	rows, err := s.GetStockData(ctx, ticker)
	if err != nil {
		return err
	}
	path, err := s.SaveToCSV(ticker, rows)
	if err != nil {
		return errors.Wrapf(err, "error saving data for %s", ticker)
	}

	series := scraper.ToSeries(ticker, rows, a.logger)
	if series.Len() == 0 {
		return errors.Errorf("no usable rows for %s", ticker)
	}
	series.CoveredFrom = series.Bars[0].Time
	if from, err := utils.ParseDate(a.config.Scraper.FromDate); err == nil && from.Before(series.CoveredFrom) {
		series.CoveredFrom = from
	}
	if err := a.store.SaveSeries(ctx, series); err != nil {
		return err
	}

	a.logger.Info("Successfully processed %s: %d bars saved to %s", ticker, series.Len(), path)
	return nil
}

// fetchYahoo refreshes the symbols through the market service and exports
// each cached series next to the scraper output.
func (a *app) fetchYahoo(ctx context.Context, symbols []string) error {
	raw := fetchConfig.rng
	if raw == "" {
		raw = a.config.Market.DefaultRange
	}
	rng, err := models.ParseRange(raw)
	if err != nil {
		return err
	}

	insts := a.instruments(symbols, models.SourceYahoo)
	run, refreshErr := a.market.Refresh(ctx, insts, rng)
	a.logger.Info("Run %s: %d/%d instruments failed", run.ID, run.Failures, run.Symbols)

	for _, inst := range insts {
		if inst.Source != models.SourceYahoo {
			continue
		}
		series, err := a.market.History(ctx, inst, rng, models.IntervalDay)
		if err != nil {
			continue
		}
		path, err := a.csv.Save(series)
		if err != nil {
			a.logger.Warn("Failed to export %s: %v", inst.Symbol, err)
			continue
		}
		a.logger.Info("Saved %d bars of %s to %s", series.Len(), inst.Symbol, path)
	}

	a.logger.Info("Aggregate Performance Report:\n%s", a.market.GetPerformanceTracker().GenerateAggregateReport())
	return refreshErr
}
