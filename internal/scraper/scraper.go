package scraper

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"

	"globalfinance/internal/utils"
	"globalfinance/models"
)

const isxBaseURL = "http://www.isx-iq.net/isxportal/portal/"

// StockData represents one row of the ISX performance history table as shown on the page.
type StockData struct {
	Date        string
	OpenPrice   string
	HighPrice   string
	LowPrice    string
	ClosePrice  string
	Volume      string
	TotalShares string
	NumTrades   string
}

// Scraper drives a headless Chrome session against the ISX portal.
type Scraper struct {
	logger      *utils.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      *utils.Config
	perfTracker *utils.PerformanceTracker
	mu          sync.Mutex
	closed      bool
}

// New launches Chrome with Arabic language support and returns a scraper bound to it.
func New(logger *utils.Logger, config *utils.Config) (*Scraper, error) {
	logger.Debug("Initializing Chrome with Arabic support")
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("lang", "ar"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.NoSandbox,
		chromedp.Flag("headless", config.Scraper.Browser.Headless),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("enable-logging", config.Scraper.Browser.Debug),
		chromedp.Flag("v", "1"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	s := &Scraper{
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		config:      config,
		perfTracker: utils.NewPerformanceTracker(),
	}
	if err := s.newBrowser(); err != nil {
		allocCancel()
		return nil, err
	}
	return s, nil
}

func (s *Scraper) newBrowser() error {
	ctx, cancel := chromedp.NewContext(s.allocCtx, chromedp.WithLogf(s.logger.Debug))

	// Test browser launch
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		s.logger.Error("Failed to launch browser: %v", err)
		return errors.Wrap(err, "failed to launch browser")
	}

	// Accept any javascript dialog the portal raises
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if ev, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			s.logger.Debug("Dialog detected: %s", ev.Message)
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Debug("Failed to handle dialog: %v", err)
				}
			}()
		}
	})

	s.ctx, s.cancel = ctx, cancel
	return nil
}

func (s *Scraper) Name() string {
	return string(models.SourceISX)
}

// History scrapes the full table for symbol and trims it to rng. ISX only
// publishes daily rows, so interval is ignored.
func (s *Scraper) History(ctx context.Context, symbol string, rng models.Range, interval models.Interval) (*models.Series, error) {
	rows, err := s.GetStockData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	series := ToSeries(symbol, rows, s.logger).Between(rng.Start(time.Now()), time.Time{})
	if series.Len() == 0 {
		return nil, errors.Errorf("no rows for %s in range %s", symbol, rng)
	}
	return series, nil
}

// GetStockData pages through the performance history table of ticker.
func (s *Scraper) GetStockData(ctx context.Context, ticker string) ([]StockData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("scraper is closed")
	}

	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	s.perfTracker.StartStep("scrape " + ticker)
	defer s.perfTracker.EndStep()

	url := fmt.Sprintf("%scompanyprofilecontainer.html?currLanguage=en&companyCode=%s%%20&activeTab=0", isxBaseURL, ticker)
	s.logger.Info("Starting data extraction for ticker: %s", ticker)

	// Navigate to the page
	s.perfTracker.StartStep("navigate")
	err := s.navigate(runCtx, url)
	s.perfTracker.EndStep()
	if err != nil {
		return nil, fmt.Errorf("failed to navigate: %v", err)
	}

	// Set up date range and trigger search
	err = chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(`
			(() => {
				const dateInput = document.querySelector("#fromDate");
				dateInput.value = %q;
				const event = new Event('change', { bubbles: true });
				dateInput.dispatchEvent(event);

				const searchButton = document.querySelector("#command > div.filterbox > div.button-all > input[type=button]");
				searchButton.click();
				return true;
			})()
		`, s.config.Scraper.FromDate), nil),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set date range: %v", err)
	}

	// Wait for table to load
	if err := sleep(runCtx, 2*time.Second); err != nil {
		return nil, err
	}

	var allStockData []StockData
	currentPage := 1
	maxPages := s.config.Scraper.MaxPages
	toDate := time.Now().Format("02/01/2006")

	s.logger.Debug("Starting data extraction, will process %d pages", maxPages)

	for currentPage <= maxPages {
		// Extract data from current page
		var pageData []StockData
		s.perfTracker.StartStep("extract page")
		err = chromedp.Run(runCtx,
			chromedp.Evaluate(`
				(() => {
					const table = document.getElementById('dispTable');
					const rows = table.querySelectorAll('tbody tr');
					return Array.from(rows).map(row => {
						const cells = row.querySelectorAll('td');
						return {
							Date: cells[9].textContent.trim(),
							OpenPrice: cells[7].textContent.trim(),
							HighPrice: cells[6].textContent.trim(),
							LowPrice: cells[5].textContent.trim(),
							ClosePrice: cells[8].textContent.trim(),
							Volume: cells[1].textContent.trim(),
							TotalShares: cells[2].textContent.trim(),
							NumTrades: cells[0].textContent.trim()
						};
					});
				})()
			`, &pageData),
		)
		s.perfTracker.EndStep()
		if err != nil {
			return nil, fmt.Errorf("failed to extract data from page %d: %v", currentPage, err)
		}

		s.logger.Debug("Successfully extracted %d records from page %d", len(pageData), currentPage)
		allStockData = append(allStockData, pageData...)

		if currentPage >= maxPages || len(pageData) == 0 {
			break
		}

		// Navigate to next page
		nextPage := currentPage + 1
		s.logger.Debug("Navigating to page %d...", nextPage)
		err = chromedp.Run(runCtx,
			chromedp.Evaluate(fmt.Sprintf(`
				(() => {
					doAjax('companyperformancehistoryfilter.html',
						'fromDate=%s&d-6716032-p=%d&toDate=%s&companyCode=%s',
						'ajxDspId');
					return true;
				})()
			`, s.config.Scraper.FromDate, nextPage, toDate, ticker), nil),
		)
		if err != nil {
			s.logger.Error("Failed to navigate to page %d: %v", nextPage, err)
			break
		}

		if err := sleep(runCtx, time.Duration(s.config.Scraper.Delay)*time.Second); err != nil {
			return nil, err
		}
		currentPage++
	}

	return allStockData, nil
}

// runContext derives a context from the browser tab that also ends when ctx
// does and is bounded by the per-ticker timeout.
func (s *Scraper) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, time.Duration(s.config.Scraper.Timeout)*time.Second)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// navigate loads url, retrying up to the configured number of times.
func (s *Scraper) navigate(ctx context.Context, url string) error {
	var err error
	for attempt := 0; attempt <= s.config.Scraper.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("Retrying navigation (%d/%d): %v", attempt, s.config.Scraper.Retries, err)
			if serr := sleep(ctx, time.Duration(s.config.Scraper.Delay)*time.Second); serr != nil {
				return serr
			}
		}
		err = chromedp.Run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body"))
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ToSeries converts a scraped table into a sorted daily series in IQD.
func ToSeries(symbol string, rows []StockData, logger *utils.Logger) *models.Series {
	series := &models.Series{
		Symbol:    symbol,
		Currency:  "IQD",
		Interval:  models.IntervalDay,
		Bars:      ToBars(rows, logger),
		FetchedAt: time.Now().UTC(),
	}
	series.Normalize()
	return series
}

// ToBars converts scraped rows, skipping rows that cannot be parsed.
func ToBars(rows []StockData, logger *utils.Logger) []models.Bar {
	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := row.Bar()
		if err != nil {
			logger.Debug("Skipping row %s: %v", row.Date, err)
			continue
		}
		bars = append(bars, bar)
	}
	return bars
}

// Bar parses the row. Untraded days carry only a close and become flat bars.
func (d StockData) Bar() (models.Bar, error) {
	return utils.ParseBar(d.Date, d.OpenPrice, d.HighPrice, d.LowPrice, d.ClosePrice, d.Volume)
}

// SaveToCSV writes the rows to {outputDir}/{ticker}_data.csv and returns the path.
func (s *Scraper) SaveToCSV(ticker string, data []StockData) (string, error) {
	return SaveToCSV(s.config.Scraper.OutputDir, ticker, data)
}

func SaveToCSV(dir, ticker string, data []StockData) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to save")
	}

	// Create the output directory if it doesn't exist
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory: %v", err)
	}

	// Create CSV file
	filename := filepath.Join(dir, fmt.Sprintf("%s_data.csv", ticker))
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	headers := []string{"Date", "Open", "High", "Low", "Close", "Volume", "T.Shares", "Trades"}
	if err := writer.Write(headers); err != nil {
		return "", fmt.Errorf("failed to write headers: %v", err)
	}

	for _, record := range data {
		row := []string{
			record.Date,
			record.OpenPrice,
			record.HighPrice,
			record.LowPrice,
			record.ClosePrice,
			record.Volume,
			record.TotalShares,
			record.NumTrades,
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("failed to write record: %v", err)
		}
	}

	writer.Flush()
	return filename, writer.Error()
}

// Close stops the browser. It is safe to call more than once.
func (s *Scraper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.logger.Debug("Closing browser...")
	if s.cancel != nil {
		// Try to close the tab gracefully first
		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Debug("Error during graceful shutdown: %v", err)
		}
		s.cancel()
	}
	s.allocCancel()
	s.logger.Debug("Browser closed successfully")
}

func (s *Scraper) GetPerformanceTracker() *utils.PerformanceTracker {
	return s.perfTracker
}

// PreflightCheck verifies all dependencies and configurations
func (s *Scraper) PreflightCheck() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"Config Validation", s.validateConfig},
		{"Directory Structure", s.checkDirectories},
		{"Browser Launch", s.testBrowserLaunch},
		{"Network Settings", s.testNetworkSettings},
	}

	for _, c := range checks {
		s.logger.Debug("Running preflight check: %s", c.name)
		if err := c.check(); err != nil {
			return fmt.Errorf("%s check failed: %v", c.name, err)
		}
		s.logger.Debug("%s check passed", c.name)
	}

	return nil
}

func (s *Scraper) validateConfig() error {
	if s.config == nil {
		return fmt.Errorf("configuration is nil")
	}
	return s.config.Validate()
}

func (s *Scraper) checkDirectories() error {
	dirs := []string{
		s.config.Scraper.OutputDir,
		s.config.Logging.Dir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %v", dir, err)
		}
	}
	return nil
}

func (s *Scraper) testBrowserLaunch() error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	return chromedp.Run(ctx, chromedp.Navigate("about:blank"))
}

func (s *Scraper) testNetworkSettings() error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	return chromedp.Run(ctx,
		network.Enable(),
		network.SetCacheDisabled(true),
		emulation.SetUserAgentOverride(s.config.Market.UserAgent),
	)
}

// RefreshBrowser replaces the browser tab, keeping the allocator and its flags.
func (s *Scraper) RefreshBrowser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug("Refreshing browser session")

	if s.cancel != nil {
		s.cancel()
	}
	return s.newBrowser()
}
