package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"globalfinance/internal/utils"
	"globalfinance/models"
)

type leveledLoggerWrapper struct {
	realLogger *utils.Logger
}

// NewLeveledLogger lets the retrying client log through the application logger.
func NewLeveledLogger(realLogger *utils.Logger) retryablehttp.LeveledLogger {
	return &leveledLoggerWrapper{realLogger: realLogger}
}

func (l *leveledLoggerWrapper) Error(msg string, keysAndValues ...interface{}) {
	l.realLogger.Error("%s", l.convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Info(msg string, keysAndValues ...interface{}) {
	l.realLogger.Info("%s", l.convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Debug(msg string, keysAndValues ...interface{}) {
	l.realLogger.Debug("%s", l.convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Warn(msg string, keysAndValues ...interface{}) {
	l.realLogger.Warn("%s", l.convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) convertMsg(msg string, keysAndValues []interface{}) string {
	return fmt.Sprintf("%s: %v", msg, keysAndValues)
}

// YahooProvider reads the Yahoo Finance v8 chart endpoint.
type YahooProvider struct {
	baseURL   string
	userAgent string
	client    *retryablehttp.Client
	log       *utils.Logger
}

func NewYahooProvider(config *utils.Config, logger *utils.Logger) *YahooProvider {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.RetryMax = config.Market.Retries
	client.HTTPClient.Timeout = time.Duration(config.Market.Timeout) * time.Second
	client.Logger = NewLeveledLogger(logger)

	return &YahooProvider{
		baseURL:   strings.TrimRight(config.Market.BaseURL, "/"),
		userAgent: config.Market.UserAgent,
		client:    client,
		log:       logger,
	}
}

func (p *YahooProvider) Name() string {
	return string(models.SourceYahoo)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) History(ctx context.Context, symbol string, rng models.Range, interval models.Interval) (*models.Series, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(symbol), url.Values{
		"range":    {string(rng)},
		"interval": {string(interval)},
	}.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	p.log.Debug("Fetching %s range=%s interval=%s", symbol, rng, interval)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching %s", symbol)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading response for %s", symbol)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.Wrap(ErrSymbolNotFound, symbol)
		}
		return nil, errors.Wrapf(err, "error decoding response for %s (status %d)", symbol, resp.StatusCode)
	}
	if e := chart.Chart.Error; e != nil {
		if resp.StatusCode == http.StatusNotFound || strings.EqualFold(e.Code, "Not Found") {
			return nil, errors.Wrap(ErrSymbolNotFound, symbol)
		}
		return nil, &ProviderError{Provider: p.Name(), Code: e.Code, Description: e.Description}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d fetching %s", resp.StatusCode, symbol)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, errors.Wrap(ErrNoData, symbol)
	}

	result := chart.Chart.Result[0]
	series := &models.Series{
		Symbol:    symbol,
		Currency:  result.Meta.Currency,
		Interval:  interval,
		FetchedAt: time.Now().UTC(),
	}
	if len(result.Indicators.Quote) > 0 {
		q := result.Indicators.Quote[0]
		for i, ts := range result.Timestamp {
			o, h, l, c := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
			if o == nil || h == nil || l == nil || c == nil {
				continue
			}
			b := models.Bar{
				Time:  time.Unix(ts, 0).UTC(),
				Open:  *o,
				High:  *h,
				Low:   *l,
				Close: *c,
			}
			if v := at(q.Volume, i); v != nil {
				b.Volume = *v
			}
			if !b.Valid() {
				p.log.Debug("Skipping %s bar at %s: inconsistent prices", symbol, b.Time.Format(time.RFC3339))
				continue
			}
			series.Bars = append(series.Bars, b)
		}
	}
	if len(series.Bars) == 0 {
		return nil, errors.Wrap(ErrNoData, symbol)
	}
	series.Normalize()
	return series, nil
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}
