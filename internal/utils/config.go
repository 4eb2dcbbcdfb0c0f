package utils

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"globalfinance/models"
)

type Config struct {
	Scraper struct {
		Timeout   int    `yaml:"timeout"`
		Retries   int    `yaml:"retries"`
		Delay     int    `yaml:"delay"`
		MaxPages  int    `yaml:"maxPages"`
		FromDate  string `yaml:"fromDate"`
		OutputDir string `yaml:"outputDir"`
		Browser   struct {
			Headless bool `yaml:"headless"`
			Debug    bool `yaml:"debug"`
		} `yaml:"browser"`
	} `yaml:"scraper"`

	Market struct {
		BaseURL      string              `yaml:"baseURL"`
		UserAgent    string              `yaml:"userAgent"`
		Timeout      int                 `yaml:"timeout"`
		Retries      int                 `yaml:"retries"`
		CacheTTL     int                 `yaml:"cacheTTL"`
		Workers      int                 `yaml:"workers"`
		DefaultRange string              `yaml:"defaultRange"`
		Watchlist    []models.Instrument `yaml:"watchlist"`
	} `yaml:"market"`

	Server struct {
		Addr            string   `yaml:"addr"`
		RefreshInterval int      `yaml:"refreshInterval"`
		AllowedOrigins  []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Storage struct {
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultWatchlist is used when the config file lists no instruments.
var DefaultWatchlist = []models.Instrument{
	{Symbol: "^GSPC", Name: "S&P 500", AssetClass: models.AssetIndex, Region: "Americas", Exchange: "NYSE"},
	{Symbol: "^IXIC", Name: "NASDAQ Composite", AssetClass: models.AssetIndex, Region: "Americas", Exchange: "NASDAQ"},
	{Symbol: "^FTSE", Name: "FTSE 100", AssetClass: models.AssetIndex, Region: "Europe", Exchange: "LSE"},
	{Symbol: "^GDAXI", Name: "DAX", AssetClass: models.AssetIndex, Region: "Europe", Exchange: "XETRA"},
	{Symbol: "^FCHI", Name: "CAC 40", AssetClass: models.AssetIndex, Region: "Europe", Exchange: "EURONEXT"},
	{Symbol: "^N225", Name: "Nikkei 225", AssetClass: models.AssetIndex, Region: "Asia-Pacific", Exchange: "TSE"},
	{Symbol: "^HSI", Name: "Hang Seng", AssetClass: models.AssetIndex, Region: "Asia-Pacific", Exchange: "HKEX"},
	{Symbol: "000001.SS", Name: "SSE Composite", AssetClass: models.AssetIndex, Region: "Asia-Pacific", Exchange: "SSE"},
	{Symbol: "^AXJO", Name: "S&P/ASX 200", AssetClass: models.AssetIndex, Region: "Asia-Pacific", Exchange: "ASX"},
	{Symbol: "EURUSD=X", Name: "EUR/USD", AssetClass: models.AssetCurrency, Region: "FX"},
	{Symbol: "JPY=X", Name: "USD/JPY", AssetClass: models.AssetCurrency, Region: "FX"},
	{Symbol: "GC=F", Name: "Gold", AssetClass: models.AssetCommodity, Region: "Commodities"},
	{Symbol: "CL=F", Name: "Crude Oil WTI", AssetClass: models.AssetCommodity, Region: "Commodities"},
	{Symbol: "BTC-USD", Name: "Bitcoin", AssetClass: models.AssetCrypto, Region: "Crypto"},
	{Symbol: "^TNX", Name: "US 10Y Yield", AssetClass: models.AssetBond, Region: "Americas"},
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config %s", path)
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing config %s", path)
	}

	config.ApplyDefaults()
	return config, config.Validate()
}

// DefaultConfig returns a configuration populated only with defaults.
func DefaultConfig() *Config {
	config := &Config{}
	config.ApplyDefaults()
	return config
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = 60
	}
	if c.Scraper.Retries == 0 {
		c.Scraper.Retries = 3
	}
	if c.Scraper.Delay == 0 {
		c.Scraper.Delay = 2
	}
	if c.Scraper.MaxPages == 0 {
		c.Scraper.MaxPages = 5
	}
	if c.Scraper.FromDate == "" {
		c.Scraper.FromDate = "01/01/2020"
	}
	if c.Scraper.OutputDir == "" {
		c.Scraper.OutputDir = "output"
	}
	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Market.UserAgent == "" {
		c.Market.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124 Safari/537.36"
	}
	if c.Market.Timeout == 0 {
		c.Market.Timeout = 10
	}
	if c.Market.Retries == 0 {
		c.Market.Retries = 3
	}
	if c.Market.CacheTTL == 0 {
		c.Market.CacheTTL = 300
	}
	if c.Market.Workers == 0 {
		c.Market.Workers = 4
	}
	if c.Market.DefaultRange == "" {
		c.Market.DefaultRange = string(models.Range6M)
	}
	if len(c.Market.Watchlist) == 0 {
		c.Market.Watchlist = append([]models.Instrument(nil), DefaultWatchlist...)
	}
	for i := range c.Market.Watchlist {
		if c.Market.Watchlist[i].Source == "" {
			c.Market.Watchlist[i].Source = models.SourceYahoo
		}
		if c.Market.Watchlist[i].Name == "" {
			c.Market.Watchlist[i].Name = c.Market.Watchlist[i].Symbol
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RefreshInterval == 0 {
		c.Server.RefreshInterval = 30
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "data/globalfinance.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Scraper.Timeout <= 0 {
		return errors.New("invalid timeout value")
	}
	if c.Scraper.MaxPages <= 0 {
		return errors.New("invalid max pages value")
	}
	if c.Scraper.Retries < 0 {
		return errors.New("invalid scraper retries value")
	}
	if c.Scraper.Delay <= 0 {
		return errors.New("invalid delay value")
	}
	if c.Market.Timeout <= 0 {
		return errors.New("invalid market timeout value")
	}
	if c.Market.Retries < 0 {
		return errors.New("invalid market retries value")
	}
	if c.Server.RefreshInterval <= 0 {
		return errors.New("invalid refresh interval value")
	}
	if c.Market.Workers <= 0 {
		return errors.New("invalid workers value")
	}
	if c.Market.CacheTTL < 0 {
		return errors.New("invalid cache TTL value")
	}
	if _, err := models.ParseRange(c.Market.DefaultRange); err != nil {
		return errors.Wrap(err, "invalid default range")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, inst := range c.Market.Watchlist {
		if inst.Symbol == "" {
			return errors.New("watchlist entry without symbol")
		}
		if seen[inst.Symbol] {
			return errors.Errorf("duplicate watchlist symbol %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.AssetClass != "" && !inst.AssetClass.Valid() {
			return errors.Errorf("invalid asset class %q for %s", inst.AssetClass, inst.Symbol)
		}
		switch inst.Source {
		case models.SourceYahoo, models.SourceISX, models.SourceCSV:
		default:
			return errors.Errorf("invalid source %q for %s", inst.Source, inst.Symbol)
		}
	}
	return nil
}

// CacheTTL returns the market cache time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Market.CacheTTL) * time.Second
}

// Instrument finds a watchlist entry by symbol.
func (c *Config) Instrument(symbol string) (models.Instrument, bool) {
	for _, inst := range c.Market.Watchlist {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return models.Instrument{}, false
}
