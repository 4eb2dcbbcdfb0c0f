// Package main provides the globalfinance command: scraping ISX history,
// fetching global quotes and serving the dashboard.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"globalfinance/internal/marketdata"
	"globalfinance/internal/store"
	"globalfinance/internal/utils"
	"globalfinance/models"
)

const defaultConfigPath = "configs/config.yaml"

var rootConfig = struct {
	configPath string
}{}

var rootCmd = &cobra.Command{
	Use:           "globalfinance",
	Short:         "Global market data: ISX scraping, quotes and a live dashboard",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	rootCmd.PersistentFlags().StringVar(&rootConfig.configPath, "config", configPath, "Path to the YAML configuration file")
}

// app holds everything the commands share.
type app struct {
	config *utils.Config
	logger *utils.Logger
	store  *store.Store
	market *marketdata.Service
	csv    *marketdata.CSVProvider
}

// loadConfig reads the configuration. A missing file at the default path
// falls back to the built-in defaults.
func loadConfig(cmd *cobra.Command) (*utils.Config, error) {
	path := rootConfig.configPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !cmd.Flags().Changed("config") && os.Getenv("CONFIG_PATH") == "" {
		return utils.DefaultConfig(), nil
	}
	return utils.LoadConfig(path)
}

// newApp wires the logger, store and market data service. ISX instruments are
// served from the files written by the scraper.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, func(), error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	logger, err := utils.NewLogger(config.Logging.Dir, config.Logging.Level)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	st, err := store.Open(ctx, config.Storage.DSN)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}

	market := marketdata.NewService(config, st, clock.New(), logger)
	csvProvider := marketdata.NewCSVProvider(config.Scraper.OutputDir, logger)
	market.Register(models.SourceYahoo, marketdata.NewYahooProvider(config, logger))
	market.Register(models.SourceCSV, csvProvider)
	market.Register(models.SourceISX, csvProvider)

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store: %v", err)
		}
		logger.Close()
	}
	return &app{config: config, logger: logger, store: st, market: market, csv: csvProvider}, cleanup, nil
}

// instruments resolves symbols against the watchlist. Unknown symbols become
// ad-hoc instruments of the given source.
func (a *app) instruments(symbols []string, source models.Source) []models.Instrument {
	if len(symbols) == 0 {
		return a.config.Market.Watchlist
	}
	out := make([]models.Instrument, 0, len(symbols))
	for _, sym := range symbols {
		if inst, ok := a.config.Instrument(sym); ok {
			out = append(out, inst)
			continue
		}
		out = append(out, models.Instrument{Symbol: sym, Name: sym, AssetClass: models.AssetEquity, Source: source})
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
