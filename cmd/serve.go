package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"globalfinance/internal/calendar"
	"globalfinance/internal/scraper"
	"globalfinance/models"
	"globalfinance/visualization"
)

var serveConfig = struct {
	addr    string
	liveISX bool
}{}

func init() {
	serveCmd.Flags().StringVar(&serveConfig.addr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveConfig.liveISX, "live-isx", false, "Scrape ISX instruments with the browser instead of reading scraper output")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(quoteCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if serveConfig.addr != "" {
			a.config.Server.Addr = serveConfig.addr
		}
		if serveConfig.liveISX {
			s, err := scraper.New(a.logger, a.config)
			if err != nil {
				return errors.Wrap(err, "failed to initialize scraper")
			}
			defer s.Close()
			a.market.Register(models.SourceISX, s)
		}

		cal, err := calendar.New(nil)
		if err != nil {
			return errors.Wrap(err, "error loading market calendar")
		}
		srv, err := visualization.NewServer(a.config, a.market, cal, a.logger)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

var (
	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
	headStyle = cellStyle.Bold(true)
)

var quoteCmd = &cobra.Command{
	Use:   "quote [symbols...]",
	Short: "Print the latest quotes (the watchlist when no symbols are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		quotes, quoteErr := a.market.Quotes(ctx, a.instruments(args, models.SourceYahoo))
		if quotes == nil && quoteErr != nil {
			return quoteErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), quoteTable(quotes))
		if quoteErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Some quotes failed:\n%v\n", quoteErr)
		}
		return nil
	},
}

func quoteTable(quotes []models.Quote) string {
	rows := make([][]string, 0, len(quotes))
	for _, q := range quotes {
		stale := ""
		if q.Stale {
			stale = "stale"
		}
		rows = append(rows, []string{
			q.Symbol,
			q.Name,
			fmt.Sprintf("%.4f", q.Price),
			q.Currency,
			fmt.Sprintf("%+.4f", q.Change),
			fmt.Sprintf("%+.2f%%", q.ChangePercent),
			q.AsOf.Format("2006-01-02"),
			stale,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SYMBOL", "NAME", "PRICE", "CCY", "CHANGE", "%", "AS OF", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			if col == 4 || col == 5 {
				switch quotes[row].Direction() {
				case "up":
					return upStyle.Inherit(cellStyle)
				case "down":
					return downStyle.Inherit(cellStyle)
				}
			}
			return cellStyle
		})
	return t.String()
}
