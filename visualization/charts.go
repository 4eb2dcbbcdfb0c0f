package visualization

import (
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"globalfinance/internal/analytics"
	"globalfinance/models"
)

// lineData turns values into echarts points. Missing values are rendered as gaps.
func lineData(values []float64) []opts.LineData {
	items := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			items[i] = opts.LineData{Value: "-"}
			continue
		}
		items[i] = opts.LineData{Value: math.Round(v*10000) / 10000}
	}
	return items
}

func chartTitle(inst models.Instrument, series *models.Series, rng models.Range) opts.Title {
	subtitle := fmt.Sprintf("%s · %s · %d bars", rng, series.Currency, series.Len())
	if series.Stale {
		subtitle += " · stale"
	}
	return opts.Title{Title: fmt.Sprintf("%s (%s)", inst.Name, inst.Symbol), Subtitle: subtitle}
}

func initOpts(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Width: "100%", Height: "560px"}
}

// RenderLineChart draws the closes with 20 and 50 period moving averages.
func RenderLineChart(w io.Writer, inst models.Instrument, series *models.Series, rng models.Range) error {
	closes := series.Closes()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(inst.Name)),
		charts.WithTitleOpts(chartTitle(inst, series, rng)),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(series.Dates()).
		AddSeries("Close", lineData(closes)).
		AddSeries("SMA 20", lineData(analytics.SMA(closes, 20))).
		AddSeries("SMA 50", lineData(analytics.SMA(closes, 50)))
	return line.Render(w)
}

// RenderCandlestickChart draws OHLC candles with a 20 period moving average overlay.
func RenderCandlestickChart(w io.Writer, inst models.Instrument, series *models.Series, rng models.Range) error {
	candles := make([]opts.KlineData, series.Len())
	for i, b := range series.Bars {
		// echarts expects open, close, low, high
		candles[i] = opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}}
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(inst.Name)),
		charts.WithTitleOpts(chartTitle(inst, series, rng)),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	kline.SetXAxis(series.Dates()).AddSeries(inst.Symbol, candles)

	sma := charts.NewLine()
	sma.SetXAxis(series.Dates()).AddSeries("SMA 20", lineData(analytics.SMA(series.Closes(), 20)))
	kline.Overlap(sma)
	return kline.Render(w)
}

// RenderComparisonChart rebases every series to 100 over their shared dates.
func RenderComparisonChart(w io.Writer, insts []models.Instrument, series []*models.Series, rng models.Range) error {
	dates, closes := analytics.Align(series...)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Comparison")),
		charts.WithTitleOpts(opts.Title{Title: "Relative performance", Subtitle: fmt.Sprintf("%s · rebased to 100", rng)}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(dates)
	for i, inst := range insts {
		line.AddSeries(inst.Name, lineData(analytics.Normalize(closes[i], 100)))
	}
	return line.Render(w)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	rng, interval, err := s.rangeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	series, err := s.market.History(r.Context(), inst, rng, interval)
	if err != nil {
		s.log.Warn("Chart data for %s failed: %v", inst.Symbol, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch r.URL.Query().Get("kind") {
	case "candle":
		err = RenderCandlestickChart(w, inst, series, rng)
	default:
		err = RenderLineChart(w, inst, series, rng)
	}
	if err != nil {
		s.log.Error("Failed to render chart for %s: %v", inst.Symbol, err)
	}
}

func (s *Server) handleCompareChart(w http.ResponseWriter, r *http.Request) {
	insts, err := s.symbolsParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rng, _, err := s.rangeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	series, err := s.histories(r, insts, rng)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderComparisonChart(w, insts, series, rng); err != nil {
		s.log.Error("Failed to render comparison chart: %v", err)
	}
}
