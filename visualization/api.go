package visualization

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"globalfinance/internal/analytics"
	"globalfinance/internal/marketdata"
	"globalfinance/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Warn("Error in API call %s: %v", r.URL.Path, err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// statusFor maps provider failures onto HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, marketdata.ErrSymbolNotFound) || errors.Is(err, marketdata.ErrNoData) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// errorStrings flattens a multierror for JSON.
func errorStrings(err error) []string {
	if err == nil {
		return []string{}
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

type quotesResponse struct {
	Quotes []models.Quote `json:"quotes"`
	Errors []string       `json:"errors"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.market.Quotes(r.Context(), s.config.Market.Watchlist)
	if quotes == nil && err != nil {
		s.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	render.JSON(w, r, quotesResponse{Quotes: quotes, Errors: errorStrings(err)})
}

type historyResponse struct {
	Instrument models.Instrument `json:"instrument"`
	Range      models.Range      `json:"range"`
	Series     *models.Series    `json:"series"`
	Summary    analytics.Summary `json:"summary"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(r)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, errors.New("unknown symbol"))
		return
	}
	rng, interval, err := s.rangeParams(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	series, err := s.market.History(r.Context(), inst, rng, interval)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, historyResponse{
		Instrument: inst,
		Range:      rng,
		Series:     series,
		Summary:    analytics.Summarize(series),
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.calendar.All())
}

// symbolsParam resolves ?symbols=a,b,c against the watchlist.
func (s *Server) symbolsParam(r *http.Request) ([]models.Instrument, error) {
	var out []models.Instrument
	for _, sym := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		inst, ok := s.config.Instrument(sym)
		if !ok {
			return nil, errors.Errorf("unknown symbol %s", sym)
		}
		out = append(out, inst)
	}
	if len(out) < 2 {
		return nil, errors.New("at least two symbols are required")
	}
	return out, nil
}

// histories fetches the series of every instrument concurrently, in input order.
func (s *Server) histories(r *http.Request, insts []models.Instrument, rng models.Range) ([]*models.Series, error) {
	out := make([]*models.Series, len(insts))
	g, ctx := errgroup.WithContext(r.Context())
	for i, inst := range insts {
		g.Go(func() error {
			series, err := s.market.History(ctx, inst, rng, models.IntervalDay)
			if err != nil {
				return err
			}
			out[i] = series
			return nil
		})
	}
	return out, g.Wait()
}

type correlationResponse struct {
	Symbols []string     `json:"symbols"`
	Range   models.Range `json:"range"`
	Points  int          `json:"points"`
	Matrix  [][]*float64 `json:"matrix"`
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	insts, err := s.symbolsParam(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rng, _, err := s.rangeParams(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	series, err := s.histories(r, insts, rng)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}

	dates, _ := analytics.Align(series...)
	resp := correlationResponse{
		Range:  rng,
		Points: len(dates),
		Matrix: analytics.FiniteMatrix(analytics.CorrelationMatrix(series...)),
	}
	for _, inst := range insts {
		resp.Symbols = append(resp.Symbols, inst.Symbol)
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	runs, err := s.market.RecentRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, runs)
}
