// Package visualization serves the dashboard: the HTML page, its JSON API,
// the chart pages and the live datastar fragments.
package visualization

import (
	"context"
	"embed"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"globalfinance/internal/calendar"
	"globalfinance/internal/store"
	"globalfinance/internal/utils"
	"globalfinance/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// MarketService is the data the dashboard reads.
type MarketService interface {
	Quotes(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error)
	History(ctx context.Context, inst models.Instrument, rng models.Range, interval models.Interval) (*models.Series, error)
	RecentRuns(ctx context.Context, limit int) ([]store.FetchRun, error)
}

type Server struct {
	config    *utils.Config
	market    MarketService
	calendar  *calendar.Calendar
	log       *utils.Logger
	templates *template.Template
	sanitizer *bluemonday.Policy
	refresh   time.Duration
}

func NewServer(config *utils.Config, market MarketService, cal *calendar.Calendar, logger *utils.Logger) (*Server, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "error parsing templates")
	}
	return &Server{
		config:    config,
		market:    market,
		calendar:  cal,
		log:       logger.WithField("component", "dashboard"),
		templates: tmpl,
		sanitizer: bluemonday.StrictPolicy(),
		refresh:   time.Duration(config.Server.RefreshInterval) * time.Second,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Serve the CSV files written by the scraper
	dataFs := http.FileServer(http.Dir(s.config.Scraper.OutputDir))
	r.Handle("/data/*", http.StripPrefix("/data/", dataFs))

	// Live fragments stream until the client goes away, so no timeout here.
	r.Route("/sse", func(r chi.Router) {
		r.Get("/quotes", s.handleLiveQuotes)
		r.Get("/search", s.handleSearch)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/", s.handleDashboard)
		r.Route("/charts", func(r chi.Router) {
			r.Get("/compare", s.handleCompareChart)
			r.Get("/{symbol}", s.handleChart)
		})
		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.config.Server.AllowedOrigins,
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
			r.Get("/quotes", s.handleQuotes)
			r.Get("/history/{symbol}", s.handleHistory)
			r.Get("/markets", s.handleMarkets)
			r.Get("/correlation", s.handleCorrelation)
			r.Get("/runs", s.handleRuns)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.config.Server.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Request contexts end with ctx so open live streams return on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting server on %s", s.config.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "error shutting down server")
	}
	return nil
}

// instrument resolves the {symbol} path parameter against the watchlist.
func (s *Server) instrument(r *http.Request) (models.Instrument, bool) {
	symbol, err := url.PathUnescape(chi.URLParam(r, "symbol"))
	if err != nil {
		return models.Instrument{}, false
	}
	return s.config.Instrument(symbol)
}

// rangeParams reads ?range= and ?interval=, falling back to the configured defaults.
func (s *Server) rangeParams(r *http.Request) (models.Range, models.Interval, error) {
	rawRange := r.URL.Query().Get("range")
	if rawRange == "" {
		rawRange = s.config.Market.DefaultRange
	}
	rng, err := models.ParseRange(rawRange)
	if err != nil {
		return "", "", err
	}
	interval := models.IntervalDay
	if raw := r.URL.Query().Get("interval"); raw != "" {
		if interval, err = models.ParseInterval(raw); err != nil {
			return "", "", err
		}
	}
	return rng, interval, nil
}
