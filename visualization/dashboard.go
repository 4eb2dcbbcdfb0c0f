package visualization

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"globalfinance/internal/calendar"
	"globalfinance/models"
)

var templateFuncs = template.FuncMap{
	"price": func(v float64) string {
		switch {
		case v == 0:
			return "-"
		case math.Abs(v) >= 1000:
			return fmt.Sprintf("%.0f", v)
		case math.Abs(v) < 10:
			return fmt.Sprintf("%.4f", v)
		}
		return fmt.Sprintf("%.2f", v)
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%+.2f%%", v)
	},
	"signed": func(v float64) string {
		return fmt.Sprintf("%+.2f", v)
	},
	"pathEscape": url.PathEscape,
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("15:04:05 UTC")
	},
}

type regionGroup struct {
	Region string
	Quotes []models.Quote
}

type quotesView struct {
	Groups    []regionGroup
	UpdatedAt time.Time
	Errors    []string
}

type searchView struct {
	Query   string
	Matches []models.Instrument
}

type dashboardView struct {
	Title     string
	Quotes    quotesView
	Markets   []calendar.Status
	Ranges    []models.Range
	Range     models.Range
	Watchlist []models.Instrument
	Search    searchView
}

// groupByRegion keeps the watchlist order within a region and sorts regions by name.
func (s *Server) groupByRegion(quotes []models.Quote) []regionGroup {
	index := map[string]int{}
	var groups []regionGroup
	for _, q := range quotes {
		q.Name = s.sanitizer.Sanitize(q.Name)
		region := q.Region
		if region == "" {
			region = "Other"
		}
		i, ok := index[region]
		if !ok {
			i = len(groups)
			index[region] = i
			groups = append(groups, regionGroup{Region: region})
		}
		groups[i].Quotes = append(groups[i].Quotes, q)
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].Region < groups[b].Region })
	return groups
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.market.Quotes(r.Context(), s.config.Market.Watchlist)
	if err != nil {
		s.log.Warn("Dashboard quotes incomplete: %v", err)
	}

	rng, err := models.ParseRange(s.config.Market.DefaultRange)
	if err != nil {
		rng = models.Range6M
	}

	view := dashboardView{
		Title: "Global Finance",
		Quotes: quotesView{
			Groups:    s.groupByRegion(quotes),
			UpdatedAt: time.Now().UTC(),
			Errors:    errorStrings(err),
		},
		Markets:   s.calendar.All(),
		Ranges:    models.Ranges,
		Range:     rng,
		Watchlist: s.config.Market.Watchlist,
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "dashboard", view); err != nil {
		s.log.Error("Failed to render dashboard: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}
