package visualization

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/starfederation/datastar-go/datastar"

	"globalfinance/models"
)

type searchSignals struct {
	Search string `json:"search"`
}

// renderFragment executes a named template into a string for an SSE patch.
func (s *Server) renderFragment(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "error rendering %s", name)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (s *Server) quotesFragment(r *http.Request) (string, error) {
	quotes, err := s.market.Quotes(r.Context(), s.config.Market.Watchlist)
	if err != nil {
		s.log.Warn("Live quotes incomplete: %v", err)
	}
	return s.renderFragment("quotes", quotesView{
		Groups:    s.groupByRegion(quotes),
		UpdatedAt: time.Now().UTC(),
		Errors:    errorStrings(err),
	})
}

// handleLiveQuotes pushes the quote board once and then on every refresh tick.
func (s *Server) handleLiveQuotes(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	push := func() error {
		html, err := s.quotesFragment(r)
		if err != nil {
			return err
		}
		return sse.PatchElements(html)
	}
	if err := push(); err != nil {
		s.log.Error("Live quotes stream failed: %v", err)
		return
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := push(); err != nil {
				s.log.Debug("Live quotes stream closed: %v", err)
				return
			}
		}
	}
}

// matchInstruments does a case-insensitive substring match on symbol and name.
func matchInstruments(watchlist []models.Instrument, query string) []models.Instrument {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []models.Instrument
	for _, inst := range watchlist {
		if strings.Contains(strings.ToLower(inst.Symbol), query) || strings.Contains(strings.ToLower(inst.Name), query) {
			out = append(out, inst)
		}
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	signals := &searchSignals{}
	if err := datastar.ReadSignals(r, signals); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	matches := matchInstruments(s.config.Market.Watchlist, signals.Search)
	for i := range matches {
		matches[i].Name = s.sanitizer.Sanitize(matches[i].Name)
	}

	html, err := s.renderFragment("search-results", searchView{
		Query:   signals.Search,
		Matches: matches,
	})
	if err != nil {
		s.log.Error("Search failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sse := datastar.NewSSE(w, r)
	if err := sse.PatchElements(html); err != nil {
		s.log.Debug("Search stream closed: %v", err)
	}
}
