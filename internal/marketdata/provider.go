// Package marketdata fetches price history from the configured providers and
// caches it in the store.
package marketdata

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"globalfinance/models"
)

var (
	// ErrSymbolNotFound is returned when the provider does not know the symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoData is returned when the provider answered without any usable bars.
	ErrNoData = errors.New("no data returned")
)

// ProviderError carries an error reported by the upstream provider itself.
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Description)
}

// Provider returns the price history of a symbol.
type Provider interface {
	Name() string
	History(ctx context.Context, symbol string, rng models.Range, interval models.Interval) (*models.Series, error)
}
