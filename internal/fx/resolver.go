package fx

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateUnavailable is returned when no rate can be resolved for a pair.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Provider names the source of a resolved rate.
type Provider string

const (
	ProviderSystem        Provider = "system"
	ProviderManual        Provider = "manual"
	ProviderManualInverse Provider = "manual-inverse"
	ProviderAPI           Provider = "api"
)

// ExchangeRate is a resolved rate. It is computed on demand and never stored.
type ExchangeRate struct {
	From     string    `json:"fromCurrency"`
	To       string    `json:"toCurrency"`
	Rate     float64   `json:"rate"`
	Provider Provider  `json:"provider"`
	AsOf     time.Time `json:"asOf"`
}

// Resolver derives rates from a RateCache.
type Resolver struct {
	cache *RateCache
}

// NewResolver creates a Resolver reading from cache.
func NewResolver(cache *RateCache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve returns the rate for converting from into to. Identity comes
// first, then manual overrides when enabled, then the fetched table
// (direct, inverted or crossed through its base).
func (r *Resolver) Resolve(from, to string) (ExchangeRate, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	settings, table := r.cache.snapshot()
	now := r.cache.clock.Now().UTC()

	if from == to {
		return ExchangeRate{From: from, To: to, Rate: 1, Provider: ProviderSystem, AsOf: now}, nil
	}

	if settings.ManualRatesEnabled {
		if rate, ok := settings.CustomRates[from+"-"+to]; ok && validRate(rate) {
			return ExchangeRate{From: from, To: to, Rate: rate, Provider: ProviderManual, AsOf: now}, nil
		}
		if rate, ok := settings.CustomRates[to+"-"+from]; ok && rate != 0 {
			if inv := 1 / rate; validRate(inv) {
				return ExchangeRate{From: from, To: to, Rate: inv, Provider: ProviderManualInverse, AsOf: now}, nil
			}
		}
	}

	rate, ok := tableRate(table, from, to)
	if !ok {
		return ExchangeRate{}, fmt.Errorf("%s to %s: %w", from, to, ErrRateUnavailable)
	}
	return ExchangeRate{From: from, To: to, Rate: rate, Provider: ProviderAPI, AsOf: table.FetchedAt}, nil
}

// tableRate derives from→to from a table expressed against table.Base.
func tableRate(table RateTable, from, to string) (float64, bool) {
	if !table.Loaded() {
		return 0, false
	}
	var rate float64
	switch {
	case from == table.Base:
		r, ok := table.Rates[to]
		if !ok {
			return 0, false
		}
		rate = r
	case to == table.Base:
		r, ok := table.Rates[from]
		if !ok || r == 0 {
			return 0, false
		}
		rate = 1 / r
	default:
		rf, okFrom := table.Rates[from]
		rt, okTo := table.Rates[to]
		if !okFrom || !okTo || rf == 0 {
			return 0, false
		}
		rate = rt / rf
	}
	return rate, validRate(rate)
}
