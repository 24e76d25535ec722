package fx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"budget-go/internal/budget"
)

// ErrFetch is matched by *FetchError.
var ErrFetch = errors.New("rate fetch failed")

// FetchError reports a failed refresh. The previously cached table, if any,
// stays in use.
type FetchError struct {
	Base string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching rates for %s: %v", e.Base, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }

// RateResponse is what a RateFetcher returns: units of each currency per one
// unit of Base, as of Timestamp (unix seconds).
type RateResponse struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
}

// RateFetcher retrieves the latest rate table for a base currency.
type RateFetcher interface {
	FetchRates(ctx context.Context, base string) (*RateResponse, error)
}

// RateTable is a fetched set of rates against Base. It is only ever replaced
// as a whole. A zero FetchedAt means no table has been loaded.
type RateTable struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetchedAt"`
}

// Loaded reports whether the table holds fetched data.
func (t RateTable) Loaded() bool { return !t.FetchedAt.IsZero() }

func (t RateTable) clone() RateTable {
	out := t
	out.Rates = maps.Clone(t.Rates)
	return out
}

// RateCache owns the user's FX settings and the most recent rate table.
// Safe for concurrent use.
type RateCache struct {
	fetcher RateFetcher
	clock   budget.Clock
	logger  budget.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	settings FXSettings
	table    RateTable
}

// NewRateCache creates a cache holding settings and no rate table.
func NewRateCache(settings FXSettings, fetcher RateFetcher, clock budget.Clock, logger budget.Logger) *RateCache {
	s := settings.clone()
	s.BaseCurrency = NormalizeCode(s.BaseCurrency)
	s.DisplayCurrency = NormalizeCode(s.DisplayCurrency)
	if rates, err := normalizeCustomRates(s.CustomRates); err == nil {
		s.CustomRates = rates
	} else {
		logger.Warn("dropping invalid custom rates", "error", err)
		s.CustomRates = map[string]float64{}
	}
	return &RateCache{fetcher: fetcher, clock: clock, logger: logger, settings: s}
}

// Settings returns a copy of the current settings.
func (c *RateCache) Settings() FXSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.clone()
}

// UpdateSettings merges the non-nil fields of u into the settings and returns
// the result. Changing the base currency discards the rate table, since its
// values are expressed against the old base.
func (c *RateCache) UpdateSettings(u SettingsUpdate) (FXSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.settings.clone()
	if u.BaseCurrency != nil {
		code := NormalizeCode(*u.BaseCurrency)
		if err := ValidateCode(code); err != nil {
			return FXSettings{}, fmt.Errorf("base currency: %w", err)
		}
		next.BaseCurrency = code
	}
	if u.DisplayCurrency != nil {
		code := NormalizeCode(*u.DisplayCurrency)
		if err := ValidateCode(code); err != nil {
			return FXSettings{}, fmt.Errorf("display currency: %w", err)
		}
		next.DisplayCurrency = code
	}
	if u.ManualRatesEnabled != nil {
		next.ManualRatesEnabled = *u.ManualRatesEnabled
	}
	if u.CustomRates != nil {
		rates, err := normalizeCustomRates(u.CustomRates)
		if err != nil {
			return FXSettings{}, err
		}
		next.CustomRates = rates
	}
	if u.SensitivityRange != nil {
		r := *u.SensitivityRange
		if r.LowPct < 0 || r.LowPct >= 100 || r.HighPct < 0 {
			return FXSettings{}, fmt.Errorf("invalid sensitivity range %v..%v", r.LowPct, r.HighPct)
		}
		next.SensitivityRange = r
	}

	c.install(next)
	return next.clone(), nil
}

// SetCustomRate adds or replaces the manual rate for from→to.
func (c *RateCache) SetCustomRate(from, to string, rate float64) error {
	pair, err := normalizeCustomRates(map[string]float64{PairKey(from, to): rate})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings.clone()
	maps.Copy(next.CustomRates, pair)
	c.install(next)
	return nil
}

// install replaces the settings. c.mu must be held for writing.
func (c *RateCache) install(next FXSettings) {
	if next.BaseCurrency != c.settings.BaseCurrency {
		c.logger.Info("base currency changed, clearing rate table",
			"from", c.settings.BaseCurrency, "to", next.BaseCurrency)
		c.table = RateTable{}
	}
	c.settings = next
}

// RemoveCustomRate deletes the manual rate for from→to, if any.
func (c *RateCache) RemoveCustomRate(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Installed maps are never mutated; snapshot readers may still hold this one.
	rates := maps.Clone(c.settings.CustomRates)
	delete(rates, PairKey(from, to))
	c.settings.CustomRates = rates
}

// Table returns a copy of the current rate table.
func (c *RateCache) Table() RateTable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.clone()
}

// Loaded reports whether a rate table has been loaded for the current base.
func (c *RateCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Loaded()
}

// Restore installs a previously persisted table. It is ignored unless it is
// expressed against the current base currency.
func (c *RateCache) Restore(t RateTable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.Loaded() || NormalizeCode(t.Base) != c.settings.BaseCurrency {
		return false
	}
	t = t.clone()
	t.Base = c.settings.BaseCurrency
	c.table = t
	return true
}

// Refresh fetches a new table for the current base currency and replaces the
// cached one. Concurrent calls share a single fetch. On failure the previous
// table is kept and a *FetchError is returned.
func (c *RateCache) Refresh(ctx context.Context) error {
	base := c.Settings().BaseCurrency
	_, err, _ := c.group.Do(base, func() (any, error) {
		return nil, c.refresh(ctx, base)
	})
	return err
}

func (c *RateCache) refresh(ctx context.Context, base string) error {
	resp, err := c.fetcher.FetchRates(ctx, base)
	if err != nil {
		c.logger.Warn("rate refresh failed", "base", base, "error", err)
		return &FetchError{Base: base, Err: err}
	}
	if resp == nil || NormalizeCode(resp.Base) != base {
		got := ""
		if resp != nil {
			got = resp.Base
		}
		return &FetchError{Base: base, Err: fmt.Errorf("response is for base %q", got)}
	}

	rates := make(map[string]float64, len(resp.Rates))
	for code, rate := range resp.Rates {
		rates[NormalizeCode(code)] = rate
	}
	fetchedAt := c.clock.Now().UTC()
	if resp.Timestamp > 0 {
		fetchedAt = time.Unix(resp.Timestamp, 0).UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings.BaseCurrency != base {
		return &FetchError{Base: base, Err: errors.New("base currency changed during fetch")}
	}
	c.table = RateTable{Base: base, Rates: rates, FetchedAt: fetchedAt}
	c.logger.Info("rates refreshed", "base", base, "count", len(rates))
	return nil
}

// snapshot returns settings and table under one lock. The maps they hold
// are shared and must not be modified.
func (c *RateCache) snapshot() (FXSettings, RateTable) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.table
}
