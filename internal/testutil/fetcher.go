package testutil

import (
	"context"
	"sync"

	"budget-go/internal/fx"
)

// FakeFetcher is an fx.RateFetcher that serves canned responses.
type FakeFetcher struct {
	mu       sync.Mutex
	response *fx.RateResponse
	err      error
	calls    []string
}

var _ fx.RateFetcher = (*FakeFetcher)(nil)

// NewFakeFetcher returns a fetcher that answers with rates against base.
func NewFakeFetcher(base string, rates map[string]float64, timestamp int64) *FakeFetcher {
	f := &FakeFetcher{}
	f.SetResponse(base, rates, timestamp)
	return f
}

func (f *FakeFetcher) FetchRates(ctx context.Context, base string) (*fx.RateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, base)
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := *f.response
	resp.Rates = make(map[string]float64, len(f.response.Rates))
	for k, v := range f.response.Rates {
		resp.Rates[k] = v
	}
	return &resp, nil
}

// SetResponse replaces the canned response and clears any error.
func (f *FakeFetcher) SetResponse(base string, rates map[string]float64, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = &fx.RateResponse{Base: base, Rates: rates, Timestamp: timestamp}
	f.err = nil
}

// SetError makes every following fetch fail with err.
func (f *FakeFetcher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the base currencies requested so far.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
