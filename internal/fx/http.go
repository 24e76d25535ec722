package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultFetchTimeout bounds a single rate request.
const DefaultFetchTimeout = 10 * time.Second

// maxResponseBytes caps how much of a rate response is read.
const maxResponseBytes = 1 << 20

// HTTPFetcher fetches rate tables with GET <url>?base=<code>. The endpoint
// must answer with a JSON RateResponse.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

var _ RateFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher for endpoint. A non-positive timeout uses
// DefaultFetchTimeout.
func NewHTTPFetcher(endpoint string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{url: endpoint, client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) FetchRates(ctx context.Context, base string) (*RateResponse, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("parsing rate url: %w", err)
	}
	q := u.Query()
	q.Set("base", base)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rate service returned %s: %s", resp.Status, body)
	}

	var out RateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding rate response: %w", err)
	}
	return &out, nil
}
