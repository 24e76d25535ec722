package fx_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"budget-go/internal/fx"
)

func TestHTTPFetcher_FetchRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := r.URL.Query().Get("base")
		if base != "EUR" {
			http.Error(w, "unsupported base", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fx.RateResponse{
			Base:      base,
			Rates:     map[string]float64{"USD": 1.1, "GBP": 0.85},
			Timestamp: 1717200000,
		})
	}))
	defer srv.Close()

	f := fx.NewHTTPFetcher(srv.URL+"/latest?app=budget", time.Second)

	resp, err := f.FetchRates(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}
	if resp.Base != "EUR" || resp.Rates["USD"] != 1.1 || resp.Timestamp != 1717200000 {
		t.Errorf("FetchRates() = %+v", resp)
	}

	if _, err := f.FetchRates(context.Background(), "JPY"); err == nil {
		t.Error("FetchRates() expected error for non-200 response")
	}
}

func TestHTTPFetcher_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	if _, err := fx.NewHTTPFetcher(srv.URL, 0).FetchRates(context.Background(), "USD"); err == nil {
		t.Error("FetchRates() expected error for non-JSON body")
	}
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.NewHTTPFetcher(srv.URL, time.Second).FetchRates(ctx, "USD"); err == nil {
		t.Error("FetchRates() expected error for cancelled context")
	}
}
