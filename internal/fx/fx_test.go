package fx_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"budget-go/internal/budget"
	"budget-go/internal/fx"
	"budget-go/internal/testutil"
)

const fetchedUnix = 1717200000 // 2024-06-01T00:00:00Z

func usdRates() map[string]float64 {
	return map[string]float64{"USD": 1, "EUR": 0.9, "GBP": 0.8, "JPY": 150, "ZAR": 0}
}

type fxFixture struct {
	cache    *fx.RateCache
	resolver *fx.Resolver
	conv     *fx.Converter
	fetcher  *testutil.FakeFetcher
	clock    *testutil.ManualClock
}

func newFXFixture(t *testing.T, loaded bool) *fxFixture {
	t.Helper()
	f := &fxFixture{
		fetcher: testutil.NewFakeFetcher("USD", usdRates(), fetchedUnix),
		clock:   testutil.FixedClock(),
	}
	f.cache = fx.NewRateCache(fx.DefaultSettings(), f.fetcher, f.clock, budget.NewNopLogger())
	f.resolver = fx.NewResolver(f.cache)
	f.conv = fx.NewConverter(f.cache, f.resolver, language.English)
	if loaded {
		if err := f.cache.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	return f
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestResolver_Identity(t *testing.T) {
	f := newFXFixture(t, false)
	rate, err := f.resolver.Resolve("eur", "EUR")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rate.Rate != 1 || rate.Provider != fx.ProviderSystem {
		t.Errorf("Resolve() = %+v, want 1 from system", rate)
	}
}

func TestResolver_TableRates(t *testing.T) {
	f := newFXFixture(t, true)
	fetchedAt := time.Unix(fetchedUnix, 0).UTC()

	tests := []struct {
		name     string
		from, to string
		want     float64
	}{
		{name: "direct", from: "USD", to: "JPY", want: 150},
		{name: "inverse", from: "JPY", to: "USD", want: 1.0 / 150},
		{name: "cross", from: "EUR", to: "GBP", want: 0.8 / 0.9},
		{name: "cross reversed", from: "GBP", to: "EUR", want: 0.9 / 0.8},
		{name: "lower case", from: "usd", to: "eur", want: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := f.resolver.Resolve(tt.from, tt.to)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !approx(rate.Rate, tt.want) {
				t.Errorf("Rate = %v, want %v", rate.Rate, tt.want)
			}
			if rate.Provider != fx.ProviderAPI {
				t.Errorf("Provider = %q, want %q", rate.Provider, fx.ProviderAPI)
			}
			if !rate.AsOf.Equal(fetchedAt) {
				t.Errorf("AsOf = %v, want %v", rate.AsOf, fetchedAt)
			}
		})
	}
}

func TestResolver_Symmetry(t *testing.T) {
	f := newFXFixture(t, true)
	for code, r := range map[string]float64{"EUR": 0.9, "GBP": 0.8, "JPY": 150} {
		fwd, err := f.resolver.Resolve("USD", code)
		if err != nil {
			t.Fatalf("Resolve(USD, %s) error = %v", code, err)
		}
		back, err := f.resolver.Resolve(code, "USD")
		if err != nil {
			t.Fatalf("Resolve(%s, USD) error = %v", code, err)
		}
		if fwd.Rate != r {
			t.Errorf("Resolve(USD, %s) = %v, want %v", code, fwd.Rate, r)
		}
		if !approx(back.Rate*fwd.Rate, 1) {
			t.Errorf("%s round trip product = %v, want 1", code, back.Rate*fwd.Rate)
		}
	}
}

func TestResolver_Unavailable(t *testing.T) {
	tests := []struct {
		name     string
		loaded   bool
		from, to string
	}{
		{name: "never loaded", loaded: false, from: "USD", to: "EUR"},
		{name: "unknown target", loaded: true, from: "USD", to: "CHF"},
		{name: "unknown source", loaded: true, from: "CHF", to: "USD"},
		{name: "zero inverse", loaded: true, from: "ZAR", to: "USD"},
		{name: "zero direct", loaded: true, from: "USD", to: "ZAR"},
		{name: "zero cross divisor", loaded: true, from: "ZAR", to: "EUR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFXFixture(t, tt.loaded)
			_, err := f.resolver.Resolve(tt.from, tt.to)
			if !errors.Is(err, fx.ErrRateUnavailable) {
				t.Errorf("Resolve() error = %v, want ErrRateUnavailable", err)
			}
		})
	}
}

func TestResolver_ManualOverrides(t *testing.T) {
	f := newFXFixture(t, true)
	if err := f.cache.SetCustomRate("usd", "jpy", 140); err != nil {
		t.Fatalf("SetCustomRate() error = %v", err)
	}
	if err := f.cache.SetCustomRate("GBP", "EUR", 1.25); err != nil {
		t.Fatalf("SetCustomRate() error = %v", err)
	}

	t.Run("disabled overrides are ignored", func(t *testing.T) {
		rate, err := f.resolver.Resolve("USD", "JPY")
		if err != nil {
			t.Fatal(err)
		}
		if rate.Rate != 150 || rate.Provider != fx.ProviderAPI {
			t.Errorf("Resolve() = %+v, want table rate", rate)
		}
	})

	enabled := true
	if _, err := f.cache.UpdateSettings(fx.SettingsUpdate{ManualRatesEnabled: &enabled}); err != nil {
		t.Fatal(err)
	}

	t.Run("manual wins over table", func(t *testing.T) {
		rate, err := f.resolver.Resolve("USD", "JPY")
		if err != nil {
			t.Fatal(err)
		}
		if rate.Rate != 140 || rate.Provider != fx.ProviderManual {
			t.Errorf("Resolve() = %+v, want 140 manual", rate)
		}
		if !rate.AsOf.Equal(f.clock.Now()) {
			t.Errorf("AsOf = %v, want %v", rate.AsOf, f.clock.Now())
		}
	})

	t.Run("manual inverse", func(t *testing.T) {
		rate, err := f.resolver.Resolve("EUR", "GBP")
		if err != nil {
			t.Fatal(err)
		}
		if !approx(rate.Rate, 0.8) || rate.Provider != fx.ProviderManualInverse {
			t.Errorf("Resolve() = %+v, want 0.8 manual-inverse", rate)
		}
	})

	t.Run("manual without table", func(t *testing.T) {
		g := newFXFixture(t, false)
		if _, err := g.cache.UpdateSettings(fx.SettingsUpdate{
			ManualRatesEnabled: &enabled,
			CustomRates:        map[string]float64{"USD-JPY": 150},
		}); err != nil {
			t.Fatal(err)
		}
		rate, err := g.resolver.Resolve("USD", "JPY")
		if err != nil {
			t.Fatal(err)
		}
		if rate.Rate != 150 {
			t.Errorf("Rate = %v, want 150", rate.Rate)
		}
	})

	t.Run("removed override falls back", func(t *testing.T) {
		f.cache.RemoveCustomRate("USD", "JPY")
		rate, err := f.resolver.Resolve("USD", "JPY")
		if err != nil {
			t.Fatal(err)
		}
		if rate.Provider != fx.ProviderAPI {
			t.Errorf("Provider = %q, want %q", rate.Provider, fx.ProviderAPI)
		}
	})
}

func TestRateCache_SettingsMerge(t *testing.T) {
	f := newFXFixture(t, false)
	base := "CAD"
	if _, err := f.cache.UpdateSettings(fx.SettingsUpdate{
		BaseCurrency: &base,
		CustomRates:  map[string]float64{"cad-usd": 0.73, "CAD-CAD": 1},
	}); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	display := "GBP"
	got, err := f.cache.UpdateSettings(fx.SettingsUpdate{DisplayCurrency: &display})
	if err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if got.DisplayCurrency != "GBP" {
		t.Errorf("DisplayCurrency = %q, want %q", got.DisplayCurrency, "GBP")
	}
	if got.BaseCurrency != "CAD" {
		t.Errorf("BaseCurrency = %q, want %q", got.BaseCurrency, "CAD")
	}
	if len(got.CustomRates) != 1 || got.CustomRates["CAD-USD"] != 0.73 {
		t.Errorf("CustomRates = %v, want only CAD-USD", got.CustomRates)
	}
	if got.SensitivityRange != fx.DefaultSettings().SensitivityRange {
		t.Errorf("SensitivityRange = %+v, want default", got.SensitivityRange)
	}

	// The returned copy is detached from the cache.
	got.CustomRates["EUR-USD"] = 9
	if _, ok := f.cache.Settings().CustomRates["EUR-USD"]; ok {
		t.Error("modifying returned settings changed the cache")
	}
}

func TestRateCache_ConcurrentSettingsUpdates(t *testing.T) {
	f := newFXFixture(t, false)

	var codes []string
	for a := 'A'; a <= 'Z'; a++ {
		for b := 'A'; b <= 'Z'; b += 3 {
			codes = append(codes, "X"+string(a)+string(b))
		}
	}
	display := "EUR"
	manual := true

	var wg sync.WaitGroup
	errs := make(chan error, len(codes)+2)
	for _, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.cache.SetCustomRate("USD", code, 2)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.cache.UpdateSettings(fx.SettingsUpdate{DisplayCurrency: &display})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.cache.UpdateSettings(fx.SettingsUpdate{ManualRatesEnabled: &manual})
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update error = %v", err)
		}
	}

	got := f.cache.Settings()
	if len(got.CustomRates) != len(codes) {
		t.Errorf("len(CustomRates) = %d, want %d", len(got.CustomRates), len(codes))
	}
	for _, code := range codes {
		if got.CustomRates[fx.PairKey("USD", code)] != 2 {
			t.Errorf("override USD-%s lost", code)
			break
		}
	}
	if got.DisplayCurrency != "EUR" || !got.ManualRatesEnabled {
		t.Errorf("settings = %+v, want display EUR and manual rates on", got)
	}
}

func TestRateCache_UpdateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		u    fx.SettingsUpdate
	}{
		{name: "bad base", u: fx.SettingsUpdate{BaseCurrency: ptr("dollars")}},
		{name: "bad display", u: fx.SettingsUpdate{DisplayCurrency: ptr("E1R")}},
		{name: "bad key", u: fx.SettingsUpdate{CustomRates: map[string]float64{"USDJPY": 150}}},
		{name: "negative rate", u: fx.SettingsUpdate{CustomRates: map[string]float64{"USD-JPY": -1}}},
		{name: "bad band", u: fx.SettingsUpdate{SensitivityRange: &fx.SensitivityRange{LowPct: 120}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFXFixture(t, false)
			before := f.cache.Settings()
			if _, err := f.cache.UpdateSettings(tt.u); err == nil {
				t.Fatal("UpdateSettings() expected error")
			}
			after := f.cache.Settings()
			if after.BaseCurrency != before.BaseCurrency || after.DisplayCurrency != before.DisplayCurrency ||
				len(after.CustomRates) != len(before.CustomRates) {
				t.Errorf("rejected update changed settings: %+v", after)
			}
		})
	}
}

func TestRateCache_BaseChangeClearsTable(t *testing.T) {
	f := newFXFixture(t, true)
	if !f.cache.Loaded() {
		t.Fatal("Loaded() = false after Refresh")
	}

	same := "usd"
	if _, err := f.cache.UpdateSettings(fx.SettingsUpdate{BaseCurrency: &same}); err != nil {
		t.Fatal(err)
	}
	if !f.cache.Loaded() {
		t.Error("re-setting the same base cleared the table")
	}

	eur := "EUR"
	if _, err := f.cache.UpdateSettings(fx.SettingsUpdate{BaseCurrency: &eur}); err != nil {
		t.Fatal(err)
	}
	if f.cache.Loaded() {
		t.Error("Loaded() = true after base currency change")
	}
	if _, err := f.resolver.Resolve("USD", "JPY"); !errors.Is(err, fx.ErrRateUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrRateUnavailable", err)
	}
}

func TestRateCache_Refresh(t *testing.T) {
	t.Run("replaces table wholesale", func(t *testing.T) {
		f := newFXFixture(t, true)
		f.fetcher.SetResponse("USD", map[string]float64{"CHF": 0.88}, fetchedUnix+3600)
		if err := f.cache.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		table := f.cache.Table()
		if len(table.Rates) != 1 || table.Rates["CHF"] != 0.88 {
			t.Errorf("Rates = %v, want only CHF", table.Rates)
		}
		if !table.FetchedAt.Equal(time.Unix(fetchedUnix+3600, 0)) {
			t.Errorf("FetchedAt = %v", table.FetchedAt)
		}
	})

	t.Run("failure keeps previous table", func(t *testing.T) {
		f := newFXFixture(t, true)
		f.fetcher.SetError(errors.New("offline"))

		err := f.cache.Refresh(context.Background())
		if !errors.Is(err, fx.ErrFetch) {
			t.Fatalf("Refresh() error = %v, want ErrFetch", err)
		}
		var fe *fx.FetchError
		if !errors.As(err, &fe) || fe.Base != "USD" {
			t.Errorf("FetchError = %+v", fe)
		}
		if !f.cache.Loaded() || f.cache.Table().Rates["JPY"] != 150 {
			t.Error("failed refresh discarded the cached table")
		}
	})

	t.Run("failure before first load", func(t *testing.T) {
		f := newFXFixture(t, false)
		f.fetcher.SetError(errors.New("offline"))
		if err := f.cache.Refresh(context.Background()); !errors.Is(err, fx.ErrFetch) {
			t.Fatalf("Refresh() error = %v, want ErrFetch", err)
		}
		if f.cache.Loaded() {
			t.Error("Loaded() = true after failed first refresh")
		}
	})

	t.Run("wrong base is rejected", func(t *testing.T) {
		f := newFXFixture(t, false)
		f.fetcher.SetResponse("EUR", usdRates(), fetchedUnix)
		if err := f.cache.Refresh(context.Background()); !errors.Is(err, fx.ErrFetch) {
			t.Fatalf("Refresh() error = %v, want ErrFetch", err)
		}
		if f.cache.Loaded() {
			t.Error("table loaded from a response for another base")
		}
	})

	t.Run("missing timestamp uses clock", func(t *testing.T) {
		f := newFXFixture(t, false)
		f.fetcher.SetResponse("USD", usdRates(), 0)
		if err := f.cache.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !f.cache.Table().FetchedAt.Equal(f.clock.Now()) {
			t.Errorf("FetchedAt = %v, want %v", f.cache.Table().FetchedAt, f.clock.Now())
		}
	})

	t.Run("requests the current base", func(t *testing.T) {
		f := newFXFixture(t, false)
		gbp := "GBP"
		if _, err := f.cache.UpdateSettings(fx.SettingsUpdate{BaseCurrency: &gbp}); err != nil {
			t.Fatal(err)
		}
		f.fetcher.SetResponse("GBP", map[string]float64{"USD": 1.25}, fetchedUnix)
		if err := f.cache.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		calls := f.fetcher.Calls()
		if len(calls) != 1 || calls[0] != "GBP" {
			t.Errorf("fetcher calls = %v, want [GBP]", calls)
		}
	})
}

func TestRateCache_TableIsCopy(t *testing.T) {
	f := newFXFixture(t, true)
	table := f.cache.Table()
	table.Rates["JPY"] = 1
	if f.cache.Table().Rates["JPY"] != 150 {
		t.Error("modifying Table() result changed the cache")
	}
}

func TestRateCache_Restore(t *testing.T) {
	f := newFXFixture(t, true)
	saved := f.cache.Table()

	g := newFXFixture(t, false)
	if !g.cache.Restore(saved) {
		t.Fatal("Restore() = false for matching base")
	}
	rate, err := g.resolver.Resolve("USD", "EUR")
	if err != nil || rate.Rate != 0.9 {
		t.Errorf("Resolve() after Restore = %v, %v", rate.Rate, err)
	}

	saved.Base = "EUR"
	h := newFXFixture(t, false)
	if h.cache.Restore(saved) {
		t.Error("Restore() accepted a table for another base")
	}
	if h.cache.Restore(fx.RateTable{}) {
		t.Error("Restore() accepted an empty table")
	}
}

func ptr[T any](v T) *T { return &v }
