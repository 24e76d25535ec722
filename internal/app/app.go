package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"budget-go/internal/budget"
	"budget-go/internal/config"
	"budget-go/internal/encryption"
	"budget-go/internal/fx"
	"budget-go/internal/storage"

	"golang.org/x/text/language"
)

// ErrNoRateSource is returned by a rate refresh when fx.fetch_url is unset.
var ErrNoRateSource = errors.New("no rate source configured (set fx.fetch_url)")

// BudgetApp is the application layer between the CLI and the budget and fx
// packages. It constructs all dependencies from config, exposes high-level
// operations, and flushes pending writes and releases the medium on Close.
type BudgetApp struct {
	cfg        *config.Config
	store      *storage.Store
	closeStore func() error
	repo       *budget.ScenarioRepository
	saver      *budget.AutoSaver
	fxStore    *fx.SettingsStore
	rates      *fx.RateCache
	resolver   *fx.Resolver
	converter  *fx.Converter
	logger     budget.Logger
	op         *Operation
	logFile    *os.File
}

// deps are the process-level collaborators of a BudgetApp. Tests replace
// them to get a deterministic clock, ids and quiet console.
type deps struct {
	clock    budget.TimerClock
	idgen    budget.IDGenerator
	console  io.Writer
	logLevel slog.Level
}

func defaultDeps() deps {
	return deps{
		clock:    budget.RealClock{},
		idgen:    budget.UUIDGenerator{},
		console:  os.Stderr,
		logLevel: slog.LevelInfo,
	}
}

// NewBudgetApp creates a fully wired BudgetApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateScenario").
// The caller must call Close when done.
func NewBudgetApp(ctx context.Context, cfg *config.Config, operation string) (*BudgetApp, error) {
	return newBudgetApp(ctx, cfg, operation, defaultDeps())
}

func newBudgetApp(ctx context.Context, cfg *config.Config, operation string, d deps) (*BudgetApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, "", d.clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.LogID(), d.logLevel, d.console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, closeStore, err := storage.NewStoreFromConfig(ctx, cfg.Storage, cfg.AppPrefix)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	fxStore := fx.NewSettingsStore(store)
	defaults := fx.DefaultSettings()
	defaults.BaseCurrency = cfg.FX.BaseCurrency
	defaults.DisplayCurrency = cfg.FX.DisplayCurrency
	settings, _, err := fxStore.LoadSettings(defaults)
	if err != nil {
		// Unreadable settings are replaced on the next save.
		logger.Warn("ignoring saved fx settings", "error", err)
		settings = defaults
	}

	var fetcher fx.RateFetcher = noRateSource{}
	if cfg.FX.FetchURL != "" {
		fetcher = fx.NewHTTPFetcher(cfg.FX.FetchURL, time.Duration(cfg.FX.FetchTimeoutMS)*time.Millisecond)
	}
	rates := fx.NewRateCache(settings, fetcher, d.clock, logger)
	if table, err := fxStore.LoadTable(); err != nil {
		logger.Warn("ignoring saved rate table", "error", err)
	} else if table.Loaded() && !rates.Restore(table) {
		logger.Debug("saved rate table is for another base", "base", table.Base)
	}
	resolver := fx.NewResolver(rates)

	repo := budget.NewScenarioRepository(store, budget.NewCodec(), logger, d.clock, d.idgen)
	saver := budget.NewAutoSaver(repo, d.clock, logger,
		time.Duration(cfg.AutoSave.DebounceMS)*time.Millisecond,
		time.Duration(cfg.AutoSave.MaxWaitMS)*time.Millisecond)

	return &BudgetApp{
		cfg:        cfg,
		store:      store,
		closeStore: closeStore,
		repo:       repo,
		saver:      saver,
		fxStore:    fxStore,
		rates:      rates,
		resolver:   resolver,
		converter:  fx.NewConverter(rates, resolver, language.English),
		logger:     logger,
		op:         op,
		logFile:    logFile,
	}, nil
}

// track marks the operation failed when err is non-nil and returns err.
func (a *BudgetApp) track(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// CreateScenario stores a new scenario.
func (a *BudgetApp) CreateScenario(name, description string, content budget.ScenarioContent) (*budget.Scenario, error) {
	s, err := a.repo.Create(budget.ScenarioInput{Name: name, Description: description, Content: content})
	return s, a.track(err)
}

// GetScenario returns a single scenario.
func (a *BudgetApp) GetScenario(id string) (*budget.Scenario, error) {
	s, err := a.repo.Get(id)
	return s, a.track(err)
}

// ListScenarios returns scenario summaries, most recently updated first.
func (a *BudgetApp) ListScenarios() ([]budget.ScenarioListItem, error) {
	items, err := a.repo.ListSummaries()
	return items, a.track(err)
}

// UpdateScenario queues updates with the auto-saver and waits for the write.
// The scenario must exist.
func (a *BudgetApp) UpdateScenario(id string, updates budget.ScenarioUpdate) (*budget.Scenario, error) {
	if updates.IsEmpty() {
		return nil, a.track(errors.New("nothing to update"))
	}
	if _, err := a.repo.Get(id); err != nil {
		return nil, a.track(err)
	}
	a.saver.Schedule(id, updates)
	if err := a.saver.Flush(id); err != nil {
		return nil, a.track(err)
	}
	s, err := a.repo.Get(id)
	return s, a.track(err)
}

// DeleteScenario removes a scenario. Removing an absent id succeeds.
func (a *BudgetApp) DeleteScenario(id string) error {
	return a.track(a.repo.Delete(id))
}

// DuplicateScenario copies a scenario under a new id.
func (a *BudgetApp) DuplicateScenario(id, newName string) (*budget.Scenario, error) {
	s, err := a.repo.Duplicate(id, newName)
	return s, a.track(err)
}

// ScenarioStats reports how much of the medium scenarios occupy.
func (a *BudgetApp) ScenarioStats() (budget.ScenarioStorageStats, error) {
	st, err := a.repo.Stats()
	return st, a.track(err)
}

// StorageStats reports usage of the whole medium.
func (a *BudgetApp) StorageStats() (budget.StorageStats, error) {
	st, err := a.store.Stats()
	return st, a.track(err)
}

// ExportScenarios writes every scenario to path. A non-empty passphrase
// encrypts the file with the configured cipher. The file is written to a
// temp file first and renamed into place.
func (a *BudgetApp) ExportScenarios(path, passphrase string) error {
	enc, err := a.cipher(passphrase)
	if err != nil {
		return a.track(err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".budget-export-*")
	if err != nil {
		return a.track(fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()

	if err := a.repo.ExportTo(tmp, enc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return a.track(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return a.track(fmt.Errorf("closing temp file: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return a.track(fmt.Errorf("renaming export into place: %w", err))
	}
	a.logger.Info("export written", "path", path, "encrypted", enc != nil)
	return nil
}

// ImportScenarios reads an export from path. A non-empty passphrase decrypts
// it first. Returns the number of scenarios imported.
func (a *BudgetApp) ImportScenarios(path, passphrase string, overwrite bool) (int, error) {
	dec, err := a.cipher(passphrase)
	if err != nil {
		return 0, a.track(err)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, a.track(fmt.Errorf("opening import: %w", err))
	}
	defer f.Close()

	imported, err := a.repo.ImportFrom(f, dec, overwrite)
	return len(imported), a.track(err)
}

// cipher returns nil for an empty passphrase, leaving exports in plain JSON.
func (a *BudgetApp) cipher(passphrase string) (encryption.Cipher, error) {
	if passphrase == "" {
		return nil, nil
	}
	c, err := encryption.NewCipherFromConfig(a.cfg.Export, passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return c, nil
}

// FXSettings returns the current FX settings.
func (a *BudgetApp) FXSettings() fx.FXSettings {
	return a.rates.Settings()
}

// UpdateFXSettings merges u into the FX settings and persists the result.
func (a *BudgetApp) UpdateFXSettings(u fx.SettingsUpdate) (fx.FXSettings, error) {
	settings, err := a.rates.UpdateSettings(u)
	if err != nil {
		return fx.FXSettings{}, a.track(err)
	}
	return settings, a.track(a.fxStore.SaveSettings(settings))
}

// SetRateOverride stores a manual rate for from→to and persists the settings.
func (a *BudgetApp) SetRateOverride(from, to string, rate float64) error {
	if err := a.rates.SetCustomRate(from, to, rate); err != nil {
		return a.track(err)
	}
	return a.track(a.fxStore.SaveSettings(a.rates.Settings()))
}

// RemoveRateOverride deletes the manual rate for from→to and persists the settings.
func (a *BudgetApp) RemoveRateOverride(from, to string) error {
	a.rates.RemoveCustomRate(fx.NormalizeCode(from), fx.NormalizeCode(to))
	return a.track(a.fxStore.SaveSettings(a.rates.Settings()))
}

// RefreshRates fetches a new rate table and persists it so later commands
// can convert without fetching again.
func (a *BudgetApp) RefreshRates(ctx context.Context) (fx.RateTable, error) {
	if err := a.rates.Refresh(ctx); err != nil {
		return fx.RateTable{}, a.track(err)
	}
	table := a.rates.Table()
	return table, a.track(a.fxStore.SaveTable(table))
}

// Rate resolves the exchange rate for a currency pair.
func (a *BudgetApp) Rate(from, to string) (fx.ExchangeRate, error) {
	r, err := a.resolver.Resolve(from, to)
	return r, a.track(err)
}

// Conversion is the result of converting an amount between currencies.
type Conversion struct {
	Source    fx.Money        `json:"source"`
	Converted fx.Money        `json:"converted"`
	Display   string          `json:"display"`
	Rate      fx.ExchangeRate `json:"rate"`
	Band      fx.Band         `json:"band"`
}

// Convert converts amount from one currency to another. An empty to uses
// the display currency.
func (a *BudgetApp) Convert(amount float64, from, to string) (Conversion, error) {
	if to == "" {
		to = a.rates.Settings().DisplayCurrency
	}
	src := fx.NewMoney(amount, from)
	converted, err := a.converter.ConvertMoney(src, to)
	if err != nil {
		return Conversion{}, a.track(err)
	}
	band, err := a.converter.SensitivityBand(amount, from, to)
	if err != nil {
		return Conversion{}, a.track(err)
	}
	return Conversion{
		Source:    src,
		Converted: converted,
		Display:   a.converter.DisplayWithCurrency(converted.Amount.InexactFloat64(), converted.Currency),
		Rate:      band.Rate,
		Band:      band,
	}, nil
}

// Close writes pending auto-saves, releases the storage medium and closes
// the log file. It returns the first error encountered.
func (a *BudgetApp) Close() error {
	var firstErr error

	if err := a.saver.Close(); err != nil {
		firstErr = fmt.Errorf("flushing pending saves: %w", err)
		a.op.Fail()
	}

	if err := a.closeStore(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing storage: %w", err)
	}

	a.logger.Debug("operation finished", "status", a.op.Status)
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// noRateSource is the fetcher used when no fetch URL is configured.
type noRateSource struct{}

func (noRateSource) FetchRates(context.Context, string) (*fx.RateResponse, error) {
	return nil, ErrNoRateSource
}
