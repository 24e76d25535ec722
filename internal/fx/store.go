package fx

import (
	"encoding/json"
	"errors"
	"fmt"

	"budget-go/internal/budget"
)

// Preference ids used by SettingsStore.
const (
	settingsID = "fx-settings"
	tableID    = "fx-rates"
)

// SettingsStore persists FX settings and the last fetched rate table in the
// preferences namespace of a KeyValueStore.
type SettingsStore struct {
	store budget.KeyValueStore
}

// NewSettingsStore creates a SettingsStore over store.
func NewSettingsStore(store budget.KeyValueStore) *SettingsStore {
	return &SettingsStore{store: store}
}

// LoadSettings returns the saved settings. Fields missing from the saved
// record keep their values from defaults. ok is false when nothing is saved.
func (s *SettingsStore) LoadSettings(defaults FXSettings) (settings FXSettings, ok bool, err error) {
	settings = defaults.clone()
	settings.CustomRates = nil
	found, err := s.load(settingsID, &settings)
	if err != nil || !found {
		return defaults, false, err
	}
	if settings.CustomRates == nil {
		settings.CustomRates = map[string]float64{}
	}
	return settings, true, nil
}

// SaveSettings persists settings.
func (s *SettingsStore) SaveSettings(settings FXSettings) error {
	return s.save(settingsID, settings)
}

// LoadTable returns the saved rate table, or a zero table if none is saved.
func (s *SettingsStore) LoadTable() (RateTable, error) {
	var t RateTable
	if _, err := s.load(tableID, &t); err != nil {
		return RateTable{}, err
	}
	return t, nil
}

// SaveTable persists a rate table.
func (s *SettingsStore) SaveTable(t RateTable) error {
	return s.save(tableID, t)
}

func (s *SettingsStore) load(id string, v any) (bool, error) {
	raw, err := s.store.Get(budget.NamespacePreferences, id)
	if err != nil {
		if errors.Is(err, budget.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, &budget.CorruptRecordError{ID: id, Err: err}
	}
	return true, nil
}

func (s *SettingsStore) save(id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", id, err)
	}
	if err := s.store.Put(budget.NamespacePreferences, id, string(data)); err != nil {
		return fmt.Errorf("saving %s: %w", id, err)
	}
	return nil
}
