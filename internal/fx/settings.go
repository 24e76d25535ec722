package fx

import (
	"fmt"
	"math"
	"strings"
)

// SensitivityRange is the band, in percent, applied around a resolved rate
// when showing how a budget reacts to currency movement.
type SensitivityRange struct {
	LowPct  float64 `json:"lowPct"`
	HighPct float64 `json:"highPct"`
}

// FXSettings are the user's currency preferences.
// CustomRates keys are always "FROM-TO" in upper case, never with FROM == TO.
type FXSettings struct {
	BaseCurrency       string             `json:"baseCurrency"`
	DisplayCurrency    string             `json:"displayCurrency"`
	ManualRatesEnabled bool               `json:"manualRatesEnabled"`
	CustomRates        map[string]float64 `json:"customRates"`
	SensitivityRange   SensitivityRange   `json:"sensitivityRange"`
}

// DefaultSettings returns USD settings with a ±10% sensitivity band.
func DefaultSettings() FXSettings {
	return FXSettings{
		BaseCurrency:     "USD",
		DisplayCurrency:  "USD",
		CustomRates:      map[string]float64{},
		SensitivityRange: SensitivityRange{LowPct: 10, HighPct: 10},
	}
}

func (s FXSettings) clone() FXSettings {
	out := s
	out.CustomRates = make(map[string]float64, len(s.CustomRates))
	for k, v := range s.CustomRates {
		out.CustomRates[k] = v
	}
	return out
}

// SettingsUpdate is a partial settings change. Nil fields are left as they
// are; a non-nil CustomRates replaces the whole override table.
type SettingsUpdate struct {
	BaseCurrency       *string
	DisplayCurrency    *string
	ManualRatesEnabled *bool
	CustomRates        map[string]float64
	SensitivityRange   *SensitivityRange
}

// PairKey returns the CustomRates key for a currency pair.
func PairKey(from, to string) string {
	return NormalizeCode(from) + "-" + NormalizeCode(to)
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks that code looks like an ISO 4217 code.
func ValidateCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("invalid currency code %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("invalid currency code %q", code)
		}
	}
	return nil
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}

// normalizeCustomRates validates and canonicalizes an override table.
// Identity pairs are dropped.
func normalizeCustomRates(in map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for key, rate := range in {
		from, to, ok := strings.Cut(key, "-")
		if !ok {
			return nil, fmt.Errorf("custom rate key %q is not FROM-TO", key)
		}
		from, to = NormalizeCode(from), NormalizeCode(to)
		if err := ValidateCode(from); err != nil {
			return nil, err
		}
		if err := ValidateCode(to); err != nil {
			return nil, err
		}
		if from == to {
			continue
		}
		if !validRate(rate) {
			return nil, fmt.Errorf("custom rate %s must be a positive number, got %v", key, rate)
		}
		out[from+"-"+to] = rate
	}
	return out, nil
}
