package budget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ScenarioContent is the opaque domain payload of a scenario (household,
// income, housing, ...). The storage layer round-trips it without
// interpreting its shape, apart from the few listing fields below.
// The schemaVersion stamp is managed by the Codec and never appears here.
type ScenarioContent map[string]json.RawMessage

const (
	contentOriginCountry      = "originCountry"
	contentDestinationCountry = "destinationCountry"
	contentCompletionStatus   = "completionStatus"
	contentSchemaVersion      = "schemaVersion"
)

// OriginCountry returns the originCountry field, or "" if absent or not a string.
func (c ScenarioContent) OriginCountry() string { return c.stringField(contentOriginCountry) }

// DestinationCountry returns the destinationCountry field, or "" if absent or not a string.
func (c ScenarioContent) DestinationCountry() string {
	return c.stringField(contentDestinationCountry)
}

// CompletionStatus returns the raw completionStatus field, or nil if absent.
func (c ScenarioContent) CompletionStatus() json.RawMessage {
	raw, ok := c[contentCompletionStatus]
	if !ok {
		return nil
	}
	return bytes.Clone(raw)
}

func (c ScenarioContent) stringField(key string) string {
	raw, ok := c[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Canonical returns a copy with every value compacted and any schemaVersion
// key dropped. It is the exact form
// the Codec writes, so a canonical scenario decodes back byte for byte.
func (c ScenarioContent) Canonical() (ScenarioContent, error) {
	out := make(ScenarioContent, len(c))
	for k, v := range c {
		if k == contentSchemaVersion {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("content field %q: %w", k, err)
		}
		out[k] = buf.Bytes()
	}
	return out, nil
}

// Scenario is a persisted budgeting scenario.
type Scenario struct {
	ID            string
	Name          string
	Description   string
	Content       ScenarioContent
	SchemaVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScenarioInput holds the fields needed to create a scenario.
type ScenarioInput struct {
	Name        string
	Description string
	Content     ScenarioContent
}

// ScenarioUpdate is a partial update. Nil fields are left untouched;
// a non-nil Content replaces the previous content entirely.
type ScenarioUpdate struct {
	Name        *string
	Description *string
	Content     ScenarioContent
}

// IsEmpty reports whether the update changes nothing.
func (u ScenarioUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Content == nil
}

// ScenarioListItem is the summary view of a scenario used for listings.
type ScenarioListItem struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	OriginCountry      string          `json:"originCountry"`
	DestinationCountry string          `json:"destinationCountry"`
	CompletionStatus   json.RawMessage `json:"completionStatus,omitempty"`
}

// ScenarioStorageStats describes how much of the medium scenarios occupy.
// EstimatedCapacity is derived from the average scenario size, so it is only
// an approximation when sizes vary widely.
type ScenarioStorageStats struct {
	TotalScenarios    int     `json:"totalScenarios"`
	TotalSizeBytes    int64   `json:"totalSizeBytes"`
	RemainingBytes    int64   `json:"remainingBytes"`
	UsagePercentage   float64 `json:"usagePercentage"`
	EstimatedCapacity int     `json:"estimatedCapacity"`
}
