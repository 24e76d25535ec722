package budget

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 1

// Migration upgrades a raw wire record from one schema version to the next.
// It receives and returns the top-level JSON object, so fields it does not
// know about pass through untouched.
type Migration func(record map[string]json.RawMessage) (map[string]json.RawMessage, error)

// wireRecord is the at-rest and export shape of a scenario.
type wireRecord struct {
	ID            string                     `json:"id"`
	Name          string                     `json:"name"`
	Description   string                     `json:"description,omitempty"`
	CreatedAt     time.Time                  `json:"createdAt"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
	SchemaVersion int                        `json:"schemaVersion"`
	Content       map[string]json.RawMessage `json:"content"`
}

// Codec stamps scenarios with a schema version on the way out and checks
// (and migrates) it on the way in.
type Codec struct {
	migrations map[int]Migration
}

// NewCodec creates a Codec with no registered migrations.
func NewCodec() *Codec {
	return &Codec{migrations: make(map[int]Migration)}
}

// RegisterMigration installs the step that upgrades records at version from
// to version from+1. Steps without a registered migration carry the record
// forward unchanged.
func (c *Codec) RegisterMigration(from int, m Migration) {
	c.migrations[from] = m
}

// Encode serializes s stamped with CurrentSchemaVersion, at both the record
// and the content level. s itself is not modified.
func (c *Codec) Encode(s *Scenario) ([]byte, error) {
	content := make(map[string]json.RawMessage, len(s.Content)+1)
	for k, v := range s.Content {
		content[k] = v
	}
	content[contentSchemaVersion] = versionJSON(CurrentSchemaVersion)

	data, err := marshalRecord(wireRecord{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		SchemaVersion: CurrentSchemaVersion,
		Content:       content,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding scenario %s: %w", s.ID, err)
	}
	return data, nil
}

// Decode parses a wire record. Records from older schema versions are run
// through the migration chain; records from newer versions are rejected.
func (c *Codec) Decode(data []byte) (*Scenario, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &CorruptRecordError{Err: err}
	}
	if raw == nil {
		return nil, &CorruptRecordError{Err: errors.New("record is null")}
	}
	id := peekID(raw)

	version, err := readVersion(raw[contentSchemaVersion])
	if err != nil {
		return nil, &CorruptRecordError{ID: id, Err: err}
	}
	var content map[string]json.RawMessage
	if rawContent, ok := raw["content"]; ok {
		if err := json.Unmarshal(rawContent, &content); err != nil {
			return nil, &CorruptRecordError{ID: id, Err: fmt.Errorf("content: %w", err)}
		}
	}
	contentVersion, err := readVersion(content[contentSchemaVersion])
	if err != nil {
		return nil, &CorruptRecordError{ID: id, Err: fmt.Errorf("content: %w", err)}
	}
	if contentVersion > version {
		version = contentVersion
	}
	if version > CurrentSchemaVersion {
		return nil, &UnsupportedSchemaError{ID: id, Version: version, Supported: CurrentSchemaVersion}
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		m, ok := c.migrations[v]
		if !ok {
			continue
		}
		if raw, err = m(raw); err != nil {
			return nil, fmt.Errorf("migrating record %s from schema %d: %w", id, v, err)
		}
	}

	// Re-read after migrations; they may have rewritten any field.
	delete(raw, contentSchemaVersion)
	normalized, err := marshalRecord(raw)
	if err != nil {
		return nil, &CorruptRecordError{ID: id, Err: err}
	}
	var rec wireRecord
	if err := json.Unmarshal(normalized, &rec); err != nil {
		return nil, &CorruptRecordError{ID: id, Err: err}
	}
	if rec.ID == "" {
		return nil, &CorruptRecordError{Err: errors.New("record has no id")}
	}

	out := make(ScenarioContent, len(rec.Content))
	for k, v := range rec.Content {
		if k == contentSchemaVersion {
			continue
		}
		out[k] = v
	}

	return &Scenario{
		ID:            rec.ID,
		Name:          rec.Name,
		Description:   rec.Description,
		Content:       out,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// readVersion parses a schemaVersion field. A missing field is version 0.
func readVersion(raw json.RawMessage) (int, error) {
	if raw == nil {
		return 0, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid schemaVersion %s: %w", string(raw), err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid schemaVersion %d", v)
	}
	return v, nil
}

// marshalRecord encodes v without HTML escaping so content strings keep
// their original characters.
func marshalRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func peekID(raw map[string]json.RawMessage) string {
	var id string
	_ = json.Unmarshal(raw["id"], &id)
	return id
}

func versionJSON(v int) json.RawMessage {
	return json.RawMessage(strconv.Itoa(v))
}
