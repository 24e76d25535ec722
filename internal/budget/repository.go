package budget

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

// ScenarioRepository persists scenarios in the scenarios namespace of a
// KeyValueStore. It owns every key in that namespace.
type ScenarioRepository struct {
	store  KeyValueStore
	codec  *Codec
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewScenarioRepository creates a repository over store.
func NewScenarioRepository(store KeyValueStore, codec *Codec, logger Logger, clock Clock, idgen IDGenerator) *ScenarioRepository {
	return &ScenarioRepository{
		store:  store,
		codec:  codec,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// Create stores a new scenario with a fresh id.
func (r *ScenarioRepository) Create(input ScenarioInput) (*Scenario, error) {
	content, err := input.Content.Canonical()
	if err != nil {
		return nil, fmt.Errorf("creating scenario: %w", err)
	}
	now := r.now()
	s := &Scenario{
		ID:            r.idgen.New(),
		Name:          input.Name,
		Description:   input.Description,
		Content:       content,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.write(s); err != nil {
		return nil, fmt.Errorf("creating scenario: %w", err)
	}
	r.logger.Info("scenario created", "id", s.ID, "name", s.Name)
	return s, nil
}

// Get returns the scenario with the given id. A stored record that cannot
// be decoded is reported as an error rather than skipped.
func (r *ScenarioRepository) Get(id string) (*Scenario, error) {
	value, err := r.store.Get(NamespaceScenarios, id)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", id, err)
	}
	return r.decodeStored(id, value)
}

// Update merges the provided top-level fields onto an existing scenario.
func (r *ScenarioRepository) Update(id string, updates ScenarioUpdate) (*Scenario, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	if updates.Name != nil {
		s.Name = *updates.Name
	}
	if updates.Description != nil {
		s.Description = *updates.Description
	}
	if updates.Content != nil {
		content, err := updates.Content.Canonical()
		if err != nil {
			return nil, fmt.Errorf("updating scenario %s: %w", id, err)
		}
		s.Content = content
	}
	s.SchemaVersion = CurrentSchemaVersion
	s.UpdatedAt = r.nextUpdatedAt(s.UpdatedAt)

	if err := r.write(s); err != nil {
		return nil, fmt.Errorf("updating scenario %s: %w", id, err)
	}
	r.logger.Debug("scenario updated", "id", id)
	return s, nil
}

// Delete removes a scenario. Deleting an absent id succeeds.
func (r *ScenarioRepository) Delete(id string) error {
	if err := r.store.Delete(NamespaceScenarios, id); err != nil {
		return fmt.Errorf("deleting scenario %s: %w", id, err)
	}
	r.logger.Info("scenario deleted", "id", id)
	return nil
}

// List returns every decodable scenario keyed by id. Records that fail to
// decode are skipped with a warning so one bad record cannot hide the rest.
func (r *ScenarioRepository) List() (map[string]*Scenario, error) {
	ids, err := r.store.ListIDs(NamespaceScenarios)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}

	out := make(map[string]*Scenario, len(ids))
	for _, id := range ids {
		value, err := r.store.Get(NamespaceScenarios, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("reading scenario %s: %w", id, err)
		}
		s, err := r.decodeStored(id, value)
		if err != nil {
			r.logger.Warn("skipping unreadable scenario", "id", id, "error", err)
			continue
		}
		out[id] = s
	}
	return out, nil
}

// ListSummaries returns summaries of every decodable scenario, most recently
// updated first.
func (r *ScenarioRepository) ListSummaries() ([]ScenarioListItem, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	items := make([]ScenarioListItem, 0, len(all))
	for _, s := range all {
		items = append(items, ScenarioListItem{
			ID:                 s.ID,
			Name:               s.Name,
			Description:        s.Description,
			CreatedAt:          s.CreatedAt,
			UpdatedAt:          s.UpdatedAt,
			OriginCountry:      s.Content.OriginCountry(),
			DestinationCountry: s.Content.DestinationCountry(),
			CompletionStatus:   s.Content.CompletionStatus(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

// Duplicate copies a scenario under a new id. An empty newName yields
// "<source name> (Copy)".
func (r *ScenarioRepository) Duplicate(id string, newName string) (*Scenario, error) {
	src, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		newName = src.Name + " (Copy)"
	}

	dup, err := r.Create(ScenarioInput{
		Name:        newName,
		Description: src.Description,
		Content:     src.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("duplicating scenario %s: %w", id, err)
	}
	return dup, nil
}

// ExportAll serializes every decodable scenario as a JSON array. Each element
// is individually encoded so it carries its own schema version.
func (r *ScenarioRepository) ExportAll() ([]byte, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		data, err := r.codec.Encode(all[id])
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}

	blob, err := marshalRecord(records)
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	r.logger.Info("scenarios exported", "count", len(records))
	return blob, nil
}

// ImportAll decodes a blob produced by ExportAll and writes its scenarios.
// Every record is decoded before anything is written, and a blob that
// repeats an id is rejected as corrupt. Unless overwrite is
// set, any id that already exists rejects the whole import with a
// *ConflictError and nothing is written.
func (r *ScenarioRepository) ImportAll(blob []byte, overwrite bool) (map[string]*Scenario, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, &CorruptRecordError{Err: fmt.Errorf("import is not a JSON array: %w", err)}
	}

	decoded := make([]*Scenario, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		s, err := r.codec.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("decoding import record %d: %w", i, err)
		}
		if seen[s.ID] {
			return nil, &CorruptRecordError{ID: s.ID, Err: fmt.Errorf("import record %d repeats id", i)}
		}
		seen[s.ID] = true
		decoded = append(decoded, s)
	}

	if !overwrite {
		var conflicts []string
		for _, s := range decoded {
			_, err := r.store.Get(NamespaceScenarios, s.ID)
			switch {
			case err == nil:
				conflicts = append(conflicts, s.ID)
			case errors.Is(err, ErrNotFound):
			default:
				return nil, fmt.Errorf("checking scenario %s: %w", s.ID, err)
			}
		}
		if len(conflicts) > 0 {
			sort.Strings(conflicts)
			return nil, &ConflictError{IDs: conflicts}
		}
	}

	imported := make(map[string]*Scenario, len(decoded))
	for _, s := range decoded {
		if err := r.write(s); err != nil {
			return imported, fmt.Errorf("importing scenario %s: %w", s.ID, err)
		}
		imported[s.ID] = s
	}
	r.logger.Info("scenarios imported", "count", len(imported), "overwrite", overwrite)
	return imported, nil
}

// ExportTo writes the ExportAll blob to w, sealed by enc when it is non-nil.
func (r *ScenarioRepository) ExportTo(w io.Writer, enc Encryptor) error {
	blob, err := r.ExportAll()
	if err != nil {
		return err
	}
	if enc == nil {
		if _, err := w.Write(blob); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		return nil
	}
	if err := enc.Encrypt(bytes.NewReader(blob), w); err != nil {
		return fmt.Errorf("encrypting export: %w", err)
	}
	return nil
}

// ImportFrom reads a blob written by ExportTo, opening it with dec when it is
// non-nil, and imports it as ImportAll does.
func (r *ScenarioRepository) ImportFrom(src io.Reader, dec Decryptor, overwrite bool) (map[string]*Scenario, error) {
	var blob []byte
	if dec == nil {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("reading import: %w", err)
		}
		blob = data
	} else {
		var buf bytes.Buffer
		if err := dec.Decrypt(src, &buf); err != nil {
			return nil, fmt.Errorf("decrypting import: %w", err)
		}
		blob = buf.Bytes()
	}
	return r.ImportAll(blob, overwrite)
}

// Stats reports how much of the shared medium scenarios occupy.
func (r *ScenarioRepository) Stats() (ScenarioStorageStats, error) {
	all, err := r.List()
	if err != nil {
		return ScenarioStorageStats{}, err
	}
	storeStats, err := r.store.Stats()
	if err != nil {
		return ScenarioStorageStats{}, fmt.Errorf("reading storage stats: %w", err)
	}

	var total int64
	for _, s := range all {
		data, err := r.codec.Encode(s)
		if err != nil {
			return ScenarioStorageStats{}, err
		}
		total += ByteSize(string(data))
	}

	estimated := math.MaxInt
	if len(all) > 0 && total > 0 {
		avg := float64(total) / float64(len(all))
		estimated = int(math.Floor(float64(storeStats.TotalCapacityBytes) / avg))
	}

	return ScenarioStorageStats{
		TotalScenarios:    len(all),
		TotalSizeBytes:    total,
		RemainingBytes:    storeStats.AvailableBytes,
		UsagePercentage:   storeStats.UsagePercentage,
		EstimatedCapacity: estimated,
	}, nil
}

func (r *ScenarioRepository) write(s *Scenario) error {
	data, err := r.codec.Encode(s)
	if err != nil {
		return err
	}
	return r.store.Put(NamespaceScenarios, s.ID, string(data))
}

// decodeStored decodes a stored value and checks it belongs under id.
func (r *ScenarioRepository) decodeStored(id, value string) (*Scenario, error) {
	s, err := r.codec.Decode([]byte(value))
	if err != nil {
		var corrupt *CorruptRecordError
		if errors.As(err, &corrupt) {
			corrupt.ID = id
		}
		var unsupported *UnsupportedSchemaError
		if errors.As(err, &unsupported) {
			unsupported.ID = id
		}
		return nil, err
	}
	if s.ID != id {
		return nil, &CorruptRecordError{ID: id, Err: fmt.Errorf("record id %q stored under key %q", s.ID, id)}
	}
	return s, nil
}

func (r *ScenarioRepository) now() time.Time {
	return r.clock.Now().UTC()
}

// nextUpdatedAt returns a timestamp strictly after prev.
func (r *ScenarioRepository) nextUpdatedAt(prev time.Time) time.Time {
	now := r.now()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}
