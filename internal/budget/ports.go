package budget

import "io"

// Namespaces partition the physical key space of a KeyValueStore.
const (
	NamespaceScenarios   = "scenarios"
	NamespacePreferences = "preferences"
)

// KeyValueStore is a namespaced, capacity-limited key-value medium.
// Values are serialized records; the store does not interpret them.
// The capacity ceiling is shared by every namespace.
type KeyValueStore interface {
	// Get returns the value stored for id in namespace.
	// Returns ErrNotFound if absent and ErrMediumUnavailable if the backing
	// medium cannot be reached at all.
	Get(namespace, id string) (string, error)

	// Put stores value for id in namespace. When id already exists, only the
	// growth beyond the existing value is checked against remaining capacity.
	// Returns a *QuotaExceededError if the write would not fit; nothing is
	// written in that case.
	Put(namespace, id, value string) error

	// Delete removes id from namespace. Deleting an absent id is not an error.
	Delete(namespace, id string) error

	// ListIDs returns every id stored in namespace, in no particular order.
	ListIDs(namespace string) ([]string, error)

	// Stats reports usage across the whole medium, all namespaces included.
	Stats() (StorageStats, error)
}

// StorageStats describes usage of a KeyValueStore's backing medium.
// UsedBytes + AvailableBytes always equals TotalCapacityBytes.
type StorageStats struct {
	UsedBytes          int64   `json:"usedBytes"`
	AvailableBytes     int64   `json:"availableBytes"`
	TotalCapacityBytes int64   `json:"totalCapacityBytes"`
	UsagePercentage    float64 `json:"usagePercentage"`
}

// Logger provides structured logging for the service layer.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// Encryptor seals an export blob.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
}

// Decryptor opens a blob sealed by the matching Encryptor.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
