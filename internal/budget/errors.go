package budget

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested id is absent.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is matched by *QuotaExceededError.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrMediumUnavailable means the backing medium cannot be reached at all.
	// Callers should treat the whole storage layer as degraded.
	ErrMediumUnavailable = errors.New("storage medium unavailable")

	// ErrCorruptRecord is matched by *CorruptRecordError.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrUnsupportedSchema is matched by *UnsupportedSchemaError.
	ErrUnsupportedSchema = errors.New("unsupported schema version")

	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("import conflict")
)

// QuotaExceededError is returned when a write would exceed the shared
// capacity of the medium. No partial write occurs.
type QuotaExceededError struct {
	Key       string // physical key being written
	Required  int64  // bytes the write needs beyond what is stored today
	Available int64  // bytes still free before the write
	Capacity  int64  // total capacity of the medium
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded writing %s: need %d bytes, %d of %d available",
		e.Key, e.Required, e.Available, e.Capacity)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// CorruptRecordError is returned when a stored value cannot be decoded.
type CorruptRecordError struct {
	ID  string
	Err error
}

func (e *CorruptRecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("corrupt record: %v", e.Err)
	}
	return fmt.Sprintf("corrupt record %s: %v", e.ID, e.Err)
}

func (e *CorruptRecordError) Is(target error) bool { return target == ErrCorruptRecord }

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// UnsupportedSchemaError is returned when a record was written by a newer
// build than this one understands.
type UnsupportedSchemaError struct {
	ID        string
	Version   int
	Supported int
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("record %s has schema version %d, this build supports up to %d",
		e.ID, e.Version, e.Supported)
}

func (e *UnsupportedSchemaError) Is(target error) bool { return target == ErrUnsupportedSchema }

// ConflictError lists the imported ids that already exist.
type ConflictError struct {
	IDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("import conflict: %d scenario(s) already exist: %s",
		len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
