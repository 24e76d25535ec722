package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"budget-go/internal/budget"
)

// DefaultCapacity is the default capacity of a store in accounted bytes
// (5 MiB, the usual browser storage quota).
const DefaultCapacity int64 = 5 * 1024 * 1024

// errMissing is returned by media when a key is absent.
var errMissing = errors.New("key not present")

// medium abstracts the raw key-value mechanics of a backing device.
// Keys are full physical keys. Concurrency is managed by the caller
// (Store.mu), so media do not need to be safe for concurrent use.
type medium interface {
	// Ping verifies the medium can be reached at all.
	Ping() error

	// Get returns the value stored for key, or errMissing.
	Get(key string) (string, error)

	// Set stores value for key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys returns every key resident in the medium, including keys that
	// do not belong to this application.
	Keys() ([]string, error)
}

// Store implements budget.KeyValueStore on top of a medium. It maps
// (namespace, id) to "<prefix>:<namespace>:<id>" and enforces the shared
// capacity ceiling. All accounting lives here.
type Store struct {
	medium   medium
	prefix   string
	capacity int64
	mu       sync.Mutex
}

var _ budget.KeyValueStore = (*Store)(nil)

func newStore(m medium, prefix string, capacity int64) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{medium: m, prefix: prefix, capacity: capacity}
}

// Capacity returns the total capacity of the store in accounted bytes.
func (s *Store) Capacity() int64 { return s.capacity }

// Get returns the value stored for id in namespace.
func (s *Store) Get(namespace, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ping(); err != nil {
		return "", err
	}
	key, err := s.key(namespace, id)
	if err != nil {
		return "", err
	}
	value, err := s.medium.Get(key)
	if err != nil {
		if errors.Is(err, errMissing) {
			return "", fmt.Errorf("%s/%s: %w", namespace, id, budget.ErrNotFound)
		}
		return "", fmt.Errorf("reading %s/%s: %w", namespace, id, err)
	}
	return value, nil
}

// Put stores value for id in namespace if it fits in the remaining capacity.
func (s *Store) Put(namespace, id, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ping(); err != nil {
		return err
	}
	key, err := s.key(namespace, id)
	if err != nil {
		return err
	}

	// Usage is recomputed on every write, never cached.
	used, err := s.usedBytes()
	if err != nil {
		return fmt.Errorf("computing usage: %w", err)
	}

	required := budget.ByteSize(value)
	old, err := s.medium.Get(key)
	switch {
	case err == nil:
		required -= budget.ByteSize(old)
	case errors.Is(err, errMissing):
		required += budget.ByteSize(key)
	default:
		return fmt.Errorf("reading %s: %w", key, err)
	}

	available := s.capacity - used
	if required > available {
		return &budget.QuotaExceededError{
			Key:       key,
			Required:  required,
			Available: max(available, 0),
			Capacity:  s.capacity,
		}
	}

	if err := s.medium.Set(key, value); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes id from namespace. Deleting an absent id succeeds.
func (s *Store) Delete(namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ping(); err != nil {
		return err
	}
	key, err := s.key(namespace, id)
	if err != nil {
		return err
	}
	if err := s.medium.Remove(key); err != nil {
		return fmt.Errorf("removing %s/%s: %w", namespace, id, err)
	}
	return nil
}

// ListIDs returns the ids stored in namespace.
func (s *Store) ListIDs(namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ping(); err != nil {
		return nil, err
	}
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	keys, err := s.medium.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}

	prefix := s.namespacePrefix(namespace)
	ids := make([]string, 0)
	for _, k := range keys {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Stats reports usage of the whole medium.
func (s *Store) Stats() (budget.StorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ping(); err != nil {
		return budget.StorageStats{}, err
	}
	used, err := s.usedBytes()
	if err != nil {
		return budget.StorageStats{}, fmt.Errorf("computing usage: %w", err)
	}
	// A foreign writer may have filled the medium past our ceiling.
	used = min(used, s.capacity)

	return budget.StorageStats{
		UsedBytes:          used,
		AvailableBytes:     s.capacity - used,
		TotalCapacityBytes: s.capacity,
		UsagePercentage:    100 * float64(used) / float64(s.capacity),
	}, nil
}

// usedBytes sums the accounted size of every key and value in the medium.
func (s *Store) usedBytes() (int64, error) {
	keys, err := s.medium.Keys()
	if err != nil {
		return 0, err
	}
	var used int64
	for _, k := range keys {
		v, err := s.medium.Get(k)
		if err != nil {
			if errors.Is(err, errMissing) {
				continue
			}
			return 0, fmt.Errorf("reading %s: %w", k, err)
		}
		used += budget.ByteSize(k) + budget.ByteSize(v)
	}
	return used, nil
}

func (s *Store) ping() error {
	if err := s.medium.Ping(); err != nil {
		return fmt.Errorf("%w: %v", budget.ErrMediumUnavailable, err)
	}
	return nil
}

func (s *Store) key(namespace, id string) (string, error) {
	if err := checkNamespace(namespace); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("empty id in namespace %s", namespace)
	}
	return s.namespacePrefix(namespace) + id, nil
}

// checkNamespace rejects namespaces that could make two physical keys collide.
func checkNamespace(namespace string) error {
	if namespace == "" || strings.Contains(namespace, ":") {
		return fmt.Errorf("invalid namespace %q", namespace)
	}
	return nil
}

func (s *Store) namespacePrefix(namespace string) string {
	return s.prefix + ":" + namespace + ":"
}
