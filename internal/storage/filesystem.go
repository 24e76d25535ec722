package storage

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileSystemMedium stores one file per key under a root directory:
//
//	<root>/
//	  <base64url(key)>    (value, UTF-8)
//
// File names are encoded so any key is a valid name on every platform.
type fileSystemMedium struct {
	root string
}

// NewFileSystemStore creates a Store that keeps each key in its own file
// under root. The directory is created if needed.
func NewFileSystemStore(root, prefix string, capacity int64) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return newStore(&fileSystemMedium{root: root}, prefix, capacity), nil
}

var fileNameEncoding = base64.RawURLEncoding

func (m *fileSystemMedium) path(key string) string {
	return filepath.Join(m.root, fileNameEncoding.EncodeToString([]byte(key)))
}

func (m *fileSystemMedium) Ping() error {
	info, err := os.Stat(m.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", m.root)
	}
	return nil
}

func (m *fileSystemMedium) Get(key string) (string, error) {
	data, err := os.ReadFile(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errMissing
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// Set writes the value using an atomic write (temp file + rename).
func (m *fileSystemMedium) Set(key, value string) error {
	tmpFile, err := os.CreateTemp(m.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.WriteString(value); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path(key)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (m *fileSystemMedium) Remove(key string) error {
	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (m *fileSystemMedium) Keys() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		key, err := fileNameEncoding.DecodeString(e.Name())
		if err != nil {
			// Not one of ours.
			continue
		}
		keys = append(keys, string(key))
	}
	return keys, nil
}
