package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"budget-go/internal/storage/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// sqliteMedium keeps keys in the kv table of a SQLite database.
type sqliteMedium struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path,
// brings its schema up to date and returns a Store backed by it.
// path can be ":memory:" for an in-memory database.
// The returned close function releases the database.
func NewSQLiteStore(path, prefix string, capacity int64) (*Store, func() error, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating storage database: %w", err)
	}
	if err := migrations.CheckStatus(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("storage database schema out of date: %w", err)
	}
	return newStore(&sqliteMedium{db: db}, prefix, capacity), db.Close, nil
}

// OpenSQLite opens and configures a SQLite connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps a ":memory:" database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (m *sqliteMedium) Ping() error {
	return m.db.Ping()
}

func (m *sqliteMedium) Get(key string) (string, error) {
	var value string
	err := m.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errMissing
		}
		return "", fmt.Errorf("selecting key: %w", err)
	}
	return value, nil
}

func (m *sqliteMedium) Set(key, value string) error {
	_, err := m.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upserting key: %w", err)
	}
	return nil
}

func (m *sqliteMedium) Remove(key string) error {
	if _, err := m.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

func (m *sqliteMedium) Keys() ([]string, error) {
	rows, err := m.db.Query("SELECT key FROM kv")
	if err != nil {
		return nil, fmt.Errorf("selecting keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
