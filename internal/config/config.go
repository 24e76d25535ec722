package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration of the budget tool.
type Config struct {
	AppPrefix string         `toml:"app_prefix"`
	BaseDir   string         `toml:"base_dir"`
	LogDir    string         `toml:"log_dir"`
	Storage   StorageConfig  `toml:"storage"`
	FX        FXConfig       `toml:"fx"`
	AutoSave  AutoSaveConfig `toml:"autosave"`
	Export    ExportConfig   `toml:"export"`
}

// StorageConfig selects the backing medium of the key-value store.
// Type determines which of the remaining fields are relevant.
type StorageConfig struct {
	Type          string `toml:"type"` // "memory", "filesystem", "sqlite" or "s3"
	CapacityBytes int64  `toml:"capacity_bytes"`

	// Only used when Type == "filesystem".
	FSDir string `toml:"fs_dir,omitempty"`

	// Only used when Type == "sqlite".
	SQLitePath string `toml:"sqlite_path,omitempty"`

	// Only used when Type == "s3".
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
	S3TimeoutMS       int    `toml:"s3_timeout_ms,omitempty"`
}

// FXConfig holds currency defaults and the rate source.
type FXConfig struct {
	BaseCurrency    string `toml:"base_currency"`
	DisplayCurrency string `toml:"display_currency"`
	FetchURL        string `toml:"fetch_url"`
	FetchTimeoutMS  int    `toml:"fetch_timeout_ms"`
}

// AutoSaveConfig holds the auto-save timings in milliseconds.
type AutoSaveConfig struct {
	DebounceMS int `toml:"debounce_ms"`
	MaxWaitMS  int `toml:"max_wait_ms"`
}

// ExportConfig controls how encrypted exports are produced.
type ExportConfig struct {
	Encryption string `toml:"encryption"` // "age" (default) or "test"
}

// NewConfig creates a Config rooted at baseDir with default values.
func NewConfig(baseDir string) *Config {
	return &Config{
		AppPrefix: "budget",
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Storage: StorageConfig{
			Type:          "sqlite",
			CapacityBytes: 5 * 1024 * 1024,
			SQLitePath:    filepath.Join(baseDir, "db", "budget.db"),
		},
		FX: FXConfig{
			BaseCurrency:    "USD",
			DisplayCurrency: "USD",
			FetchTimeoutMS:  10000,
		},
		AutoSave: AutoSaveConfig{
			DebounceMS: 2000,
			MaxWaitMS:  5000,
		},
		Export: ExportConfig{Encryption: "age"},
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPrefix == "" {
		errs = append(errs, errors.New("app_prefix must not be empty"))
	}
	if c.Storage.CapacityBytes < 0 {
		errs = append(errs, fmt.Errorf("storage.capacity_bytes must not be negative, got %d", c.Storage.CapacityBytes))
	}
	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.FSDir == "" {
			errs = append(errs, errors.New("storage.fs_dir is required for filesystem storage"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for sqlite storage"))
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("storage.s3_bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type: %q", c.Storage.Type))
	}
	if !isCurrencyCode(c.FX.BaseCurrency) {
		errs = append(errs, fmt.Errorf("fx.base_currency %q is not a 3-letter code", c.FX.BaseCurrency))
	}
	if !isCurrencyCode(c.FX.DisplayCurrency) {
		errs = append(errs, fmt.Errorf("fx.display_currency %q is not a 3-letter code", c.FX.DisplayCurrency))
	}
	if c.AutoSave.DebounceMS < 0 || c.AutoSave.MaxWaitMS < 0 {
		errs = append(errs, errors.New("autosave timings must not be negative"))
	}
	if c.AutoSave.MaxWaitMS > 0 && c.AutoSave.MaxWaitMS < c.AutoSave.DebounceMS {
		errs = append(errs, fmt.Errorf("autosave.max_wait_ms (%d) is shorter than autosave.debounce_ms (%d)",
			c.AutoSave.MaxWaitMS, c.AutoSave.DebounceMS))
	}
	return errors.Join(errs...)
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes cfg to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
