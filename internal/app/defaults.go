package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults resolves where budget keeps its config file and its data.
// BUDGET_CONFIG_PATH overrides the config file (~/.config/budget.toml) and
// BUDGET_HOME the data directory (~/.local/share/budget). Logs go in
// <data dir>/log.
func GetDefaults() (map[string]string, error) {
	configPath, err := pathFromEnv("BUDGET_CONFIG_PATH", ".config", "budget.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := pathFromEnv("BUDGET_HOME", ".local", "share", "budget")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// pathFromEnv returns the value of env, or homeRel joined under the user's
// home directory when env is unset.
func pathFromEnv(env string, homeRel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: no home directory: %w", env, err)
	}
	return filepath.Join(append([]string{home}, homeRel...)...), nil
}
