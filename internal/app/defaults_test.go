package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("BUDGET_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("BUDGET_HOME", "/custom/budget")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/budget" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/budget")
		}
		if defaults["log_dir"] != "/custom/budget/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/budget/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("BUDGET_CONFIG_PATH", "")
		t.Setenv("BUDGET_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "budget.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "budget")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadEnvFile() error = %v", err)
		}
	})

	t.Run("sets unset variables only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "BUDGET_HOME=/from/dotenv\nBUDGET_CONFIG_PATH=/from/dotenv.toml\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("BUDGET_CONFIG_PATH", "/from/env.toml")
		t.Setenv("BUDGET_HOME", "")
		os.Unsetenv("BUDGET_HOME")

		if err := LoadEnvFile(path); err != nil {
			t.Fatalf("LoadEnvFile() error = %v", err)
		}
		if got := os.Getenv("BUDGET_HOME"); got != "/from/dotenv" {
			t.Errorf("BUDGET_HOME = %q, want %q", got, "/from/dotenv")
		}
		if got := os.Getenv("BUDGET_CONFIG_PATH"); got != "/from/env.toml" {
			t.Errorf("BUDGET_CONFIG_PATH = %q, want %q", got, "/from/env.toml")
		}
	})
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "env wins", value: "/srv/budget", want: "/srv/budget"},
		{name: "home fallback", value: "", want: "/home/tester/.local/share/budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BUDGET_TEST_DIR", tt.value)
			got, err := pathFromEnv("BUDGET_TEST_DIR", ".local", "share", "budget")
			if err != nil {
				t.Fatalf("pathFromEnv() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("pathFromEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}
