package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `kryptometer:
  name: "TestApp"
  version: "1.0"
feed:
  requests_per_minute: 30
watchlist:
  symbols: ["btcusdt", "ETHUSDT"]
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Kryptometer.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Kryptometer.Name)
	}
	if cfg.Feed.RequestsPerMinute != 30 {
		t.Errorf("unexpected requests per minute: %d", cfg.Feed.RequestsPerMinute)
	}
	// Fields not present in the file keep their defaults.
	if cfg.Feed.ReconnectAttempts != 10 {
		t.Errorf("unexpected reconnect attempts: %d", cfg.Feed.ReconnectAttempts)
	}
	if cfg.Feed.ReconnectInterval != 3*time.Second {
		t.Errorf("unexpected reconnect interval: %s", cfg.Feed.ReconnectInterval)
	}
	if cfg.Snapshot.URL == "" {
		t.Error("expected default snapshot URL")
	}
	if len(cfg.Watchlist.Symbols) != 2 {
		t.Errorf("unexpected watchlist: %v", cfg.Watchlist.Symbols)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString("kryptometer:\n  version: \"1.0\"\n"); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	envPaths := map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	}

	cases := []struct {
		appEnv string
		path   string
		want   string
	}{
		{"", "config/config.yml", "config/config.yml"},
		{"production", "config/config.yml", "config/config.production.yml"},
		{"prod", "config/config.yml", "config/config.production.yml"},
		{"stagging", "", "config/config.staging.yml"},
		{"production", "custom.yml", "custom.yml"},
		{"qa", "", "config/config.yml"},
	}
	for _, c := range cases {
		t.Setenv("APP_ENV", c.appEnv)
		if got := resolveEnvSpecificPath(c.path, "config/config.yml", envPaths); got != c.want {
			t.Errorf("APP_ENV=%q path=%q: got %q, want %q", c.appEnv, c.path, got, c.want)
		}
	}
}
