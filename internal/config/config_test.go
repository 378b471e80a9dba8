package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears every JOI_ variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"JOI_HOME", "JOI_CONFIG", "JOI_ENV_FILE", "OPENAI_API_KEY", "OPENROUTER_API_KEY",
		"JOI_GATEWAY_HOST", "JOI_GATEWAY_PORT", "JOI_JUDGE_API_KEY", "JOI_STORE_DB_PATH",
		"JOI_OBSERVER_QUALITY_THRESHOLD", "JOI_ROLLOUT_MIN_SAMPLES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func writeConfig(t *testing.T, home, name, body string) string {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected gateway host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected modernc sqlite driver by default, got %s", cfg.Store.Driver)
	}
	if cfg.Observer.Enabled {
		t.Error("expected observer disabled until an operator enables it")
	}
	if cfg.Rollout.EvaluateCron != "0 6 * * 1" {
		t.Errorf("expected weekly evaluation cron, got %q", cfg.Rollout.EvaluateCron)
	}
	if cfg.Judge.Timeout != 60*time.Second {
		t.Errorf("expected judge timeout 60s, got %v", cfg.Judge.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadDefaultsDerivesDataPaths(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(home, ".joi") {
		t.Errorf("expected data dir under home, got %s", cfg.Paths.DataDir)
	}
	if cfg.Store.Path != filepath.Join(home, ".joi", DatabaseFile) {
		t.Errorf("expected database inside data dir, got %s", cfg.Store.Path)
	}
	if cfg.Scheduler.LockPath != filepath.Join(home, ".joi", "scheduler.lock") {
		t.Errorf("expected scheduler lock inside data dir, got %s", cfg.Scheduler.LockPath)
	}
	if cfg.Paths.Workspace != filepath.Join(home, "JOI-Workspace") {
		t.Errorf("expected expanded workspace, got %s", cfg.Paths.Workspace)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{
		"judge": {"model": "gpt-4.1", "maxTokens": 900},
		"observer": {"enabled": true, "qualityThreshold": 0.75},
		"rollout": {"minSamples": 50},
		"gateway": {"port": 9999}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Judge.Model != "gpt-4.1" || cfg.Judge.MaxTokens != 900 {
		t.Errorf("unexpected judge config: %+v", cfg.Judge)
	}
	if !cfg.Observer.Enabled || cfg.Observer.QualityThreshold != 0.75 {
		t.Errorf("unexpected observer config: %+v", cfg.Observer)
	}
	if cfg.Observer.Workers != 4 {
		t.Errorf("expected untouched default workers, got %d", cfg.Observer.Workers)
	}
	if cfg.Rollout.MinSamples != 50 {
		t.Errorf("expected minSamples 50, got %d", cfg.Rollout.MinSamples)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
}

func TestEnvOverride(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{"gateway": {"port": 9999}}`)
	t.Setenv("JOI_GATEWAY_HOST", "0.0.0.0")
	t.Setenv("JOI_GATEWAY_PORT", "8080")
	t.Setenv("JOI_ROLLOUT_MIN_SAMPLES", "5")
	t.Setenv("JOI_STORE_DB_PATH", "/var/lib/joi/gov.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0 from env, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("expected env to beat file for port, got %d", cfg.Gateway.Port)
	}
	if cfg.Rollout.MinSamples != 5 {
		t.Errorf("expected minSamples 5 from env, got %d", cfg.Rollout.MinSamples)
	}
	if cfg.Store.Path != "/var/lib/joi/gov.db" {
		t.Errorf("expected store path from env, got %s", cfg.Store.Path)
	}
}

func TestLoadAPIKeyFallback(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Judge.APIKey != "sk-fallback" {
		t.Fatalf("expected OPENAI_API_KEY fallback, got %q", cfg.Judge.APIKey)
	}

	t.Setenv("JOI_JUDGE_API_KEY", "sk-explicit")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Judge.APIKey != "sk-explicit" {
		t.Fatalf("expected explicit judge key to win, got %q", cfg.Judge.APIKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("JOI_OBSERVER_QUALITY_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected threshold outside [0,1] to fail")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"threshold", func(c *Config) { c.Observer.QualityThreshold = -0.1 }},
		{"min length", func(c *Config) { c.Observer.MinUserMessageLength = -1 }},
		{"traffic", func(c *Config) { c.Rollout.DefaultTrafficPercent = 101 }},
		{"port", func(c *Config) { c.Gateway.Port = 70000 }},
		{"temperature", func(c *Config) { c.Judge.Temperature = -0.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected %s to be rejected", tc.name)
			}
		})
	}
}

func TestValidateAcceptsZeroTemperature(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Judge.Temperature = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero temperature to be valid: %v", err)
	}
}

func TestConfigPathRespectsJoiConfigAndHome(t *testing.T) {
	isolate(t)
	t.Setenv("JOI_HOME", "/srv/joihome")
	t.Setenv("JOI_CONFIG", "~/.joi/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/joihome", ".joi", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}

func TestLoadUsesEnvFileCandidate(t *testing.T) {
	home := isolate(t)
	envDir := filepath.Join(home, ".config", "joi")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "env"), []byte("JOI_GATEWAY_PORT=19999\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.Port != 19999 {
		t.Fatalf("expected gateway port from env file, got %d", cfg.Gateway.Port)
	}
}
