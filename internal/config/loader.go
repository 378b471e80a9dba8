package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".joi"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// DatabaseFile is the default governance database name inside DataDir.
	DatabaseFile = "governance.db"
)

// ConfigPath returns the config file Load reads. JOI_CONFIG wins; otherwise
// ~/.joi/config.json, falling back to config.yaml or config.yml when only
// one of those exists.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("JOI_CONFIG")); explicit != "" {
		return expandPath(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ConfigDir)
	primary := filepath.Join(dir, ConfigFile)
	if fileExists(primary) {
		return primary, nil
	}
	for _, alt := range []string{"config.yaml", "config.yml"} {
		if p := filepath.Join(dir, alt); fileExists(p) {
			return p, nil
		}
	}
	return primary, nil
}

// resolveHomeDir honours JOI_HOME before the user's home directory.
func resolveHomeDir() (string, error) {
	h := strings.TrimSpace(os.Getenv("JOI_HOME"))
	if h == "" {
		return os.UserHomeDir()
	}
	if rest, ok := strings.CutPrefix(h, "~"); ok {
		base, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, rest), nil
	}
	return h, nil
}

// expandPath resolves a leading ~ against resolveHomeDir.
func expandPath(p string) (string, error) {
	rest, ok := strings.CutPrefix(p, "~")
	if !ok {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rest), nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// envGroups binds each config group to its envconfig prefix.
func envGroups(cfg *Config) map[string]any {
	return map[string]any{
		"JOI_PATHS":     &cfg.Paths,
		"JOI_STORE":     &cfg.Store,
		"JOI_JUDGE":     &cfg.Judge,
		"JOI_OBSERVER":  &cfg.Observer,
		"JOI_ROLLOUT":   &cfg.Rollout,
		"JOI_SCHEDULER": &cfg.Scheduler,
		"JOI_GATEWAY":   &cfg.Gateway,
		"JOI_EVENTS":    &cfg.Events,
	}
}

// Load builds the configuration. Later layers win:
// defaults, env files, the config file, JOI_<GROUP>_* variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	LoadEnvFiles()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	switch _, statErr := os.Stat(path); {
	case statErr == nil:
		if err := applyConfigFile(cfg, path); err != nil {
			return nil, err
		}
	case !errors.Is(statErr, fs.ErrNotExist):
		return nil, fmt.Errorf("stat config %s: %w", path, statErr)
	}

	for prefix, spec := range envGroups(cfg) {
		if err := envconfig.Process(prefix, spec); err != nil {
			return nil, fmt.Errorf("env overrides %s: %w", prefix, err)
		}
	}
	if cfg.Judge.APIKey == "" {
		cfg.Judge.APIKey = firstEnv("OPENAI_API_KEY", "OPENROUTER_API_KEY")
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// resolvePaths expands ~ and derives the database and lock paths from
// DataDir when they are unset.
func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Paths.Workspace, &c.Paths.DataDir, &c.Store.Path, &c.Scheduler.LockPath} {
		expanded, err := expandPath(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, DatabaseFile)
	}
	if strings.TrimSpace(c.Scheduler.LockPath) == "" {
		c.Scheduler.LockPath = filepath.Join(c.Paths.DataDir, "scheduler.lock")
	}
	return nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver must be sqlite or sqlite3, got %q", c.Store.Driver)
	}
	if c.Judge.Temperature < 0 || c.Judge.Temperature > 2 {
		return fmt.Errorf("judge.temperature must be within [0,2], got %v", c.Judge.Temperature)
	}
	if c.Observer.QualityThreshold < 0 || c.Observer.QualityThreshold > 1 {
		return fmt.Errorf("observer.qualityThreshold must be within [0,1], got %v", c.Observer.QualityThreshold)
	}
	if c.Observer.MinUserMessageLength < 0 {
		return fmt.Errorf("observer.minUserMessageLength must be >= 0, got %d", c.Observer.MinUserMessageLength)
	}
	if c.Rollout.DefaultTrafficPercent < 0 || c.Rollout.DefaultTrafficPercent > 100 {
		return fmt.Errorf("rollout.defaultTrafficPercent must be within [0,100], got %d", c.Rollout.DefaultTrafficPercent)
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Judge.APIKey != "" {
		out.Judge.APIKey = "****"
	}
	if out.Gateway.AuthToken != "" {
		out.Gateway.AuthToken = "****"
	}
	return &out
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
