package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// envFilePaths lists env files in precedence order: JOI_ENV_FILE, then
// ~/.config/joi/env, then ~/.joi/env and ~/.joi/.env. Duplicates are dropped.
func envFilePaths() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv("JOI_ENV_FILE")); explicit != "" {
		paths = append(paths, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "joi", "env"),
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	out := paths[:0]
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// LoadEnvFiles exports variables from the known env files into the process
// environment and returns the files that were read. Variables already set,
// by the caller or an earlier file, are left alone.
func LoadEnvFiles() []string {
	var loaded []string
	for _, path := range envFilePaths() {
		n, err := applyEnvFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			slog.Warn("Skipping env file", "path", path, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "path", path, "set", n)
		loaded = append(loaded, path)
	}
	return loaded
}

// applyEnvFile sets unset variables from path and reports how many it set.
func applyEnvFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := 0
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, vars[k]); err != nil {
			return set, fmt.Errorf("set %s: %w", k, err)
		}
		set++
	}
	return set, nil
}
