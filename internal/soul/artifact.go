package soul

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itellico/joi-sub010/internal/store"
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidAgentID reports whether id is safe to use as a directory name.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// Header is the YAML front matter written above the soul content.
type Header struct {
	Agent       string    `yaml:"agent"`
	Version     int       `yaml:"version"`
	VersionID   string    `yaml:"versionId"`
	ActivatedAt time.Time `yaml:"activatedAt"`
	Source      string    `yaml:"source"`
}

// ArtifactWriter mirrors active soul versions to
// <workspace>/agents/<agentId>/SOUL.md.
type ArtifactWriter struct {
	Workspace string
}

// Path returns the artifact path for agentID.
func (w *ArtifactWriter) Path(agentID string) (string, error) {
	if !ValidAgentID(agentID) {
		return "", store.Invalidf("invalid agent id %q", agentID)
	}
	if strings.TrimSpace(w.Workspace) == "" {
		return "", fmt.Errorf("workspace is not configured")
	}
	return filepath.Join(w.Workspace, "agents", agentID, ArtifactName), nil
}

// Sync writes v atomically: a temp file in the same directory is synced and
// renamed over the artifact, so readers never see a partial document.
func (w *ArtifactWriter) Sync(_ context.Context, v *store.SoulVersion, source string) error {
	path, err := w.Path(v.AgentID)
	if err != nil {
		return err
	}
	activated := time.Now().UTC()
	if v.ActivatedAt != nil {
		activated = v.ActivatedAt.UTC()
	}
	data, err := Render(Header{
		Agent:       v.AgentID,
		Version:     v.Version,
		VersionID:   v.ID,
		ActivatedAt: activated,
		Source:      source,
	}, v.Content)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create soul dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".soul-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp soul file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write soul file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync soul file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close soul file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod soul file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install soul file: %w", err)
	}
	return nil
}

// Render produces the artifact bytes for h and content.
func Render(h Header, content string) ([]byte, error) {
	head, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode soul header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(content, "\n"))
	if !strings.HasSuffix(content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Parse splits an artifact into its header and content.
func Parse(data []byte) (*Header, string, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, "", fmt.Errorf("soul artifact has no front matter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, "", fmt.Errorf("soul artifact front matter is not terminated")
	}
	var h Header
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &h); err != nil {
		return nil, "", fmt.Errorf("decode soul header: %w", err)
	}
	body := strings.TrimPrefix(rest[end+len("\n---\n"):], "\n")
	return &h, body, nil
}

// Read loads and parses the artifact for agentID.
func (w *ArtifactWriter) Read(agentID string) (*Header, string, error) {
	path, err := w.Path(agentID)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return Parse(data)
}
