package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itellico/joi-sub010/internal/store"
)

// isolate points HOME at a temp dir and clears JOI_* variables so commands
// use a fresh config and database.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "JOI_") || key == "OPENAI_API_KEY" || key == "OPENROUTER_API_KEY" {
			t.Setenv(key, "")
			require.NoError(t, os.Unsetenv(key))
		}
	}
	return home
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(out.String()), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runRootCommand(t, args...)
	require.NoError(t, err, "joigov %s: %s", strings.Join(args, " "), out)
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func openTestStore(t *testing.T, home string) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: filepath.Join(home, ".joi", "governance.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestVersionCommand(t *testing.T) {
	isolate(t)

	out := mustRun(t, "version")
	assert.Contains(t, out, "Version: "+version)

	out = mustRun(t, "version", "--json")
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, version, payload["version"])
}

func TestSoulCommands(t *testing.T) {
	home := isolate(t)

	out := mustRun(t, "soul", "init", "coder")
	assert.Contains(t, out, "Seeded coder soul v1")
	artifact := filepath.Join(home, "JOI-Workspace", "agents", "coder", "SOUL.md")
	assert.FileExists(t, artifact)

	out = mustRun(t, "soul", "init", "coder")
	assert.Contains(t, out, "already has a soul")

	path := writeFile(t, home, "soul.md", "# Coder\n\nBe concise.")
	out = mustRun(t, "soul", "update", "coder", "--file", path, "--author", "ops", "--note", "tighten")
	assert.Contains(t, out, "Activated coder soul v2")

	out = mustRun(t, "soul", "show", "coder")
	assert.Contains(t, out, "Be concise.")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Be concise.")

	out = mustRun(t, "soul", "versions", "coder", "--json")
	var versions []store.SoulVersion
	require.NoError(t, json.Unmarshal([]byte(out), &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.True(t, versions[0].Active)

	out = mustRun(t, "soul", "rollback", "coder")
	assert.Contains(t, out, "Activated coder soul v1")

	_, err = runRootCommand(t, "soul", "show", "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = runRootCommand(t, "soul", "update", "coder")
	assert.Error(t, err, "--file is required")
}

func TestRolloutCommands(t *testing.T) {
	home := isolate(t)
	mustRun(t, "soul", "init", "coder")
	path := writeFile(t, home, "candidate.md", "# Coder\n\nCandidate wording.")

	out := mustRun(t, "rollout", "start", "coder", "--file", path, "--traffic", "30", "--json")
	var ro store.SoulRollout
	require.NoError(t, json.Unmarshal([]byte(out), &ro))
	assert.Equal(t, store.RolloutCanaryActive, ro.Status)
	assert.Equal(t, 30, ro.TrafficPercent)

	_, err := runRootCommand(t, "rollout", "start", "coder", "--file", path)
	assert.ErrorIs(t, err, store.ErrConflict)

	out = mustRun(t, "rollout", "list", "--json")
	var list []store.SoulRollout
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, ro.ID, list[0].ID)

	out = mustRun(t, "rollout", "evaluate", ro.ID)
	assert.Contains(t, out, ro.ID+" (coder): pending")

	out = mustRun(t, "rollout", "evaluate", "--all")
	assert.Contains(t, out, "Evaluated 1: 0 promoted, 0 rolled back, 1 pending")

	_, err = runRootCommand(t, "rollout", "evaluate")
	assert.Error(t, err)
	_, err = runRootCommand(t, "rollout", "evaluate", ro.ID, "--all")
	assert.Error(t, err)

	out = mustRun(t, "rollout", "traffic", ro.ID, "40")
	assert.Contains(t, out, "Traffic:   40%")
	_, err = runRootCommand(t, "rollout", "traffic", ro.ID, "abc")
	assert.Error(t, err)
	_, err = runRootCommand(t, "rollout", "traffic", ro.ID, "101")
	assert.ErrorIs(t, err, store.ErrInvalid)

	out = mustRun(t, "soul", "assign", "coder", "conv-1", "--json")
	var res struct {
		SoulVersionID string `json:"soulVersionId"`
		Variant       string `json:"variant"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, []string{ro.BaselineVersionID, ro.CandidateVersionID}, res.SoulVersionID)

	out = mustRun(t, "rollout", "cancel", ro.ID, "--reason", "changed plans")
	assert.Contains(t, out, "Status:    cancelled")
	assert.Contains(t, out, "changed plans")

	_, err = runRootCommand(t, "rollout", "promote", ro.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestObserverConfigCommand(t *testing.T) {
	isolate(t)

	out := mustRun(t, "observer", "config", "--json")
	var cfg store.ObserverConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.False(t, cfg.Enabled)
	assert.InDelta(t, 0.6, cfg.QualityThreshold, 1e-9)

	out = mustRun(t, "observer", "config", "--set", "enabled=true", "--set", "qualityThreshold=0.8", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.True(t, cfg.Enabled)
	assert.InDelta(t, 0.8, cfg.QualityThreshold, 1e-9)

	out = mustRun(t, "observer", "config")
	assert.Contains(t, out, "enabled:              true")
	assert.Contains(t, out, "qualityThreshold:     0.80")

	_, err := runRootCommand(t, "observer", "config", "--set", "qualityThreshold=2")
	assert.ErrorIs(t, err, store.ErrInvalid)
	_, err = runRootCommand(t, "observer", "config", "--set", "color=blue")
	assert.Error(t, err)
}

func TestApplyObserverSetting(t *testing.T) {
	tests := []struct {
		kv      string
		check   func(*testing.T, store.ObserverConfig)
		wantErr bool
	}{
		{kv: "enabled=true", check: func(t *testing.T, c store.ObserverConfig) { assert.True(t, c.Enabled) }},
		{kv: "skipDryRun = false", check: func(t *testing.T, c store.ObserverConfig) { assert.False(t, c.SkipDryRun) }},
		{kv: "minUserMessageLength=12", check: func(t *testing.T, c store.ObserverConfig) { assert.Equal(t, 12, c.MinUserMessageLength) }},
		{kv: "qualityThreshold=0.25", check: func(t *testing.T, c store.ObserverConfig) { assert.InDelta(t, 0.25, c.QualityThreshold, 1e-9) }},
		{kv: "enabled", wantErr: true},
		{kv: "enabled=maybe", wantErr: true},
		{kv: "unknown=1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.kv, func(t *testing.T) {
			cfg := store.ObserverConfig{SkipDryRun: true}
			err := applyObserverSetting(&cfg, tt.kv)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestAnalysesStatsAndReviewCommands(t *testing.T) {
	home := isolate(t)
	mustRun(t, "soul", "init", "coder")

	st := openTestStore(t, home)
	ctx := context.Background()
	a, err := st.InsertAnalysis(ctx, &store.ChatAnalysis{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		AgentID:        "coder",
		UserMessage:    "How do I list files?",
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkAnalyzing(ctx, a.ID))
	require.NoError(t, st.CompleteAnalysis(ctx, a.ID, store.AnalysisResult{
		Correctness:     0.4,
		ToolAccuracy:    0.4,
		ResponseQuality: 0.4,
		QualityScore:    0.4,
		Reasoning:       "missed the flag",
		Issues:          []store.DetectedIssue{{Type: "wrong_answer", Severity: store.SeverityHigh, Description: "wrong flag"}},
	}))

	out := mustRun(t, "analyses", "list", "--agent", "coder", "--json")
	var items []store.ChatAnalysis
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	out = mustRun(t, "analyses", "list", "--min-score", "0.5", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Empty(t, items)

	out = mustRun(t, "analyses", "list")
	assert.Contains(t, out, a.ID)
	assert.Contains(t, out, "missed the flag")

	out = mustRun(t, "analyses", "show", a.ID)
	assert.Contains(t, out, "Score:        0.40")
	assert.Contains(t, out, "wrong_answer: wrong flag")

	out = mustRun(t, "stats", "--days", "1", "--json")
	var stats store.QualityStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.TotalAnalyzed)
	assert.InDelta(t, 0.4, stats.AvgQualityScore, 1e-9)

	out = mustRun(t, "issues", "list")
	assert.Equal(t, "No issues found.", out)

	out = mustRun(t, "review", "add", "coder", "conv-1", "reject", "--reviewer", "sam", "--json")
	var rev store.Review
	require.NoError(t, json.Unmarshal([]byte(out), &rev))
	assert.Equal(t, store.VerdictReject, rev.Verdict)
	assert.Equal(t, store.VariantBaseline, rev.Variant)
	assert.NotEmpty(t, rev.SoulVersionID)

	_, err = runRootCommand(t, "review", "add", "coder", "conv-1", "meh")
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestConfigCommands(t *testing.T) {
	home := isolate(t)
	t.Setenv("JOI_JUDGE_API_KEY", "sk-live")

	out := mustRun(t, "config", "show")
	var shown map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "****", shown["judge"]["apiKey"])
	assert.Equal(t, filepath.Join(home, ".joi", "governance.db"), shown["store"]["path"])

	out = mustRun(t, "config", "init", "--format", "yaml")
	path := filepath.Join(home, ".joi", "config.yaml")
	assert.Contains(t, out, "Wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "evaluateCron:")
	assert.NotContains(t, string(data), "sk-live")

	_, err = runRootCommand(t, "config", "init", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	mustRun(t, "config", "init", "--format", "yaml", "--force")

	out = mustRun(t, "config", "show", "--yaml")
	assert.Contains(t, out, "minSamples: 20")

	_, err = runRootCommand(t, "config", "init", "--format", "toml")
	assert.Error(t, err)
}

func TestJobsCommand(t *testing.T) {
	home := isolate(t)
	st := openTestStore(t, home)
	runAt := time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertScheduledJob(context.Background(), "rollout-evaluate", "ok", runAt))
	require.NoError(t, st.UpsertScheduledJob(context.Background(), "legacy-job", "error", runAt))

	out := mustRun(t, "jobs", "--json")
	var rows []jobRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "rollout-evaluate", rows[0].Name)
	assert.Equal(t, "0 6 * * 1", rows[0].Schedule)
	assert.Equal(t, 1, rows[0].RunCount)
	require.NotNil(t, rows[0].NextRunAt)
	assert.Equal(t, time.Monday, rows[0].NextRunAt.Weekday())
	assert.Equal(t, "legacy-job", rows[1].Name)
	assert.Equal(t, "error", rows[1].LastStatus)

	out = mustRun(t, "jobs")
	assert.Contains(t, out, "rollout-evaluate")
	assert.Contains(t, out, "0 6 * * 1")
}
