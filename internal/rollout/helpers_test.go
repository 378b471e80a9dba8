package rollout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "rollout.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedSoul(t *testing.T, st *store.Store, agentID string) *store.SoulVersion {
	t.Helper()
	v, err := st.CreateSoulVersion(context.Background(), agentID, "# baseline soul", "ops", "seed", true)
	require.NoError(t, err)
	return v
}

// recordVariant stores completed analyses for one soul version: total rows,
// of which failing score 0.2 and the rest 0.9.
func recordVariant(t *testing.T, st *store.Store, agentID, versionID string, total, failing int) {
	t.Helper()
	recordScores(t, st, agentID, versionID, failing, 0.2)
	recordScores(t, st, agentID, versionID, total-failing, 0.9)
}

// recordScores stores n completed analyses for one soul version, all at score.
func recordScores(t *testing.T, st *store.Store, agentID, versionID string, n int, score float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		a, err := st.InsertAnalysis(ctx, &store.ChatAnalysis{
			ConversationID: fmt.Sprintf("conv-%s-%.2f-%d", versionID, score, i),
			MessageID:      fmt.Sprintf("msg-%s-%.2f-%d", versionID, score, i),
			AgentID:        agentID,
			SoulVersionID:  versionID,
		})
		require.NoError(t, err)
		require.NoError(t, st.MarkAnalyzing(ctx, a.ID))
		require.NoError(t, st.CompleteAnalysis(ctx, a.ID, store.AnalysisResult{
			Correctness:     score,
			ToolAccuracy:    score,
			ResponseQuality: score,
			QualityScore:    score,
		}))
	}
}

type observerSettings store.ObserverConfig

func (o observerSettings) ObserverConfig(context.Context) (store.ObserverConfig, error) {
	return store.ObserverConfig(o), nil
}

type recordingSyncer struct {
	mu     sync.Mutex
	synced []string
}

func (r *recordingSyncer) Sync(_ context.Context, v *store.SoulVersion, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, v.ID+"@"+source)
	return nil
}

func (r *recordingSyncer) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.synced...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (r *recordingPublisher) Publish(ev *bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) ofType(typ string) []*bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bus.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
