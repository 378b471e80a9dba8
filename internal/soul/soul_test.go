package soul

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/keylock"
	"github.com/itellico/joi-sub010/internal/store"
)

type capture struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (c *capture) Publish(ev *bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) count(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newService(t *testing.T) (*Service, *store.Store, *ArtifactWriter, *capture) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "soul.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	w := &ArtifactWriter{Workspace: t.TempDir()}
	events := &capture{}
	return NewService(st, keylock.New(), w, events), st, w, events
}

func TestDefaultTemplate(t *testing.T) {
	content, err := DefaultTemplate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, "# Soul"))
}

func TestInitSeedsOnce(t *testing.T) {
	svc, _, w, events := newService(t)
	ctx := context.Background()

	v, created, err := svc.Init(ctx, "personal", "", "ops")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, v.Version)
	assert.True(t, v.Active)

	h, body, err := w.Read("personal")
	require.NoError(t, err)
	assert.Equal(t, "personal", h.Agent)
	assert.Equal(t, 1, h.Version)
	assert.Equal(t, SourceSeed, h.Source)
	tmpl, _ := DefaultTemplate()
	assert.Equal(t, tmpl, body)
	assert.Equal(t, 1, events.count(bus.EventSoulActivated))

	again, created, err := svc.Init(ctx, "personal", "# other", "ops")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, v.ID, again.ID)
}

func TestInitRejectsUnsafeAgentID(t *testing.T) {
	svc, _, _, _ := newService(t)
	for _, id := range []string{"", "../etc", "a/b", ".hidden"} {
		_, _, err := svc.Init(context.Background(), id, "", "")
		assert.Error(t, err, id)
	}
}

func TestUpdateCancelsCanaryAndSyncs(t *testing.T) {
	svc, st, w, events := newService(t)
	ctx := context.Background()
	_, _, err := svc.Init(ctx, "personal", "# v1\n", "ops")
	require.NoError(t, err)
	ro, err := st.StartRollout(ctx, "personal", "# canary\n", "ops", "", 30)
	require.NoError(t, err)

	change, err := svc.Update(ctx, "personal", "# v3\n", "ops", "hotfix")
	require.NoError(t, err)
	assert.Equal(t, 3, change.Version.Version)
	assert.Equal(t, []string{ro.ID}, change.Cancelled)

	cancelled, err := st.GetRollout(ctx, ro.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RolloutCancelled, cancelled.Status)

	h, body, err := w.Read("personal")
	require.NoError(t, err)
	assert.Equal(t, 3, h.Version)
	assert.Equal(t, SourceDirectUpdate, h.Source)
	assert.Equal(t, "# v3\n", body)
	assert.Equal(t, 1, events.count(bus.EventRolloutDecided))

	active, err := svc.Show(ctx, "personal")
	require.NoError(t, err)
	assert.Equal(t, change.Version.ID, active.ID)
}

func TestRollbackToPrevious(t *testing.T) {
	svc, _, w, _ := newService(t)
	ctx := context.Background()
	v1, _, err := svc.Init(ctx, "personal", "# v1\n", "ops")
	require.NoError(t, err)
	_, err = svc.Update(ctx, "personal", "# v2\n", "ops", "")
	require.NoError(t, err)

	change, err := svc.Rollback(ctx, "personal", "")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, change.Version.ID)
	assert.Empty(t, change.Cancelled)

	_, body, err := w.Read("personal")
	require.NoError(t, err)
	assert.Equal(t, "# v1\n", body)

	versions, err := svc.Versions(ctx, "personal")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.False(t, versions[0].Active)

	_, err = svc.Rollback(ctx, "personal", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentUpdatesKeepOneActive(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()
	_, _, err := svc.Init(ctx, "personal", "# v1\n", "ops")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(ctx, "personal", "# concurrent\n", "ops", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := st.CountActiveSoulVersions(ctx, "personal")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResync(t *testing.T) {
	svc, st, w, _ := newService(t)
	ctx := context.Background()
	_, err := st.CreateSoulVersion(ctx, "coder", "# coder\n", "ops", "", true)
	require.NoError(t, err)

	n, err := svc.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h, _, err := w.Read("coder")
	require.NoError(t, err)
	assert.Equal(t, SourceResync, h.Source)
}

func TestRenderParseRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	data, err := Render(Header{Agent: "personal", Version: 4, VersionID: "v-4", ActivatedAt: at, Source: "rollout:promoted"}, "# Soul\n\nBe kind.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "---\nagent: personal\n"))

	h, body, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Version)
	assert.True(t, at.Equal(h.ActivatedAt))
	assert.Equal(t, "# Soul\n\nBe kind.\n", body)

	_, _, err = Parse([]byte("# no header"))
	assert.Error(t, err)
}

func TestSyncLeavesNoTempFiles(t *testing.T) {
	w := &ArtifactWriter{Workspace: t.TempDir()}
	v := &store.SoulVersion{ID: "v1", AgentID: "personal", Version: 1, Content: "# one\n"}
	require.NoError(t, w.Sync(context.Background(), v, SourceSeed))
	v.Content = "# two\n"
	v.Version = 2
	require.NoError(t, w.Sync(context.Background(), v, SourceDirectUpdate))

	entries, err := os.ReadDir(filepath.Join(w.Workspace, "agents", "personal"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ArtifactName, entries[0].Name())

	_, body, err := w.Read("personal")
	require.NoError(t, err)
	assert.Equal(t, "# two\n", body)
}

func TestPathRequiresWorkspace(t *testing.T) {
	w := &ArtifactWriter{}
	_, err := w.Path("personal")
	assert.Error(t, err)
}
