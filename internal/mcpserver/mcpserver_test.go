package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/keylock"
	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "mcp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestEngine(st *store.Store) *rollout.Engine {
	return rollout.NewEngine(st, keylock.New(), rollout.StaticPolicy(rollout.DefaultPolicy()), bus.NewEventBus(16), nil)
}

func addAnalysis(t *testing.T, st *store.Store, agentID, conv string, score float64) *store.ChatAnalysis {
	t.Helper()
	ctx := context.Background()
	a, err := st.InsertAnalysis(ctx, &store.ChatAnalysis{
		ConversationID: conv,
		MessageID:      conv + "-msg",
		AgentID:        agentID,
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkAnalyzing(ctx, a.ID))
	require.NoError(t, st.CompleteAnalysis(ctx, a.ID, store.AnalysisResult{
		Correctness:     score,
		ToolAccuracy:    score,
		ResponseQuality: score,
		QualityScore:    score,
		Reasoning:       "scored " + conv,
	}))
	return a
}

func TestDefinitions(t *testing.T) {
	st := newTestStore(t)
	engine := newTestEngine(st)

	tests := []struct {
		name  string
		def   mcp.Tool
		props []string
	}{
		{"quality_stats", NewQualityStatsTool(st).Definition(), []string{"days"}},
		{"list_analyses", NewListAnalysesTool(st).Definition(), []string{"agent", "status", "min_score", "max_score", "limit"}},
		{"governance_summary", NewGovernanceSummaryTool(engine).Definition(), []string{"days"}},
		{"evaluate_rollouts", NewEvaluateRolloutsTool(engine).Definition(), []string{"rollout_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.def.Name)
			assert.NotEmpty(t, tt.def.Description)
			for _, p := range tt.props {
				assert.Contains(t, tt.def.InputSchema.Properties, p)
			}
			assert.Empty(t, tt.def.InputSchema.Required)
		})
	}
}

func TestQualityStatsTool(t *testing.T) {
	st := newTestStore(t)
	addAnalysis(t, st, "coder", "c1", 0.9)
	addAnalysis(t, st, "coder", "c2", 0.3)

	tool := NewQualityStatsTool(st)
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"days": float64(3)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "last 3 day(s)")
	assert.Contains(t, text, "**Analyzed**: 2")
	assert.Contains(t, text, "**Average score**: 0.60")
	assert.Contains(t, text, "coder: 2 turns, avg 0.60")
	assert.Contains(t, text, "1 low quality")
}

func TestQualityStatsToolRejectsBadWindow(t *testing.T) {
	tool := NewQualityStatsTool(newTestStore(t))
	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"days": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListAnalysesTool(t *testing.T) {
	st := newTestStore(t)
	addAnalysis(t, st, "coder", "c1", 0.9)
	addAnalysis(t, st, "coder", "c2", 0.3)
	addAnalysis(t, st, "writer", "w1", 0.4)

	tool := NewListAnalysesTool(st)
	ctx := context.Background()

	result, err := tool.Handle(ctx, makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Found 3 analyses")

	result, err = tool.Handle(ctx, makeReq(map[string]interface{}{
		"agent":     "coder",
		"max_score": 0.5,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 analyses")
	assert.Contains(t, text, "score=0.30")
	assert.Contains(t, text, "scored c2")

	result, err = tool.Handle(ctx, makeReq(map[string]interface{}{"status": "error"}))
	require.NoError(t, err)
	assert.Equal(t, "No analyses match.", resultText(t, result))
}

func TestGovernanceSummaryAndEvaluateTools(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.CreateSoulVersion(ctx, "coder", "# baseline soul", "ops", "seed", true)
	require.NoError(t, err)

	engine := newTestEngine(st)
	ro, err := engine.StartCanary(ctx, rollout.StartRequest{
		AgentID:        "coder",
		Content:        "# candidate soul",
		TrafficPercent: 25,
	})
	require.NoError(t, err)

	summary := NewGovernanceSummaryTool(engine)
	result, err := summary.Handle(ctx, makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "**Active canaries**: 1")
	assert.Contains(t, text, "coder: active v1 of 2 version(s), canary "+ro.ID+" at 25%")

	evaluate := NewEvaluateRolloutsTool(engine)
	result, err = evaluate.Handle(ctx, makeReq(map[string]interface{}{"rollout_id": ro.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), ro.ID+" (coder): pending")

	result, err = evaluate.Handle(ctx, makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Evaluated 1 canaries: 0 promoted, 0 rolled back, 1 pending.")

	result, err = evaluate.Handle(ctx, makeReq(map[string]interface{}{"rollout_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEvaluateRolloutsToolWithoutCanaries(t *testing.T) {
	engine := newTestEngine(newTestStore(t))
	result, err := NewEvaluateRolloutsTool(engine).Handle(context.Background(), makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Equal(t, "No active canaries.", resultText(t, result))
}

func TestNewRegistersTools(t *testing.T) {
	st := newTestStore(t)
	s := New(st, newTestEngine(st), "test")

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"quality_stats", "list_analyses", "governance_summary", "evaluate_rollouts"} {
		assert.Contains(t, string(data), `"name":"`+name+`"`)
	}
}
