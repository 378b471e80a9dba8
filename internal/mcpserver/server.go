package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

const serverName = "joi-governance"

const instructions = `Governance tools for JOI agents.

Use quality_stats and list_analyses to inspect how agents are scoring, governance_summary
for the active soul version per agent and canaries in flight, and evaluate_rollouts to
decide canaries. evaluate_rollouts changes state: a promote or rollback is applied
immediately.`

// New registers every governance tool on a fresh MCP server.
func New(st *store.Store, engine *rollout.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	stats := NewQualityStatsTool(st)
	s.AddTool(stats.Definition(), stats.Handle)

	analyses := NewListAnalysesTool(st)
	s.AddTool(analyses.Definition(), analyses.Handle)

	summary := NewGovernanceSummaryTool(engine)
	s.AddTool(summary.Definition(), summary.Handle)

	evaluate := NewEvaluateRolloutsTool(engine)
	s.AddTool(evaluate.Definition(), evaluate.Handle)

	return s
}

// ServeStdio serves s over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
