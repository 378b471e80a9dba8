// Package mcpserver exposes governance read models and the rollout
// evaluator as MCP tools.
//
// Each tool is a struct holding its dependencies with a Definition that
// returns the mcp.Tool schema and a Handle that serves the call. Store
// failures are reported as tool errors, not protocol errors.
package mcpserver

import (
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument, returning defaultVal when the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatArg extracts an optional number argument.
func floatArg(req mcp.CallToolRequest, key string) *float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func score(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
