package judge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPrompt = `You are a strict quality judge for an AI assistant. You grade one finished assistant turn.

Score each dimension from 0.0 (worst) to 1.0 (best):
- correctness: is the answer factually and logically right for what the user asked?
- tool_accuracy: were the right tools used with the right arguments, and were their results used faithfully? Use 1.0 when no tool was needed and none was used.
- response_quality: is the reply complete, clear, well formatted and appropriately concise?

List concrete problems in "issues". Each issue has:
- type: one of tool_failure, missing_tool, hallucination, format_error, incomplete_response, wrong_answer, safety_concern
- severity: one of critical, high, medium, low
- description: one short sentence

Also list the skills the assistant used and the skills the request called for.

Respond with a single JSON object and nothing else. No markdown, no code fences:
{"correctness": 0.0, "tool_accuracy": 0.0, "response_quality": 0.0, "reasoning": "...", "issues": [{"type": "...", "severity": "...", "description": "..."}], "skills_used": [], "skills_expected": []}`

// BuildPrompt renders the user half of the judge prompt.
func BuildPrompt(in Input, opts Options) string {
	var sb strings.Builder
	agent := in.AgentID
	if in.AgentName != "" && in.AgentName != in.AgentID {
		agent = fmt.Sprintf("%s (%s)", in.AgentName, in.AgentID)
	}
	if agent == "" {
		agent = "unknown"
	}
	fmt.Fprintf(&sb, "Agent: %s\n\n", agent)
	sb.WriteString("## User message\n")
	sb.WriteString(truncate(in.UserMessage, opts.ContentCap))
	sb.WriteString("\n\n## Assistant response\n")
	sb.WriteString(truncate(in.AssistantContent, opts.ContentCap))
	sb.WriteString("\n\n## Tool calls\n")
	sb.WriteString(summarizeTools(in.ToolCalls, opts.ToolCap, opts.MaxTools))
	sb.WriteString("\n\n## Tool results\n")
	sb.WriteString(summarizeTools(in.ToolResults, opts.ToolCap, opts.MaxTools))
	sb.WriteString("\n")
	return sb.String()
}

// summarizeTools renders a JSON tool payload one item per line, each item
// capped at itemCap characters.
func summarizeTools(raw json.RawMessage, itemCap, maxItems int) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "[]" {
		return "(none)"
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return truncate(compact(trimmed), itemCap)
	}
	var sb strings.Builder
	for i, item := range items {
		if i == maxItems {
			fmt.Fprintf(&sb, "... %d more\n", len(items)-maxItems)
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, truncate(compact(item), itemCap))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truncate caps s at limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + " …[truncated]"
}
