package judge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/itellico/joi-sub010/internal/store"
)

// IssueTypes is the closed set of issue types the judge may report.
var IssueTypes = []string{
	"tool_failure",
	"missing_tool",
	"hallucination",
	"format_error",
	"incomplete_response",
	"wrong_answer",
	"safety_concern",
}

// ValidIssueType reports whether t belongs to IssueTypes.
func ValidIssueType(t string) bool {
	for _, it := range IssueTypes {
		if it == t {
			return true
		}
	}
	return false
}

type rawVerdict struct {
	Correctness     *float64    `json:"correctness"`
	ToolAccuracy    *float64    `json:"tool_accuracy"`
	ResponseQuality *float64    `json:"response_quality"`
	Reasoning       *string     `json:"reasoning"`
	Issues          *[]rawIssue `json:"issues"`
	SkillsUsed      []string    `json:"skills_used"`
	SkillsExpected  []string    `json:"skills_expected"`
}

type rawIssue struct {
	Type        *string `json:"type"`
	Severity    *string `json:"severity"`
	Description *string `json:"description"`
}

// Parse decodes judge output strictly. The text must be exactly one JSON
// object (surrounding whitespace aside) with the three scores in [0,1] and
// an issues list drawn from the closed type and severity sets. Reasoning and
// skill lists are optional. Anything else is a *MalformedOutputError.
func Parse(raw string) (*Verdict, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedOutputError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, malformed("empty output")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, malformed("output is not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	var rv rawVerdict
	if err := dec.Decode(&rv); err != nil {
		return nil, malformed("decode: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("trailing content after JSON object")
	}

	v := &Verdict{}
	scores := []struct {
		name string
		val  *float64
		dst  *float64
	}{
		{"correctness", rv.Correctness, &v.Correctness},
		{"tool_accuracy", rv.ToolAccuracy, &v.ToolAccuracy},
		{"response_quality", rv.ResponseQuality, &v.ResponseQuality},
	}
	for _, sc := range scores {
		if sc.val == nil {
			return nil, malformed("missing %s", sc.name)
		}
		if *sc.val < 0 || *sc.val > 1 {
			return nil, malformed("%s out of range: %v", sc.name, *sc.val)
		}
		*sc.dst = *sc.val
	}

	if rv.Issues == nil {
		return nil, malformed("missing issues")
	}
	v.Issues = make([]store.DetectedIssue, 0, len(*rv.Issues))
	for i, ri := range *rv.Issues {
		if ri.Type == nil || !ValidIssueType(*ri.Type) {
			return nil, malformed("issue %d: invalid type", i)
		}
		if ri.Severity == nil || !store.ValidSeverity(*ri.Severity) {
			return nil, malformed("issue %d: invalid severity", i)
		}
		desc := ""
		if ri.Description != nil {
			desc = *ri.Description
		}
		v.Issues = append(v.Issues, store.DetectedIssue{Type: *ri.Type, Severity: *ri.Severity, Description: desc})
	}

	if rv.Reasoning != nil {
		v.Reasoning = *rv.Reasoning
	}
	v.SkillsUsed = dedupe(rv.SkillsUsed)
	v.SkillsExpected = dedupe(rv.SkillsExpected)
	return v, nil
}

// dedupe keeps first occurrences, so skill lists behave as sets.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
