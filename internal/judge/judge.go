// Package judge grades a finished assistant turn by asking an LLM for a
// fixed-shape JSON verdict and parsing it strictly.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itellico/joi-sub010/internal/provider"
	"github.com/itellico/joi-sub010/internal/store"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 1200
	defaultTimeout     = 60 * time.Second
	defaultContentCap  = 3000
	defaultToolCap     = 600
	defaultMaxTools    = 10
)

// Options tunes the judge call.
type Options struct {
	Model string
	// Temperature is sent as is when set, including zero.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	// ContentCap bounds the assistant response included in the prompt.
	ContentCap int
	// ToolCap bounds each rendered tool call or result.
	ToolCap int
	// MaxTools bounds how many tool calls and results are rendered.
	MaxTools int
}

// Input is one turn to grade.
type Input struct {
	AgentID          string
	AgentName        string
	UserMessage      string
	AssistantContent string
	ToolCalls        json.RawMessage
	ToolResults      json.RawMessage
}

// Verdict is the parsed judge output.
type Verdict struct {
	Correctness     float64               `json:"correctness"`
	ToolAccuracy    float64               `json:"tool_accuracy"`
	ResponseQuality float64               `json:"response_quality"`
	Reasoning       string                `json:"reasoning"`
	Issues          []store.DetectedIssue `json:"issues"`
	SkillsUsed      []string              `json:"skills_used"`
	SkillsExpected  []string              `json:"skills_expected"`
}

// QualityScore is the unweighted mean of the three scores.
func (v *Verdict) QualityScore() float64 {
	return (v.Correctness + v.ToolAccuracy + v.ResponseQuality) / 3
}

// Result carries the verdict together with the raw text it was parsed from.
type Result struct {
	Verdict   *Verdict
	RawOutput string
	Model     string
	Latency   time.Duration
}

// Client grades turns through an LLMProvider.
type Client struct {
	provider provider.LLMProvider
	opts     Options
}

// New creates a judge client. Zero options fall back to defaults.
func New(prov provider.LLMProvider, opts Options) *Client {
	if opts.Temperature == nil {
		t := defaultTemperature
		opts.Temperature = &t
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ContentCap <= 0 {
		opts.ContentCap = defaultContentCap
	}
	if opts.ToolCap <= 0 {
		opts.ToolCap = defaultToolCap
	}
	if opts.MaxTools <= 0 {
		opts.MaxTools = defaultMaxTools
	}
	return &Client{provider: prov, opts: opts}
}

// Evaluate grades one turn. Transport failures and timeouts return an
// *InvocationError; output that does not match the verdict contract returns
// a *MalformedOutputError carrying the raw text.
func (c *Client) Evaluate(ctx context.Context, in Input) (*Result, error) {
	if c == nil || c.provider == nil {
		return nil, &InvocationError{Err: errors.New("judge provider not configured")}
	}
	model := c.opts.Model
	if model == "" {
		model = c.provider.DefaultModel()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Chat(callCtx, &provider.ChatRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(in, c.opts)},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: *c.opts.Temperature,
		JSONMode:    true,
	})
	latency := time.Since(start)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &InvocationError{Err: fmt.Errorf("judge call timed out after %s: %w", c.opts.Timeout, err), Timeout: true}
		}
		return nil, &InvocationError{Err: err}
	}

	verdict, err := Parse(resp.Content)
	if err != nil {
		return nil, err
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &Result{Verdict: verdict, RawOutput: resp.Content, Model: model, Latency: latency}, nil
}
