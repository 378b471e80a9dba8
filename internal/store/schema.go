package store

import (
	"encoding/json"
	"time"
)

// Analysis statuses.
const (
	AnalysisPending   = "pending"
	AnalysisAnalyzing = "analyzing"
	AnalysisCompleted = "completed"
	AnalysisError     = "error"
)

// Rollout statuses.
const (
	RolloutCanaryActive = "canary_active"
	RolloutPromoted     = "promoted"
	RolloutRolledBack   = "rolled_back"
	RolloutCancelled    = "cancelled"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueTriaged  = "triaged"
	IssueResolved = "resolved"
	IssueWontFix  = "wont_fix"
)

// Issue sources.
const (
	SourceLiveObserver = "live-observer"
	SourceHuman        = "human"
)

// Review verdicts.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
)

// Soul variants recorded on conversations and analyses.
const (
	VariantBaseline  = "baseline"
	VariantCandidate = "candidate"
)

// TagLiveObserver marks issues filed by the quality observer.
const TagLiveObserver = "live-observer"

// AgentTag and SoulTag build the attribution tags used for rollout windows.
func AgentTag(agentID string) string { return "agent:" + agentID }
func SoulTag(versionID string) string { return "soul:" + versionID }

// ValidSeverity reports whether s is one of the four severity tiers.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ValidIssueStatus reports whether s is a known issue status.
func ValidIssueStatus(s string) bool {
	switch s {
	case IssueOpen, IssueTriaged, IssueResolved, IssueWontFix:
		return true
	}
	return false
}

// ObserverConfig is the runtime configuration of the live quality observer.
// It is a singleton persisted in the settings table.
type ObserverConfig struct {
	Enabled              bool    `json:"enabled"`
	QualityThreshold     float64 `json:"qualityThreshold"`
	SkipDryRun           bool    `json:"skipDryRun"`
	MinUserMessageLength int     `json:"minUserMessageLength"`
}

func (c ObserverConfig) Validate() error {
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return Invalidf("qualityThreshold must be within [0,1], got %v", c.QualityThreshold)
	}
	if c.MinUserMessageLength < 0 {
		return Invalidf("minUserMessageLength must be >= 0, got %d", c.MinUserMessageLength)
	}
	return nil
}

// DetectedIssue is one structured finding returned by the judge.
type DetectedIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ChatAnalysis is one scored assistant turn.
type ChatAnalysis struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversationId"`
	MessageID         string          `json:"messageId"`
	AgentID           string          `json:"agentId,omitempty"`
	AgentName         string          `json:"agentName,omitempty"`
	UserMessage       string          `json:"userMessage"`
	AssistantContent  string          `json:"assistantContent"`
	ToolCalls         json.RawMessage `json:"toolCalls"`
	ToolResults       json.RawMessage `json:"toolResults"`
	Model             string          `json:"model,omitempty"`
	Provider          string          `json:"provider,omitempty"`
	LatencyMs         *int64          `json:"latencyMs,omitempty"`
	CostUSD           *float64        `json:"costUsd,omitempty"`
	ExecutionMode     string          `json:"executionMode,omitempty"`
	SoulVersionID     string          `json:"soulVersionId,omitempty"`
	Variant           string          `json:"variant,omitempty"`
	Correctness       *float64        `json:"correctness"`
	ToolAccuracy      *float64        `json:"toolAccuracy"`
	ResponseQuality   *float64        `json:"responseQuality"`
	QualityScore      *float64        `json:"qualityScore"`
	Reasoning         string          `json:"reasoning"`
	IssuesDetected    []DetectedIssue `json:"issuesDetected"`
	SkillsUsed        []string        `json:"skillsUsed"`
	SkillsExpected    []string        `json:"skillsExpected"`
	Status            string          `json:"status"`
	AnalysisLatencyMs *int64          `json:"analysisLatencyMs,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	JudgeRawOutput    string          `json:"judgeRawOutput,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

// AnalysisResult carries a parsed judge verdict into CompleteAnalysis.
type AnalysisResult struct {
	Correctness     float64
	ToolAccuracy    float64
	ResponseQuality float64
	QualityScore    float64
	Reasoning       string
	Issues          []DetectedIssue
	SkillsUsed      []string
	SkillsExpected  []string
	RawOutput       string
	LatencyMs       int64
}

// EvidenceScores is the score snapshot embedded in issue evidence.
type EvidenceScores struct {
	Correctness     float64 `json:"correctness"`
	ToolAccuracy    float64 `json:"toolAccuracy"`
	ResponseQuality float64 `json:"responseQuality"`
	QualityScore    float64 `json:"qualityScore"`
}

// Evidence points an issue back at the analysis that produced it.
type Evidence struct {
	AnalysisID string          `json:"analysisId"`
	Scores     EvidenceScores  `json:"scores"`
	Issues     []DetectedIssue `json:"issues"`
}

// Issue is an auto-detected or human-filed quality problem.
type Issue struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	AgentID     string     `json:"agentId,omitempty"`
	Tags        []string   `json:"tags"`
	Evidence    []Evidence `json:"evidence"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SoulVersion is one immutable revision of an agent's behavior document.
type SoulVersion struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agentId"`
	Version     int        `json:"version"`
	Content     string     `json:"content"`
	Author      string     `json:"author,omitempty"`
	Note        string     `json:"note,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

// SoulRollout is a canary of a candidate soul version against the baseline.
type SoulRollout struct {
	ID                 string          `json:"id"`
	AgentID            string          `json:"agentId"`
	BaselineVersionID  string          `json:"baselineVersionId"`
	CandidateVersionID string          `json:"candidateVersionId"`
	TrafficPercent     int             `json:"trafficPercent"`
	Status             string          `json:"status"`
	Reason             string          `json:"reason,omitempty"`
	Evaluation         json.RawMessage `json:"evaluation,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	DecidedAt          *time.Time      `json:"decidedAt,omitempty"`
}

// Terminal reports whether the rollout has reached a final state.
func (r *SoulRollout) Terminal() bool {
	return r.Status != RolloutCanaryActive
}

// Message is one conversation message mirrored from the chat transport.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"toolCalls,omitempty"`
	ToolResults    json.RawMessage `json:"toolResults,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Review is a human approve/reject verdict on one turn.
type Review struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	AgentID        string    `json:"agentId,omitempty"`
	SoulVersionID  string    `json:"soulVersionId,omitempty"`
	Variant        string    `json:"variant,omitempty"`
	Verdict        string    `json:"verdict"`
	Reviewer       string    `json:"reviewer,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ScheduledJobRecord tracks the last run of a scheduler job.
type ScheduledJobRecord struct {
	JobName    string     `json:"jobName"`
	LastStatus string     `json:"lastStatus"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	RunCount   int        `json:"runCount"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
