package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itellico/joi-sub010/internal/observer"
	"github.com/itellico/joi-sub010/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func listLimit(q *query) int {
	limit := q.intParam("limit", defaultListLimit)
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// handleTurn accepts a turn-completion notification. Scoring happens in the
// background; the response only reports whether the turn was queued.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "observer not running"})
		return
	}
	var turn observer.Turn
	if !decodeBody(w, r, &turn, false) {
		return
	}
	sub, err := s.deps.Observer.SubmitCompletedTurn(r.Context(), turn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

type messageRequest struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	ToolCalls   json.RawMessage `json:"toolCalls,omitempty"`
	ToolResults json.RawMessage `json:"toolResults,omitempty"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	msg, err := s.deps.Store.AppendMessage(r.Context(), req.AgentID, &store.Message{
		ID:             req.ID,
		ConversationID: chi.URLParam(r, "id"),
		Role:           req.Role,
		Content:        req.Content,
		ToolCalls:      req.ToolCalls,
		ToolResults:    req.ToolResults,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetObserverConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.ObserverConfig.ObserverConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutObserverConfig applies the fields present in the body on top of
// the current configuration.
func (s *Server) handlePutObserverConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.ObserverConfig.ObserverConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !decodeBody(w, r, &cfg, false) {
		return
	}
	if err := s.deps.ObserverConfig.Update(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Observer config updated",
		"enabled", cfg.Enabled,
		"threshold", cfg.QualityThreshold,
		"skipDryRun", cfg.SkipDryRun,
		"minUserMessageLength", cfg.MinUserMessageLength)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := store.AnalysisFilter{
		AgentID:  q.str("agent"),
		Status:   q.str("status"),
		MinScore: q.floatParam("min_score"),
		MaxScore: q.floatParam("max_score"),
		Since:    q.timeParam("since"),
		Until:    q.timeParam("until"),
		Limit:    listLimit(q),
		Offset:   q.intParam("offset", 0),
	}
	if q.err != nil {
		badRequest(w, "%v", q.err)
		return
	}
	items, err := s.deps.Store.ListAnalyses(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": items, "limit": f.Limit, "offset": f.Offset})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	days := q.intParam("days", 7)
	if q.err != nil {
		badRequest(w, "%v", q.err)
		return
	}
	stats, err := s.deps.Store.QualityStats(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := store.IssueFilter{
		Status:   q.str("status"),
		Severity: q.str("severity"),
		Tag:      q.str("tag"),
		AgentID:  q.str("agent"),
		Since:    q.timeParam("since"),
		Limit:    listLimit(q),
		Offset:   q.intParam("offset", 0),
	}
	if q.err != nil {
		badRequest(w, "%v", q.err)
		return
	}
	items, err := s.deps.Store.ListIssues(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": items})
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.deps.Store.GetIssue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type issueRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       string   `json:"severity"`
	Category       string   `json:"category"`
	AgentID        string   `json:"agentId"`
	ConversationID string   `json:"conversationId"`
	SoulVersionID  string   `json:"soulVersionId"`
	Tags           []string `json:"tags"`
}

// handleCreateIssue files a human-reported issue. With an agent and a
// conversation the issue is attributed to the soul version that served it,
// so it counts against that variant in rollout evaluation.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Severity == "" {
		req.Severity = store.SeverityMedium
	}
	if req.SoulVersionID == "" && req.AgentID != "" && req.ConversationID != "" && s.deps.Router != nil {
		versionID, _, err := s.deps.Router.Attribution(r.Context(), req.AgentID, req.ConversationID)
		if err != nil {
			writeError(w, err)
			return
		}
		req.SoulVersionID = versionID
	}
	tags := req.Tags
	if req.AgentID != "" {
		tags = append(tags, store.AgentTag(req.AgentID))
	}
	if req.SoulVersionID != "" {
		tags = append(tags, store.SoulTag(req.SoulVersionID))
	}
	issue, err := s.deps.Store.CreateIssue(r.Context(), &store.Issue{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Category:    req.Category,
		Source:      store.SourceHuman,
		AgentID:     req.AgentID,
		Tags:        tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	issue, err := s.deps.Store.UpdateIssueStatus(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// handleReview records a human verdict. Soul attribution is filled from the
// conversation's assignment when the caller does not supply it.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var rev store.Review
	if !decodeBody(w, r, &rev, false) {
		return
	}
	rev.ID = ""
	if rev.SoulVersionID == "" && rev.AgentID != "" && rev.ConversationID != "" && s.deps.Router != nil {
		versionID, variant, err := s.deps.Router.Attribution(r.Context(), rev.AgentID, rev.ConversationID)
		if err != nil {
			writeError(w, err)
			return
		}
		rev.SoulVersionID, rev.Variant = versionID, variant
	}
	out, err := s.deps.Store.RecordReview(r.Context(), &rev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}
