package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	days := q.intParam("days", 7)
	if q.err != nil {
		badRequest(w, "%v", q.err)
		return
	}
	sum, err := s.deps.Engine.Summary(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := store.RolloutFilter{
		AgentID: q.str("agent"),
		Status:  q.str("status"),
		Limit:   q.intParam("limit", 0),
	}
	if q.err != nil {
		badRequest(w, "%v", q.err)
		return
	}
	items, err := s.deps.Store.ListRollouts(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollouts": items})
}

func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	ro, err := s.deps.Store.GetRollout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

type startRolloutRequest struct {
	AgentID        string `json:"agentId"`
	Content        string `json:"content"`
	Author         string `json:"author"`
	Note           string `json:"note"`
	TrafficPercent *int   `json:"trafficPercent"`
}

func (s *Server) handleStartRollout(w http.ResponseWriter, r *http.Request) {
	var req startRolloutRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	traffic := s.deps.DefaultTrafficPercent
	if req.TrafficPercent != nil {
		traffic = *req.TrafficPercent
	}
	ro, err := s.deps.Engine.StartCanary(r.Context(), rollout.StartRequest{
		AgentID:        strings.TrimSpace(req.AgentID),
		Content:        req.Content,
		Author:         req.Author,
		Note:           req.Note,
		TrafficPercent: traffic,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ro)
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.EvaluateAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvaluateRollout(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Engine.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type decisionFunc func(ctx context.Context, id, reason string) (*store.SoulRollout, error)

// handleDecision adapts a manual promote, rollback or cancel. The body is
// optional and may carry a reason.
func (s *Server) handleDecision(decide decisionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &req, true) {
			return
		}
		ro, err := decide(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ro)
	}
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrafficPercent *int `json:"trafficPercent"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.TrafficPercent == nil {
		badRequest(w, "trafficPercent is required")
		return
	}
	ro, err := s.deps.Engine.SetTraffic(r.Context(), chi.URLParam(r, "id"), *req.TrafficPercent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func (s *Server) handleGetSoul(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Souls.Show(r.Context(), chi.URLParam(r, "agent"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleSoulVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.deps.Souls.Versions(r.Context(), chi.URLParam(r, "agent"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// handleUpdateSoul is the direct edit path: the content becomes active
// immediately and any canary for the agent is cancelled.
func (s *Server) handleUpdateSoul(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
		Author  string `json:"author"`
		Note    string `json:"note"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	change, err := s.deps.Souls.Update(r.Context(), chi.URLParam(r, "agent"), req.Content, req.Author, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleSoulRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID string `json:"versionId"`
	}
	if !decodeBody(w, r, &req, true) {
		return
	}
	change, err := s.deps.Souls.Rollback(r.Context(), chi.URLParam(r, "agent"), req.VersionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// handleAssignment reports which soul version serves a conversation,
// recording the assignment on first use.
func (s *Server) handleAssignment(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation"))
	if conversationID == "" {
		badRequest(w, "conversation is required")
		return
	}
	res, err := s.deps.Router.Resolve(r.Context(), chi.URLParam(r, "agent"), conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
