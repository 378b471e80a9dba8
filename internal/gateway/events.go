package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/itellico/joi-sub010/internal/bus"
)

const (
	sseClientBuffer = 64
	sseHeartbeat    = 15 * time.Second
)

// handleEvents streams governance events as server-sent events. ?type=
// restricts the stream to one event type. A client that falls behind
// loses events rather than slowing the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream disabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		eventType = bus.AllEvents
	}

	ch := make(chan *bus.Event, sseClientBuffer)
	unsubscribe := s.deps.Events.Subscribe(eventType, func(ev *bus.Event) {
		select {
		case ch <- ev:
		default:
			slog.Debug("SSE client lagging, event dropped", "type", ev.Type)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("SSE encode failed", "type", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
