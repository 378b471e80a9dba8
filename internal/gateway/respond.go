package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/itellico/joi-sub010/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Gateway response encode failed", "error", err)
	}
}

// writeError maps store sentinels onto status codes: not found is 404, a
// state conflict is 409, rejected input is 400, anything else is 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("Gateway request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched
// when optional is true.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		badRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

type query struct {
	r   *http.Request
	err error
}

func (q *query) str(key string) string {
	return q.r.URL.Query().Get(key)
}

func (q *query) intParam(key string, def int) int {
	raw := q.str(key)
	if raw == "" || q.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		q.err = fmt.Errorf("%s must be a non-negative integer", key)
		return def
	}
	return v
}

func (q *query) floatParam(key string) *float64 {
	raw := q.str(key)
	if raw == "" || q.err != nil {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		q.err = fmt.Errorf("%s must be a number", key)
		return nil
	}
	return &v
}

// timeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates (UTC midnight).
func (q *query) timeParam(key string) time.Time {
	raw := q.str(key)
	if raw == "" || q.err != nil {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t
	}
	q.err = fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", key)
	return time.Time{}
}
