package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/journal"
)

// validLevels are the level names the journal stores.
var validLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warning": true,
	"error":   true,
}

// handleListEvents returns journaled connector events, most recent first.
//
// Query parameters:
//   - level: debug, info, warning or error
//   - message: exact event message, e.g. "connection state changed"
//   - client_id: filter by client
//   - since: RFC 3339 timestamp; entries at or after it
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "event journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Level:    q.Get("level"),
		Message:  q.Get("message"),
		ClientID: q.Get("client_id"),
	}
	if filter.Level != "" && !validLevels[filter.Level] {
		writeBadRequest(w, "level must be one of debug, info, warning, error")
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
