package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/journal"
)

// maxJournalLimit caps the number of entries returned by GET /journal.
const maxJournalLimit = 1000

// handleJournal lists recorded dispatch failures, newest first.
//
// Query parameters: limit, route, kind and since (RFC 3339).
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is disabled")
		return
	}

	query := r.URL.Query()
	f := journal.Filter{
		RouteID: query.Get("route"),
		Kind:    query.Get("kind"),
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = min(limit, maxJournalLimit)
	}
	if v := query.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = since
	}

	entries, err := s.journal.List(r.Context(), f)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"stats":   s.journal.Stats(),
	})
}
