package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"seminar-hub/feed"
)

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/calendar/")
	key, ok := strings.CutSuffix(name, ".ics")
	if !ok || key == "" || strings.Contains(key, "/") {
		http.NotFound(w, r)
		return
	}

	body, err := s.feeds.Render(r.Context(), key)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownSeries) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("Calendar render failed", "series", key, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", key+".ics"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("Failed to write calendar response", "series", key, "error", err)
	}
}
