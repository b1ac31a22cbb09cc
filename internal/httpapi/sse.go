package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/vision2voice/internal/history"
)

// handleStream pushes "history" events on store changes and a "session" snapshot every interval.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var events <-chan history.Event
	if s.hub != nil {
		ch, cancel := s.hub.Subscribe(32)
		defer cancel()
		events = ch
	}

	send := func(name string, v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send("session", newSessionView(s.session.Snapshot())) {
		return
	}

	interval := s.sessionInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send("history", ev) {
				return
			}
		case <-ticker.C:
			if !send("session", newSessionView(s.session.Snapshot())) {
				return
			}
		}
	}
}
