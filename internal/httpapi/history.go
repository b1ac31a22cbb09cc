package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/history"
)

type historyItem struct {
	ID        int64     `json:"id"`
	Caption   string    `json:"caption"`
	Language  string    `json:"language"`
	ImageType string    `json:"image_type"`
	HasAudio  bool      `json:"has_audio"`
	AudioType string    `json:"audio_type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
	Remaining string    `json:"remaining"`
	ImageURL  string    `json:"image_url"`
	AudioURL  string    `json:"audio_url,omitempty"`
}

func newHistoryItem(rec history.Record, now time.Time) historyItem {
	base := "/api/history/" + strconv.FormatInt(rec.ID, 10)
	item := historyItem{
		ID:        rec.ID,
		Caption:   rec.Caption,
		Language:  rec.Language,
		ImageType: rec.ImageType,
		HasAudio:  rec.HasAudio(),
		AudioType: rec.AudioType,
		Timestamp: rec.Timestamp,
		ExpiresAt: rec.ExpiresAt(),
		Remaining: history.RemainingTime(rec.Timestamp, now),
		ImageURL:  base + "/image",
	}
	if item.HasAudio {
		item.AudioURL = base + "/audio"
	}
	return item
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := s.store.ListAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		now := s.now()
		live := history.Live(records, now)
		ret := make([]historyItem, 0, len(live))
		for _, rec := range live {
			ret = append(ret, newHistoryItem(rec, now))
		}
		writeJSON(w, http.StatusOK, ret)
	case http.MethodDelete:
		if err := s.store.DeleteAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleHistoryItem serves /api/history/{id}, /api/history/{id}/image and /api/history/{id}/audio.
func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/history/"), "/")
	idPart, blob, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return
	}

	switch blob {
	case "":
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, err := s.store.DeleteOne(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "image", "audio":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveBlob(w, r, id, blob)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, id int64, kind string) {
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok || history.IsExpired(rec.Timestamp, s.now()) {
		writeError(w, http.StatusNotFound, "history record not found")
		return
	}

	data, contentType := rec.Image, rec.ImageType
	if kind == "audio" {
		if !rec.HasAudio() {
			writeError(w, http.StatusNotFound, "no audio for this record")
			return
		}
		data, contentType = rec.Audio, rec.AudioType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
