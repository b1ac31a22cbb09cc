package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/jobs"
	"github.com/MimeLyc/vision2voice/internal/pipeline"
	"github.com/MimeLyc/vision2voice/internal/session"
	"github.com/MimeLyc/vision2voice/internal/settings"
)

// multipart envelope allowance on top of the image limit
const uploadOverhead = 1 << 20

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		runs := s.queue.List()
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			views = append(views, newRunView(run))
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := s.readUpload(w, r)
	if err == nil {
		_, _, err = pipeline.Validate(req)
	}
	if err != nil {
		if apperr.IsType(err, apperr.ErrValidation) {
			s.session.Reject(err)
			writeAppError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := jobs.NewRunID()
	if err := s.session.Begin(id, req.Filename, pipeline.NormalizeLanguage(req.Language)); err != nil {
		if errors.Is(err, session.ErrInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := s.queue.Enqueue(jobs.EnqueueRequest{
		ID:      id,
		Source:  "http",
		Request: req,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run": newRunView(run),
	})
}

// readUpload turns the multipart form into a pipeline request. A missing file
// yields an empty image so validation reports it.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxImageBytes+uploadOverhead)
	if err := r.ParseMultipartForm(pipeline.MaxImageBytes + uploadOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Request{}, apperr.NewValidation(apperr.MsgTooLarge)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return pipeline.Request{}, apperr.NewValidation(apperr.MsgNoImage)
		}
		return pipeline.Request{}, err
	}

	req := pipeline.Request{
		Language: strings.TrimSpace(r.FormValue("language")),
	}
	if req.Language == "" {
		req.Language = s.preferredLanguage()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}
		return pipeline.Request{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Request{}, err
	}
	req.Image = data
	req.Filename = header.Filename
	req.ContentType = header.Header.Get("Content-Type")
	return req, nil
}

func (s *Server) preferredLanguage() string {
	if s.settings != nil {
		if lang := s.settings.Get().Language; lang != "" {
			return lang
		}
	}
	return s.defaultLanguage
}

// runView is a run as served over HTTP, with the location of its audio.
type runView struct {
	*jobs.Run
	AudioURL string `json:"audio_url,omitempty"`
}

func runAudioURL(id string) string {
	return "/api/runs/" + url.PathEscape(id) + "/audio"
}

func newRunView(run *jobs.Run) runView {
	view := runView{Run: run}
	if run.Outcome != nil && run.Outcome.HasAudio() {
		view.AudioURL = runAudioURL(run.ID)
	}
	return view
}

// sessionView adds the audio location of the current run, which stays
// reachable when the history record could not be saved.
type sessionView struct {
	session.Snapshot
	AudioURL string `json:"audio_url,omitempty"`
}

func newSessionView(snap session.Snapshot) sessionView {
	view := sessionView{Snapshot: snap}
	if snap.HasAudio && snap.RunID != "" {
		view.AudioURL = runAudioURL(snap.RunID)
	}
	return view
}

// handleRun serves /api/runs/{id} and /api/runs/{id}/audio.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	if sub != "" && sub != "audio" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	run, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if sub == "" {
		writeJSON(w, http.StatusOK, newRunView(run))
		return
	}

	if run.Outcome == nil || !run.Outcome.HasAudio() {
		writeError(w, http.StatusNotFound, "no audio for this run")
		return
	}
	contentType := run.Outcome.AudioType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(run.Outcome.Audio)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(run.Outcome.Audio)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s.session.Snapshot()))
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s.session.Reset()))
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, pipeline.SearchLanguages(r.URL.Query().Get("q")))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Get())
	case http.MethodPut:
		var req settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		saved, err := s.settings.Update(req)
		if err != nil {
			if errors.Is(err, settings.ErrInvalid) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type healthResponse struct {
	Status string               `json:"status"`
	Store  string               `json:"store"`
	Remote any                  `json:"remote,omitempty"`
	Sweep  *history.SweepStatus `json:"sweep,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK
	if err := history.Ping(ctx, s.store); err != nil {
		resp.Status = "unavailable"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.remote != nil {
		remote, err := s.remote.Health(ctx)
		if err != nil {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			resp.Remote = map[string]any{"error": apperr.UserMessage(err)}
		} else {
			resp.Remote = remote
		}
	}
	if s.sweeper != nil {
		status := s.sweeper.Status()
		resp.Sweep = &status
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeAppError includes the machine-readable message next to the user-facing one.
func writeAppError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{
		"error": apperr.UserMessage(err),
	}
	if appErr, ok := apperr.As(err); ok {
		body["code"] = appErr.Message
		body["type"] = appErr.Type.String()
	}
	writeJSON(w, status, body)
}
