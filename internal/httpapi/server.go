package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/jobs"
	"github.com/MimeLyc/vision2voice/internal/session"
	"github.com/MimeLyc/vision2voice/internal/settings"
)

type settingsStore interface {
	Get() settings.Settings
	Update(next settings.Settings) (settings.Settings, error)
}

type remoteHealth interface {
	Health(ctx context.Context) (map[string]any, error)
}

type sweepStatus interface {
	Status() history.SweepStatus
}

type Server struct {
	queue   *jobs.Queue
	session *session.Session
	store   history.Store
	hub     *history.Hub

	settings settingsStore
	remote   remoteHealth
	sweeper  sweepStatus

	defaultLanguage string
	sessionInterval time.Duration
	now             func() time.Time

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithSettingsStore(store settingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

// WithHub enables history events on the stream endpoint.
func WithHub(hub *history.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

func WithRemoteHealth(remote remoteHealth) Option {
	return func(s *Server) {
		s.remote = remote
	}
}

func WithSweeper(sweeper sweepStatus) Option {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

func WithDefaultLanguage(code string) Option {
	return func(s *Server) {
		s.defaultLanguage = code
	}
}

// NewServer wires the HTTP surface. The session is registered as a queue listener.
func NewServer(queue *jobs.Queue, sess *session.Session, store history.Store, opts ...Option) *Server {
	s := &Server{
		queue:           queue,
		session:         sess,
		store:           store,
		defaultLanguage: "en",
		sessionInterval: time.Second,
		now:             time.Now,
		uiEnabled:       false,
		mux:             http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		if observed, ok := store.(*history.ObservedStore); ok {
			s.hub = observed.Hub()
		}
	}
	queue.OnUpdate(sess.Observe)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRun)
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/reset", s.handleSessionReset)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.HandleFunc("/api/history/stream", s.handleStream)
	s.mux.HandleFunc("/api/history/", s.handleHistoryItem)
	s.mux.HandleFunc("/api/languages", s.handleLanguages)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
