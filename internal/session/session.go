package session

import (
	"errors"
	"sync"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/jobs"
)

// ErrInFlight is returned when a cycle is asked to begin while a run is processing.
var ErrInFlight = errors.New("a run is already in progress")

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const (
	msgReady      = "Select an image to generate a caption."
	msgProcessing = "Processing image. Please wait..."
	msgDone       = "Caption generated."
	msgReset      = "Ready for a new image."
)

// Snapshot is the externally visible state of the current cycle.
type Snapshot struct {
	RunID         string    `json:"run_id,omitempty"`
	State         State     `json:"state"`
	Progress      int       `json:"progress"`
	Filename      string    `json:"filename,omitempty"`
	Language      string    `json:"language,omitempty"`
	Caption       string    `json:"caption,omitempty"`
	RecordID      int64     `json:"record_id,omitempty"`
	HasAudio      bool      `json:"has_audio"`
	Degraded      bool      `json:"degraded"`
	StatusMessage string    `json:"status_message"`
	Announcement  string    `json:"announcement,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session tracks the single upload-to-result cycle shown to the user.
// Results for runs other than the current one are ignored.
type Session struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func New() *Session {
	s := &Session{now: time.Now}
	s.snap = Snapshot{State: StateIdle, StatusMessage: msgReady, UpdatedAt: s.now()}
	return s
}

// Begin starts a new cycle for runID. It refuses while another run is processing.
func (s *Session) Begin(runID, filename, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.State == StateProcessing {
		return ErrInFlight
	}
	s.snap = Snapshot{
		RunID:         runID,
		State:         StateProcessing,
		Filename:      filename,
		Language:      language,
		StatusMessage: msgProcessing,
		Announcement:  msgProcessing,
		UpdatedAt:     s.now(),
	}
	return nil
}

// Busy reports whether a run is in flight.
func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State == StateProcessing
}

// Reject shows an error that happened before any run began, such as a
// validation failure. It has no effect while a run is in flight.
func (s *Session) Reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.State == StateProcessing {
		return
	}
	msg := apperr.UserMessage(err)
	s.snap = Snapshot{
		State:         StateFailed,
		StatusMessage: msg,
		Announcement:  apperr.Announcement(err),
		UpdatedAt:     s.now(),
	}
}

// Observe applies a queue update. Updates for any run other than the current one are dropped.
func (s *Session) Observe(run *jobs.Run) {
	if run == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" || run.ID != s.snap.RunID || s.snap.State != StateProcessing {
		return
	}

	switch run.Status {
	case jobs.StatusPending, jobs.StatusRunning:
		if run.Progress >= s.snap.Progress {
			s.snap.Progress = run.Progress
		}
		if run.Announcement != "" {
			s.snap.Announcement = run.Announcement
		}
	case jobs.StatusSuccess:
		s.snap.State = StateDone
		s.snap.Progress = run.Progress
		s.snap.StatusMessage = msgDone
		if run.Announcement != "" {
			s.snap.Announcement = run.Announcement
		}
		if out := run.Outcome; out != nil {
			s.snap.Caption = out.Caption
			s.snap.RecordID = out.RecordID
			s.snap.HasAudio = out.HasAudio()
			s.snap.Degraded = out.Degraded()
		}
	case jobs.StatusFailed:
		s.snap.State = StateFailed
		s.snap.Progress = 0
		s.snap.StatusMessage = run.ErrorMessage
		s.snap.Announcement = run.Announcement
	}
	s.snap.UpdatedAt = s.now()
}

// Reset discards the current cycle. A run still in flight keeps executing
// but its result will no longer be observed.
func (s *Session) Reset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot{
		State:         StateIdle,
		StatusMessage: msgReset,
		Announcement:  msgReset,
		UpdatedAt:     s.now(),
	}
	return s.snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
