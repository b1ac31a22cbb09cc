package pipeline

import (
	"context"
	"time"

	"github.com/MimeLyc/vision2voice/internal/visionapi"
)

const (
	// MaxImageBytes is the largest accepted upload (5 MiB).
	MaxImageBytes = 5 * 1024 * 1024

	PlaceholderCaption = "No caption could be generated for this image."
)

// Progress checkpoints reported during a run.
const (
	ProgressStart      = 0
	ProgressSubmitted  = 25
	ProgressCaptioned  = 50
	ProgressTranslated = 65
	ProgressCaptionSet = 80
	ProgressSpoken     = 90
	ProgressDone       = 100
)

// Request is one upload to process.
type Request struct {
	Image       []byte
	Filename    string
	ContentType string
	Language    string
}

type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded"
	StepSkipped  StepStatus = "skipped"
)

type StepResult struct {
	Status StepStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

func (r StepResult) Degraded() bool {
	return r.Status == StepDegraded
}

// Outcome is the result of a run that produced a caption.
type Outcome struct {
	Caption          string     `json:"caption"`
	OriginalCaption  string     `json:"original_caption"`
	Language         string     `json:"language"`
	DetectedLanguage string     `json:"detected_language,omitempty"`
	Audio            []byte     `json:"-"`
	AudioType        string     `json:"audio_type,omitempty"`
	ImageType        string     `json:"image_type"`
	RecordID         int64      `json:"record_id"`
	Timestamp        time.Time  `json:"timestamp"`
	Translation      StepResult `json:"translation"`
	Synthesis        StepResult `json:"synthesis"`
	Persistence      StepResult `json:"persistence"`
}

func (o *Outcome) HasAudio() bool {
	return len(o.Audio) > 0
}

// Degraded reports whether any optional step failed.
func (o *Outcome) Degraded() bool {
	return o.Translation.Degraded() || o.Synthesis.Degraded() || o.Persistence.Degraded()
}

// RemoteService is the subset of the remote AI API a run needs.
type RemoteService interface {
	Caption(ctx context.Context, image visionapi.Image) (*visionapi.CaptionResponse, error)
	Translate(ctx context.Context, text, targetLang string) (*visionapi.TranslateResponse, error)
	Synthesize(ctx context.Context, text, lang string) (*visionapi.Audio, error)
}

type runOptions struct {
	progress func(int)
	announce func(string)
}

type RunOption func(*runOptions)

// WithProgress receives each progress checkpoint in order.
func WithProgress(fn func(percent int)) RunOption {
	return func(o *runOptions) {
		o.progress = fn
	}
}

// WithAnnouncements receives the screen reader announcements of a run.
func WithAnnouncements(fn func(message string)) RunOption {
	return func(o *runOptions) {
		o.announce = fn
	}
}
