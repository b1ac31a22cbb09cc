package jobs

import (
	"time"

	"github.com/MimeLyc/vision2voice/internal/pipeline"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type EnqueueRequest struct {
	// ID is used as the run id when set; otherwise a new one is generated.
	ID      string
	Source  string
	Request pipeline.Request
}

// Run is one queued pipeline execution.
type Run struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	Filename     string            `json:"filename"`
	Language     string            `json:"language"`
	Status       Status            `json:"status"`
	Progress     int               `json:"progress"`
	Announcement string            `json:"announcement,omitempty"`
	Outcome      *pipeline.Outcome `json:"outcome,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	request pipeline.Request
}

// Request returns the pipeline input of the run.
func (r *Run) Request() pipeline.Request {
	return r.request
}
