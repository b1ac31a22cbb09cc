package jobs

import (
	"context"

	"github.com/MimeLyc/vision2voice/internal/pipeline"
)

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, opts ...pipeline.RunOption) (*pipeline.Outcome, error)
}

// PipelineExecutor adapts a Runner to the queue, forwarding progress and announcements.
func PipelineExecutor(runner Runner) Executor {
	return func(ctx context.Context, run *Run, report Reporter) (*pipeline.Outcome, error) {
		return runner.Run(ctx, run.Request(),
			pipeline.WithProgress(report.Progress),
			pipeline.WithAnnouncements(report.Announce),
		)
	}
}
