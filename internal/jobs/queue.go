package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/pipeline"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"github.com/oklog/ulid/v2"
)

// Reporter lets an executor publish progress for the run it is executing.
type Reporter interface {
	Progress(percent int)
	Announce(message string)
}

type Executor func(ctx context.Context, run *Run, report Reporter) (*pipeline.Outcome, error)

// Listener observes every state change of every run. It is called outside
// the queue lock, from the goroutine that made the change.
type Listener func(run *Run)

type Queue struct {
	workerCount int
	maxRuns     int

	mu         sync.RWMutex
	runs       map[string]*Run
	listeners  []Listener
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunID returns a lexically sortable run id.
func NewRunID() string {
	return ulid.Make().String()
}

func NewQueue(workerCount int) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workerCount: workerCount,
		maxRuns:     1000,
		runs:        make(map[string]*Run),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnUpdate registers a listener. Register before Start.
func (q *Queue) OnUpdate(fn Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, fn)
	q.mu.Unlock()
}

func (q *Queue) Enqueue(req EnqueueRequest) *Run {
	now := time.Now()
	id := req.ID
	if id == "" {
		id = NewRunID()
	}

	run := &Run{
		ID:        id,
		Source:    req.Source,
		Filename:  req.Request.Filename,
		Language:  pipeline.NormalizeLanguage(req.Request.Language),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		request:   req.Request,
	}

	q.mu.Lock()
	q.runs[run.ID] = run
	started := q.started
	snapshot := cloneRun(run)
	q.mu.Unlock()

	q.notify(snapshot)
	if started {
		q.enqueuePendingID(run.ID)
	}
	return snapshot
}

func (q *Queue) Get(id string) (*Run, bool) {
	q.mu.RLock()
	run, ok := q.runs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneRun(run), true
}

// List returns all tracked runs, newest first.
func (q *Queue) List() []*Run {
	q.mu.RLock()
	ret := make([]*Run, 0, len(q.runs))
	for _, run := range q.runs {
		ret = append(ret, cloneRun(run))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID > ret[j].ID
	})
	return ret
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]string, 0)
	for id, run := range q.runs {
		if run.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	sort.Strings(pending)
	for _, id := range pending {
		q.enqueuePendingID(id)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels in-flight executions and waits for the workers to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			run, ok := q.markRunning(id)
			if !ok {
				continue
			}

			outcome, err := exec(q.ctx, run, &runReporter{queue: q, id: id})
			if err != nil {
				q.markFailed(id, err)
				continue
			}
			q.markSuccess(id, outcome)
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}

// update applies fn to a non-terminal run and notifies listeners.
func (q *Queue) update(id string, fn func(run *Run) bool) (*Run, bool) {
	q.mu.Lock()
	run, ok := q.runs[id]
	if !ok || !fn(run) {
		q.mu.Unlock()
		return nil, false
	}
	run.UpdatedAt = time.Now()
	var pruned []string
	if run.Status.Terminal() {
		pruned = q.pruneTerminalRunsLocked()
	}
	snapshot := cloneRun(run)
	q.mu.Unlock()

	if len(pruned) > 0 {
		log.Debug("Pruned %d finished runs", len(pruned))
	}
	q.notify(snapshot)
	return snapshot, true
}

func (q *Queue) markRunning(id string) (*Run, bool) {
	return q.update(id, func(run *Run) bool {
		if run.Status != StatusPending {
			return false
		}
		run.Status = StatusRunning
		return true
	})
}

func (q *Queue) markProgress(id string, percent int) {
	q.update(id, func(run *Run) bool {
		if run.Status != StatusRunning || percent < run.Progress {
			return false
		}
		run.Progress = percent
		return true
	})
}

func (q *Queue) markAnnouncement(id, message string) {
	q.update(id, func(run *Run) bool {
		if run.Status != StatusRunning {
			return false
		}
		run.Announcement = message
		return true
	})
}

func (q *Queue) markSuccess(id string, outcome *pipeline.Outcome) {
	q.update(id, func(run *Run) bool {
		run.Status = StatusSuccess
		run.Progress = pipeline.ProgressDone
		run.Outcome = outcome
		run.Error = ""
		run.ErrorMessage = ""
		run.request = pipeline.Request{}
		return true
	})
}

func (q *Queue) markFailed(id string, err error) {
	q.update(id, func(run *Run) bool {
		run.Status = StatusFailed
		run.Progress = 0
		if err != nil {
			run.Error = err.Error()
			run.ErrorMessage = apperr.UserMessage(err)
			run.Announcement = apperr.Announcement(err)
		}
		run.request = pipeline.Request{}
		return true
	})
}

func (q *Queue) notify(run *Run) {
	q.mu.RLock()
	listeners := q.listeners
	q.mu.RUnlock()
	for _, fn := range listeners {
		fn(cloneRun(run))
	}
}

func (q *Queue) pruneTerminalRunsLocked() []string {
	if q.maxRuns <= 0 || len(q.runs) <= q.maxRuns {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.runs))
	for id, run := range q.runs {
		if run == nil || !run.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: run.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.runs)-q.maxRuns, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := range toRemove {
		delete(q.runs, terminal[i].id)
		pruned = append(pruned, terminal[i].id)
	}
	return pruned
}

type runReporter struct {
	queue *Queue
	id    string
}

func (r *runReporter) Progress(percent int) {
	r.queue.markProgress(r.id, percent)
}

func (r *runReporter) Announce(message string) {
	r.queue.markAnnouncement(r.id, message)
}

func cloneRun(run *Run) *Run {
	if run == nil {
		return nil
	}
	tmp := *run
	return &tmp
}
