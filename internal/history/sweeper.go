package history

import (
	"context"
	"sync"
	"time"

	"github.com/MimeLyc/vision2voice/pkg/icron"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultSweepExpr runs the expiry sweep hourly.
const DefaultSweepExpr = "@every 1h"

// CronEngine is the subset of *cron.Cron the sweeper registers with.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
}

type SweepStatus struct {
	Expression  string    `json:"expression"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastRemoved int64     `json:"last_removed"`
	LastError   string    `json:"last_error,omitempty"`
	NextRun     time.Time `json:"next_run,omitempty"`
}

// Sweeper removes expired records once at startup and then on a cron schedule.
type Sweeper struct {
	store    Store
	cron     CronEngine
	cronExpr string
	now      func() time.Time
	group    singleflight.Group

	mu          sync.Mutex
	lastRun     time.Time
	lastRemoved int64
	lastErr     error
}

func NewSweeper(store Store, engine CronEngine, cronExpr string) *Sweeper {
	if cronExpr == "" {
		cronExpr = DefaultSweepExpr
	}
	return &Sweeper{
		store:    store,
		cron:     engine,
		cronExpr: cronExpr,
		now:      time.Now,
	}
}

// RunOnce sweeps now. Overlapping calls share one sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		now := s.now()
		n, err := s.store.SweepExpired(ctx, now)

		s.mu.Lock()
		s.lastRun = now
		s.lastRemoved = n
		s.lastErr = err
		s.mu.Unlock()

		if err != nil {
			log.Error("History sweep failed: %v", err)
			return int64(0), err
		}
		if n > 0 {
			log.Info("History sweep removed %d expired records", n)
		} else {
			log.Debug("History sweep found nothing to remove")
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Schedule performs one sweep immediately and registers the periodic one.
// A failed initial sweep is logged; it does not prevent scheduling.
func (s *Sweeper) Schedule(ctx context.Context) error {
	if _, err := icron.Parse(s.cronExpr); err != nil {
		return err
	}
	log.Info("Schedule history sweep: %s", s.cronExpr)
	_, _ = s.RunOnce(ctx)

	_, err := s.cron.AddFunc(s.cronExpr, func() {
		_, _ = s.RunOnce(ctx)
	})
	return err
}

func (s *Sweeper) Status() SweepStatus {
	s.mu.Lock()
	status := SweepStatus{
		Expression:  s.cronExpr,
		LastRun:     s.lastRun,
		LastRemoved: s.lastRemoved,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if info, err := icron.GetTriggerInfo(s.cronExpr, s.now()); err == nil {
		status.NextRun = info.Next
	}
	return status
}
