package history

import (
	"context"
	"time"
)

// Retention is how long a record stays visible before it expires.
const Retention = 7 * 24 * time.Hour

// Record is one past pipeline result. Records are never mutated after insert.
type Record struct {
	ID        int64     `json:"id"`
	Caption   string    `json:"caption"`
	Image     []byte    `json:"-"`
	ImageType string    `json:"image_type"`
	Audio     []byte    `json:"-"`
	AudioType string    `json:"audio_type,omitempty"`
	Language  string    `json:"language"`
	Timestamp time.Time `json:"timestamp"`
}

func (r Record) HasAudio() bool {
	return len(r.Audio) > 0
}

func (r Record) ExpiresAt() time.Time {
	return r.Timestamp.Add(Retention)
}

// Store persists history records.
type Store interface {
	// Insert assigns a new id, stores rec verbatim and returns the id.
	// A zero Timestamp is replaced by the current time.
	Insert(ctx context.Context, rec Record) (int64, error)
	// ListAll returns every stored record, newest first. Expired records are included.
	ListAll(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id int64) (Record, bool, error)
	// DeleteOne removes the record if present and reports whether it existed.
	DeleteOne(ctx context.Context, id int64) (bool, error)
	DeleteAll(ctx context.Context) error
	// SweepExpired removes every record whose Timestamp+Retention <= now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// normalizeTimestamp fills a zero timestamp and truncates to millisecond precision,
// which is what both backends persist.
func normalizeTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	return time.UnixMilli(ts.UnixMilli())
}
