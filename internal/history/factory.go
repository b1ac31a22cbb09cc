package history

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Options struct {
	Backend    string
	SQLitePath string
	Redis      RedisOptions
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStore opens the backend named by opts.Backend. An empty backend means sqlite.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", opts.Backend)
	}
}

// Ping checks store liveness when the backend supports it.
func Ping(ctx context.Context, store Store) error {
	if o, ok := store.(*ObservedStore); ok {
		store = o.Store
	}
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
