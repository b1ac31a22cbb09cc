package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const selectColumns = `id, timestamp, caption, image, image_type, audio, audio_type, language`

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies migrations.
// ":memory:" is accepted for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (int64, error) {
	ts := normalizeTimestamp(rec.Timestamp)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO history (timestamp, caption, image, image_type, audio, audio_type, language)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(),
		rec.Caption,
		nullableBlob(rec.Image),
		rec.ImageType,
		nullableBlob(rec.Audio),
		rec.AudioType,
		rec.Language,
	)
	if err != nil {
		return 0, apperr.NewStorage("history insert failed", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.NewStorage("history insert id unavailable", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+selectColumns+`
		 FROM history
		 ORDER BY timestamp DESC, id DESC`,
	)
	if err != nil {
		return nil, apperr.NewStorage("history list failed", err)
	}
	defer rows.Close()

	ret := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.NewStorage("history scan failed", err)
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewStorage("history list failed", err)
	}
	return ret, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM history WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, apperr.NewStorage("history get failed", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) DeleteOne(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, apperr.NewStorage("history delete failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.NewStorage("history delete failed", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return apperr.NewStorage("history clear failed", err)
	}
	return nil
}

// SweepExpired removes history rows whose timestamp is at or before now minus retention.
func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-Retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE timestamp <= ?`, cutoff)
	if err != nil {
		return 0, apperr.NewStorage("history sweep failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.NewStorage("history sweep failed", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var ts int64
	if err := row.Scan(
		&rec.ID,
		&ts,
		&rec.Caption,
		&rec.Image,
		&rec.ImageType,
		&rec.Audio,
		&rec.AudioType,
		&rec.Language,
	); err != nil {
		return Record{}, err
	}
	rec.Timestamp = time.UnixMilli(ts)
	if len(rec.Audio) == 0 {
		rec.Audio = nil
	}
	return rec, nil
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
