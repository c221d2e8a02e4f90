package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// Config locates the job database.
type Config struct {
	// Path is a local filesystem path to the job database.
	// ":memory:" opens an ephemeral in-memory store.
	Path string
}

// Store is a SQLite-backed job store.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the job database and applies the
// schema. Local databases get WAL and a busy timeout for predictable
// behavior under concurrent writers.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job store: %w", err)
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if dsn != ":memory:" {
		if err := configureLocal(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("job store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureLocal(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS build_jobs (
			job_id TEXT PRIMARY KEY,
			repo_url TEXT NOT NULL,
			branch TEXT NOT NULL,
			app_name TEXT NOT NULL,
			build_config TEXT NOT NULL,
			requested_by TEXT,
			status TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT,
			fork_owner TEXT,
			fork_repo TEXT,
			fork_url TEXT,
			fork_branch TEXT,
			fork_cleaned INTEGER NOT NULL DEFAULT 0,
			artifact_ref TEXT,
			output_filename TEXT,
			app_display_name TEXT,
			app_version TEXT,
			app_build_number TEXT,
			app_bundle_id TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_build_jobs_status ON build_jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_build_jobs_start ON build_jobs(start_time);`,

		`CREATE TABLE IF NOT EXISTS build_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			at TEXT NOT NULL,
			message TEXT NOT NULL,
			FOREIGN KEY(job_id) REFERENCES build_jobs(job_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_build_log_job ON build_log(job_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}
