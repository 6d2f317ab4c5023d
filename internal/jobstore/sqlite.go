package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cropsinsilico/cis-dispatcher/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	name            TEXT PRIMARY KEY,
	namespace       TEXT NOT NULL,
	username        TEXT NOT NULL,
	graph_id        TEXT NOT NULL DEFAULT '',
	docker_image    TEXT NOT NULL,
	command         TEXT NOT NULL,
	init_command    TEXT NOT NULL DEFAULT '',
	num_cpus        INTEGER NOT NULL,
	max_ram_mb      INTEGER NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	phase           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	finished_at     DATETIME
);
CREATE INDEX IF NOT EXISTS jobs_username ON jobs (username);
CREATE INDEX IF NOT EXISTS jobs_phase ON jobs (phase);
`

const jobColumns = `name, namespace, username, graph_id, docker_image, command, init_command,
	num_cpus, max_ram_mb, timeout_seconds, phase, message, created_at, updated_at, finished_at`

// SQLiteStore implements Store on a SQLite database file, keeping job
// history across restarts without an external service.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection serialises access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *types.JobRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	prepare(rec, time.Now().UTC())

	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Namespace, rec.Username, rec.GraphID, rec.DockerImage, rec.Command, rec.InitCommand,
		rec.NumCPUs, rec.MaxRAMMB, rec.TimeoutSeconds, string(rec.Phase), rec.Message,
		rec.CreatedAt, rec.UpdatedAt, nullTime(rec.FinishedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.JobRecord, error) {
	var (
		rec      types.JobRecord
		phase    string
		finished sql.NullTime
	)
	err := row.Scan(&rec.Name, &rec.Namespace, &rec.Username, &rec.GraphID, &rec.DockerImage,
		&rec.Command, &rec.InitCommand, &rec.NumCPUs, &rec.MaxRAMMB, &rec.TimeoutSeconds,
		&phase, &rec.Message, &rec.CreatedAt, &rec.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}
	rec.Phase = types.JobPhase(phase)
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (*types.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdatePhase(ctx context.Context, name string, phase types.JobPhase, message string) (*types.JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := applyPhase(rec, phase, message, time.Now().UTC()); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET phase = ?, message = ?, updated_at = ?, finished_at = ? WHERE name = ?`,
		string(rec.Phase), rec.Message, rec.UpdatedAt, nullTime(rec.FinishedAt), name); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts *ListOptions) ([]*types.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if matches(rec, opts) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortRecords(out)
	return limit(out, opts), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
