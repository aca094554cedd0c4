package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/audioscore/api/internal/model"
)

// ErrJobNotFound is returned by Update when no row exists for the
// (user_id, job_id) pair. Updates never create rows.
var ErrJobNotFound = errors.New("ledger: job row not found")

// ProgressLedger is the durable per-user job history contract consumed by
// the dispatcher and the orchestrator.
type ProgressLedger interface {
	Create(ctx context.Context, userID, jobID, audioFilename string, status model.JobStatus) error
	Update(ctx context.Context, userID, jobID string, status model.JobStatus, result *model.JobResult) error
	Get(ctx context.Context, userID, jobID string) (*model.JobRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*model.JobRecord, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS job_progress (
    user_id        TEXT NOT NULL,
    job_id         TEXT NOT NULL,
    audio_filename TEXT NOT NULL DEFAULT '',
    progress       TEXT NOT NULL,
    timestamp      TEXT NOT NULL,
    s3_pdf         TEXT,
    s3_midi        TEXT,
    execution_time TEXT,
    PRIMARY KEY (user_id, job_id)
);
`

// Store manages progress rows backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts the initial row for a tracked job.
func (s *Store) Create(ctx context.Context, userID, jobID, audioFilename string, status model.JobStatus) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_progress (user_id, job_id, audio_filename, progress, timestamp)
         VALUES (?, ?, ?, ?, ?)`,
		userID,
		jobID,
		audioFilename,
		string(status),
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert job row: %w", err)
	}
	return nil
}

// Update advances the status and refreshes the timestamp of an existing row.
// When result is non-nil the output keys and execution time are attached in
// the same write. A missing row fails with ErrJobNotFound; the precondition
// is the WHERE clause itself, not a prior read.
func (s *Store) Update(ctx context.Context, userID, jobID string, status model.JobStatus, result *model.JobResult) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		res sql.Result
		err error
	)
	if result != nil {
		res, err = s.db.ExecContext(
			ctx,
			`UPDATE job_progress
             SET progress = ?, timestamp = ?, s3_pdf = ?, s3_midi = ?, execution_time = ?
             WHERE user_id = ? AND job_id = ?`,
			string(status),
			timestamp,
			result.S3PDF,
			result.S3MIDI,
			result.ExecutionTime.String(),
			userID,
			jobID,
		)
	} else {
		res, err = s.db.ExecContext(
			ctx,
			`UPDATE job_progress SET progress = ?, timestamp = ? WHERE user_id = ? AND job_id = ?`,
			string(status),
			timestamp,
			userID,
			jobID,
		)
	}
	if err != nil {
		return fmt.Errorf("update job row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job row: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Get fetches a single row.
func (s *Store) Get(ctx context.Context, userID, jobID string) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, job_id, audio_filename, progress, timestamp, s3_pdf, s3_midi, execution_time
         FROM job_progress WHERE user_id = ? AND job_id = ?`,
		userID,
		jobID,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job row: %w", err)
	}
	return rec, nil
}

// ListByUser returns a user's rows, most recent first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*model.JobRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT user_id, job_id, audio_filename, progress, timestamp, s3_pdf, s3_midi, execution_time
         FROM job_progress WHERE user_id = ? ORDER BY timestamp DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list job rows: %w", err)
	}
	defer rows.Close()

	var records []*model.JobRecord
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.JobRecord, error) {
	var (
		rec       model.JobRecord
		progress  string
		timestamp string
		pdf       sql.NullString
		midi      sql.NullString
		exeTime   sql.NullString
	)
	if err := row.Scan(&rec.UserID, &rec.JobID, &rec.AudioFilename, &progress, &timestamp, &pdf, &midi, &exeTime); err != nil {
		return nil, err
	}

	rec.Progress = model.JobStatus(progress)
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", timestamp, err)
	}
	rec.Timestamp = ts
	rec.S3PDF = pdf.String
	rec.S3MIDI = midi.String
	rec.ExecutionTime = exeTime.String
	return &rec, nil
}
