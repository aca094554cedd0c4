package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/model"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "user-1", "job-1", "song.wav", model.JobStatusDownloading); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Progress != model.JobStatusDownloading {
		t.Errorf("progress = %q, want %q", rec.Progress, model.JobStatusDownloading)
	}
	if rec.AudioFilename != "song.wav" {
		t.Errorf("audio_filename = %q, want song.wav", rec.AudioFilename)
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if rec.S3PDF != "" || rec.S3MIDI != "" || rec.ExecutionTime != "" {
		t.Errorf("expected empty result fields, got %#v", rec)
	}
}

func TestUpdateAdvancesStatusAndTimestamp(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "user-1", "job-1", "song.wav", model.JobStatusDownloading); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	created, err := store.Get(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := store.Update(ctx, "user-1", "job-1", model.JobStatusTranscribing, nil); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := store.Get(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if updated.Progress != model.JobStatusTranscribing {
		t.Errorf("progress = %q, want %q", updated.Progress, model.JobStatusTranscribing)
	}
	if !updated.Timestamp.After(created.Timestamp) {
		t.Errorf("timestamp not refreshed: created=%v updated=%v", created.Timestamp, updated.Timestamp)
	}
}

func TestUpdateMissingRowFailsWithoutCreating(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	err := store.Update(ctx, "user-1", "job-missing", model.JobStatusTranscribing, nil)
	if !errors.Is(err, ledger.ErrJobNotFound) {
		t.Fatalf("Update error = %v, want ErrJobNotFound", err)
	}

	if _, err := store.Get(ctx, "user-1", "job-missing"); !errors.Is(err, ledger.ErrJobNotFound) {
		t.Fatalf("update must not create a row, Get error = %v", err)
	}
}

func TestCompletionUpdateAttachesResult(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "user-1", "job-1", "song.wav", model.JobStatusDownloading); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result := &model.JobResult{
		S3PDF:         "song.pdf",
		S3MIDI:        "song.mid",
		ExecutionTime: 42 * time.Second,
	}
	if err := store.Update(ctx, "user-1", "job-1", model.JobStatusCompleted, result); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Progress != model.JobStatusCompleted {
		t.Errorf("progress = %q, want %q", rec.Progress, model.JobStatusCompleted)
	}
	if rec.S3PDF != "song.pdf" || rec.S3MIDI != "song.mid" {
		t.Errorf("output keys = %q/%q, want song.pdf/song.mid", rec.S3PDF, rec.S3MIDI)
	}
	if rec.ExecutionTime != "42s" {
		t.Errorf("execution_time = %q, want 42s", rec.ExecutionTime)
	}
}

func TestGetRejectsCorruptTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	_, err = db.Exec(
		`INSERT INTO job_progress (user_id, job_id, audio_filename, progress, timestamp)
         VALUES (?, ?, ?, ?, ?)`,
		"user-1", "job-1", "song.wav", "Downloading", "not-a-timestamp",
	)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	if _, err := store.Get(context.Background(), "user-1", "job-1"); err == nil {
		t.Fatal("expected an error for an unparseable timestamp")
	}
}

func TestListByUser(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, jobID := range []string{"job-a", "job-b"} {
		if err := store.Create(ctx, "user-1", jobID, jobID+".wav", model.JobStatusDownloading); err != nil {
			t.Fatalf("Create %s failed: %v", jobID, err)
		}
	}
	if err := store.Create(ctx, "user-2", "job-c", "other.wav", model.JobStatusDownloading); err != nil {
		t.Fatalf("Create job-c failed: %v", err)
	}

	records, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	for _, rec := range records {
		if rec.UserID != "user-1" {
			t.Errorf("unexpected user in listing: %#v", rec)
		}
	}
}
