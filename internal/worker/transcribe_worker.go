package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/audioscore/api/internal/client"
	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/model"
	"github.com/audioscore/api/internal/stage"
	"github.com/audioscore/api/internal/websocket"
)

// TranscribeWorker is the job orchestrator. It sequences the stages of one
// transcription job, reports progress over the notification channel before
// touching the ledger at each transition, and always drives the job to a
// terminal status. Collaborators are injected once and shared across jobs;
// the worker itself holds no per-job state.
type TranscribeWorker struct {
	store    client.ArtifactStore
	ledger   ledger.ProgressLedger
	notifier websocket.Notifier
	runner   stage.Runner
	workDir  string
}

// NewTranscribeWorker creates a new transcribe worker
func NewTranscribeWorker(store client.ArtifactStore, progressLedger ledger.ProgressLedger, notifier websocket.Notifier, runner stage.Runner, workDir string) *TranscribeWorker {
	return &TranscribeWorker{
		store:    store,
		ledger:   progressLedger,
		notifier: notifier,
		runner:   runner,
		workDir:  workDir,
	}
}

// ProcessTask handles one background invocation. It always returns nil:
// failures are absorbed into the Failed terminal transition so the dispatch
// layer never retries a job on its own.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job model.TranscribeTask
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		log.Printf("Discarding malformed transcribe task: %v", err)
		return nil
	}

	log.Printf("Starting transcription job %s in background mode", job.JobID)
	w.Process(ctx, job)
	return nil
}

// Process runs the job state machine to a terminal state.
func (w *TranscribeWorker) Process(ctx context.Context, job model.TranscribeTask) {
	start := time.Now()

	// Jobs share nothing on disk: each gets its own directory, so two
	// concurrent jobs whose keys end in the same base name cannot clobber
	// each other's files.
	jobDir, err := os.MkdirTemp(w.workDir, "transcribe-")
	if err != nil {
		w.fail(ctx, job, fmt.Errorf("create job work dir: %w", err))
		return
	}
	defer os.RemoveAll(jobDir)

	audioFilename := path.Base(job.AudioKey)
	localAudioPath := filepath.Join(jobDir, audioFilename)
	localMIDIPath := localAudioPath + ".mid"
	localPDFPath := localAudioPath + ".pdf"

	if err := w.notify(job, model.JobStatusDownloading, nil); err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.store.FetchToFile(ctx, w.store.CommonBucket(), job.AudioKey, localAudioPath); err != nil {
		w.fail(ctx, job, err)
		return
	}

	if err := w.transition(ctx, job, model.JobStatusTranscribing); err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.runner.Transcribe(ctx, localAudioPath, localMIDIPath); err != nil {
		w.fail(ctx, job, err)
		return
	}

	if err := w.transition(ctx, job, model.JobStatusConverting); err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.runner.RenderSheet(ctx, localMIDIPath, localPDFPath); err != nil {
		w.fail(ctx, job, err)
		return
	}

	midiKey, pdfKey := DeriveOutputKeys(job.AudioKey)

	if job.IsAuth {
		if err := w.ledger.Update(ctx, job.UserID, job.JobID, model.JobStatusSaving, nil); err != nil {
			w.fail(ctx, job, err)
			return
		}
	}
	outputBucket := w.store.OutputBucket(job.IsAuth)
	if err := w.store.StoreFromFile(ctx, outputBucket, midiKey, localMIDIPath); err != nil {
		w.fail(ctx, job, err)
		return
	}
	if err := w.store.StoreFromFile(ctx, outputBucket, pdfKey, localPDFPath); err != nil {
		w.fail(ctx, job, err)
		return
	}

	// Completion is the one transition where the ledger write comes first:
	// status, both output keys and the duration land in a single update.
	if job.IsAuth {
		result := &model.JobResult{
			S3PDF:         pdfKey,
			S3MIDI:        midiKey,
			ExecutionTime: time.Since(start),
		}
		if err := w.ledger.Update(ctx, job.UserID, job.JobID, model.JobStatusCompleted, result); err != nil {
			w.fail(ctx, job, err)
			return
		}
	}

	// Completed is terminal once recorded; a lost completion message is
	// logged, not escalated, so the job never reaches a second terminal
	// state. A reconnecting client reads the result from the ledger.
	if err := w.notify(job, model.JobStatusCompleted, &model.JobResult{S3PDF: pdfKey, S3MIDI: midiKey}); err != nil {
		log.Printf("Completion notification for job %s undelivered: %v", job.JobID, err)
	}

	log.Printf("Transcription job %s completed in %s", job.JobID, time.Since(start))
}

// transition notifies the channel first, then advances the ledger for
// tracked jobs. The live channel is the primary signal; the ledger is the
// durable one read on reconnect.
func (w *TranscribeWorker) transition(ctx context.Context, job model.TranscribeTask, status model.JobStatus) error {
	if err := w.notify(job, status, nil); err != nil {
		return err
	}
	if job.IsAuth {
		return w.ledger.Update(ctx, job.UserID, job.JobID, status, nil)
	}
	return nil
}

// notify pushes one status message. A gone recipient is ignored for
// anonymous jobs, which have no ledger row to fall back on, but escalated
// for tracked jobs so a delivery failure can't mask an unrecorded state.
func (w *TranscribeWorker) notify(job model.TranscribeTask, status model.JobStatus, result *model.JobResult) error {
	msg := model.Notification{JobID: job.JobID, Status: status}
	if result != nil {
		msg.PDFURL = result.S3PDF
		msg.MIDIURL = result.S3MIDI
	}

	err := w.notifier.Push(job.ConnectionID, msg)
	if errors.Is(err, websocket.ErrRecipientGone) {
		if job.IsAuth {
			return fmt.Errorf("notify %s: %w", status, err)
		}
		return nil
	}
	return err
}

// fail is the single failure path. The ledger write is best-effort and the
// failure notification is never escalated: the background execution must
// terminate cleanly instead of raising past its boundary.
func (w *TranscribeWorker) fail(ctx context.Context, job model.TranscribeTask, cause error) {
	log.Printf("Transcription job %s failed: %v", job.JobID, cause)

	if job.IsAuth {
		if err := w.ledger.Update(ctx, job.UserID, job.JobID, model.JobStatusFailed, nil); err != nil {
			log.Printf("Failed to record failure for job %s: %v", job.JobID, err)
		}
	}
	if err := w.notifier.Push(job.ConnectionID, model.Notification{JobID: job.JobID, Status: model.JobStatusFailedNotice}); err != nil {
		log.Printf("Failed to send failure notification for job %s: %v", job.JobID, err)
	}
}

// DeriveOutputKeys maps an input audio key to the MIDI and PDF output keys:
// every "uploads/" segment is removed and the extension replaced. The
// transform is lossy, so re-deriving an already-derived key is undefined.
func DeriveOutputKeys(audioKey string) (midiKey, pdfKey string) {
	base := strings.ReplaceAll(audioKey, "uploads/", "")
	base = strings.TrimSuffix(base, path.Ext(base))
	return base + ".mid", base + ".pdf"
}
