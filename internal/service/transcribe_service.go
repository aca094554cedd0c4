package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/model"
	"github.com/audioscore/api/internal/websocket"
)

const TaskTypeTranscribe = "transcribe:process"

// Enqueuer is the detach contract: fire-and-forget delivery of the
// background payload to exactly one executor. *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TranscribeService is the request dispatcher: it detaches background
// execution, announces the job on the notification channel and seeds the
// ledger row for tracked jobs.
type TranscribeService struct {
	enqueuer    Enqueuer
	ledger      ledger.ProgressLedger
	notifier    websocket.Notifier
	taskTimeout time.Duration
}

func NewTranscribeService(enqueuer Enqueuer, progressLedger ledger.ProgressLedger, notifier websocket.Notifier, taskTimeout time.Duration) *TranscribeService {
	return &TranscribeService{
		enqueuer:    enqueuer,
		ledger:      progressLedger,
		notifier:    notifier,
		taskTimeout: taskTimeout,
	}
}

// Start accepts a new job and returns as soon as its background execution
// is enqueued, without waiting for any of the work.
func (s *TranscribeService) Start(ctx context.Context, req *model.TranscribeRequest) (*model.TranscribeAcceptedResponse, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}

	payload := model.TranscribeTask{
		AudioKey:     req.AudioKey,
		JobID:        req.JobID,
		ConnectionID: req.ConnectionID,
		IsAuth:       req.IsAuth,
		UserID:       req.UserID,
		Background:   true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	// A job is retried only by a new caller request, never by the queue.
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypeTranscribe, data),
		asynq.Queue("transcribe"),
		asynq.MaxRetry(0),
		asynq.Timeout(s.taskTimeout),
	)
	if err != nil {
		if notifyErr := s.notify(req, model.JobStatusFailed); notifyErr != nil {
			log.Printf("Failed to notify enqueue failure for job %s: %v", req.JobID, notifyErr)
		}
		return nil, fmt.Errorf("failed to enqueue transcription task: %w", err)
	}

	if err := s.notify(req, model.JobStatusStarting); err != nil {
		return nil, err
	}

	if req.IsAuth {
		if err := s.ledger.Create(ctx, req.UserID, req.JobID, req.FileName, model.JobStatusDownloading); err != nil {
			return nil, fmt.Errorf("failed to create job row: %w", err)
		}
	}

	return &model.TranscribeAcceptedResponse{
		Message: "Processing started",
		JobID:   req.JobID,
	}, nil
}

// GetJob returns one ledger row.
func (s *TranscribeService) GetJob(ctx context.Context, userID, jobID string) (*model.JobRecord, error) {
	return s.ledger.Get(ctx, userID, jobID)
}

// ListJobs returns a user's job history.
func (s *TranscribeService) ListJobs(ctx context.Context, userID string) ([]*model.JobRecord, error) {
	return s.ledger.ListByUser(ctx, userID)
}

// notify applies the same recipient-gone asymmetry as the orchestrator:
// ignored for anonymous jobs, escalated for tracked ones.
func (s *TranscribeService) notify(req *model.TranscribeRequest, status model.JobStatus) error {
	err := s.notifier.Push(req.ConnectionID, model.Notification{JobID: req.JobID, Status: status})
	if errors.Is(err, websocket.ErrRecipientGone) && !req.IsAuth {
		return nil
	}
	return err
}
