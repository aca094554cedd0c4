package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/model"
)

type fakeEnqueuer struct {
	err   error
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeLedger struct {
	created []model.JobRecord
}

func (f *fakeLedger) Create(ctx context.Context, userID, jobID, audioFilename string, status model.JobStatus) error {
	f.created = append(f.created, model.JobRecord{
		UserID:        userID,
		JobID:         jobID,
		AudioFilename: audioFilename,
		Progress:      status,
	})
	return nil
}

func (f *fakeLedger) Update(ctx context.Context, userID, jobID string, status model.JobStatus, result *model.JobResult) error {
	return nil
}

func (f *fakeLedger) Get(ctx context.Context, userID, jobID string) (*model.JobRecord, error) {
	return nil, ledger.ErrJobNotFound
}

func (f *fakeLedger) ListByUser(ctx context.Context, userID string) ([]*model.JobRecord, error) {
	return nil, nil
}

type fakeNotifier struct {
	sent []model.Notification
}

func (f *fakeNotifier) Push(connectionID string, msg model.Notification) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newService(enq *fakeEnqueuer, led *fakeLedger, notifier *fakeNotifier) *TranscribeService {
	return NewTranscribeService(enq, led, notifier, 15*time.Minute)
}

func trackedRequest() *model.TranscribeRequest {
	return &model.TranscribeRequest{
		AudioKey:     "uploads/song.wav",
		JobID:        "job-1",
		ConnectionID: "conn-1",
		IsAuth:       true,
		UserID:       "user-1",
		FileName:     "song.wav",
	}
}

func TestStartDetachesAndAcknowledges(t *testing.T) {
	enq := &fakeEnqueuer{}
	led := &fakeLedger{}
	notifier := &fakeNotifier{}
	svc := newService(enq, led, notifier)

	resp, err := svc.Start(context.Background(), trackedRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if resp.JobID != "job-1" || resp.Message != "Processing started" {
		t.Errorf("response = %+v", resp)
	}

	if len(enq.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(enq.tasks))
	}
	var payload model.TranscribeTask
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !payload.Background {
		t.Error("background payload must carry the background marker")
	}
	if payload.AudioKey != "uploads/song.wav" || payload.UserID != "user-1" {
		t.Errorf("payload = %+v", payload)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].Status != model.JobStatusStarting {
		t.Errorf("notifications = %v, want single Starting", notifier.sent)
	}

	if len(led.created) != 1 {
		t.Fatalf("created %d ledger rows, want 1", len(led.created))
	}
	row := led.created[0]
	if row.Progress != model.JobStatusDownloading || row.AudioFilename != "song.wav" {
		t.Errorf("initial row = %+v", row)
	}
}

func TestStartUntrackedSkipsLedger(t *testing.T) {
	enq := &fakeEnqueuer{}
	led := &fakeLedger{}
	svc := newService(enq, led, &fakeNotifier{})

	req := trackedRequest()
	req.IsAuth = false
	req.UserID = ""
	if _, err := svc.Start(context.Background(), req); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(led.created) != 0 {
		t.Errorf("untracked job created ledger rows: %v", led.created)
	}
}

func TestStartGeneratesJobIDWhenMissing(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newService(enq, &fakeLedger{}, &fakeNotifier{})

	req := trackedRequest()
	req.JobID = ""
	resp, err := svc.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if resp.JobID == "" {
		t.Error("expected a generated job id")
	}
}

func TestStartEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("queue unavailable")}
	led := &fakeLedger{}
	notifier := &fakeNotifier{}
	svc := newService(enq, led, notifier)

	_, err := svc.Start(context.Background(), trackedRequest())
	if err == nil {
		t.Fatal("expected error when detach fails")
	}

	if len(notifier.sent) != 1 || notifier.sent[0].Status != model.JobStatusFailed {
		t.Errorf("notifications = %v, want single Failed", notifier.sent)
	}
	if len(led.created) != 0 {
		t.Errorf("no ledger row may exist after a failed detach, got %v", led.created)
	}
}
