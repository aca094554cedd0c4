package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusStarting     JobStatus = "Starting"
	JobStatusDownloading  JobStatus = "Downloading"
	JobStatusTranscribing JobStatus = "Transcribing"
	JobStatusConverting   JobStatus = "Converting to sheet"
	JobStatusSaving       JobStatus = "Saving outputs"
	JobStatusCompleted    JobStatus = "Completed"
	JobStatusFailed       JobStatus = "Failed"
)

// JobStatusFailedNotice is the status string carried by the failure
// notification. The ledger records JobStatusFailed; the wire message uses the
// lowercase form.
const JobStatusFailedNotice JobStatus = "failed"

// IsTerminal reports whether no further transitions happen after this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TranscribeRequest is the foreground request body for starting a job.
type TranscribeRequest struct {
	AudioKey     string `json:"audio_key" validate:"required"`
	JobID        string `json:"job_id"`
	ConnectionID string `json:"connection_id" validate:"required"`
	IsAuth       bool   `json:"isAuth"`
	UserID       string `json:"userId" validate:"required_if=IsAuth true"`
	FileName     string `json:"file_name"`
}

// TranscribeAcceptedResponse is returned once the background work is detached.
type TranscribeAcceptedResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// TranscribeTask is the background-invocation payload. It mirrors the
// foreground request minus the display file name.
type TranscribeTask struct {
	AudioKey     string `json:"audio_key"`
	JobID        string `json:"job_id"`
	ConnectionID string `json:"connection_id"`
	IsAuth       bool   `json:"isAuth"`
	UserID       string `json:"userId"`
	Background   bool   `json:"background"`
}

// Notification is the message pushed to a subscribed client. The URL fields
// are only populated on the completion message.
type Notification struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	PDFURL  string    `json:"pdf_url,omitempty"`
	MIDIURL string    `json:"midi_url,omitempty"`
}

// JobRecord is one progress ledger row, keyed by (user_id, job_id).
type JobRecord struct {
	UserID        string    `json:"user_id"`
	JobID         string    `json:"job_id"`
	AudioFilename string    `json:"audio_filename"`
	Progress      JobStatus `json:"progress"`
	Timestamp     time.Time `json:"timestamp"`
	S3PDF         string    `json:"s3_pdf,omitempty"`
	S3MIDI        string    `json:"s3_midi,omitempty"`
	ExecutionTime string    `json:"execution_time,omitempty"`
}

// JobResult carries the completion metadata attached to the terminal
// Completed update in a single write.
type JobResult struct {
	S3PDF         string
	S3MIDI        string
	ExecutionTime time.Duration
}
