package stage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/audioscore/api/internal/config"
)

// Runner executes the two processing stages. Both calls block until the
// stage finishes and have no partial-progress visibility.
type Runner interface {
	Transcribe(ctx context.Context, audioPath, midiPath string) error
	RenderSheet(ctx context.Context, midiPath, pdfPath string) error
}

// TranscriptionError covers any fault inside the transcription stage.
type TranscriptionError struct {
	Stderr string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transcription failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// RenderError is raised when the external notation renderer exits non-zero.
// Stderr is kept for diagnostics.
type RenderError struct {
	Stderr string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to write pdf: %v: %s", e.Err, e.Stderr)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ExecRunner runs both stages as external processes.
type ExecRunner struct {
	transcriberPath string
	musescorePath   string
	useXvfb         bool
}

// NewExecRunner creates a runner from stage configuration.
func NewExecRunner(cfg *config.StageConfig) *ExecRunner {
	return &ExecRunner{
		transcriberPath: cfg.TranscriberPath,
		musescorePath:   cfg.MuseScorePath,
		useXvfb:         cfg.UseXvfb,
	}
}

// Transcribe converts an audio file into a MIDI file.
func (r *ExecRunner) Transcribe(ctx context.Context, audioPath, midiPath string) error {
	log.Printf("Transcribing %s", audioPath)

	cmd := exec.CommandContext(ctx, r.transcriberPath, audioPath, midiPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &TranscriptionError{Stderr: stderr.String(), Err: err}
	}
	return nil
}

// RenderSheet converts a MIDI file into a PDF music sheet. MuseScore needs a
// display, so the command runs under xvfb-run on headless hosts.
func (r *ExecRunner) RenderSheet(ctx context.Context, midiPath, pdfPath string) error {
	log.Printf("Converting %s to music sheet", midiPath)

	name := r.musescorePath
	args := []string{"--export-to", pdfPath, midiPath}
	if r.useXvfb {
		name = "xvfb-run"
		args = append([]string{"-a", "-s", "-screen 0 1024x768x24", r.musescorePath}, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &RenderError{Stderr: stderr.String(), Err: err}
	}

	log.Printf("Conversion successful")
	return nil
}
