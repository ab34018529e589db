package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/storage"
)

// JobTypeUpload is the job type for queued document uploads.
const JobTypeUpload = "upload_document"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, result string) error
	FailJob(id string, errMsg string) error
}

// Uploader uploads one document and reports the outcome.
type Uploader interface {
	UploadDocument(ctx context.Context, content []byte, displayName, mimeType string) registry.Result
}

type uploadPayload struct {
	DisplayName string `json:"display_name"`
	MIMEType    string `json:"mime_type,omitempty"`
	ContentB64  string `json:"content_b64"`
}

// Queue adds upload jobs to the job store.
type Queue struct {
	store JobStore
}

// NewQueue creates a Queue over store.
func NewQueue(store JobStore) *Queue {
	return &Queue{store: store}
}

// Enqueue queues content for background upload and returns the job id.
func (q *Queue) Enqueue(displayName, mimeType string, content []byte) (string, error) {
	if displayName == "" {
		return "", errors.New("display name is required")
	}
	payload, err := json.Marshal(uploadPayload{
		DisplayName: displayName,
		MIMEType:    mimeType,
		ContentB64:  base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	id := uuid.New().String()
	if err := q.store.EnqueueJob(storage.Job{ID: id, Type: JobTypeUpload, PayloadJSON: string(payload)}); err != nil {
		return "", err
	}
	return id, nil
}

// Worker drains upload_document jobs through the registry.
type Worker struct {
	store    JobStore
	uploader Uploader
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, uploader Uploader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		uploader: uploader,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single upload job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeUpload})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	result, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("upload job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, result); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob returns the value recorded as the job result. Duplicates are
// terminal: retrying cannot succeed, so the job completes with the message.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload uploadPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(payload.ContentB64)
	if err != nil {
		return "", fmt.Errorf("decoding content: %w", err)
	}

	res := w.uploader.UploadDocument(ctx, content, payload.DisplayName, payload.MIMEType)
	switch {
	case res.Success && res.Document != nil:
		return res.Document.ID, nil
	case res.Success:
		return res.Message, nil
	case res.Duplicate:
		w.logger.Info("skipping duplicate upload", "job_id", job.ID, "display_name", payload.DisplayName)
		return res.Message, nil
	default:
		return "", errors.New(res.Message)
	}
}
