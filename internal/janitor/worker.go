package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chronicle/internal/storage"
)

// JobBlobDelete is the job type for blob deletions that failed inline.
const JobBlobDelete = "blob_delete"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// BlobDeleter removes a blob by URL. Implemented by the storage adapters.
type BlobDeleter interface {
	DeleteBlob(ctx context.Context, url string) error
}

// Worker retries orphaned blob deletions from the SQLite job queue.
type Worker struct {
	store  JobStore
	blobs  BlobDeleter
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 2s.
func NewWorker(store JobStore, blobs BlobDeleter, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		blobs:  blobs,
		poll:   pollInterval,
		logger: logger,
	}
}

type blobPayload struct {
	URL   string `json:"url"`
	Cause string `json:"cause,omitempty"`
}

// Enqueue schedules a later deletion of url. Its signature matches
// campaign.Options.OrphanedBlob.
func (w *Worker) Enqueue(ctx context.Context, url string, cause error) {
	p := blobPayload{URL: url}
	if cause != nil {
		p.Cause = cause.Error()
	}
	payload, _ := json.Marshal(p)
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobBlobDelete,
		PayloadJSON: string(payload),
		MaxAttempts: 5,
	}
	// The caller's request may already be finished.
	if err := w.store.EnqueueJob(context.WithoutCancel(ctx), job); err != nil {
		w.logger.Error("orphaned blob not queued", "url", url, "error", err)
		return
	}
	w.logger.Info("orphaned blob queued for deletion", "url", url, "job_id", job.ID)
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("janitor iteration failed", "error", err)
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

// RunOnce claims and processes a single blob_delete job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobBlobDelete})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("blob deletion failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload blobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.URL == "" {
		return fmt.Errorf("payload has no url")
	}
	if err := w.blobs.DeleteBlob(ctx, payload.URL); err != nil {
		return fmt.Errorf("deleting %s: %w", payload.URL, err)
	}
	w.logger.Debug("orphaned blob deleted", "url", payload.URL)
	return nil
}
