package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/sqldb"
	"github.com/kalambet/tabchat/internal/storage"
)

// JobTypeUpload is the job type enqueued for uploaded files.
const JobTypeUpload = "ingest_upload"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string, permanent bool) error
	UpdateJobPayload(ctx context.Context, id string, payloadJSON string) error
}

// TableIngester writes a file into a relational profile.
type TableIngester interface {
	Run(ctx context.Context, path string, opts SQLOptions) (*SQLReport, error)
}

// RowEmbedder writes a file into a vector collection.
type RowEmbedder interface {
	Run(ctx context.Context, path, collection string, appendMode bool) (*VectorReport, error)
}

// UploadPayload is the JSON payload of an ingest_upload job.
type UploadPayload struct {
	Path    string `json:"path"`
	Profile string `json:"profile"`
	Mode    string `json:"mode,omitempty"`
	// Collection, when set, also embeds the rows into that collection.
	Collection string `json:"collection,omitempty"`
	// Materialized is set once the relational step has committed, so a
	// retried job only repeats the vector step.
	Materialized bool `json:"materialized,omitempty"`
}

// Worker processes ingest_upload jobs from the SQLite job queue, one at a time.
type Worker struct {
	store   JobStore
	tables  TableIngester
	vectors RowEmbedder
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. vectors may be nil
// when uploads are only materialized relationally.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, tables TableIngester, vectors RowEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		tables:  tables,
		vectors: vectors,
		poll:    pollInterval,
		logger:  slog.Default().With("component", "ingest-worker"),
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

// RunOnce claims and processes a single ingest_upload job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeUpload})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		permanent := !errors.Is(err, errdefs.ErrExternalCapability)
		w.logger.Warn("job failed", "job_id", job.ID, "permanent", permanent, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error(), permanent); failErr != nil {
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
	var payload UploadPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %v: %w", err, errdefs.ErrInvalidInput)
	}
	mode, err := sqldb.ParseMode(payload.Mode)
	if err != nil {
		return err
	}

	if payload.Materialized {
		w.logger.Info("upload already materialized, resuming", "job_id", job.ID, "profile", payload.Profile)
	} else {
		report, err := w.tables.Run(ctx, payload.Path, SQLOptions{Profile: payload.Profile, Mode: mode})
		if err != nil {
			return err
		}
		w.logger.Info("upload materialized", "job_id", job.ID, "profile", report.Profile, "created", report.Created)
		w.markMaterialized(ctx, job.ID, payload)
	}

	if payload.Collection == "" || w.vectors == nil {
		return nil
	}
	vr, err := w.vectors.Run(ctx, payload.Path, payload.Collection, true)
	if err != nil {
		return fmt.Errorf("embedding upload: %w", err)
	}
	w.logger.Info("upload embedded", "job_id", job.ID, "collection", vr.Collection, "inserted", vr.Inserted)
	return nil
}

func (w *Worker) markMaterialized(ctx context.Context, id string, payload UploadPayload) {
	if payload.Collection == "" || w.vectors == nil {
		return
	}
	payload.Materialized = true
	b, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("encoding job progress", "job_id", id, "error", err)
		return
	}
	if err := w.store.UpdateJobPayload(ctx, id, string(b)); err != nil {
		w.logger.Error("recording job progress", "job_id", id, "error", err)
	}
}
