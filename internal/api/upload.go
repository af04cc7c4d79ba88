package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/ingest"
	"github.com/kalambet/tabchat/internal/storage"
	"github.com/kalambet/tabchat/internal/tabular"
)

const maxUploadSize = 32 << 20 // 32MB

// UploadOptions controls how uploaded files are ingested.
type UploadOptions struct {
	// Profile is the relational profile uploads are written to.
	Profile string
	// Mode is the write mode for tables that already exist.
	Mode string
	// Collection, when set, also embeds uploaded rows into it.
	Collection string
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
				writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "No file uploaded!"})
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_input", "reading upload: %v", err)
			return
		}
		defer file.Close()

		name := filepath.Base(header.Filename)
		if !tabular.Supported(name) {
			err := fmt.Errorf("%s: only .csv and .xlsx files are accepted: %w", name, errdefs.ErrUnsupportedFileType)
			writeError(w, err)
			return
		}

		id := uuid.New().String()
		dir := filepath.Join(deps.DataDir, "uploads", id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "creating upload directory: %v", err)
			return
		}
		path := filepath.Join(dir, name)
		if err := saveFile(path, file); err != nil {
			os.RemoveAll(dir)
			httpError(w, http.StatusInternalServerError, "internal_error", "saving upload: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.UploadPayload{
			Path:       path,
			Profile:    deps.Upload.Profile,
			Mode:       deps.Upload.Mode,
			Collection: deps.Upload.Collection,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "creating job payload: %v", err)
			return
		}
		job := storage.Job{ID: id, Type: ingest.JobTypeUpload, PayloadJSON: string(payload)}
		if err := deps.Jobs.EnqueueJob(r.Context(), job); err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "enqueueing ingestion: %v", err)
			return
		}

		slog.Info("upload queued", "job_id", id, "file", name, "bytes", header.Size)
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "id": id, "file": name})
	}
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type jobResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
	}
}
