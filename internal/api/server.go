// Package api serves the HTTP routes and the MCP server. Handlers stay thin:
// each one decodes a request, delegates to the tool registry, the
// orchestrator or the ingestion queue, and encodes the outcome.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tabchat/internal/agent"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/retrieval"
	"github.com/kalambet/tabchat/internal/storage"
	"github.com/kalambet/tabchat/internal/tools"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Conversation answers messages and reads back thread history.
type Conversation interface {
	Respond(ctx context.Context, threadID, message string) (*agent.Reply, error)
	History(ctx context.Context, threadID string) ([]memory.Turn, error)
}

// Deps holds the components behind the HTTP routes.
type Deps struct {
	Registry *tools.Registry
	Chat     Conversation
	// Threads is optional; without it GET /threads returns 404.
	Threads memory.Lister
	Jobs    *storage.Store
	Vectors retrieval.VectorStore

	DataDir        string
	DefaultProfile string
	Upload         UploadOptions
	Token          string
}

// NewHandler returns the HTTP API. /health is never authenticated.
func NewHandler(deps Deps) http.Handler {
	if deps.Upload.Profile == "" {
		deps.Upload.Profile = "uploads"
	}
	if deps.DefaultProfile == "" {
		deps.DefaultProfile = "stored"
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/db/query", handleDBQuery(deps))
		r.Post("/rag/search", handleRAGSearch(deps))
		r.Post("/web/search", handleWebSearch(deps))
		r.Post("/chat", handleChat(deps))
		r.Get("/threads", handleListThreads(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Post("/file/upload", handleUpload(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/tables", handleListTables(deps))
		r.Get("/collections", handleListCollections(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// decodeBody reads a JSON request body of at most maxRequestBodySize bytes.
// An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// writeError reports err with the status and type derived from its category.
func writeError(w http.ResponseWriter, err error) {
	httpError(w, errdefs.HTTPStatus(err), errdefs.Code(err), "%s", err.Error())
}

// writeToolError reports a failed tool result.
func writeToolError(w http.ResponseWriter, res tools.Result) {
	httpError(w, errdefs.StatusForCode(res.Code), res.Code, "%s", res.Message)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
