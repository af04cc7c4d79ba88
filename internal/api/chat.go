package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tabchat/internal/memory"
)

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatResponse struct {
	ThreadID string        `json:"thread_id"`
	Response string        `json:"response"`
	History  []memory.Turn `json:"history"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Chat.Respond(r.Context(), req.ThreadID, req.Message)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{
			ThreadID: reply.ThreadID,
			Response: reply.Response,
			History:  reply.History,
		})
	}
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Threads == nil {
			httpError(w, http.StatusNotFound, "resource_not_found", "thread listing is not supported by this memory backend")
			return
		}
		ids, err := deps.Threads.Threads(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": ids})
	}
}

// handleGetThread returns the persisted history of a thread. ?limit=N keeps
// only the last N turns.
func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		history, err := deps.Chat.History(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if limit := parseIntParam(r, "limit", 0, 0); limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread_id": id, "history": history})
	}
}
