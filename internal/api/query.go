package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/tabchat/internal/agent"
	"github.com/kalambet/tabchat/internal/tools"
)

type dbQueryRequest struct {
	Query   string `json:"query"`
	SQL     string `json:"sql,omitempty"`
	Profile string `json:"profile,omitempty"`
}

func handleDBQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dbQueryRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.SQL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "query is required")
			return
		}
		if req.Profile == "" {
			req.Profile = deps.DefaultProfile
		}

		input, _ := json.Marshal(req)
		res := deps.Registry.Invoke(r.Context(), tools.SQLToolName, input)
		if !res.OK() {
			writeToolError(w, res)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": res.Data})
	}
}

type ragSearchRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

func handleRAGSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ragSearchRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Chat.Respond(r.Context(), req.ThreadID, strings.TrimSpace(req.Prompt))
		if errors.Is(err, agent.ErrEmptyMessage) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"response": reply.Response})
	}
}

type webSearchRequest struct {
	Query string `json:"query"`
}

type webSearchResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleWebSearch always answers 200; failures are reported in the body.
func handleWebSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webSearchRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeJSON(w, http.StatusOK, webSearchResponse{Status: tools.StatusError, Message: "invalid request body: " + err.Error()})
			return
		}

		res := deps.Registry.Invoke(r.Context(), tools.WebToolName, tools.QueryInput(req.Query))
		writeJSON(w, http.StatusOK, webSearchResponse{Status: res.Status, Data: res.Data, Message: res.Message})
	}
}
