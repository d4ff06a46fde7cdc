package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/agent"
	agentrpc "github.com/masbolt/masbolt/internal/rpc/agent"
	"github.com/masbolt/masbolt/internal/store"
)

type errorBody struct {
	Error  string       `json:"error"`
	Status agent.Status `json:"status,omitempty"`
}

// multiAgentHandler runs the pipeline for the form field userRequest and answers with the result.
func (s *Server) multiAgentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userRequest := r.FormValue("userRequest")
	if strings.TrimSpace(userRequest) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "userRequest is required"})
		return
	}

	res, err := s.app.Runner.RunSync(r.Context(), userRequest)
	if err != nil {
		if errors.Is(err, agentrpc.ErrBusy) {
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	if res.Status == agent.StatusError {
		s.logger.Warn("multi-agent run failed", zap.String("run_id", res.ID), zap.String("error", res.Error))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: res.Error, Status: res.Status})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) filesHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.app.Files.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type fileResponse struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	IsBinary bool   `json:"isBinary"`
}

func (s *Server) fileHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "path is required"})
		return
	}
	f, ok := s.app.Files.GetFile(path)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Path: path, Content: f.Content, IsBinary: f.IsBinary})
}

func (s *Server) modificationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modifications": s.app.Files.GetFileModifications(),
		"paths":         s.app.Files.ModifiedPaths(),
	})
}

func (s *Server) resetModificationsHandler(w http.ResponseWriter, r *http.Request) {
	s.app.Files.ResetFileModifications()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	if s.app.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run history disabled"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := s.app.History.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	if s.app.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run history disabled"})
		return
	}

	run, err := s.app.History.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
