package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/malbeclabs/chembl-sql/pkg/llm"
	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// RunRequest runs a fresh question. The result is stored only when SessionID is set or
// Persist asks for a new session.
type RunRequest struct {
	Prompt    string `json:"prompt"`
	Limit     int    `json:"limit"`
	SessionID string `json:"session_id,omitempty"`
	Persist   bool   `json:"persist,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

type DraftRequest struct {
	Prompt string `json:"prompt"`
	APIKey string `json:"api_key,omitempty"`
}

// EditRequest edits either a stored session or a caller-supplied query.
type EditRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	Instruction    string `json:"instruction"`
	PrevSQL        string `json:"prev_sql,omitempty"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
	Limit          int    `json:"limit"`
	APIKey         string `json:"api_key,omitempty"`
}

type ExecuteRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

type ReexecuteRequest struct {
	Limit int `json:"limit"`
}

// StateResponse is a pipeline state plus the session it is stored under.
type StateResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Diff      string `json:"diff,omitempty"`
	pipeline.State
}

type QueryResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, fmt.Errorf("%w: prompt is required", errBadRequest))
		return
	}
	if err := validateLimit(req.Limit); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.activate(r.Context(), req.APIKey); err != nil {
		s.writeError(w, err)
		return
	}

	id := req.SessionID
	if id == "" && req.Persist {
		id = uuid.NewString()
	}
	var (
		st  pipeline.State
		err error
	)
	if id != "" {
		st, err = s.cfg.Pipeline.RunSession(r.Context(), id, req.Prompt, req.Limit)
	} else {
		st, err = s.cfg.Pipeline.Run(r.Context(), req.Prompt, req.Limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := StateResponse{SessionID: id, State: st}
	if st.NotChembl {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, fmt.Errorf("%w: prompt is required", errBadRequest))
		return
	}
	if err := s.activate(r.Context(), req.APIKey); err != nil {
		s.writeError(w, err)
		return
	}

	st, err := s.cfg.Pipeline.Draft(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{State: st})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		s.writeError(w, fmt.Errorf("%w: instruction is required", errBadRequest))
		return
	}
	if err := validateLimit(req.Limit); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.activate(r.Context(), req.APIKey); err != nil {
		s.writeError(w, err)
		return
	}

	if req.SessionID != "" {
		res, err := s.cfg.Pipeline.ApplyEdit(r.Context(), req.SessionID, req.Instruction)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{SessionID: req.SessionID, Diff: res.Diff, State: res.State})
		return
	}

	if strings.TrimSpace(req.PrevSQL) == "" {
		s.writeError(w, fmt.Errorf("%w: session_id or prev_sql is required", errBadRequest))
		return
	}
	res, err := s.cfg.Pipeline.RunEdit(r.Context(), pipeline.EditRequest{
		PrevSQL:        req.PrevSQL,
		Instruction:    req.Instruction,
		OriginalPrompt: req.OriginalPrompt,
		Limit:          req.Limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Diff: res.Diff, State: res.State})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := validateLimit(req.Limit); err != nil {
		s.writeError(w, err)
		return
	}

	start := time.Now()
	res, err := s.cfg.Pipeline.ExecuteOnly(r.Context(), req.SQL, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Columns:   res.Columns,
		Rows:      res.Rows,
		RowCount:  len(res.Rows),
		ElapsedMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.cfg.Pipeline.GetSession(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{SessionID: id, State: st})
}

func (s *Server) handleReexecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ReexecuteRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if err := validateLimit(req.Limit); err != nil {
		s.writeError(w, err)
		return
	}

	st, err := s.cfg.Pipeline.Reexecute(r.Context(), id, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{SessionID: id, State: st})
}

func (s *Server) activate(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	if s.cfg.Credentials == nil {
		s.log.Debug("server: ignoring api key, no credential registry configured")
		return nil
	}
	return s.cfg.Credentials.Activate(ctx, apiKey)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body: %w", errBadRequest, err))
		return false
	}
	return true
}

func validateLimit(limit int) error {
	if limit < 0 || limit > sqlexec.MaxLimit {
		return fmt.Errorf("%w: limit must be between 0 and %d", errBadRequest, sqlexec.MaxLimit)
	}
	return nil
}

// statusFor maps pipeline, executor and credential errors to HTTP status codes.
func statusFor(err error) int {
	var execErr *sqlexec.QueryExecutionError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, sqlexec.ErrUnsafeQuery),
		errors.Is(err, pipeline.ErrUnknownSession),
		errors.As(err, &execErr):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrCredentialInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrPipelineTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrPlanner),
		errors.Is(err, pipeline.ErrSynthesis),
		errors.Is(err, pipeline.ErrRepair),
		errors.Is(err, pipeline.ErrRetrieval),
		errors.Is(err, llm.ErrNoActiveClient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed", "error", err)
		msg = "internal error"
	} else {
		s.log.Debug("server: request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
