package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// CreateRunResponse acknowledges a started run.
type CreateRunResponse struct {
	RunID      string             `json:"run_id"`
	WorkflowID string             `json:"workflow_id"`
	Status     workflow.RunStatus `json:"status"`
}

// PlanResponse is the body of GET /api/v1/workflows/{id}/plan.
type PlanResponse struct {
	WorkflowID string                     `json:"workflow_id"`
	Steps      []workflow.StepPlan        `json:"steps"`
	Validation *workflow.ValidationResult `json:"validation"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "workflow_id is required")
		return
	}

	// Resolve and validate up front so configuration problems come back
	// synchronously instead of as an immediately failed run.
	_, validation, err := s.manager.Engine().Plan(r.Context(), req.WorkflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !validation.IsValid() {
		writeError(w, http.StatusUnprocessableEntity, "invalid_workflow", validation.String())
		return
	}

	var run *workflow.Run
	if req.RunID != "" {
		run, err = s.manager.StartWithID(req.RunID, req.WorkflowID, req.Input)
	} else {
		run, err = s.manager.Start(req.WorkflowID, req.Input)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+run.ID())
	writeJSON(w, http.StatusCreated, CreateRunResponse{
		RunID:      run.ID(),
		WorkflowID: run.WorkflowID(),
		Status:     run.Status().Status,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.manager.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if string(run.Status) == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if runs == nil {
		runs = []workflow.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun serves the run snapshot with an ETag so pollers can use
// If-None-Match to skip unchanged bodies.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	body, err := json.Marshal(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleDeleteRun cancels a live run (202) or forgets a finished one (204).
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.manager.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
	case errors.Is(err, workflow.ErrRunFinished):
		if err := s.manager.Remove(id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErr(w, err)
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig workflow.ApprovalSignal
	if !decodeBody(w, r, &sig) {
		return
	}
	if err := s.manager.Signal(mux.Vars(r)["id"], sig); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"step_id": sig.StepID, "action": string(sig.Action)})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "the configured provider cannot list workflows")
		return
	}
	ids, err := s.lister.ListWorkflows(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	plans, validation, err := s.manager.Engine().Plan(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlanResponse{WorkflowID: id, Steps: plans, Validation: validation})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("decoding request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeErr maps engine errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run_not_found", err.Error())
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "workflow_not_found", err.Error())
	case errors.Is(err, workflow.ErrInvalidSignal):
		writeError(w, http.StatusBadRequest, "invalid_signal", err.Error())
	case errors.Is(err, workflow.ErrDuplicateSignal),
		errors.Is(err, workflow.ErrStepResolved),
		errors.Is(err, workflow.ErrRunFinished),
		errors.Is(err, workflow.ErrRunExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, workflow.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
