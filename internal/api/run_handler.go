package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/siphomateke/zra-helper-sub001/internal/api/shared"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/logger"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	Workflow string          `json:"workflow" validate:"required"`
	Input    json.RawMessage `json:"input"    validate:"required"`
}

// RunListResponse is the body of GET /api/runs.
type RunListResponse struct {
	Workflows []string           `json:"workflows"`
	Runs      []workflow.RunInfo `json:"runs"`
}

// RunHandler serves workflow runs.
type RunHandler struct {
	manager *workflow.Manager
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(manager *workflow.Manager) *RunHandler {
	return &RunHandler{manager: manager}
}

// ListRuns handles GET /api/runs.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, RunListResponse{
		Workflows: h.manager.Workflows(),
		Runs:      h.manager.List(),
	})
}

// GetRun handles GET /api/runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	info, found := h.manager.Get(id)
	if !found {
		respondWithMappedError(w, r, workflow.ErrRunNotFound)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, info)
}

// StartRun handles POST /api/runs.
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	info, err := h.manager.Start(req.Workflow, req.Input)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}

	subject, _ := shared.GetSubject(r.Context())
	logger.FromContext(r.Context()).Info("workflow run started",
		"run_id", info.ID,
		"workflow", info.Workflow,
		"subject", subject)
	shared.RespondWithJSON(w, r, http.StatusAccepted, info)
}

// RetryRun handles POST /api/runs/{id}/retry.
func (h *RunHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	info, err := h.manager.Retry(id)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("workflow run retried",
		"run_id", info.ID,
		"workflow", info.Workflow,
		"attempt", info.Status.Attempts)
	shared.RespondWithJSON(w, r, http.StatusAccepted, info)
}

// pathUUID parses a uuid path parameter, answering 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func respondWithMappedError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
