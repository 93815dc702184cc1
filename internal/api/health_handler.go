package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/siphomateke/zra-helper-sub001/internal/api/shared"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	TaskNodes int    `json:"task_nodes"`
}

// HealthHandler reports liveness and, when configured, database reachability.
type HealthHandler struct {
	tree *task.Tree
	db   *sql.DB
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(tree *task.Tree, db *sql.DB) *HealthHandler {
	return &HealthHandler{tree: tree, db: db}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "disabled", TaskNodes: h.tree.Len()}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	shared.RespondWithJSON(w, r, status, resp)
}
