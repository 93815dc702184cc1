package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/siphomateke/zra-helper-sub001/internal/api/shared"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// TreeNodesResponse is the body of GET /api/trees/{treeID}/nodes.
type TreeNodesResponse struct {
	Nodes []task.Snapshot `json:"nodes"`
}

// TaskHandler serves the live task tree and, when a store is configured,
// the persisted history of earlier trees.
type TaskHandler struct {
	tree  *task.Tree
	nodes store.TaskNodeStore
}

// NewTaskHandler creates a TaskHandler. nodes may be nil when persistence is
// disabled.
func NewTaskHandler(tree *task.Tree, nodes store.TaskNodeStore) *TaskHandler {
	return &TaskHandler{tree: tree, nodes: nodes}
}

// GetTask handles GET /api/tasks/{id} and returns the node with all of its
// descendants.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}
	sub, ok := h.tree.Subtree(task.ID(id))
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, sub)
}

// ListTreeNodes handles GET /api/trees/{treeID}/nodes.
func (h *TaskHandler) ListTreeNodes(w http.ResponseWriter, r *http.Request) {
	if h.nodes == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Task history is not enabled")
		return
	}
	treeID, ok := pathUUID(w, r, "treeID")
	if !ok {
		return
	}
	nodes, err := h.nodes.ListNodes(r.Context(), treeID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to load task history", err)
		return
	}
	if len(nodes) == 0 {
		shared.RespondWithError(w, r, http.StatusNotFound, "Tree not found")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TreeNodesResponse{Nodes: nodes})
}

// GetTreeNode handles GET /api/trees/{treeID}/nodes/{nodeID} and returns the
// last persisted snapshot of one node.
func (h *TaskHandler) GetTreeNode(w http.ResponseWriter, r *http.Request) {
	if h.nodes == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Task history is not enabled")
		return
	}
	treeID, ok := pathUUID(w, r, "treeID")
	if !ok {
		return
	}
	nodeID, err := strconv.ParseInt(chi.URLParam(r, "nodeID"), 10, 64)
	if err != nil || nodeID <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task id")
		return
	}

	snap, err := h.nodes.GetNode(r.Context(), treeID, task.ID(nodeID))
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to load task history", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snap)
}
