package api

import (
	"net/http"

	"github.com/siphomateke/zra-helper-sub001/internal/api/shared"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
)

// QueueStatsResponse is the body of GET /api/queues.
type QueueStatsResponse struct {
	Queues []queue.Stats `json:"queues"`
}

// QueueHandler reports the state of the resource queues.
type QueueHandler struct {
	queues *queue.Set
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queues *queue.Set) *QueueHandler {
	return &QueueHandler{queues: queues}
}

// ListQueues handles GET /api/queues.
func (h *QueueHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, QueueStatsResponse{Queues: h.queues.Stats()})
}
