package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiMiddleware "github.com/siphomateke/zra-helper-sub001/internal/api/middleware"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// Dependencies are the collaborators the router wires into handlers.
// DB and Nodes may be nil when persistence is disabled.
type Dependencies struct {
	Manager    *workflow.Manager
	Queues     *queue.Set
	JWTService auth.JWTService
	Stream     *StreamHub
	DB         *sql.DB
	Nodes      store.TaskNodeStore
	Logger     *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(deps.Logger))

	runHandler := NewRunHandler(deps.Manager)
	taskHandler := NewTaskHandler(deps.Manager.Tree(), deps.Nodes)
	queueHandler := NewQueueHandler(deps.Queues)
	healthHandler := NewHealthHandler(deps.Manager.Tree(), deps.DB)
	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWTService)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", runHandler.ListRuns)
		r.Get("/runs/{id}", runHandler.GetRun)
		r.Get("/tasks/stream", deps.Stream.ServeWS)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Get("/trees/{treeID}/nodes", taskHandler.ListTreeNodes)
		r.Get("/trees/{treeID}/nodes/{nodeID}", taskHandler.GetTreeNode)
		r.Get("/queues", queueHandler.ListQueues)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Post("/runs", runHandler.StartRun)
			r.Post("/runs/{id}/retry", runHandler.RetryRun)
		})
	})

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
