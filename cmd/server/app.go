package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/siphomateke/zra-helper-sub001/internal/api"
	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/portal"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/postgres"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
	"github.com/siphomateke/zra-helper-sub001/internal/redact"
	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/liabilities"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/receipts"
)

const (
	shutdownTimeout   = 10 * time.Second
	persistInterval   = time.Second
	readHeaderTimeout = 5 * time.Second
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db        *sql.DB
	nodes     store.TaskNodeStore
	persister *store.Persister

	queues  *queue.Set
	tree    *task.Tree
	manager *workflow.Manager
	stream  *api.StreamHub

	jwtService auth.JWTService
}

// newApplication creates an application with every dependency initialized.
// The database is optional: without a URL the task tree lives in memory only.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}
	app.jwtService = jwtService

	emitter := events.NewInMemoryEventEmitter(logger)

	if cfg.Database.Enabled() {
		if err := app.setupDatabase(ctx, emitter); err != nil {
			return nil, err
		}
	}

	app.stream = api.NewStreamHub(logger)
	emitter.RegisterHandler(app.stream)

	app.queues = queue.NewSet(cfg.Queues, logger)
	app.tree = task.NewTree(nil, emitter, logger)
	app.manager = workflow.NewManager(app.tree, logger)

	client, err := portal.New(cfg.Portal, app.queues, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}
	workflow.Register[liabilities.Input, liabilities.Output](app.manager, liabilities.New(client))
	workflow.Register[receipts.Input, receipts.Output](app.manager, receipts.New(client, cfg.Downloads.Dir))

	logger.Info("application initialized",
		"tree_id", app.tree.ID(),
		"workflows", app.manager.Workflows())
	return app, nil
}

func (app *application) setupDatabase(ctx context.Context, emitter *events.InMemoryEventEmitter) error {
	app.logger.Info("connecting to database", "url", redact.URL(app.config.Database.URL))

	db, err := postgres.Open(ctx, app.config.Database.URL, app.logger)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
		_ = db.Close()
		return err
	}

	app.db = db
	app.nodes = postgres.NewTaskNodeStore(db)
	app.persister = store.NewPersister(app.nodes, persistInterval, app.logger)
	emitter.RegisterHandler(app.persister)
	return nil
}

func (app *application) router() http.Handler {
	return api.NewRouter(api.Dependencies{
		Manager:    app.manager,
		Queues:     app.queues,
		JWTService: app.jwtService,
		Stream:     app.stream,
		DB:         app.db,
		Nodes:      app.nodes,
		Logger:     app.logger,
	})
}

// serve listens on the configured port until ctx is done.
func (app *application) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.serveListener(ctx, ln)
}

// serveListener runs the HTTP server on ln until ctx is done, then shuts
// everything down in dependency order.
func (app *application) serveListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           app.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if app.persister != nil {
			app.persister.Run(persistCtx)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			app.logger.Error("server failed", "error", err)
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.stream.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
	}
	if err := app.manager.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("workflow runs did not stop in time", "error", err)
	}

	stopPersist()
	<-persistDone
	app.cleanup()

	app.logger.Info("server shutdown completed")
	return runErr
}

// cleanup releases resources that outlive individual requests.
func (app *application) cleanup() {
	app.queues.Close()
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
}
