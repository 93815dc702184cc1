package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// RunInfo describes a run kept by a Manager.
type RunInfo struct {
	ID         uuid.UUID   `json:"id"`
	Workflow   string      `json:"workflow"`
	Status     Status      `json:"status"`
	Output     interface{} `json:"output,omitempty"`
	RetryInput interface{} `json:"retry_input,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// handle is the type-erased view of a Runner the manager works with.
type handle interface {
	status() Status
	output() interface{}
	retryInput() (interface{}, bool)
	// start moves the runner to Running and returns the function that does
	// the work, so that state errors are reported synchronously.
	start(retry bool) (func(ctx context.Context), error)
	abort(err error)
}

type runnerHandle[In, Out any] struct {
	runner *Runner[In, Out]
	input  In
}

func (h *runnerHandle[In, Out]) status() Status      { return h.runner.Status() }
func (h *runnerHandle[In, Out]) output() interface{} { return h.runner.Output() }

func (h *runnerHandle[In, Out]) retryInput() (interface{}, bool) {
	return h.runner.RetryInput()
}

func (h *runnerHandle[In, Out]) abort(err error) { h.runner.abort(err) }

func (h *runnerHandle[In, Out]) start(retry bool) (func(ctx context.Context), error) {
	if !retry {
		attempt, err := h.runner.begin()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) {
			_, _ = h.runner.execute(ctx, h.input, attempt)
		}, nil
	}

	input, attempt, err := h.runner.beginRetry()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		_, _ = h.runner.execute(ctx, input, attempt)
	}, nil
}

type managedRun struct {
	id        uuid.UUID
	workflow  string
	handle    handle
	createdAt time.Time

	mu        sync.Mutex
	updatedAt time.Time
}

func (r *managedRun) info() RunInfo {
	r.mu.Lock()
	updated := r.updatedAt
	r.mu.Unlock()

	info := RunInfo{
		ID:        r.id,
		Workflow:  r.workflow,
		Status:    r.handle.status(),
		Output:    r.handle.output(),
		CreatedAt: r.createdAt,
		UpdatedAt: updated,
	}
	if input, ok := r.handle.retryInput(); ok {
		info.RetryInput = input
	}
	return info
}

func (r *managedRun) touch() {
	r.mu.Lock()
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

type factory func(input json.RawMessage) (handle, error)

// Manager starts workflow runs in the background and keeps them for
// inspection and retry. All runs share one task tree.
type Manager struct {
	tree     *task.Tree
	logger   *slog.Logger
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	factories map[string]factory
	runs      map[uuid.UUID]*managedRun
}

// NewManager creates a manager whose runs create their tasks in tree.
func NewManager(tree *task.Tree, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tree:      tree,
		logger:    logger.With("component", "workflow_manager"),
		validate:  validator.New(),
		ctx:       ctx,
		cancel:    cancel,
		factories: make(map[string]factory),
		runs:      make(map[uuid.UUID]*managedRun),
	}
}

// Tree returns the task tree runs are tracked in.
func (m *Manager) Tree() *task.Tree {
	return m.tree
}

// Register makes wf available to Start under its name. The JSON input of
// each run is decoded into In and validated with its validate tags.
func Register[In, Out any](m *Manager, wf Workflow[In, Out]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[wf.Name()] = func(raw json.RawMessage) (handle, error) {
		var input In
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if err := m.validate.Struct(input); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return &runnerHandle[In, Out]{
			runner: NewRunner(wf, m.tree, m.logger),
			input:  input,
		}, nil
	}
}

// Workflows returns the registered workflow names, sorted.
func (m *Manager) Workflows() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start creates a run of the named workflow and executes it in the
// background.
func (m *Manager) Start(name string, input json.RawMessage) (RunInfo, error) {
	m.mu.RLock()
	newHandle, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return RunInfo{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
	}

	h, err := newHandle(input)
	if err != nil {
		return RunInfo{}, err
	}

	now := time.Now()
	run := &managedRun{
		id:        uuid.New(),
		workflow:  name,
		handle:    h,
		createdAt: now,
		updatedAt: now,
	}
	if err := m.launch(run, false); err != nil {
		return RunInfo{}, err
	}

	m.mu.Lock()
	m.runs[run.id] = run
	m.mu.Unlock()
	return run.info(), nil
}

// Retry re-runs the failed part of an existing run in the background.
func (m *Manager) Retry(id uuid.UUID) (RunInfo, error) {
	m.mu.RLock()
	run, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return RunInfo{}, ErrRunNotFound
	}
	if err := m.launch(run, true); err != nil {
		return RunInfo{}, err
	}
	return run.info(), nil
}

// Get returns a run by id.
func (m *Manager) Get(id uuid.UUID) (RunInfo, bool) {
	m.mu.RLock()
	run, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return RunInfo{}, false
	}
	return run.info(), true
}

// List returns every run, oldest first.
func (m *Manager) List() []RunInfo {
	m.mu.RLock()
	runs := make([]*managedRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].createdAt.Before(runs[j].createdAt)
	})
	infos := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, run.info())
	}
	return infos
}

// Wait blocks until every background run has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running workflows and waits for them to return, or for
// ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) launch(run *managedRun, retry bool) error {
	work, err := run.handle.start(retry)
	if err != nil {
		return err
	}
	run.touch()

	logger := m.logger.With("run_id", run.id, "workflow", run.workflow, "retry", retry)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer run.touch()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("workflow run panicked", "panic", p)
				run.handle.abort(fmt.Errorf("workflow panicked: %v", p))
			}
		}()
		work(m.ctx)
	}()
	logger.Info("workflow run launched")
	return nil
}
