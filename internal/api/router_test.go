package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/receipts"
)

const testSecret = "test-secret-that-is-at-least-32-characters-long"

// flakyDownloader fails each receipt listed in failures once.
type flakyDownloader struct {
	mu       sync.Mutex
	failures map[string]bool
}

func (d *flakyDownloader) DownloadReceipt(_ context.Context, id, dir string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures[id] {
		delete(d.failures, id)
		return "", fmt.Errorf("receipt %s unavailable", id)
	}
	return dir + "/receipt-" + id + ".pdf", nil
}

// stubNodeStore returns fixed history for one tree.
type stubNodeStore struct {
	treeID uuid.UUID
	nodes  []task.Snapshot
	err    error
}

func (s *stubNodeStore) Save(context.Context, task.Snapshot) error      { return nil }
func (s *stubNodeStore) SaveAll(context.Context, []task.Snapshot) error { return nil }

func (s *stubNodeStore) GetNode(_ context.Context, treeID uuid.UUID, nodeID task.ID) (task.Snapshot, error) {
	if s.err != nil {
		return task.Snapshot{}, s.err
	}
	for _, snap := range s.nodes {
		if treeID == s.treeID && snap.ID == nodeID {
			return snap, nil
		}
	}
	return task.Snapshot{}, store.ErrTaskNodeNotFound
}

func (s *stubNodeStore) ListNodes(_ context.Context, treeID uuid.UUID) ([]task.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	if treeID != s.treeID {
		return nil, nil
	}
	return s.nodes, nil
}

type testEnv struct {
	server  *httptest.Server
	manager *workflow.Manager
	hub     *StreamHub
	token   string
}

func newTestEnv(t *testing.T, nodes store.TaskNodeStore, failures ...string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	emitter := events.NewInMemoryEventEmitter(logger)
	hub := NewStreamHub(logger)
	emitter.RegisterHandler(hub)

	tree := task.NewTree(nil, emitter, logger)
	manager := workflow.NewManager(tree, logger)
	failing := make(map[string]bool)
	for _, id := range failures {
		failing[id] = true
	}
	workflow.Register[receipts.Input, receipts.Output](manager,
		receipts.New(&flakyDownloader{failures: failing}, "downloads"))

	queues := queue.NewSet(config.QueuesConfig{
		Tabs:      config.QueueConfig{MaxConcurrent: 2},
		Requests:  config.QueueConfig{MaxConcurrent: 10},
		Downloads: config.QueueConfig{MaxConcurrent: 3},
	}, logger)
	t.Cleanup(queues.Close)

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 5})
	require.NoError(t, err)
	token, err := jwtService.GenerateToken(context.Background(), "operator")
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(Dependencies{
		Manager:    manager,
		Queues:     queues,
		JWTService: jwtService,
		Stream:     hub,
		Nodes:      nodes,
		Logger:     logger,
	}))
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)

	return &testEnv{server: server, manager: manager, hub: hub, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string, authenticated bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil, "R2")

	resp := env.do(t, http.MethodPost, "/api/runs",
		`{"workflow":"receipts","input":{"receipt_ids":["R1","R2"]}}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[workflow.RunInfo](t, resp)
	env.manager.Wait()

	resp = env.do(t, http.MethodGet, "/api/runs/"+started.ID.String(), "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info struct {
		Status     workflow.Status `json:"status"`
		RetryInput receipts.Input  `json:"retry_input"`
		Output     receipts.Output `json:"output"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, workflow.StatePartiallyFailed, info.Status.State)
	assert.True(t, info.Status.CanRetry)
	assert.Equal(t, []string{"R2"}, info.RetryInput.ReceiptIDs)
	assert.Equal(t, map[string]string{"R1": "downloads/receipt-R1.pdf"}, info.Output.Files)

	// The task tree of the run is browsable.
	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", info.Status.TaskID), "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decode[task.Subtree](t, resp)
	assert.Equal(t, task.StateWarning, sub.State)
	assert.Len(t, sub.Nodes, 2)

	resp = env.do(t, http.MethodPost, "/api/runs/"+started.ID.String()+"/retry", "", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.manager.Wait()

	resp = env.do(t, http.MethodGet, "/api/runs", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[RunListResponse](t, resp)
	assert.Equal(t, []string{"receipts"}, list.Workflows)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, workflow.StateSucceeded, list.Runs[0].Status.State)

	resp = env.do(t, http.MethodPost, "/api/runs/"+started.ID.String()+"/retry", "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Nothing to retry", decode[map[string]string](t, resp)["error"])
}

func TestStartRunErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		body       string
		auth       bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "unauthenticated",
			body:       `{"workflow":"receipts","input":{"receipt_ids":["R1"]}}`,
			wantStatus: http.StatusUnauthorized,
			wantError:  "Authorization header required",
		},
		{
			name:       "malformed body",
			body:       `{"workflow":`,
			auth:       true,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request format",
		},
		{
			name:       "missing workflow",
			body:       `{"input":{}}`,
			auth:       true,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid Workflow: required field",
		},
		{
			name:       "unknown workflow",
			body:       `{"workflow":"payroll","input":{}}`,
			auth:       true,
			wantStatus: http.StatusNotFound,
			wantError:  "Unknown workflow",
		},
		{
			name:       "invalid input",
			body:       `{"workflow":"receipts","input":{"receipt_ids":[]}}`,
			auth:       true,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid ReceiptIDs: too short",
		},
		{
			name:       "receipt id with path separator",
			body:       `{"workflow":"receipts","input":{"receipt_ids":["77","../x"]}}`,
			auth:       true,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid ReceiptIDs[1]: invalid characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/runs", tt.body, tt.auth)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.Equal(t, tt.wantError, body["error"])
			assert.NotEmpty(t, body["trace_id"])
		})
	}
}

func TestReadEndpointErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/runs/not-a-uuid", "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/runs/"+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/runs/"+uuid.NewString()+"/retry", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tasks/abc", "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/tasks/999", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/trees/"+uuid.NewString()+"/nodes", "", false)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestTreeHistory(t *testing.T) {
	treeID := uuid.New()
	nodes := &stubNodeStore{
		treeID: treeID,
		nodes: []task.Snapshot{
			{TreeID: treeID, ID: 1, Title: "Receipts", State: task.StateSuccess, Complete: true},
		},
	}
	env := newTestEnv(t, nodes)

	resp := env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[TreeNodesResponse](t, resp)
	require.Len(t, history.Nodes, 1)
	assert.Equal(t, "Receipts", history.Nodes[0].Title)

	resp = env.do(t, http.MethodGet, "/api/trees/"+uuid.NewString()+"/nodes", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes/1", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node := decode[task.Snapshot](t, resp)
	assert.Equal(t, "Receipts", node.Title)
	assert.Equal(t, task.StateSuccess, node.State)

	resp = env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes/2", "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", decode[map[string]string](t, resp)["error"])

	resp = env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes/zero", "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	nodes.err = errors.New("connection refused")
	resp = env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes", "", false)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to load task history", decode[map[string]string](t, resp)["error"])

	resp = env.do(t, http.MethodGet, "/api/trees/"+treeID.String()+"/nodes/1", "", false)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealthQueuesAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "disabled", health.Database)

	resp = env.do(t, http.MethodGet, "/api/queues", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[QueueStatsResponse](t, resp)
	require.Len(t, stats.Queues, 3)
	assert.Equal(t, queue.NameTabs, stats.Queues[0].Name)
	assert.Equal(t, 2, stats.Queues[0].MaxConcurrent)

	resp = env.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskStream(t *testing.T) {
	env := newTestEnv(t, nil)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/tasks/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	root := env.manager.Tree().NewTask(task.Options{Title: "Streamed"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event events.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, events.TypeTaskCreated, event.Type)

	var snap task.Snapshot
	require.NoError(t, event.UnmarshalPayload(&snap))
	assert.Equal(t, root.ID(), snap.ID)
	assert.Equal(t, "Streamed", snap.Title)

	env.hub.Close()
	assert.Equal(t, 0, env.hub.Subscribers())
}
