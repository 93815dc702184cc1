package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// memoryNodeStore is a TaskNodeStore kept in a map.
type memoryNodeStore struct {
	mu      sync.Mutex
	nodes   map[nodeKey]task.Snapshot
	batches int
	failing error
}

func newMemoryNodeStore() *memoryNodeStore {
	return &memoryNodeStore{nodes: make(map[nodeKey]task.Snapshot)}
}

func (m *memoryNodeStore) Save(_ context.Context, snap task.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nodeKey{tree: snap.TreeID, node: snap.ID}
	if cur, ok := m.nodes[key]; ok && cur.Version >= snap.Version {
		return nil
	}
	m.nodes[key] = snap
	return nil
}

func (m *memoryNodeStore) SaveAll(ctx context.Context, snaps []task.Snapshot) error {
	m.mu.Lock()
	if m.failing != nil {
		m.mu.Unlock()
		return m.failing
	}
	m.batches++
	m.mu.Unlock()
	for _, snap := range snaps {
		if err := m.Save(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryNodeStore) GetNode(_ context.Context, treeID uuid.UUID, id task.ID) (task.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.nodes[nodeKey{tree: treeID, node: id}]
	if !ok {
		return task.Snapshot{}, ErrTaskNodeNotFound
	}
	return snap, nil
}

func (m *memoryNodeStore) ListNodes(_ context.Context, treeID uuid.UUID) ([]task.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Snapshot
	for key, snap := range m.nodes {
		if key.tree == treeID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPersister_CoalescesUpdates(t *testing.T) {
	nodes := newMemoryNodeStore()
	p := NewPersister(nodes, time.Hour, discardLogger())
	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.RegisterHandler(p)

	tree := task.NewTree(nil, emitter, discardLogger())
	root := tree.NewTask(task.Options{Title: "Receipts", ProgressMax: 3})
	root.AddStep("1")
	root.AddStep("2")
	root.MarkAsComplete()

	assert.Equal(t, 1, p.Pending())
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 1, nodes.batches)

	stored, err := nodes.GetNode(context.Background(), tree.ID(), root.ID())
	require.NoError(t, err)
	assert.True(t, stored.Complete)
	assert.Equal(t, float64(3), stored.Progress)

	live, _ := tree.Snapshot(root.ID())
	assert.Equal(t, live.Version, stored.Version)
}

func TestPersister_KeepsBatchOnFailure(t *testing.T) {
	nodes := newMemoryNodeStore()
	nodes.failing = errors.New("database down")
	p := NewPersister(nodes, time.Hour, discardLogger())

	treeID := uuid.New()
	p.merge(task.Snapshot{TreeID: treeID, ID: 1, Version: 2})

	assert.EqualError(t, p.Flush(context.Background()), "database down")
	assert.Equal(t, 1, p.Pending())

	// A newer update arriving meanwhile wins over the retried batch.
	p.merge(task.Snapshot{TreeID: treeID, ID: 1, Version: 5, Title: "newer"})
	p.merge(task.Snapshot{TreeID: treeID, ID: 1, Version: 2})

	nodes.mu.Lock()
	nodes.failing = nil
	nodes.mu.Unlock()
	require.NoError(t, p.Flush(context.Background()))

	stored, err := nodes.GetNode(context.Background(), treeID, 1)
	require.NoError(t, err)
	assert.Equal(t, "newer", stored.Title)
}

func TestPersister_RunFlushesOnStop(t *testing.T) {
	nodes := newMemoryNodeStore()
	p := NewPersister(nodes, time.Hour, discardLogger())
	p.merge(task.Snapshot{TreeID: uuid.New(), ID: 1, Version: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("persister did not stop")
	}
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 1, nodes.batches)
}

func TestPersister_IgnoresOtherEvents(t *testing.T) {
	p := NewPersister(newMemoryNodeStore(), 0, discardLogger())
	event, err := events.NewEvent("run.finished", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, p.HandleEvent(context.Background(), event))
	assert.Equal(t, 0, p.Pending())
}
