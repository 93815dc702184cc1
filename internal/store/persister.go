package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

type nodeKey struct {
	tree uuid.UUID
	node task.ID
}

// Persister buffers task events and writes the newest snapshot of each
// changed node to a TaskNodeStore in batches. It keeps the database out of
// the task tree's hot path: HandleEvent never blocks on I/O.
type Persister struct {
	nodes    TaskNodeStore
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[nodeKey]task.Snapshot

	flushMu sync.Mutex
}

// NewPersister creates a Persister that flushes every interval once Run is
// started.
func NewPersister(nodes TaskNodeStore, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = time.Second
	}
	return &Persister{
		nodes:    nodes,
		interval: interval,
		logger:   logger.With("component", "task_persister"),
		pending:  make(map[nodeKey]task.Snapshot),
	}
}

// HandleEvent implements events.EventHandler.
func (p *Persister) HandleEvent(_ context.Context, event *events.Event) error {
	if event.Type != events.TypeTaskCreated && event.Type != events.TypeTaskUpdated {
		return nil
	}
	var snap task.Snapshot
	if err := event.UnmarshalPayload(&snap); err != nil {
		return fmt.Errorf("failed to decode task event %s: %w", event.ID, err)
	}
	p.merge(snap)
	return nil
}

// merge keeps whichever snapshot of a node has the higher version.
func (p *Persister) merge(snaps ...task.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, snap := range snaps {
		key := nodeKey{tree: snap.TreeID, node: snap.ID}
		if cur, ok := p.pending[key]; ok && cur.Version >= snap.Version {
			continue
		}
		p.pending[key] = snap
	}
}

// Pending returns the number of nodes waiting to be written.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush writes everything buffered so far. On failure the batch is put back
// so the next flush retries it.
func (p *Persister) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := make([]task.Snapshot, 0, len(p.pending))
	for _, snap := range p.pending {
		batch = append(batch, snap)
	}
	p.pending = make(map[nodeKey]task.Snapshot)
	p.mu.Unlock()

	if err := p.nodes.SaveAll(ctx, batch); err != nil {
		p.merge(batch...)
		p.logger.Error("failed to persist task nodes",
			"count", len(batch),
			"error", err)
		return err
	}
	p.logger.Debug("persisted task nodes", "count", len(batch))
	return nil
}

// Run flushes on every tick until ctx is done, then performs a final flush
// with a short grace period.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.Flush(ctx)
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.Flush(finalCtx)
			cancel()
			return
		}
	}
}
