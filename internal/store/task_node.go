package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// TaskNodeStore keeps the latest known snapshot of every task node, so that
// task trees can be inspected after the process that ran them has gone.
type TaskNodeStore interface {
	// Save stores snap unless a snapshot of the same node with an equal or
	// higher version is already stored.
	Save(ctx context.Context, snap task.Snapshot) error

	// SaveAll stores several snapshots atomically, with the same version
	// rule as Save.
	SaveAll(ctx context.Context, snaps []task.Snapshot) error

	// GetNode returns the stored snapshot of one node.
	// Returns ErrTaskNodeNotFound if it was never stored.
	GetNode(ctx context.Context, treeID uuid.UUID, nodeID task.ID) (task.Snapshot, error)

	// ListNodes returns every stored node of a tree ordered by node id.
	ListNodes(ctx context.Context, treeID uuid.UUID) ([]task.Snapshot, error)
}
