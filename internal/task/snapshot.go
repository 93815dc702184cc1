package task

import (
	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of one node, with derived values resolved.
type Snapshot struct {
	TreeID           uuid.UUID    `json:"tree_id"`
	ID               ID           `json:"id"`
	ParentID         ID           `json:"parent_id,omitempty"`
	Title            string       `json:"title"`
	Status           string       `json:"status"`
	State            State        `json:"state"`
	Error            string       `json:"error,omitempty"`
	Progress         float64      `json:"progress"`
	ProgressMax      float64      `json:"progress_max"`
	Mode             ProgressMode `json:"mode"`
	Complete         bool         `json:"complete"`
	Indeterminate    bool         `json:"indeterminate"`
	AutoUpdateParent bool         `json:"auto_update_parent"`
	Children         []ID         `json:"children"`
	Version          int64        `json:"version"`
}

// Subtree is a snapshot of a node together with all of its descendants.
type Subtree struct {
	Snapshot
	Nodes []*Subtree `json:"nodes,omitempty"`
}

func (t *Tree) snapshotLocked(n *node) Snapshot {
	snap := Snapshot{
		TreeID:           t.id,
		ID:               n.id,
		ParentID:         n.parent,
		Title:            n.title,
		Status:           n.status,
		State:            n.state,
		Progress:         t.progressLocked(n),
		ProgressMax:      t.progressMaxLocked(n),
		Mode:             n.mode,
		Complete:         n.complete,
		Indeterminate:    n.indeterminate,
		AutoUpdateParent: n.autoUpdateParent,
		Children:         append([]ID(nil), n.children...),
		Version:          n.version,
	}
	if n.err != nil {
		snap.Error = n.err.Error()
	}
	return snap
}

// Snapshot returns a copy of the node with the given id.
func (t *Tree) Snapshot(id ID) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshotLocked(n), true
}

// Subtree returns a consistent copy of a node and everything below it.
func (t *Tree) Subtree(id ID) (*Subtree, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return t.subtreeLocked(n), true
}

func (t *Tree) subtreeLocked(n *node) *Subtree {
	sub := &Subtree{Snapshot: t.snapshotLocked(n)}
	for _, id := range n.children {
		sub.Nodes = append(sub.Nodes, t.subtreeLocked(t.mustGet(id)))
	}
	return sub
}
