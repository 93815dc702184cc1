package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/siphomateke/zra-helper-sub001/internal/events"
)

// ID identifies a node within one Tree. The zero ID means "no node".
type ID int64

// IDGenerator hands out node ids. Every id it returns must be unique for the
// lifetime of the tree it is given to.
type IDGenerator interface {
	NextID() ID
}

// CounterIDGenerator returns 1, 2, 3, ... and is safe for concurrent use.
type CounterIDGenerator struct {
	last atomic.Int64
}

// NextID implements IDGenerator.
func (g *CounterIDGenerator) NextID() ID {
	return ID(g.last.Add(1))
}

// Options describe a node at creation time.
type Options struct {
	// Title is the display name of the task.
	Title string

	// Status is the initial status line.
	Status string

	// ProgressMax is the initial progress max. Ignored for derived progress
	// while the node has auto-updating children.
	ProgressMax float64

	// UnknownMaxProgress derives progress from children instead of the stored
	// values, once the node has at least one auto-updating child.
	UnknownMaxProgress bool

	// Sequential makes derived progress follow the first incomplete child
	// instead of summing all children.
	Sequential bool

	// ExcludeFromParent keeps this node out of its parent's progress and state
	// aggregation. Used for informational side tasks.
	ExcludeFromParent bool

	// Indeterminate marks tasks whose progress cannot be measured. Display only.
	Indeterminate bool
}

// node is the stored record of one task. Only the Tree touches it, and only
// while holding the tree lock.
type node struct {
	id               ID
	parent           ID
	title            string
	status           string
	state            State
	err              error
	progress         float64
	progressMax      float64
	mode             ProgressMode
	autoUpdateParent bool
	indeterminate    bool
	complete         bool
	children         []ID
	version          int64
}

// Tree is the shared store of task nodes for one or more runs.
//
// All mutations are serialized by a single lock, and every derived value is
// recomputed from stored state when it is read. Changes are published as
// events after the lock is released.
type Tree struct {
	id      uuid.UUID
	ids     IDGenerator
	emitter events.EventEmitter
	logger  *slog.Logger

	mu    sync.Mutex
	nodes map[ID]*node
}

// NewTree creates an empty tree.
//
// ids may be nil, in which case a CounterIDGenerator is used. emitter may be
// nil when nothing needs to observe the tree. logger may be nil.
func NewTree(ids IDGenerator, emitter events.EventEmitter, logger *slog.Logger) *Tree {
	if ids == nil {
		ids = &CounterIDGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Tree{
		id:      id,
		ids:     ids,
		emitter: emitter,
		logger:  logger.With("component", "task_tree", "tree_id", id),
		nodes:   make(map[ID]*node),
	}
}

// ID returns the unique id of this tree. Node ids are only unique within it.
func (t *Tree) ID() uuid.UUID {
	return t.id
}

// NewTask creates a root node and returns its owning handle.
func (t *Tree) NewTask(opts Options) *Task {
	return &Task{Ref: Ref{tree: t, id: t.create(0, opts)}}
}

// Lookup returns a restricted handle to an existing node.
func (t *Tree) Lookup(id ID) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; !ok {
		return Ref{}, false
	}
	return Ref{tree: t, id: id}, true
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// create adds a node, attaching it to parent unless parent is zero.
func (t *Tree) create(parent ID, opts Options) ID {
	t.mu.Lock()
	id := t.ids.NextID()
	if id == 0 {
		t.mu.Unlock()
		panic("task: id generator returned the zero id")
	}
	if _, exists := t.nodes[id]; exists {
		t.mu.Unlock()
		panic(fmt.Sprintf("task: id generator returned duplicate id %d", id))
	}

	n := &node{
		id:               id,
		parent:           parent,
		title:            opts.Title,
		status:           opts.Status,
		progressMax:      opts.ProgressMax,
		mode:             modeFor(opts.UnknownMaxProgress, opts.Sequential),
		autoUpdateParent: !opts.ExcludeFromParent,
		indeterminate:    opts.Indeterminate,
		version:          1,
	}
	if parent != 0 {
		p := t.mustGet(parent)
		p.children = append(p.children, id)
	}
	t.nodes[id] = n

	created := t.snapshotLocked(n)
	updated := t.ancestorSnapshotsLocked(n, true)
	t.mu.Unlock()

	t.emit(events.TypeTaskCreated, created)
	for _, snap := range updated {
		t.emit(events.TypeTaskUpdated, snap)
	}
	return id
}

// mustGet returns the node with the given id. Callers hold the lock.
// An unknown id is a programming error.
func (t *Tree) mustGet(id ID) *node {
	n, ok := t.nodes[id]
	if !ok {
		panic(fmt.Sprintf("task: unknown task id %d", id))
	}
	return n
}

// mutate applies fn to a node under the lock and publishes the result. fn
// returns false when it made no change, and so does mutate.
func (t *Tree) mutate(id ID, fn func(n *node) bool) bool {
	t.mu.Lock()
	n := t.mustGet(id)
	if !fn(n) {
		t.mu.Unlock()
		return false
	}
	n.version++
	snaps := []Snapshot{t.snapshotLocked(n)}
	snaps = append(snaps, t.ancestorSnapshotsLocked(n, false)...)
	t.mu.Unlock()

	for _, snap := range snaps {
		t.emit(events.TypeTaskUpdated, snap)
	}
	return true
}

// ancestorSnapshotsLocked bumps and snapshots every ancestor whose derived
// values depend on n. structural is true when n was just attached, which
// changes the parent's child list regardless of mode.
func (t *Tree) ancestorSnapshotsLocked(n *node, structural bool) []Snapshot {
	if t.emitter == nil {
		return nil
	}
	var snaps []Snapshot
	child := n
	for child.parent != 0 {
		p := t.mustGet(child.parent)
		affected := structural || (child.autoUpdateParent && !p.complete && p.mode != ProgressStored)
		if !affected {
			break
		}
		p.version++
		snaps = append(snaps, t.snapshotLocked(p))
		structural = false
		child = p
	}
	return snaps
}

// autoChildrenLocked returns the children that take part in aggregation, in
// creation order.
func (t *Tree) autoChildrenLocked(n *node) []*node {
	children := make([]*node, 0, len(n.children))
	for _, id := range n.children {
		c := t.mustGet(id)
		if c.autoUpdateParent {
			children = append(children, c)
		}
	}
	return children
}

// effectiveModeLocked falls back to stored progress while a derived node has
// nothing to derive from.
func (t *Tree) effectiveModeLocked(n *node) ProgressMode {
	if n.mode == ProgressStored || n.complete {
		return ProgressStored
	}
	for _, id := range n.children {
		if t.mustGet(id).autoUpdateParent {
			return n.mode
		}
	}
	return ProgressStored
}

// currentChildLocked is the child a sequential node follows: the first
// incomplete auto-updating child in creation order, or the last one when all
// have completed.
func (t *Tree) currentChildLocked(n *node) *node {
	children := t.autoChildrenLocked(n)
	for _, c := range children {
		if !c.complete {
			return c
		}
	}
	return children[len(children)-1]
}

func (t *Tree) progressLocked(n *node) float64 {
	switch t.effectiveModeLocked(n) {
	case ProgressDerivedSequential:
		return t.progressLocked(t.currentChildLocked(n))
	case ProgressDerivedParallel:
		var sum float64
		for _, c := range t.autoChildrenLocked(n) {
			sum += t.progressLocked(c)
		}
		return sum
	default:
		return n.progress
	}
}

func (t *Tree) progressMaxLocked(n *node) float64 {
	switch t.effectiveModeLocked(n) {
	case ProgressDerivedSequential:
		return t.progressMaxLocked(t.currentChildLocked(n))
	case ProgressDerivedParallel:
		var sum float64
		for _, c := range t.autoChildrenLocked(n) {
			sum += t.progressMaxLocked(c)
		}
		return sum
	default:
		return n.progressMax
	}
}

// clampLocked keeps stored progress within [0, progressMax] for nodes whose
// max is known.
func clampLocked(n *node) {
	if n.progress < 0 {
		n.progress = 0
	}
	if n.mode == ProgressStored && n.progress > n.progressMax {
		n.progress = n.progressMax
	}
}

func (t *Tree) setState(id ID, state State) {
	if !state.Valid() {
		panic(fmt.Sprintf("task: invalid state %d", int(state)))
	}
	t.mutate(id, func(n *node) bool {
		if n.state == state {
			return false
		}
		n.state = state
		return true
	})
}

func (t *Tree) setError(id ID, err error) {
	t.mutate(id, func(n *node) bool {
		n.err = err
		n.state = StateError
		return true
	})
}

func (t *Tree) setStatus(id ID, status string) {
	t.mutate(id, func(n *node) bool {
		if n.complete || n.status == status {
			return false
		}
		n.status = status
		return true
	})
}

func (t *Tree) setTitle(id ID, title string) {
	t.mutate(id, func(n *node) bool {
		if n.title == title {
			return false
		}
		n.title = title
		return true
	})
}

// addStep adds increment to the stored progress and replaces the status in
// one step. Completed nodes are left untouched.
func (t *Tree) addStep(id ID, status string, increment float64) {
	t.mutate(id, func(n *node) bool {
		if n.complete {
			return false
		}
		n.status = status
		n.progress += increment
		clampLocked(n)
		return true
	})
}

// step adds increment to the stored progress without touching the status.
func (t *Tree) step(id ID, increment float64) {
	t.mutate(id, func(n *node) bool {
		if n.complete {
			return false
		}
		n.progress += increment
		clampLocked(n)
		return true
	})
}

func (t *Tree) setProgressMax(id ID, max float64) {
	t.mutate(id, func(n *node) bool {
		if n.complete {
			return false
		}
		n.progressMax = max
		clampLocked(n)
		return true
	})
}

// configureParallel switches a node to stored, non-sequential progress. When
// setMax is true its progress max becomes max.
func (t *Tree) configureParallel(id ID, max float64, setMax bool) {
	t.mutate(id, func(n *node) bool {
		if n.complete {
			return false
		}
		n.mode = ProgressStored
		if setMax {
			n.progressMax = max
		}
		clampLocked(n)
		return true
	})
}

// markAsComplete freezes the node at progress == progressMax and clears its
// status. Completing twice is a no-op.
func (t *Tree) markAsComplete(id ID) {
	var state State
	completed := t.mutate(id, func(n *node) bool {
		if n.complete {
			return false
		}
		max := t.progressMaxLocked(n)
		n.progressMax = max
		n.progress = max
		n.status = ""
		n.complete = true
		state = n.state
		return true
	})
	if completed {
		tasksCompleted.WithLabelValues(state.String()).Inc()
	}
}

// stateFromChildren derives a state from the auto-updating children: error
// when all of them failed, warning when any failed or warned, success
// otherwise. ok is false when there are no auto-updating children.
func (t *Tree) stateFromChildrenLocked(n *node) (state State, ok bool) {
	children := t.autoChildrenLocked(n)
	if len(children) == 0 {
		return StateSuccess, false
	}
	errored, warned := 0, 0
	for _, c := range children {
		switch c.state {
		case StateError:
			errored++
		case StateWarning:
			warned++
		}
	}
	switch {
	case errored == len(children):
		return StateError, true
	case errored > 0 || warned > 0:
		return StateWarning, true
	default:
		return StateSuccess, true
	}
}

func (t *Tree) setStateBasedOnChildren(id ID) State {
	var derived State
	t.mutate(id, func(n *node) bool {
		derived, _ = t.stateFromChildrenLocked(n)
		if n.state == derived {
			return false
		}
		n.state = derived
		return true
	})
	return derived
}

// setErrorBasedOnChildren copies the error of a lone auto-updating child up
// to the node.
func (t *Tree) setErrorBasedOnChildren(id ID) {
	t.mutate(id, func(n *node) bool {
		children := t.autoChildrenLocked(n)
		if len(children) != 1 || children[0].err == nil {
			return false
		}
		n.err = children[0].err
		return true
	})
}

// childErrors returns the errors recorded on auto-updating children.
func (t *Tree) childErrors(id ID) []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, c := range t.autoChildrenLocked(t.mustGet(id)) {
		if c.err != nil {
			errs = append(errs, c.err)
		}
	}
	return errs
}

func (t *Tree) hasAutoChildren(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.autoChildrenLocked(t.mustGet(id))) > 0
}

// read runs fn against a node under the lock.
func (t *Tree) read(id ID, fn func(n *node)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.mustGet(id))
}

func (t *Tree) emit(eventType string, snap Snapshot) {
	if t.emitter == nil {
		return
	}
	event, err := events.NewEvent(eventType, snap)
	if err != nil {
		t.logger.Error("failed to encode task event",
			"task_id", snap.ID,
			"event_type", eventType,
			"error", err)
		return
	}
	if err := t.emitter.EmitEvent(context.Background(), event); err != nil {
		t.logger.Warn("task event not fully handled",
			"task_id", snap.ID,
			"event_type", eventType,
			"error", err)
	}
}
