package task

// Ref is a restricted handle to a node. Holders can read the node and attach
// children to it, but cannot change its terminal state. That belongs to
// whoever created the node and holds its *Task.
type Ref struct {
	tree *Tree
	id   ID
}

// ID returns the node id.
func (r Ref) ID() ID { return r.id }

// Tree returns the tree the node lives in.
func (r Ref) Tree() *Tree { return r.tree }

// Valid reports whether the handle points at a node.
func (r Ref) Valid() bool { return r.tree != nil && r.id != 0 }

// NewChild creates a child node and returns its owning handle.
func (r Ref) NewChild(opts Options) *Task {
	return &Task{Ref: Ref{tree: r.tree, id: r.tree.create(r.id, opts)}}
}

// Title returns the display title.
func (r Ref) Title() (title string) {
	r.tree.read(r.id, func(n *node) { title = n.title })
	return title
}

// Status returns the current status line.
func (r Ref) Status() (status string) {
	r.tree.read(r.id, func(n *node) { status = n.status })
	return status
}

// State returns the recorded state.
func (r Ref) State() (state State) {
	r.tree.read(r.id, func(n *node) { state = n.state })
	return state
}

// Err returns the recorded error, if any.
func (r Ref) Err() (err error) {
	r.tree.read(r.id, func(n *node) { err = n.err })
	return err
}

// Progress returns the current progress, derived from children when the node
// is configured to do so.
func (r Ref) Progress() (progress float64) {
	r.tree.read(r.id, func(n *node) { progress = r.tree.progressLocked(n) })
	return progress
}

// ProgressMax returns the current progress max, derived from children when
// the node is configured to do so.
func (r Ref) ProgressMax() (max float64) {
	r.tree.read(r.id, func(n *node) { max = r.tree.progressMaxLocked(n) })
	return max
}

// Complete reports whether the node has completed. Once true it stays true.
func (r Ref) Complete() (complete bool) {
	r.tree.read(r.id, func(n *node) { complete = n.complete })
	return complete
}

// Children returns the child ids in creation order.
func (r Ref) Children() (children []ID) {
	r.tree.read(r.id, func(n *node) { children = append([]ID(nil), n.children...) })
	return children
}

// Snapshot returns a copy of the node.
func (r Ref) Snapshot() Snapshot {
	snap, _ := r.tree.Snapshot(r.id)
	return snap
}

// Task is the owning handle of a node. It embeds Ref for reads and child
// creation and adds the mutations that only the creator may perform.
type Task struct {
	Ref
}

// SetTitle replaces the display title.
func (t *Task) SetTitle(title string) { t.tree.setTitle(t.id, title) }

// SetStatus replaces the status line.
func (t *Task) SetStatus(status string) { t.tree.setStatus(t.id, status) }

// SetState records a state. It panics when state is not one of the defined
// states.
func (t *Task) SetState(state State) { t.tree.setState(t.id, state) }

// SetError records err and forces the state to StateError.
func (t *Task) SetError(err error) { t.tree.setError(t.id, err) }

// AddStep advances progress by one and sets the status in a single update.
func (t *Task) AddStep(status string) { t.tree.addStep(t.id, status, 1) }

// AddSteps advances progress by increment and sets the status in a single
// update. Progress never exceeds a known progress max.
func (t *Task) AddSteps(status string, increment float64) {
	t.tree.addStep(t.id, status, increment)
}

// SetProgressMax replaces the stored progress max.
func (t *Task) SetProgressMax(max float64) { t.tree.setProgressMax(t.id, max) }

// MarkAsComplete completes the node: progress becomes progress max and the
// status is cleared. It is idempotent.
func (t *Task) MarkAsComplete() { t.tree.markAsComplete(t.id) }

// SetStateBasedOnChildren derives and records the state from the
// auto-updating children and returns it.
func (t *Task) SetStateBasedOnChildren() State { return t.tree.setStateBasedOnChildren(t.id) }

// SetErrorBasedOnChildren copies the error of a lone auto-updating child.
func (t *Task) SetErrorBasedOnChildren() { t.tree.setErrorBasedOnChildren(t.id) }
