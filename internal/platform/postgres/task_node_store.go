package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/logger"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// Compile-time checks.
var (
	_ store.TaskNodeStore = (*TaskNodeStore)(nil)
	_ events.EventHandler = (*TaskNodeStore)(nil)
)

// upsertTaskNodeQuery only overwrites a row with a strictly newer version, so
// events handled out of order never roll a node back.
const upsertTaskNodeQuery = `
	INSERT INTO task_nodes (tree_id, node_id, parent_id, title, state, complete, version, snapshot, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (tree_id, node_id) DO UPDATE
	SET parent_id = EXCLUDED.parent_id,
		title = EXCLUDED.title,
		state = EXCLUDED.state,
		complete = EXCLUDED.complete,
		version = EXCLUDED.version,
		snapshot = EXCLUDED.snapshot,
		updated_at = EXCLUDED.updated_at
	WHERE task_nodes.version < EXCLUDED.version
`

const selectTaskNodeQuery = `
	SELECT snapshot
	FROM task_nodes
	WHERE tree_id = $1 AND node_id = $2
`

const listTaskNodesQuery = `
	SELECT snapshot
	FROM task_nodes
	WHERE tree_id = $1
	ORDER BY node_id ASC
`

// TaskNodeStore implements store.TaskNodeStore using PostgreSQL.
// Registered with an event emitter it mirrors a live task tree.
type TaskNodeStore struct {
	db  store.DBTX
	sql *sql.DB
}

// NewTaskNodeStore creates a TaskNodeStore. db is also used to open
// transactions for SaveAll.
func NewTaskNodeStore(db *sql.DB) *TaskNodeStore {
	return &TaskNodeStore{db: db, sql: db}
}

// WithTx returns a store that runs its statements inside tx.
func (s *TaskNodeStore) WithTx(tx *sql.Tx) *TaskNodeStore {
	return &TaskNodeStore{db: tx, sql: s.sql}
}

// Save implements store.TaskNodeStore.
func (s *TaskNodeStore) Save(ctx context.Context, snap task.Snapshot) error {
	log := logger.FromContext(ctx)

	if snap.ID <= 0 {
		return fmt.Errorf("%w: task node id must be positive", store.ErrInvalidEntity)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	var parentID sql.NullInt64
	if snap.ParentID != 0 {
		parentID = sql.NullInt64{Int64: int64(snap.ParentID), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, upsertTaskNodeQuery,
		snap.TreeID,
		int64(snap.ID),
		parentID,
		snap.Title,
		snap.State.String(),
		snap.Complete,
		snap.Version,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to save task node",
			"tree_id", snap.TreeID,
			"task_id", snap.ID,
			"version", snap.Version,
			"error", err)
		return store.NewStoreError("task_node", "save", "upsert failed", MapError(err))
	}

	return nil
}

// SaveAll implements store.TaskNodeStore.
func (s *TaskNodeStore) SaveAll(ctx context.Context, snaps []task.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if s.sql == nil {
		return fmt.Errorf("%w: SaveAll needs a database handle", store.ErrTransactionFailed)
	}
	return store.RunInTransaction(ctx, s.sql, func(ctx context.Context, tx *sql.Tx) error {
		txStore := s.WithTx(tx)
		for _, snap := range snaps {
			if err := txStore.Save(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode implements store.TaskNodeStore.
func (s *TaskNodeStore) GetNode(ctx context.Context, treeID uuid.UUID, nodeID task.ID) (task.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, selectTaskNodeQuery, treeID, int64(nodeID)).Scan(&payload)
	if err != nil {
		if IsNotFoundError(err) {
			return task.Snapshot{}, store.ErrTaskNodeNotFound
		}
		return task.Snapshot{}, store.NewStoreError("task_node", "get", "query failed", MapError(err))
	}

	var snap task.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return task.Snapshot{}, store.NewStoreError("task_node", "get", "corrupt snapshot", err)
	}
	return snap, nil
}

// ListNodes implements store.TaskNodeStore.
func (s *TaskNodeStore) ListNodes(ctx context.Context, treeID uuid.UUID) ([]task.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, listTaskNodesQuery, treeID)
	if err != nil {
		return nil, store.NewStoreError("task_node", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var snaps []task.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, store.NewStoreError("task_node", "list", "scan failed", err)
		}
		var snap task.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, store.NewStoreError("task_node", "list", "corrupt snapshot", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task_node", "list", "row iteration failed", err)
	}
	return snaps, nil
}

// HandleEvent persists the snapshot carried by task events and ignores
// everything else.
func (s *TaskNodeStore) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeTaskCreated && event.Type != events.TypeTaskUpdated {
		return nil
	}
	var snap task.Snapshot
	if err := event.UnmarshalPayload(&snap); err != nil {
		return fmt.Errorf("failed to decode task event %s: %w", event.ID, err)
	}
	return s.Save(ctx, snap)
}
