package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphomateke/zra-helper-sub001/internal/events"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

var (
	upsertPattern = regexp.QuoteMeta("INSERT INTO task_nodes")
	selectPattern = regexp.QuoteMeta("SELECT snapshot") + ".*" + regexp.QuoteMeta("node_id = $2")
	listPattern   = regexp.QuoteMeta("ORDER BY node_id ASC")
)

func newMockStore(t *testing.T) (*TaskNodeStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTaskNodeStore(db), mock
}

func sampleSnapshot(treeID uuid.UUID, id, parent task.ID, version int64) task.Snapshot {
	return task.Snapshot{
		TreeID:      treeID,
		ID:          id,
		ParentID:    parent,
		Title:       "Get liabilities",
		State:       task.StateWarning,
		Progress:    2,
		ProgressMax: 4,
		Mode:        task.ProgressDerivedParallel,
		Children:    []task.ID{},
		Version:     version,
	}
}

func TestTaskNodeStore_Save(t *testing.T) {
	ctx := context.Background()
	treeID := uuid.New()

	t.Run("root node has no parent", func(t *testing.T) {
		s, mock := newMockStore(t)
		snap := sampleSnapshot(treeID, 1, 0, 3)

		mock.ExpectExec(upsertPattern).
			WithArgs(treeID, int64(1), nil, "Get liabilities", "warning", false, int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Save(ctx, snap))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("child node records its parent", func(t *testing.T) {
		s, mock := newMockStore(t)
		snap := sampleSnapshot(treeID, 5, 2, 1)

		mock.ExpectExec(upsertPattern).
			WithArgs(treeID, int64(5), int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Save(ctx, snap))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version affects no rows and is not an error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(upsertPattern).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, s.Save(ctx, sampleSnapshot(treeID, 1, 0, 1)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid node id", func(t *testing.T) {
		s, mock := newMockStore(t)
		err := s.Save(ctx, sampleSnapshot(treeID, 0, 0, 1))
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(upsertPattern).WillReturnError(errors.New("connection reset"))

		err := s.Save(ctx, sampleSnapshot(treeID, 1, 0, 1))
		var storeErr *store.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "save", storeErr.Operation)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestTaskNodeStore_SaveAll(t *testing.T) {
	ctx := context.Background()
	treeID := uuid.New()

	t.Run("commits every snapshot", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(upsertPattern).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(upsertPattern).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.SaveAll(ctx, []task.Snapshot{
			sampleSnapshot(treeID, 1, 0, 2),
			sampleSnapshot(treeID, 2, 1, 1),
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(upsertPattern).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(upsertPattern).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.SaveAll(ctx, []task.Snapshot{
			sampleSnapshot(treeID, 1, 0, 2),
			sampleSnapshot(treeID, 2, 1, 1),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch touches nothing", func(t *testing.T) {
		s, mock := newMockStore(t)
		require.NoError(t, s.SaveAll(ctx, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskNodeStore_GetNode(t *testing.T) {
	ctx := context.Background()
	treeID := uuid.New()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		want := sampleSnapshot(treeID, 3, 1, 7)
		payload, err := json.Marshal(want)
		require.NoError(t, err)

		mock.ExpectQuery(selectPattern).
			WithArgs(treeID, int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(payload))

		got, err := s.GetNode(ctx, treeID, 3)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(selectPattern).WillReturnError(sql.ErrNoRows)

		_, err := s.GetNode(ctx, treeID, 9)
		assert.ErrorIs(t, err, store.ErrTaskNodeNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})

	t.Run("query failure is not a miss", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(selectPattern).WillReturnError(errors.New("connection reset"))

		_, err := s.GetNode(ctx, treeID, 2)
		require.Error(t, err)
		assert.False(t, store.IsNotFoundError(err))
		var storeErr *store.StoreError
		assert.ErrorAs(t, err, &storeErr)
	})

	t.Run("corrupt payload", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(selectPattern).
			WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow([]byte("{not json")))

		_, err := s.GetNode(ctx, treeID, 1)
		assert.ErrorContains(t, err, "corrupt snapshot")
	})
}

func TestTaskNodeStore_ListNodes(t *testing.T) {
	ctx := context.Background()
	treeID := uuid.New()
	s, mock := newMockStore(t)

	first, err := json.Marshal(sampleSnapshot(treeID, 1, 0, 4))
	require.NoError(t, err)
	second, err := json.Marshal(sampleSnapshot(treeID, 2, 1, 2))
	require.NoError(t, err)

	mock.ExpectQuery(listPattern).
		WithArgs(treeID).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(first).AddRow(second))

	nodes, err := s.ListNodes(ctx, treeID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, task.ID(1), nodes[0].ID)
	assert.Equal(t, task.ID(1), nodes[1].ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskNodeStore_HandleEvent(t *testing.T) {
	ctx := context.Background()
	treeID := uuid.New()

	t.Run("task events are saved", func(t *testing.T) {
		s, mock := newMockStore(t)
		event, err := events.NewEvent(events.TypeTaskUpdated, sampleSnapshot(treeID, 4, 1, 9))
		require.NoError(t, err)

		mock.ExpectExec(upsertPattern).
			WithArgs(treeID, int64(4), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(9), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.HandleEvent(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other events are ignored", func(t *testing.T) {
		s, mock := newMockStore(t)
		event, err := events.NewEvent("run.started", map[string]string{"id": "x"})
		require.NoError(t, err)

		require.NoError(t, s.HandleEvent(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
