package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

func newTestManager(wf *itemsWorkflow) *Manager {
	m := NewManager(task.NewTree(nil, nil, setupTestLogger()), setupTestLogger())
	Register[itemsInput, map[string]string](m, wf)
	return m
}

func TestManagerStartAndRetry(t *testing.T) {
	m := newTestManager(newItemsWorkflow(map[string]int{"B": 1}))
	assert.Equal(t, []string{"items"}, m.Workflows())

	info, err := m.Start("items", json.RawMessage(`{"items":["A","B"]}`))
	require.NoError(t, err)
	assert.Equal(t, "items", info.Workflow)
	m.Wait()

	info, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, StatePartiallyFailed, info.Status.State)
	assert.Equal(t, itemsInput{Items: []string{"B"}}, info.RetryInput)
	assert.Equal(t, map[string]string{"A": "done A"}, info.Output)

	_, err = m.Retry(info.ID)
	require.NoError(t, err)
	m.Wait()

	info, _ = m.Get(info.ID)
	assert.Equal(t, StateSucceeded, info.Status.State)
	assert.Nil(t, info.RetryInput)
	assert.Equal(t, 2, info.Status.Attempts)

	_, err = m.Retry(info.ID)
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestManagerStartErrors(t *testing.T) {
	m := newTestManager(newItemsWorkflow(nil))

	_, err := m.Start("unknown", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	_, err = m.Start("items", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Start("items", json.RawMessage(`{"items":[]}`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Retry(uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, ok := m.Get(uuid.New())
	assert.False(t, ok)
	assert.Empty(t, m.List())
}

func TestManagerList(t *testing.T) {
	m := newTestManager(newItemsWorkflow(nil))

	first, err := m.Start("items", json.RawMessage(`{"items":["A"]}`))
	require.NoError(t, err)
	second, err := m.Start("items", json.RawMessage(`{"items":["B"]}`))
	require.NoError(t, err)
	m.Wait()

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
	for _, run := range runs {
		assert.Equal(t, StateSucceeded, run.Status.State)
	}
}

func TestManagerShutdownCancelsRuns(t *testing.T) {
	wf := newItemsWorkflow(nil)
	wf.block = make(chan struct{})
	m := newTestManager(wf)

	info, err := m.Start("items", json.RawMessage(`{"items":["A"]}`))
	require.NoError(t, err)

	_, err = m.Retry(info.ID)
	assert.ErrorIs(t, err, ErrRunInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	info, _ = m.Get(info.ID)
	assert.Equal(t, StateFailed, info.Status.State)
	assert.Equal(t, context.Canceled.Error(), info.Status.Error)
}
