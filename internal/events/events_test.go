package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	type testPayload struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}

	payload := testPayload{ID: 7, Status: "Fetching page 2"}

	event, err := NewEvent(TypeTaskUpdated, payload)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeTaskUpdated, event.Type)
	assert.NotNil(t, event.Payload)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var decoded testPayload
	err = json.Unmarshal(event.Payload, &decoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestNewEventUnmarshalablePayload(t *testing.T) {
	_, err := NewEvent(TypeTaskCreated, make(chan int))
	assert.Error(t, err)
}

func TestUnmarshalPayload(t *testing.T) {
	event, err := NewEvent(TypeTaskCreated, map[string]int{"progress": 3})
	require.NoError(t, err)

	var decoded map[string]int
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, 3, decoded["progress"])

	var wrong []string
	assert.Error(t, event.UnmarshalPayload(&wrong))
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *Event
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *Event) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandlerFunc(t *testing.T) {
	var got *Event
	handler := EventHandlerFunc(func(ctx context.Context, event *Event) error {
		got = event
		return errors.New("boom")
	})

	event, err := NewEvent(TypeTaskCreated, nil)
	require.NoError(t, err)

	err = handler.HandleEvent(context.Background(), event)
	assert.EqualError(t, err, "boom")
	assert.Same(t, event, got)
}
