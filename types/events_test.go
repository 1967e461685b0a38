package types_test

import (
	"encoding/json"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	types "github.com/agentvault/agentvault-go/types"
)

func TestDecodeEvent(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("task_status", func(t *testing.T) {
		payload, err := json.Marshal(types.TaskStatusUpdateEvent{
			TaskID:    "t1",
			State:     types.TaskStateWorking,
			Timestamp: now,
		})
		require.NoError(t, err)

		event, err := types.DecodeEvent("task_status", payload)
		require.NoError(t, err)

		status, ok := event.(types.TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, "t1", status.TaskRef())
		assert.Equal(t, types.TaskStateWorking, status.State)
	})

	t.Run("unnamed event defaults to task_message", func(t *testing.T) {
		payload, err := json.Marshal(types.TaskMessageEvent{
			TaskID:    "t1",
			Message:   types.NewTextMessage(types.RoleAssistant, "hi echoed"),
			Timestamp: now,
		})
		require.NoError(t, err)

		event, err := types.DecodeEvent("", payload)
		require.NoError(t, err)
		assert.IsType(t, types.TaskMessageEvent{}, event)

		event, err = types.DecodeEvent("message", payload)
		require.NoError(t, err)
		assert.IsType(t, types.TaskMessageEvent{}, event)
	})

	t.Run("unknown event name becomes stream error", func(t *testing.T) {
		event, err := types.DecodeEvent("telemetry", []byte(`{"cpu": 1}`))
		require.NoError(t, err)

		streamErr, ok := event.(types.StreamErrorEvent)
		require.True(t, ok)
		assert.Equal(t, "unknown-event", streamErr.Code)
		assert.Equal(t, "", streamErr.TaskRef())
	})

	t.Run("malformed payload fails", func(t *testing.T) {
		_, err := types.DecodeEvent("task_status", []byte(`{`))
		assert.Error(t, err)
	})
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, "task_status", types.TaskStatusUpdateEvent{}.EventName())
	assert.Equal(t, "task_message", types.TaskMessageEvent{}.EventName())
	assert.Equal(t, "task_artifact", types.TaskArtifactUpdateEvent{}.EventName())
	assert.Equal(t, "error", types.StreamErrorEvent{}.EventName())
}
