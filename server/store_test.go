package server_test

import (
	"context"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	server "github.com/agentvault/agentvault-go/server"
	types "github.com/agentvault/agentvault-go/types"
)

func newStore(t *testing.T, buffer int) *server.InMemoryTaskStore {
	t.Helper()
	store := server.NewInMemoryTaskStore(zap.NewNop(), buffer)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTask(t *testing.T, store server.TaskStore) *types.Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), types.NewTextMessage(types.RoleUser, "hello"), nil)
	require.NoError(t, err)
	return task
}

func collectEvents(ch <-chan types.Event) []types.Event {
	var events []types.Event
	for event := range ch {
		events = append(events, event)
	}
	return events
}

func TestCreateAndGetTask(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.TaskStateSubmitted, task.State)
	require.Len(t, task.Messages, 1)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	// snapshots are isolated from the stored task
	got.Messages = append(got.Messages, types.NewTextMessage(types.RoleUser, "extra"))
	again, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 1)
}

func TestGetTaskUnknown(t *testing.T) {
	store := newStore(t, 16)

	_, err := store.GetTask(context.Background(), "nope")
	var notFound *server.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.TaskID)
}

func TestListenerSnapshotFirst(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	require.NoError(t, store.UpdateTaskState(context.Background(), task.ID, types.TaskStateWorking, nil))

	listener, err := store.AddListener(context.Background(), task.ID)
	require.NoError(t, err)

	first := <-listener.Events()
	status, ok := first.(types.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, types.TaskStateWorking, status.State)
	assert.Equal(t, task.ID, status.TaskID)
}

func TestListenersObserveSameOrder(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	a, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)
	b, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateWorking, nil))
	require.NoError(t, store.AppendMessage(ctx, task.ID, types.NewTextMessage(types.RoleAssistant, "working on it")))
	require.NoError(t, store.AppendArtifact(ctx, task.ID, types.Artifact{ID: "a1", Type: "text", Content: "result"}))
	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	eventsA := collectEvents(a.Events())
	eventsB := collectEvents(b.Events())

	require.Len(t, eventsA, 5) // snapshot + 4 broadcasts
	require.Len(t, eventsB, 5)
	for i := range eventsA {
		assert.Equal(t, eventsA[i].EventName(), eventsB[i].EventName(), "event %d", i)
	}

	last := eventsA[len(eventsA)-1].(types.TaskStatusUpdateEvent)
	assert.Equal(t, types.TaskStateCompleted, last.State)
}

func TestLateListenerOnTerminalTask(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateWorking, nil))
	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	listener, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)

	events := collectEvents(listener.Events())
	require.Len(t, events, 1)
	status := events[0].(types.TaskStatusUpdateEvent)
	assert.Equal(t, types.TaskStateCompleted, status.State)
}

func TestDuplicateTerminalTransitionIsNoOp(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateWorking, nil))
	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))
	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateCompleted, got.State)
}

func TestInvalidTransitionRejected(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	err := store.UpdateTaskState(ctx, task.ID, types.TaskStateWorking, nil)
	var invalid *server.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, types.TaskStateCompleted, invalid.From)
	assert.Equal(t, types.TaskStateWorking, invalid.To)
}

func TestAppendToTerminalTaskRejected(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateFailed, nil))

	var invalid *server.InvalidTransitionError
	err := store.AppendMessage(ctx, task.ID, types.NewTextMessage(types.RoleUser, "more"))
	require.ErrorAs(t, err, &invalid)

	err = store.AppendArtifact(ctx, task.ID, types.Artifact{ID: "a1", Type: "text", Content: "x"})
	require.ErrorAs(t, err, &invalid)
}

func TestCancelSignalClosedOnCancel(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	signal, err := store.CancelSignal(task.ID)
	require.NoError(t, err)

	select {
	case <-signal:
		t.Fatal("cancel signal fired before cancellation")
	default:
	}

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCanceled, nil))

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("cancel signal not closed")
	}
}

func TestStalledListenerDetached(t *testing.T) {
	store := newStore(t, 1)
	task := createTask(t, store)
	ctx := context.Background()

	listener, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)

	// the snapshot fills the queue; the next broadcast must detach the
	// listener instead of blocking
	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateWorking, nil))

	events := collectEvents(listener.Events())
	require.Len(t, events, 1)
	status := events[0].(types.TaskStatusUpdateEvent)
	assert.Equal(t, types.TaskStateSubmitted, status.State)

	// the store keeps running without the stalled listener
	require.NoError(t, store.AppendMessage(ctx, task.ID, types.NewTextMessage(types.RoleAssistant, "still here")))
}

func TestTerminalEventDrainableAfterClose(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	listener, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	events := collectEvents(listener.Events())
	require.Len(t, events, 2)
	last := events[1].(types.TaskStatusUpdateEvent)
	assert.Equal(t, types.TaskStateCompleted, last.State)
}

func TestRemoveListener(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx := context.Background()

	listener, err := store.AddListener(ctx, task.ID)
	require.NoError(t, err)

	store.RemoveListener(task.ID, listener)
	// removing twice is safe
	store.RemoveListener(task.ID, listener)

	events := collectEvents(listener.Events())
	require.Len(t, events, 1) // snapshot only
}

func TestRetentionSweeperReapsTerminalTasks(t *testing.T) {
	store := newStore(t, 16)
	task := createTask(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.UpdateTaskState(ctx, task.ID, types.TaskStateCompleted, nil))

	store.StartRetentionSweeper(ctx, time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := store.GetTask(context.Background(), task.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond, "terminal task was not reaped")
}
