package server

import (
	"context"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// DefaultListenerBuffer is the per-listener event queue depth.
const DefaultListenerBuffer = 16

// TaskStore owns task state and the per-task listener fan-out. All
// mutations go through the store so every listener observes the same
// ordered event sequence.
type TaskStore interface {
	// CreateTask creates a task in SUBMITTED state seeded with the initial
	// message.
	CreateTask(ctx context.Context, initial types.Message, metadata map[string]any) (*types.Task, error)

	// GetTask returns a snapshot copy of the task.
	GetTask(ctx context.Context, taskID string) (*types.Task, error)

	// UpdateTaskState applies a lifecycle transition, optionally recording a
	// message alongside it, and broadcasts a status event. Re-entering the
	// current terminal state is a silent no-op.
	UpdateTaskState(ctx context.Context, taskID string, state types.TaskState, message *types.Message) error

	// AppendMessage records a message on a non-terminal task and broadcasts
	// a message event.
	AppendMessage(ctx context.Context, taskID string, message types.Message) error

	// AppendArtifact records an artifact and broadcasts an artifact event.
	AppendArtifact(ctx context.Context, taskID string, artifact types.Artifact) error

	// AddListener attaches an event listener. The listener first receives a
	// synthetic status event carrying the task's current state.
	AddListener(ctx context.Context, taskID string) (*TaskListener, error)

	// RemoveListener detaches a listener and closes its channel.
	RemoveListener(taskID string, listener *TaskListener)

	// CancelSignal returns a channel closed when the task enters CANCELED.
	CancelSignal(taskID string) (<-chan struct{}, error)

	// Close detaches every listener and releases resources.
	Close() error
}

// TaskListener is one subscriber of a task's event stream. Events arrive in
// broadcast order; the channel closes when the task terminates or the
// listener is removed.
type TaskListener struct {
	ch     chan types.Event
	closed bool
}

// Events returns the listener's delivery channel.
func (l *TaskListener) Events() <-chan types.Event { return l.ch }

// taskEntry bundles one task with its runtime fan-out state. The entry
// mutex serializes mutation and enqueue so listeners agree on event order.
type taskEntry struct {
	mu        sync.Mutex
	task      *types.Task
	listeners map[*TaskListener]struct{}
	cancel    chan struct{}
	canceled  bool
}

func newTaskEntry(task *types.Task) *taskEntry {
	return &taskEntry{
		task:      task,
		listeners: make(map[*TaskListener]struct{}),
		cancel:    make(chan struct{}),
	}
}

// closeListenerLocked closes a listener's channel exactly once. Callers
// hold the entry mutex, which also excludes concurrent sends.
func (e *taskEntry) closeListenerLocked(l *TaskListener) {
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
	delete(e.listeners, l)
}

// broadcastLocked enqueues an event on every listener. A listener whose
// queue is full is detached rather than allowed to stall the others.
func (e *taskEntry) broadcastLocked(event types.Event, logger *zap.Logger) {
	for l := range e.listeners {
		select {
		case l.ch <- event:
		default:
			logger.Warn("detaching stalled listener",
				zap.String("task_id", e.task.ID),
				zap.String("event", event.EventName()))
			e.closeListenerLocked(l)
		}
	}
}

// addListenerLocked attaches a listener and seeds it with the current
// status snapshot. Listeners attached to a terminal task receive the
// snapshot and an immediate close.
func (e *taskEntry) addListenerLocked(buffer int) *TaskListener {
	l := &TaskListener{ch: make(chan types.Event, buffer)}
	l.ch <- types.TaskStatusUpdateEvent{
		TaskID:    e.task.ID,
		State:     e.task.State,
		Timestamp: e.task.UpdatedAt,
	}

	if e.task.State.Terminal() {
		l.closed = true
		close(l.ch)
		return l
	}

	e.listeners[l] = struct{}{}
	return l
}

// closeAllLocked detaches every listener.
func (e *taskEntry) closeAllLocked() {
	for l := range e.listeners {
		e.closeListenerLocked(l)
	}
}

// InMemoryTaskStore keeps tasks and listener state in process memory.
type InMemoryTaskStore struct {
	mu     sync.RWMutex
	tasks  map[string]*taskEntry
	logger *zap.Logger
	buffer int
}

var _ TaskStore = (*InMemoryTaskStore)(nil)

// NewInMemoryTaskStore creates an in-memory task store.
func NewInMemoryTaskStore(logger *zap.Logger, listenerBuffer int) *InMemoryTaskStore {
	if listenerBuffer < 1 {
		listenerBuffer = DefaultListenerBuffer
	}
	return &InMemoryTaskStore{
		tasks:  make(map[string]*taskEntry),
		logger: logger,
		buffer: listenerBuffer,
	}
}

// CreateTask creates a task in SUBMITTED state.
func (s *InMemoryTaskStore) CreateTask(ctx context.Context, initial types.Message, metadata map[string]any) (*types.Task, error) {
	now := time.Now().UTC()
	task := &types.Task{
		ID:        uuid.NewString(),
		State:     types.TaskStateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []types.Message{initial},
		Metadata:  metadata,
	}

	s.mu.Lock()
	s.tasks[task.ID] = newTaskEntry(task)
	s.mu.Unlock()

	s.logger.Debug("task created", zap.String("task_id", task.ID))
	return task.Clone(), nil
}

func (s *InMemoryTaskStore) entry(taskID string) (*taskEntry, error) {
	s.mu.RLock()
	entry, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewTaskNotFoundError(taskID)
	}
	return entry, nil
}

// GetTask returns a snapshot copy of the task.
func (s *InMemoryTaskStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	entry, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.task.Clone(), nil
}

// UpdateTaskState applies a lifecycle transition and broadcasts it.
func (s *InMemoryTaskStore) UpdateTaskState(ctx context.Context, taskID string, state types.TaskState, message *types.Message) error {
	entry, err := s.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	current := entry.task.State
	if current == state && current.Terminal() {
		return nil
	}
	if !current.CanTransitionTo(state) {
		return NewInvalidTransitionError(taskID, current, state)
	}

	entry.task.State = state
	entry.task.UpdatedAt = time.Now().UTC()
	if message != nil {
		entry.task.Messages = append(entry.task.Messages, *message)
	}

	s.logger.Debug("task state changed",
		zap.String("task_id", taskID),
		zap.String("from", string(current)),
		zap.String("to", string(state)))

	entry.broadcastLocked(types.TaskStatusUpdateEvent{
		TaskID:    taskID,
		State:     state,
		Timestamp: entry.task.UpdatedAt,
		Message:   message,
	}, s.logger)

	if state == types.TaskStateCanceled && !entry.canceled {
		entry.canceled = true
		close(entry.cancel)
	}
	if state.Terminal() {
		entry.closeAllLocked()
	}
	return nil
}

// AppendMessage records a message on a non-terminal task.
func (s *InMemoryTaskStore) AppendMessage(ctx context.Context, taskID string, message types.Message) error {
	entry, err := s.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.task.State.Terminal() {
		return NewInvalidTransitionError(taskID, entry.task.State, entry.task.State)
	}

	entry.task.Messages = append(entry.task.Messages, message)
	entry.task.UpdatedAt = time.Now().UTC()

	entry.broadcastLocked(types.TaskMessageEvent{
		TaskID:    taskID,
		Message:   message,
		Timestamp: entry.task.UpdatedAt,
	}, s.logger)
	return nil
}

// AppendArtifact records an artifact on a non-terminal task.
func (s *InMemoryTaskStore) AppendArtifact(ctx context.Context, taskID string, artifact types.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return err
	}

	entry, err := s.entry(taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.task.State.Terminal() {
		return NewInvalidTransitionError(taskID, entry.task.State, entry.task.State)
	}

	entry.task.Artifacts = append(entry.task.Artifacts, artifact)
	entry.task.UpdatedAt = time.Now().UTC()

	entry.broadcastLocked(types.TaskArtifactUpdateEvent{
		TaskID:    taskID,
		Artifact:  artifact,
		Timestamp: entry.task.UpdatedAt,
	}, s.logger)
	return nil
}

// AddListener attaches an event listener with a snapshot-first guarantee.
func (s *InMemoryTaskStore) AddListener(ctx context.Context, taskID string) (*TaskListener, error) {
	entry, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.addListenerLocked(s.buffer), nil
}

// RemoveListener detaches a listener and closes its channel.
func (s *InMemoryTaskStore) RemoveListener(taskID string, listener *TaskListener) {
	entry, err := s.entry(taskID)
	if err != nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.closeListenerLocked(listener)
}

// CancelSignal returns the task's cancellation channel.
func (s *InMemoryTaskStore) CancelSignal(taskID string) (<-chan struct{}, error) {
	entry, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}
	return entry.cancel, nil
}

// Close detaches every listener.
func (s *InMemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tasks {
		entry.mu.Lock()
		entry.closeAllLocked()
		entry.mu.Unlock()
	}
	return nil
}

// StartRetentionSweeper reaps terminal tasks older than ttl until the
// context ends. Straggler listeners receive the terminal snapshot before
// the task disappears.
func (s *InMemoryTaskStore) StartRetentionSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		s.logger.Info("task retention disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ttl)
			}
		}
	}()
}

func (s *InMemoryTaskStore) sweep(ttl time.Duration) {
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.tasks {
		entry.mu.Lock()
		reap := entry.task.State.Terminal() && entry.task.UpdatedAt.Before(cutoff)
		if reap {
			entry.broadcastLocked(types.TaskStatusUpdateEvent{
				TaskID:    id,
				State:     entry.task.State,
				Timestamp: entry.task.UpdatedAt,
			}, s.logger)
			entry.closeAllLocked()
		}
		entry.mu.Unlock()

		if reap {
			delete(s.tasks, id)
			s.logger.Debug("reaped terminal task", zap.String("task_id", id))
		}
	}
}
