package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

const redisTaskKeyPrefix = "a2a:task:"

// RedisTaskStore persists task state in redis so it survives restarts.
// Listener fan-out and cancel signals stay in-process: an event stream is
// a property of the serving node, not the shared state.
type RedisTaskStore struct {
	mu      sync.Mutex
	client  *redis.Client
	entries map[string]*taskEntry
	logger  *zap.Logger
	buffer  int
}

var _ TaskStore = (*RedisTaskStore)(nil)

// NewRedisTaskStore connects to redis and verifies the connection.
func NewRedisTaskStore(ctx context.Context, url string, logger *zap.Logger, listenerBuffer int) (*RedisTaskStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if listenerBuffer < 1 {
		listenerBuffer = DefaultListenerBuffer
	}

	logger.Info("connected to redis task store", zap.String("addr", opts.Addr))
	return &RedisTaskStore{
		client:  client,
		entries: make(map[string]*taskEntry),
		logger:  logger,
		buffer:  listenerBuffer,
	}, nil
}

func redisTaskKey(taskID string) string { return redisTaskKeyPrefix + taskID }

// entryFor returns the runtime entry for a task, creating it when the task
// exists in redis but has no local fan-out state yet (e.g. after restart).
func (s *RedisTaskStore) entryFor(ctx context.Context, taskID string) (*taskEntry, error) {
	s.mu.Lock()
	entry, ok := s.entries[taskID]
	s.mu.Unlock()
	if ok {
		return entry, nil
	}

	exists, err := s.client.Exists(ctx, redisTaskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check task existence: %w", err)
	}
	if exists == 0 {
		return nil, NewTaskNotFoundError(taskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.entries[taskID]; ok {
		return entry, nil
	}
	entry = newTaskEntry(&types.Task{ID: taskID})
	s.entries[taskID] = entry
	return entry, nil
}

// loadLocked reads the persisted task into the entry. Callers hold the
// entry mutex.
func (s *RedisTaskStore) loadLocked(ctx context.Context, entry *taskEntry, taskID string) error {
	data, err := s.client.Get(ctx, redisTaskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewTaskNotFoundError(taskID)
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("failed to decode stored task %s: %w", taskID, err)
	}
	entry.task = &task
	return nil
}

func (s *RedisTaskStore) saveLocked(ctx context.Context, entry *taskEntry) error {
	data, err := json.Marshal(entry.task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := s.client.Set(ctx, redisTaskKey(entry.task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}
	return nil
}

// CreateTask creates a task in SUBMITTED state.
func (s *RedisTaskStore) CreateTask(ctx context.Context, initial types.Message, metadata map[string]any) (*types.Task, error) {
	now := time.Now().UTC()
	task := &types.Task{
		ID:        uuid.NewString(),
		State:     types.TaskStateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []types.Message{initial},
		Metadata:  metadata,
	}

	entry := newTaskEntry(task)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.saveLocked(ctx, entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[task.ID] = entry
	s.mu.Unlock()

	s.logger.Debug("task created", zap.String("task_id", task.ID))
	return task.Clone(), nil
}

// GetTask returns a snapshot copy of the task.
func (s *RedisTaskStore) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	entry, err := s.entryFor(ctx, taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.loadLocked(ctx, entry, taskID); err != nil {
		return nil, err
	}
	return entry.task.Clone(), nil
}

// UpdateTaskState applies a lifecycle transition and broadcasts it.
func (s *RedisTaskStore) UpdateTaskState(ctx context.Context, taskID string, state types.TaskState, message *types.Message) error {
	entry, err := s.entryFor(ctx, taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.loadLocked(ctx, entry, taskID); err != nil {
		return err
	}

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
	if err := s.saveLocked(ctx, entry); err != nil {
		return err
	}

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
func (s *RedisTaskStore) AppendMessage(ctx context.Context, taskID string, message types.Message) error {
	entry, err := s.entryFor(ctx, taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.loadLocked(ctx, entry, taskID); err != nil {
		return err
	}
	if entry.task.State.Terminal() {
		return NewInvalidTransitionError(taskID, entry.task.State, entry.task.State)
	}

	entry.task.Messages = append(entry.task.Messages, message)
	entry.task.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(ctx, entry); err != nil {
		return err
	}

	entry.broadcastLocked(types.TaskMessageEvent{
		TaskID:    taskID,
		Message:   message,
		Timestamp: entry.task.UpdatedAt,
	}, s.logger)
	return nil
}

// AppendArtifact records an artifact on a non-terminal task.
func (s *RedisTaskStore) AppendArtifact(ctx context.Context, taskID string, artifact types.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return err
	}

	entry, err := s.entryFor(ctx, taskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.loadLocked(ctx, entry, taskID); err != nil {
		return err
	}
	if entry.task.State.Terminal() {
		return NewInvalidTransitionError(taskID, entry.task.State, entry.task.State)
	}

	entry.task.Artifacts = append(entry.task.Artifacts, artifact)
	entry.task.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(ctx, entry); err != nil {
		return err
	}

	entry.broadcastLocked(types.TaskArtifactUpdateEvent{
		TaskID:    taskID,
		Artifact:  artifact,
		Timestamp: entry.task.UpdatedAt,
	}, s.logger)
	return nil
}

// AddListener attaches an event listener with a snapshot-first guarantee.
func (s *RedisTaskStore) AddListener(ctx context.Context, taskID string) (*TaskListener, error) {
	entry, err := s.entryFor(ctx, taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.loadLocked(ctx, entry, taskID); err != nil {
		return nil, err
	}
	return entry.addListenerLocked(s.buffer), nil
}

// RemoveListener detaches a listener and closes its channel.
func (s *RedisTaskStore) RemoveListener(taskID string, listener *TaskListener) {
	s.mu.Lock()
	entry, ok := s.entries[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.closeListenerLocked(listener)
}

// CancelSignal returns the task's cancellation channel.
func (s *RedisTaskStore) CancelSignal(taskID string) (<-chan struct{}, error) {
	entry, err := s.entryFor(context.Background(), taskID)
	if err != nil {
		return nil, err
	}
	return entry.cancel, nil
}

// Close detaches every listener and closes the redis connection.
func (s *RedisTaskStore) Close() error {
	s.mu.Lock()
	for _, entry := range s.entries {
		entry.mu.Lock()
		entry.closeAllLocked()
		entry.mu.Unlock()
	}
	s.mu.Unlock()

	return s.client.Close()
}
