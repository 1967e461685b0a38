package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// Agent is the business-logic surface behind the protocol dispatcher. The
// dispatcher translates JSON-RPC methods into these calls and maps returned
// errors back onto wire codes.
type Agent interface {
	// OnSend handles tasks/send. A nil taskID creates a task; a non-nil one
	// appends a follow-up message. Returns the owning task id.
	OnSend(ctx context.Context, taskID *string, message types.Message) (string, error)

	// OnGet handles tasks/get, returning a snapshot of the task.
	OnGet(ctx context.Context, taskID string) (*types.Task, error)

	// OnCancel handles tasks/cancel and reports whether cancellation was
	// accepted.
	OnCancel(ctx context.Context, taskID string) (bool, error)

	// OnSubscribe handles tasks/sendSubscribe by attaching a listener to
	// the task's event stream.
	OnSubscribe(ctx context.Context, taskID string) (*TaskListener, error)
}

// WorkerFunc is the body of a background task worker. Its context is
// cancelled when the task is cancelled or the agent shuts down.
type WorkerFunc func(ctx context.Context, task *types.Task) error

// BaseAgent implements Agent with store-backed defaults and manages
// background workers. Embed it and override the hooks that matter; most
// agents only set a SendHandler.
type BaseAgent struct {
	store  TaskStore
	logger *zap.Logger

	// SendHandler runs after a message is accepted by OnSend. Typical
	// agents spawn a worker here for new tasks.
	SendHandler func(ctx context.Context, task *types.Task, created bool) error

	offloader *ArtifactOffloader

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
	closed bool
}

var _ Agent = (*BaseAgent)(nil)

// NewBaseAgent creates a BaseAgent on top of a task store.
func NewBaseAgent(store TaskStore, logger *zap.Logger) *BaseAgent {
	return &BaseAgent{
		store:  store,
		logger: logger,
		cancel: make(map[string]context.CancelFunc),
	}
}

// Store exposes the underlying task store to embedding agents.
func (a *BaseAgent) Store() TaskStore { return a.store }

// SetArtifactOffloader routes artifacts published through PublishArtifact
// via the offloader before they reach the store.
func (a *BaseAgent) SetArtifactOffloader(o *ArtifactOffloader) { a.offloader = o }

// PublishArtifact records an artifact on the task, offloading oversized
// inline content to storage first when an offloader is configured.
func (a *BaseAgent) PublishArtifact(ctx context.Context, taskID string, artifact types.Artifact) error {
	if a.offloader != nil {
		processed, err := a.offloader.Process(ctx, taskID, artifact)
		if err != nil {
			return err
		}
		artifact = processed
	}
	return a.store.AppendArtifact(ctx, taskID, artifact)
}

// OnSend creates a task for a nil id or appends to an existing one, then
// invokes the SendHandler hook.
func (a *BaseAgent) OnSend(ctx context.Context, taskID *string, message types.Message) (string, error) {
	created := taskID == nil

	var task *types.Task
	var err error
	if created {
		task, err = a.store.CreateTask(ctx, message, nil)
	} else {
		if err = a.store.AppendMessage(ctx, *taskID, message); err == nil {
			task, err = a.store.GetTask(ctx, *taskID)
		}
	}
	if err != nil {
		return "", err
	}

	if a.SendHandler != nil {
		if err := a.SendHandler(ctx, task, created); err != nil {
			return "", err
		}
	}
	return task.ID, nil
}

// OnGet returns a snapshot of the task.
func (a *BaseAgent) OnGet(ctx context.Context, taskID string) (*types.Task, error) {
	return a.store.GetTask(ctx, taskID)
}

// OnCancel moves the task to CANCELED. Cancelling an already-terminal task
// reports not-accepted rather than failing.
func (a *BaseAgent) OnCancel(ctx context.Context, taskID string) (bool, error) {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.State.Terminal() {
		return task.State == types.TaskStateCanceled, nil
	}

	if err := a.store.UpdateTaskState(ctx, taskID, types.TaskStateCanceled, nil); err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OnSubscribe attaches a listener to the task's event stream.
func (a *BaseAgent) OnSubscribe(ctx context.Context, taskID string) (*TaskListener, error) {
	return a.store.AddListener(ctx, taskID)
}

// SpawnWorker runs fn in a tracked goroutine bound to the task's cancel
// signal. A panic or returned error moves the task to FAILED with a
// sanitized message; fn owns all other state transitions.
func (a *BaseAgent) SpawnWorker(taskID string, fn WorkerFunc) error {
	cancelSignal, err := a.store.CancelSignal(taskID)
	if err != nil {
		return err
	}
	task, err := a.store.GetTask(context.Background(), taskID)
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return fmt.Errorf("agent is shutting down")
	}
	a.cancel[taskID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.cancel, taskID)
			a.mu.Unlock()
			cancel()
		}()

		go func() {
			select {
			case <-cancelSignal:
				cancel()
			case <-workerCtx.Done():
			}
		}()

		a.runWorker(workerCtx, task, fn)
	}()
	return nil
}

// runWorker executes fn with panic containment.
func (a *BaseAgent) runWorker(ctx context.Context, task *types.Task, fn WorkerFunc) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("task worker panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			a.failTask(task.ID, "internal processing error")
		}
	}()

	if err := fn(ctx, task); err != nil {
		if ctx.Err() != nil {
			// cancelled: the store already holds the CANCELED state
			a.logger.Debug("task worker stopped by cancellation", zap.String("task_id", task.ID))
			return
		}
		a.logger.Error("task worker failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
		a.failTask(task.ID, "task processing failed")
	}
}

// failTask best-effort moves a task to FAILED with a generic message so
// internal details never reach callers.
func (a *BaseAgent) failTask(taskID, publicReason string) {
	msg := types.NewTextMessage(types.RoleAssistant, publicReason)
	if err := a.store.UpdateTaskState(context.Background(), taskID, types.TaskStateFailed, &msg); err != nil {
		a.logger.Error("failed to record task failure",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// Shutdown cancels all workers and waits for them, bounded by ctx.
func (a *BaseAgent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	for _, cancel := range a.cancel {
		cancel()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
