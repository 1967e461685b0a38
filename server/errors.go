package server

import (
	"fmt"

	types "github.com/agentvault/agentvault-go/types"
)

// TaskNotFoundError is returned when a task ID is not found in storage.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// NewTaskNotFoundError creates a new TaskNotFoundError.
func NewTaskNotFoundError(taskID string) *TaskNotFoundError {
	return &TaskNotFoundError{TaskID: taskID}
}

// InvalidTransitionError is returned when a state change violates the task
// lifecycle table.
type InvalidTransitionError struct {
	TaskID string
	From   types.TaskState
	To     types.TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(taskID string, from, to types.TaskState) *InvalidTransitionError {
	return &InvalidTransitionError{TaskID: taskID, From: from, To: to}
}
