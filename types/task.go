package types

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle state of a task. Transitions are restricted to
// the fixed state machine below; everything else is rejected by the store.
type TaskState string

// TaskState enum values
const (
	TaskStateSubmitted     TaskState = "SUBMITTED"
	TaskStateWorking       TaskState = "WORKING"
	TaskStateInputRequired TaskState = "INPUT_REQUIRED"
	TaskStateCompleted     TaskState = "COMPLETED"
	TaskStateFailed        TaskState = "FAILED"
	TaskStateCanceled      TaskState = "CANCELED"
)

var taskTransitions = map[TaskState][]TaskState{
	TaskStateSubmitted:     {TaskStateWorking, TaskStateFailed, TaskStateCanceled},
	TaskStateWorking:       {TaskStateInputRequired, TaskStateCompleted, TaskStateFailed, TaskStateCanceled},
	TaskStateInputRequired: {TaskStateWorking, TaskStateFailed, TaskStateCanceled},
	TaskStateCompleted:     {},
	TaskStateFailed:        {},
	TaskStateCanceled:      {},
}

// IsValid checks if the TaskState is one of the supported values.
func (s TaskState) IsValid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Artifact is a task output. Exactly one of Content / URI carries the
// payload; large payloads are offloaded to URI form by the server.
type Artifact struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Content   any     `json:"content,omitempty"`
	MediaType *string `json:"media_type,omitempty"`
	URI       *string `json:"uri,omitempty"`
}

// Validate enforces the content-xor-uri invariant.
func (a Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact requires an id")
	}
	hasContent := a.Content != nil
	hasURI := a.URI != nil && *a.URI != ""
	if hasContent == hasURI {
		return fmt.Errorf("artifact %s: exactly one of content or uri must be set", a.ID)
	}
	return nil
}

// Task is a server-side long-running unit of work: identity, lifecycle
// state, and the messages and artifacts accumulated while processing.
type Task struct {
	ID        string         `json:"id"`
	State     TaskState      `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Messages  []Message      `json:"messages"`
	Artifacts []Artifact     `json:"artifacts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy for snapshot reads: slices are copied so
// callers cannot observe later store mutations.
func (t *Task) Clone() *Task {
	snapshot := *t
	snapshot.Messages = make([]Message, len(t.Messages))
	copy(snapshot.Messages, t.Messages)
	snapshot.Artifacts = make([]Artifact, len(t.Artifacts))
	copy(snapshot.Artifacts, t.Artifacts)
	if t.Metadata != nil {
		snapshot.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			snapshot.Metadata[k] = v
		}
	}
	return &snapshot
}
