package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SSE event names used on the sendSubscribe stream. An unnamed SSE event
// defaults to task_message.
const (
	EventNameTaskStatus   = "task_status"
	EventNameTaskMessage  = "task_message"
	EventNameTaskArtifact = "task_artifact"
	EventNameError        = "error"
)

// Event is one entry on a task's event stream.
type Event interface {
	// EventName is the SSE event name the variant is framed under.
	EventName() string

	// TaskRef is the task the event belongs to; empty for transport errors.
	TaskRef() string
}

// TaskStatusUpdateEvent announces a state transition.
type TaskStatusUpdateEvent struct {
	TaskID    string    `json:"task_id"`
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

func (TaskStatusUpdateEvent) EventName() string { return EventNameTaskStatus }
func (e TaskStatusUpdateEvent) TaskRef() string { return e.TaskID }

// TaskMessageEvent carries a message appended to the task.
type TaskMessageEvent struct {
	TaskID    string    `json:"task_id"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (TaskMessageEvent) EventName() string { return EventNameTaskMessage }
func (e TaskMessageEvent) TaskRef() string { return e.TaskID }

// TaskArtifactUpdateEvent carries an artifact appended to the task.
type TaskArtifactUpdateEvent struct {
	TaskID    string    `json:"task_id"`
	Artifact  Artifact  `json:"artifact"`
	Timestamp time.Time `json:"timestamp"`
}

func (TaskArtifactUpdateEvent) EventName() string { return EventNameTaskArtifact }
func (e TaskArtifactUpdateEvent) TaskRef() string { return e.TaskID }

// StreamErrorEvent is a transport-level error surfaced inside the stream.
// It does not terminate iteration by itself.
type StreamErrorEvent struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (StreamErrorEvent) EventName() string { return EventNameError }
func (StreamErrorEvent) TaskRef() string   { return "" }

// DecodeEvent dispatches a raw SSE data payload on its event name. Unknown
// names are surfaced as StreamErrorEvent entries to preserve forward
// compatibility; only malformed JSON is an error.
func DecodeEvent(name string, data []byte) (Event, error) {
	if name == "" || name == "message" {
		name = EventNameTaskMessage
	}

	switch name {
	case EventNameTaskStatus:
		var e TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return e, nil
	case EventNameTaskMessage:
		var e TaskMessageEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return e, nil
	case EventNameTaskArtifact:
		var e TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return e, nil
	case EventNameError:
		var e StreamErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return e, nil
	default:
		return StreamErrorEvent{
			Code:    "unknown-event",
			Message: fmt.Sprintf("unrecognized stream event %q", name),
			Details: map[string]any{"event": name, "data": string(data)},
		}, nil
	}
}
