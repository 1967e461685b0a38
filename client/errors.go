package client

import (
	"encoding/json"
	"fmt"

	types "github.com/agentvault/agentvault-go/types"
)

// AuthError reports a failure to authenticate a request, either because no
// declared scheme could be satisfied or because the remote kept rejecting
// credentials after a refresh.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectionError wraps a transport failure reaching the remote agent.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
	}
	return "connection failed during " + e.Op
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports an exceeded deadline, including the SSE idle-read
// timeout.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return "timed out during " + e.Op
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RemoteError carries a JSON-RPC error object returned by the remote agent.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote agent error %d: %s", e.Code, e.Message)
}

// TaskNotFoundError is the client-side form of the remote -32001 error.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found on remote agent", e.TaskID)
}

// mapRemoteError promotes well-known codes to their matchable types.
func mapRemoteError(taskID string, rpcErr *types.JSONRPCError) error {
	data, _ := json.Marshal(rpcErr.Data)
	if rpcErr.Data == nil {
		data = nil
	}

	if rpcErr.Code == types.ErrCodeTaskNotFound {
		return &TaskNotFoundError{TaskID: taskID}
	}
	return &RemoteError{Code: rpcErr.Code, Message: rpcErr.Message, Data: data}
}
