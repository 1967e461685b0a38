package types

import "encoding/json"

// JSONRPCVersion is the protocol version carried in every envelope.
const JSONRPCVersion = "2.0"

// A2A JSON-RPC method names.
const (
	MethodTasksSend          = "tasks/send"
	MethodTasksGet           = "tasks/get"
	MethodTasksCancel        = "tasks/cancel"
	MethodTasksSendSubscribe = "tasks/sendSubscribe"
)

// JSON-RPC error codes: the standard set plus the application range
// -32000..-32099 reserved for A2A errors.
const (
	ErrCodeParse             = -32700
	ErrCodeInvalidRequest    = -32600
	ErrCodeMethodNotFound    = -32601
	ErrCodeInvalidParams     = -32602
	ErrCodeInternal          = -32603
	ErrCodeApplication       = -32000
	ErrCodeTaskNotFound      = -32001
	ErrCodeInvalidTransition = -32002
)

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is the error member of a failed response.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONRPCSuccessResponse carries a result; Result and Error are exclusive.
type JSONRPCSuccessResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result"`
}

// JSONRPCErrorResponse carries an error object.
type JSONRPCErrorResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Error   *JSONRPCError `json:"error"`
}

// TaskSendParams are the params of tasks/send. A nil ID creates a task.
type TaskSendParams struct {
	ID         *string `json:"id,omitempty"`
	Message    Message `json:"message"`
	WebhookURL *string `json:"webhookUrl,omitempty"`
}

// TaskSendResult acknowledges a send with the owning task id.
type TaskSendResult struct {
	ID string `json:"id"`
}

// TaskIDParams address a single task (tasks/get, tasks/cancel,
// tasks/sendSubscribe).
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskCancelResult reports whether a cancel request was accepted.
type TaskCancelResult struct {
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}
