// Package client implements the calling side of the A2A protocol: JSON-RPC
// over HTTPS with card-driven authentication and SSE streaming.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

const (
	// DefaultRequestTimeout bounds a unary call when the caller's context
	// carries no deadline.
	DefaultRequestTimeout = 30 * time.Second

	defaultUserAgent = "agentvault-go/1.0"
)

// Client talks to a single remote agent described by its card. Safe for
// concurrent use.
type Client struct {
	card        *types.AgentCard
	endpoint    string
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
	auth        *authenticator
	timeout     time.Duration
	idleTimeout time.Duration
	userAgent   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRequestTimeout sets the default per-call deadline for unary calls.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithIdleTimeout sets the maximum silence tolerated on an event stream.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.idleTimeout = timeout }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// New builds a client for the agent the card describes. The card endpoint
// must be HTTPS unless it points at a loopback host.
func New(card *types.AgentCard, creds CredentialSource, opts ...Option) (*Client, error) {
	if card == nil {
		return nil, fmt.Errorf("agent card is required")
	}

	parsed, err := url.Parse(card.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("card endpoint %q is not an http(s) URL", card.URL)
	}
	if parsed.Scheme == "http" && !types.IsLocalEndpoint(card.URL) {
		return nil, fmt.Errorf("card endpoint %q must use https for non-local hosts", card.URL)
	}

	c := &Client{
		card:        card,
		baseURL:     strings.TrimSuffix(card.URL, "/"),
		logger:      zap.NewNop(),
		timeout:     DefaultRequestTimeout,
		idleTimeout: DefaultIdleTimeout,
		userAgent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	c.endpoint = c.baseURL + "/a2a"
	c.auth = newAuthenticator(card, creds, c.httpClient, c.logger)
	return c, nil
}

// SendOptions tune a tasks/send call.
type SendOptions struct {
	// WebhookURL is a push-notification hint forwarded to the remote agent.
	WebhookURL string

	// MCPContext is attached under the message's mcp_context metadata key.
	MCPContext map[string]any
}

// InitiateTask starts a new task with an initial message and returns the
// remote task id.
func (c *Client) InitiateTask(ctx context.Context, message types.Message, opts *SendOptions) (string, error) {
	params := buildSendParams(nil, message, opts)

	raw, err := c.call(ctx, types.MethodTasksSend, "", params)
	if err != nil {
		return "", err
	}

	var result types.TaskSendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ConnectionError{Op: "decode tasks/send result", Err: err}
	}
	if result.ID == "" {
		return "", &ConnectionError{Op: "tasks/send", Err: fmt.Errorf("remote agent returned no task id")}
	}

	c.logger.Debug("task initiated", zap.String("task_id", result.ID))
	return result.ID, nil
}

// SendMessage appends a message to an existing task.
func (c *Client) SendMessage(ctx context.Context, taskID string, message types.Message, opts *SendOptions) (bool, error) {
	params := buildSendParams(&taskID, message, opts)

	if _, err := c.call(ctx, types.MethodTasksSend, taskID, params); err != nil {
		return false, err
	}
	return true, nil
}

// GetTaskStatus fetches the full current task snapshot.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*types.Task, error) {
	raw, err := c.call(ctx, types.MethodTasksGet, taskID, types.TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	var task types.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, &ConnectionError{Op: "decode tasks/get result", Err: err}
	}
	return &task, nil
}

// TerminateTask requests cancellation and reports whether the remote agent
// accepted it.
func (c *Client) TerminateTask(ctx context.Context, taskID string) (bool, error) {
	raw, err := c.call(ctx, types.MethodTasksCancel, taskID, types.TaskIDParams{ID: taskID})
	if err != nil {
		return false, err
	}

	var result types.TaskCancelResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, &ConnectionError{Op: "decode tasks/cancel result", Err: err}
	}
	return result.Success, nil
}

// ReceiveMessages subscribes to a task's event stream and delivers events
// until the task reaches a terminal state, the context ends, or the
// connection drops. The caller owns the channel; it is not closed here.
func (c *Client) ReceiveMessages(ctx context.Context, taskID string, events chan<- types.Event) error {
	paramsJSON, err := json.Marshal(types.TaskIDParams{ID: taskID})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe params: %w", err)
	}
	body, err := json.Marshal(types.JSONRPCRequest{
		JSONRPC: types.JSONRPCVersion,
		ID:      uuid.NewString(),
		Method:  types.MethodTasksSendSubscribe,
		Params:  paramsJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe request: %w", err)
	}

	resp, err := c.post(ctx, body, "text/event-stream", taskID)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close stream body", zap.Error(closeErr))
		}
	}()

	if contentType := resp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		return c.decodeStreamRefusal(resp, taskID)
	}

	c.logger.Debug("subscribed to task stream", zap.String("task_id", taskID))
	return c.readEvents(ctx, taskID, resp.Body, events)
}

// decodeStreamRefusal handles a JSON error body where a stream was expected.
func (c *Client) decodeStreamRefusal(resp *http.Response, taskID string) error {
	var envelope struct {
		Error *types.JSONRPCError `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&envelope); err == nil && envelope.Error != nil {
		return mapRemoteError(taskID, envelope.Error)
	}
	return &ConnectionError{Op: "subscribe", Err: fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))}
}

// GetCard fetches the agent's published card from its well-known location.
func (c *Client) GetCard(ctx context.Context) (*types.AgentCard, error) {
	var card types.AgentCard
	if err := c.getJSON(ctx, c.baseURL+"/.well-known/agent-card.json", &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// GetHealth probes the agent's health endpoint.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, c.baseURL+"/health", &health); err != nil {
		return nil, err
	}
	if health.Status == "" {
		return nil, &ConnectionError{Op: "health check", Err: fmt.Errorf("response missing status field")}
	}
	return &health, nil
}

// call performs one unary JSON-RPC exchange and returns the raw result.
func (c *Client) call(ctx context.Context, method, taskID string, params any) (json.RawMessage, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	body, err := json.Marshal(types.JSONRPCRequest{
		JSONRPC: types.JSONRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.Debug("sending request", zap.String("method", method), zap.String("url", c.endpoint))

	resp, err := c.post(ctx, body, "application/json", taskID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{Op: method, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var envelope struct {
		Result json.RawMessage     `json:"result"`
		Error  *types.JSONRPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &ConnectionError{Op: "decode response", Err: err}
	}
	if envelope.Error != nil {
		return nil, mapRemoteError(taskID, envelope.Error)
	}
	return envelope.Result, nil
}

// post sends the body with auth applied, retrying exactly once after a 401
// with refreshed credentials.
func (c *Client) post(ctx context.Context, body []byte, accept, taskID string) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, &ConnectionError{Op: "build request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", c.userAgent)

		scheme, err := c.auth.apply(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, c.transportError("request", err)
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		drainAndClose(resp.Body)
		if attempt == 0 {
			c.logger.Debug("request unauthorized, refreshing credentials",
				zap.String("task_id", taskID))
			c.auth.invalidate(scheme)
		}
	}

	return nil, &AuthError{Reason: "remote agent rejected credentials"}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &ConnectionError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("request", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{Op: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ConnectionError{Op: "decode response", Err: err}
	}
	return nil
}

// transportError distinguishes deadline expiry from other transport faults.
func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}

func buildSendParams(taskID *string, message types.Message, opts *SendOptions) types.TaskSendParams {
	params := types.TaskSendParams{ID: taskID, Message: message}
	if opts == nil {
		return params
	}

	if opts.WebhookURL != "" {
		params.WebhookURL = &opts.WebhookURL
	}
	if opts.MCPContext != nil {
		if params.Message.Metadata == nil {
			params.Message.Metadata = make(map[string]any, 1)
		}
		params.Message.Metadata[types.MCPContextKey] = opts.MCPContext
	}
	return params
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
