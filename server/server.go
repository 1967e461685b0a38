// Package server implements the A2A protocol surface: a JSON-RPC 2.0
// dispatcher over HTTP POST with an SSE streaming variant, backed by a task
// store and an agent implementation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	zap "go.uber.org/zap"

	card "github.com/agentvault/agentvault-go/card"
	config "github.com/agentvault/agentvault-go/server/config"
	middlewares "github.com/agentvault/agentvault-go/server/middlewares"
	otel "github.com/agentvault/agentvault-go/server/otel"
	types "github.com/agentvault/agentvault-go/types"
)

// maxRequestBytes bounds a JSON-RPC request body.
const maxRequestBytes = 4 * 1024 * 1024

// A2AServer serves the A2A protocol for one agent.
type A2AServer struct {
	cfg       *config.Config
	logger    *zap.Logger
	agent     Agent
	store     TaskStore
	responder ResponseSender
	telemetry otel.Telemetry
	webhooks  *WebhookSender
	auth      middlewares.Authenticator

	agentCard *types.AgentCard

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewA2AServer wires the server from its collaborators. A nil telemetry
// disables metrics recording.
func NewA2AServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, agent Agent, store TaskStore) (*A2AServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if agent == nil {
		return nil, fmt.Errorf("agent cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	auth, err := middlewares.NewAuthenticator(ctx, logger, cfg.AuthConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}

	s := &A2AServer{
		cfg:       cfg,
		logger:    logger,
		agent:     agent,
		store:     store,
		responder: NewDefaultResponseSender(logger),
		webhooks:  NewWebhookSender(store, cfg.WebhookConfig, logger),
		auth:      auth,
	}

	if cfg.TelemetryConfig.Enable {
		telemetry, err := otel.NewTelemetry(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		s.telemetry = telemetry
	}

	if cfg.AgentCardFilePath != "" {
		if err := s.LoadAgentCardFromFile(cfg.AgentCardFilePath); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetAgentCard sets the card served at the well-known path.
func (s *A2AServer) SetAgentCard(c *types.AgentCard) { s.agentCard = c }

// LoadAgentCardFromFile loads and validates the agent card from disk.
func (s *A2AServer) LoadAgentCardFromFile(path string) error {
	c, err := card.FromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load agent card: %w", err)
	}
	s.agentCard = c
	s.logger.Info("agent card loaded",
		zap.String("path", path),
		zap.String("hri", c.HumanReadableID))
	return nil
}

// setupRouter builds the gin engine with recovery, logging, auth and the
// protocol routes.
func (s *A2AServer) setupRouter() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("handler panicked", zap.Any("panic", recovered))
		s.responder.SendError(c, nil, types.ErrCodeInternal, "internal error")
		c.Abort()
	}))
	r.Use(middlewares.LoggingMiddleware(s.logger, s.cfg.ServerConfig.DisableHealthcheckLog))

	r.GET("/health", s.handleHealth)
	r.GET("/.well-known/agent-card.json", s.handleAgentCard)
	r.POST("/a2a", s.auth.Middleware(), s.handleA2ARequest)

	return r
}

func (s *A2AServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *A2AServer) handleAgentCard(c *gin.Context) {
	if s.agentCard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent card not configured"})
		return
	}
	c.JSON(http.StatusOK, s.agentCard)
}

// handleA2ARequest parses the JSON-RPC envelope and dispatches on method.
func (s *A2AServer) handleA2ARequest(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		s.sendError(c, "", nil, types.ErrCodeParse, "failed to read request body")
		return
	}

	var req types.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(c, "", nil, types.ErrCodeParse, "invalid JSON payload")
		return
	}

	if req.JSONRPC != types.JSONRPCVersion {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}
	if req.Method == "" {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidRequest, "method is required")
		return
	}

	if s.telemetry != nil {
		s.telemetry.RecordRequest(c.Request.Context(), req.Method)
		defer func() {
			s.telemetry.RecordRequestDuration(c.Request.Context(), req.Method,
				float64(time.Since(start).Milliseconds()))
		}()
	}

	switch req.Method {
	case types.MethodTasksSend:
		s.handleTasksSend(c, &req)
	case types.MethodTasksGet:
		s.handleTasksGet(c, &req)
	case types.MethodTasksCancel:
		s.handleTasksCancel(c, &req)
	case types.MethodTasksSendSubscribe:
		s.handleTasksSendSubscribe(c, &req)
	default:
		s.sendError(c, req.Method, req.ID, types.ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}
}

// sendError writes an error envelope and records it.
func (s *A2AServer) sendError(c *gin.Context, method string, id any, code int, message string) {
	if s.telemetry != nil {
		s.telemetry.RecordResponseError(c.Request.Context(), method, code)
	}
	s.responder.SendError(c, id, code, message)
}

// mapAgentError translates store and agent errors onto wire codes.
func (s *A2AServer) mapAgentError(c *gin.Context, method string, id any, err error) {
	var notFound *TaskNotFoundError
	if errors.As(err, &notFound) {
		s.sendError(c, method, id, types.ErrCodeTaskNotFound, notFound.Error())
		return
	}

	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		if s.telemetry != nil {
			s.telemetry.RecordResponseError(c.Request.Context(), method, types.ErrCodeInvalidTransition)
		}
		s.responder.SendErrorWithData(c, id, types.ErrCodeInvalidTransition, invalid.Error(), gin.H{
			"from": string(invalid.From),
			"to":   string(invalid.To),
		})
		return
	}

	s.logger.Error("agent operation failed",
		zap.String("method", method),
		zap.Error(err))
	s.sendError(c, method, id, types.ErrCodeApplication, "agent operation failed")
}

func (s *A2AServer) handleTasksSend(c *gin.Context, req *types.JSONRPCRequest) {
	var params types.TaskSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidParams, "invalid tasks/send params")
		return
	}
	if len(params.Message.Parts) == 0 {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidParams, "message requires at least one part")
		return
	}

	taskID, err := s.agent.OnSend(c.Request.Context(), params.ID, params.Message)
	if err != nil {
		s.mapAgentError(c, req.Method, req.ID, err)
		return
	}

	if s.telemetry != nil && params.ID == nil {
		s.telemetry.RecordTaskTransition(c.Request.Context(), string(types.TaskStateSubmitted))
	}

	if params.WebhookURL != nil && *params.WebhookURL != "" {
		if err := s.webhooks.Register(c.Request.Context(), taskID, *params.WebhookURL); err != nil {
			s.logger.Warn("failed to register webhook",
				zap.String("task_id", taskID),
				zap.Error(err))
		}
	}

	s.responder.SendSuccess(c, req.ID, types.TaskSendResult{ID: taskID})
}

func (s *A2AServer) handleTasksGet(c *gin.Context, req *types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidParams, "invalid tasks/get params")
		return
	}

	task, err := s.agent.OnGet(c.Request.Context(), params.ID)
	if err != nil {
		s.mapAgentError(c, req.Method, req.ID, err)
		return
	}

	s.responder.SendSuccess(c, req.ID, task)
}

func (s *A2AServer) handleTasksCancel(c *gin.Context, req *types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidParams, "invalid tasks/cancel params")
		return
	}

	accepted, err := s.agent.OnCancel(c.Request.Context(), params.ID)
	if err != nil {
		s.mapAgentError(c, req.Method, req.ID, err)
		return
	}

	if s.telemetry != nil && accepted {
		s.telemetry.RecordTaskTransition(c.Request.Context(), string(types.TaskStateCanceled))
	}

	result := types.TaskCancelResult{Success: accepted}
	if !accepted {
		msg := "task is already in a terminal state"
		result.Message = &msg
	}
	s.responder.SendSuccess(c, req.ID, result)
}

// handleTasksSendSubscribe attaches the caller to the task's event stream
// over SSE. Events are framed as "event:"/"data:" pairs; heartbeat comments
// keep idle connections alive.
func (s *A2AServer) handleTasksSendSubscribe(c *gin.Context, req *types.JSONRPCRequest) {
	var params types.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		s.sendError(c, req.Method, req.ID, types.ErrCodeInvalidParams, "invalid tasks/sendSubscribe params")
		return
	}

	listener, err := s.agent.OnSubscribe(c.Request.Context(), params.ID)
	if err != nil {
		s.mapAgentError(c, req.Method, req.ID, err)
		return
	}
	defer s.store.RemoveListener(params.ID, listener)

	if s.telemetry != nil {
		s.telemetry.RecordStreamOpened(c.Request.Context())
		defer s.telemetry.RecordStreamClosed(context.Background())
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.cfg.StreamConfig.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			s.logger.Debug("stream client disconnected", zap.String("task_id", params.ID))
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()

		case event, ok := <-listener.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(c.Writer, event); err != nil {
				s.logger.Debug("failed to write stream event",
					zap.String("task_id", params.ID),
					zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeSSEEvent frames one event for the wire.
func writeSSEEvent(w io.Writer, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventName(), data)
	return err
}

// Start runs the HTTP server (and metrics server when telemetry is enabled)
// until ctx is cancelled.
func (s *A2AServer) Start(ctx context.Context) error {
	router := s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.ServerConfig.Port,
		Handler:      router,
		ReadTimeout:  s.cfg.ServerConfig.ReadTimeout,
		WriteTimeout: s.cfg.ServerConfig.WriteTimeout,
		IdleTimeout:  s.cfg.ServerConfig.IdleTimeout,
	}

	if s.telemetry != nil {
		s.startMetricsServer()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting A2A server",
			zap.String("port", s.cfg.ServerConfig.Port),
			zap.Bool("tls", s.cfg.ServerConfig.TLSConfig.Enable))

		var err error
		if s.cfg.ServerConfig.TLSConfig.Enable {
			err = s.httpServer.ListenAndServeTLS(
				s.cfg.ServerConfig.TLSConfig.CertPath,
				s.cfg.ServerConfig.TLSConfig.KeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *A2AServer) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	metricsCfg := s.cfg.TelemetryConfig.MetricsConfig
	s.metricsServer = &http.Server{
		Addr:         metricsCfg.Host + ":" + metricsCfg.Port,
		Handler:      mux,
		ReadTimeout:  metricsCfg.ReadTimeout,
		WriteTimeout: metricsCfg.WriteTimeout,
		IdleTimeout:  metricsCfg.IdleTimeout,
	}

	go func() {
		s.logger.Info("starting metrics server", zap.String("port", metricsCfg.Port))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP servers and the telemetry pipeline.
func (s *A2AServer) Stop(ctx context.Context) error {
	var firstErr error

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.ShutDown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("A2A server stopped")
	return firstErr
}

// Router exposes the configured gin engine, mainly for tests.
func (s *A2AServer) Router() *gin.Engine {
	return s.setupRouter()
}
