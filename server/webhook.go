package server

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	uuid "github.com/google/uuid"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	types "github.com/agentvault/agentvault-go/types"
)

// CloudEvents types emitted to webhook receivers.
const (
	webhookEventTypeStatus   = "com.agentvault.task.status"
	webhookEventTypeMessage  = "com.agentvault.task.message"
	webhookEventTypeArtifact = "com.agentvault.task.artifact"
	webhookEventSource       = "agentvault/a2a"
)

// WebhookSender pushes task events to a caller-supplied URL as CloudEvents.
// Delivery is best effort: a failed push is logged and dropped, never
// retried, and never affects the task.
type WebhookSender struct {
	store   TaskStore
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewWebhookSender creates a webhook sender on top of the task store.
func NewWebhookSender(store TaskStore, cfg config.WebhookConfig, logger *zap.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		store:   store,
		logger:  logger,
		timeout: timeout,
		active:  make(map[string]struct{}),
	}
}

// Register attaches a listener to the task and forwards its events to url
// until the stream closes. Returns after the listener is attached; delivery
// runs in the background. Registering a (task, url) pair that already has a
// live delivery stream is a no-op.
func (w *WebhookSender) Register(ctx context.Context, taskID, url string) error {
	key := taskID + "\n" + url
	w.mu.Lock()
	if _, ok := w.active[key]; ok {
		w.mu.Unlock()
		return nil
	}
	w.active[key] = struct{}{}
	w.mu.Unlock()

	listener, err := w.store.AddListener(ctx, taskID)
	if err != nil {
		w.release(key)
		return err
	}

	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		w.store.RemoveListener(taskID, listener)
		w.release(key)
		return err
	}

	go w.deliver(key, taskID, url, client, listener)
	return nil
}

func (w *WebhookSender) release(key string) {
	w.mu.Lock()
	delete(w.active, key)
	w.mu.Unlock()
}

func (w *WebhookSender) deliver(key, taskID, url string, client cloudevents.Client, listener *TaskListener) {
	defer w.release(key)

	for event := range listener.Events() {
		ce, err := w.toCloudEvent(event)
		if err != nil {
			w.logger.Error("failed to encode webhook event",
				zap.String("task_id", taskID),
				zap.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		ctx = cloudevents.ContextWithTarget(ctx, url)
		if result := client.Send(ctx, ce); cloudevents.IsUndelivered(result) {
			w.logger.Warn("webhook delivery failed",
				zap.String("task_id", taskID),
				zap.String("url", url),
				zap.Error(result))
		}
		cancel()
	}

	w.logger.Debug("webhook stream closed",
		zap.String("task_id", taskID),
		zap.String("url", url))
}

func (w *WebhookSender) toCloudEvent(event types.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(webhookEventSource)
	ce.SetSubject(event.TaskRef())
	ce.SetTime(time.Now().UTC())

	switch event.EventName() {
	case types.EventNameTaskStatus:
		ce.SetType(webhookEventTypeStatus)
	case types.EventNameTaskArtifact:
		ce.SetType(webhookEventTypeArtifact)
	default:
		ce.SetType(webhookEventTypeMessage)
	}

	err := ce.SetData(cloudevents.ApplicationJSON, event)
	return ce, err
}
