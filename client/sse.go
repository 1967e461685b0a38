package client

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

const (
	// DefaultIdleTimeout aborts a stream when no line, heartbeat included,
	// arrives for this long.
	DefaultIdleTimeout = 60 * time.Second

	maxSSELineBytes = 1 << 20
)

type sseLine struct {
	text string
	eof  bool
	err  error
}

// readEvents consumes a server-sent event stream and delivers decoded
// events to the channel. Comment lines count as liveness but carry no
// payload. Returns nil on a clean close after a terminal status.
func (c *Client) readEvents(ctx context.Context, taskID string, body io.Reader, events chan<- types.Event) error {
	lines := make(chan sseLine)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
		for scanner.Scan() {
			select {
			case lines <- sseLine{text: scanner.Text()}:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case lines <- sseLine{eof: true, err: scanner.Err()}:
		case <-done:
		case <-ctx.Done():
		}
	}()

	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	var (
		eventName   string
		dataLines   []string
		sawTerminal bool
	)

	dispatch := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		name := eventName
		eventName = ""
		dataLines = nil

		event, err := types.DecodeEvent(name, []byte(payload))
		if err != nil {
			c.logger.Warn("malformed stream event",
				zap.String("task_id", taskID),
				zap.String("event", name),
				zap.Error(err))
			event = types.StreamErrorEvent{Code: "malformed-event", Message: err.Error()}
		}

		if status, ok := event.(types.TaskStatusUpdateEvent); ok && status.State.Terminal() {
			sawTerminal = true
		}

		select {
		case events <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle.C:
			return &TimeoutError{Op: "stream read"}

		case line := <-lines:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(c.idleTimeout)

			if line.eof {
				if line.err != nil {
					return &ConnectionError{Op: "stream read", Err: line.err}
				}
				if sawTerminal {
					return nil
				}
				return &ConnectionError{Op: "stream", Err: io.ErrUnexpectedEOF}
			}

			text := strings.TrimSuffix(line.text, "\r")
			switch {
			case text == "":
				if err := dispatch(); err != nil {
					return err
				}

			case strings.HasPrefix(text, ":"):
				// heartbeat comment, liveness only

			case strings.HasPrefix(text, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(text, "event:"))

			case strings.HasPrefix(text, "data:"):
				value := strings.TrimPrefix(text, "data:")
				value = strings.TrimPrefix(value, " ")
				dataLines = append(dataLines, value)

			default:
				// unknown field, ignored per SSE processing rules
			}
		}
	}
}
