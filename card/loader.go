// Package card loads and validates agent card descriptors from files,
// URLs, or already-decoded objects.
package card

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

const (
	// DefaultFetchTimeout bounds a FromURL retrieval end to end.
	DefaultFetchTimeout = 15 * time.Second

	// maxRedirects bounds redirect chains during card fetch.
	maxRedirects = 3

	// maxCardBytes bounds the accepted card document size.
	maxCardBytes = 1 << 20
)

// Loader fetches and validates agent cards. The zero-value-ish default from
// NewLoader is ready to use; options tune the fetch path.
type Loader struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the transport used by FromURL.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.httpClient = client }
}

// WithTimeout sets the per-fetch deadline for FromURL.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Loader) { l.timeout = timeout }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader with defaults applied.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		timeout: DefaultFetchTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.httpClient == nil {
		l.httpClient = &http.Client{
			CheckRedirect: checkRedirect,
		}
	}
	return l
}

// checkRedirect bounds the chain and refuses scheme downgrades.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if via[0].URL.Scheme == "https" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect downgrades scheme to %s", req.URL.Scheme)
	}
	return nil
}

// FromFile loads and validates a card from a local JSON file.
func (l *Loader) FromFile(path string) (*types.AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	return decodeAndValidate(data)
}

// FromURL fetches, decodes, and validates a card from an HTTP(S) endpoint.
func (l *Loader) FromURL(ctx context.Context, rawURL string) (*types.AgentCard, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, &FetchError{URL: rawURL, Reason: "not an http(s) URL", Err: err}
	}
	if parsed.Scheme == "http" && !types.IsLocalEndpoint(rawURL) {
		return nil, &FetchError{URL: rawURL, Reason: "plain http is only allowed for local endpoints"}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Reason: "failed to build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	l.logger.Debug("fetching agent card", zap.String("url", rawURL))

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Reason: "request failed", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.Warn("failed to close card response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: rawURL, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCardBytes))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Reason: "failed to read response", Err: err}
	}

	return decodeAndValidate(data)
}

// FromDict validates a card from an already-decoded object.
func (l *Loader) FromDict(obj map[string]any) (*types.AgentCard, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, NewValidationError([]types.CardIssue{{Path: "", Message: "object is not JSON-encodable"}})
	}
	return decodeAndValidate(data)
}

func decodeAndValidate(data []byte) (*types.AgentCard, error) {
	var card types.AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, NewValidationError([]types.CardIssue{{Path: "", Message: "invalid JSON: " + err.Error()}})
	}
	if issues := types.ValidateCard(&card); len(issues) > 0 {
		return nil, NewValidationError(issues)
	}
	return &card, nil
}

// FromFile loads a card with a default Loader.
func FromFile(path string) (*types.AgentCard, error) {
	return NewLoader().FromFile(path)
}

// FromURL fetches a card with a default Loader.
func FromURL(ctx context.Context, rawURL string) (*types.AgentCard, error) {
	return NewLoader().FromURL(ctx, rawURL)
}

// FromDict validates a card with a default Loader.
func FromDict(obj map[string]any) (*types.AgentCard, error) {
	return NewLoader().FromDict(obj)
}
