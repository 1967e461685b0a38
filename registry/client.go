package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	zap "go.uber.org/zap"

	types "github.com/agentvault/agentvault-go/types"
)

// DefaultClientTimeout bounds one catalog request.
const DefaultClientTimeout = 15 * time.Second

// maxResponseBytes bounds a catalog response body.
const maxResponseBytes = 4 * 1024 * 1024

// Client is the catalog read client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a read client for the catalog at baseURL. Plain HTTP is
// accepted for local endpoints only.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry url: %w", err)
	}
	if parsed.Scheme == "http" && !types.IsLocalEndpoint(baseURL) {
		return nil, fmt.Errorf("plain http is only allowed for local registries")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported registry url scheme %q", parsed.Scheme)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return c, nil
}

// List queries the catalog with the given filters.
func (c *Client) List(ctx context.Context, query ListQuery) (*CardList, error) {
	query = query.Normalize()

	params := url.Values{}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if len(query.Tags) > 0 {
		params.Set("tags", strings.Join(query.Tags, ","))
	}
	if query.HasTEE != nil {
		params.Set("has_tee", strconv.FormatBool(*query.HasTEE))
	}
	if query.TEEType != "" {
		params.Set("tee_type", query.TEEType)
	}
	params.Set("limit", strconv.Itoa(query.Limit))
	params.Set("offset", strconv.Itoa(query.Offset))

	var list CardList
	if err := c.get(ctx, "/agent-cards?"+params.Encode(), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetByHRI fetches the full card for a human-readable id.
func (c *Client) GetByHRI(ctx context.Context, hri string) (*types.AgentCard, error) {
	encoded := url.PathEscape(types.NormalizeHRI(hri))
	var card types.AgentCard
	if err := c.get(ctx, "/agent-cards/by-id/"+encoded, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetByUUID fetches the full card stored under the catalog UUID.
func (c *Client) GetByUUID(ctx context.Context, id string) (*types.AgentCard, error) {
	var card types.AgentCard
	if err := c.get(ctx, "/agent-cards/"+url.PathEscape(id), &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read registry response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return NewCardNotFoundError(path)
	default:
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid registry response: %w", err)
	}
	return nil
}
