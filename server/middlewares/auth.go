// Package middlewares provides gin middleware for inbound authentication
// and request logging. Auth runs before any JSON-RPC parsing so rejected
// requests never reach the dispatcher.
package middlewares

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	oidcV3 "github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

type contextKey string

// IDTokenContextKey carries the verified OIDC token through the request
// context.
const IDTokenContextKey contextKey = "idToken"

// Authenticator gates requests before the protocol handler runs.
type Authenticator interface {
	Middleware() gin.HandlerFunc
}

// NoopAuthenticator accepts everything; used when auth is disabled.
type NoopAuthenticator struct{}

// Middleware returns a pass-through handler.
func (NoopAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) { c.Next() }
}

// NewAuthenticator builds the configured authenticator: API keys, OIDC
// bearer verification, or both (either passing admits the request).
func NewAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.AuthConfig) (Authenticator, error) {
	if !cfg.Enable {
		return NoopAuthenticator{}, nil
	}

	combined := &combinedAuthenticator{logger: logger}

	if len(cfg.APIKeys) > 0 {
		combined.apiKeys = cfg.APIKeys
		combined.apiKeyHeader = cfg.APIKeyHeader
		if combined.apiKeyHeader == "" {
			combined.apiKeyHeader = "X-Api-Key"
		}
	}

	if cfg.IssuerURL != "" {
		provider, err := oidcV3.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, err
		}
		combined.verifier = provider.Verifier(&oidcV3.Config{ClientID: cfg.ClientID})
	}

	return combined, nil
}

// combinedAuthenticator accepts a request when any configured mechanism
// validates it.
type combinedAuthenticator struct {
	logger       *zap.Logger
	apiKeys      []string
	apiKeyHeader string
	verifier     *oidcV3.IDTokenVerifier
}

// Middleware returns the gating handler.
func (a *combinedAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.checkAPIKey(c) {
			c.Next()
			return
		}
		if a.checkBearer(c) {
			c.Next()
			return
		}

		a.logger.Warn("rejected unauthenticated request",
			zap.String("path", c.Request.URL.Path),
			zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
	}
}

// checkAPIKey compares the presented key against every accepted key in
// constant time.
func (a *combinedAuthenticator) checkAPIKey(c *gin.Context) bool {
	if len(a.apiKeys) == 0 {
		return false
	}

	presented := c.GetHeader(a.apiKeyHeader)
	if presented == "" {
		return false
	}

	matched := false
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			matched = true
		}
	}
	return matched
}

func (a *combinedAuthenticator) checkBearer(c *gin.Context) bool {
	if a.verifier == nil {
		return false
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	idToken, err := a.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		a.logger.Debug("bearer token verification failed", zap.Error(err))
		return false
	}

	c.Set(string(IDTokenContextKey), idToken)
	return true
}
