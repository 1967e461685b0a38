package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	zap "go.uber.org/zap"
	oauth2 "golang.org/x/oauth2"
	clientcredentials "golang.org/x/oauth2/clientcredentials"

	credentials "github.com/agentvault/agentvault-go/credentials"
	types "github.com/agentvault/agentvault-go/types"
)

const (
	// defaultTokenLifetime applies when a token response omits expires_in.
	defaultTokenLifetime = 5 * time.Minute

	// tokenExpiryMargin refreshes tokens slightly before they lapse.
	tokenExpiryMargin = 30 * time.Second
)

// CredentialSource is the slice of the resolver the client needs.
type CredentialSource interface {
	GetAPIKey(serviceID string) (string, bool)
	GetOAuthPair(serviceID string) (credentials.OAuthPair, bool)
}

type tokenCacheKey struct {
	serviceID string
	tokenURL  string
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// authenticator walks a card's ordered auth schemes and applies the first
// one the credential source can satisfy. OAuth2 tokens are cached per
// (service id, token URL) until shortly before expiry.
type authenticator struct {
	mu sync.Mutex

	schemes    []types.AuthScheme
	source     CredentialSource
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	tokens map[tokenCacheKey]cachedToken
}

func newAuthenticator(card *types.AgentCard, source CredentialSource, httpClient *http.Client, logger *zap.Logger) *authenticator {
	return &authenticator{
		schemes:    card.AuthSchemes,
		source:     source,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		tokens:     make(map[tokenCacheKey]cachedToken),
	}
}

// apply sets auth headers on req and returns the scheme it used so a 401
// handler can invalidate the right cache entry.
func (a *authenticator) apply(ctx context.Context, req *http.Request) (*types.AuthScheme, error) {
	for i := range a.schemes {
		scheme := &a.schemes[i]
		switch scheme.Scheme {
		case types.AuthSchemeNone:
			return scheme, nil

		case types.AuthSchemeAPIKey:
			key, ok := a.source.GetAPIKey(scheme.ServiceIdentifier)
			if !ok {
				continue
			}
			req.Header.Set(scheme.APIKeyHeader(), key)
			return scheme, nil

		case types.AuthSchemeBearer:
			key, ok := a.source.GetAPIKey(scheme.ServiceIdentifier)
			if !ok {
				continue
			}
			req.Header.Set("Authorization", "Bearer "+key)
			return scheme, nil

		case types.AuthSchemeOAuth2:
			pair, ok := a.source.GetOAuthPair(scheme.ServiceIdentifier)
			if !ok {
				continue
			}
			token, err := a.token(ctx, scheme, pair)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return scheme, nil

		default:
			a.logger.Debug("skipping unrecognized auth scheme", zap.String("scheme", scheme.Scheme))
		}
	}
	return nil, &AuthError{Reason: "no usable auth scheme"}
}

// token returns a cached access token or runs the client credentials grant.
func (a *authenticator) token(ctx context.Context, scheme *types.AuthScheme, pair credentials.OAuthPair) (string, error) {
	key := tokenCacheKey{serviceID: scheme.ServiceIdentifier, tokenURL: scheme.TokenURL}

	a.mu.Lock()
	cached, ok := a.tokens[key]
	a.mu.Unlock()
	if ok && a.now().Before(cached.expiry.Add(-tokenExpiryMargin)) {
		return cached.value, nil
	}

	cfg := clientcredentials.Config{
		ClientID:     pair.ClientID,
		ClientSecret: pair.ClientSecret,
		TokenURL:     scheme.TokenURL,
		Scopes:       scheme.Scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", &AuthError{Reason: "token exchange failed", Err: err}
	}

	lifetime := defaultTokenLifetime
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry)
	}
	expiry := a.now().Add(lifetime)

	a.mu.Lock()
	a.tokens[key] = cachedToken{value: tok.AccessToken, expiry: expiry}
	a.mu.Unlock()

	a.logger.Debug("obtained access token",
		zap.String("service_id", scheme.ServiceIdentifier),
		zap.Time("expiry", expiry))
	return tok.AccessToken, nil
}

// invalidate drops the cached token for a scheme after a 401 so the retry
// fetches a fresh one.
func (a *authenticator) invalidate(scheme *types.AuthScheme) {
	if scheme == nil || scheme.Scheme != types.AuthSchemeOAuth2 {
		return
	}
	a.mu.Lock()
	delete(a.tokens, tokenCacheKey{serviceID: scheme.ServiceIdentifier, tokenURL: scheme.TokenURL})
	a.mu.Unlock()
}
