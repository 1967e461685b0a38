package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	zap "go.uber.org/zap"

	credentials "github.com/agentvault/agentvault-go/credentials"
	types "github.com/agentvault/agentvault-go/types"
)

type pairSource struct {
	pairs map[string]credentials.OAuthPair
}

func (s pairSource) GetAPIKey(string) (string, bool) { return "", false }

func (s pairSource) GetOAuthPair(serviceID string) (credentials.OAuthPair, bool) {
	pair, ok := s.pairs[serviceID]
	return pair, ok
}

func newTokenServer(t *testing.T, hits *atomic.Int64, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func oauthCard(endpoint, tokenURL string) *types.AgentCard {
	return &types.AgentCard{
		URL: endpoint,
		AuthSchemes: []types.AuthScheme{{
			Scheme:            types.AuthSchemeOAuth2,
			ServiceIdentifier: "acme",
			TokenURL:          tokenURL,
		}},
	}
}

func TestOAuthTokenCaching(t *testing.T) {
	var hits atomic.Int64
	tokenSrv := newTokenServer(t, &hits, `{"access_token":"tok-1","token_type":"bearer","expires_in":600}`)
	defer tokenSrv.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	source := pairSource{pairs: map[string]credentials.OAuthPair{
		"acme": {ClientID: "cid", ClientSecret: "csecret"},
	}}

	auth := newAuthenticator(oauthCard("http://localhost:1", tokenSrv.URL), source, http.DefaultClient, zap.NewNop())
	auth.now = func() time.Time { return now }

	apply := func() *http.Request {
		req, err := http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
		require.NoError(t, err)
		_, err = auth.apply(context.Background(), req)
		require.NoError(t, err)
		return req
	}

	req := apply()
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
	assert.Equal(t, int64(1), hits.Load())

	// well inside the lifetime: served from cache
	now = now.Add(2 * time.Minute)
	apply()
	assert.Equal(t, int64(1), hits.Load())

	// inside the refresh margin: fetched again
	now = now.Add(8 * time.Minute)
	apply()
	assert.Equal(t, int64(2), hits.Load())
}

func TestOAuthDefaultLifetime(t *testing.T) {
	var hits atomic.Int64
	tokenSrv := newTokenServer(t, &hits, `{"access_token":"tok-1","token_type":"bearer"}`)
	defer tokenSrv.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	source := pairSource{pairs: map[string]credentials.OAuthPair{
		"acme": {ClientID: "cid", ClientSecret: "csecret"},
	}}

	auth := newAuthenticator(oauthCard("http://localhost:1", tokenSrv.URL), source, http.DefaultClient, zap.NewNop())
	auth.now = func() time.Time { return now }

	req, err := http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	_, err = auth.apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// default lifetime minus margin still valid at +4m
	now = now.Add(4 * time.Minute)
	req, err = http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	_, err = auth.apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// past default lifetime: refetched
	now = now.Add(2 * time.Minute)
	req, err = http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	_, err = auth.apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestOAuthInvalidate(t *testing.T) {
	var hits atomic.Int64
	tokenSrv := newTokenServer(t, &hits, `{"access_token":"tok-1","token_type":"bearer","expires_in":600}`)
	defer tokenSrv.Close()

	source := pairSource{pairs: map[string]credentials.OAuthPair{
		"acme": {ClientID: "cid", ClientSecret: "csecret"},
	}}
	card := oauthCard("http://localhost:1", tokenSrv.URL)

	auth := newAuthenticator(card, source, http.DefaultClient, zap.NewNop())

	req, err := http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	scheme, err := auth.apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	auth.invalidate(scheme)

	req, err = http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	_, err = auth.apply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestOAuthTokenEndpointFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer tokenSrv.Close()

	source := pairSource{pairs: map[string]credentials.OAuthPair{
		"acme": {ClientID: "cid", ClientSecret: "wrong"},
	}}

	auth := newAuthenticator(oauthCard("http://localhost:1", tokenSrv.URL), source, http.DefaultClient, zap.NewNop())

	req, err := http.NewRequest(http.MethodPost, "http://localhost:1/a2a", nil)
	require.NoError(t, err)
	_, err = auth.apply(context.Background(), req)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
