// Package credentials resolves API keys and OAuth client credentials for
// agent services from layered sources: a credential file, the process
// environment, and optionally the OS keychain.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	godotenv "github.com/joho/godotenv"
	zap "go.uber.org/zap"
)

// Source identifies where a credential was found.
type Source string

// Source values, in priority order.
const (
	SourceFile     Source = "file"
	SourceEnv      Source = "env"
	SourceKeychain Source = "keychain"
)

// DefaultEnvPrefix is the prefix for credential environment variables.
const DefaultEnvPrefix = "AGENTVAULT"

// Keychain service name layout: agentvault:<id> for API keys and
// agentvault:oauth:<id> for client credential pairs.
const (
	keychainNamespace   = "agentvault"
	keychainOAuthPrefix = keychainNamespace + ":oauth:"
	keychainOAuthID     = "clientId"
	keychainOAuthSecret = "clientSecret"
)

// KeyMgmtError reports a keychain management failure. Reads degrade to a
// miss; writes surface this error and are never retried.
type KeyMgmtError struct {
	Op        string
	ServiceID string
	Err       error
}

func (e *KeyMgmtError) Error() string {
	return fmt.Sprintf("keychain %s failed for service %q: %v", e.Op, e.ServiceID, e.Err)
}

func (e *KeyMgmtError) Unwrap() error { return e.Err }

// OAuthPair is an OAuth 2.0 client id / secret pair.
type OAuthPair struct {
	ClientID     string
	ClientSecret string
}

type apiKeyEntry struct {
	value  string
	source Source
}

type oauthEntry struct {
	clientID     string
	clientSecret string
	source       Source
}

// Resolver maps lowercased service identifiers to credentials. File and
// environment sources are snapshotted at construction; keychain lookups are
// lazy and cached on first success. Safe for concurrent use.
type Resolver struct {
	mu sync.Mutex

	logger      *zap.Logger
	envPrefix   string
	useKeychain bool
	keychain    Keychain

	apiKeys map[string]apiKeyEntry
	oauth   map[string]oauthEntry
}

// Option configures a Resolver.
type Option func(*Resolver) error

// WithFile loads a credential file (.env style or .json) into the file layer.
func WithFile(path string) Option {
	return func(r *Resolver) error {
		return r.loadFile(path)
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(r *Resolver) error {
		if prefix == "" {
			return fmt.Errorf("env prefix cannot be empty")
		}
		r.envPrefix = strings.TrimSuffix(prefix, "_")
		return nil
	}
}

// WithKeychain toggles OS keychain lookups. Disabled by default so the
// resolver functions on hosts without a keychain backend.
func WithKeychain(enabled bool) Option {
	return func(r *Resolver) error {
		r.useKeychain = enabled
		return nil
	}
}

// WithKeychainBackend replaces the keychain implementation.
func WithKeychainBackend(backend Keychain) Option {
	return func(r *Resolver) error {
		r.keychain = backend
		return nil
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) error {
		r.logger = logger
		return nil
	}
}

// NewResolver builds a resolver, snapshotting the file and environment
// layers. Option order matters only for files: later files win.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		logger:    zap.NewNop(),
		envPrefix: DefaultEnvPrefix,
		keychain:  systemKeychain{},
		apiKeys:   make(map[string]apiKeyEntry),
		oauth:     make(map[string]oauthEntry),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.snapshotEnv()
	return r, nil
}

// loadFile merges one credential file into the file layer.
func (r *Resolver) loadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return r.loadJSONFile(path)
	default:
		return r.loadEnvFile(path)
	}
}

func (r *Resolver) loadEnvFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read credential file %s: %w", path, err)
	}

	oauthPrefix := r.envPrefix + "_OAUTH_"
	for key, value := range values {
		upper := strings.ToUpper(key)
		switch {
		case strings.HasPrefix(upper, oauthPrefix) && strings.HasSuffix(upper, "_CLIENT_ID"):
			id := serviceIDFromEnvKey(upper, oauthPrefix, "_CLIENT_ID")
			entry := r.oauth[id]
			entry.clientID = value
			entry.source = SourceFile
			r.oauth[id] = entry
		case strings.HasPrefix(upper, oauthPrefix) && strings.HasSuffix(upper, "_CLIENT_SECRET"):
			id := serviceIDFromEnvKey(upper, oauthPrefix, "_CLIENT_SECRET")
			entry := r.oauth[id]
			entry.clientSecret = value
			entry.source = SourceFile
			r.oauth[id] = entry
		default:
			id := strings.ToLower(key)
			r.apiKeys[id] = apiKeyEntry{value: value, source: SourceFile}
		}
	}
	return nil
}

type jsonCredential struct {
	APIKey string `json:"apiKey"`
	OAuth  *struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	} `json:"oauth"`
}

func (r *Resolver) loadJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read credential file %s: %w", path, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("credential file %s is not a JSON object: %w", path, err)
	}

	for rawID, raw := range entries {
		id := strings.ToLower(rawID)

		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil {
			r.apiKeys[id] = apiKeyEntry{value: plain, source: SourceFile}
			continue
		}

		var cred jsonCredential
		if err := json.Unmarshal(raw, &cred); err != nil {
			return fmt.Errorf("credential file %s: entry %q has an unsupported shape", path, rawID)
		}
		if cred.APIKey != "" {
			r.apiKeys[id] = apiKeyEntry{value: cred.APIKey, source: SourceFile}
		}
		if cred.OAuth != nil {
			r.oauth[id] = oauthEntry{
				clientID:     cred.OAuth.ClientID,
				clientSecret: cred.OAuth.ClientSecret,
				source:       SourceFile,
			}
		}
	}
	return nil
}

// snapshotEnv captures matching environment variables. File entries win.
func (r *Resolver) snapshotEnv() {
	keyPrefix := r.envPrefix + "_KEY_"
	oauthPrefix := r.envPrefix + "_OAUTH_"

	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]

		switch {
		case strings.HasPrefix(key, keyPrefix):
			id := strings.ToLower(strings.TrimPrefix(key, keyPrefix))
			if _, exists := r.apiKeys[id]; !exists && id != "" {
				r.apiKeys[id] = apiKeyEntry{value: value, source: SourceEnv}
			}
		case strings.HasPrefix(key, oauthPrefix) && strings.HasSuffix(key, "_CLIENT_ID"):
			id := serviceIDFromEnvKey(key, oauthPrefix, "_CLIENT_ID")
			r.mergeEnvOAuth(id, value, "")
		case strings.HasPrefix(key, oauthPrefix) && strings.HasSuffix(key, "_CLIENT_SECRET"):
			id := serviceIDFromEnvKey(key, oauthPrefix, "_CLIENT_SECRET")
			r.mergeEnvOAuth(id, "", value)
		}
	}
}

func (r *Resolver) mergeEnvOAuth(id, clientID, clientSecret string) {
	if id == "" {
		return
	}
	entry, exists := r.oauth[id]
	if exists && entry.source == SourceFile {
		return
	}
	if clientID != "" {
		entry.clientID = clientID
	}
	if clientSecret != "" {
		entry.clientSecret = clientSecret
	}
	entry.source = SourceEnv
	r.oauth[id] = entry
}

func serviceIDFromEnvKey(key, prefix, suffix string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix))
}

// GetAPIKey returns the API key for a service, or false when no enabled
// source has one. Keychain read errors degrade to a miss.
func (r *Resolver) GetAPIKey(serviceID string) (string, bool) {
	id := strings.ToLower(serviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.apiKeys[id]; ok {
		return entry.value, true
	}

	if !r.useKeychain {
		return "", false
	}

	value, err := r.keychain.Get(keychainNamespace+":"+id, id)
	if err != nil {
		if !isKeychainMiss(err) {
			r.logger.Warn("keychain lookup failed, treating as missing",
				zap.String("service_id", id),
				zap.Error(err))
		}
		return "", false
	}

	r.apiKeys[id] = apiKeyEntry{value: value, source: SourceKeychain}
	return value, true
}

// GetOAuthPair returns the client credential pair for a service; both
// halves must be present in a single source.
func (r *Resolver) GetOAuthPair(serviceID string) (OAuthPair, bool) {
	id := strings.ToLower(serviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.oauth[id]; ok && entry.clientID != "" && entry.clientSecret != "" {
		return OAuthPair{ClientID: entry.clientID, ClientSecret: entry.clientSecret}, true
	}

	if !r.useKeychain {
		return OAuthPair{}, false
	}

	service := keychainOAuthPrefix + id
	clientID, err := r.keychain.Get(service, keychainOAuthID)
	if err != nil {
		if !isKeychainMiss(err) {
			r.logger.Warn("keychain lookup failed, treating as missing",
				zap.String("service_id", id),
				zap.Error(err))
		}
		return OAuthPair{}, false
	}
	clientSecret, err := r.keychain.Get(service, keychainOAuthSecret)
	if err != nil {
		if !isKeychainMiss(err) {
			r.logger.Warn("keychain lookup failed, treating as missing",
				zap.String("service_id", id),
				zap.Error(err))
		}
		return OAuthPair{}, false
	}

	r.oauth[id] = oauthEntry{clientID: clientID, clientSecret: clientSecret, source: SourceKeychain}
	return OAuthPair{ClientID: clientID, ClientSecret: clientSecret}, true
}

// SourceOf reports which layer currently satisfies a service id, checking
// API keys first, then OAuth pairs.
func (r *Resolver) SourceOf(serviceID string) (Source, bool) {
	id := strings.ToLower(serviceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.apiKeys[id]; ok {
		return entry.source, true
	}
	if entry, ok := r.oauth[id]; ok && entry.clientID != "" && entry.clientSecret != "" {
		return entry.source, true
	}
	return "", false
}

// List returns the service ids known to the snapshot layers, sorted.
func (r *Resolver) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.apiKeys)+len(r.oauth))
	for id := range r.apiKeys {
		seen[id] = struct{}{}
	}
	for id := range r.oauth {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetAPIKeyInKeychain stores an API key in the OS keychain. Unlike reads,
// write failures are fatal.
func (r *Resolver) SetAPIKeyInKeychain(serviceID, value string) error {
	id := strings.ToLower(serviceID)
	if err := r.keychain.Set(keychainNamespace+":"+id, id, value); err != nil {
		return &KeyMgmtError{Op: "set api key", ServiceID: id, Err: err}
	}

	r.mu.Lock()
	r.apiKeys[id] = apiKeyEntry{value: value, source: SourceKeychain}
	r.mu.Unlock()
	return nil
}

// SetOAuthPairInKeychain stores a client credential pair in the OS keychain.
func (r *Resolver) SetOAuthPairInKeychain(serviceID string, pair OAuthPair) error {
	id := strings.ToLower(serviceID)
	service := keychainOAuthPrefix + id

	if err := r.keychain.Set(service, keychainOAuthID, pair.ClientID); err != nil {
		return &KeyMgmtError{Op: "set oauth client id", ServiceID: id, Err: err}
	}
	if err := r.keychain.Set(service, keychainOAuthSecret, pair.ClientSecret); err != nil {
		return &KeyMgmtError{Op: "set oauth client secret", ServiceID: id, Err: err}
	}

	r.mu.Lock()
	r.oauth[id] = oauthEntry{clientID: pair.ClientID, clientSecret: pair.ClientSecret, source: SourceKeychain}
	r.mu.Unlock()
	return nil
}
