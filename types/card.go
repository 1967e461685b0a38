package types

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// CurrentCardSchemaVersion is the agent card schema version this package understands.
const CurrentCardSchemaVersion = "1.0"

// Auth scheme discriminator values carried in the "scheme" tag field.
const (
	AuthSchemeNone   = "none"
	AuthSchemeAPIKey = "api_key"
	AuthSchemeBearer = "bearer"
	AuthSchemeOAuth2 = "oauth2"
)

// DefaultAPIKeyHeader is used when an api_key scheme does not name a header.
const DefaultAPIKeyHeader = "X-Api-Key"

var hriPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*/[a-z0-9][a-z0-9_-]*$`)

// AgentProvider identifies the organization publishing an agent.
type AgentProvider struct {
	Name    string  `json:"name"`
	URL     *string `json:"url,omitempty"`
	Contact *string `json:"contact,omitempty"`
}

// TeeDetails carries advertised attestation metadata. The core never
// interprets it beyond the type tag used for catalog filtering.
type TeeDetails struct {
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
}

// AgentCapabilities describes the protocol surface an agent supports.
type AgentCapabilities struct {
	A2AVersion                string      `json:"a2a_version"`
	SupportedMessageParts     []string    `json:"supported_message_parts,omitempty"`
	SupportsPushNotifications *bool       `json:"supports_push_notifications,omitempty"`
	TeeDetails                *TeeDetails `json:"tee_details,omitempty"`
}

// AgentSkill describes a distinct capability an agent advertises.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AuthScheme is one element of a card's ordered auth preference list.
// It is a tagged union discriminated by Scheme; unrecognized schemes are
// preserved verbatim so a re-serialized card loses nothing.
type AuthScheme struct {
	Scheme            string   `json:"scheme"`
	ServiceIdentifier string   `json:"service_identifier,omitempty"`
	HeaderName        string   `json:"header_name,omitempty"`
	TokenURL          string   `json:"token_url,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`

	raw map[string]json.RawMessage
}

// Known reports whether the scheme tag is one the core understands.
func (a AuthScheme) Known() bool {
	switch a.Scheme {
	case AuthSchemeNone, AuthSchemeAPIKey, AuthSchemeBearer, AuthSchemeOAuth2:
		return true
	default:
		return false
	}
}

// APIKeyHeader returns the header an api_key scheme expects.
func (a AuthScheme) APIKeyHeader() string {
	if a.HeaderName != "" {
		return a.HeaderName
	}
	return DefaultAPIKeyHeader
}

// UnmarshalJSON keeps the raw key set so unknown fields survive a round trip.
func (a *AuthScheme) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type plain AuthScheme
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*a = AuthScheme(p)
	a.raw = raw
	return nil
}

// MarshalJSON re-emits retained unknown fields alongside the known ones.
func (a AuthScheme) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.raw)+5)
	for k, v := range a.raw {
		out[k] = v
	}

	out["scheme"] = a.Scheme
	setOrDelete(out, "service_identifier", a.ServiceIdentifier)
	setOrDelete(out, "header_name", a.HeaderName)
	setOrDelete(out, "token_url", a.TokenURL)
	if a.Scopes != nil {
		out["scopes"] = a.Scopes
	} else {
		delete(out, "scopes")
	}

	return json.Marshal(out)
}

func setOrDelete(m map[string]any, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

// AgentCard is the immutable descriptor of a remote agent: its endpoint,
// capabilities, auth requirements, and catalog metadata. Cards are never
// mutated after load and are safe to share across goroutines.
type AgentCard struct {
	SchemaVersion    string            `json:"schema_version"`
	HumanReadableID  string            `json:"human_readable_id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Provider         AgentProvider     `json:"provider"`
	AgentVersion     string            `json:"agent_version"`
	URL              string            `json:"url"`
	Capabilities     AgentCapabilities `json:"capabilities"`
	AuthSchemes      []AuthScheme      `json:"auth_schemes"`
	Skills           []AgentSkill      `json:"skills,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	PrivacyPolicyURL *string           `json:"privacy_policy_url,omitempty"`
	TermsOfService   *string           `json:"terms_of_service_url,omitempty"`
	IconURL          *string           `json:"icon_url,omitempty"`

	extra map[string]json.RawMessage
}

var cardKnownKeys = map[string]struct{}{
	"schema_version": {}, "human_readable_id": {}, "name": {}, "description": {},
	"provider": {}, "agent_version": {}, "url": {}, "capabilities": {},
	"auth_schemes": {}, "skills": {}, "tags": {}, "privacy_policy_url": {},
	"terms_of_service_url": {}, "icon_url": {},
}

// UnmarshalJSON retains keys outside the schema so they survive re-serialization.
func (c *AgentCard) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type plain AgentCard
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = AgentCard(p)

	for k := range raw {
		if _, known := cardKnownKeys[k]; known {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		c.extra = raw
	}
	return nil
}

// MarshalJSON emits the schema fields plus any retained unknown keys.
func (c AgentCard) MarshalJSON() ([]byte, error) {
	type plain AgentCard
	known, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// HasTEE reports whether the card advertises TEE attestation details.
func (c *AgentCard) HasTEE() bool {
	return c.Capabilities.TeeDetails != nil
}

// CardIssue is one validation problem, scoped to the JSON path that caused it.
type CardIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidateCard checks structural card invariants and returns the full list
// of issues rather than stopping at the first.
func ValidateCard(c *AgentCard) []CardIssue {
	var issues []CardIssue
	add := func(path, msg string) {
		issues = append(issues, CardIssue{Path: path, Message: msg})
	}

	if c.SchemaVersion == "" {
		add("schema_version", "required")
	}
	if c.HumanReadableID == "" {
		add("human_readable_id", "required")
	} else if !hriPattern.MatchString(c.HumanReadableID) {
		add("human_readable_id", "must be a lowercase org/name identifier")
	}
	if c.Name == "" {
		add("name", "required")
	}
	if c.Provider.Name == "" {
		add("provider.name", "required")
	}
	if c.AgentVersion == "" {
		add("agent_version", "required")
	}
	if c.Capabilities.A2AVersion == "" {
		add("capabilities.a2a_version", "required")
	}

	if c.URL == "" {
		add("url", "required")
	} else if err := validateEndpointURL(c.URL); err != "" {
		add("url", err)
	}

	if len(c.AuthSchemes) == 0 {
		add("auth_schemes", "at least one auth scheme is required")
	}
	for i, scheme := range c.AuthSchemes {
		path := "auth_schemes[" + strconv.Itoa(i) + "]"
		if scheme.Scheme == "" {
			add(path+".scheme", "required")
			continue
		}
		if scheme.Scheme == AuthSchemeOAuth2 && scheme.TokenURL == "" {
			add(path+".token_url", "required for oauth2")
		}
	}

	return issues
}

// validateEndpointURL enforces the HTTPS-except-loopback rule shared by the
// card loader, the client, and the registry read client.
func validateEndpointURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "not a valid URL"
	}
	switch u.Scheme {
	case "https":
		return ""
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return ""
		}
		return "must use https for non-local hosts"
	default:
		return "unsupported scheme " + u.Scheme
	}
}

// IsLocalEndpoint reports whether an endpoint URL is exempt from the HTTPS rule.
func IsLocalEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// NormalizeHRI lowercases and trims a human-readable identifier for lookups.
func NormalizeHRI(hri string) string {
	return strings.ToLower(strings.TrimSpace(hri))
}
