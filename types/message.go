package types

import (
	"encoding/json"
	"fmt"
)

// Role identifies the sender of a message.
type Role string

// Role enum values
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid checks if the Role is one of the supported values.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Part kind discriminator values carried in the "type" tag field.
const (
	PartTypeText        = "text"
	PartTypeData        = "data"
	PartTypeArtifactRef = "artifact-ref"
)

// DefaultDataMediaType is assumed when a data part omits media_type.
const DefaultDataMediaType = "application/json"

// MCPContextKey is the metadata key carrying the opaque MCP side channel.
const MCPContextKey = "mcp_context"

// Part is one typed segment of a message. Decoders dispatch on the "type"
// tag; unrecognized tags surface as UnknownPart so forward-incompatible
// payloads round-trip untouched.
type Part interface {
	PartType() string
}

// TextPart is a plain text segment.
type TextPart struct {
	Content string `json:"content"`
}

func (TextPart) PartType() string { return PartTypeText }

// DataPart is a structured payload segment.
type DataPart struct {
	Content   any    `json:"content"`
	MediaType string `json:"media_type,omitempty"`
}

func (DataPart) PartType() string { return PartTypeData }

// EffectiveMediaType returns the declared media type or the JSON default.
func (p DataPart) EffectiveMediaType() string {
	if p.MediaType == "" {
		return DefaultDataMediaType
	}
	return p.MediaType
}

// ArtifactRefPart references a remotely stored payload by URI.
type ArtifactRefPart struct {
	URI       string `json:"uri"`
	MediaType string `json:"media_type,omitempty"`
}

func (ArtifactRefPart) PartType() string { return PartTypeArtifactRef }

// UnknownPart preserves a part with an unrecognized type tag verbatim.
type UnknownPart struct {
	Type string
	Raw  json.RawMessage
}

func (p UnknownPart) PartType() string { return p.Type }

// Message is an ordered sequence of typed parts with a sender role and an
// optional metadata mapping.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type messageWire struct {
	Role     Role              `json:"role"`
	Parts    []json.RawMessage `json:"parts"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes parts through the tag dispatcher.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	parts := make([]Part, len(wire.Parts))
	for i, raw := range wire.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		parts[i] = part
	}

	m.Role = wire.Role
	m.Parts = parts
	m.Metadata = wire.Metadata
	return nil
}

// MarshalJSON encodes each part with its type tag; unknown parts re-emit
// their raw bytes.
func (m Message) MarshalJSON() ([]byte, error) {
	rawParts := make([]json.RawMessage, len(m.Parts))
	for i, part := range m.Parts {
		encoded, err := MarshalPart(part)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		rawParts[i] = encoded
	}

	return json.Marshal(messageWire{
		Role:     m.Role,
		Parts:    rawParts,
		Metadata: m.Metadata,
	})
}

// UnmarshalPart decodes a single part from its tagged JSON form.
func UnmarshalPart(data []byte) (Part, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to read part type tag: %w", err)
	}

	switch tag.Type {
	case PartTypeText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeData:
		var p DataPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartTypeArtifactRef:
		var p ArtifactRefPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "":
		return nil, fmt.Errorf("part is missing a type tag")
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownPart{Type: tag.Type, Raw: raw}, nil
	}
}

// MarshalPart encodes a part with its type tag injected.
func MarshalPart(part Part) (json.RawMessage, error) {
	if unknown, ok := part.(UnknownPart); ok {
		return unknown.Raw, nil
	}

	body, err := json.Marshal(part)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(`"` + part.PartType() + `"`)
	return json.Marshal(fields)
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Content: text}}}
}

// MCPContext extracts the opaque MCP side-channel payload from the message
// metadata, if present. The payload is passed through, never interpreted.
func (m Message) MCPContext() (map[string]any, bool) {
	if m.Metadata == nil {
		return nil, false
	}
	ctx, ok := m.Metadata[MCPContextKey].(map[string]any)
	return ctx, ok
}

// ValidateMessage checks the structural invariants of a message, including
// the shape (but not the semantics) of an attached MCP context.
func ValidateMessage(m Message) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message requires at least one part")
	}
	for i, part := range m.Parts {
		switch p := part.(type) {
		case TextPart:
		case DataPart:
			if p.Content == nil {
				return fmt.Errorf("part %d: data part requires content", i)
			}
		case ArtifactRefPart:
			if p.URI == "" {
				return fmt.Errorf("part %d: artifact-ref part requires a uri", i)
			}
		case UnknownPart:
			// Tolerated for forward compatibility.
		default:
			return fmt.Errorf("part %d: unsupported part implementation %T", i, part)
		}
	}

	if raw, present := m.Metadata[MCPContextKey]; present {
		ctx, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("metadata.%s must be an object", MCPContextKey)
		}
		if items, present := ctx["items"]; present {
			if _, ok := items.(map[string]any); !ok {
				return fmt.Errorf("metadata.%s.items must be an object", MCPContextKey)
			}
		}
	}

	return nil
}
