package types_test

import (
	"encoding/json"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	types "github.com/agentvault/agentvault-go/types"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := types.Message{
		Role: types.RoleUser,
		Parts: []types.Part{
			types.TextPart{Content: "hello"},
			types.DataPart{Content: map[string]any{"k": "v"}, MediaType: "application/json"},
			types.ArtifactRefPart{URI: "https://example.com/blob", MediaType: "text/plain"},
		},
		Metadata: map[string]any{"trace": "abc"},
	}

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded types.Message
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, types.RoleUser, decoded.Role)
	require.Len(t, decoded.Parts, 3)
	assert.Equal(t, types.TextPart{Content: "hello"}, decoded.Parts[0])
	assert.Equal(t, "artifact-ref", decoded.Parts[2].PartType())

	reencoded, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(encoded), string(reencoded))
}

func TestUnmarshalPartUnknownTag(t *testing.T) {
	raw := []byte(`{"type":"hologram","payload":{"x":1}}`)

	part, err := types.UnmarshalPart(raw)
	require.NoError(t, err)

	unknown, ok := part.(types.UnknownPart)
	require.True(t, ok)
	assert.Equal(t, "hologram", unknown.Type)

	// Unknown parts re-serialize byte-for-byte.
	reencoded, err := types.MarshalPart(unknown)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(reencoded))
}

func TestUnmarshalPartMissingTag(t *testing.T) {
	_, err := types.UnmarshalPart([]byte(`{"content":"orphan"}`))
	assert.Error(t, err)
}

func TestDataPartDefaultMediaType(t *testing.T) {
	part := types.DataPart{Content: 42}
	assert.Equal(t, "application/json", part.EffectiveMediaType())

	part.MediaType = "application/cbor"
	assert.Equal(t, "application/cbor", part.EffectiveMediaType())
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		message types.Message
		wantErr bool
	}{
		{
			name:    "valid text message",
			message: types.NewTextMessage(types.RoleUser, "hi"),
		},
		{
			name:    "missing parts",
			message: types.Message{Role: types.RoleUser},
			wantErr: true,
		},
		{
			name:    "invalid role",
			message: types.Message{Role: "robot", Parts: []types.Part{types.TextPart{Content: "x"}}},
			wantErr: true,
		},
		{
			name: "artifact ref without uri",
			message: types.Message{
				Role:  types.RoleAssistant,
				Parts: []types.Part{types.ArtifactRefPart{}},
			},
			wantErr: true,
		},
		{
			name: "mcp context accepted structurally",
			message: types.Message{
				Role:  types.RoleUser,
				Parts: []types.Part{types.TextPart{Content: "x"}},
				Metadata: map[string]any{
					"mcp_context": map[string]any{
						"items": map[string]any{"doc": map[string]any{"uri": "file:///tmp/doc"}},
					},
				},
			},
		},
		{
			name: "mcp context items must be an object",
			message: types.Message{
				Role:     types.RoleUser,
				Parts:    []types.Part{types.TextPart{Content: "x"}},
				Metadata: map[string]any{"mcp_context": map[string]any{"items": "nope"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := types.ValidateMessage(tt.message)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMCPContextPassthrough(t *testing.T) {
	msg := types.NewTextMessage(types.RoleUser, "hi")
	_, ok := msg.MCPContext()
	assert.False(t, ok)

	msg.Metadata = map[string]any{"mcp_context": map[string]any{"items": map[string]any{}}}
	ctx, ok := msg.MCPContext()
	require.True(t, ok)
	assert.Contains(t, ctx, "items")
}
