package types_test

import (
	"encoding/json"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	types "github.com/agentvault/agentvault-go/types"
)

func validCardJSON() []byte {
	return []byte(`{
		"schema_version": "1.0",
		"human_readable_id": "acme/echo-agent",
		"name": "Echo Agent",
		"description": "Echoes its input",
		"provider": {"name": "Acme"},
		"agent_version": "0.3.0",
		"url": "https://agent.acme.dev",
		"capabilities": {"a2a_version": "1.0", "supported_message_parts": ["text"]},
		"auth_schemes": [{"scheme": "api_key", "service_identifier": "acme-echo"}],
		"tags": ["demo", "echo"]
	}`)
}

func TestAgentCardRoundTripRetainsUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"schema_version": "1.0",
		"human_readable_id": "acme/echo-agent",
		"name": "Echo Agent",
		"provider": {"name": "Acme"},
		"agent_version": "0.3.0",
		"url": "https://agent.acme.dev",
		"capabilities": {"a2a_version": "1.0"},
		"auth_schemes": [{"scheme": "wasm-attest", "module": "sha256:abc"}],
		"x_experimental": {"flag": true}
	}`)

	var card types.AgentCard
	require.NoError(t, json.Unmarshal(raw, &card))

	require.Len(t, card.AuthSchemes, 1)
	assert.False(t, card.AuthSchemes[0].Known())

	encoded, err := json.Marshal(card)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.Contains(t, out, "x_experimental")

	schemes := out["auth_schemes"].([]any)
	scheme := schemes[0].(map[string]any)
	assert.Equal(t, "sha256:abc", scheme["module"])
}

func TestAgentCardRoundTripStable(t *testing.T) {
	var card types.AgentCard
	require.NoError(t, json.Unmarshal(validCardJSON(), &card))

	encoded, err := json.Marshal(card)
	require.NoError(t, err)

	var again types.AgentCard
	require.NoError(t, json.Unmarshal(encoded, &again))

	reencoded, err := json.Marshal(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(encoded), string(reencoded))
}

func TestValidateCard(t *testing.T) {
	t.Run("valid card has no issues", func(t *testing.T) {
		var card types.AgentCard
		require.NoError(t, json.Unmarshal(validCardJSON(), &card))
		assert.Empty(t, types.ValidateCard(&card))
	})

	t.Run("issues are path scoped", func(t *testing.T) {
		card := &types.AgentCard{
			SchemaVersion:   "1.0",
			HumanReadableID: "Not Valid",
			Name:            "x",
			Provider:        types.AgentProvider{Name: "p"},
			AgentVersion:    "1",
			URL:             "http://agent.acme.dev",
			Capabilities:    types.AgentCapabilities{A2AVersion: "1.0"},
		}

		issues := types.ValidateCard(card)
		paths := make([]string, 0, len(issues))
		for _, issue := range issues {
			paths = append(paths, issue.Path)
		}

		assert.Contains(t, paths, "human_readable_id")
		assert.Contains(t, paths, "url")
		assert.Contains(t, paths, "auth_schemes")
	})

	t.Run("plain http allowed for localhost", func(t *testing.T) {
		var card types.AgentCard
		require.NoError(t, json.Unmarshal(validCardJSON(), &card))
		card.URL = "http://localhost:8080"
		assert.Empty(t, types.ValidateCard(&card))

		card.URL = "http://127.0.0.1:8080"
		assert.Empty(t, types.ValidateCard(&card))
	})

	t.Run("oauth2 scheme requires token url", func(t *testing.T) {
		var card types.AgentCard
		require.NoError(t, json.Unmarshal(validCardJSON(), &card))
		card.AuthSchemes = []types.AuthScheme{{Scheme: types.AuthSchemeOAuth2}}

		issues := types.ValidateCard(&card)
		require.Len(t, issues, 1)
		assert.Equal(t, "auth_schemes[0].token_url", issues[0].Path)
	})
}

func TestAPIKeyHeaderDefault(t *testing.T) {
	scheme := types.AuthScheme{Scheme: types.AuthSchemeAPIKey}
	assert.Equal(t, "X-Api-Key", scheme.APIKeyHeader())

	scheme.HeaderName = "X-Acme-Key"
	assert.Equal(t, "X-Acme-Key", scheme.APIKeyHeader())
}

func TestNormalizeHRI(t *testing.T) {
	assert.Equal(t, "acme/echo", types.NormalizeHRI("  Acme/Echo "))
}
