package card_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	card "github.com/agentvault/agentvault-go/card"
)

func validCardObject(url string) map[string]any {
	return map[string]any{
		"schema_version":    "1.0",
		"human_readable_id": "acme/echo-agent",
		"name":              "Echo Agent",
		"provider":          map[string]any{"name": "Acme"},
		"agent_version":     "0.3.0",
		"url":               url,
		"capabilities":      map[string]any{"a2a_version": "1.0"},
		"auth_schemes":      []any{map[string]any{"scheme": "none"}},
	}
}

func TestFromDict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		loaded, err := card.FromDict(validCardObject("https://agent.acme.dev"))
		require.NoError(t, err)
		assert.Equal(t, "acme/echo-agent", loaded.HumanReadableID)
	})

	t.Run("missing fields reported together", func(t *testing.T) {
		obj := validCardObject("https://agent.acme.dev")
		delete(obj, "name")
		delete(obj, "agent_version")

		_, err := card.FromDict(obj)
		var validationErr *card.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Len(t, validationErr.Issues, 2)
	})

	t.Run("non-https production url rejected", func(t *testing.T) {
		_, err := card.FromDict(validCardObject("http://agent.acme.dev"))
		var validationErr *card.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		obj := validCardObject("https://agent.acme.dev")
		obj["future_field"] = map[string]any{"x": 1}
		_, err := card.FromDict(obj)
		assert.NoError(t, err)
	})
}

func TestFromFile(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "card.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"schema_version": "1.0",
			"human_readable_id": "acme/echo-agent",
			"name": "Echo Agent",
			"provider": {"name": "Acme"},
			"agent_version": "0.3.0",
			"url": "https://agent.acme.dev",
			"capabilities": {"a2a_version": "1.0"},
			"auth_schemes": [{"scheme": "none"}]
		}`), 0o600))

		loaded, err := card.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Echo Agent", loaded.Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := card.FromFile(filepath.Join(t.TempDir(), "absent.json"))
		var ioErr *card.IOError
		require.ErrorAs(t, err, &ioErr)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name": `), 0o600))

		_, err := card.FromFile(path)
		var validationErr *card.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})
}

func TestFromURL(t *testing.T) {
	t.Run("fetch from local server", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"schema_version": "1.0",
				"human_readable_id": "acme/echo-agent",
				"name": "Echo Agent",
				"provider": {"name": "Acme"},
				"agent_version": "0.3.0",
				"url": "http://localhost:8080",
				"capabilities": {"a2a_version": "1.0"},
				"auth_schemes": [{"scheme": "none"}]
			}`))
		}))
		defer srv.Close()

		loaded, err := card.FromURL(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "acme/echo-agent", loaded.HumanReadableID)
	})

	t.Run("non-200 is a fetch error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := card.FromURL(context.Background(), srv.URL)
		var fetchErr *card.FetchError
		require.ErrorAs(t, err, &fetchErr)
	})

	t.Run("remote plain http rejected", func(t *testing.T) {
		_, err := card.FromURL(context.Background(), "http://agent.acme.dev/card.json")
		var fetchErr *card.FetchError
		require.True(t, errors.As(err, &fetchErr))
	})
}
