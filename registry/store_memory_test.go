package registry_test

import (
	"context"
	"strings"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"

	registry "github.com/agentvault/agentvault-go/registry"
	types "github.com/agentvault/agentvault-go/types"
)

func boolPtr(b bool) *bool { return &b }

func testCard(hri, name, description string, tags []string, teeType string) *types.AgentCard {
	card := &types.AgentCard{
		SchemaVersion:   "1.0",
		HumanReadableID: hri,
		Name:            name,
		Description:     description,
		AgentVersion:    "1.0.0",
		URL:             "https://" + strings.ReplaceAll(hri, "/", ".") + ".example.com/a2a",
		Tags:            tags,
	}
	if teeType != "" {
		card.Capabilities.TeeDetails = &types.TeeDetails{Type: teeType}
	}
	return card
}

func seededStore(t *testing.T) *registry.MemoryCardStore {
	t.Helper()
	store := registry.NewMemoryCardStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "11111111-1111-1111-1111-111111111111",
		testCard("acme/summarizer", "Summarizer", "Summarizes documents", []string{"nlp", "text"}, "")))
	require.NoError(t, store.Put(ctx, "22222222-2222-2222-2222-222222222222",
		testCard("acme/translator", "Translator", "Translates text between languages", []string{"nlp"}, "sgx")))
	require.NoError(t, store.Put(ctx, "33333333-3333-3333-3333-333333333333",
		testCard("globex/imager", "Imager", "Generates images", []string{"vision"}, "sev-snp")))
	return store
}

func TestMemoryStoreList(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	t.Run("no filters returns everything", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{})
		require.NoError(t, err)
		assert.Equal(t, 3, list.Total)
		assert.Len(t, list.Items, 3)
		assert.Equal(t, registry.DefaultListLimit, list.Limit)
	})

	t.Run("search is case-insensitive over name and description", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{Search: "TRANSLATES"})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "acme/translator", list.Items[0].HumanReadableID)
	})

	t.Run("all listed tags are required", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{Tags: []string{"nlp", "text"}})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "acme/summarizer", list.Items[0].HumanReadableID)
	})

	t.Run("tee presence filter", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{HasTEE: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, 2, list.Total)

		list, err = store.List(ctx, registry.ListQuery{HasTEE: boolPtr(false)})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.False(t, list.Items[0].HasTEE)
	})

	t.Run("tee type filter", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{TEEType: "SGX"})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "acme/translator", list.Items[0].HumanReadableID)
	})

	t.Run("pagination clamps the limit", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{Limit: 500})
		require.NoError(t, err)
		assert.Equal(t, registry.MaxListLimit, list.Limit)

		list, err = store.List(ctx, registry.ListQuery{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, list.Total)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "acme/translator", list.Items[0].HumanReadableID)
	})

	t.Run("offset beyond the end yields empty items", func(t *testing.T) {
		list, err := store.List(ctx, registry.ListQuery{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, list.Items)
		assert.Equal(t, 3, list.Total)
	})
}

func TestMemoryStoreGet(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	card, err := store.GetByUUID(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, "acme/summarizer", card.HumanReadableID)

	_, err = store.GetByUUID(ctx, "unknown")
	var notFound *registry.CardNotFoundError
	require.ErrorAs(t, err, &notFound)

	card, err = store.GetByHRI(ctx, "ACME/Summarizer")
	require.NoError(t, err)
	assert.Equal(t, "Summarizer", card.Name)

	_, err = store.GetByHRI(ctx, "acme/missing")
	require.ErrorAs(t, err, &notFound)
}

func TestMemoryStorePutEnforcesUniqueHRI(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "44444444-4444-4444-4444-444444444444",
		testCard("acme/summarizer", "Impostor", "", nil, ""))
	assert.Error(t, err)

	// same uuid may replace its own card, even changing the HRI
	require.NoError(t, store.Put(ctx, "11111111-1111-1111-1111-111111111111",
		testCard("acme/condenser", "Condenser", "", nil, "")))

	_, err = store.GetByHRI(ctx, "acme/summarizer")
	var notFound *registry.CardNotFoundError
	require.ErrorAs(t, err, &notFound)

	card, err := store.GetByHRI(ctx, "acme/condenser")
	require.NoError(t, err)
	assert.Equal(t, "Condenser", card.Name)
}
