package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedTestStore(t *testing.T) *CachedStore {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}

	store, err := NewCachedStore(NewInMemoryStore(IndexOptions{}), CacheConfig{
		Enabled: true,
		Addr:    addr,
		TTL:     "1m",
	})
	require.NoError(t, err)
	return store
}

func TestCachedStoreReadThrough(t *testing.T) {
	store := newCachedTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_cache")

	require.NoError(t, store.WriteDocuments(ctx, []Record{
		RawRecord(map[string]any{"text": "cached text", "id": "1", "name": "filename1"}),
	}, index))

	t.Run("miss then hit", func(t *testing.T) {
		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "cached text", doc.Text)

		// Second read is served from the cache; meta must survive the
		// round trip intact.
		doc, err = store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "cached text", doc.Text)
		assert.Equal(t, "filename1", doc.Meta["name"])
	})

	t.Run("missing id is not cached as an error", func(t *testing.T) {
		doc, err := store.GetDocumentByID(ctx, "no-such-id", index)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})
}

func TestCachedStoreInvalidation(t *testing.T) {
	store := newCachedTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_cache_inv")

	write := func(text string) {
		require.NoError(t, store.WriteDocuments(ctx, []Record{
			RawRecord(map[string]any{"text": text, "id": "1", "name": "filename1"}),
		}, index))
	}

	write("first version")

	doc, err := store.GetDocumentByID(ctx, "1", index)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "first version", doc.Text)

	t.Run("rewrite drops the cached entry", func(t *testing.T) {
		write("second version")

		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "second version", doc.Text)
	})

	t.Run("meta update drops the cached entry", func(t *testing.T) {
		require.NoError(t, store.UpdateDocumentMeta(ctx, "1", map[string]any{"name": "renamed"}, index))

		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "renamed", doc.Meta["name"])
	})
}
