package docstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenSearchTestStore(t *testing.T) *OpenSearchStore {
	t.Helper()

	addr := os.Getenv("OPENSEARCH_ADDR")
	if addr == "" {
		t.Skip("OPENSEARCH_ADDR not set, skipping integration test")
	}

	store, err := NewOpenSearchStore(OpenSearchConfig{
		Addresses:    []string{addr},
		Username:     os.Getenv("OPENSEARCH_USERNAME"),
		Password:     os.Getenv("OPENSEARCH_PASSWORD"),
		EmbeddingDim: 4,
		Timeout:      "30s",
		InsecureSSL:  true,
	})
	require.NoError(t, err)
	return store
}

// testIndexName builds a unique index per test run so concurrent CI jobs do
// not trample each other.
func testIndexName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestOpenSearchStoreDocuments(t *testing.T) {
	store := newOpenSearchTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_it")
	defer store.DeleteIndex(ctx, index)

	docs := []Record{
		RawRecord(map[string]any{"text": "OpenSearch is a search engine", "id": "1", "name": "filename1", "year": "2020"}),
		RawRecord(map[string]any{"text": "Milvus is a vector database", "id": "2", "name": "filename2", "year": "2021"}),
	}
	require.NoError(t, store.WriteDocuments(ctx, docs, index))

	t.Run("get all", func(t *testing.T) {
		all, err := store.GetAllDocuments(ctx, nil, index)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("get by id", func(t *testing.T) {
		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "OpenSearch is a search engine", doc.Text)
		assert.Equal(t, "filename1", doc.Meta["name"])
	})

	t.Run("missing id returns nil", func(t *testing.T) {
		doc, err := store.GetDocumentByID(ctx, "no-such-id", index)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("filter on meta field", func(t *testing.T) {
		docs, err := store.GetAllDocuments(ctx, FilterSpec{"year": {"2020"}}, index)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "1", docs[0].ID)
	})

	t.Run("filter with no match", func(t *testing.T) {
		docs, err := store.GetAllDocuments(ctx, FilterSpec{"year": {"1999"}}, index)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("full text query", func(t *testing.T) {
		docs, err := store.Query(ctx, "vector database", nil, index)
		require.NoError(t, err)
		require.NotEmpty(t, docs)
		assert.Equal(t, "2", docs[0].ID)
		assert.Greater(t, docs[0].Score, 0.0)
	})

	t.Run("empty query with filters", func(t *testing.T) {
		docs, err := store.Query(ctx, "", FilterSpec{"name": {"filename2"}}, index)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "2", docs[0].ID)
	})

	t.Run("update meta", func(t *testing.T) {
		require.NoError(t, store.UpdateDocumentMeta(ctx, "1", map[string]any{"name": "renamed"}, index))

		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "renamed", doc.Meta["name"])
		assert.NotContains(t, doc.Meta, "year")
	})

	t.Run("update meta on missing id", func(t *testing.T) {
		err := store.UpdateDocumentMeta(ctx, "no-such-id", map[string]any{"name": "x"}, index)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("count", func(t *testing.T) {
		n, err := store.Count(ctx, nil, index)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestOpenSearchStoreOverwrite(t *testing.T) {
	store := newOpenSearchTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_it_overwrite")
	defer store.DeleteIndex(ctx, index)

	require.NoError(t, store.WriteDocuments(ctx, []Record{
		RawRecord(map[string]any{"text": "first version", "id": "1"}),
	}, index))
	require.NoError(t, store.WriteDocuments(ctx, []Record{
		RawRecord(map[string]any{"text": "second version", "id": "1"}),
	}, index))

	all, err := store.GetAllDocuments(ctx, nil, index)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second version", all[0].Text)
}

func TestOpenSearchStoreLabels(t *testing.T) {
	store := newOpenSearchTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("label_it")
	defer store.DeleteIndex(ctx, index)

	labels := []*Label{
		{Question: "What is OpenSearch?", Answer: "A search engine", IsCorrectAnswer: true, IsCorrectDocument: true, Origin: "user-feedback"},
		{Question: "What is OpenSearch?", Answer: "A search engine", IsCorrectAnswer: true, IsCorrectDocument: true, Origin: "user-feedback"},
	}
	require.NoError(t, store.WriteLabels(ctx, labels, index))

	got, err := store.GetAllLabels(ctx, index)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, l := range got {
		assert.NotEmpty(t, l.ID)
	}
}

func TestOpenSearchStoreEmptyIndexReads(t *testing.T) {
	store := newOpenSearchTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_it_empty")

	docs, err := store.GetAllDocuments(ctx, nil, index)
	require.NoError(t, err)
	assert.Empty(t, docs)

	doc, err := store.GetDocumentByID(ctx, "1", index)
	require.NoError(t, err)
	assert.Nil(t, doc)
}
