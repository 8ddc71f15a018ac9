package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMilvusTestStore(t *testing.T) *MilvusStore {
	t.Helper()

	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		t.Skip("MILVUS_ADDR not set, skipping integration test")
	}

	store, err := NewMilvusStore(context.Background(), MilvusConfig{
		Address:      addr,
		EmbeddingDim: 4,
		MetricType:   "L2",
		Timeout:      "30s",
	})
	require.NoError(t, err)
	return store
}

func TestMilvusStoreDocuments(t *testing.T) {
	store := newMilvusTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_milvus")
	defer store.DeleteIndex(ctx, index)

	docs := []Record{
		RawRecord(map[string]any{
			"text": "close to the query", "id": "1",
			"embedding": []float32{1, 0, 0, 0},
			"name":      "filename1",
		}),
		RawRecord(map[string]any{
			"text": "far from the query", "id": "2",
			"embedding": []float32{0, 0, 0, 1},
			"name":      "filename2",
		}),
	}
	require.NoError(t, store.WriteDocuments(ctx, docs, index))

	t.Run("reads come from the side store", func(t *testing.T) {
		all, err := store.GetAllDocuments(ctx, nil, index)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "close to the query", doc.Text)
	})

	t.Run("similarity search ranks by distance", func(t *testing.T) {
		found, err := store.SearchByEmbedding(ctx, []float32{0.9, 0.1, 0, 0}, nil, 2, index)
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "1", found[0].ID)
	})

	t.Run("similarity search with filters", func(t *testing.T) {
		found, err := store.SearchByEmbedding(ctx, []float32{0.9, 0.1, 0, 0}, FilterSpec{"name": {"filename2"}}, 2, index)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "2", found[0].ID)
	})

	t.Run("writes to a populated collection are rejected", func(t *testing.T) {
		err := store.WriteDocuments(ctx, []Record{
			RawRecord(map[string]any{"text": "late arrival", "id": "3", "embedding": []float32{0, 1, 0, 0}}),
		}, index)
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})

	t.Run("text query unsupported", func(t *testing.T) {
		_, err := store.Query(ctx, "anything", nil, index)
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})

	t.Run("meta updates go through the side store", func(t *testing.T) {
		require.NoError(t, store.UpdateDocumentMeta(ctx, "1", map[string]any{"name": "renamed"}, index))

		doc, err := store.GetDocumentByID(ctx, "1", index)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "renamed", doc.Meta["name"])
	})
}

func TestMilvusStoreEmbeddingValidation(t *testing.T) {
	store := newMilvusTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("doc_milvus_dim")

	t.Run("missing embedding", func(t *testing.T) {
		err := store.WriteDocuments(ctx, []Record{
			RawRecord(map[string]any{"text": "no vector", "id": "1"}),
		}, index)
		assert.Error(t, err)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		err := store.WriteDocuments(ctx, []Record{
			RawRecord(map[string]any{"text": "short vector", "id": "1", "embedding": []float32{1, 2}}),
		}, index)
		assert.Error(t, err)
	})
}

func TestMilvusStoreLabels(t *testing.T) {
	store := newMilvusTestStore(t)
	defer store.Close()

	ctx := context.Background()
	index := testIndexName("label_milvus")

	label := &Label{
		Question:          "Which vector is closest?",
		Answer:            "The first one",
		IsCorrectAnswer:   true,
		IsCorrectDocument: true,
		Origin:            "user-feedback",
	}
	require.NoError(t, store.WriteLabels(ctx, []*Label{label}, index))

	got, err := store.GetAllLabels(ctx, index)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
