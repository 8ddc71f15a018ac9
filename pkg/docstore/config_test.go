package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("memory backend with defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "memory"

[memory]
index = "document"
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, BackendMemory, cfg.Backend)
		assert.Equal(t, "document", cfg.Memory.Index)
	})

	t.Run("opensearch backend", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "opensearch"

[opensearch]
addresses = ["http://localhost:9200"]
index = "document"
text_field = "text"
embedding_field = "embedding"
embedding_dim = 768
timeout = "10s"
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, BackendOpenSearch, cfg.Backend)
		assert.Equal(t, []string{"http://localhost:9200"}, cfg.OpenSearch.Addresses)
		assert.Equal(t, 768, cfg.OpenSearch.EmbeddingDim)
		assert.Equal(t, "text", cfg.OpenSearch.TextField)
	})

	t.Run("milvus backend with postgres side store", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "milvus"

[milvus]
address = "localhost:19530"
embedding_dim = 768
metric_type = "COSINE"

[milvus.postgres]
enabled = true
host = "localhost"
port = 5432
user = "haystack"
password = "secret"
database = "haystack"
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, BackendMilvus, cfg.Backend)
		assert.Equal(t, "localhost:19530", cfg.Milvus.Address)
		assert.True(t, cfg.Milvus.Postgres.Enabled)
		assert.Contains(t, cfg.Milvus.Postgres.DSN(), "haystack")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := writeConfigFile(t, `backend = [`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := writeConfigFile(t, `backend = "sqlite"`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("opensearch without addresses fails validation", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "opensearch"

[opensearch]
embedding_dim = 768
`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("milvus without dimension fails validation", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "milvus"

[milvus]
address = "localhost:19530"
`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("enabled cache requires addr", func(t *testing.T) {
		path := writeConfigFile(t, `
backend = "memory"

[cache]
enabled = true
`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestOpenMemoryBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*InMemoryStore)
	assert.True(t, ok)

	err = store.WriteDocuments(ctx, []Record{
		RawRecord(map[string]any{"text": "text", "id": "1"}),
	}, "")
	require.NoError(t, err)

	doc, err := store.GetDocumentByID(ctx, "1", "")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "text", doc.Text)
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Backend)
}
