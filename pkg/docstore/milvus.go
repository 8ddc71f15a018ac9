package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/pkg/errors"

	"github.com/namanphy/haystack/pkg/log"
)

// MilvusConfig holds Milvus configuration. When Postgres is enabled it
// becomes the side store for document text, meta and labels; otherwise an
// in-memory side store is used and nothing survives the process.
type MilvusConfig struct {
	Address      string `toml:"address"`
	Database     string `toml:"database"`
	EmbeddingDim int    `toml:"embedding_dim"`
	MetricType   string `toml:"metric_type"` // L2, IP or COSINE
	Timeout      string `toml:"timeout"`

	Postgres PostgresConfig `toml:"postgres"`

	IndexOptions
}

// Validate checks Milvus configuration.
func (c *MilvusConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive")
	}
	switch strings.ToUpper(c.MetricType) {
	case "", "L2", "IP", "COSINE":
	default:
		return fmt.Errorf("invalid metric_type: %s", c.MetricType)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("timeout is invalid: %v", err)
		}
	}
	return c.Postgres.Validate()
}

func (c *MilvusConfig) metric() entity.MetricType {
	switch strings.ToUpper(c.MetricType) {
	case "IP":
		return entity.IP
	case "COSINE":
		return entity.COSINE
	default:
		return entity.L2
	}
}

// MilvusStore implements Store on a Milvus cluster, one collection per
// index. The collection holds ids and embeddings only; text, meta and
// labels live in the side store, so meta updates and label writes stay
// possible even though the vector index itself is append-restricted.
//
// Milvus collections are populate-once here: writing documents to an
// existing, populated collection returns ErrUnsupportedOperation instead of
// corrupting the index. Callers wanting more documents write to a new index.
type MilvusStore struct {
	client  *milvusclient.Client
	side    Store
	opts    IndexOptions
	dim     int
	metric  entity.MetricType
	timeout time.Duration
	logger  *slog.Logger
}

var _ Store = (*MilvusStore)(nil)

// NewMilvusStore connects to Milvus and builds the configured side store.
func NewMilvusStore(ctx context.Context, cfg MilvusConfig) (*MilvusStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.Address,
		DBName:  cfg.Database,
	})
	if err != nil {
		return nil, unavailable(err, "create milvus client")
	}

	opts := cfg.IndexOptions.withDefaults()

	var side Store
	if cfg.Postgres.Enabled {
		pgCfg := cfg.Postgres
		pgCfg.IndexOptions = opts
		side, err = NewSQLStore(ctx, pgCfg)
		if err != nil {
			_ = client.Close(ctx)
			return nil, errors.WithMessage(err, "create side store")
		}
	} else {
		side = NewInMemoryStore(opts)
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		timeout, _ = time.ParseDuration(cfg.Timeout)
	}

	return &MilvusStore{
		client:  client,
		side:    side,
		opts:    opts,
		dim:     cfg.EmbeddingDim,
		metric:  cfg.metric(),
		timeout: timeout,
		logger:  log.Logger("milvus-store"),
	}, nil
}

func (s *MilvusStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// WriteDocuments populates a collection. Every document must carry an
// embedding of the configured dimension.
func (s *MilvusStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	docs, err := normalizeRecords(records, s.opts.TextField, s.opts.EmbeddingField)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if len(doc.Embedding) != s.dim {
			return errors.Errorf("document %s: embedding dimension %d, want %d",
				doc.ID, len(doc.Embedding), s.dim)
		}
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.opts.docIndex(index)
	has, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return unavailable(err, fmt.Sprintf("check collection %s", coll))
	}

	if has {
		count, err := s.collectionCount(ctx, coll)
		if err != nil {
			return err
		}
		if count > 0 {
			return errors.WithMessagef(ErrUnsupportedOperation,
				"collection %s is already populated, write to a new index", coll)
		}
	} else {
		if err := s.createCollection(ctx, coll); err != nil {
			return err
		}
	}

	ids := make([]string, len(docs))
	vectors := make([][]float32, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		vectors[i] = doc.Embedding
	}

	_, err = s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(coll,
		column.NewColumnVarChar("id", ids),
		column.NewColumnFloatVector("embedding", s.dim, vectors),
	))
	if err != nil {
		return unavailable(err, fmt.Sprintf("insert into %s", coll))
	}
	s.logger.Debug("collection populated", "collection", coll, "documents", len(docs))

	sideRecords := make([]Record, len(docs))
	for i, doc := range docs {
		sideRecords[i] = DocumentRecord(doc)
	}
	return s.side.WriteDocuments(ctx, sideRecords, index)
}

func (s *MilvusStore) createCollection(ctx context.Context, coll string) error {
	schema := &entity.Schema{
		CollectionName: coll,
		AutoID:         false,
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
				PrimaryKey: true,
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.dim)},
			},
		},
	}

	err := s.client.CreateCollection(ctx,
		milvusclient.NewCreateCollectionOption(coll, schema).WithIndexOptions(
			milvusclient.NewCreateIndexOption(coll, "embedding",
				index.NewHNSWIndex(s.metric, 64, 128))))
	if err != nil {
		return unavailable(err, fmt.Sprintf("create collection %s", coll))
	}

	if _, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(coll)); err != nil {
		return unavailable(err, fmt.Sprintf("load collection %s", coll))
	}
	return nil
}

func (s *MilvusStore) collectionCount(ctx context.Context, coll string) (int64, error) {
	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(coll).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, unavailable(err, fmt.Sprintf("count collection %s", coll))
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	v, err := col.Get(0)
	if err != nil {
		return 0, unavailable(err, fmt.Sprintf("count collection %s", coll))
	}
	count, _ := v.(int64)
	return count, nil
}

// Reads, meta updates and labels are served by the side store, which holds
// the authoritative document shape.

func (s *MilvusStore) GetAllDocuments(ctx context.Context, filters FilterSpec, index string) ([]*Document, error) {
	return s.side.GetAllDocuments(ctx, filters, index)
}

func (s *MilvusStore) GetDocumentByID(ctx context.Context, id, index string) (*Document, error) {
	return s.side.GetDocumentByID(ctx, id, index)
}

func (s *MilvusStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	return s.side.UpdateDocumentMeta(ctx, id, meta, index)
}

func (s *MilvusStore) WriteLabels(ctx context.Context, labels []*Label, index string) error {
	return s.side.WriteLabels(ctx, labels, index)
}

func (s *MilvusStore) GetAllLabels(ctx context.Context, index string) ([]*Label, error) {
	return s.side.GetAllLabels(ctx, index)
}

// Query supports metadata-only lookups. Text queries need an embedder, which
// lives outside this layer — callers embed the query themselves and use
// SearchByEmbedding.
func (s *MilvusStore) Query(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error) {
	if query != "" {
		return nil, errors.WithMessage(ErrUnsupportedOperation,
			"milvus store takes embeddings, not query text; use SearchByEmbedding")
	}
	return s.side.GetAllDocuments(ctx, filters, index)
}

// SearchByEmbedding runs an ANN search and resolves hits against the side
// store, post-filtering with the shared evaluator. Not part of the portable
// Store contract.
func (s *MilvusStore) SearchByEmbedding(ctx context.Context, embedding []float32, filters FilterSpec, topK int, index string) ([]*Document, error) {
	if len(embedding) != s.dim {
		return nil, errors.Errorf("query embedding dimension %d, want %d", len(embedding), s.dim)
	}
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.opts.docIndex(index)
	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(coll, topK,
		[]entity.Vector{entity.FloatVector(embedding)}).
		WithANNSField("embedding").
		WithOutputFields("id").
		WithConsistencyLevel(entity.ClBounded))
	if err != nil {
		return nil, unavailable(err, fmt.Sprintf("search collection %s", coll))
	}
	if len(results) == 0 {
		return nil, nil
	}

	idCol := results[0].GetColumn("id")
	if idCol == nil {
		return nil, nil
	}

	var docs []*Document
	for i := 0; i < idCol.Len(); i++ {
		v, err := idCol.Get(i)
		if err != nil {
			return nil, unavailable(err, "read search hit id")
		}
		id, _ := v.(string)

		doc, err := s.side.GetDocumentByID(ctx, id, index)
		if err != nil {
			return nil, err
		}
		if doc == nil || !filters.Matches(doc) {
			continue
		}
		if i < len(results[0].Scores) {
			doc.Score = float64(results[0].Scores[i])
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DeleteIndex drops the collection and clears the side store.
func (s *MilvusStore) DeleteIndex(ctx context.Context, index string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	coll := s.opts.docIndex(index)
	if err := s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(coll)); err != nil {
		return unavailable(err, fmt.Sprintf("drop collection %s", coll))
	}

	type indexDeleter interface {
		DeleteIndex(ctx context.Context, index string) error
	}
	if d, ok := s.side.(indexDeleter); ok {
		return d.DeleteIndex(ctx, index)
	}
	return nil
}

func (s *MilvusStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Close(ctx); err != nil {
		return unavailable(err, "close milvus client")
	}
	return s.side.Close()
}
