package docstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/namanphy/haystack/pkg/log"
)

// Result window for fetch-all style reads. Larger indices need scrolling,
// which this store does not do.
const osMaxResults = 10000

// Concurrent index requests per WriteDocuments call.
const osWriteConcurrency = 8

// OpenSearchConfig holds OpenSearch configuration.
type OpenSearchConfig struct {
	Addresses    []string `toml:"addresses"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	EmbeddingDim int      `toml:"embedding_dim"`
	Timeout      string   `toml:"timeout"`
	InsecureSSL  bool     `toml:"insecure_ssl"`

	IndexOptions
}

// Validate checks OpenSearch configuration.
func (c *OpenSearchConfig) Validate() error {
	if len(c.Addresses) == 0 {
		return fmt.Errorf("addresses is required")
	}
	if c.EmbeddingDim < 0 {
		return fmt.Errorf("embedding_dim must not be negative")
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("timeout is invalid: %v", err)
		}
	}
	return nil
}

// OpenSearchStore implements Store on an OpenSearch cluster. Documents live
// one index per index name with the canonical shape {text, meta, embedding};
// meta string fields are mapped to keyword so terms filters match the
// in-memory evaluator exactly.
type OpenSearchStore struct {
	client       *opensearchapi.Client
	opts         IndexOptions
	embeddingDim int
	timeout      time.Duration
	logger       *slog.Logger
}

var _ Store = (*OpenSearchStore)(nil)

// NewOpenSearchStore creates a new OpenSearch-backed store.
func NewOpenSearchStore(cfg OpenSearchConfig) (*OpenSearchStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "create opensearch client")
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		timeout, _ = time.ParseDuration(cfg.Timeout)
	}

	return &OpenSearchStore{
		client:       client,
		opts:         cfg.IndexOptions.withDefaults(),
		embeddingDim: cfg.EmbeddingDim,
		timeout:      timeout,
		logger:       log.Logger("opensearch-store"),
	}, nil
}

// osDocument is the _source shape stored per document.
type osDocument struct {
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

func (s *OpenSearchStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// unavailable wraps engine and timeout failures into the taxonomy.
func unavailable(err error, op string) error {
	return errors.WithMessagef(ErrBackendUnavailable, "%s: %v", op, err)
}

// ensureIndex creates the index with the document mapping, tolerating
// concurrent creation.
func (s *OpenSearchStore) ensureIndex(ctx context.Context, index string) error {
	props := map[string]any{
		"text": map[string]any{"type": "text"},
	}
	body := map[string]any{
		"mappings": map[string]any{
			"properties": props,
			"dynamic_templates": []map[string]any{
				{
					"meta_strings": map[string]any{
						"path_match":         "meta.*",
						"match_mapping_type": "string",
						"mapping":            map[string]any{"type": "keyword"},
					},
				},
			},
		},
	}
	if s.embeddingDim > 0 {
		props["embedding"] = map[string]any{
			"type":      "knn_vector",
			"dimension": s.embeddingDim,
		}
		body["settings"] = map[string]any{"index": map[string]any{"knn": true}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return errors.WithMessage(err, "marshal index mapping")
	}

	_, err = s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: index,
		Body:  bytes.NewReader(raw),
	})
	if err != nil {
		if strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return unavailable(err, fmt.Sprintf("create index %s", index))
	}
	return nil
}

// WriteDocuments indexes documents with overwrite-by-id semantics, fanning
// requests out across a bounded worker group.
func (s *OpenSearchStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	docs, err := normalizeRecords(records, s.opts.TextField, s.opts.EmbeddingField)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idx := s.opts.docIndex(index)
	if err := s.ensureIndex(ctx, idx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(osWriteConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			return s.indexDocument(ctx, idx, doc)
		})
	}
	return g.Wait()
}

func (s *OpenSearchStore) indexDocument(ctx context.Context, index string, doc *Document) error {
	body, err := json.Marshal(osDocument{
		Text:      doc.Text,
		Meta:      doc.Meta,
		Embedding: doc.Embedding,
	})
	if err != nil {
		return errors.WithMessagef(err, "marshal document %s", doc.ID)
	}

	_, err = s.client.Index(ctx, opensearchapi.IndexReq{
		Index:      index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Params:     opensearchapi.IndexParams{Refresh: "true"},
	})
	if err != nil {
		return unavailable(err, fmt.Sprintf("index document %s", doc.ID))
	}
	return nil
}

// GetAllDocuments runs a filtered match_all. OpenSearch terms filters carry
// the same semantics as the in-memory evaluator.
func (s *OpenSearchStore) GetAllDocuments(ctx context.Context, filters FilterSpec, index string) ([]*Document, error) {
	return s.search(ctx, "", filters, s.opts.docIndex(index))
}

func (s *OpenSearchStore) GetDocumentByID(ctx context.Context, id, index string) (*Document, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	resp, err := s.client.Document.Get(ctx, opensearchapi.DocumentGetReq{
		Index:      s.opts.docIndex(index),
		DocumentID: id,
	})
	if err != nil {
		if resp != nil && resp.Inspect().Response != nil && resp.Inspect().Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, unavailable(err, fmt.Sprintf("get document %s", id))
	}
	if !resp.Found {
		return nil, nil
	}

	var src osDocument
	if err := json.Unmarshal(resp.Source, &src); err != nil {
		return nil, errors.WithMessagef(err, "unmarshal document %s", id)
	}
	return &Document{ID: id, Text: src.Text, Meta: src.Meta, Embedding: src.Embedding}, nil
}

// UpdateDocumentMeta reindexes the document with its meta mapping replaced.
// A partial update would merge object fields, which is the wrong semantics.
func (s *OpenSearchStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	doc, err := s.GetDocumentByID(ctx, id, index)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.WithMessagef(ErrNotFound, "update meta of %s", id)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc.Meta = meta
	return s.indexDocument(ctx, s.opts.docIndex(index), doc)
}

func (s *OpenSearchStore) WriteLabels(ctx context.Context, labels []*Label, index string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idx := s.opts.labelIndex(index)
	for _, label := range prepareLabels(labels) {
		body, err := json.Marshal(label)
		if err != nil {
			return errors.WithMessagef(err, "marshal label %s", label.ID)
		}

		_, err = s.client.Index(ctx, opensearchapi.IndexReq{
			Index:      idx,
			DocumentID: label.ID,
			Body:       bytes.NewReader(body),
			Params:     opensearchapi.IndexParams{Refresh: "true"},
		})
		if err != nil {
			return unavailable(err, fmt.Sprintf("index label %s", label.ID))
		}
	}
	return nil
}

func (s *OpenSearchStore) GetAllLabels(ctx context.Context, index string) ([]*Label, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idx := s.opts.labelIndex(index)
	body, _ := json.Marshal(map[string]any{
		"size":  osMaxResults,
		"query": map[string]any{"match_all": map[string]any{}},
	})

	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{idx},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		// A label index that was never written to does not exist yet.
		if strings.Contains(err.Error(), "index_not_found_exception") {
			return nil, nil
		}
		return nil, unavailable(err, fmt.Sprintf("search labels in %s", idx))
	}

	labels := make([]*Label, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var label Label
		if err := json.Unmarshal(hit.Source, &label); err != nil {
			return nil, errors.WithMessage(err, "unmarshal label")
		}
		labels = append(labels, &label)
	}
	return labels, nil
}

// Query runs a full-text match restricted by filters. An empty query is a
// pure metadata lookup returning every match.
func (s *OpenSearchStore) Query(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error) {
	return s.search(ctx, query, filters, s.opts.docIndex(index))
}

func (s *OpenSearchStore) search(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	boolQuery := map[string]any{}
	if clauses := osFilterClauses(filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}
	if query != "" {
		boolQuery["must"] = map[string]any{
			"match": map[string]any{"text": map[string]any{"query": query}},
		}
	}

	var searchQuery map[string]any
	if len(boolQuery) == 0 {
		searchQuery = map[string]any{"match_all": map[string]any{}}
	} else {
		searchQuery = map[string]any{"bool": boolQuery}
	}

	body, err := json.Marshal(map[string]any{
		"size":  osMaxResults,
		"query": searchQuery,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "marshal search query")
	}

	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		if strings.Contains(err.Error(), "index_not_found_exception") {
			return nil, nil
		}
		return nil, unavailable(err, fmt.Sprintf("search %s", index))
	}

	docs := make([]*Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var src osDocument
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			s.logger.Warn("skipping unparsable hit", "index", index, "id", hit.ID)
			continue
		}
		docs = append(docs, &Document{
			ID:        hit.ID,
			Text:      src.Text,
			Meta:      src.Meta,
			Embedding: src.Embedding,
			Score:     float64(hit.Score),
		})
	}
	return docs, nil
}

func osFilterClauses(filters FilterSpec) []map[string]any {
	clauses := make([]map[string]any, 0, len(filters))
	for field, values := range filters {
		clauses = append(clauses, map[string]any{
			"terms": map[string]any{"meta." + field: values},
		})
	}
	return clauses
}

// Count counts documents matching filters.
func (s *OpenSearchStore) Count(ctx context.Context, filters FilterSpec, index string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	idx := s.opts.docIndex(index)
	queryBody := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	if clauses := osFilterClauses(filters); len(clauses) > 0 {
		queryBody["query"] = map[string]any{"bool": map[string]any{"filter": clauses}}
	}

	body, _ := json.Marshal(queryBody)
	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{idx},
		Body:    bytes.NewReader(body),
		Params: opensearchapi.SearchParams{
			Size:           opensearchapi.ToPointer(0),
			TrackTotalHits: true,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "index_not_found_exception") {
			return 0, nil
		}
		return 0, unavailable(err, fmt.Sprintf("count %s", idx))
	}
	return resp.Hits.Total.Value, nil
}

// DeleteIndex drops a document or label index. Missing indices are not an
// error.
func (s *OpenSearchStore) DeleteIndex(ctx context.Context, index string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{
		Indices: []string{index},
	})
	if err != nil && !strings.Contains(err.Error(), "index_not_found_exception") {
		return unavailable(err, fmt.Sprintf("delete index %s", index))
	}
	return nil
}

func (s *OpenSearchStore) Close() error {
	return nil
}
