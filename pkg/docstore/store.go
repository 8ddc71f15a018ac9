package docstore

import "context"

// Default index and field names used when a config leaves them empty.
const (
	DefaultIndex          = "document"
	DefaultLabelIndex     = "label"
	DefaultTextField      = "text"
	DefaultEmbeddingField = "embedding"
)

// Store is the uniform contract over heterogeneous storage engines (inverted
// index full-text search, dense-vector similarity search, SQL, in-memory).
//
// Every operation takes an explicit index argument; the empty string falls
// back to the default index configured at construction time. Documents and
// labels in different indices are fully isolated. Document writes overwrite
// by id, label writes append.
type Store interface {
	// WriteDocuments normalizes records into documents and writes them to the
	// index. Returns ErrUnsupportedOperation when the engine forbids appends
	// to an existing populated index.
	WriteDocuments(ctx context.Context, records []Record, index string) error

	// GetAllDocuments returns the documents in the index, restricted to those
	// matching filters when filters is non-empty. Order is unspecified but
	// stable for a fixed store state. Unknown filter fields yield zero
	// matches, never an error.
	GetAllDocuments(ctx context.Context, filters FilterSpec, index string) ([]*Document, error)

	// GetDocumentByID returns the document with the given id, or (nil, nil)
	// when no such document exists.
	GetDocumentByID(ctx context.Context, id, index string) (*Document, error)

	// UpdateDocumentMeta replaces (not merges) the meta mapping of the
	// document with the given id. Returns ErrNotFound when the id does not
	// exist in the index.
	UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error

	// WriteLabels appends labels to the label index. Writing the same logical
	// label twice stores two records.
	WriteLabels(ctx context.Context, labels []*Label, index string) error

	// GetAllLabels returns all labels in the label index.
	GetAllLabels(ctx context.Context, index string) ([]*Label, error)

	// Query runs a full-text or similarity search. An empty query with
	// filters acts as a pure metadata lookup: every match is returned and
	// some matching document is first, but no ranking is guaranteed.
	Query(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error)

	// Close releases resources held by the store.
	Close() error
}

// IndexOptions carries the index and field names shared by every backend
// config. Zero values fall back to the package defaults.
type IndexOptions struct {
	Index          string `toml:"index"`
	LabelIndex     string `toml:"label_index"`
	TextField      string `toml:"text_field"`
	EmbeddingField string `toml:"embedding_field"`
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.Index == "" {
		o.Index = DefaultIndex
	}
	if o.LabelIndex == "" {
		o.LabelIndex = DefaultLabelIndex
	}
	if o.TextField == "" {
		o.TextField = DefaultTextField
	}
	if o.EmbeddingField == "" {
		o.EmbeddingField = DefaultEmbeddingField
	}
	return o
}

// docIndex resolves an index argument against the configured default.
func (o IndexOptions) docIndex(index string) string {
	if index != "" {
		return index
	}
	return o.Index
}

// labelIndex resolves a label index argument against the configured default.
func (o IndexOptions) labelIndex(index string) string {
	if index != "" {
		return index
	}
	return o.LabelIndex
}
