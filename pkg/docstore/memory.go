package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is the reference backend: per-index maps from document id to
// document plus per-index append-only label lists. No persistence across the
// process lifetime. Each index carries its own RWMutex so readers and
// writers of different indices never contend.
type InMemoryStore struct {
	opts IndexOptions

	mu      sync.Mutex // guards the index maps themselves
	indexes map[string]*memoryIndex
	labels  map[string]*memoryLabelIndex
}

var _ Store = (*InMemoryStore)(nil)

type memoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

type memoryLabelIndex struct {
	mu     sync.RWMutex
	labels []*Label
}

// NewInMemoryStore creates an in-memory store. Zero-value options fall back
// to the package defaults.
func NewInMemoryStore(opts IndexOptions) *InMemoryStore {
	return &InMemoryStore{
		opts:    opts.withDefaults(),
		indexes: make(map[string]*memoryIndex),
		labels:  make(map[string]*memoryLabelIndex),
	}
}

func (s *InMemoryStore) index(name string) *memoryIndex {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[name]
	if !ok {
		idx = &memoryIndex{docs: make(map[string]*Document)}
		s.indexes[name] = idx
	}
	return idx
}

func (s *InMemoryStore) labelIndex(name string) *memoryLabelIndex {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.labels[name]
	if !ok {
		idx = &memoryLabelIndex{}
		s.labels[name] = idx
	}
	return idx
}

// WriteDocuments overwrites by id within the target index.
func (s *InMemoryStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	docs, err := normalizeRecords(records, s.opts.TextField, s.opts.EmbeddingField)
	if err != nil {
		return err
	}

	idx := s.index(s.opts.docIndex(index))
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, doc := range docs {
		idx.docs[doc.ID] = doc
	}
	return nil
}

// GetAllDocuments applies the filter evaluator and returns copies ordered by
// id so the result is stable for a fixed store state.
func (s *InMemoryStore) GetAllDocuments(ctx context.Context, filters FilterSpec, index string) ([]*Document, error) {
	idx := s.index(s.opts.docIndex(index))
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docs := make([]*Document, 0, len(idx.docs))
	for _, doc := range idx.docs {
		if filters.Matches(doc) {
			docs = append(docs, doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *InMemoryStore) GetDocumentByID(ctx context.Context, id, index string) (*Document, error) {
	idx := s.index(s.opts.docIndex(index))
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.docs[id].Clone(), nil
}

// UpdateDocumentMeta replaces the meta mapping of the document with the
// given id.
func (s *InMemoryStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	idx := s.index(s.opts.docIndex(index))
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, ok := idx.docs[id]
	if !ok {
		return ErrNotFound
	}

	updated := doc.Clone()
	updated.Meta = make(map[string]any, len(meta))
	for k, v := range meta {
		updated.Meta[k] = v
	}
	idx.docs[id] = updated
	return nil
}

func (s *InMemoryStore) WriteLabels(ctx context.Context, labels []*Label, index string) error {
	idx := s.labelIndex(s.opts.labelIndex(index))
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.labels = append(idx.labels, prepareLabels(labels)...)
	return nil
}

func (s *InMemoryStore) GetAllLabels(ctx context.Context, index string) ([]*Label, error) {
	idx := s.labelIndex(s.opts.labelIndex(index))
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*Label, 0, len(idx.labels))
	for _, l := range idx.labels {
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

// Query ranks by case-insensitive term containment. An empty query returns
// all filter matches ordered by id, which puts a matching document first
// whenever any match exists.
func (s *InMemoryStore) Query(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error) {
	docs, err := s.GetAllDocuments(ctx, filters, index)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return docs, nil
	}

	terms := strings.Fields(strings.ToLower(query))
	hits := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		text := strings.ToLower(doc.Text)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 {
			doc.Score = float64(score)
			hits = append(hits, doc)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Count returns the number of documents matching filters in the index.
func (s *InMemoryStore) Count(ctx context.Context, filters FilterSpec, index string) (int, error) {
	docs, err := s.GetAllDocuments(ctx, filters, index)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// DeleteIndex drops an index and its contents.
func (s *InMemoryStore) DeleteIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.indexes, s.opts.docIndex(index))
	delete(s.labels, s.opts.labelIndex(index))
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
