package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/namanphy/haystack/pkg/log"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`

	IndexOptions
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// Validate checks PostgreSQL configuration.
func (c *PostgresConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// SQLStore implements Store on PostgreSQL. It backs deployments that need
// durable document/label storage without a search engine, and serves as the
// side store holding text, meta and labels for the Milvus backend. Text
// queries are not supported; filters are applied by the shared evaluator
// after fetch so semantics match every other backend exactly.
type SQLStore struct {
	pool   *pgxpool.Pool
	opts   IndexOptions
	logger *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore connects, pings and creates the schema if missing.
func NewSQLStore(ctx context.Context, cfg PostgresConfig) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, unavailable(err, "create pgx pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err, "ping postgresql")
	}

	store := &SQLStore{
		pool:   pool,
		opts:   cfg.IndexOptions.withDefaults(),
		logger: log.Logger("sql-store"),
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err, "ensure schema")
	}
	return store, nil
}

// ensureSchema creates the documents and labels tables if they don't exist.
func (s *SQLStore) ensureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    index_name TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    meta       JSONB       NOT NULL DEFAULT '{}'::jsonb,
    embedding  REAL[],
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (index_name, id)
);
CREATE TABLE IF NOT EXISTS labels (
    id                  TEXT        PRIMARY KEY,
    index_name          TEXT        NOT NULL,
    question            TEXT        NOT NULL,
    answer              TEXT        NOT NULL,
    is_correct_answer   BOOLEAN     NOT NULL,
    is_correct_document BOOLEAN     NOT NULL,
    no_answer           BOOLEAN     NOT NULL,
    document_id         TEXT,
    offset_start_in_doc INT         NOT NULL DEFAULT 0,
    origin              TEXT,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_labels_index ON labels (index_name);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// WriteDocuments upserts by (index_name, id).
func (s *SQLStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	docs, err := normalizeRecords(records, s.opts.TextField, s.opts.EmbeddingField)
	if err != nil {
		return err
	}

	idx := s.opts.docIndex(index)
	query := `
INSERT INTO documents (index_name, id, text, meta, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (index_name, id)
DO UPDATE SET text = EXCLUDED.text, meta = EXCLUDED.meta,
              embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
`
	for _, doc := range docs {
		metaJSON, err := marshalMeta(doc.Meta)
		if err != nil {
			return errors.WithMessagef(err, "marshal meta of %s", doc.ID)
		}
		if _, err := s.pool.Exec(ctx, query, idx, doc.ID, doc.Text, metaJSON, doc.Embedding); err != nil {
			return unavailable(err, fmt.Sprintf("upsert document %s", doc.ID))
		}
	}
	return nil
}

// GetAllDocuments fetches the index ordered by id and post-filters with the
// shared evaluator.
func (s *SQLStore) GetAllDocuments(ctx context.Context, filters FilterSpec, index string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, meta, embedding FROM documents WHERE index_name = $1 ORDER BY id`,
		s.opts.docIndex(index),
	)
	if err != nil {
		return nil, unavailable(err, "select documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var (
			doc      Document
			metaJSON []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.Embedding); err != nil {
			return nil, unavailable(err, "scan document")
		}
		if err := unmarshalMeta(metaJSON, &doc.Meta); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal meta of %s", doc.ID)
		}
		if filters.Matches(&doc) {
			docs = append(docs, &doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate documents")
	}
	return docs, nil
}

func (s *SQLStore) GetDocumentByID(ctx context.Context, id, index string) (*Document, error) {
	var (
		doc      Document
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, text, meta, embedding FROM documents WHERE index_name = $1 AND id = $2`,
		s.opts.docIndex(index), id,
	).Scan(&doc.ID, &doc.Text, &metaJSON, &doc.Embedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, fmt.Sprintf("select document %s", id))
	}
	if err := unmarshalMeta(metaJSON, &doc.Meta); err != nil {
		return nil, errors.WithMessagef(err, "unmarshal meta of %s", id)
	}
	return &doc, nil
}

func (s *SQLStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return errors.WithMessagef(err, "marshal meta of %s", id)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET meta = $3, updated_at = NOW() WHERE index_name = $1 AND id = $2`,
		s.opts.docIndex(index), id, metaJSON,
	)
	if err != nil {
		return unavailable(err, fmt.Sprintf("update meta of %s", id))
	}
	if tag.RowsAffected() == 0 {
		return errors.WithMessagef(ErrNotFound, "update meta of %s", id)
	}
	return nil
}

func (s *SQLStore) WriteLabels(ctx context.Context, labels []*Label, index string) error {
	idx := s.opts.labelIndex(index)
	query := `
INSERT INTO labels (id, index_name, question, answer, is_correct_answer,
                    is_correct_document, no_answer, document_id,
                    offset_start_in_doc, origin, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	for _, l := range prepareLabels(labels) {
		_, err := s.pool.Exec(ctx, query,
			l.ID, idx, l.Question, l.Answer, l.IsCorrectAnswer,
			l.IsCorrectDocument, l.NoAnswer, l.DocumentID,
			l.OffsetStartInDoc, l.Origin, l.CreatedAt,
		)
		if err != nil {
			return unavailable(err, fmt.Sprintf("insert label %s", l.ID))
		}
	}
	return nil
}

func (s *SQLStore) GetAllLabels(ctx context.Context, index string) ([]*Label, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, question, answer, is_correct_answer, is_correct_document,
       no_answer, document_id, offset_start_in_doc, origin, created_at
FROM labels WHERE index_name = $1 ORDER BY created_at, id`,
		s.opts.labelIndex(index),
	)
	if err != nil {
		return nil, unavailable(err, "select labels")
	}
	defer rows.Close()

	var labels []*Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.Question, &l.Answer, &l.IsCorrectAnswer,
			&l.IsCorrectDocument, &l.NoAnswer, &l.DocumentID,
			&l.OffsetStartInDoc, &l.Origin, &l.CreatedAt); err != nil {
			return nil, unavailable(err, "scan label")
		}
		labels = append(labels, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate labels")
	}
	return labels, nil
}

// Query supports metadata-only lookups. Full-text ranking belongs to the
// search engine backends.
func (s *SQLStore) Query(ctx context.Context, query string, filters FilterSpec, index string) ([]*Document, error) {
	if query != "" {
		return nil, errors.WithMessage(ErrUnsupportedOperation, "sql store has no full-text query")
	}
	return s.GetAllDocuments(ctx, filters, index)
}

// DeleteIndex removes all documents and labels stored under the index name.
func (s *SQLStore) DeleteIndex(ctx context.Context, index string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE index_name = $1`, s.opts.docIndex(index)); err != nil {
		return unavailable(err, "delete documents")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM labels WHERE index_name = $1`, s.opts.labelIndex(index)); err != nil {
		return unavailable(err, "delete labels")
	}
	return nil
}

func (s *SQLStore) Close() error {
	s.pool.Close()
	return nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func unmarshalMeta(raw []byte, meta *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	if len(m) > 0 {
		*meta = m
	}
	return nil
}
