package docstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Document is the flat document shape shared by all backends: text content,
// optional string-keyed metadata and an optional dense embedding vector.
// Two documents with the same id in the same index are the same logical
// entity — re-writing an existing id overwrites it.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`

	// Score is filled on query results, zero otherwise.
	Score float64 `json:"score,omitempty"`
}

// Clone returns a deep copy so stored documents never alias caller memory.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Meta != nil {
		c.Meta = make(map[string]any, len(d.Meta))
		for k, v := range d.Meta {
			c.Meta[k] = v
		}
	}
	if d.Embedding != nil {
		c.Embedding = make([]float32, len(d.Embedding))
		copy(c.Embedding, d.Embedding)
	}
	return &c
}

// Label is a gold annotation for QA evaluation. Labels are append-only
// records scoped to a label index; DocumentID is a weak reference with no
// enforced integrity.
type Label struct {
	ID                string    `json:"id,omitempty"`
	Question          string    `json:"question"`
	Answer            string    `json:"answer"`
	IsCorrectAnswer   bool      `json:"is_correct_answer"`
	IsCorrectDocument bool      `json:"is_correct_document"`
	NoAnswer          bool      `json:"no_answer"`
	DocumentID        string    `json:"document_id"`
	OffsetStartInDoc  int       `json:"offset_start_in_doc"`
	Origin            string    `json:"origin"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

// Record is the tagged union accepted by WriteDocuments: either a raw field
// mapping or an already typed Document. Exactly one side is set.
type Record struct {
	Fields   map[string]any
	Document *Document
}

// RawRecord wraps a raw field mapping. Keys other than "id" and the
// configured text/embedding fields become meta entries.
func RawRecord(fields map[string]any) Record {
	return Record{Fields: fields}
}

// DocumentRecord wraps a typed document. Its meta mapping is used verbatim.
func DocumentRecord(d *Document) Record {
	return Record{Document: d}
}

// rawDocument is the decode target for raw mappings. The remain tag collects
// every unrecognized key into Meta.
type rawDocument struct {
	ID        string         `mapstructure:"id"`
	Text      string         `mapstructure:"text"`
	Embedding []float32      `mapstructure:"embedding"`
	Meta      map[string]any `mapstructure:",remain"`
}

// normalizeRecord is the single conversion point from the Record union into
// a Document. Missing ids are generated. textField and embeddingField name
// the raw keys holding the primary text and the vector.
func normalizeRecord(rec Record, textField, embeddingField string) (*Document, error) {
	if rec.Document != nil {
		doc := rec.Document.Clone()
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		return doc, nil
	}

	if rec.Fields == nil {
		return nil, errors.New("record has neither fields nor document")
	}

	// Rename the configured text/embedding keys to the canonical ones so a
	// single decode shape covers custom field names.
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		switch k {
		case textField:
			fields["text"] = v
		case embeddingField:
			fields["embedding"] = v
		default:
			fields[k] = v
		}
	}

	var raw rawDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true, // embeddings arrive as []float64 after JSON round trips
	})
	if err != nil {
		return nil, errors.WithMessage(err, "build record decoder")
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, errors.WithMessage(err, "decode record")
	}

	doc := &Document{
		ID:        raw.ID,
		Text:      raw.Text,
		Embedding: raw.Embedding,
	}
	if len(raw.Meta) > 0 {
		doc.Meta = raw.Meta
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	return doc, nil
}

// normalizeRecords converts a batch up front so a malformed record fails the
// whole write before anything is stored.
func normalizeRecords(records []Record, textField, embeddingField string) ([]*Document, error) {
	docs := make([]*Document, 0, len(records))
	for i, rec := range records {
		doc, err := normalizeRecord(rec, textField, embeddingField)
		if err != nil {
			return nil, errors.WithMessagef(err, "record %d", i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// prepareLabels stamps ids and creation times on a batch of labels without
// mutating the caller's values.
func prepareLabels(labels []*Label) []*Label {
	now := time.Now()
	out := make([]*Label, 0, len(labels))
	for _, l := range labels {
		c := *l
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		out = append(out, &c)
	}
	return out
}
