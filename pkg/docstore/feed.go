package docstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/namanphy/haystack/pkg/feed"
	"github.com/namanphy/haystack/pkg/log"
)

// FeedStore publishes a change event after every successful write or meta
// update on the inner store. The feed is advisory: publish failures are
// logged and never fail the write itself.
type FeedStore struct {
	Store
	publisher feed.Publisher
	logger    *slog.Logger
}

// WithChangeFeed wraps inner so its mutations are announced on the feed.
func WithChangeFeed(inner Store, publisher feed.Publisher) *FeedStore {
	return &FeedStore{
		Store:     inner,
		publisher: publisher,
		logger:    log.Logger("feed-store"),
	}
}

func (s *FeedStore) publish(eventType, index string, ids []string) {
	err := s.publisher.Publish(feed.Event{
		Type:  eventType,
		Index: index,
		IDs:   ids,
		At:    time.Now(),
	})
	if err != nil {
		s.logger.Warn("publish change event failed", "type", eventType, "index", index, "error", err)
	}
}

func (s *FeedStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	if err := s.Store.WriteDocuments(ctx, records, index); err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id := recordID(rec); id != "" {
			ids = append(ids, id)
		}
	}
	s.publish(feed.EventDocumentsWritten, index, ids)
	return nil
}

func (s *FeedStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	if err := s.Store.UpdateDocumentMeta(ctx, id, meta, index); err != nil {
		return err
	}
	s.publish(feed.EventMetaUpdated, index, []string{id})
	return nil
}

func (s *FeedStore) WriteLabels(ctx context.Context, labels []*Label, index string) error {
	if err := s.Store.WriteLabels(ctx, labels, index); err != nil {
		return err
	}
	s.publish(feed.EventLabelsWritten, index, nil)
	return nil
}

func (s *FeedStore) Close() error {
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("close publisher", "error", err)
	}
	return s.Store.Close()
}
