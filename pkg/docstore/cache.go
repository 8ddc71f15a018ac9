package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/namanphy/haystack/pkg/log"
)

// CacheConfig holds Redis cache configuration.
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTL      string `toml:"ttl"`
}

// Validate checks cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required when cache is enabled")
	}
	if c.TTL != "" {
		if _, err := time.ParseDuration(c.TTL); err != nil {
			return fmt.Errorf("ttl is invalid: %v", err)
		}
	}
	return nil
}

// CachedStore is a read-through cache over any Store: GetDocumentByID hits
// Redis first and fills it on miss; writes and meta updates invalidate the
// touched ids. Cache failures degrade to the inner store, never to an error.
//
// Keys use the index argument verbatim, so callers mixing the empty-string
// default alias with the explicit default index name get separate entries.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore connects to Redis and wraps inner.
func NewCachedStore(inner Store, cfg CacheConfig) (*CachedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, unavailable(err, "connect to redis")
	}

	ttl := time.Minute
	if cfg.TTL != "" {
		ttl, _ = time.ParseDuration(cfg.TTL)
	}

	return &CachedStore{
		Store:  inner,
		client: client,
		ttl:    ttl,
		logger: log.Logger("cached-store"),
	}, nil
}

func cacheKey(index, id string) string {
	return fmt.Sprintf("haystack:doc:%s:%s", index, id)
}

func (s *CachedStore) GetDocumentByID(ctx context.Context, id, index string) (*Document, error) {
	key := cacheKey(index, id)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var doc Document
		if err := json.Unmarshal(raw, &doc); err == nil {
			return &doc, nil
		}
		// Unparsable entry, drop it and fall through.
		s.client.Del(ctx, key)
	} else if err != redis.Nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
	}

	doc, err := s.Store.GetDocumentByID(ctx, id, index)
	if err != nil || doc == nil {
		return doc, err
	}

	if raw, err := json.Marshal(doc); err == nil {
		if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
			s.logger.Warn("cache fill failed", "key", key, "error", err)
		}
	}
	return doc, nil
}

// WriteDocuments writes through and invalidates entries for every record
// carrying an explicit id. Records without an id get one generated inside
// the inner store and cannot be cached yet, so there is nothing to drop.
func (s *CachedStore) WriteDocuments(ctx context.Context, records []Record, index string) error {
	if err := s.Store.WriteDocuments(ctx, records, index); err != nil {
		return err
	}
	for _, rec := range records {
		if id := recordID(rec); id != "" {
			s.invalidate(ctx, index, id)
		}
	}
	return nil
}

func (s *CachedStore) UpdateDocumentMeta(ctx context.Context, id string, meta map[string]any, index string) error {
	if err := s.Store.UpdateDocumentMeta(ctx, id, meta, index); err != nil {
		return err
	}
	s.invalidate(ctx, index, id)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, index, id string) {
	key := cacheKey(index, id)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("cache invalidation failed", "key", key, "error", err)
	}
}

func (s *CachedStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close redis client", "error", err)
	}
	return s.Store.Close()
}

// recordID extracts the caller-supplied id from either side of the union.
func recordID(rec Record) string {
	if rec.Document != nil {
		return rec.Document.ID
	}
	if rec.Fields != nil {
		if id, ok := rec.Fields["id"].(string); ok {
			return id
		}
	}
	return ""
}
