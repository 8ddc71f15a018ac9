package docstore

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/namanphy/haystack/pkg/feed"
	"github.com/namanphy/haystack/pkg/log"
)

// Backend names a storage engine.
type Backend string

const (
	BackendMemory     Backend = "memory"
	BackendOpenSearch Backend = "opensearch"
	BackendMilvus     Backend = "milvus"
	BackendPostgres   Backend = "postgres"
)

// Config holds all configuration values for building a store.
type Config struct {
	Backend Backend `toml:"backend"`

	Log        log.Config       `toml:"log"`
	Memory     IndexOptions     `toml:"memory"`
	OpenSearch OpenSearchConfig `toml:"opensearch"`
	Milvus     MilvusConfig     `toml:"milvus"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Cache      CacheConfig      `toml:"cache"`
	Feed       feed.Config      `toml:"feed"`
}

// Validate checks the backend selection and every section the selection
// uses. The log section is optional: leave path empty to keep the default
// logger.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}

	switch c.Backend {
	case BackendMemory:
		// nothing to validate
	case BackendOpenSearch:
		if err := c.OpenSearch.Validate(); err != nil {
			return fmt.Errorf("opensearch: %w", err)
		}
	case BackendMilvus:
		if err := c.Milvus.Validate(); err != nil {
			return fmt.Errorf("milvus: %w", err)
		}
	case BackendPostgres:
		c.Postgres.Enabled = true
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}

	if c.Log.Path != "" {
		if err := c.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(filename string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Open builds the configured backend and applies the cache and change feed
// decorators when enabled.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Log.Path != "" {
		if err := log.Init(cfg.Log); err != nil {
			return nil, errors.WithMessage(err, "init log")
		}
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case BackendMemory:
		store = NewInMemoryStore(cfg.Memory)
	case BackendOpenSearch:
		store, err = NewOpenSearchStore(cfg.OpenSearch)
	case BackendMilvus:
		store, err = NewMilvusStore(ctx, cfg.Milvus)
	case BackendPostgres:
		store, err = NewSQLStore(ctx, cfg.Postgres)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s backend", cfg.Backend)
	}

	if cfg.Cache.Enabled {
		store, err = NewCachedStore(store, cfg.Cache)
		if err != nil {
			return nil, errors.WithMessage(err, "attach cache")
		}
	}

	if cfg.Feed.Enabled {
		publisher, err := feed.NewKafkaPublisher(cfg.Feed)
		if err != nil {
			return nil, errors.WithMessage(err, "attach change feed")
		}
		store = WithChangeFeed(store, publisher)
	}

	return store, nil
}
