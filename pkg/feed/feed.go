// Package feed publishes document change events so surrounding systems
// (re-indexers, cache warmers) can react to store writes.
package feed

import (
	"fmt"
	"time"
)

// Event types.
const (
	EventDocumentsWritten = "documents_written"
	EventMetaUpdated      = "meta_updated"
	EventLabelsWritten    = "labels_written"
)

// Event describes one change to a document index.
type Event struct {
	Type  string    `json:"type"`
	Index string    `json:"index"`
	IDs   []string  `json:"ids,omitempty"`
	At    time.Time `json:"at"`
}

// Publisher delivers change events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(event Event) error
	Close() error
}

// Config holds change feed configuration.
type Config struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Validate checks feed configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required when feed is enabled")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required when feed is enabled")
	}
	return nil
}
