package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	t.Run("records published events", func(t *testing.T) {
		p := NewMemoryPublisher()

		err := p.Publish(Event{Type: EventDocumentsWritten, Index: "document", IDs: []string{"1"}, At: time.Now()})
		require.NoError(t, err)
		err = p.Publish(Event{Type: EventMetaUpdated, Index: "document", IDs: []string{"1"}, At: time.Now()})
		require.NoError(t, err)

		events := p.Events()
		require.Len(t, events, 2)
		assert.Equal(t, EventDocumentsWritten, events[0].Type)
		assert.Equal(t, EventMetaUpdated, events[1].Type)
	})

	t.Run("events returns a copy", func(t *testing.T) {
		p := NewMemoryPublisher()
		require.NoError(t, p.Publish(Event{Type: EventLabelsWritten, Index: "label"}))

		events := p.Events()
		events[0].Index = "mutated"

		assert.Equal(t, "label", p.Events()[0].Index)
	})

	t.Run("safe for concurrent publishers", func(t *testing.T) {
		p := NewMemoryPublisher()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, p.Publish(Event{Type: EventDocumentsWritten, Index: "document"}))
			}()
		}
		wg.Wait()

		assert.Len(t, p.Events(), 20)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("disabled needs nothing", func(t *testing.T) {
		cfg := Config{}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled requires brokers and topic", func(t *testing.T) {
		cfg := Config{Enabled: true}
		assert.Error(t, cfg.Validate())

		cfg.Brokers = []string{"localhost:9092"}
		assert.Error(t, cfg.Validate())

		cfg.Topic = "haystack-changes"
		assert.NoError(t, cfg.Validate())
	})
}
