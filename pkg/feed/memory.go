package feed

import "sync"

// MemoryPublisher 内存实现（用于测试和简单场景）
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the event.
func (p *MemoryPublisher) Publish(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far (for tests).
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close 关闭
func (p *MemoryPublisher) Close() error {
	return nil
}
