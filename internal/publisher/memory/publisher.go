// Package memory records outreach events in process for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// SetError makes subsequent publishes fail with err (nil clears it).
func (p *Publisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// SentEvents returns the outreach.SentEvent payloads published to topic.
func (p *Publisher) SentEvents(topic string) []outreach.SentEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var events []outreach.SentEvent
	for _, m := range p.messages {
		if m.Topic != topic {
			continue
		}
		if ev, ok := m.Payload.(outreach.SentEvent); ok {
			events = append(events, ev)
		}
	}
	return events
}
