package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Envelope is one published message: a topic plus its JSON-encoded payload.
type Envelope struct {
	Topic   string
	Payload []byte
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Bus fans published messages out to all current subscribers of a topic,
// at most once per subscriber. The implementation is deliberately minimal:
// the transport itself is not part of the pipeline's contract.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription is an active stream of messages for one topic.
type Subscription interface {
	Events() <-chan Envelope
	Close()
}

// NewMemoryBus initialises an in-process fan-out bus suitable for
// single-process deployments and tests.
func NewMemoryBus(buffer int) Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &memoryBus{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
	closed bool
}

func (b *memoryBus) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	env := Envelope{Topic: topic, Payload: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("bus is closed")
	}
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop instead of blocking. Subscribers are expected to
			// drain promptly; delivery is at-most-once anyway.
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(topic string) Subscription {
	sub := &memorySubscription{
		bus:   b,
		topic: topic,
		ch:    make(chan Envelope, b.buffer),
	}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	once  sync.Once
	bus   *memoryBus
	topic string
	ch    chan Envelope
}

func (s *memorySubscription) Events() <-chan Envelope {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s)
	s.closeLocked()
}

func (s *memorySubscription) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
