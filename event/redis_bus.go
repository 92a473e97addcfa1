package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcbrumagin/soundclone-sub000/logger"
)

// NewRedisBus initialises a bus backed by Redis Pub/Sub so multiple processes
// can share the pipeline topics. Delivery matches the bus contract: at most
// once to each subscriber alive at publish time.
func NewRedisBus(client *redis.Client, channelPrefix string, buffer int) Bus {
	if channelPrefix == "" {
		channelPrefix = "soundclone"
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &redisBus{
		client: client,
		prefix: channelPrefix,
		buffer: buffer,
	}
}

type redisBus struct {
	client *redis.Client
	prefix string
	buffer int

	mu     sync.Mutex
	subs   []*redisSubscription
	closed bool
}

func (b *redisBus) channel(topic string) string {
	return fmt.Sprintf("%s:%s", b.prefix, topic)
}

func (b *redisBus) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if err := b.client.Publish(ctx, b.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *redisBus) Subscribe(topic string) Subscription {
	pubsub := b.client.Subscribe(context.Background(), b.channel(topic))
	sub := &redisSubscription{
		topic:  topic,
		pubsub: pubsub,
		ch:     make(chan Envelope, b.buffer),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	go sub.pump()
	return sub
}

func (b *redisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
	return nil
}

type redisSubscription struct {
	once   sync.Once
	topic  string
	pubsub *redis.PubSub
	ch     chan Envelope
}

func (s *redisSubscription) pump() {
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- Envelope{Topic: s.topic, Payload: []byte(msg.Payload)}:
		default:
			logger.Warn("dropping bus message, subscriber not draining",
				logger.String("topic", s.topic))
		}
	}
	s.once.Do(func() { close(s.ch) })
}

func (s *redisSubscription) Events() <-chan Envelope {
	return s.ch
}

func (s *redisSubscription) Close() {
	// Closing the PubSub closes its channel, which ends pump and closes ch.
	_ = s.pubsub.Close()
}
