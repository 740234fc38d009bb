// Package bus provides the in-process and NATS event buses.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrScopeRequired is returned when publishing or subscribing without a scope.
	ErrScopeRequired = errors.New("scope is required")
	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("bus is closed")
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	// subscriptions by topic
	subscriptions map[string][]*channelSubscription
	// round-robin cursor per topic/queue group
	cursors map[string]int
	closed  bool
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	scope   string
	topic   string
	queue   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
		cursors:       make(map[string]int),
	}
}

// Publish delivers a message to every plain subscriber of the topic and scope,
// and to one member of each queue group. Delivery never blocks: a full
// subscriber buffer drops the message for that subscriber.
func (b *ChannelBus) Publish(ctx context.Context, scope string, topic string, payload []byte) error {
	if scope == "" || scope == domain.AnyScope {
		return ErrScopeRequired
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	// Write lock: queue cursors advance, and Close must not run mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	groups := make(map[string][]*channelSubscription)
	for _, sub := range b.subscriptions[topic] {
		if sub.scope != scope && sub.scope != domain.AnyScope {
			continue
		}
		if sub.queue != "" {
			groups[sub.queue] = append(groups[sub.queue], sub)
			continue
		}
		b.deliver(sub, msg)
	}

	for queue, members := range groups {
		cursorKey := topic + "|" + queue
		idx := b.cursors[cursorKey] % len(members)
		b.cursors[cursorKey] = idx + 1
		b.deliver(members[idx], msg)
	}

	return nil
}

func (b *ChannelBus) deliver(sub *channelSubscription, msg *domain.Message) {
	select {
	case sub.msgCh <- msg:
	default:
		slog.Warn("bus subscriber buffer full, message dropped",
			"topic", msg.Topic,
			"scope", msg.Scope,
			"subscription_id", sub.id,
		)
	}
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, scope string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, scope, topic, "", handler)
}

// SubscribeQueue registers a handler in a queue group.
func (b *ChannelBus) SubscribeQueue(ctx context.Context, scope string, topic string, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue group is required")
	}
	return b.subscribe(ctx, scope, topic, queue, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, scope, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		scope:   scope,
		topic:   topic,
		queue:   queue,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	go b.handleMessages(sub)

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)

	return sub, nil
}

// handleMessages processes messages for a subscription.
func (b *ChannelBus) handleMessages(sub *channelSubscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case msg, ok := <-sub.msgCh:
			if !ok {
				return
			}
			if err := sub.handler(sub.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"scope", msg.Scope,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
			close(sub.msgCh)
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// remove detaches a subscription so no further messages are queued for it.
func (b *ChannelBus) remove(target *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subscriptions[target.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
