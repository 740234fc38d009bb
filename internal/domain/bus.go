package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// Messages are scoped by jurisdiction so workers can be partitioned per state.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, scope string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. Every subscriber receives every
	// message. AnyScope subscribes to all scopes.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, scope string, topic string, handler MessageHandler) (Subscription, error)

	// SubscribeQueue registers a handler in a queue group: each message goes to
	// exactly one member of the group.
	SubscribeQueue(ctx context.Context, scope string, topic string, queue string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Standard topic names.
const (
	TopicRecalculationRequested = "kestrel.recalculation.requested"
	TopicRecalculationCompleted = "kestrel.recalculation.completed"

	// TopicCacheInvalidated tells peer nodes to drop L1 copies of mutated data.
	TopicCacheInvalidated = "kestrel.cache.invalidated"
)

const (
	// GlobalScope is used for messages that are not about one jurisdiction.
	GlobalScope = "_global"

	// AnyScope subscribes to a topic in every scope.
	AnyScope = "*"
)
