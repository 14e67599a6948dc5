// Package bus is the shared cross-node fabric: pub/sub topics for fanout and
// TTL key-value/set/hash state for presence and typing. Two implementations
// exist with identical semantics: RedisBus for clustered deployments and
// LocalBus, the in-process fallback used when Redis is unreachable at startup
// (single-node mode) and in tests.
package bus

import (
	"context"
	"time"
)

// Handler receives a message published on a subscribed topic. Handlers for the
// same topic are invoked in publisher order; a handler must not block.
type Handler func(topic string, payload []byte)

// Bus is the capability surface the session hub and the presence tracker
// depend on.
type Bus interface {
	// Publish sends an opaque payload to every subscriber of the topic.
	// Best-effort: durable state never lives on the bus.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic and returns a function that
	// removes it again.
	Subscribe(topic string, h Handler) (unsubscribe func())

	// String sets, used for online-user membership.
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetContains(ctx context.Context, key, member string) (bool, error)

	// Keys with TTL, used for last-seen timestamps.
	KVSet(ctx context.Context, key, value string, ttl time.Duration) error
	KVGet(ctx context.Context, key string) (string, bool, error)

	// Hashes with a coarse key-level TTL, used for typing state. Field-level
	// expiry is the caller's concern via timestamp values.
	HashSet(ctx context.Context, key, field, value string, keyTTL time.Duration) error
	HashDelete(ctx context.Context, key, field string) error
	HashAll(ctx context.Context, key string) (map[string]string, error)

	// Degraded reports single-node mode (no cross-node visibility).
	Degraded() bool

	Ping(ctx context.Context) error
	Close() error
}
