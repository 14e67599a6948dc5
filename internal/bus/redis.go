package bus

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus implements Bus on a Redis deployment: one client for commands and
// publishes, one PubSub connection for subscriptions, and a receive loop that
// fans inbound messages out to the registered handlers.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Connect dials the bus. When the initial ping fails the process is not
// aborted: the service falls back to a LocalBus and runs in single-node mode
// with no cross-node fanout.
func Connect(ctx context.Context, dsn string) Bus {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		log.Warn().Err(err).Str("busDsn", dsn).Msg("invalid bus DSN, running in single-node mode")
		return NewLocalBus()
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Msg("bus unreachable, running in single-node mode")
		return NewLocalBus()
	}

	b := newRedisBus(client)
	log.Info().Str("addr", opts.Addr).Msg("bus connected")
	return b
}

func newRedisBus(client *redis.Client) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	// A sentinel topic keeps the PubSub connection live before the first real
	// subscription arrives.
	b := &RedisBus{
		client:   client,
		pubsub:   client.Subscribe(ctx, "switchboard:control"),
		handlers: make(map[string]map[int]Handler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.receiveLoop()
	return b
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	first := b.handlers[topic] == nil
	if first {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.handlers[topic][id] = h
	b.mu.Unlock()

	if first {
		if err := b.pubsub.Subscribe(b.ctx, topic); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("bus subscribe failed, will retry on reconnect")
		}
	}

	return func() {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		last := len(b.handlers[topic]) == 0
		if last {
			delete(b.handlers, topic)
		}
		b.mu.Unlock()
		if last {
			_ = b.pubsub.Unsubscribe(b.ctx, topic)
		}
	}
}

// receiveLoop pumps subscription messages to handlers. On connection loss it
// backs off exponentially (capped at 2 s) and re-issues the full subscription
// set before resuming.
func (b *RedisBus) receiveLoop() {
	defer close(b.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	for {
		msg, err := b.pubsub.ReceiveMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Warn().Err(err).Dur("retryIn", wait).Msg("bus receive failed, reconnecting")
			select {
			case <-time.After(wait):
			case <-b.ctx.Done():
				return
			}
			b.resubscribe()
			continue
		}
		bo.Reset()
		b.dispatch(msg.Channel, []byte(msg.Payload))
	}
}

func (b *RedisBus) resubscribe() {
	b.mu.Lock()
	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	b.mu.Unlock()
	if len(topics) == 0 {
		return
	}
	if err := b.pubsub.Subscribe(b.ctx, topics...); err != nil {
		log.Warn().Err(err).Int("topics", len(topics)).Msg("bus resubscribe failed")
	}
}

func (b *RedisBus) dispatch(topic string, payload []byte) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(topic, payload)
	}
}

func (b *RedisBus) SetAdd(ctx context.Context, key, member string) error {
	return b.client.SAdd(ctx, key, member).Err()
}

func (b *RedisBus) SetRemove(ctx context.Context, key, member string) error {
	return b.client.SRem(ctx, key, member).Err()
}

func (b *RedisBus) SetMembers(ctx context.Context, key string) ([]string, error) {
	return b.client.SMembers(ctx, key).Result()
}

func (b *RedisBus) SetContains(ctx context.Context, key, member string) (bool, error) {
	return b.client.SIsMember(ctx, key, member).Result()
}

func (b *RedisBus) KVSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBus) KVGet(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *RedisBus) HashSet(ctx context.Context, key, field, value string, keyTTL time.Duration) error {
	pipe := b.client.Pipeline()
	pipe.HSet(ctx, key, field, value)
	if keyTTL > 0 {
		pipe.Expire(ctx, key, keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBus) HashDelete(ctx context.Context, key, field string) error {
	return b.client.HDel(ctx, key, field).Err()
}

func (b *RedisBus) HashAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

func (b *RedisBus) Degraded() bool { return false }

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	b.cancel()
	_ = b.pubsub.Close()
	<-b.done
	return b.client.Close()
}
