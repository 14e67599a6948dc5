package bus

import (
	"context"
	"sync"
	"time"
)

// LocalBus implements Bus with in-process maps. Semantics match RedisBus
// exactly, minus cross-node visibility: publishes reach only subscribers in
// this process. It backs single-node degraded mode and tests.
type LocalBus struct {
	mu sync.Mutex

	nextID   int
	handlers map[string]map[int]Handler

	sets   map[string]map[string]struct{}
	kv     map[string]localValue
	hashes map[string]*localHash
}

type localValue struct {
	value    string
	expireAt time.Time // zero means no expiry
}

type localHash struct {
	fields   map[string]string
	expireAt time.Time
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		handlers: make(map[string]map[int]Handler),
		sets:     make(map[string]map[string]struct{}),
		kv:       make(map[string]localValue),
		hashes:   make(map[string]*localHash),
	}
}

// Publish dispatches synchronously on the caller's goroutine, which preserves
// publisher order per topic. Handlers run outside the lock so they may touch
// the bus themselves.
func (b *LocalBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(topic, payload)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.handlers[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
		if len(b.handlers[topic]) == 0 {
			delete(b.handlers, topic)
		}
	}
}

func (b *LocalBus) SetAdd(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sets[key] == nil {
		b.sets[key] = make(map[string]struct{})
	}
	b.sets[key][member] = struct{}{}
	return nil
}

func (b *LocalBus) SetRemove(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sets[key], member)
	if len(b.sets[key]) == 0 {
		delete(b.sets, key)
	}
	return nil
}

func (b *LocalBus) SetMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sets[key]))
	for m := range b.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (b *LocalBus) SetContains(_ context.Context, key, member string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sets[key][member]
	return ok, nil
}

func (b *LocalBus) KVSet(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := localValue{value: value}
	if ttl > 0 {
		v.expireAt = time.Now().Add(ttl)
	}
	b.kv[key] = v
	return nil
}

func (b *LocalBus) KVGet(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.kv[key]
	if !ok {
		return "", false, nil
	}
	if !v.expireAt.IsZero() && time.Now().After(v.expireAt) {
		delete(b.kv, key)
		return "", false, nil
	}
	return v.value, true, nil
}

func (b *LocalBus) HashSet(_ context.Context, key, field, value string, keyTTL time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.liveHash(key)
	if h == nil {
		h = &localHash{fields: make(map[string]string)}
		b.hashes[key] = h
	}
	h.fields[field] = value
	if keyTTL > 0 {
		h.expireAt = time.Now().Add(keyTTL)
	}
	return nil
}

func (b *LocalBus) HashDelete(_ context.Context, key, field string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h := b.liveHash(key); h != nil {
		delete(h.fields, field)
		if len(h.fields) == 0 {
			delete(b.hashes, key)
		}
	}
	return nil
}

func (b *LocalBus) HashAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string)
	if h := b.liveHash(key); h != nil {
		for f, v := range h.fields {
			out[f] = v
		}
	}
	return out, nil
}

// liveHash returns the hash for key, expiring it lazily. Caller holds the lock.
func (b *LocalBus) liveHash(key string) *localHash {
	h, ok := b.hashes[key]
	if !ok {
		return nil
	}
	if !h.expireAt.IsZero() && time.Now().After(h.expireAt) {
		delete(b.hashes, key)
		return nil
	}
	return h
}

func (b *LocalBus) Degraded() bool { return true }

func (b *LocalBus) Ping(context.Context) error { return nil }

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string]map[int]Handler)
	return nil
}
