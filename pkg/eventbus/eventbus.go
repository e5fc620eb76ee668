// Package eventbus provides named, in-process publish/subscribe channels
// used to fan out incremental text chunks (such as live reasoning) to any
// number of listeners.
package eventbus

import (
	"log/slog"
	"sync"
)

// Thinking is the process-wide channel for reasoning chunks. Callers that
// run concurrent exchanges should use ThinkingChannel instead.
const Thinking = "thinking"

// ThinkingChannel returns the reasoning channel scoped to one exchange.
func ThinkingChannel(exchangeID string) string {
	if exchangeID == "" {
		return Thinking
	}
	return Thinking + ":" + exchangeID
}

// Listener receives chunks published on a channel.
type Listener func(chunk string)

type subscription struct {
	id uint64
	fn Listener
}

// Bus is a registry of listeners keyed by channel name. Delivery is
// synchronous and in registration order. Chunks published to a channel with
// no listeners are dropped; there is no buffering or replay.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	channels map[string][]subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{channels: make(map[string][]subscription)}
}

// Subscribe registers l on channel. The returned function removes it again
// and is safe to call more than once.
func (b *Bus) Subscribe(channel string, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.channels[channel] = append(b.channels[channel], subscription{id: id, fn: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(channel, id) })
	}
}

func (b *Bus) remove(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.channels, channel)
		return
	}
	b.channels[channel] = kept
}

// Publish delivers chunk to every listener currently registered on channel.
// Listeners registered or removed while a publish is in progress take effect
// from the next publish.
func (b *Bus) Publish(channel, chunk string) {
	b.mu.RLock()
	subs := b.channels[channel]
	b.mu.RUnlock()

	// subs is never mutated in place (remove builds a new slice, Subscribe
	// appends past len), so it is a stable snapshot.
	for _, s := range subs {
		deliver(channel, s.fn, chunk)
	}
}

// Listeners returns the number of listeners registered on channel.
func (b *Bus) Listeners(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func deliver(channel string, fn Listener, chunk string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event bus listener panicked", "channel", channel, "panic", r)
		}
	}()
	fn(chunk)
}
