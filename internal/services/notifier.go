package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/duelpoint/backend/internal/models"
)

// Dispatcher fans a duel snapshot out to external observers after every
// successful transition. Delivery is fire-and-forget, at-least-once;
// consumers compare status/version and ignore duplicates or stale snapshots.
type Dispatcher interface {
	Publish(snap models.DuelSnapshot)
}

// FanoutDispatcher delivers snapshots to in-process subscribers over
// channels. A subscriber that stops draining its channel is dropped rather
// than allowed to block the engine.
type FanoutDispatcher struct {
	mu        sync.Mutex
	observers map[string]chan models.DuelSnapshot
}

func NewFanoutDispatcher() *FanoutDispatcher {
	return &FanoutDispatcher{observers: make(map[string]chan models.DuelSnapshot)}
}

// Subscribe registers an observer and returns its snapshot channel. The
// channel is closed when the observer is dropped or unsubscribed.
func (f *FanoutDispatcher) Subscribe(id string, buffer int) <-chan models.DuelSnapshot {
	ch := make(chan models.DuelSnapshot, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.observers[id]; ok {
		close(old)
	}
	f.observers[id] = ch
	return ch
}

func (f *FanoutDispatcher) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.observers[id]; ok {
		close(ch)
		delete(f.observers, id)
	}
}

func (f *FanoutDispatcher) Publish(snap models.DuelSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.observers {
		select {
		case ch <- snap:
		default:
			// Observer is slow or gone - drop it.
			close(ch)
			delete(f.observers, id)
		}
	}
}

// RedisDispatcher publishes snapshots as JSON on a redis pub/sub channel so
// out-of-process transports (chat bot, web pollers) can react.
type RedisDispatcher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisDispatcher(rdb *redis.Client, channel string) *RedisDispatcher {
	if channel == "" {
		channel = "duel.events"
	}
	return &RedisDispatcher{rdb: rdb, channel: channel}
}

func (d *RedisDispatcher) Publish(snap models.DuelSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal snapshot for duel %s: %v", snap.ID, err)
		return
	}
	if err := d.rdb.Publish(context.Background(), d.channel, payload).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to publish duel %s update: %v", snap.ID, err)
	}
}

// MultiDispatcher publishes to every configured dispatcher.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Publish(snap models.DuelSnapshot) {
	for _, d := range m {
		d.Publish(snap)
	}
}
