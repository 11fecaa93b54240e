// Package redisstore implements the workflow KV/progress fabric: TTL-bounded
// metadata storage and pub/sub progress channels, both backed by Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Store implements domain.KVStore over a go-redis client.
type Store struct {
	redis *redis.Client
}

// New constructs a Store from an existing redis client.
func New(rdb *redis.Client) *Store {
	return &Store{redis: rdb}
}

// Put writes value under key with the given TTL, used for transient
// workflow metadata (spec.md §6 — 1800s default).
func (s *Store) Put(ctx domain.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Error("kv put failed", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("op=kv.put: %w", domain.ErrTransient)
	}
	return nil
}

// Get reads the value stored under key, returning domain.ErrNotFound if it
// has expired or was never set.
func (s *Store) Get(ctx domain.Context, key string) ([]byte, error) {
	val, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("op=kv.get: %w", domain.ErrNotFound)
		}
		slog.Error("kv get failed", slog.String("key", key), slog.Any("error", err))
		return nil, fmt.Errorf("op=kv.get: %w", domain.ErrTransient)
	}
	return val, nil
}

// Publish broadcasts a progress event on a merchant- or workflow-scoped
// channel. Publish failures are non-fatal to the stage that produced the
// event: progress is an observability signal, not workflow state.
func (s *Store) Publish(ctx domain.Context, channel string, event domain.ProgressEvent) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("op=kv.publish.marshal: %w", err)
	}
	if err := s.redis.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Error("kv publish failed", slog.String("channel", channel), slog.Any("error", err))
		return fmt.Errorf("op=kv.publish: %w", domain.ErrTransient)
	}
	return nil
}

// Subscribe opens a progress channel subscription, returning a buffered
// channel of decoded events and an unsubscribe function. Malformed payloads
// are dropped rather than surfaced, matching the fire-and-forget nature of
// progress events.
func (s *Store) Subscribe(ctx domain.Context, channel string) (<-chan domain.ProgressEvent, func(), error) {
	pubsub := s.redis.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("op=kv.subscribe: %w", domain.ErrTransient)
	}

	out := make(chan domain.ProgressEvent, 32)
	msgCh := pubsub.Channel()
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var event domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("dropping malformed progress event", slog.String("channel", channel), slog.Any("error", err))
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, unsubscribe, nil
}
