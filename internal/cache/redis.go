// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache keeps tagged result caches in Redis and tells listeners
// when a tag has gone stale.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultChannel is the pub/sub channel invalidation notices go to.
	DefaultChannel = "triage:invalidations"

	// DefaultTTL bounds how long a cached entry lives without invalidation.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces cache entries and tag sets in Redis.
	keyPrefix = "triage:cache:"
	tagPrefix = "triage:tag:"
)

// Notice is published whenever a tag is invalidated.
type Notice struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	Keys      int       `json:"keys"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisInvalidator stores cache entries under tags and drops every entry
// of a tag on NotifyStale.
type RedisInvalidator struct {
	rdb     redis.UniversalClient
	channel string
	ttl     time.Duration
}

// NewRedisInvalidator creates an invalidator publishing on channel. An
// empty channel selects DefaultChannel.
func NewRedisInvalidator(rdb redis.UniversalClient, channel string) *RedisInvalidator {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisInvalidator{
		rdb:     rdb,
		channel: channel,
		ttl:     DefaultTTL,
	}
}

// Put stores value under key and records key as belonging to tag.
func (r *RedisInvalidator) Put(ctx context.Context, tag, key string, value []byte) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, keyPrefix+key, value, r.ttl)
	pipe.SAdd(ctx, tagPrefix+tag, key)
	pipe.Expire(ctx, tagPrefix+tag, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key. ok is false on a miss.
func (r *RedisInvalidator) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	value, err = r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

// NotifyStale deletes every entry tagged with tag and publishes a Notice.
func (r *RedisInvalidator) NotifyStale(ctx context.Context, tag string) error {
	keys, err := r.rdb.SMembers(ctx, tagPrefix+tag).Result()
	if err != nil {
		return fmt.Errorf("cache SMEMBERS %s: %w", tag, err)
	}

	pipe := r.rdb.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, keyPrefix+key)
	}
	pipe.Del(ctx, tagPrefix+tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", tag, err)
	}

	payload, err := json.Marshal(Notice{
		ID:        uuid.NewString(),
		Tag:       tag,
		Keys:      len(keys),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	slog.Debug("invalidated cache tag",
		"tag", tag,
		"keys", len(keys),
		"channel", r.channel,
	)
	return nil
}

// Subscribe streams invalidation notices until ctx is done. The returned
// channel is closed when the subscription ends.
func (r *RedisInvalidator) Subscribe(ctx context.Context) (<-chan Notice, error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so no notice is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	out := make(chan Notice, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("invalidation subscriber stopped", "error", err)
				}
				return
			}

			var n Notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				slog.Warn("invalid invalidation notice", "error", err)
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ping checks the Redis connection.
func (r *RedisInvalidator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}
