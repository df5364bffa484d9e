/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sink

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"smlistener/internal/config"
	"smlistener/internal/event"
	"smlistener/internal/logging"
)

// RedisSink pushes msgpack-encoded payloads onto Redis lists. Consumers pop
// from the head, so events are read in interception order.
type RedisSink struct {
	client        *redis.Client
	eventQueue    string
	passwordQueue string
	logger        *logging.Logger
}

// NewRedisSink connects to the Redis server named by cfg.URL.
func NewRedisSink(cfg config.RedisSinkConfig) (*RedisSink, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to parse redis URL: %w", err)
	}
	return NewRedisSinkWithClient(redis.NewClient(opt), cfg.EventQueue, cfg.PasswordQueue), nil
}

// NewRedisSinkWithClient uses an existing client.
func NewRedisSinkWithClient(client *redis.Client, eventQueue, passwordQueue string) *RedisSink {
	return &RedisSink{
		client:        client,
		eventQueue:    eventQueue,
		passwordQueue: passwordQueue,
		logger:        logging.NewLogger("sink").With("sink", "redis"),
	}
}

// Submit implements Sink.
func (s *RedisSink) Submit(ctx context.Context, ev *event.ResourceEvent) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: failed to encode event: %w", err)
	}
	if err := s.client.RPush(ctx, s.eventQueue, payload).Err(); err != nil {
		return fmt.Errorf("sink: redis push to %s: %w", s.eventQueue, err)
	}
	s.logger.Debug("Published event", "event_id", ev.ID, "queue", s.eventQueue)
	return nil
}

// NotifyPasswordChange implements Sink.
func (s *RedisSink) NotifyPasswordChange(ctx context.Context, change event.PasswordChange) error {
	if s.passwordQueue == "" {
		return ErrNoPasswordDestination
	}
	payload, err := msgpack.Marshal(&change)
	if err != nil {
		return fmt.Errorf("sink: failed to encode password change: %w", err)
	}
	if err := s.client.RPush(ctx, s.passwordQueue, payload).Err(); err != nil {
		return fmt.Errorf("sink: redis push to %s: %w", s.passwordQueue, err)
	}
	s.logger.Debug("Published password change", "event_id", change.ID, "queue", s.passwordQueue)
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error { return s.client.Close() }
