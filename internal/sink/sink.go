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

/*
Package sink delivers resource events and password notifications.

SINK TYPES:
===========
- log:   writes a summary of every event to the log; passwords are redacted
- redis: msgpack payloads pushed onto Redis lists, one for events and one for
         password changes
- kafka: Avro payloads written to Kafka topics keyed by native identity

Multi fans one submission out to several sinks, for example the configured
sink plus the WebSocket tap.
*/
package sink

import (
	"context"
	"errors"
	"fmt"

	"smlistener/internal/config"
	"smlistener/internal/event"
)

// ErrNoPasswordDestination is returned when a sink has no queue or topic
// for password changes.
var ErrNoPasswordDestination = errors.New("sink: no password destination configured")

// Sink accepts resource events and password notifications.
type Sink interface {
	Submit(ctx context.Context, ev *event.ResourceEvent) error
	NotifyPasswordChange(ctx context.Context, change event.PasswordChange) error
	Close() error
}

// New creates the sink selected by cfg.Type.
func New(cfg config.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case config.SinkLog, "":
		return NewLogSink(), nil
	case config.SinkRedis:
		return NewRedisSink(cfg.Redis)
	case config.SinkKafka:
		return NewKafkaSink(cfg.Kafka)
	default:
		return nil, fmt.Errorf("sink: unknown type %q", cfg.Type)
	}
}

// Multi delivers to every sink in order and joins their errors.
type Multi []Sink

// Submit implements Sink.
func (m Multi) Submit(ctx context.Context, ev *event.ResourceEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyPasswordChange implements Sink.
func (m Multi) NotifyPasswordChange(ctx context.Context, change event.PasswordChange) error {
	var errs []error
	for _, s := range m {
		if err := s.NotifyPasswordChange(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
