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

	"smlistener/internal/event"
	"smlistener/internal/logging"
)

// LogSink logs events instead of delivering them.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.NewLogger("sink")}
}

// Submit implements Sink.
func (s *LogSink) Submit(_ context.Context, ev *event.ResourceEvent) error {
	kv := []interface{}{
		"event_id", ev.ID,
		"application", ev.Application.Application,
		"siid", ev.SIID,
		"operation", ev.Operation,
		"native_identity", ev.NativeIdentity(),
	}
	switch {
	case ev.Account != nil:
		kv = append(kv, "request", string(ev.Account.Operation), "attributes", len(ev.Account.Attributes))
	case ev.Object != nil:
		kv = append(kv, "object_type", ev.Object.Type, "request", string(ev.Object.Operation), "attributes", len(ev.Object.Attributes))
	}
	s.logger.Info("Resource event", kv...)
	return nil
}

// NotifyPasswordChange implements Sink. The password is never logged.
func (s *LogSink) NotifyPasswordChange(_ context.Context, change event.PasswordChange) error {
	r := change.Redacted()
	s.logger.Info("Password change",
		"event_id", r.ID,
		"application", r.Application.Application,
		"siid", r.SIID,
		"user_id", r.UserID,
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
