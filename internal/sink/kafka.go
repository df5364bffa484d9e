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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/segmentio/kafka-go"

	"smlistener/internal/config"
	"smlistener/internal/event"
	"smlistener/internal/logging"
	"smlistener/internal/registry"
)

// EventSchema is the Avro schema of messages on the event topic.
const EventSchema = `{
  "type": "record",
  "name": "ResourceEvent",
  "namespace": "smlistener",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "application", "type": {
      "type": "record",
      "name": "Reference",
      "fields": [
        {"name": "application", "type": "string"},
        {"name": "cluster", "type": "string"},
        {"name": "mscs_type", "type": "string"},
        {"name": "mscs_name", "type": "string"}
      ]
    }},
    {"name": "siid", "type": "string"},
    {"name": "code", "type": "string"},
    {"name": "operation", "type": "string"},
    {"name": "received_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "object_type", "type": "string"},
    {"name": "request_operation", "type": "string"},
    {"name": "native_identity", "type": "string"},
    {"name": "attributes", "type": {"type": "array", "items": {
      "type": "record",
      "name": "Attribute",
      "fields": [
        {"name": "name", "type": "string"},
        {"name": "op", "type": "string"},
        {"name": "kind", "type": "string"},
        {"name": "values", "type": {"type": "array", "items": "string"}}
      ]
    }}}
  ]
}`

// PasswordSchema is the Avro schema of messages on the password topic.
const PasswordSchema = `{
  "type": "record",
  "name": "PasswordChange",
  "namespace": "smlistener",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "application", "type": {
      "type": "record",
      "name": "PasswordApplication",
      "fields": [
        {"name": "application", "type": "string"},
        {"name": "cluster", "type": "string"},
        {"name": "mscs_type", "type": "string"},
        {"name": "mscs_name", "type": "string"}
      ]
    }},
    {"name": "siid", "type": "string"},
    {"name": "user_id", "type": "string"},
    {"name": "password", "type": "string"},
    {"name": "received_at", "type": {"type": "long", "logicalType": "timestamp-millis"}}
  ]
}`

// Attribute value kinds in Avro records.
const (
	KindString = "string"
	KindMulti  = "multi"
	KindBool   = "bool"
)

// Object types in Avro records.
const (
	ObjectAccount = "account"
)

var (
	eventSchema    = avro.MustParse(EventSchema)
	passwordSchema = avro.MustParse(PasswordSchema)
)

// AvroEvent is the Avro shape of a ResourceEvent. Attribute values are
// flattened to string lists tagged with their kind.
type AvroEvent struct {
	ID               string             `avro:"id"`
	Application      registry.Reference `avro:"application"`
	SIID             string             `avro:"siid"`
	Code             string             `avro:"code"`
	Operation        string             `avro:"operation"`
	ReceivedAt       time.Time          `avro:"received_at"`
	ObjectType       string             `avro:"object_type"`
	RequestOperation string             `avro:"request_operation"`
	NativeIdentity   string             `avro:"native_identity"`
	Attributes       []AvroAttribute    `avro:"attributes"`
}

// AvroAttribute is one attribute request.
type AvroAttribute struct {
	Name   string   `avro:"name"`
	Op     string   `avro:"op"`
	Kind   string   `avro:"kind"`
	Values []string `avro:"values"`
}

// AvroPasswordChange is the Avro shape of a PasswordChange.
type AvroPasswordChange struct {
	ID          string             `avro:"id"`
	Application registry.Reference `avro:"application"`
	SIID        string             `avro:"siid"`
	UserID      string             `avro:"user_id"`
	Password    string             `avro:"password"`
	ReceivedAt  time.Time          `avro:"received_at"`
}

// ToAvro converts ev to its Avro shape.
func ToAvro(ev *event.ResourceEvent) AvroEvent {
	out := AvroEvent{
		ID:          ev.ID,
		Application: ev.Application,
		SIID:        ev.SIID,
		Code:        ev.Code,
		Operation:   ev.Operation,
		ReceivedAt:  ev.ReceivedAt,
	}
	var attrs []event.AttributeRequest
	switch {
	case ev.Account != nil:
		out.ObjectType = ObjectAccount
		out.RequestOperation = string(ev.Account.Operation)
		out.NativeIdentity = ev.Account.NativeIdentity
		attrs = ev.Account.Attributes
	case ev.Object != nil:
		out.ObjectType = ev.Object.Type
		out.RequestOperation = string(ev.Object.Operation)
		out.NativeIdentity = ev.Object.NativeIdentity
		attrs = ev.Object.Attributes
	}

	out.Attributes = make([]AvroAttribute, 0, len(attrs))
	for _, a := range attrs {
		kind, values := flatten(a.Value)
		out.Attributes = append(out.Attributes, AvroAttribute{
			Name:   a.Name,
			Op:     string(a.Op),
			Kind:   kind,
			Values: values,
		})
	}
	return out
}

// flatten renders an attribute value as a kind and string list. Values
// decoded from JSON arrive as []any.
func flatten(v any) (string, []string) {
	switch val := v.(type) {
	case nil:
		return KindString, []string{}
	case string:
		return KindString, []string{val}
	case bool:
		return KindBool, []string{strconv.FormatBool(val)}
	case []string:
		return KindMulti, append([]string{}, val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return KindMulti, out
	default:
		return KindString, []string{fmt.Sprint(val)}
	}
}

// MessageWriter is the part of kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes Avro-encoded messages keyed by native identity, so the
// changes of one identity stay on one partition.
type KafkaSink struct {
	writer        MessageWriter
	eventTopic    string
	passwordTopic string
	logger        *logging.Logger
}

// NewKafkaSink creates a sink writing to cfg.Brokers.
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("sink: no kafka brokers configured")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(writer, cfg.EventTopic, cfg.PasswordTopic), nil
}

// NewKafkaSinkWithWriter uses an existing writer. Messages carry their topic,
// so the writer must not set one.
func NewKafkaSinkWithWriter(w MessageWriter, eventTopic, passwordTopic string) *KafkaSink {
	return &KafkaSink{
		writer:        w,
		eventTopic:    eventTopic,
		passwordTopic: passwordTopic,
		logger:        logging.NewLogger("sink").With("sink", "kafka"),
	}
}

// Submit implements Sink.
func (s *KafkaSink) Submit(ctx context.Context, ev *event.ResourceEvent) error {
	payload, err := avro.Marshal(eventSchema, ToAvro(ev))
	if err != nil {
		return fmt.Errorf("sink: failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Topic: s.eventTopic,
		Key:   []byte(ev.NativeIdentity()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "application", Value: []byte(ev.Application.Application)},
			{Key: "operation", Value: []byte(ev.Operation)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("sink: kafka write to %s: %w", s.eventTopic, err)
	}
	s.logger.Debug("Published event", "event_id", ev.ID, "topic", s.eventTopic)
	return nil
}

// NotifyPasswordChange implements Sink.
func (s *KafkaSink) NotifyPasswordChange(ctx context.Context, change event.PasswordChange) error {
	if s.passwordTopic == "" {
		return ErrNoPasswordDestination
	}
	payload, err := avro.Marshal(passwordSchema, AvroPasswordChange{
		ID:          change.ID,
		Application: change.Application,
		SIID:        change.SIID,
		UserID:      change.UserID,
		Password:    change.Password,
		ReceivedAt:  change.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("sink: failed to encode password change: %w", err)
	}
	msg := kafka.Message{
		Topic: s.passwordTopic,
		Key:   []byte(change.UserID),
		Value: payload,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("sink: kafka write to %s: %w", s.passwordTopic, err)
	}
	s.logger.Debug("Published password change", "event_id", change.ID, "topic", s.passwordTopic)
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error { return s.writer.Close() }
