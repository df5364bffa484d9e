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

// Package event defines the resource events handed to sinks and builds them
// from completed interception records.
package event

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"smlistener/internal/record"
	"smlistener/internal/registry"
)

// RequestOperation is the change applied to an account or object.
type RequestOperation string

const (
	Create RequestOperation = "Create"
	Modify RequestOperation = "Modify"
	Delete RequestOperation = "Delete"
)

// AttributeOperation is the change applied to one attribute.
type AttributeOperation string

const (
	Set    AttributeOperation = "Set"
	Add    AttributeOperation = "Add"
	Remove AttributeOperation = "Remove"
)

// GroupObjectType is the object type of group requests.
const GroupObjectType = "group"

// ErrUnsupportedOperation is returned for operations that produce no event.
var ErrUnsupportedOperation = errors.New("event: operation produces no resource event")

// AttributeRequest changes one attribute. Value is a string, []string or bool.
type AttributeRequest struct {
	Name  string             `json:"name" msgpack:"name"`
	Op    AttributeOperation `json:"op" msgpack:"op"`
	Value any                `json:"value" msgpack:"value"`
}

// AccountRequest changes one account.
type AccountRequest struct {
	Application    string             `json:"application" msgpack:"application"`
	Operation      RequestOperation   `json:"operation" msgpack:"operation"`
	NativeIdentity string             `json:"native_identity" msgpack:"native_identity"`
	Attributes     []AttributeRequest `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// ObjectRequest changes one non-account object (a group).
type ObjectRequest struct {
	Application    string             `json:"application" msgpack:"application"`
	Type           string             `json:"type" msgpack:"type"`
	Operation      RequestOperation   `json:"operation" msgpack:"operation"`
	NativeIdentity string             `json:"native_identity" msgpack:"native_identity"`
	Attributes     []AttributeRequest `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
}

// ResourceEvent is one completed interception ready for provisioning.
// Exactly one of Account and Object is set.
type ResourceEvent struct {
	ID          string             `json:"id" msgpack:"id"`
	Application registry.Reference `json:"application" msgpack:"application"`
	SIID        string             `json:"siid" msgpack:"siid"`
	Code        string             `json:"code" msgpack:"code"`
	Operation   string             `json:"operation" msgpack:"operation"`
	ReceivedAt  time.Time          `json:"received_at" msgpack:"received_at"`
	Account     *AccountRequest    `json:"account,omitempty" msgpack:"account,omitempty"`
	Object      *ObjectRequest     `json:"object,omitempty" msgpack:"object,omitempty"`
}

// NativeIdentity returns the identity of whichever request the event carries.
func (e *ResourceEvent) NativeIdentity() string {
	switch {
	case e.Account != nil:
		return e.Account.NativeIdentity
	case e.Object != nil:
		return e.Object.NativeIdentity
	}
	return ""
}

// PasswordChange notifies a password intercepted on the mainframe.
type PasswordChange struct {
	ID          string             `json:"id" msgpack:"id"`
	Application registry.Reference `json:"application" msgpack:"application"`
	SIID        string             `json:"siid" msgpack:"siid"`
	UserID      string             `json:"user_id" msgpack:"user_id"`
	Password    string             `json:"password" msgpack:"password"`
	ReceivedAt  time.Time          `json:"received_at" msgpack:"received_at"`
}

// Redacted returns a copy safe to log.
func (p PasswordChange) Redacted() PasswordChange {
	p.Password = "********"
	return p
}

// Build turns a completed account, connection or group record into a
// resource event. Password changes go through BuildPasswordChange; unknown
// operations return ErrUnsupportedOperation.
func Build(siid, code string, payload []byte, ep *registry.Endpoint) (*ResourceEvent, error) {
	op := record.ParseOperation(code)
	ev := &ResourceEvent{
		ID:          uuid.NewString(),
		Application: ep.Ref(),
		SIID:        siid,
		Code:        code,
		Operation:   op.String(),
		ReceivedAt:  time.Now().UTC(),
	}

	var err error
	switch {
	case op.IsAccount():
		ev.Account, err = accountRequest(op, payload, ep)
	case op.IsConnection():
		ev.Account, err = connectionRequest(op, payload, ep)
	case op.IsGroup():
		ev.Object, err = groupRequest(op, payload, ep)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, code)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// BuildPasswordChange parses a PA record into a password notification.
func BuildPasswordChange(siid string, payload []byte, ep *registry.Endpoint) (PasswordChange, error) {
	p, err := record.ParsePassword(payload, ep)
	if err != nil {
		return PasswordChange{}, err
	}
	return PasswordChange{
		ID:          uuid.NewString(),
		Application: ep.Ref(),
		SIID:        siid,
		UserID:      p.UserID,
		Password:    p.Password,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

func accountRequest(op record.Operation, payload []byte, ep *registry.Endpoint) (*AccountRequest, error) {
	attrs, err := record.ParseAccount(payload, ep)
	if err != nil {
		return nil, err
	}

	req := &AccountRequest{
		Application:    ep.Name(),
		NativeIdentity: attrs.String(record.AttrUserID),
	}
	switch op {
	case record.AccountAdd:
		record.DeriveStatus(attrs)
		req.Operation = Create
		req.Attributes = setAll(attrs)
	case record.AccountUpdate, record.AccountVerify:
		record.DeriveStatus(attrs)
		delete(attrs, registry.GroupsAttribute)
		req.Operation = Modify
		req.Attributes = setAll(attrs)
	default:
		req.Operation = Delete
	}
	return req, nil
}

func connectionRequest(op record.Operation, payload []byte, ep *registry.Endpoint) (*AccountRequest, error) {
	c, err := record.ParseConnection(payload, ep)
	if err != nil {
		return nil, err
	}
	attrOp := Add
	if op == record.ConnectionDelete {
		attrOp = Remove
	}
	return &AccountRequest{
		Application:    ep.Name(),
		Operation:      Modify,
		NativeIdentity: c.UserID,
		Attributes: []AttributeRequest{
			{Name: ep.GroupAttribute(), Op: attrOp, Value: c.Group},
		},
	}, nil
}

func groupRequest(op record.Operation, payload []byte, ep *registry.Endpoint) (*ObjectRequest, error) {
	attrs, err := record.ParseGroup(payload, ep)
	if err != nil {
		return nil, err
	}

	req := &ObjectRequest{
		Application:    ep.Name(),
		Type:           GroupObjectType,
		NativeIdentity: attrs.String(record.AttrGroupID),
	}
	switch op {
	case record.GroupAdd:
		req.Operation = Create
		req.Attributes = setAll(attrs)
	case record.GroupUpdate:
		req.Operation = Modify
		req.Attributes = setAll(attrs)
	default:
		req.Operation = Delete
	}
	return req, nil
}

// setAll returns one Set request per attribute, ordered by name.
func setAll(attrs record.Attributes) []AttributeRequest {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]AttributeRequest, 0, len(names))
	for _, name := range names {
		out = append(out, AttributeRequest{Name: name, Op: Set, Value: attrs[name]})
	}
	return out
}
