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

// Package registry holds the per-worker snapshot of endpoint configuration.
// A gateway multiplexes several managed systems over one session, so every
// completed record is routed to the endpoint named by its record-start frame.
package registry

import (
	"sort"
	"strings"

	"golang.org/x/text/encoding"

	"smlistener/internal/config"
	"smlistener/internal/logging"
)

const (
	// DefaultSeparator joins the columns of a multi-column value.
	DefaultSeparator = "#"

	// GroupsAttribute is the account attribute carrying group membership.
	GroupsAttribute = "groups"
)

// Source supplies the applications sharing a cluster.
type Source interface {
	ApplicationsInCluster(cluster string) []config.Application
}

// Key identifies an endpoint by upper-cased managed system type and name.
type Key struct {
	Type string
	Name string
}

// NewKey builds a normalised key.
func NewKey(mscsType, mscsName string) Key {
	return Key{Type: strings.ToUpper(mscsType), Name: strings.ToUpper(mscsName)}
}

func (k Key) String() string { return k.Type + "/" + k.Name }

// Reference identifies the application an event belongs to.
type Reference struct {
	Application string `json:"application" msgpack:"application" avro:"application"`
	Cluster     string `json:"cluster" msgpack:"cluster" avro:"cluster"`
	MSCSType    string `json:"mscs_type" msgpack:"mscs_type" avro:"mscs_type"`
	MSCSName    string `json:"mscs_name" msgpack:"mscs_name" avro:"mscs_name"`
}

// Endpoint is an immutable view of one application's record settings.
type Endpoint struct {
	ref            Reference
	key            Key
	charset        string
	utf8           bool
	enc            encoding.Encoding
	separator      string
	groupAttribute string
	accountAttrs   map[string]struct{}
	multiAccount   map[string]struct{}
	groupAttrs     map[string]struct{}
	multiGroup     map[string]struct{}
	adminMap       map[string]string
}

// NewEndpoint snapshots an application. It fails only when the character set
// cannot be decoded.
func NewEndpoint(app config.Application) (*Endpoint, error) {
	enc, err := ResolveCharset(app.CharacterSet)
	if err != nil {
		return nil, err
	}

	charset := strings.TrimSpace(app.CharacterSet)
	if charset == "" {
		charset = DefaultCharset
	}
	separator := app.MultiColumnSeparator
	if separator == "" {
		separator = DefaultSeparator
	}

	ep := &Endpoint{
		ref: Reference{
			Application: app.Name,
			Cluster:     app.Cluster,
			MSCSType:    app.MSCSType,
			MSCSName:    app.MSCSName,
		},
		key:          NewKey(app.MSCSType, app.MSCSName),
		charset:      charset,
		utf8:         isUTF8(charset),
		enc:          enc,
		separator:    separator,
		accountAttrs: make(map[string]struct{}),
		multiAccount: make(map[string]struct{}),
		groupAttrs:   make(map[string]struct{}),
		multiGroup:   make(map[string]struct{}),
	}
	populate(app.AccountSchema, ep.accountAttrs, ep.multiAccount)
	populate(app.GroupSchema, ep.groupAttrs, ep.multiGroup)
	if _, ok := ep.accountAttrs[GroupsAttribute]; ok {
		ep.groupAttribute = GroupsAttribute
	}
	if app.UserAdminMap != nil {
		ep.adminMap = make(map[string]string, len(app.UserAdminMap))
		for k, v := range app.UserAdminMap {
			ep.adminMap[k] = v
		}
	}
	return ep, nil
}

func populate(schema *config.Schema, names, multi map[string]struct{}) {
	if schema == nil {
		return
	}
	for _, attr := range schema.Attributes {
		name := attr.InternalOrName()
		names[name] = struct{}{}
		if attr.Multi {
			multi[name] = struct{}{}
		}
	}
}

func (e *Endpoint) Name() string           { return e.ref.Application }
func (e *Endpoint) Key() Key               { return e.key }
func (e *Endpoint) Ref() Reference         { return e.ref }
func (e *Endpoint) Charset() string        { return e.charset }
func (e *Endpoint) IsUTF8() bool           { return e.utf8 }
func (e *Endpoint) Separator() string      { return e.separator }
func (e *Endpoint) HasAccountSchema() bool { return len(e.accountAttrs) > 0 }

// GroupAttribute returns "groups" when the account schema defines it, else "".
func (e *Endpoint) GroupAttribute() string { return e.groupAttribute }

// AccountAttributeNames returns the account schema names, sorted.
func (e *Endpoint) AccountAttributeNames() []string {
	return sortedKeys(e.accountAttrs)
}

// IsMultiValuedAccountAttribute reports whether name is multi-valued.
func (e *Endpoint) IsMultiValuedAccountAttribute(name string) bool {
	_, ok := e.multiAccount[name]
	return ok
}

// IsMultiValuedGroupAttribute reports whether name is multi-valued.
func (e *Endpoint) IsMultiValuedGroupAttribute(name string) bool {
	_, ok := e.multiGroup[name]
	return ok
}

// AdminLabel translates a USER_ADMIN code. ok is false when the endpoint has
// no admin-role map or the code is not in it.
func (e *Endpoint) AdminLabel(code string) (label string, ok bool) {
	if e.adminMap == nil {
		return "", false
	}
	label, ok = e.adminMap[code]
	return label, ok
}

// Decode converts bytes in the endpoint character set to a string.
func (e *Endpoint) Decode(b []byte) (string, error) {
	if e.utf8 {
		return string(b), nil
	}
	out, err := e.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Registry maps endpoint keys to endpoints. It is built once per worker and
// never mutated afterwards.
type Registry struct {
	endpoints map[Key]*Endpoint
}

// Build snapshots every application in the primary's cluster. When the
// cluster yields nothing the primary alone is used. Applications whose
// character set cannot be resolved are logged and left out.
func Build(primary config.Application, src Source) *Registry {
	logger := logging.NewLogger("registry").With("application", primary.Name)

	var apps []config.Application
	if src != nil {
		apps = src.ApplicationsInCluster(primary.Cluster)
	}
	if len(apps) == 0 {
		apps = []config.Application{primary}
	}

	r := &Registry{endpoints: make(map[Key]*Endpoint, len(apps))}
	for _, app := range apps {
		ep, err := NewEndpoint(app)
		if err != nil {
			logger.Error("Skipping endpoint", "endpoint", app.Name, "error", err)
			continue
		}
		if !ep.HasAccountSchema() {
			logger.Error("Endpoint has no account schema", "endpoint", app.Name)
		}
		if prev, ok := r.endpoints[ep.key]; ok {
			logger.Warn("Duplicate endpoint key, keeping the later one",
				"key", ep.key.String(), "previous", prev.Name(), "endpoint", ep.Name())
		}
		r.endpoints[ep.key] = ep
		logger.Debug("Registered endpoint", "endpoint", ep.Name(), "key", ep.key.String(), "charset", ep.charset)
	}
	return r
}

// Lookup finds the endpoint for a managed system type and name. Both are
// upper-cased before the exact match.
func (r *Registry) Lookup(mscsType, mscsName string) (*Endpoint, bool) {
	ep, ok := r.endpoints[NewKey(mscsType, mscsName)]
	return ep, ok
}

// Len returns the number of endpoints.
func (r *Registry) Len() int { return len(r.endpoints) }
