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
Package record parses the business payload of completion frames.

RECORD FAMILIES:
================
The payload starts at header offset 61 and is a sequence of 3-hex
length-prefixed fields in the endpoint character set:

	Password   (PA)           USER_ID, -, -, new password
	Connection (AC/UC/DC)     group, USER_ID
	Account    (AA/UA/DA/VA)  USER_ID, USER_OE_PR, UG_DEF, password, PWD_LIFE,
	                          User_STA, USER_ADMIN, DEF_UG_ACT, AddInfo
	Group      (AB/UB/DB)     GROUP_ID, GROUP_OE_PR, GROUP_PR, AddInfo

ADDINFO:
========
Keywords named multi-valued by the schema are exploded: 0x02 separates
columns of one value and becomes the endpoint separator, 0x01 separates
values. Account keywords outside the schema are dropped except RU_SUSPENDED
and RU_LOCKED, which feed the account status.
*/
package record

import (
	"errors"
	"fmt"
	"strings"

	"smlistener/internal/protocol"
)

// Attribute names produced by the parser.
const (
	AttrUserID      = "USER_ID"
	AttrUserOEPR    = "USER_OE_PR"
	AttrUGDef       = "UG_DEF"
	AttrPassword    = "password"
	AttrPwdLife     = "PWD_LIFE"
	AttrUserStatus  = "User_STA"
	AttrUserAdmin   = "USER_ADMIN"
	AttrDefUGAct    = "DEF_UG_ACT"
	AttrGroupID     = "GROUP_ID"
	AttrGroupOEPR   = "GROUP_OE_PR"
	AttrGroupPR     = "GROUP_PR"
	AttrSuspended   = "RU_SUSPENDED"
	AttrLocked      = "RU_LOCKED"
	AttrIsDisabled  = "disabled"
	AttrIsLocked    = "locked"
	AttrDirectPerms = "directPermissions"
	AttrIndirect    = "inDirectPermissions"
)

const (
	valueDelimiter  = "\x01"
	columnDelimiter = "\x02"
)

// ErrNoGroupAttribute is returned for connection records on endpoints whose
// account schema has no groups attribute.
var ErrNoGroupAttribute = errors.New("record: connection operations need a groups attribute in the account schema")

// Endpoint is the per-endpoint knowledge the parser needs.
type Endpoint interface {
	Decode(b []byte) (string, error)
	Separator() string
	GroupAttribute() string
	AccountAttributeNames() []string
	IsMultiValuedAccountAttribute(name string) bool
	IsMultiValuedGroupAttribute(name string) bool
	AdminLabel(code string) (string, bool)
}

// Attributes maps attribute names to string, []string or bool values.
type Attributes map[string]any

// String returns a string attribute, or "" when absent or not a string.
func (a Attributes) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Password is a parsed PA record.
type Password struct {
	UserID   string
	Password string
}

// Connection is a parsed AC/UC/DC record.
type Connection struct {
	UserID string
	Group  string
}

type reader struct {
	fr *protocol.FieldReader
	ep Endpoint
}

func newReader(payload []byte, ep Endpoint) *reader {
	return &reader{fr: protocol.NewFieldReader(payload), ep: ep}
}

func (r *reader) field(name string) (string, error) {
	raw, err := r.fr.Field()
	if err != nil {
		return "", fmt.Errorf("record field %s: %w", name, err)
	}
	s, err := r.ep.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("record field %s: decode: %w", name, err)
	}
	return s, nil
}

func (r *reader) skip(name string) error {
	if err := r.fr.Skip(); err != nil {
		return fmt.Errorf("record field %s: %w", name, err)
	}
	return nil
}

// ParsePassword parses a PA payload.
func ParsePassword(payload []byte, ep Endpoint) (Password, error) {
	r := newReader(payload, ep)
	var p Password
	var err error
	if p.UserID, err = r.field(AttrUserID); err != nil {
		return Password{}, err
	}
	if err = r.skip("reserved 1"); err != nil {
		return Password{}, err
	}
	if err = r.skip("reserved 2"); err != nil {
		return Password{}, err
	}
	if p.Password, err = r.field(AttrPassword); err != nil {
		return Password{}, err
	}
	return p, nil
}

// ParseConnection parses an AC/UC/DC payload.
func ParseConnection(payload []byte, ep Endpoint) (Connection, error) {
	if ep.GroupAttribute() == "" {
		return Connection{}, ErrNoGroupAttribute
	}
	r := newReader(payload, ep)
	var c Connection
	var err error
	if c.Group, err = r.field("group"); err != nil {
		return Connection{}, err
	}
	if c.UserID, err = r.field(AttrUserID); err != nil {
		return Connection{}, err
	}
	return c, nil
}

var accountLeadingFields = []string{
	AttrUserID, AttrUserOEPR, AttrUGDef, AttrPassword,
	AttrPwdLife, AttrUserStatus, AttrUserAdmin, AttrDefUGAct,
}

// ParseAccount parses an AA/UA/DA/VA payload. USER_ADMIN is translated
// through the endpoint's admin-role map when the code is mapped.
func ParseAccount(payload []byte, ep Endpoint) (Attributes, error) {
	r := newReader(payload, ep)

	remaining := make(map[string]struct{})
	for _, name := range ep.AccountAttributeNames() {
		remaining[name] = struct{}{}
	}

	attrs := make(Attributes)
	for _, name := range accountLeadingFields {
		v, err := r.field(name)
		if err != nil {
			return nil, err
		}
		if name == AttrUserAdmin {
			// Codes missing from the admin-role map keep their raw value rather than becoming empty.
			if label, ok := ep.AdminLabel(v); ok {
				v = label
			}
		}
		attrs[name] = v
		delete(remaining, name)
	}

	entries, err := r.addInfo()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		kw := normalizeAccountKeyword(e.keyword)
		switch {
		case strings.EqualFold(kw, AttrSuspended):
			attrs[AttrSuspended] = e.value
			continue
		case strings.EqualFold(kw, AttrLocked):
			attrs[AttrLocked] = e.value
			continue
		case ep.IsMultiValuedAccountAttribute(kw):
			attrs[kw] = splitMulti(e.value, ep.Separator())
		default:
			if _, ok := remaining[kw]; ok {
				attrs[kw] = e.value
			}
		}
		delete(remaining, kw)
	}
	return attrs, nil
}

// ParseGroup parses an AB/UB/DB payload. Every AddInfo keyword is kept.
func ParseGroup(payload []byte, ep Endpoint) (Attributes, error) {
	r := newReader(payload, ep)

	attrs := make(Attributes)
	for _, name := range []string{AttrGroupID, AttrGroupOEPR, AttrGroupPR} {
		v, err := r.field(name)
		if err != nil {
			return nil, err
		}
		attrs[name] = v
	}

	entries, err := r.addInfo()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		kw := e.keyword
		if strings.EqualFold(kw, AttrDirectPerms) {
			kw = AttrDirectPerms
		}
		if ep.IsMultiValuedGroupAttribute(kw) {
			attrs[kw] = splitMulti(e.value, ep.Separator())
		} else {
			attrs[kw] = e.value
		}
	}
	return attrs, nil
}

// DeriveStatus sets the disabled and locked flags of an account. RU_SUSPENDED
// wins when present; otherwise User_STA "1" (revoked) disables the account
// and it is never locked. Accounts with neither keep no flags.
func DeriveStatus(attrs Attributes) {
	if suspended, ok := attrs[AttrSuspended]; ok {
		attrs[AttrIsDisabled] = suspended == "Y"
		attrs[AttrIsLocked] = attrs[AttrLocked] == "Y"
		return
	}
	if status, ok := attrs[AttrUserStatus]; ok {
		attrs[AttrIsDisabled] = status == "1"
		attrs[AttrIsLocked] = false
	}
}

type decodedEntry struct {
	keyword string
	value   string
}

func (r *reader) addInfo() ([]decodedEntry, error) {
	raw, err := r.fr.AddInfo()
	if err != nil {
		return nil, fmt.Errorf("record addinfo: %w", err)
	}
	out := make([]decodedEntry, 0, len(raw))
	for _, e := range raw {
		kw, err := r.ep.Decode(e.Keyword)
		if err != nil {
			return nil, fmt.Errorf("record addinfo keyword: decode: %w", err)
		}
		val, err := r.ep.Decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("record addinfo %s: decode: %w", kw, err)
		}
		out = append(out, decodedEntry{keyword: kw, value: val})
	}
	return out, nil
}

func normalizeAccountKeyword(kw string) string {
	switch {
	case strings.EqualFold(kw, AttrDirectPerms):
		return AttrDirectPerms
	case strings.EqualFold(kw, AttrIndirect):
		return AttrIndirect
	}
	return kw
}

// splitMulti explodes a multi-valued AddInfo value. Column delimiters become
// sep, value delimiters split, and empty items are dropped.
func splitMulti(value, sep string) []string {
	value = strings.ReplaceAll(value, columnDelimiter, sep)
	parts := strings.Split(value, valueDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
