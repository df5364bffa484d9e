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
Package protocol implements the connector gateway wire protocol.

PROTOCOL OVERVIEW:
==================
The mainframe connector gateway speaks a text protocol over a plain byte
stream (TCP, optionally TLS). There are no delimiters: every message is framed
purely by length prefixes written as fixed-width upper-case hexadecimal.

ENVELOPE:
=========
Every message on the wire is:

	"a " + <8 hex digits: header length> + <header>

The receiver strips the "a " marker and the length; all offsets below are
relative to the header that remains.

HEADER LAYOUT:
==============

	offset  width  field
	------  -----  -----------------------------------------------
	0       1      message class: 'S' session, 'U' confirmation
	1       9      SIID (transaction id)
	10      6      sequence id
	16      5      data-center id + application id + workstation id
	21      8      user field (blanks or "WSUSERID")
	29      1      last marker: 'L', 'T' or blank
	30      1      encryption type
	31      2      operation code: CC, IV, FF, RS or a business code
	39      1      chunk-final marker on interception frames ('T')
	48      ...    RS frames: 3-hex length + managed system name,
	               3-hex length + managed system type
	61      ...    business frames: length-prefixed field stream

FIELD STREAM:
=============
Business payloads are sequences of length-prefixed values. Scalar fields use a
3-hex-digit length. The trailing AddInfo section is a 3-hex count of
(type, keyword, value) triples encoded as:

	type(2 hex) + keywordLen(2 hex) + keyword + valueLen(4 hex) + value

See FieldReader.

COMPATIBILITY:
==============
There is no version negotiation beyond the encryption type. The layout must
stay bit-exact with the deployed gateway agent.
*/
package protocol

import (
	"bytes"
	"errors"
)

// Envelope and header geometry.
const (
	// EnvelopeMarker starts every message on the wire.
	EnvelopeMarker = "a "

	// EnvelopeLengthWidth is the number of hex digits in the envelope length.
	EnvelopeLengthWidth = 8

	// MaxFrameSize bounds a single header to prevent memory exhaustion
	// when the length prefix is corrupted.
	MaxFrameSize = 16 * 1024 * 1024

	// SIIDLength is the width of a transaction id.
	SIIDLength = 9

	// MinHeaderLength is the shortest header that carries an operation code.
	MinHeaderLength = 33

	SIIDOffset          = 1
	SequenceOffset      = 10
	MarkerOffset        = 29
	EncryptionOffset    = 30
	OpCodeOffset        = 31
	ChunkMarkerOffset   = 39
	ManagedSystemOffset = 48
	PayloadOffset       = 61

	// chunkEchoStart and chunkEchoEnd bound the header slice echoed back in
	// a chunk confirmation.
	chunkEchoStart = 10
	chunkEchoEnd   = 41

	// KeepAliveMarker appears in heartbeat frames sent by the gateway.
	KeepAliveMarker = "KEEPALIVE_MESSAGE"
)

// Well-known operation codes of the session layer.
const (
	CodeConfirm     = "CC"
	CodeInitVector  = "IV"
	CodeFinish      = "FF"
	CodeRecordStart = "RS"
)

// Marker values at MarkerOffset.
const (
	MarkerLast  byte = 'L'
	MarkerChunk byte = 'T'
	MarkerBlank byte = ' '
)

var (
	// ErrInvalidEnvelope indicates the stream did not start with "a ".
	ErrInvalidEnvelope = errors.New("protocol: invalid envelope marker")

	// ErrFrameTooLarge indicates the envelope length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrBadLength indicates a length prefix that is not valid hexadecimal.
	ErrBadLength = errors.New("protocol: malformed hex length")

	// ErrLengthOverflow indicates a value does not fit in the requested width.
	ErrLengthOverflow = errors.New("protocol: value does not fit in field width")

	// ErrTruncated indicates a field extends past the end of the payload.
	ErrTruncated = errors.New("protocol: truncated payload")

	// ErrShortHeader indicates a header is too short for the requested field.
	ErrShortHeader = errors.New("protocol: header too short")
)

// SIIDOf returns the transaction id of a header.
func SIIDOf(header []byte) (string, error) {
	if len(header) < SIIDOffset+SIIDLength {
		return "", ErrShortHeader
	}
	return string(header[SIIDOffset : SIIDOffset+SIIDLength]), nil
}

// OpCodeOf returns the 2-character operation code of a header.
func OpCodeOf(header []byte) (string, error) {
	if len(header) < MinHeaderLength {
		return "", ErrShortHeader
	}
	return string(header[OpCodeOffset : OpCodeOffset+2]), nil
}

// IsKeepAlive reports whether a header is a gateway heartbeat. Heartbeats
// either carry KeepAliveMarker or have 'L' at the marker offset and 'R' as the
// first operation-code character.
func IsKeepAlive(header []byte) bool {
	if bytes.Contains(header, []byte(KeepAliveMarker)) {
		return true
	}
	return len(header) > OpCodeOffset &&
		header[MarkerOffset] == MarkerLast &&
		header[OpCodeOffset] == 'R'
}

// IsChunkFinal reports whether the gateway expects a chunk confirmation
// before it releases the next batch of interceptions.
func IsChunkFinal(header []byte) bool {
	return len(header) > ChunkMarkerOffset && header[ChunkMarkerOffset] == MarkerChunk
}

// NeedsRecordConfirmation reports whether a completion frame must be
// acknowledged. Frames marked 'L' (last) or blank need no acknowledgement.
func NeedsRecordConfirmation(header []byte) bool {
	if len(header) <= MarkerOffset {
		return false
	}
	m := header[MarkerOffset]
	return m != MarkerLast && m != MarkerBlank
}

// Payload returns the business field stream of a completion frame.
func Payload(header []byte) ([]byte, error) {
	if len(header) < PayloadOffset {
		return nil, ErrShortHeader
	}
	return header[PayloadOffset:], nil
}

// ManagedSystem extracts the managed system name and type carried by a
// record-start frame. Both are returned as sent; callers normalise case.
func ManagedSystem(rs []byte) (name, mscsType string, err error) {
	if len(rs) < ManagedSystemOffset {
		return "", "", ErrShortHeader
	}
	r := NewFieldReader(rs[ManagedSystemOffset:])
	nameBytes, err := r.Field()
	if err != nil {
		return "", "", err
	}
	typeBytes, err := r.Field()
	if err != nil {
		return "", "", err
	}
	return string(nameBytes), string(typeBytes), nil
}
