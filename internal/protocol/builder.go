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

package protocol

import (
	"fmt"
	"strings"
)

// StationIDWidth is the combined width of the data-center, application and
// workstation ids. Anything else shifts the marker off offset 29.
const StationIDWidth = 5

const (
	sessionClass       = "S"
	confirmationClass  = "U"
	blankUser          = "        "
	confirmationUser   = "WSUSERID"
	sessionOpenCode    = "RS001"
	firstSequence      = "000001"
	secondSequence     = "000002"
	thirdSequence      = "000003"
	extendedBlockTag   = "PE2EX:"
	extendedFieldCount = 2
)

// Station identifies this listener in every outbound header.
type Station struct {
	DataCenterID  string
	AppID         string
	WorkstationID string
	// Encryption is the single-character encryption type of the endpoint.
	Encryption string
}

// Validate checks the station ids fit the fixed header geometry.
func (s Station) Validate() error {
	if n := len(s.ids()); n != StationIDWidth {
		return fmt.Errorf("protocol: station ids are %d characters, want %d", n, StationIDWidth)
	}
	if len(s.Encryption) != 1 {
		return fmt.Errorf("protocol: encryption type %q must be one character", s.Encryption)
	}
	return nil
}

func (s Station) ids() string {
	return s.DataCenterID + s.AppID + s.WorkstationID
}

// ConfirmAck is the substring of the gateway reply that acknowledges the
// session-open frame.
func (s Station) ConfirmAck() string { return "T" + s.Encryption + CodeConfirm }

// InitVectorAck is the substring of the gateway reply that acknowledges IV.
func (s Station) InitVectorAck() string { return "T" + s.Encryption + CodeInitVector }

func (s Station) sessionHeader(siid, sequence string, marker byte, code string) (*strings.Builder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(siid) != SIIDLength {
		return nil, fmt.Errorf("protocol: SIID %q must be %d characters", siid, SIIDLength)
	}
	var b strings.Builder
	b.WriteString(sessionClass)
	b.WriteString(siid)
	b.WriteString(sequence)
	b.WriteString(s.ids())
	b.WriteString(blankUser)
	b.WriteByte(marker)
	b.WriteString(s.Encryption)
	b.WriteString(code)
	return &b, nil
}

// OpenRequest carries the body of the session-open (RS001) frame.
type OpenRequest struct {
	TransactionID       string
	ActionID            string
	MSCSName            string
	MSCSType            string
	MSCSAdmin           string
	AddInfoValueLenSize string
	// PE2Version is appended unless one-phase aggregation is disabled.
	PE2Version                 string
	DisableOnePhaseAggregation bool
	AdminUser                  string
	AdminPassword              string
}

// Body renders the RS001 body.
func (o OpenRequest) Body() ([]byte, error) {
	body := make([]byte, 0, 128)
	body = append(body, o.TransactionID...)
	body = append(body, o.ActionID...)

	var err error
	for _, field := range []string{o.MSCSName, o.MSCSType, o.MSCSAdmin} {
		if body, err = appendField(body, field); err != nil {
			return nil, err
		}
	}

	body = append(body, "000"...)
	// one AddInfo entry
	body = append(body, "001"...)
	body = append(body, '2')
	body = append(body, o.AddInfoValueLenSize...)
	body = append(body, "0000000000"...)
	body = append(body, "000"...)
	if !o.DisableOnePhaseAggregation {
		body = append(body, o.PE2Version...)
	}

	body = append(body, extendedBlockTag...)
	if body, err = appendHex(body, extendedFieldCount, 1); err != nil {
		return nil, err
	}
	if body, err = appendField(body, o.AdminUser); err != nil {
		return nil, err
	}
	if o.AdminPassword == "" {
		body = append(body, "000"...)
	} else if body, err = appendField(body, o.AdminPassword); err != nil {
		return nil, err
	}
	return body, nil
}

func appendField(dst []byte, value string) ([]byte, error) {
	dst, err := appendHex(dst, len(value), FieldLengthWidth)
	if err != nil {
		return dst, fmt.Errorf("field %q: %w", value, err)
	}
	return append(dst, value...), nil
}

// SessionOpen builds the framed RS001 frame that starts the handshake.
func SessionOpen(s Station, siid string, req OpenRequest) ([]byte, error) {
	b, err := s.sessionHeader(siid, firstSequence, MarkerChunk, sessionOpenCode)
	if err != nil {
		return nil, err
	}
	body, err := req.Body()
	if err != nil {
		return nil, err
	}
	length, err := EncodeHexLength(4+len(body), 4)
	if err != nil {
		return nil, err
	}
	b.WriteString(length)
	b.Write(body)
	return Frame([]byte(b.String()))
}

// InitVector builds the framed IV frame, the second handshake step.
func InitVector(s Station, siid string) ([]byte, error) {
	b, err := s.sessionHeader(siid, secondSequence, MarkerChunk, CodeInitVector)
	if err != nil {
		return nil, err
	}
	return Frame([]byte(b.String()))
}

// Finish builds the framed FF frame that completes the handshake.
func Finish(s Station, siid string) ([]byte, error) {
	b, err := s.sessionHeader(siid, thirdSequence, MarkerLast, CodeFinish)
	if err != nil {
		return nil, err
	}
	return Frame([]byte(b.String()))
}

// RecordConfirmation builds the framed acknowledgement of a completed record.
func RecordConfirmation(s Station, siid string) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(siid) != SIIDLength {
		return nil, fmt.Errorf("protocol: SIID %q must be %d characters", siid, SIIDLength)
	}
	header := confirmationClass + siid + firstSequence + s.ids() +
		confirmationUser + string(MarkerLast) + s.Encryption + CodeConfirm
	return Frame([]byte(header))
}

// ChunkConfirmation builds the framed acknowledgement that releases the next
// chunk of interceptions: header[10:41] echoed back followed by "CC".
func ChunkConfirmation(header []byte) ([]byte, error) {
	if len(header) < chunkEchoEnd {
		return nil, ErrShortHeader
	}
	body := make([]byte, 0, chunkEchoEnd-chunkEchoStart+len(CodeConfirm))
	body = append(body, header[chunkEchoStart:chunkEchoEnd]...)
	body = append(body, CodeConfirm...)
	return Frame(body)
}
