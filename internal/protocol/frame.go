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
	"io"
)

// Frame wraps a header in the wire envelope: "a " + 8-hex length + header.
func Frame(header []byte) ([]byte, error) {
	length, err := EncodeHexLength(len(header), EnvelopeLengthWidth)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(EnvelopeMarker)+EnvelopeLengthWidth+len(header))
	out = append(out, EnvelopeMarker...)
	out = append(out, length...)
	out = append(out, header...)
	return out, nil
}

// WriteFrame frames header and writes it to w in a single call.
func WriteFrame(w io.Writer, header []byte) error {
	framed, err := Frame(header)
	if err != nil {
		return err
	}
	_, err = w.Write(framed)
	return err
}

// ReadFrame reads one envelope from r and returns the header with the
// envelope stripped. io.EOF is returned unchanged when the stream ends cleanly
// before a new frame starts.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [len(EnvelopeMarker) + EnvelopeLengthWidth]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if string(prefix[:len(EnvelopeMarker)]) != EnvelopeMarker {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidEnvelope, prefix[:len(EnvelopeMarker)])
	}

	length, err := DecodeHexLength(string(prefix[len(EnvelopeMarker):]))
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	header := make([]byte, length)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return header, nil
}
