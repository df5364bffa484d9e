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

import "fmt"

// Field length widths used by business payloads.
const (
	FieldLengthWidth     = 3
	AddInfoCountWidth    = 3
	AddInfoTypeWidth     = 2
	AddInfoKeywordWidth  = 2
	AddInfoValueLenWidth = 4
)

// AddInfoEntry is one (type, keyword, value) triple of an AddInfo section.
// Keyword and Value are raw bytes in the endpoint character set.
type AddInfoEntry struct {
	Type    int
	Keyword []byte
	Value   []byte
}

// FieldReader is a bounds-checked cursor over a business payload.
// Returned slices alias the underlying buffer.
type FieldReader struct {
	buf []byte
	pos int
}

// NewFieldReader creates a reader positioned at the start of buf.
func NewFieldReader(buf []byte) *FieldReader {
	return &FieldReader{buf: buf}
}

// Offset returns the current read position.
func (r *FieldReader) Offset() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *FieldReader) Remaining() int { return len(r.buf) - r.pos }

// Bytes reads exactly n bytes.
func (r *FieldReader) Bytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrTruncated, n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Hex reads a width-digit hexadecimal number.
func (r *FieldReader) Hex(width int) (int, error) {
	b, err := r.Bytes(width)
	if err != nil {
		return 0, err
	}
	v, err := DecodeHexLength(string(b))
	if err != nil {
		return 0, fmt.Errorf("offset %d: %w", r.pos-width, err)
	}
	return v, nil
}

// Field reads a 3-hex length followed by that many bytes.
func (r *FieldReader) Field() ([]byte, error) {
	n, err := r.Hex(FieldLengthWidth)
	if err != nil {
		return nil, err
	}
	return r.Bytes(n)
}

// Skip discards one length-prefixed field.
func (r *FieldReader) Skip() error {
	_, err := r.Field()
	return err
}

// AddInfo reads a 3-hex entry count followed by that many triples.
func (r *FieldReader) AddInfo() ([]AddInfoEntry, error) {
	count, err := r.Hex(AddInfoCountWidth)
	if err != nil {
		return nil, err
	}

	entries := make([]AddInfoEntry, 0, count)
	for i := 0; i < count; i++ {
		var e AddInfoEntry
		if e.Type, err = r.Hex(AddInfoTypeWidth); err != nil {
			return nil, fmt.Errorf("addinfo entry %d: %w", i, err)
		}
		kwLen, err := r.Hex(AddInfoKeywordWidth)
		if err != nil {
			return nil, fmt.Errorf("addinfo entry %d: %w", i, err)
		}
		if e.Keyword, err = r.Bytes(kwLen); err != nil {
			return nil, fmt.Errorf("addinfo entry %d: %w", i, err)
		}
		valLen, err := r.Hex(AddInfoValueLenWidth)
		if err != nil {
			return nil, fmt.Errorf("addinfo entry %d: %w", i, err)
		}
		if e.Value, err = r.Bytes(valLen); err != nil {
			return nil, fmt.Errorf("addinfo entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
