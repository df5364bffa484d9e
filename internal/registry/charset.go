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

package registry

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCharset is used when an application names no character set.
const DefaultCharset = "ISO-8859-1"

// ErrUnsupportedCharset is returned for character sets with no decoder.
var ErrUnsupportedCharset = errors.New("registry: unsupported character set")

// ebcdic maps the code page spellings used on the mainframe side that the
// IANA index does not know.
var ebcdic = map[string]encoding.Encoding{
	"IBM037":  charmap.CodePage037,
	"IBM-037": charmap.CodePage037,
	"CP037":   charmap.CodePage037,
	"IBM1047": charmap.CodePage1047,
	"CP1047":  charmap.CodePage1047,
	"IBM1140": charmap.CodePage1140,
	"CP1140":  charmap.CodePage1140,
}

// ResolveCharset returns the decoder for a character set name. Blank names
// resolve to ISO-8859-1.
func ResolveCharset(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCharset
	}
	upper := strings.ToUpper(name)
	if enc, ok := ebcdic[upper]; ok {
		return enc, nil
	}
	if upper == "UTF-8" || upper == "UTF8" {
		return unicode.UTF8, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharset, name)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %s has no decoder", ErrUnsupportedCharset, name)
	}
	return enc, nil
}

func isUTF8(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "UTF-8", "UTF8":
		return true
	}
	return false
}
