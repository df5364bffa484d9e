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
	"strconv"
)

// EncodeHexLength renders value as upper-case hexadecimal, left-padded with
// zeros to exactly width digits. The gateway uses widths 1, 2, 3, 4 and 8.
func EncodeHexLength(value, width int) (string, error) {
	if width <= 0 || width > 16 {
		return "", fmt.Errorf("%w: width %d", ErrLengthOverflow, width)
	}
	if value < 0 {
		return "", fmt.Errorf("%w: negative value %d", ErrLengthOverflow, value)
	}
	if width < 16 && uint64(value) >= uint64(1)<<(4*uint(width)) {
		return "", fmt.Errorf("%w: %d in %d hex digits", ErrLengthOverflow, value, width)
	}
	return fmt.Sprintf("%0*X", width, value), nil
}

// DecodeHexLength parses a hexadecimal length field. Both upper and lower
// case digits are accepted; signs, spaces and empty input are rejected.
func DecodeHexLength(text string) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadLength)
	}
	for i := 0; i < len(text); i++ {
		if !isHexDigit(text[i]) {
			return 0, fmt.Errorf("%w: %q", ErrBadLength, text)
		}
	}
	v, err := strconv.ParseUint(text, 16, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadLength, text)
	}
	return int(v), nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// appendHex appends value as a width-digit hex length to dst.
func appendHex(dst []byte, value, width int) ([]byte, error) {
	s, err := EncodeHexLength(value, width)
	if err != nil {
		return dst, err
	}
	return append(dst, s...), nil
}
