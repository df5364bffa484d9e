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

package intercept

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTransaction is a completion frame whose SIID is not pending
	// while other transactions are.
	ErrUnknownTransaction = errors.New("intercept: completion for unknown transaction")

	// ErrMissingRecordStart is a completion frame with no RS frame to pair.
	ErrMissingRecordStart = errors.New("intercept: no record-start frame for transaction")

	// ErrUnknownEndpoint is a record for a managed system outside the registry.
	ErrUnknownEndpoint = errors.New("intercept: managed system not in registry")
)

// ProtocolError is a frame that cannot be processed. The worker logs it,
// skips the frame and keeps the session.
type ProtocolError struct {
	SIID string
	Code string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("intercept: siid %s code %s: %v", e.SIID, e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(siid, code string, err error) error {
	return &ProtocolError{SIID: siid, Code: code, Err: err}
}
