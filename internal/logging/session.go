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

package logging

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// SessionLogger logs the lifecycle of a gateway connection.
type SessionLogger struct {
	logger *Logger
}

// NewSessionLogger creates a session logger writing through logger.
func NewSessionLogger(logger *Logger) *SessionLogger {
	return &SessionLogger{logger: logger}
}

// LogConnected logs an established gateway connection.
func (sl *SessionLogger) LogConnected(conn net.Conn, tlsEnabled bool) {
	sl.logger.Info("Connected to connector gateway",
		"remote_addr", conn.RemoteAddr().String(),
		"local_addr", conn.LocalAddr().String(),
		"tls_enabled", tlsEnabled,
	)
}

// LogDisconnected logs a closed gateway connection and how long it lived.
func (sl *SessionLogger) LogDisconnected(remote string, reason string, connectedFor time.Duration) {
	sl.logger.Info("Disconnected from connector gateway",
		"remote_addr", remote,
		"reason", reason,
		"duration_seconds", connectedFor.Seconds(),
	)
}

// LogHandshake logs a completed handshake step.
func (sl *SessionLogger) LogHandshake(step string, siid string) {
	sl.logger.Debug("Handshake step completed", "step", step, "siid", siid)
}

// SanitizeFrame renders a frame for debug logs. Only the first headerLen
// bytes are shown; the rest (which may carry passwords) is reduced to a
// byte count. Control bytes are printed as '.'.
func SanitizeFrame(frame []byte, headerLen int) string {
	if len(frame) == 0 {
		return "[empty]"
	}
	shown := frame
	if len(shown) > headerLen {
		shown = shown[:headerLen]
	}

	var b strings.Builder
	for _, c := range shown {
		if c < 0x20 || c > 0x7e {
			b.WriteByte('.')
			continue
		}
		b.WriteByte(c)
	}
	if rest := len(frame) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "[+%d bytes]", rest)
	}
	return b.String()
}
