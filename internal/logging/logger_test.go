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
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(level)
	t.Cleanup(func() {
		SetGlobalOutput(os.Stdout)
		SetGlobalLevel(INFO)
		SetJSONMode(false)
	})
	return &buf
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DEBUG},
		{"trace", DEBUG},
		{"Info", INFO},
		{" warn ", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"unknown", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestLoggerOutput(t *testing.T) {
	buf := captureOutput(t, DEBUG)

	logger := NewLogger("intercept")
	logger.Info("received interception", "siid", "000000001")

	output := buf.String()
	if !strings.Contains(output, "received interception") {
		t.Errorf("Expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, "[intercept]") {
		t.Errorf("Expected output to contain component, got: %s", output)
	}
	if !strings.Contains(output, "siid=000000001") {
		t.Errorf("Expected output to contain field, got: %s", output)
	}
}

func TestLoggerWithBindsFields(t *testing.T) {
	buf := captureOutput(t, INFO)

	logger := NewLogger("intercept").With("application", "RACF")
	logger.Info("first")
	logger.Info("second", "application", "override")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "application=RACF") {
		t.Errorf("Expected bound field in first line, got: %s", lines[0])
	}
	if !strings.Contains(lines[1], "application=override") {
		t.Errorf("Expected call-site field to win, got: %s", lines[1])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := captureOutput(t, WARN)

	logger := NewLogger("test")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be present")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be present")
	}
	if Enabled(INFO) {
		t.Error("Enabled(INFO) should be false at WARN level")
	}
}

func TestLoggerJSONMode(t *testing.T) {
	buf := captureOutput(t, INFO)
	SetJSONMode(true)

	logger := NewLogger("sink")
	logger.Error("submit failed", "error", errors.New("connection refused"))

	output := buf.String()
	if !strings.Contains(output, `"message":"submit failed"`) {
		t.Errorf("Expected JSON message field, got: %s", output)
	}
	if !strings.Contains(output, `"component":"sink"`) {
		t.Errorf("Expected JSON component field, got: %s", output)
	}
	if !strings.Contains(output, `"error":"connection refused"`) {
		t.Errorf("Expected error rendered as string, got: %s", output)
	}
}

func TestSanitizeFrame(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		limit  int
		expect string
	}{
		{"empty", nil, 10, "[empty]"},
		{"short", []byte("SABC"), 10, "SABC"},
		{"truncated", []byte("SABCDEFsecret"), 7, "SABCDEF[+6 bytes]"},
		{"control bytes", []byte{'a', 0x01, 'b'}, 10, "a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFrame(tt.frame, tt.limit); got != tt.expect {
				t.Errorf("SanitizeFrame() = %q, want %q", got, tt.expect)
			}
		})
	}
}
