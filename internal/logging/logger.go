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
Package logging provides structured logging for the interception listener.

Every logger belongs to a component ("gateway", "intercept", "sink", ...) and
may carry bound fields such as the application name, so that all lines written
by one interception worker can be correlated:

	log := logging.NewLogger("intercept").With("application", "RACF-PROD")
	log.Info("Received interception", "siid", siid)

Output is either colored text for humans or one JSON object per line.
*/
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for frame-level tracing.
	DEBUG Level = iota
	// INFO level for lifecycle and interception events.
	INFO
	// WARN level for skipped or suspicious input.
	WARN
	// ERROR level for connection and delivery failures.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name case-insensitively. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Entry represents a single log entry with all its metadata.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Config holds logger configuration options.
type Config struct {
	Level    Level
	Output   io.Writer
	JSONMode bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:    INFO,
		Output:   os.Stdout,
		JSONMode: false,
	}
}

var (
	globalConfig = DefaultConfig()
	globalMu     sync.RWMutex
	writeMu      sync.Mutex
)

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.Level = level
}

// SetGlobalOutput sets the global log output.
func SetGlobalOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.Output = w
}

// SetJSONMode enables or disables JSON output mode.
func SetJSONMode(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig.JSONMode = enabled
}

// Enabled reports whether messages at level would be written.
func Enabled(level Level) bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return level >= globalConfig.Level
}

// Logger provides structured logging capabilities for one component.
type Logger struct {
	component string
	bound     []interface{}
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	bound := make([]interface{}, 0, len(l.bound)+len(args))
	bound = append(bound, l.bound...)
	bound = append(bound, args...)
	return &Logger{component: l.component, bound: bound}
}

// Component returns the component name of the logger.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	minLevel := globalConfig.Level
	output := globalConfig.Output
	jsonMode := globalConfig.JSONMode
	globalMu.RUnlock()

	if level < minLevel {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    collectFields(l.bound, args),
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	if jsonMode {
		writeJSON(output, entry)
	} else {
		writeText(output, entry)
	}
}

// collectFields turns alternating key/value arguments into a field map.
// Later keys override earlier ones, so call-site fields win over bound fields.
func collectFields(bound, args []interface{}) map[string]interface{} {
	if len(bound) == 0 && len(args) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, (len(bound)+len(args))/2+1)
	for _, kv := range [][]interface{}{bound, args} {
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				key = fmt.Sprintf("arg%d", i)
			}
			fields[key] = fieldValue(kv[i+1])
		}
		if len(kv)%2 != 0 {
			fields["extra"] = fieldValue(kv[len(kv)-1])
		}
	}
	return fields
}

// fieldValue renders errors as their message; encoding/json drops them otherwise.
func fieldValue(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}

func writeJSON(w io.Writer, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(w, "ERROR: failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

// writeText writes the entry as:
// 2006-01-02T15:04:05.000Z [LEVEL] [component] message key=value ...
func writeText(w io.Writer, entry Entry) {
	var levelColor string
	switch entry.Level {
	case "DEBUG":
		levelColor = "\033[36m"
	case "INFO":
		levelColor = "\033[32m"
	case "WARN":
		levelColor = "\033[33m"
	case "ERROR":
		levelColor = "\033[31m"
	default:
		levelColor = "\033[0m"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s[%-5s]\033[0m [%s] %s",
		entry.Timestamp.Format("2006-01-02T15:04:05.000Z"), levelColor, entry.Level, entry.Component, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	fmt.Fprintln(w, b.String())
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}
