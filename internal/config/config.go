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
Package config provides configuration management for smlistener.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (SMLISTENER_* prefix)
3. Configuration file (JSON, or YAML when the file ends in .yaml/.yml)
4. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- Logging: log_level, log_json
- Timing: retry_interval_minutes, error_pause_ms, submit_timeout_ms
- Protocol: header constants shared by every gateway session
- Applications: the endpoint catalogue (gateway address, managed system,
  character set, TLS, credentials, schema)
- Delivery: sink, spool, tap
- Observability: metrics, health

EXAMPLE CONFIGURATION FILE:
===========================

	log_level: info
	retry_interval_minutes: 5
	applications:
	  - name: RACF-PROD
	    cluster: mainframe
	    intercept: true
	    host: gateway.example.com
	    port: 4900
	    mscs_type: RACF
	    mscs_name: RACF1
	    encryption_type: "0"
	    user: admin
	    password: enc:3f9a...
	    account_schema:
	      attributes:
	        - name: USER_ID
	        - name: groups
	          multi: true
	sink:
	  type: redis
	  redis:
	    url: redis://localhost:6379/0

ENVIRONMENT VARIABLES:
======================
Top-level settings can be overridden with the SMLISTENER_ prefix.
Example: SMLISTENER_LOG_LEVEL="debug" SMLISTENER_SINK_TYPE="kafka"
The key that opens enc: passwords is only read from SMLISTENER_SECRET_KEY.
*/
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvLogLevel             = "SMLISTENER_LOG_LEVEL"
	EnvLogJSON              = "SMLISTENER_LOG_JSON"
	EnvRetryIntervalMinutes = "SMLISTENER_RETRY_INTERVAL_MINUTES"
	EnvErrorPauseMS         = "SMLISTENER_ERROR_PAUSE_MS"
	EnvSubmitTimeoutMS      = "SMLISTENER_SUBMIT_TIMEOUT_MS"
	EnvSecretKey            = "SMLISTENER_SECRET_KEY"

	// Delivery
	EnvSinkType     = "SMLISTENER_SINK_TYPE"
	EnvRedisURL     = "SMLISTENER_REDIS_URL"
	EnvKafkaBrokers = "SMLISTENER_KAFKA_BROKERS"
	EnvSpoolEnabled = "SMLISTENER_SPOOL_ENABLED"
	EnvSpoolDir     = "SMLISTENER_SPOOL_DIR"
	EnvTapEnabled   = "SMLISTENER_TAP_ENABLED"
	EnvTapAddr      = "SMLISTENER_TAP_ADDR"

	// Observability
	EnvMetricsEnabled = "SMLISTENER_METRICS_ENABLED"
	EnvMetricsAddr    = "SMLISTENER_METRICS_ADDR"
	EnvHealthEnabled  = "SMLISTENER_HEALTH_ENABLED"
	EnvHealthAddr     = "SMLISTENER_HEALTH_ADDR"
)

// SecretPrefix marks a password sealed with the secret key.
const SecretPrefix = "enc:"

// Sink types.
const (
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Default paths
var DefaultConfigPaths = []string{
	"/etc/smlistener/smlistener.yaml",
	"$HOME/.config/smlistener/smlistener.yaml",
	"./smlistener.yaml",
	"./smlistener.json",
}

// ProtocolConfig holds the header constants every gateway session sends.
type ProtocolConfig struct {
	DataCenterID        string `json:"data_center_id" yaml:"data_center_id"`
	AppID               string `json:"app_id" yaml:"app_id"`
	WorkstationID       string `json:"workstation_id" yaml:"workstation_id"`
	TransactionID       string `json:"transaction_id" yaml:"transaction_id"`
	TransactionIDUTF8   string `json:"transaction_id_utf8" yaml:"transaction_id_utf8"` // Used when the endpoint charset is UTF-8
	ActionID            string `json:"action_id" yaml:"action_id"`
	AddInfoValueLenSize string `json:"addinfo_value_len_size" yaml:"addinfo_value_len_size"`
	PE2Version          string `json:"pe2_version" yaml:"pe2_version"`
}

// TLSConfig holds gateway client TLS options for one application.
type TLSConfig struct {
	Enabled                     bool   `json:"enabled" yaml:"enabled"`
	CAFile                      string `json:"ca_file" yaml:"ca_file"`
	DisableHostnameVerification bool   `json:"disable_hostname_verification" yaml:"disable_hostname_verification"`
	ServerCertSubject           string `json:"server_cert_subject" yaml:"server_cert_subject"` // Expected leaf CN instead of the host name
}

// SchemaAttribute describes one attribute of an account or group schema.
type SchemaAttribute struct {
	Name         string `json:"name" yaml:"name"`
	InternalName string `json:"internal_name" yaml:"internal_name"`
	Multi        bool   `json:"multi" yaml:"multi"`
}

// InternalOrName returns the internal name when set, else the name.
func (a SchemaAttribute) InternalOrName() string {
	if a.InternalName != "" {
		return a.InternalName
	}
	return a.Name
}

// Schema is an ordered attribute list.
type Schema struct {
	Attributes []SchemaAttribute `json:"attributes" yaml:"attributes"`
}

// Application is one entry of the endpoint catalogue.
type Application struct {
	Name      string `json:"name" yaml:"name"`
	Cluster   string `json:"cluster" yaml:"cluster"`
	Intercept bool   `json:"intercept" yaml:"intercept"` // Run an interception worker for this application

	// Gateway
	Host               string    `json:"host" yaml:"host"`
	Port               int       `json:"port" yaml:"port"`
	DialTimeoutSeconds int       `json:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	TLS                TLSConfig `json:"tls" yaml:"tls"`

	// Managed system
	MSCSType                   string `json:"mscs_type" yaml:"mscs_type"`
	MSCSName                   string `json:"mscs_name" yaml:"mscs_name"`
	MSCSAdmin                  string `json:"mscs_admin" yaml:"mscs_admin"`
	EncryptionType             string `json:"encryption_type" yaml:"encryption_type"`
	CharacterSet               string `json:"character_set" yaml:"character_set"`
	DisableOnePhaseAggregation bool   `json:"disable_one_phase_aggregation" yaml:"disable_one_phase_aggregation"`
	User                       string `json:"user" yaml:"user"`
	Password                   string `json:"password" yaml:"password"` // Plain or enc:<hex>

	// Record interpretation
	MultiColumnSeparator string            `json:"multi_column_separator" yaml:"multi_column_separator"`
	UserAdminMap         map[string]string `json:"user_admin_map" yaml:"user_admin_map"`
	AccountSchema        *Schema           `json:"account_schema" yaml:"account_schema"`
	GroupSchema          *Schema           `json:"group_schema" yaml:"group_schema"`
}

// Addr returns host:port of the gateway.
func (a Application) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// DialTimeout returns the connect timeout, 30s when unset.
func (a Application) DialTimeout() time.Duration {
	if a.DialTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.DialTimeoutSeconds) * time.Second
}

// RedisSinkConfig configures the Redis queue sink.
type RedisSinkConfig struct {
	URL           string `json:"url" yaml:"url"`
	EventQueue    string `json:"event_queue" yaml:"event_queue"`
	PasswordQueue string `json:"password_queue" yaml:"password_queue"`
}

// KafkaSinkConfig configures the Kafka topic sink.
type KafkaSinkConfig struct {
	Brokers       []string `json:"brokers" yaml:"brokers"`
	EventTopic    string   `json:"event_topic" yaml:"event_topic"`
	PasswordTopic string   `json:"password_topic" yaml:"password_topic"`
}

// SinkConfig selects where resource events are delivered.
type SinkConfig struct {
	Type  string          `json:"type" yaml:"type"` // log, redis, kafka
	Redis RedisSinkConfig `json:"redis" yaml:"redis"`
	Kafka KafkaSinkConfig `json:"kafka" yaml:"kafka"`
}

// SpoolConfig configures the file spool for undeliverable events.
type SpoolConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Dir         string `json:"dir" yaml:"dir"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size"` // Bytes before rotation
}

// TapConfig configures the WebSocket live event feed.
type TapConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// HealthConfig holds health endpoint configuration.
type HealthConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Config holds the configuration for smlistener.
type Config struct {
	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json"`

	// Timing
	RetryIntervalMinutes int `json:"retry_interval_minutes" yaml:"retry_interval_minutes"`
	ErrorPauseMS         int `json:"error_pause_ms" yaml:"error_pause_ms"`
	SubmitTimeoutMS      int `json:"submit_timeout_ms" yaml:"submit_timeout_ms"`

	Protocol     ProtocolConfig `json:"protocol" yaml:"protocol"`
	Applications []Application  `json:"applications" yaml:"applications"`

	Sink    SinkConfig    `json:"sink" yaml:"sink"`
	Spool   SpoolConfig   `json:"spool" yaml:"spool"`
	Tap     TapConfig     `json:"tap" yaml:"tap"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Health  HealthConfig  `json:"health" yaml:"health"`

	// SecretKey opens enc: passwords. It MUST come from SMLISTENER_SECRET_KEY.
	SecretKey string `json:"-" yaml:"-"`

	// Metadata
	ConfigFile string `json:"-" yaml:"-"`
}

// DefaultConfig returns defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		LogJSON:              false,
		RetryIntervalMinutes: 5,
		ErrorPauseMS:         500,
		SubmitTimeoutMS:      10000,
		Protocol: ProtocolConfig{
			DataCenterID:        "01",
			AppID:               "PE",
			WorkstationID:       "2",
			TransactionID:       "SMIT",
			TransactionIDUTF8:   "SMIU",
			ActionID:            "SI",
			AddInfoValueLenSize: "4",
			PE2Version:          "PE2V0300",
		},
		Sink: SinkConfig{
			Type: SinkLog,
			Redis: RedisSinkConfig{
				URL:           "redis://localhost:6379/0",
				EventQueue:    "smlistener:events",
				PasswordQueue: "smlistener:passwords",
			},
			Kafka: KafkaSinkConfig{
				Brokers:       []string{"localhost:9092"},
				EventTopic:    "smlistener.events",
				PasswordTopic: "smlistener.passwords",
			},
		},
		Spool: SpoolConfig{
			Enabled:     false,
			Dir:         GetDefaultSpoolDir(),
			MaxFileSize: 64 * 1024 * 1024,
		},
		Tap: TapConfig{
			Enabled: false,
			Addr:    ":8089",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    ":9101",
		},
	}
}

// GetDefaultSpoolDir returns the platform-appropriate spool directory.
func GetDefaultSpoolDir() string {
	if os.Getuid() == 0 {
		return "/var/lib/smlistener/spool"
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "smlistener", "spool")
	}
	return "./spool"
}

// RetryInterval returns the reconnect interval.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMinutes) * time.Minute
}

// ErrorPause returns the pause after an unclassified worker error.
func (c *Config) ErrorPause() time.Duration {
	return time.Duration(c.ErrorPauseMS) * time.Millisecond
}

// SubmitTimeout returns the per-event delivery deadline.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutMS) * time.Millisecond
}

// ApplicationsInCluster returns a copy of every application in cluster.
func (c *Config) ApplicationsInCluster(cluster string) []Application {
	var out []Application
	for _, app := range c.Applications {
		if app.Cluster == cluster {
			out = append(out, app)
		}
	}
	return out
}

// InterceptingApplications returns the applications that run a worker.
func (c *Config) InterceptingApplications() []Application {
	var out []Application
	for _, app := range c.Applications {
		if app.Intercept {
			out = append(out, app)
		}
	}
	return out
}

// Manager handles configuration loading.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

var globalManager = &Manager{
	config: DefaultConfig(),
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// NewManager returns a manager holding defaults.
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a JSON or YAML file.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first default path that exists, or "".
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		p = os.ExpandEnv(p)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables.
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = parseBool(v)
	}
	if v := os.Getenv(EnvRetryIntervalMinutes); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryIntervalMinutes = n
		}
	}
	if v := os.Getenv(EnvErrorPauseMS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ErrorPauseMS = n
		}
	}
	if v := os.Getenv(EnvSubmitTimeoutMS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitTimeoutMS = n
		}
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		cfg.SecretKey = v
	}

	// Delivery
	if v := os.Getenv(EnvSinkType); v != "" {
		cfg.Sink.Type = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Sink.Redis.URL = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Sink.Kafka.Brokers = brokers
	}
	if v := os.Getenv(EnvSpoolEnabled); v != "" {
		cfg.Spool.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvSpoolDir); v != "" {
		cfg.Spool.Dir = v
	}
	if v := os.Getenv(EnvTapEnabled); v != "" {
		cfg.Tap.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvTapAddr); v != "" {
		cfg.Tap.Addr = v
	}

	// Observability
	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv(EnvHealthEnabled); v != "" {
		cfg.Health.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvHealthAddr); v != "" {
		cfg.Health.Addr = v
	}

	m.Set(cfg)
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.RetryIntervalMinutes < 1 {
		return fmt.Errorf("retry_interval_minutes must be at least 1")
	}
	if c.ErrorPauseMS < 0 {
		return fmt.Errorf("error_pause_ms must not be negative")
	}
	if c.SubmitTimeoutMS <= 0 {
		return fmt.Errorf("submit_timeout_ms must be positive")
	}

	p := c.Protocol
	if n := len(p.DataCenterID + p.AppID + p.WorkstationID); n != 5 {
		return fmt.Errorf("protocol data_center_id+app_id+workstation_id must be 5 characters, got %d", n)
	}
	if p.TransactionID == "" || p.ActionID == "" {
		return fmt.Errorf("protocol transaction_id and action_id are required")
	}
	if len(p.AddInfoValueLenSize) != 1 {
		return fmt.Errorf("protocol addinfo_value_len_size must be one character")
	}

	if len(c.Applications) == 0 {
		return fmt.Errorf("at least one application is required")
	}
	seen := make(map[string]bool, len(c.Applications))
	needsKey := false
	for i, app := range c.Applications {
		if app.Name == "" {
			return fmt.Errorf("applications[%d]: name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("applications[%d]: duplicate name %q", i, app.Name)
		}
		seen[app.Name] = true

		if app.MSCSType == "" || app.MSCSName == "" {
			return fmt.Errorf("application %s: mscs_type and mscs_name are required", app.Name)
		}
		if !app.Intercept {
			continue
		}
		if app.Host == "" {
			return fmt.Errorf("application %s: host is required when intercept is enabled", app.Name)
		}
		if app.Port <= 0 || app.Port > 65535 {
			return fmt.Errorf("application %s: port %d out of range", app.Name, app.Port)
		}
		if len(app.EncryptionType) != 1 {
			return fmt.Errorf("application %s: encryption_type must be one character", app.Name)
		}
		if strings.HasPrefix(app.Password, SecretPrefix) {
			needsKey = true
		}
	}

	// SECURITY: the secret key must ONLY be provided via environment variable
	if needsKey {
		if c.SecretKey == "" {
			return fmt.Errorf("%s environment variable is required when a password uses the %s prefix.\n"+
				"  Generate a key with: smlistener --generate-key", EnvSecretKey, SecretPrefix)
		}
		if len(c.SecretKey) != 64 {
			return fmt.Errorf("%s must be exactly 64 hex characters (256 bits), got %d characters", EnvSecretKey, len(c.SecretKey))
		}
		for i, ch := range c.SecretKey {
			if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
				return fmt.Errorf("%s contains invalid hex character at position %d", EnvSecretKey, i)
			}
		}
	}

	switch c.Sink.Type {
	case SinkLog:
	case SinkRedis:
		if c.Sink.Redis.URL == "" || c.Sink.Redis.EventQueue == "" {
			return fmt.Errorf("sink.redis url and event_queue are required for the redis sink")
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.EventTopic == "" {
			return fmt.Errorf("sink.kafka brokers and event_topic are required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown sink type %q (use log, redis or kafka)", c.Sink.Type)
	}

	if c.Spool.Enabled && c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir is required when the spool is enabled")
	}
	if c.Tap.Enabled && c.Tap.Addr == "" {
		return fmt.Errorf("tap.addr is required when the tap is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr is required when health is enabled")
	}
	return nil
}
