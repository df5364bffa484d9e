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
Package metrics provides Prometheus-compatible metrics for the listener.

METRIC CATEGORIES:
==================
- Protocol: record starts, completion frames, keep-alives, confirmations
- Delivery: events, password changes, sink failures, spooled events
- Sessions: connected gateways, reconnects, protocol errors
- Latency: sink submit latency

Every counter is kept per application and exposed with an application label.

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format.

EXAMPLE METRICS:
================

	smlistener_records_total{application="RACF-PROD"} 1204
	smlistener_keepalives_total{application="RACF-PROD"} 88
	smlistener_gateway_connected{application="RACF-PROD"} 1
	smlistener_submit_latency_avg_microseconds 312.50
*/
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"smlistener/internal/config"
	"smlistener/internal/logging"
)

// Metrics holds all listener metrics.
type Metrics struct {
	// Latency metrics (in microseconds)
	SubmitLatencySum   atomic.Uint64
	SubmitLatencyCount atomic.Uint64

	// Per-application metrics
	applications sync.Map // application -> *ApplicationMetrics
}

// ApplicationMetrics holds the counters of one intercepting application.
type ApplicationMetrics struct {
	RecordStarts        atomic.Uint64
	Records             atomic.Uint64
	KeepAlives          atomic.Uint64
	ChunkConfirmations  atomic.Uint64
	RecordConfirmations atomic.Uint64
	Events              atomic.Uint64
	PasswordChanges     atomic.Uint64
	Skipped             atomic.Uint64
	ProtocolErrors      atomic.Uint64
	SinkFailures        atomic.Uint64
	Spooled             atomic.Uint64
	Reconnects          atomic.Uint64
	Connected           atomic.Bool
}

// Global metrics instance
var globalMetrics = &Metrics{}

// Get returns the global metrics instance.
func Get() *Metrics {
	return globalMetrics
}

// Application returns the metrics for an application, creating them on first use.
func (m *Metrics) Application(name string) *ApplicationMetrics {
	if am, ok := m.applications.Load(name); ok {
		return am.(*ApplicationMetrics)
	}
	am := &ApplicationMetrics{}
	actual, _ := m.applications.LoadOrStore(name, am)
	return actual.(*ApplicationMetrics)
}

// RecordSubmit records the latency of one sink submission.
func (m *Metrics) RecordSubmit(latency time.Duration) {
	m.SubmitLatencySum.Add(uint64(latency.Microseconds()))
	m.SubmitLatencyCount.Add(1)
}

// AverageSubmitLatency returns the average submit latency in microseconds.
func (m *Metrics) AverageSubmitLatency() float64 {
	count := m.SubmitLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.SubmitLatencySum.Load()) / float64(count)
}

// applicationNames returns the known application names in order.
func (m *Metrics) applicationNames() []string {
	var names []string
	m.applications.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config  *config.MetricsConfig
	metrics *Metrics
	server  *http.Server
	logger  *logging.Logger
}

// NewServer creates a new metrics server for the global metrics.
func NewServer(cfg *config.MetricsConfig) *Server {
	return &Server{
		config:  cfg,
		metrics: Get(),
		logger:  logging.NewLogger("metrics"),
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}

type counter struct {
	name string
	help string
	kind string
	load func(*ApplicationMetrics) uint64
}

var applicationCounters = []counter{
	{"smlistener_record_starts_total", "Record-start frames received", "counter", func(a *ApplicationMetrics) uint64 { return a.RecordStarts.Load() }},
	{"smlistener_records_total", "Completion frames received", "counter", func(a *ApplicationMetrics) uint64 { return a.Records.Load() }},
	{"smlistener_keepalives_total", "Keep-alive frames received", "counter", func(a *ApplicationMetrics) uint64 { return a.KeepAlives.Load() }},
	{"smlistener_chunk_confirmations_total", "Chunk confirmations sent", "counter", func(a *ApplicationMetrics) uint64 { return a.ChunkConfirmations.Load() }},
	{"smlistener_record_confirmations_total", "Record confirmations sent", "counter", func(a *ApplicationMetrics) uint64 { return a.RecordConfirmations.Load() }},
	{"smlistener_events_total", "Resource events delivered", "counter", func(a *ApplicationMetrics) uint64 { return a.Events.Load() }},
	{"smlistener_password_changes_total", "Password changes delivered", "counter", func(a *ApplicationMetrics) uint64 { return a.PasswordChanges.Load() }},
	{"smlistener_skipped_total", "Frames skipped without dispatch", "counter", func(a *ApplicationMetrics) uint64 { return a.Skipped.Load() }},
	{"smlistener_protocol_errors_total", "Malformed frames", "counter", func(a *ApplicationMetrics) uint64 { return a.ProtocolErrors.Load() }},
	{"smlistener_sink_failures_total", "Failed sink submissions", "counter", func(a *ApplicationMetrics) uint64 { return a.SinkFailures.Load() }},
	{"smlistener_spooled_total", "Events written to the spool", "counter", func(a *ApplicationMetrics) uint64 { return a.Spooled.Load() }},
	{"smlistener_reconnects_total", "Gateway reconnects", "counter", func(a *ApplicationMetrics) uint64 { return a.Reconnects.Load() }},
	{"smlistener_gateway_connected", "Whether the gateway session is ready", "gauge", func(a *ApplicationMetrics) uint64 {
		if a.Connected.Load() {
			return 1
		}
		return 0
	}},
}

// handleMetrics handles the /metrics endpoint in Prometheus format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	names := m.applicationNames()
	for _, c := range applicationCounters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", c.name, c.kind)
		for _, name := range names {
			fmt.Fprintf(w, "%s{application=%q} %d\n", c.name, name, c.load(m.Application(name)))
		}
	}

	// Latency metrics
	fmt.Fprintf(w, "# HELP smlistener_submit_latency_avg_microseconds Average sink submit latency\n")
	fmt.Fprintf(w, "# TYPE smlistener_submit_latency_avg_microseconds gauge\n")
	fmt.Fprintf(w, "smlistener_submit_latency_avg_microseconds %.2f\n", m.AverageSubmitLatency())
}
