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
Package health provides liveness and readiness endpoints.

ENDPOINTS:
==========

	GET /health        Aggregated status of every registered check (JSON)
	GET /health/live   200 while the process is running
	GET /health/ready  200 when no check is unhealthy, 503 otherwise

STATUS AGGREGATION:
===================
The overall status is the worst status of any check: unhealthy beats
degraded beats healthy. A gateway that is reconnecting reports degraded so
the listener stays ready while it retries.
*/
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"smlistener/internal/config"
	"smlistener/internal/logging"
)

// Status is the result of a health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc runs one check.
type CheckFunc func() CheckResult

// Response is the body of GET /health.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker holds the registered checks.
type Checker struct {
	mu      sync.RWMutex
	version string
	started time.Time
	checks  map[string]CheckFunc
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}
}

// RegisterCheck adds or replaces a named check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// RunChecks runs every check and aggregates the result.
func (c *Checker) RunChecks() Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	for _, name := range names {
		result := checks[name]()
		resp.Checks[name] = result
		if result.Status.rank() > resp.Status.rank() {
			resp.Status = result.Status
		}
	}
	return resp
}

// IsHealthy reports whether no check is unhealthy.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status != StatusUnhealthy
}

// GatewayCheck reports degraded while a gateway session is not ready.
func GatewayCheck(connected func() bool) CheckFunc {
	return func() CheckResult {
		if connected() {
			return CheckResult{Status: StatusHealthy}
		}
		return CheckResult{Status: StatusDegraded, Message: "gateway session not ready"}
	}
}

// SpoolCheck reports degraded when more than threshold events are waiting
// for replay and unhealthy when the spool cannot be read.
func SpoolCheck(threshold int, backlog func() (int, error)) CheckFunc {
	return func() CheckResult {
		n, err := backlog()
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		if n > threshold {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%d events spooled", n)}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// Server serves the health endpoints.
type Server struct {
	config  *config.HealthConfig
	checker *Checker
	server  *http.Server
	logger  *logging.Logger
}

// NewServer creates a health server.
func NewServer(cfg *config.HealthConfig, checker *Checker) *Server {
	return &Server{
		config:  cfg,
		checker: checker,
		logger:  logging.NewLogger("health"),
	}
}

// Handler returns the health mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	return mux
}

// Start starts the health HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Health server disabled")
		return nil
	}

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting health server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server error", "error", err)
		}
	}()
	return nil
}

// Stop stops the health HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := s.checker.RunChecks()
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CheckResult{Status: StatusHealthy})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.checker.IsHealthy() {
		writeJSON(w, http.StatusOK, CheckResult{Status: StatusHealthy})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, CheckResult{Status: StatusUnhealthy})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
