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

package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"smlistener/internal/config"
)

func TestNewChecker(t *testing.T) {
	checker := NewChecker("1.0.0")
	if checker == nil {
		t.Fatal("Expected non-nil checker")
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("test", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	response := checker.RunChecks()
	if len(response.Checks) != 1 {
		t.Errorf("Expected 1 check, got %d", len(response.Checks))
	}
}

func TestRunChecksAllHealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("check1", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("check2", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	response := checker.RunChecks()
	if response.Status != StatusHealthy {
		t.Errorf("Expected status healthy, got %s", response.Status)
	}
}

func TestRunChecksWithUnhealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("healthy", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("unhealthy", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "service down"}
	})

	response := checker.RunChecks()
	if response.Status != StatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", response.Status)
	}
}

func TestRunChecksWithDegraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("healthy", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("degraded", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "high latency"}
	})

	response := checker.RunChecks()
	if response.Status != StatusDegraded {
		t.Errorf("Expected status degraded, got %s", response.Status)
	}
}

func TestIsHealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("check", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	if !checker.IsHealthy() {
		t.Error("Expected IsHealthy to return true")
	}

	checker.RegisterCheck("bad", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})

	if checker.IsHealthy() {
		t.Error("Expected IsHealthy to return false")
	}
}

func TestGatewayCheck(t *testing.T) {
	check := GatewayCheck(func() bool { return true })
	if result := check(); result.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}

	check = GatewayCheck(func() bool { return false })
	if result := check(); result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}
}

func TestSpoolCheck(t *testing.T) {
	tests := []struct {
		name    string
		backlog int
		err     error
		want    Status
	}{
		{"empty", 0, nil, StatusHealthy},
		{"at threshold", 10, nil, StatusHealthy},
		{"over threshold", 11, nil, StatusDegraded},
		{"unreadable", 0, errors.New("permission denied"), StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := SpoolCheck(10, func() (int, error) { return tt.backlog, tt.err })
			if got := check().Status; got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	checker := NewChecker("1.0.0")
	var connected atomic.Bool
	checker.RegisterCheck("gateway", GatewayCheck(connected.Load))
	srv := NewServer(&config.HealthConfig{}, checker)
	h := srv.Handler()

	get := func(path string) (*httptest.ResponseRecorder, Response) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var resp Response
		json.Unmarshal(rec.Body.Bytes(), &resp)
		return rec, resp
	}

	rec, resp := get("/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 while degraded, got %d", rec.Code)
	}
	if resp.Status != StatusDegraded || resp.Version != "1.0.0" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	connected.Store(true)
	if _, resp = get("/health"); resp.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}

	checker.RegisterCheck("spool", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "disk full"}
	})
	if rec, _ = get("/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 from ready, got %d", rec.Code)
	}
	if rec, _ = get("/health/live"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from live, got %d", rec.Code)
	}
}

func TestServerDisabled(t *testing.T) {
	srv := NewServer(&config.HealthConfig{Enabled: false}, NewChecker("1.0.0"))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
