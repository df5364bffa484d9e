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

package tap

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"smlistener/internal/config"
	"smlistener/internal/event"
	"smlistener/internal/registry"
)

type received struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, tap *Tap, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tap.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, have %d", n, tap.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func testEvent(app string) *event.ResourceEvent {
	return &event.ResourceEvent{
		ID:          "evt-" + app,
		Application: registry.Reference{Application: app},
		SIID:        "000000001",
		Code:        "AA",
		Operation:   "AccountAdd",
		Account: &event.AccountRequest{
			Application:    app,
			Operation:      event.Create,
			NativeIdentity: "jdoe",
		},
	}
}

func TestBroadcastEvent(t *testing.T) {
	tap := New(&config.TapConfig{})
	server := httptest.NewServer(tap.Handler())
	defer server.Close()
	defer tap.Close()

	conn := dial(t, server, "")
	waitForClients(t, tap, 1)

	if err := tap.Submit(context.Background(), testEvent("RACF-PROD")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Command != CommandEvent {
		t.Errorf("Command = %s, want %s", msg.Command, CommandEvent)
	}
	var ev event.ResourceEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if ev.ID != "evt-RACF-PROD" || ev.Account == nil || ev.Account.NativeIdentity != "jdoe" {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestPasswordChangeRedacted(t *testing.T) {
	tap := New(&config.TapConfig{})
	server := httptest.NewServer(tap.Handler())
	defer server.Close()
	defer tap.Close()

	conn := dial(t, server, "")
	waitForClients(t, tap, 1)

	change := event.PasswordChange{
		ID:          "pwd-1",
		Application: registry.Reference{Application: "RACF-PROD"},
		UserID:      "jdoe",
		Password:    "NEWPASS",
	}
	if err := tap.NotifyPasswordChange(context.Background(), change); err != nil {
		t.Fatalf("NotifyPasswordChange() error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Command != CommandPassword {
		t.Errorf("Command = %s, want %s", msg.Command, CommandPassword)
	}
	if strings.Contains(string(msg.Data), "NEWPASS") {
		t.Errorf("Password leaked to tap: %s", msg.Data)
	}
	if !strings.Contains(string(msg.Data), "jdoe") {
		t.Errorf("Expected user id in payload: %s", msg.Data)
	}
}

func TestApplicationFilter(t *testing.T) {
	tap := New(&config.TapConfig{})
	server := httptest.NewServer(tap.Handler())
	defer server.Close()
	defer tap.Close()

	racf := dial(t, server, "?application=RACF-PROD")
	all := dial(t, server, "")
	waitForClients(t, tap, 2)

	tap.Submit(context.Background(), testEvent("ACF2-TEST"))
	tap.Submit(context.Background(), testEvent("RACF-PROD"))

	var ev event.ResourceEvent
	msg := readMessage(t, racf)
	json.Unmarshal(msg.Data, &ev)
	if ev.ID != "evt-RACF-PROD" {
		t.Errorf("Filtered client received %s, want evt-RACF-PROD", ev.ID)
	}

	first := readMessage(t, all)
	second := readMessage(t, all)
	var a, b event.ResourceEvent
	json.Unmarshal(first.Data, &a)
	json.Unmarshal(second.Data, &b)
	if a.ID != "evt-ACF2-TEST" || b.ID != "evt-RACF-PROD" {
		t.Errorf("Unfiltered client received %s, %s", a.ID, b.ID)
	}
}

func TestClientDisconnect(t *testing.T) {
	tap := New(&config.TapConfig{})
	server := httptest.NewServer(tap.Handler())
	defer server.Close()
	defer tap.Close()

	conn := dial(t, server, "")
	waitForClients(t, tap, 1)
	conn.Close()
	waitForClients(t, tap, 0)

	if err := tap.Submit(context.Background(), testEvent("RACF-PROD")); err != nil {
		t.Errorf("Submit() without clients error = %v", err)
	}
}

func TestStartDisabled(t *testing.T) {
	tap := New(&config.TapConfig{Enabled: false})
	if err := tap.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
