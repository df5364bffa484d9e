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

// Package tap streams resource events to WebSocket clients as they are
// emitted.
//
// Clients connect to /events and receive one JSON message per event:
//
//	{
//	  "command": "event",
//	  "data": { ... resource event ... }
//	}
//
// Password notifications are pushed with command "password" and the password
// redacted. The optional query parameter "application" restricts the feed to
// one application.
//
// The tap never blocks the dispatcher: a client whose send buffer is full is
// disconnected.
package tap

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"smlistener/internal/config"
	"smlistener/internal/event"
	"smlistener/internal/logging"
)

const (
	// DefaultReadBufferSize is the default size of the read buffer
	DefaultReadBufferSize = 1024
	// DefaultWriteBufferSize is the default size of the write buffer
	DefaultWriteBufferSize = 4096
	// DefaultPingInterval is the interval for sending ping frames
	DefaultPingInterval = 30 * time.Second
	// DefaultPongTimeout is the timeout for receiving pong responses
	DefaultPongTimeout = 10 * time.Second
	// DefaultWriteTimeout is the timeout for write operations
	DefaultWriteTimeout = 10 * time.Second
	// DefaultSendBuffer is the number of messages queued per client
	DefaultSendBuffer = 256
)

// Push commands.
const (
	CommandEvent    = "event"
	CommandPassword = "password"
)

// PushMessage is a message pushed to every subscriber.
type PushMessage struct {
	Command string      `json:"command"`
	Data    interface{} `json:"data"`
}

// client is one WebSocket subscriber.
type client struct {
	conn        *websocket.Conn
	application string
	send        chan PushMessage
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(DefaultPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes control frames until the peer goes away.
func (c *client) readLoop() {
	defer c.close()
	c.conn.SetReadDeadline(time.Now().Add(DefaultPingInterval + DefaultPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(DefaultPingInterval + DefaultPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Tap is an event sink that broadcasts to WebSocket clients.
type Tap struct {
	config   *config.TapConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a tap. Start serves it on cfg.Addr; Handler serves it on an
// existing mux.
func New(cfg *config.TapConfig) *Tap {
	return &Tap{
		config: cfg,
		logger: logging.NewLogger("tap"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  DefaultReadBufferSize,
			WriteBufferSize: DefaultWriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler of the feed.
func (t *Tap) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", t.handleWebSocket)
	return mux
}

// Start starts the tap HTTP server.
func (t *Tap) Start() error {
	if !t.config.Enabled {
		t.logger.Info("Event tap disabled")
		return nil
	}

	t.server = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.logger.Info("Event tap listening", "addr", t.config.Addr)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Event tap server failed", "error", err)
		}
	}()
	return nil
}

func (t *Tap) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}

	c := &client{
		conn:        conn,
		application: r.URL.Query().Get("application"),
		send:        make(chan PushMessage, DefaultSendBuffer),
		done:        make(chan struct{}),
	}
	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()
	t.logger.Info("Tap client connected", "remote", conn.RemoteAddr().String(), "application", c.application)

	go c.writeLoop()
	c.readLoop()

	t.mu.Lock()
	delete(t.clients, c)
	t.mu.Unlock()
	t.logger.Info("Tap client disconnected", "remote", conn.RemoteAddr().String())
}

// Clients returns the number of connected clients.
func (t *Tap) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

func (t *Tap) broadcast(application string, msg PushMessage) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for c := range t.clients {
		if c.application != "" && c.application != application {
			continue
		}
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			t.logger.Warn("Dropping slow tap client", "remote", c.conn.RemoteAddr().String())
			go c.close()
		}
	}
}

// Submit implements the event sink contract.
func (t *Tap) Submit(_ context.Context, ev *event.ResourceEvent) error {
	t.broadcast(ev.Application.Application, PushMessage{Command: CommandEvent, Data: ev})
	return nil
}

// NotifyPasswordChange implements the password notifier contract. Only the
// redacted change is broadcast.
func (t *Tap) NotifyPasswordChange(_ context.Context, change event.PasswordChange) error {
	t.broadcast(change.Application.Application, PushMessage{Command: CommandPassword, Data: change.Redacted()})
	return nil
}

// Close stops the server and disconnects every client.
func (t *Tap) Close() error {
	var err error
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = t.server.Shutdown(ctx)
	}
	t.mu.RLock()
	for c := range t.clients {
		c.close()
	}
	t.mu.RUnlock()
	return err
}
