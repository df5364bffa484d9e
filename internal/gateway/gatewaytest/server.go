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

// Package gatewaytest provides a loopback connector gateway for tests.
package gatewaytest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smlistener/internal/protocol"
)

// Server accepts one session at a time, answers the handshake and records
// every frame the client sends afterwards.
type Server struct {
	t          testing.TB
	ln         net.Listener
	encryption string

	// SessionOpens receives the RS001 header of every handshake.
	SessionOpens chan []byte
	// Received carries frames sent by the client after the handshake.
	Received chan []byte
	// Ready is signalled once per completed handshake.
	Ready chan struct{}

	reject atomic.Bool

	mu   sync.Mutex
	conn net.Conn
	wg   sync.WaitGroup
}

// NewServer starts a gateway on a loopback port. It is closed on test cleanup.
func NewServer(t testing.TB, encryption string) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	s := &Server{
		t:            t,
		ln:           ln,
		encryption:   encryption,
		SessionOpens: make(chan []byte, 16),
		Received:     make(chan []byte, 256),
		Ready:        make(chan struct{}, 16),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// RejectHandshakes makes the server close connections instead of
// acknowledging RS001.
func (s *Server) RejectHandshakes(reject bool) { s.reject.Store(reject) }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// HostPort splits Addr.
func (s *Server) HostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)

	open, err := protocol.ReadFrame(r)
	if err != nil {
		return
	}
	s.SessionOpens <- open
	if s.reject.Load() {
		return
	}
	siid := string(open[protocol.SIIDOffset : protocol.SIIDOffset+protocol.SIIDLength])

	// A stray heartbeat before the acknowledgement must be skipped.
	if err := protocol.WriteFrame(conn, []byte(protocol.KeepAliveMarker)); err != nil {
		return
	}
	if err := protocol.WriteFrame(conn, s.reply(siid, protocol.CodeConfirm)); err != nil {
		return
	}
	if _, err := protocol.ReadFrame(r); err != nil {
		return
	}
	if err := protocol.WriteFrame(conn, s.reply(siid, protocol.CodeInitVector)); err != nil {
		return
	}
	if _, err := protocol.ReadFrame(r); err != nil {
		return
	}
	s.Ready <- struct{}{}

	for {
		frame, err := protocol.ReadFrame(r)
		if err != nil {
			return
		}
		s.Received <- frame
	}
}

func (s *Server) reply(siid, code string) []byte {
	return []byte("S" + siid + "000001" + "01APW" + strings.Repeat(" ", 8) + "T" + s.encryption + code)
}

// Send frames header and writes it to the current connection.
func (s *Server) Send(header []byte) {
	s.t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatal("gatewaytest: no client connected")
	}
	if err := protocol.WriteFrame(conn, header); err != nil {
		s.t.Errorf("gatewaytest: send failed: %v", err)
	}
}

// Drop closes the current connection.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// WaitReady blocks until a handshake completes.
func (s *Server) WaitReady(timeout time.Duration) {
	s.t.Helper()
	select {
	case <-s.Ready:
	case <-time.After(timeout):
		s.t.Fatal("gatewaytest: timed out waiting for handshake")
	}
}

// Next returns the next frame sent by the client.
func (s *Server) Next(timeout time.Duration) []byte {
	s.t.Helper()
	select {
	case frame := <-s.Received:
		return frame
	case <-time.After(timeout):
		s.t.Fatal("gatewaytest: timed out waiting for frame")
		return nil
	}
}

// Close stops the listener and the open connection.
func (s *Server) Close() {
	s.ln.Close()
	s.Drop()
	s.wg.Wait()
}
