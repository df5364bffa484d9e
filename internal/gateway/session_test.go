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

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"smlistener/internal/config"
	"smlistener/internal/gateway/gatewaytest"
	"smlistener/internal/protocol"
)

func testOptions(addr string) Options {
	return Options{
		Application:   "RACF-PROD",
		Addr:          addr,
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
		Station:       protocol.Station{DataCenterID: "01", AppID: "AP", WorkstationID: "W", Encryption: "0"},
		Open: protocol.OpenRequest{
			TransactionID:       "SMIT",
			ActionID:            "SI",
			MSCSName:            "RACF1",
			MSCSType:            "RACF",
			MSCSAdmin:           "ADM",
			AddInfoValueLenSize: "4",
			PE2Version:          "PE2V0300",
			AdminUser:           "admin",
			AdminPassword:       "pw",
		},
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Handshaking, "handshaking"},
		{Ready, "ready"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestNewOptions(t *testing.T) {
	proto := config.DefaultConfig().Protocol
	app := config.Application{
		Name:           "RACF-PROD",
		Host:           "mainframe.example.com",
		Port:           5200,
		MSCSType:       "RACF",
		MSCSName:       "RACF1",
		MSCSAdmin:      "ADM",
		EncryptionType: "0",
		CharacterSet:   "utf-8",
		User:           "admin",
	}

	opts, err := NewOptions(app, proto, time.Minute, "secret")
	if err != nil {
		t.Fatalf("NewOptions() error = %v", err)
	}
	if opts.Addr != "mainframe.example.com:5200" {
		t.Errorf("Addr = %s", opts.Addr)
	}
	if opts.Open.TransactionID != proto.TransactionIDUTF8 {
		t.Errorf("TransactionID = %s, want UTF-8 variant %s", opts.Open.TransactionID, proto.TransactionIDUTF8)
	}
	if opts.Open.AdminPassword != "secret" {
		t.Errorf("AdminPassword not carried")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig should be nil when TLS is disabled")
	}

	app.CharacterSet = "IBM037"
	opts, err = NewOptions(app, proto, time.Minute, "secret")
	if err != nil {
		t.Fatalf("NewOptions() error = %v", err)
	}
	if opts.Open.TransactionID != proto.TransactionID {
		t.Errorf("TransactionID = %s, want %s", opts.Open.TransactionID, proto.TransactionID)
	}

	app.TLS = config.TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}
	if _, err := NewOptions(app, proto, time.Minute, "secret"); err == nil {
		t.Error("Expected error for missing CA file")
	}

	app.TLS = config.TLSConfig{}
	app.EncryptionType = "01"
	if _, err := NewOptions(app, proto, time.Minute, "secret"); err == nil {
		t.Error("Expected error for two-character encryption type")
	}
}

func TestEstablishHandshake(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	s := New(testOptions(srv.Addr()))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Establish(ctx); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	srv.WaitReady(2 * time.Second)

	if s.State() != Ready {
		t.Errorf("State() = %s, want ready", s.State())
	}
	siid := s.SIID()
	if len(siid) != protocol.SIIDLength {
		t.Fatalf("SIID() = %q, want %d characters", siid, protocol.SIIDLength)
	}

	open := <-srv.SessionOpens
	if !strings.HasPrefix(string(open), "S"+siid+"00000101APW        T0RS001") {
		t.Errorf("Unexpected session-open header: %q", open)
	}
	if !strings.HasSuffix(string(open), "PE2EX:2005admin002pw") {
		t.Errorf("Session-open header missing credentials block: %q", open)
	}
}

func TestSendReceive(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	s := New(testOptions(srv.Addr()))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Establish(ctx); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	srv.WaitReady(2 * time.Second)

	srv.Send([]byte("SABCDEFGHI000001"))
	got, err := s.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != "SABCDEFGHI000001" {
		t.Errorf("Receive() = %q", got)
	}

	frame, _ := protocol.Frame([]byte("UABCDEFGHI000001CC"))
	if err := s.Send(frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := srv.Next(2 * time.Second); string(got) != "UABCDEFGHI000001CC" {
		t.Errorf("Server received %q", got)
	}
}

func TestReceiveStreamError(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	s := New(testOptions(srv.Addr()))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Establish(ctx); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	srv.WaitReady(2 * time.Second)
	srv.Drop()

	_, err := s.Receive()
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Receive() error = %v, want *StreamError", err)
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, net.ErrClosed) {
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			t.Errorf("Unexpected underlying error: %v", err)
		}
	}
}

func TestSendWithoutConnection(t *testing.T) {
	s := New(testOptions("127.0.0.1:1"))

	var streamErr *StreamError
	if err := s.Send([]byte("x")); !errors.As(err, &streamErr) || !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want StreamError wrapping ErrNotConnected", err)
	}
	if _, err := s.Receive(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Receive() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectRetries(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	opts := testOptions(srv.Addr())

	var attempts atomic.Int32
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	s := New(opts)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Dial attempts = %d, want 3", got)
	}
}

func TestConnectCancelled(t *testing.T) {
	opts := testOptions("127.0.0.1:1")
	opts.RetryInterval = time.Hour
	opts.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	s := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() did not return after cancellation")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
}

func TestCancelUnblocksReceive(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	s := New(testOptions(srv.Addr()))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Establish(ctx); err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	srv.WaitReady(2 * time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := s.Receive()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		var streamErr *StreamError
		if !errors.As(err, &streamErr) {
			t.Errorf("Receive() error = %v, want *StreamError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() still blocked after cancellation")
	}
}

func TestHandshakeRejected(t *testing.T) {
	srv := gatewaytest.NewServer(t, "0")
	srv.RejectHandshakes(true)
	s := New(testOptions(srv.Addr()))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err := s.Handshake(ctx)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Handshake() error = %v, want ErrConnect", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleep() error = %v, want context.Canceled", err)
	}
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep() error = %v", err)
	}
}
