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
Package gateway manages the byte stream to a mainframe connector gateway.

SESSION LIFECYCLE:
==================

	Disconnected -> Connecting -> Handshaking -> Ready
	      ^                                        |
	      +--------------- stream error -----------+

Connect dials until it succeeds, sleeping the retry interval between
attempts. Handshake runs the three-step exchange:

 1. RS001 session-open frame; the gateway replies with T<enc>CC.
 2. IV frame; the gateway replies with T<enc>IV.
 3. FF frame; no reply.

Frames received while waiting for a reply are discarded. After the handshake
the gateway pushes interceptions until the stream breaks.

CANCELLATION:
=============
Cancelling the context passed to Connect closes the socket, which unblocks a
pending Receive, and interrupts retry sleeps.
*/
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"smlistener/internal/config"
	"smlistener/internal/crypto"
	"smlistener/internal/logging"
	"smlistener/internal/protocol"
)

// State of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

var (
	// ErrConnect wraps dial and handshake failures.
	ErrConnect = errors.New("gateway: connect failed")

	// ErrNotConnected is returned by Send and Receive without a connection.
	ErrNotConnected = errors.New("gateway: not connected")
)

// StreamError is an I/O failure on an established stream. The caller
// reconnects and handshakes again.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// DialFunc opens the raw connection. TLS, when configured, is layered on top.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configure a session.
type Options struct {
	Application   string
	Addr          string
	DialTimeout   time.Duration
	RetryInterval time.Duration
	TLSConfig     *tls.Config
	Station       protocol.Station
	Open          protocol.OpenRequest

	// Dial replaces net.Dialer; used by tests.
	Dial DialFunc
}

// NewOptions derives session options from an application entry. password
// must already be opened.
func NewOptions(app config.Application, proto config.ProtocolConfig, retryInterval time.Duration, password string) (Options, error) {
	opts := Options{
		Application:   app.Name,
		Addr:          app.Addr(),
		DialTimeout:   app.DialTimeout(),
		RetryInterval: retryInterval,
		Station: protocol.Station{
			DataCenterID:  proto.DataCenterID,
			AppID:         proto.AppID,
			WorkstationID: proto.WorkstationID,
			Encryption:    app.EncryptionType,
		},
		Open: protocol.OpenRequest{
			TransactionID:              proto.TransactionID,
			ActionID:                   proto.ActionID,
			MSCSName:                   app.MSCSName,
			MSCSType:                   app.MSCSType,
			MSCSAdmin:                  app.MSCSAdmin,
			AddInfoValueLenSize:        proto.AddInfoValueLenSize,
			PE2Version:                 proto.PE2Version,
			DisableOnePhaseAggregation: app.DisableOnePhaseAggregation,
			AdminUser:                  app.User,
			AdminPassword:              password,
		},
	}
	if strings.EqualFold(strings.TrimSpace(app.CharacterSet), "UTF-8") {
		opts.Open.TransactionID = proto.TransactionIDUTF8
	}
	if err := opts.Station.Validate(); err != nil {
		return Options{}, err
	}

	if app.TLS.Enabled {
		tlsConfig, err := crypto.NewClientTLSConfig(crypto.TLSConfig{
			CAFile:                      app.TLS.CAFile,
			ServerName:                  app.Host,
			DisableHostnameVerification: app.TLS.DisableHostnameVerification,
			ExpectedSubject:             app.TLS.ServerCertSubject,
		})
		if err != nil {
			return Options{}, fmt.Errorf("application %s: %w", app.Name, err)
		}
		opts.TLSConfig = tlsConfig
	}
	return opts, nil
}

// Session is one gateway connection. Send, Receive and the lifecycle methods
// are meant for a single worker goroutine; Close and State are safe from any.
type Session struct {
	opts     Options
	logger   *logging.Logger
	sessions *logging.SessionLogger
	state    atomic.Int32

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	siid        string
	connectedAt time.Time
	stopWatch   func() bool
}

// New creates a disconnected session.
func New(opts Options) *Session {
	logger := logging.NewLogger("gateway").With("application", opts.Application, "addr", opts.Addr)
	return &Session{
		opts:     opts,
		logger:   logger,
		sessions: logging.NewSessionLogger(logger),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// SIID returns the transaction id of the last handshake.
func (s *Session) SIID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siid
}

// Station returns the header ids used by this session.
func (s *Session) Station() protocol.Station { return s.opts.Station }

// Connect dials the gateway, retrying every RetryInterval until it succeeds
// or ctx is done. The only error it returns is ctx.Err().
func (s *Session) Connect(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.state.Store(int32(Connecting))
		err := s.dial(ctx)
		if err == nil {
			return nil
		}
		s.state.Store(int32(Disconnected))
		s.logger.Error("Connector gateway not available",
			"error", err, "retry_after", s.opts.RetryInterval.String())
		if err := sleep(ctx, s.opts.RetryInterval); err != nil {
			return err
		}
	}
}

func (s *Session) dial(ctx context.Context) error {
	dial := s.opts.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: s.opts.DialTimeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.opts.Addr, err)
	}
	if s.opts.TLSConfig != nil {
		tlsConn := tls.Client(conn, s.opts.TLSConfig)
		hsCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: %s: tls: %w", ErrConnect, s.opts.Addr, err)
		}
		conn = tlsConn
	}

	s.mu.Lock()
	s.closeLocked()
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.connectedAt = time.Now()
	s.stopWatch = context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn == conn {
			s.closeLocked()
		}
	})
	s.mu.Unlock()

	s.sessions.LogConnected(conn, s.opts.TLSConfig != nil)
	return nil
}

// Handshake runs the three-step session exchange on the current connection.
// Failures wrap ErrConnect.
func (s *Session) Handshake(ctx context.Context) error {
	s.state.Store(int32(Handshaking))
	siid := protocol.NewSIID()
	s.logger.Info("Starting interception handshake", "siid", siid)

	if err := s.handshake(ctx, siid); err != nil {
		s.state.Store(int32(Disconnected))
		s.logger.Error("Interception handshake failed", "siid", siid, "error", err)
		return fmt.Errorf("%w: handshake: %w", ErrConnect, err)
	}

	s.mu.Lock()
	s.siid = siid
	s.mu.Unlock()
	s.state.Store(int32(Ready))
	s.logger.Info("Completed interception handshake", "siid", siid)
	return nil
}

func (s *Session) handshake(ctx context.Context, siid string) error {
	open, err := protocol.SessionOpen(s.opts.Station, siid, s.opts.Open)
	if err != nil {
		return err
	}
	if err := s.Send(open); err != nil {
		return err
	}
	if err := s.awaitReply(ctx, s.opts.Station.ConfirmAck()); err != nil {
		return err
	}
	s.sessions.LogHandshake(protocol.CodeConfirm, siid)

	iv, err := protocol.InitVector(s.opts.Station, siid)
	if err != nil {
		return err
	}
	if err := s.Send(iv); err != nil {
		return err
	}
	if err := s.awaitReply(ctx, s.opts.Station.InitVectorAck()); err != nil {
		return err
	}
	s.sessions.LogHandshake(protocol.CodeInitVector, siid)

	ff, err := protocol.Finish(s.opts.Station, siid)
	if err != nil {
		return err
	}
	if err := s.Send(ff); err != nil {
		return err
	}
	s.sessions.LogHandshake(protocol.CodeFinish, siid)
	return nil
}

// awaitReply receives until a frame contains want, discarding the rest.
func (s *Session) awaitReply(ctx context.Context, want string) error {
	marker := []byte(want)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := s.Receive()
		if err != nil {
			return err
		}
		if bytes.Contains(frame, marker) {
			return nil
		}
		s.logger.Debug("Discarding frame while waiting for handshake reply",
			"want", want, "frame", logging.SanitizeFrame(frame, protocol.MinHeaderLength))
	}
}

// Establish connects and handshakes, retrying both until the session is
// ready or ctx is done.
func (s *Session) Establish(ctx context.Context) error {
	for {
		if err := s.Connect(ctx); err != nil {
			return err
		}
		if err := s.Handshake(ctx); err == nil {
			return nil
		}
		s.closeConn("handshake failed")
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Error("Retrying connection to connector gateway", "retry_after", s.opts.RetryInterval.String())
		if err := sleep(ctx, s.opts.RetryInterval); err != nil {
			return err
		}
	}
}

// Send writes one framed message.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &StreamError{Op: "send", Err: ErrNotConnected}
	}
	if _, err := conn.Write(frame); err != nil {
		return &StreamError{Op: "send", Err: err}
	}
	if logging.Enabled(logging.DEBUG) {
		s.logger.Debug("Sent frame", "frame", logging.SanitizeFrame(frame, protocol.MinHeaderLength+10))
	}
	return nil
}

// Receive blocks for the next message and returns its header with the
// envelope stripped.
func (s *Session) Receive() ([]byte, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return nil, &StreamError{Op: "receive", Err: ErrNotConnected}
	}
	frame, err := protocol.ReadFrame(reader)
	if err != nil {
		return nil, &StreamError{Op: "receive", Err: err}
	}
	if logging.Enabled(logging.DEBUG) {
		s.logger.Debug("Received frame", "frame", logging.SanitizeFrame(frame, protocol.MinHeaderLength))
	}
	return frame, nil
}

// Reset drops the connection after a stream error.
func (s *Session) Reset(reason string) {
	s.closeConn(reason)
}

// Close closes the connection.
func (s *Session) Close() error {
	s.closeConn("closed")
	return nil
}

func (s *Session) closeConn(reason string) {
	s.mu.Lock()
	var remote string
	var connectedFor time.Duration
	if s.conn != nil {
		remote = s.conn.RemoteAddr().String()
		connectedFor = time.Since(s.connectedAt)
	}
	s.closeLocked()
	s.mu.Unlock()

	s.state.Store(int32(Disconnected))
	if remote != "" {
		s.sessions.LogDisconnected(remote, reason, connectedFor)
	}
}

func (s *Session) closeLocked() {
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
