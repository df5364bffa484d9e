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
Package intercept runs the interception loop of one gateway connection.

RECEIVE LOOP:
=============
For every frame received:

 1. Keep-alive frames are dropped.
 2. Frames shorter than the minimum header are dropped.
 3. RS frames are stored as pending under their SIID.
 4. Any other frame completes a transaction:
    a. while transactions are pending, an unknown SIID is skipped
    b. a chunk-final frame is confirmed first
    c. the RS frame is popped and its managed system resolved
    d. the record is confirmed unless marked last or blank
    e. the record is parsed and delivered

PA records go to the password notifier; every other known operation becomes
one resource event submitted with its own context.

FAILURE POLICY:
===============

	*gateway.StreamError    reconnect and handshake again
	*ProtocolError          log, skip the frame
	anything else           log, pause, continue

Only cancellation of the Run context ends a worker.
*/
package intercept

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smlistener/internal/event"
	"smlistener/internal/gateway"
	"smlistener/internal/logging"
	"smlistener/internal/metrics"
	"smlistener/internal/protocol"
	"smlistener/internal/record"
	"smlistener/internal/registry"
)

// Defaults applied when Options leave a duration unset.
const (
	DefaultErrorPause    = 500 * time.Millisecond
	DefaultSubmitTimeout = 10 * time.Second
)

// Transport is the gateway session a worker reads from.
type Transport interface {
	Establish(ctx context.Context) error
	Send(frame []byte) error
	Receive() ([]byte, error)
	Reset(reason string)
	Close() error
	Station() protocol.Station
}

// EventSink accepts resource events.
type EventSink interface {
	Submit(ctx context.Context, ev *event.ResourceEvent) error
}

// PasswordNotifier accepts intercepted password changes.
type PasswordNotifier interface {
	NotifyPasswordChange(ctx context.Context, change event.PasswordChange) error
}

// Spooler stores events the sink rejected.
type Spooler interface {
	Append(ev *event.ResourceEvent, reason string) error
}

// Options configure a Worker.
type Options struct {
	Application string
	Transport   Transport
	Registry    *registry.Registry
	Sink        EventSink
	Passwords   PasswordNotifier

	// Spool is optional.
	Spool Spooler
	// Metrics defaults to metrics.Get().
	Metrics *metrics.Metrics

	ErrorPause    time.Duration
	SubmitTimeout time.Duration
	// RetryInterval is reported when the stream is lost; the transport
	// applies it while reconnecting.
	RetryInterval time.Duration
}

// Worker owns one transport, its pending transactions and its counters.
type Worker struct {
	name          string
	transport     Transport
	registry      *registry.Registry
	sink          EventSink
	passwords     PasswordNotifier
	spool         Spooler
	metrics       *metrics.Metrics
	stats         *metrics.ApplicationMetrics
	errorPause    time.Duration
	submitTimeout time.Duration
	retryInterval time.Duration
	logger        *logging.Logger

	pending map[string][]byte
}

// NewWorker validates opts and creates a worker.
func NewWorker(opts Options) (*Worker, error) {
	switch {
	case opts.Transport == nil:
		return nil, errors.New("intercept: transport is required")
	case opts.Registry == nil:
		return nil, errors.New("intercept: registry is required")
	case opts.Sink == nil:
		return nil, errors.New("intercept: event sink is required")
	case opts.Passwords == nil:
		return nil, errors.New("intercept: password notifier is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = DefaultErrorPause
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Worker{
		name:          opts.Application,
		transport:     opts.Transport,
		registry:      opts.Registry,
		sink:          opts.Sink,
		passwords:     opts.Passwords,
		spool:         opts.Spool,
		metrics:       opts.Metrics,
		stats:         opts.Metrics.Application(opts.Application),
		errorPause:    opts.ErrorPause,
		submitTimeout: opts.SubmitTimeout,
		retryInterval: opts.RetryInterval,
		logger:        logging.NewLogger("intercept").With("application", opts.Application),
		pending:       make(map[string][]byte),
	}, nil
}

// Pending returns the number of transactions awaiting completion.
func (w *Worker) Pending() int { return len(w.pending) }

// Run establishes the session and processes frames until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	defer w.transport.Close()
	defer w.stats.Connected.Store(false)

	w.logger.Info("Starting interception worker", "endpoints", w.registry.Len())
	if err := w.establish(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Stopping interception worker")
			return err
		}

		err := w.step(ctx)
		w.logCounters()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		var streamErr *gateway.StreamError
		var protoErr *ProtocolError
		switch {
		case errors.As(err, &streamErr):
			w.logger.Error("Connection to connector gateway lost, reconnecting",
				"error", err, "retry_after", w.retryInterval.String())
			w.transport.Reset(err.Error())
			w.stats.Connected.Store(false)
			w.stats.Reconnects.Add(1)
			if err := w.establish(ctx); err != nil {
				continue
			}
		case errors.As(err, &protoErr):
			w.stats.ProtocolErrors.Add(1)
			w.logger.Warn("Skipping interception frame", "siid", protoErr.SIID, "code", protoErr.Code, "error", protoErr.Err)
		default:
			w.logger.Error("Interception failed", "error", err, "pause", w.errorPause.String())
			pause(ctx, w.errorPause)
		}
	}
}

// establish connects and handshakes. A fresh session starts with no pending
// transactions.
func (w *Worker) establish(ctx context.Context) error {
	if err := w.transport.Establish(ctx); err != nil {
		return err
	}
	clear(w.pending)
	w.stats.Connected.Store(true)
	return nil
}

// step receives and handles one frame.
func (w *Worker) step(ctx context.Context) error {
	frame, err := w.transport.Receive()
	if err != nil {
		return err
	}
	return w.handle(ctx, frame)
}

// handle applies the receive-loop rules to one frame.
func (w *Worker) handle(ctx context.Context, frame []byte) error {
	if protocol.IsKeepAlive(frame) {
		w.stats.KeepAlives.Add(1)
		return nil
	}
	if len(frame) < protocol.MinHeaderLength {
		w.stats.Skipped.Add(1)
		w.logger.Debug("Dropping short frame", "length", len(frame))
		return nil
	}

	siid, _ := protocol.SIIDOf(frame)
	code, _ := protocol.OpCodeOf(frame)

	if code == protocol.CodeRecordStart {
		w.pending[siid] = frame
		w.stats.RecordStarts.Add(1)
		return nil
	}
	w.stats.Records.Add(1)

	// Only checked while other transactions are pending.
	if len(w.pending) > 0 {
		if _, ok := w.pending[siid]; !ok {
			return protocolError(siid, code, ErrUnknownTransaction)
		}
	}

	if protocol.IsChunkFinal(frame) {
		confirmation, err := protocol.ChunkConfirmation(frame)
		if err != nil {
			return protocolError(siid, code, err)
		}
		if err := w.transport.Send(confirmation); err != nil {
			return err
		}
		w.stats.ChunkConfirmations.Add(1)
	}

	rs, ok := w.pending[siid]
	if !ok {
		return protocolError(siid, code, ErrMissingRecordStart)
	}
	delete(w.pending, siid)

	name, mscsType, err := protocol.ManagedSystem(rs)
	if err != nil {
		return protocolError(siid, code, fmt.Errorf("record-start frame: %w", err))
	}
	ep, ok := w.registry.Lookup(mscsType, name)
	if !ok {
		return protocolError(siid, code, fmt.Errorf("%w: %s", ErrUnknownEndpoint, registry.NewKey(mscsType, name)))
	}

	if protocol.NeedsRecordConfirmation(frame) {
		confirmation, err := protocol.RecordConfirmation(w.transport.Station(), siid)
		if err != nil {
			return err
		}
		if err := w.transport.Send(confirmation); err != nil {
			return err
		}
		w.stats.RecordConfirmations.Add(1)
	}

	return w.dispatch(ctx, siid, code, frame, ep)
}

// dispatch parses a completed record and delivers it.
func (w *Worker) dispatch(ctx context.Context, siid, code string, frame []byte, ep *registry.Endpoint) error {
	payload, err := protocol.Payload(frame)
	if err != nil {
		return protocolError(siid, code, err)
	}

	op := record.ParseOperation(code)
	switch {
	case op == record.PasswordChange:
		change, err := event.BuildPasswordChange(siid, payload, ep)
		if err != nil {
			return protocolError(siid, code, err)
		}
		return w.notifyPassword(ctx, change)
	case op == record.Unknown:
		w.stats.Skipped.Add(1)
		w.logger.Debug("Skipping unsupported operation", "siid", siid, "code", code, "endpoint", ep.Name())
		return nil
	default:
		ev, err := event.Build(siid, code, payload, ep)
		if err != nil {
			return protocolError(siid, code, err)
		}
		return w.submit(ctx, ev)
	}
}

func (w *Worker) notifyPassword(ctx context.Context, change event.PasswordChange) error {
	sctx, cancel := context.WithTimeout(ctx, w.submitTimeout)
	defer cancel()

	if err := w.passwords.NotifyPasswordChange(sctx, change); err != nil {
		w.stats.SinkFailures.Add(1)
		return fmt.Errorf("password change %s for %s: %w", change.ID, change.UserID, err)
	}
	w.stats.PasswordChanges.Add(1)
	w.logger.Info("Delivered password change", "siid", change.SIID, "user_id", change.UserID)
	return nil
}

// submit hands ev to the sink, falling back to the spool when configured.
func (w *Worker) submit(ctx context.Context, ev *event.ResourceEvent) error {
	sctx, cancel := context.WithTimeout(ctx, w.submitTimeout)
	defer cancel()

	start := time.Now()
	err := w.sink.Submit(sctx, ev)
	w.metrics.RecordSubmit(time.Since(start))
	if err == nil {
		w.stats.Events.Add(1)
		w.logger.Info("Delivered resource event",
			"siid", ev.SIID, "operation", ev.Operation, "native_identity", ev.NativeIdentity())
		return nil
	}

	w.stats.SinkFailures.Add(1)
	if w.spool == nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	if serr := w.spool.Append(ev, err.Error()); serr != nil {
		return fmt.Errorf("event %s: %w (spool: %v)", ev.ID, err, serr)
	}
	w.stats.Spooled.Add(1)
	return nil
}

func (w *Worker) logCounters() {
	if !logging.Enabled(logging.DEBUG) {
		return
	}
	w.logger.Debug("Interception counters",
		"record_starts", w.stats.RecordStarts.Load(),
		"records", w.stats.Records.Load(),
		"chunk_confirmations", w.stats.ChunkConfirmations.Load(),
		"record_confirmations", w.stats.RecordConfirmations.Load(),
		"pending", len(w.pending),
	)
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
