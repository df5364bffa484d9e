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

package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smlistener/internal/event"
	"smlistener/internal/registry"
)

func testEvent(id, user string) *event.ResourceEvent {
	return &event.ResourceEvent{
		ID:          id,
		Application: registry.Reference{Application: "RACF-PROD", MSCSType: "RACF", MSCSName: "RACF1"},
		SIID:        "000000001",
		Code:        "AA",
		Operation:   "AccountAdd",
		ReceivedAt:  time.Now().UTC(),
		Account: &event.AccountRequest{
			Application:    "RACF-PROD",
			Operation:      event.Create,
			NativeIdentity: user,
			Attributes: []event.AttributeRequest{
				{Name: "USER_ID", Op: event.Set, Value: user},
				{Name: "groups", Op: event.Set, Value: []string{"SYS1", "DEV"}},
			},
		},
	}
}

type recordingSubmitter struct {
	failAt int
	got    []string
}

func (r *recordingSubmitter) Submit(_ context.Context, ev *event.ResourceEvent) error {
	if r.failAt > 0 && len(r.got)+1 == r.failAt {
		r.failAt = 0
		return errors.New("sink unavailable")
	}
	r.got = append(r.got, ev.ID)
	return nil
}

func TestAppendAndEntries(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Append(testEvent("e1", "jdoe"), "redis: connection refused"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(testEvent("e2", "asmith"), "redis: connection refused"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event.ID != "e1" || entries[1].Event.ID != "e2" {
		t.Errorf("Unexpected order: %s, %s", entries[0].Event.ID, entries[1].Event.ID)
	}
	if entries[0].ID == "" || entries[0].Reason != "redis: connection refused" {
		t.Errorf("Unexpected entry metadata: %+v", entries[0])
	}
	if entries[1].Event.Account.NativeIdentity != "asmith" {
		t.Errorf("NativeIdentity = %s, want asmith", entries[1].Event.Account.NativeIdentity)
	}
}

func TestRotationBySize(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, MaxFileSize: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := s.Append(testEvent(id, "jdoe"), "timeout"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "spool-*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 spool files, got %d: %v", len(files), files)
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := s.Append(testEvent(id, "jdoe"), "timeout"); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	sink := &recordingSubmitter{failAt: 2}
	n, err := s.Replay(context.Background(), sink)
	if err == nil {
		t.Fatal("Expected replay to stop on sink failure")
	}
	if n != 1 {
		t.Errorf("Replayed %d, want 1", n)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Event.ID != "e2" {
		t.Fatalf("Expected e2 and e3 to remain, got %d entries", len(entries))
	}

	n, err = s.Replay(context.Background(), sink)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Replayed %d, want 2", n)
	}
	if got := sink.got; len(got) != 3 || got[0] != "e1" || got[1] != "e2" || got[2] != "e3" {
		t.Errorf("Submitted %v, want [e1 e2 e3]", got)
	}

	left, _ := os.ReadDir(dir)
	if len(left) != 0 {
		t.Errorf("Expected empty spool directory, found %d files", len(left))
	}

	if err := s.Append(testEvent("e4", "jdoe"), "timeout"); err != nil {
		t.Fatalf("Append() after replay error = %v", err)
	}
	if n, err := s.Backlog(); err != nil || n != 1 {
		t.Errorf("Backlog() = %d, %v, want 1", n, err)
	}
}

// blockingSubmitter holds every submission until release is closed.
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubmitter) Submit(ctx context.Context, _ *event.ResourceEvent) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAppendDuringSlowReplay(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir(), SubmitTimeout: time.Minute})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Append(testEvent("e1", "jdoe"), "timeout"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	sink := &blockingSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	type result struct {
		n   int
		err error
	}
	replayDone := make(chan result, 1)
	go func() {
		n, err := s.Replay(context.Background(), sink)
		replayDone <- result{n, err}
	}()

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Replay never reached the sink")
	}

	appendDone := make(chan error, 1)
	go func() { appendDone <- s.Append(testEvent("e2", "asmith"), "timeout") }()
	select {
	case err := <-appendDone:
		if err != nil {
			t.Fatalf("Append() during replay error = %v", err)
		}
	case <-time.After(2 * time.Second):
		close(sink.release)
		t.Fatal("Append blocked while replay waited on the sink")
	}

	close(sink.release)
	res := <-replayDone
	if res.err != nil || res.n != 1 {
		t.Fatalf("Replay() = %d, %v, want 1, nil", res.n, res.err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != "e2" {
		t.Errorf("Expected only e2 left for the next replay, got %+v", entries)
	}
}

func TestReplaySubmitTimeout(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir(), SubmitTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Append(testEvent("e1", "jdoe"), "timeout"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	sink := &blockingSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	start := time.Now()
	n, err := s.Replay(context.Background(), sink)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if n != 0 {
		t.Errorf("Replayed %d, want 0", n)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Replay took %v, expected the submit timeout to cut it short", elapsed)
	}
	if n, _ := s.Backlog(); n != 1 {
		t.Errorf("Backlog() = %d, want 1 after a timed-out replay", n)
	}
}

func TestEntriesSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Append(testEvent("e1", "jdoe"), "timeout"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	f, err := os.OpenFile(s.currentName, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json\n")
	f.Close()

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}
}
