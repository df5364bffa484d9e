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
Package spool keeps resource events that the sink rejected.

STORAGE:
========
Entries are appended as JSON lines to files named

	spool-<yyyy-mm-dd>-<nnn>.jsonl

A new file is started when the date changes or the current file reaches the
configured size. Every write is synced before Append returns.

REPLAY:
=======
Replay resubmits every closed file in name order and deletes a file once all of
its entries were accepted. On the first failure the remaining entries are
written back and replay stops. Each submission is bounded by SubmitTimeout
and runs without the append lock, so Append never waits on the sink.

Password notifications are never spooled.
*/
package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smlistener/internal/event"
	"smlistener/internal/logging"
)

const (
	filePrefix = "spool-"
	fileSuffix = ".jsonl"

	defaultMaxFileSize   = 64 * 1024 * 1024
	defaultSubmitTimeout = 10 * time.Second
	maxLineSize        = 16 * 1024 * 1024
)

// Entry is one spooled event.
type Entry struct {
	ID        string               `json:"id"`
	SpooledAt time.Time            `json:"spooled_at"`
	Reason    string               `json:"reason"`
	Event     *event.ResourceEvent `json:"event"`
}

// Submitter accepts replayed events.
type Submitter interface {
	Submit(ctx context.Context, ev *event.ResourceEvent) error
}

// Config contains configuration for a Spool.
type Config struct {
	Dir         string // Directory for spool files
	MaxFileSize int64  // Maximum file size before rotation (default: 64MB)

	// SubmitTimeout bounds each replayed submission (default: 10s).
	SubmitTimeout time.Duration
}

// Spool is an append-only file store of undeliverable events.
type Spool struct {
	dir           string
	maxFileSize   int64
	submitTimeout time.Duration
	logger        *logging.Logger

	// replayMu serializes replays; mu guards the current file only and is
	// never held across a submission.
	replayMu sync.Mutex

	mu          sync.Mutex
	currentFile *os.File
	currentName string
	currentDate string
}

// Open creates the spool directory if needed.
func Open(cfg Config) (*Spool, error) {
	if cfg.Dir == "" {
		cfg.Dir = "data/spool"
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Spool{
		dir:           cfg.Dir,
		maxFileSize:   cfg.MaxFileSize,
		submitTimeout: cfg.SubmitTimeout,
		logger:        logging.NewLogger("spool"),
	}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Append stores ev with the reason it could not be delivered.
func (s *Spool) Append(ev *event.ResourceEvent, reason string) error {
	entry := Entry{
		ID:        uuid.New().String(),
		SpooledAt: time.Now().UTC(),
		Reason:    reason,
		Event:     ev,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal spool entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFile(); err != nil {
		return err
	}
	if _, err := s.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write spool entry: %w", err)
	}
	if err := s.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync spool file: %w", err)
	}

	s.logger.Warn("Spooled undeliverable event",
		"event_id", ev.ID, "application", ev.Application.Application, "file", filepath.Base(s.currentName))
	return nil
}

// ensureFile opens a fresh file on date change or when the size limit is hit.
func (s *Spool) ensureFile() error {
	today := time.Now().UTC().Format("2006-01-02")

	needNewFile := s.currentFile == nil || s.currentDate != today
	if !needNewFile {
		info, err := s.currentFile.Stat()
		if err == nil && info.Size() >= s.maxFileSize {
			needNewFile = true
		}
	}
	if !needNewFile {
		return nil
	}

	if s.currentFile != nil {
		s.currentFile.Close()
		s.currentFile = nil
	}

	name, err := s.nextFilename(today)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open spool file: %w", err)
	}
	s.currentFile = file
	s.currentName = name
	s.currentDate = today
	return nil
}

// nextFilename returns the first unused sequence number for date.
func (s *Spool) nextFilename(date string) (string, error) {
	files, err := s.files()
	if err != nil {
		return "", err
	}
	prefix := filePrefix + date + "-"
	seq := 0
	for _, f := range files {
		base := filepath.Base(f)
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(base, prefix), fileSuffix), "%03d", &n); err == nil && n >= seq {
			seq = n + 1
		}
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s%03d%s", prefix, seq, fileSuffix)), nil
}

// files returns the spool files in name order.
func (s *Spool) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Entries returns every spooled entry, oldest file first.
func (s *Spool) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var all []Entry
	for _, f := range files {
		entries, err := readEntries(f)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Backlog returns the number of spooled entries.
func (s *Spool) Backlog() (int, error) {
	entries, err := s.Entries()
	return len(entries), err
}

// Replay resubmits the entries of every closed spool file and returns how
// many were accepted. Appends made while a replay runs go to a new file and
// are picked up by the next replay.
func (s *Spool) Replay(ctx context.Context, sink Submitter) (int, error) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	files, err := s.rotate()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, f := range files {
		entries, err := readEntries(f)
		if err != nil {
			return replayed, err
		}
		for i, entry := range entries {
			if entry.Event == nil {
				continue
			}
			if err := s.submit(ctx, sink, entry.Event); err != nil {
				if werr := writeEntries(f, entries[i:]); werr != nil {
					return replayed, fmt.Errorf("replay stopped: %w; rewrite failed: %v", err, werr)
				}
				return replayed, fmt.Errorf("replay stopped at %s: %w", entry.ID, err)
			}
			replayed++
		}
		if err := os.Remove(f); err != nil {
			return replayed, fmt.Errorf("failed to remove replayed spool file: %w", err)
		}
		s.logger.Info("Replayed spool file", "file", filepath.Base(f), "entries", len(entries))
	}
	return replayed, nil
}

// rotate closes the current file and returns the files to replay.
func (s *Spool) rotate() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		s.currentFile.Close()
		s.currentFile = nil
	}
	return s.files()
}

func (s *Spool) submit(ctx context.Context, sink Submitter, ev *event.ResourceEvent) error {
	sctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()
	return sink.Submit(sctx, ev)
}

// Close closes the current file.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

func readEntries(filename string) ([]Entry, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // Skip malformed lines
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// writeEntries replaces filename with entries.
func writeEntries(filename string, entries []Entry) error {
	tmp := filename + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}
