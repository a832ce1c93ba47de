// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Sink receives events from the hook worker.
type Sink interface {
	Write(ev Event) error
}

// =============================================================================
// JSONL FILE SINK
// =============================================================================

// FileSink appends one JSON object per line to a file.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileSink opens path for appending, creating it with owner-only
// permissions.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Write implements Sink.
func (s *FileSink) Write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(data)
	return err
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes events as structured log lines. Text fields are never logged.
type LogSink struct{}

// Write implements Sink.
func (LogSink) Write(ev Event) error {
	log.WithFields(log.Fields{
		"event":        "upgrade",
		"request_id":   ev.RequestID,
		"client":       ev.Client,
		"intent":       ev.Intent,
		"plan":         ev.Plan,
		"pipeline":     ev.Pipeline,
		"status":       ev.Status,
		"degraded":     ev.Degraded,
		"fidelity":     ev.Fidelity,
		"duration_ms":  ev.DurationMs,
		"redactions":   ev.Redactions,
		"input_runes":  ev.InputRunes,
		"output_runes": ev.OutputRunes,
	}).Info("request finished")
	return nil
}
