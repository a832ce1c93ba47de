// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package killswitch

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable view of every switch.
type Snapshot struct {
	Endpoint  bool            `toml:"endpoint"`
	Pipelines map[string]bool `toml:"pipelines"`

	Version  uint64    `toml:"-"`
	LoadedAt time.Time `toml:"-"`
}

// PipelineDisabled reports whether a pipeline is kill-switched.
// A nil snapshot disables nothing.
func (s *Snapshot) PipelineDisabled(id string) bool {
	if s == nil {
		return false
	}
	return s.Pipelines[id]
}

// EndpointDisabled reports whether the whole endpoint is kill-switched.
func (s *Snapshot) EndpointDisabled() bool {
	return s != nil && s.Endpoint
}

// DisabledPipelines returns the disabled pipeline ids, sorted.
func (s *Snapshot) DisabledPipelines() []string {
	if s == nil {
		return nil
	}
	var out []string
	for id, off := range s.Pipelines {
		if off {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Parse decodes the kill-switch file format.
func Parse(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if _, err := toml.Decode(string(data), s); err != nil {
		return nil, fmt.Errorf("failed to parse kill-switch file: %w", err)
	}
	if s.Pipelines == nil {
		s.Pipelines = make(map[string]bool)
	}
	return s, nil
}

// Encode renders a snapshot in the kill-switch file format.
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// =============================================================================
// SOURCE AND STORE
// =============================================================================

// Source provides the current snapshot.
type Source interface {
	Snapshot() *Snapshot
}

// Store holds the current snapshot and publishes replacements atomically.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewStore creates a store with nothing disabled.
func NewStore() *Store {
	s := &Store{}
	s.Publish(&Snapshot{Pipelines: map[string]bool{}})
	return s
}

// Snapshot returns the current snapshot. Callers must not mutate it.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot.
func (s *Store) Publish(snap *Snapshot) {
	cp := &Snapshot{
		Endpoint:  snap.Endpoint,
		Pipelines: make(map[string]bool, len(snap.Pipelines)),
		Version:   s.version.Add(1),
		LoadedAt:  time.Now(),
	}
	for k, v := range snap.Pipelines {
		cp.Pipelines[k] = v
	}
	s.current.Store(cp)
}

// SetEndpoint flips the endpoint switch.
func (s *Store) SetEndpoint(disabled bool) {
	cur := s.Snapshot()
	next := &Snapshot{Endpoint: disabled, Pipelines: cur.Pipelines}
	s.Publish(next)
}

// SetPipeline flips one pipeline switch.
func (s *Store) SetPipeline(id string, disabled bool) {
	cur := s.Snapshot()
	next := &Snapshot{Endpoint: cur.Endpoint, Pipelines: make(map[string]bool, len(cur.Pipelines)+1)}
	for k, v := range cur.Pipelines {
		next.Pipelines[k] = v
	}
	next.Pipelines[id] = disabled
	s.Publish(next)
}
