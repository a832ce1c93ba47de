// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package killswitch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/util"
)

// =============================================================================
// FILE WATCHER
// =============================================================================

// DefaultPollInterval bounds propagation delay when fsnotify misses an event.
const DefaultPollInterval = 2 * time.Second

// FileWatcher keeps a Store in sync with a kill-switch file.
type FileWatcher struct {
	path    string
	poll    time.Duration
	store   *Store
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	modTime time.Time
	size    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileWatcher loads path into a new Store. A missing file means nothing
// is disabled; a malformed file is an error.
func NewFileWatcher(path string, poll time.Duration) (*FileWatcher, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	fw := &FileWatcher{
		path:   path,
		poll:   poll,
		store:  NewStore(),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := fw.Reload(); err != nil {
		cancel()
		return nil, err
	}
	return fw, nil
}

// Snapshot returns the current snapshot.
func (fw *FileWatcher) Snapshot() *Snapshot {
	return fw.store.Snapshot()
}

// Store returns the underlying store.
func (fw *FileWatcher) Store() *Store {
	return fw.store
}

// Reload reads the file and publishes it if it changed.
func (fw *FileWatcher) Reload() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	info, err := os.Stat(fw.path)
	if errors.Is(err, os.ErrNotExist) {
		if !fw.modTime.IsZero() {
			fw.modTime, fw.size = time.Time{}, 0
			fw.store.Publish(&Snapshot{})
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat kill-switch file: %w", err)
	}
	if info.ModTime().Equal(fw.modTime) && info.Size() == fw.size {
		return nil
	}

	data, err := os.ReadFile(fw.path)
	if err != nil {
		return fmt.Errorf("failed to read kill-switch file: %w", err)
	}
	snap, err := Parse(data)
	if err != nil {
		return err
	}
	fw.modTime, fw.size = info.ModTime(), info.Size()
	fw.store.Publish(snap)

	log.WithFields(log.Fields{
		"event":     "killswitch_reload",
		"endpoint":  snap.Endpoint,
		"pipelines": snap.DisabledPipelines(),
		"version":   fw.store.Snapshot().Version,
	}).Info("kill-switches loaded")
	return nil
}

// Watch starts the fsnotify and poll loops.
// The parent directory is watched so atomic replacements are seen.
func (fw *FileWatcher) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(fw.path), err)
	}
	fw.watcher = w

	fw.wg.Add(2)
	go fw.processEvents()
	go fw.pollLoop()
	return nil
}

// Close stops watching.
func (fw *FileWatcher) Close() error {
	fw.cancel()
	var err error
	if fw.watcher != nil {
		err = fw.watcher.Close()
	}
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()
	target := filepath.Clean(fw.path)
	for {
		select {
		case <-fw.ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			fw.reloadLogged()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("kill-switch watcher error")
		}
	}
}

func (fw *FileWatcher) pollLoop() {
	defer fw.wg.Done()
	ticker := time.NewTicker(fw.poll)
	defer ticker.Stop()
	for {
		select {
		case <-fw.ctx.Done():
			return
		case <-ticker.C:
			fw.reloadLogged()
		}
	}
}

func (fw *FileWatcher) reloadLogged() {
	if err := fw.Reload(); err != nil {
		log.WithFields(log.Fields{"event": "killswitch_reload", "path": fw.path}).
			WithError(err).Error("keeping previous kill-switches")
	}
}

// =============================================================================
// WRITING
// =============================================================================

// WriteFile atomically writes a snapshot to path.
func WriteFile(path string, snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}

// ReadFile reads the snapshot at path. A missing file is an empty snapshot.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{Pipelines: make(map[string]bool)}, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
