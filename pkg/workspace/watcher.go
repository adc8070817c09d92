// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ActivityCallback is invoked when an agent writes into its live workspace.
type ActivityCallback func(agentID string, at time.Time)

// WatcherConfig configures workspace activity watching.
type WatcherConfig struct {
	// DebounceMs coalesces rapid-fire events per agent (default 500ms).
	DebounceMs int

	Logger *zap.Logger

	// OnActivity receives debounced per-agent activity notifications.
	OnActivity ActivityCallback
}

// Watcher observes the live workspace directories and reports per-agent
// write activity. The coordination loop uses it to keep lastActivity fresh
// in status snapshots.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	config  WatcherConfig
	logger  *zap.Logger

	// Debouncer to handle rapid-fire changes (tools writing many files)
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewWatcher creates a watcher over every agent live directory.
func NewWatcher(manager *Manager, agents []string, config WatcherConfig) (*Watcher, error) {
	if config.DebounceMs <= 0 {
		config.DebounceMs = 500
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, agent := range agents {
		if err := fsw.Add(manager.LiveDir(agent)); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch workspace of %s: %w", agent, err)
		}
	}

	return &Watcher{
		manager:        manager,
		watcher:        fsw,
		config:         config,
		logger:         config.Logger,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins processing events until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	if w.stopped {
		w.stopMu.Unlock()
		return
	}
	w.stopped = true
	w.stopMu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceTimers = make(map[string]*time.Timer)
	w.debounceMu.Unlock()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			agentID := w.agentFor(event.Name)
			if agentID == "" {
				continue
			}
			// New subdirectories need their own watch; fsnotify is not
			// recursive.
			if event.Op&fsnotify.Create != 0 {
				if err := w.watcher.Add(event.Name); err == nil {
					w.logger.Debug("watching new workspace path",
						zap.String("path", event.Name))
				}
			}
			w.debounce(agentID)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watcher error", zap.Error(err))
		}
	}
}

// agentFor maps an event path back to the owning agent's id.
func (w *Watcher) agentFor(path string) string {
	base := filepath.Join(w.manager.root, "workspaces")
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." {
		return ""
	}
	return parts[0]
}

// debounce schedules the activity callback, resetting any pending timer
// for the same agent.
func (w *Watcher) debounce(agentID string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[agentID]; exists {
		timer.Stop()
	}
	w.debounceTimers[agentID] = time.AfterFunc(
		time.Duration(w.config.DebounceMs)*time.Millisecond,
		func() {
			if w.config.OnActivity != nil {
				w.config.OnActivity(agentID, time.Now())
			}
		},
	)
}
