/*
Copyright (C) 2026  Kronuz Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package localwatch short-circuits the reopen-staleness poll
// (spec.md §4.4) with an event: "if a local copy exists ... it is
// used instead of the remote" (spec.md §4.2) doesn't say to wait out
// RemoteDBUpdateInterval once that local copy actually shows up, so a
// Watcher notices the directory's creation and fires immediately.
package localwatch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher multiplexes fsnotify's single event stream across every
// exact path currently being watched for creation.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu          sync.Mutex
	watchedDirs map[string]bool
	pending     map[string][]func() // full path -> callbacks awaiting its creation

	closed chan struct{}
	once   sync.Once
}

// New starts the underlying fsnotify watcher and its dispatch loop.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("localwatch: %w", err)
	}
	w := &Watcher{
		fsw:         fsw,
		watchedDirs: make(map[string]bool),
		pending:     make(map[string][]func()),
		closed:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WatchForCreate arranges for onCreate to be invoked (at most once)
// the first time path comes into existence — typically a shard's
// local replica directory appearing after replication catches up.
// Watches path's parent directory, since fsnotify cannot watch a path
// that doesn't exist yet.
func (w *Watcher) WatchForCreate(path string, onCreate func()) error {
	dir := filepath.Dir(path)

	w.mu.Lock()
	if !w.watchedDirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("localwatch: watch %s: %w", dir, err)
		}
		w.watchedDirs[dir] = true
	}
	w.pending[path] = append(w.pending[path], onCreate)
	w.mu.Unlock()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.fire(ev.Name)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Surfacing watch errors is the caller's job via logging
			// wired at a higher layer; dropping here keeps the loop
			// alive for every other watched path.
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	callbacks := w.pending[path]
	delete(w.pending, path)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Close stops the dispatch loop and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.fsw.Close()
	})
	return err
}
