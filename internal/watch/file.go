// Copyright 2025 Tetrate
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"bytes"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
)

var (
	_ Watcher = (*fileWatcher)(nil)

	// ErrIsDirectory is returned when a directory is registered.
	ErrIsDirectory = errors.New("watched name is a directory")
)

type (
	// fileWatcher is a watcher implementation that watches one or more files.
	fileWatcher struct {
		FileWatcherOptions

		log       telemetry.Logger
		mu        sync.RWMutex
		notifiers map[string]*notifier
		isRunning atomic.Bool
		stop      <-chan struct{}
	}

	// FileWatcherOptions defines the options for file watcher.
	FileWatcherOptions struct {
		fallbackTimeout time.Duration
		checkInterval   time.Duration
		firstTimeRead   bool
		skipFallback    bool
	}

	// OptionFunc modifies the file watcher options.
	OptionFunc func(FileWatcherOptions) FileWatcherOptions
)

// NewFileWatcher returns a new Watcher implementation that watches one or more files.
// Callbacks are only notified when the content of the file changes, or when it cannot be read.
func NewFileWatcher(options FileWatcherOptions) Watcher {
	return &fileWatcher{
		FileWatcherOptions: options,
		log:                internal.Logger(internal.Watch),
		notifiers:          make(map[string]*notifier),
	}
}

// Watch binds a file name with callbacks to be notified on changes.
// This will watch for changes even if the watcher is already started.
func (w *fileWatcher) Watch(name string, callbacks ...Callback) error {
	not, err := newNotifier(w.log, name, w.FileWatcherOptions, callbacks...)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if prev := w.notifiers[name]; prev != nil {
		not.callbacks = append(prev.callbacks, not.callbacks...)
		prev.close()
	}
	w.notifiers[name] = not
	w.mu.Unlock()

	// If the watcher is already running, the notifier is started manually and Watch returns once it is running.
	if w.isRunning.Load() {
		notifyStarted := &sync.WaitGroup{}
		notifyStarted.Add(1)
		go not.start(notifyStarted, w.stop)
		notifyStarted.Wait()
	}
	return nil
}

// Start starts the file watcher.
// Waits for all notifiers to be started in new goroutines before returning.
func (w *fileWatcher) Start(stop <-chan struct{}) error {
	w.stop = stop

	// Take a copy to perform the active wait, for better concurrency with the watcher registration
	w.mu.RLock()
	notifiers := maps.Clone(w.notifiers)
	w.isRunning.Store(true)
	w.mu.RUnlock()

	w.log.Info("starting file watcher", "files", slices.Sorted(maps.Keys(notifiers)))
	notifyStarted := &sync.WaitGroup{}
	notifyStarted.Add(len(notifiers))
	for _, not := range notifiers {
		go not.start(notifyStarted, stop)
	}
	notifyStarted.Wait()
	return nil
}

// notifier watches for changes on a single file and notifies the callbacks.
type notifier struct {
	log       telemetry.Logger
	name      string
	fsWatcher *fsnotify.Watcher
	options   FileWatcherOptions
	callbacks []Callback
	closed    chan struct{}
	closeOnce sync.Once

	// last content notified to the callbacks. Only accessed from the notifier loop.
	last []byte
}

// newNotifier returns a new notifier instance, watching for changes on the given file.
func newNotifier(log telemetry.Logger, name string, options FileWatcherOptions, callbacks ...Callback) (*notifier, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}

	// The current content is the baseline; only later changes are notified.
	last, err := os.ReadFile(filepath.Clean(name))
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = fsWatcher.Add(name); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	return &notifier{
		log:       log.With("file", name),
		name:      name,
		fsWatcher: fsWatcher,
		options:   options,
		callbacks: callbacks,
		closed:    make(chan struct{}),
		last:      last,
	}, nil
}

// start starts the notifier watch loop.
// After this method is called, the notifier will notify the callbacks on changes.
func (n *notifier) start(notifyStarted *sync.WaitGroup, stop <-chan struct{}) {
	n.log.Debug("watching file")

	// If the first time read is enabled, we must notify the current content.
	if n.options.firstTimeRead {
		n.notifyChange(true)
	}

	ticker := time.NewTicker(n.options.checkInterval)
	defer ticker.Stop()

	var (
		mustNotify  bool
		mustRewatch bool
		fallback    = time.Now().Add(n.options.fallbackTimeout)
	)

	// Closer to the event listener loop, we can notify the caller that the watcher is started.
	notifyStarted.Done()
	for {
		select {
		case evt := <-n.fsWatcher.Events:
			n.log.Debug("received event", "event", evt)
			switch {
			case evt.Op.Has(fsnotify.Write) || evt.Op.Has(fsnotify.Create):
				mustNotify = true
			case evt.Op.Has(fsnotify.Remove) || evt.Op.Has(fsnotify.Rename):
				// Files replaced by a rename drop the inotify watch.
				mustNotify, mustRewatch = true, true
			}
		case <-ticker.C:
			if mustRewatch {
				if err := n.fsWatcher.Add(n.name); err != nil {
					n.log.Debug("error re-adding watch", "error", err)
				} else {
					mustRewatch = false
				}
			}

			// If fallback is enabled, and we waited for too long, we must check the file.
			if !n.options.skipFallback && time.Now().After(fallback) {
				mustNotify = true
			}

			if mustNotify {
				mustNotify = false
				n.notifyChange(false)
				fallback = time.Now().Add(n.options.fallbackTimeout)
			}
		case err := <-n.fsWatcher.Errors:
			n.log.Debug("watcher error", "error", err)
			if err != nil {
				n.notify(Data{FileValue{Name: n.name}, err})
			}
		case <-n.closed:
			n.log.Debug("replacing watcher")
			_ = n.fsWatcher.Close()
			return
		case <-stop:
			n.log.Debug("stopping watcher")
			_ = n.fsWatcher.Close()
			return
		}
	}
}

// notifyChange reads the file and notifies the callbacks if the content changed.
func (n *notifier) notifyChange(force bool) {
	data, err := os.ReadFile(filepath.Clean(n.name))
	if err != nil {
		n.notify(Data{FileValue{Name: n.name}, err})
		return
	}
	if !force && bytes.Equal(data, n.last) {
		n.log.Debug("content unchanged")
		return
	}

	n.log.Debug("change detected")
	n.last = data
	n.notify(Data{FileValue{n.name, data}, nil})
}

func (n *notifier) notify(d Data) {
	for _, callback := range n.callbacks {
		callback(d)
	}
}

func (n *notifier) close() { n.closeOnce.Do(func() { close(n.closed) }) }

// NewOpts returns a new file watcher options configured with the given options.
func NewOpts(options ...OptionFunc) FileWatcherOptions {
	o := FileWatcherOptions{
		fallbackTimeout: time.Minute,
		checkInterval:   time.Second,
	}
	return o.With(options...)
}

// With returns a new file watcher options modified with the given options.
func (o FileWatcherOptions) With(options ...OptionFunc) FileWatcherOptions {
	for _, opt := range options {
		o = opt(o)
	}
	return o
}

// WithFallbackInterval sets the time after which the watcher reads the file even if no change event is received.
// Default is 1 minute.
func WithFallbackInterval(timeout time.Duration) OptionFunc {
	return func(m FileWatcherOptions) FileWatcherOptions {
		m.fallbackTimeout = timeout
		return m
	}
}

// WithCheckInterval sets the interval between two checks for changes.
// Default is 1 second.
func WithCheckInterval(interval time.Duration) OptionFunc {
	return func(m FileWatcherOptions) FileWatcherOptions {
		m.checkInterval = interval
		return m
	}
}

// WithFirstTimeRead sets the watcher to notify the current content when it is started,
// without waiting for a change event.
// Default is disabled.
func WithFirstTimeRead() OptionFunc {
	return func(m FileWatcherOptions) FileWatcherOptions {
		m.firstTimeRead = true
		return m
	}
}

// WithSkipFallback sets the watcher to only read the file when a change event is received.
// Default is disabled.
func WithSkipFallback() OptionFunc {
	return func(m FileWatcherOptions) FileWatcherOptions {
		m.skipFallback = true
		return m
	}
}
