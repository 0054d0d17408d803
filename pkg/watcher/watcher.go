// Package watcher reports changes to individual files, such as team
// definitions being edited while `crew validate --watch` runs.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeCallback is called once per settled change to a watched file.
// removed is true when the file no longer exists.
type ChangeCallback func(path string, removed bool)

// FileWatcher watches a fixed set of files. Parent directories are watched
// rather than the files themselves so editors that save by rename are seen.
type FileWatcher struct {
	watcher            *fsnotify.Watcher
	files              map[string]bool
	stabilityThreshold time.Duration
	onChange           ChangeCallback
	logger             zerolog.Logger
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// Config holds configuration for the watcher
type Config struct {
	Files              []string
	StabilityThreshold time.Duration
	OnChange           ChangeCallback
	Logger             zerolog.Logger
}

// New creates a new file watcher
func New(cfg Config) (*FileWatcher, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}

	files := make(map[string]bool, len(cfg.Files))
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		files[abs] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 100 * time.Millisecond
	}

	return &FileWatcher{
		watcher:            watcher,
		files:              files,
		stabilityThreshold: cfg.StabilityThreshold,
		onChange:           cfg.OnChange,
		logger:             cfg.Logger,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start starts watching
func (w *FileWatcher) Start() error {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.eventLoop()

	w.logger.Info().Int("files", len(w.files)).Msg("File watcher started")
	return nil
}

// Stop stops the watcher
func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
	})
	return err
}

func (w *FileWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	path, err := filepath.Abs(event.Name)
	if err != nil || !w.files[path] {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.debounce(path, event.Op)
}

// debounce collapses bursts of events for one file into a single callback
func (w *FileWatcher) debounce(path string, op fsnotify.Op) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		removed := op&(fsnotify.Remove|fsnotify.Rename) != 0 && !exists(path)
		w.logger.Debug().Str("path", path).Bool("removed", removed).Msg("File changed")
		w.onChange(path, removed)
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
