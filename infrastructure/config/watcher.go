package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/zap"
)

const debounceDelay = 100 * time.Millisecond

// Watcher hot-reloads the CONFIG_FILE tuning overrides. Reloads that
// fail to parse or validate keep the current values.
type Watcher struct {
	path    string
	base    Tuning
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu          sync.RWMutex
	current     Tuning
	currentHash uint64
	onChange    []func(Tuning)

	stopCh chan struct{}
	done   chan struct{}
}

// NewWatcher loads the initial tuning from path (overlaid on base) and
// prepares the fsnotify watcher. A missing or invalid file at startup
// is an error; later edits fail soft.
func NewWatcher(path string, base Tuning, logger *zap.Logger) (*Watcher, error) {
	initial, err := loadTuningFile(path, base)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory too: editors and configmap mounts replace the
	// file via rename.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	hash, err := hashstructure.Hash(initial, hashstructure.FormatV2, nil)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("hash tuning: %w", err)
	}

	return &Watcher{
		path:        path,
		base:        base,
		watcher:     fw,
		logger:      logger,
		current:     initial,
		currentHash: hash,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("tuning watcher started", zap.String("path", w.path))
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.done
}

// Current returns the tuning values in effect.
func (w *Watcher) Current() Tuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each applied reload.
func (w *Watcher) OnChange(fn func(Tuning)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("tuning watcher error", zap.Error(err))
		}
	}
}

// reload applies the file if it parses, validates, and actually changed.
func (w *Watcher) reload() {
	next, err := loadTuningFile(w.path, w.base)
	if err != nil {
		w.logger.Error("tuning reload rejected, keeping current values",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	hash, err := hashstructure.Hash(next, hashstructure.FormatV2, nil)
	if err != nil {
		w.logger.Error("tuning hash failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	if hash == w.currentHash {
		w.mu.Unlock()
		return
	}
	w.current = next
	w.currentHash = hash
	callbacks := make([]func(Tuning), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	w.logger.Info("tuning reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(next)
	}
}
