package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 300 * time.Millisecond

// Watcher watches the config file and reloads it on change
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	stopCh   chan struct{}
}

// NewWatcher creates a watcher that invokes onChange with the freshly
// loaded config whenever the file is rewritten. Reload failures are
// logged and the previous config stays in effect.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		watcher:  fsWatcher,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory.
// Watching the directory rather than the file survives atomic replaces.
func (w *Watcher) Start() error {
	path, err := w.loader.Path()
	if err != nil {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.run(path)

	w.logger.Info().Str("path", path).Msg("Config watcher started")
	return nil
}

func (w *Watcher) run(path string) {
	var timer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// Editors fire bursts of events on save; debounce them
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				w.reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("Config reload rejected, keeping previous config")
		return
	}

	w.logger.Info().Msg("Config reloaded")
	w.onChange(cfg)
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}
