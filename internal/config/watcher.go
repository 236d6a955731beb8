package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and invokes a callback with the
// freshly loaded config after a debounce window. Reload failures keep the
// previous config.
type Watcher struct {
	configPath   string
	onReload     func(*Config)
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a configuration file watcher.
func NewWatcher(configPath string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Watcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      fsWatcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring. Watching the directory is more reliable than
// watching the file itself across editors that replace-on-save.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	slog.Info("Starting configuration watcher", "config_path", w.configPath)
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.reloadChan <- struct{}{}:
			default: // reload already pending
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.reloadChan:
			timer := time.NewTimer(w.debounceTime)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			case <-w.stopChan:
				timer.Stop()
				return
			}
			cfg, err := Load(w.configPath)
			if err != nil {
				slog.Error("Config reload failed, keeping previous config", "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "config_path", w.configPath)
			w.onReload(cfg)
		}
	}
}
