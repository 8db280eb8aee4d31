package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collects file events before acting on them.
const reloadDebounce = 500 * time.Millisecond

// LoadDir scans the script directory, creating it if needed, and loads
// every .lua file. A script that fails to load is logged and skipped.
func (e *Engine) LoadDir() error {
	if err := os.MkdirAll(e.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}

	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read script dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".lua")
		if err := e.LoadScript(name, filepath.Join(e.cfg.Dir, entry.Name())); err != nil {
			e.logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to load script")
		}
	}
	return nil
}

// ReloadAll unloads every script and loads the directory again.
func (e *Engine) ReloadAll() error {
	e.mu.Lock()
	old := e.scripts
	e.scripts = make(map[string]*scriptState)
	e.mu.Unlock()

	for _, ss := range old {
		stopScript(ss)
	}
	return e.LoadDir()
}

// StartWatcher watches the script directory and reloads changed scripts.
// The watcher is closed by Stop.
func (e *Engine) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(e.cfg.Dir); err != nil {
		watcher.Close()
		return err
	}

	e.mu.Lock()
	e.watcher = watcher
	e.mu.Unlock()

	go e.watchLoop(watcher)

	e.logger.Info().Str("dir", e.cfg.Dir).Msg("watching for script changes")
	return nil
}

func (e *Engine) watchLoop(watcher *fsnotify.Watcher) {
	var mu sync.Mutex
	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer

	flush := func() {
		mu.Lock()
		batch := pending
		pending = make(map[string]fsnotify.Op)
		mu.Unlock()

		e.processBatch(batch)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			pending[event.Name] |= event.Op
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, flush)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// processBatch applies a debounced set of file changes.
func (e *Engine) processBatch(batch map[string]fsnotify.Op) {
	manifestPath := filepath.Join(e.cfg.Dir, ManifestFilename)
	if _, ok := batch[manifestPath]; ok {
		e.logger.Info().Msg("manifest changed, reloading all scripts")
		if err := e.ReloadAll(); err != nil {
			e.logger.Error().Err(err).Msg("failed to reload scripts after manifest change")
		}
		return
	}

	for path, op := range batch {
		base := filepath.Base(path)
		if !strings.HasSuffix(base, ".lua") {
			continue
		}
		name := strings.TrimSuffix(base, ".lua")

		if _, err := os.Stat(path); op&(fsnotify.Remove|fsnotify.Rename) != 0 && os.IsNotExist(err) {
			e.UnloadScript(name)
			continue
		}
		if err := e.LoadScript(name, path); err != nil {
			e.logger.Error().Err(err).Str("file", base).Msg("failed to reload script")
		} else {
			e.logger.Info().Str("file", base).Msg("reloaded script")
		}
	}
}
