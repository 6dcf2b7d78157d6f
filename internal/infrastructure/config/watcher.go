package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ModeTableWatcher hot-reloads the reasoning-mode alias table when the
// yaml file changes, so mode aliases can be edited without a restart.
// Safe for concurrent reads from command handlers.
type ModeTableWatcher struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	table *ModeTable

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewModeTableWatcher loads the table and begins watching its directory.
// A missing file yields an empty table; the watcher picks the file up when
// it appears.
func NewModeTableWatcher(path string, logger *zap.Logger) (*ModeTableWatcher, error) {
	table, err := LoadModeTable(path)
	if err != nil {
		return nil, err
	}

	w := &ModeTableWatcher{
		path:   expandHome(path),
		logger: logger.With(zap.String("component", "mode-table-watcher")),
		table:  table,
		stop:   make(chan struct{}),
	}

	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch dies with the old inode.
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Mode table watch unavailable, edits need a restart", zap.Error(err))
		return w, nil
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		w.logger.Warn("Mode table watch unavailable, edits need a restart", zap.Error(err))
		return w, nil
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

// Table returns the current alias table.
func (w *ModeTableWatcher) Table() *ModeTable {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.table
}

// Close stops the watcher.
func (w *ModeTableWatcher) Close() {
	close(w.stop)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *ModeTableWatcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Mode table watch error", zap.Error(err))
		}
	}
}

func (w *ModeTableWatcher) reload() {
	table, err := LoadModeTable(w.path)
	if err != nil {
		w.logger.Warn("Mode table reload failed, keeping previous table",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.table = table
	w.mu.Unlock()

	w.logger.Info("Mode table reloaded",
		zap.String("path", w.path),
		zap.Strings("modes", table.Names()))
}
