package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/agentrun/internal/workspace"
)

func isWorkspaceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadDir registers every workspace file in dir. Files that fail to load
// are logged and skipped.
func (s *Server) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read workspace dir: %w", err)
	}
	loaded := 0
	for _, ent := range entries {
		if ent.IsDir() || !isWorkspaceFile(ent.Name()) {
			continue
		}
		if s.loadFile(filepath.Join(dir, ent.Name())) {
			loaded++
		}
	}
	return loaded, nil
}

func (s *Server) loadFile(path string) bool {
	ws, err := workspace.LoadFile(path)
	if err == nil {
		err = s.Register(ws, path)
	}
	if err == nil {
		// a workspace renamed in place must not linger under its old name
		s.unregisterSource(path, ws.Name)
	}
	if err != nil {
		s.logger.Warn("workspace_load_failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Watch reloads workspace files in dir when they change, until ctx is
// done. Removed files drop their workspaces from the catalog.
func (s *Server) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watch_error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}

func (s *Server) handleEvent(event fsnotify.Event) {
	if !isWorkspaceFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		for _, name := range s.unregisterSource(event.Name, "") {
			s.logger.Info("workspace_removed", map[string]interface{}{"workspace": name, "path": event.Name})
		}
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		s.loadFile(event.Name)
	}
}
