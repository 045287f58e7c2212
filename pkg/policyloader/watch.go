package policyloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch clears cell whenever one of its candidate documents is created,
// written, removed or renamed. It blocks until ctx is done.
func Watch(ctx context.Context, cell *Cell) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policyloader: watcher: %w", err)
	}
	defer w.Close()

	log := cell.opts.logger()
	targets := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, rel := range cell.opts.paths() {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(cell.root, rel)
		}
		targets[filepath.Clean(path)] = struct{}{}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	watched := 0
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("policyloader: watch %s: %w", dir, err)
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("policyloader: watch: no candidate directory exists under %s", cell.root)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, hit := targets[filepath.Clean(event.Name)]; !hit {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.InfoContext(ctx, "policy document changed", "path", event.Name, "op", event.Op.String())
			cell.Clear()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "policy watcher error", "error", err)
		}
	}
}
