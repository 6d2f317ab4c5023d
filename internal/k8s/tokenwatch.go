package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchToken reloads c whenever its token file changes on disk. Projected
// service account tokens are replaced through a "..data" symlink swap, so
// the parent directory is watched rather than the file itself. The watch
// runs until ctx is done.
func WatchToken(ctx context.Context, c *Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	path := c.TokenFile()
	if path == "" {
		return errors.New("client does not use a token file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if name != base && name != "..data" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					logger.Warn("reload cluster credential failed", "path", path, "error", err)
					continue
				}
				logger.Info("cluster credential reloaded", "path", path, "op", event.Op.String())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("token watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
