package index

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	logx "github.com/bookweather-chat/server/pkg/logger"
)

// WatchFile calls reload whenever path is created, written or renamed into
// place. It watches the parent directory so atomic replaces are seen. The
// watcher stops when ctx is done.
func WatchFile(ctx context.Context, path string, reload func() error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

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
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := reload(); err != nil {
					logx.Error().Err(err).Str("path", abs).Msg("Failed to reload passages")
					continue
				}
				logx.Info().Str("path", abs).Msg("Passages reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logx.Warn().Err(err).Str("path", abs).Msg("File watcher error")
			}
		}
	}()
	return nil
}
