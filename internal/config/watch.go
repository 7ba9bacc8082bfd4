package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay absorbs the burst of events editors produce on save.
const settleDelay = 250 * time.Millisecond

// Watch observes the config file at path and calls onChange with the freshly
// loaded config after each settled write. The parent directory is watched
// rather than the file so atomic rename-on-save keeps working. Load failures
// are logged and the previous config stays in effect. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(settleDelay)
			settleC = settle.C

		case <-settleC:
			settleC = nil
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			log.Info("config file changed", zap.String("path", abs))
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
