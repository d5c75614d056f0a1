package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads path into s whenever the file changes. It watches the parent
// directory so editors that replace the file atomically are still noticed.
// The returned error covers watcher setup only; reload failures are logged
// and the previous view stays active.
func Watch(ctx context.Context, s *Store, path string, log zerolog.Logger) error {
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(abs) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				v, err := Load(path)
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("config reload failed")
					continue
				}
				if err := s.Set(v); err != nil {
					log.Error().Err(err).Str("path", path).Msg("config reload rejected")
					continue
				}
				log.Info().Str("path", path).RawJSON("summary", v.SummaryJSON()).Msg("config reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watch error")
			}
		}
	}()
	return nil
}
