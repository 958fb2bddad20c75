package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"dashie_cam/native/internal/domain"
	xlog "dashie_cam/native/internal/log"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// CardWatcher reloads a card file when it changes and hands valid
// replacements to onChange. Invalid edits are logged and the previous card
// stays in effect.
type CardWatcher struct {
	path     string
	debounce time.Duration
	onChange func(domain.CardConfig)
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	done     chan struct{}
}

// WatchCard starts watching path. The parent directory is watched so
// editors that replace the file by rename are seen too.
func WatchCard(ctx context.Context, path string, debounce time.Duration, onChange func(domain.CardConfig)) (*CardWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch card directory: %w", err)
	}

	w := &CardWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		watcher:  watcher,
		logger:   xlog.WithComponent("config"),
		done:     make(chan struct{}),
	}
	w.logger.Info().
		Str(xlog.FieldEvent, "config.watcher_started").
		Str("path", path).
		Msg("watching card file for changes")

	go w.loop(ctx)
	return w, nil
}

// Wait blocks until the watcher has stopped.
func (w *CardWatcher) Wait() { <-w.done }

func (w *CardWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str(xlog.FieldEvent, "config.watcher_stopped").Msg("card watcher stopped")
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str(xlog.FieldEvent, "config.file_changed").
					Str("op", ev.Op.String()).
					Msg("card file changed")
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Str(xlog.FieldEvent, "config.watcher_error").Msg("card watcher error")
		}
	}
}

func (w *CardWatcher) reload() {
	card, err := LoadCard(w.path)
	if err != nil {
		w.logger.Error().
			Err(err).
			Str(xlog.FieldEvent, "config.reload_failed").
			Msg("card reload failed, keeping previous card")
		return
	}
	w.logger.Info().
		Str(xlog.FieldEvent, "config.reload_success").
		Str(xlog.FieldStream, card.Target.Name()).
		Msg("card reloaded")
	w.onChange(card)
}
