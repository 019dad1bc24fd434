// Package watcher notices credential files changing on disk so a fresh
// login can short-circuit any fetch backoff.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/kabilan/claude-bar/internal/model"
)

const debounceWindow = 200 * time.Millisecond

// Watcher observes the parent directories of credential files and
// reports which provider's credentials changed. Editors and login
// flows replace files rather than writing in place, so the watch is on
// the directory and matched by base name. Bursts of events for a
// single rewrite are coalesced into one notification per provider.
type Watcher struct {
	fw     *fsnotify.Watcher
	log    zerolog.Logger
	byPath map[string]model.Provider
	raw    chan model.Provider
	events chan model.Provider
	done   chan struct{}
}

// Start begins watching. paths maps each provider to its credential
// file; a missing parent directory is logged and skipped, so partial
// setups degrade rather than fail.
func Start(log zerolog.Logger, paths map[model.Provider]string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fw:     fw,
		log:    log,
		byPath: make(map[string]model.Provider, len(paths)),
		raw:    make(chan model.Provider, 64),
		events: make(chan model.Provider, 8),
		done:   make(chan struct{}),
	}

	watched := make(map[string]bool)
	for p, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		w.byPath[abs] = p

		dir := filepath.Dir(abs)
		if watched[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			log.Warn().Str("dir", dir).Str("provider", string(p)).Msg("credential directory missing, not watching")
			continue
		}
		if err := fw.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to watch credential directory")
			continue
		}
		watched[dir] = true
		log.Debug().Str("dir", dir).Msg("watching credential directory")
	}

	go w.dispatch()
	go w.coalesce(debounceWindow)
	return w, nil
}

// Events delivers one provider per coalesced credential change.
func (w *Watcher) Events() <-chan model.Provider {
	return w.events
}

// Close stops watching and closes the events channel.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

// dispatch reads raw fsnotify events and forwards matching providers.
// It never blocks: if the raw queue is full the event is dropped,
// which is fine because a later poll picks the change up anyway.
func (w *Watcher) dispatch() {
	defer close(w.raw)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p, ok := w.matchProvider(ev.Name)
			if !ok {
				continue
			}
			select {
			case w.raw <- p:
			default:
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("credential watch error")
		}
	}
}

func (w *Watcher) matchProvider(name string) (model.Provider, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	p, ok := w.byPath[abs]
	return p, ok
}

// coalesce sits on the raw stream and emits at most one event per
// provider per debounce window.
func (w *Watcher) coalesce(window time.Duration) {
	defer close(w.done)
	defer close(w.events)

	for first := range w.raw {
		pending := map[model.Provider]bool{first: true}

		time.Sleep(window)
		for draining := true; draining; {
			select {
			case extra, ok := <-w.raw:
				if !ok {
					draining = false
					break
				}
				pending[extra] = true
			default:
				draining = false
			}
		}

		for _, p := range model.All() {
			if pending[p] {
				w.events <- p
			}
		}
	}
}
