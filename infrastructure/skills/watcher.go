package skills

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dbpilot/dbpilot/domain/skill"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// debounce coalesces bursts of filesystem events into one reload.
const debounce = 250 * time.Millisecond

// Watcher reloads the skill registry when files under the skill directory
// change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	registry *skill.Registry
	dir      string
	stop     chan struct{}
}

// Watch starts watching dir and reloading registry on changes. The initial
// load happens synchronously before returning.
func Watch(registry *skill.Registry, dir string) (*Watcher, error) {
	if err := LoadInto(registry, dir); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		registry: registry,
		dir:      dir,
		stop:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().
				Add(logging.Component("skills")).
				Add(logging.ErrorField(err)).
				Msg("watcher error")
		case <-fire:
			timer = nil
			fire = nil
			if err := LoadInto(w.registry, w.dir); err != nil {
				logging.Warn().
					Add(logging.Component("skills")).
					Add(logging.ErrorField(err)).
					Msg("skill reload failed")
			}
		}
	}
}
