// Package watch re-runs preprocessing when a source file or one of the
// headers it harvested changes on disk.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"github.com/raymyers/cxxpp/pkg/cpp"
)

// Runner preprocesses the watched file.
type Runner func() (*cpp.Result, error)

// Reporter receives the outcome of every run.
type Reporter func(*cpp.Result, error)

// DefaultDebounce groups the bursts of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches a file and the headers of its last successful run using
// OS-native notifications.
type Watcher struct {
	fw       *fsnotify.Watcher
	Debounce time.Duration

	dirs  map[string]bool // watched directories
	files map[string]bool // canonical paths whose change triggers a run
}

// New creates a Watcher.
func New() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fw:       fw,
		Debounce: DefaultDebounce,
		dirs:     map[string]bool{},
		files:    map[string]bool{},
	}, nil
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fw.Close() }

// Run calls run once, then again after every change to file or to one of
// the headers of the latest successful result, until ctx is done or the
// watcher is closed. The root file is watched even when the first run fails.
func (w *Watcher) Run(ctx context.Context, file string, run Runner, report Reporter) error {
	w.track(file, nil)
	w.runOnce(file, run, report)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				glog.V(1).Infof("change detected: %s", ev)
				pending = time.After(w.Debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			glog.Warningf("watch error: %v", err)
		case <-pending:
			pending = nil
			w.runOnce(file, run, report)
		}
	}
}

func (w *Watcher) runOnce(file string, run Runner, report Reporter) {
	res, err := run()
	// A failed run keeps the previous set of watched files
	if err == nil {
		w.track(file, res.Headers)
	}
	report(res, err)
}

// track replaces the watched files by file and headers and watches the
// directories holding them.
func (w *Watcher) track(file string, headers []string) {
	w.files = map[string]bool{cpp.CanonicalPath(file): true}
	for _, h := range headers {
		w.files[h] = true
	}
	for f := range w.files {
		dir := filepath.Dir(f)
		if w.dirs[dir] {
			continue
		}
		if err := w.fw.Add(dir); err != nil {
			glog.Warningf("cannot watch %s: %v", dir, err)
			continue
		}
		w.dirs[dir] = true
	}
}

// Files returns the number of files whose change triggers a run.
func (w *Watcher) Files() int {
	return len(w.files)
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return w.files[cpp.CanonicalPath(ev.Name)]
}
