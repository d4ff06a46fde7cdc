package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch registers a recursive watch on the sandbox root. Events are coalesced for the configured
// debounce interval and delivered in arrival order.
func (l *Local) Watch(ctx context.Context) (<-chan []Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := l.addTree(w, l.guard.BaseDir); err != nil {
		w.Close()
		return nil, err
	}

	out := make(chan []Event)
	go l.watchLoop(ctx, w, out)
	return out, nil
}

func (l *Local) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- []Event) {
	defer close(out)
	defer w.Close()

	var (
		pending []Event
		flush   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			for _, e := range l.translate(w, ev) {
				if n := len(pending); n > 0 && pending[n-1] == e {
					continue
				}
				pending = append(pending, e)
			}
			if len(pending) > 0 && flush == nil {
				flush = time.After(l.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("watcher error", zap.Error(err))
		case <-flush:
			flush = nil
			batch := pending
			pending = nil
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Local) translate(w *fsnotify.Watcher, ev fsnotify.Event) []Event {
	rel, err := l.guard.Rel(ev.Name)
	if err != nil || rel == "." {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if l.Ignored(rel, false) || l.Ignored(rel, true) {
			return nil
		}
		return []Event{{Path: rel, Kind: EventDelete}}

	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil
		}
		if l.Ignored(rel, info.IsDir()) {
			return nil
		}
		if !info.IsDir() {
			return []Event{{Path: rel, Kind: EventCreate}}
		}
		// Files may land in a new directory before its watch is registered.
		if err := l.addTree(w, ev.Name); err != nil {
			l.logger.Warn("watch new directory", zap.String("path", rel), zap.Error(err))
		}
		return l.filesUnder(ev.Name)

	case ev.Has(fsnotify.Write):
		if l.Ignored(rel, false) {
			return nil
		}
		return []Event{{Path: rel, Kind: EventModify}}
	}
	return nil
}

func (l *Local) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != l.guard.BaseDir {
			rel, err := l.guard.Rel(path)
			if err != nil || l.Ignored(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (l *Local) filesUnder(dir string) []Event {
	var events []Event
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := l.guard.Rel(path)
		if relErr != nil {
			return nil
		}
		if l.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			events = append(events, Event{Path: rel, Kind: EventCreate})
		}
		return nil
	})
	return events
}
