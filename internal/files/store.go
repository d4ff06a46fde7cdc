// Package files keeps an in-memory mirror of the sandbox tree in sync with its watch events and
// tracks which files the pipeline has modified.
package files

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/sandbox"
)

// Change is published to subscribers after a watch event has been applied.
type Change struct {
	Path string            `json:"path"`
	Kind sandbox.EventKind `json:"kind"`
}

// WatchRecorder receives one call per applied watch event.
type WatchRecorder interface {
	RecordWatchEvent(kind string)
}

// Options configures a Store.
type Options struct {
	Logger   *zap.Logger
	Recorder WatchRecorder
}

// Store mirrors a sandbox. Tree mutations come from a single writer (Run / HandleWatchEvents);
// readers get copies.
type Store struct {
	fs       sandbox.FS
	logger   *zap.Logger
	recorder WatchRecorder

	mu       sync.RWMutex
	tree     *tree
	modified map[string]string
	events   <-chan []sandbox.Event
	unwatch  context.CancelFunc

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

// New creates an empty store over fs. Call Initialize before use.
func New(fs sandbox.FS, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:       fs,
		logger:   logger,
		recorder: opts.Recorder,
		tree:     newTree(),
		modified: make(map[string]string),
		subs:     make(map[chan Change]struct{}),
	}
}

// Initialize registers the recursive watch, then lists the sandbox and builds the tree. Watching
// first means a file that appears during the listing is either listed or reported later; a
// duplicate create re-reads and upserts the same node. The watch lives as long as ctx.
func (s *Store) Initialize(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	events, err := s.fs.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("watch sandbox: %w", err)
	}

	entries, err := s.fs.List(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("initialize file store: %w", err)
	}

	t := newTree()
	for _, e := range entries {
		if e.IsDir {
			if _, err := t.ensureDir(splitPath(e.Path)); err != nil {
				s.logger.Error("failed to add directory", zap.String("path", e.Path), zap.Error(err))
			}
			continue
		}
		f, err := s.readFile(ctx, e.Path)
		if err != nil {
			s.logger.Error("failed to read file", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		if err := t.upsert(e.Path, f); err != nil {
			s.logger.Error("failed to add file", zap.String("path", e.Path), zap.Error(err))
		}
	}

	s.mu.Lock()
	if s.unwatch != nil {
		s.unwatch()
	}
	s.tree = t
	s.events = events
	s.unwatch = cancel
	s.mu.Unlock()

	s.logger.Info("file store initialized", zap.Int("entries", len(entries)))
	return nil
}

// Run applies watch batches until the watch closes or ctx is done.
func (s *Store) Run(ctx context.Context) error {
	s.mu.RLock()
	events := s.events
	s.mu.RUnlock()
	if events == nil {
		return errors.New("file store not initialized")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleWatchEvents(ctx, batch)
		}
	}
}

// HandleWatchEvents applies a batch in order. Create and modify re-read the file; delete removes it
// and prunes empty ancestors. Read failures are logged and the event skipped.
func (s *Store) HandleWatchEvents(ctx context.Context, batch []sandbox.Event) {
	for _, ev := range batch {
		switch ev.Kind {
		case sandbox.EventCreate, sandbox.EventModify:
			f, err := s.readFile(ctx, ev.Path)
			if err != nil {
				s.logger.Error("failed to read file", zap.String("path", ev.Path), zap.Error(err))
				continue
			}
			s.mu.Lock()
			err = s.tree.upsert(ev.Path, f)
			s.mu.Unlock()
			if err != nil {
				s.logger.Error("failed to update file", zap.String("path", ev.Path), zap.Error(err))
				continue
			}
		case sandbox.EventDelete:
			s.mu.Lock()
			removed := s.tree.remove(ev.Path)
			s.mu.Unlock()
			if !removed {
				continue
			}
		default:
			panic(fmt.Sprintf("files: unknown watch event kind %q for %s", ev.Kind, ev.Path))
		}

		if s.recorder != nil {
			s.recorder.RecordWatchEvent(string(ev.Kind))
		}
		s.publish(Change{Path: ev.Path, Kind: ev.Kind})
	}
}

// GetFile returns the file at a slash-separated path.
func (s *Store) GetFile(path string) (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.get(path)
}

// Files returns a deep copy of the tree.
func (s *Store) Files() map[string]*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Node, len(s.tree.root))
	for name, n := range s.tree.root {
		out[name] = n.clone()
	}
	return out
}

// FilesCount returns the number of files and directories in the tree.
func (s *Store) FilesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countNodes(s.tree.root)
}

// SaveFile writes content through to the sandbox. The tree converges through the watch.
func (s *Store) SaveFile(ctx context.Context, path, content string) error {
	if err := s.fs.WriteFile(ctx, path, content); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Snapshot reads every text file from the sandbox. Binary and unreadable files are skipped.
func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	entries, err := s.fs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		f, err := s.readFile(ctx, e.Path)
		if err != nil {
			s.logger.Warn("snapshot skipped file", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		if f.IsBinary {
			continue
		}
		out[e.Path] = f.Content
	}
	return out, nil
}

// RecordModification stores content as the recorded version of path.
func (s *Store) RecordModification(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified[path] = content
}

// IsRecorded reports whether path has a recorded version.
func (s *Store) IsRecorded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.modified[path]
	return ok
}

// GetFileModifications returns a unified diff per recorded path that still resolves to a text file
// and differs from its recorded version.
func (s *Store) GetFileModifications() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for path, recorded := range s.modified {
		f, ok := s.tree.get(path)
		if !ok || f.IsBinary {
			continue
		}
		if d := unifiedDiff(path, recorded, f.Content); d != "" {
			out[path] = d
		}
	}
	return out
}

// ModifiedPaths returns recorded paths in sorted order.
func (s *Store) ModifiedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.modified))
	for p := range s.modified {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ResetFileModifications clears every recorded version.
func (s *Store) ResetFileModifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = make(map[string]string)
}

// Subscribe returns a channel of applied changes and a function that ends the subscription.
// Slow subscribers miss changes rather than blocking the writer.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 64)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.logger.Debug("dropping change for slow subscriber", zap.String("path", c.Path))
		}
	}
}

func (s *Store) readFile(ctx context.Context, path string) (File, error) {
	data, err := s.fs.ReadFile(ctx, path)
	if err != nil {
		return File{}, err
	}
	if IsBinary(data) {
		return File{IsBinary: true}, nil
	}
	return File{Content: string(data)}, nil
}

// IsBinary reports whether data should be treated as binary: invalid UTF-8, or content that
// does not sniff as text.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if !utf8.Valid(data) {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}
