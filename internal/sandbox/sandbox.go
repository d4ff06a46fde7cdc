// Package sandbox exposes a project directory as the filesystem collaborator of the file store:
// recursive listing, byte reads, writes and batched change notifications.
package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/config"
)

// EventKind classifies a change notification.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventModify EventKind = "modify"
	EventDelete EventKind = "delete"
)

// Event is one change notification with a sandbox-relative, slash-separated path.
type Event struct {
	Path string    `json:"path"`
	Kind EventKind `json:"kind"`
}

// Entry is one item of a recursive listing.
type Entry struct {
	Path  string
	IsDir bool
}

// FS is the filesystem contract the file store depends on.
type FS interface {
	List(ctx context.Context) ([]Entry, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content string) error
	// Watch delivers batches of events until ctx is done; the channel is closed afterwards.
	Watch(ctx context.Context) (<-chan []Event, error)
}

// ErrWriteDisabled is returned by WriteFile when writes are turned off.
var ErrWriteDisabled = errors.New("write is disabled by configuration")

// Local is an FS backed by a directory on disk.
type Local struct {
	guard      *PathGuard
	allowWrite bool
	ignore     *ignore.GitIgnore
	debounce   time.Duration
	logger     *zap.Logger
}

// NewLocal builds a Local sandbox from config. Patterns from a root .gitignore are honoured in
// addition to cfg.Ignore.
func NewLocal(cfg config.SandboxConfig, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	guard, err := NewPathGuard(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	info, err := os.Stat(guard.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", guard.BaseDir)
	}

	rules := append([]string{}, cfg.Ignore...)
	if lines, err := readIgnoreFile(filepath.Join(guard.BaseDir, ".gitignore")); err == nil {
		rules = append(rules, lines...)
	}

	var matcher *ignore.GitIgnore
	if len(rules) > 0 {
		matcher = ignore.CompileIgnoreLines(rules...)
	}

	debounce := cfg.WatchDebounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	return &Local{
		guard:      guard,
		allowWrite: cfg.AllowWrite,
		ignore:     matcher,
		debounce:   debounce,
		logger:     logger,
	}, nil
}

// Root returns the absolute sandbox directory.
func (l *Local) Root() string {
	return l.guard.BaseDir
}

// Ignored reports whether a sandbox path is excluded by the ignore rules.
func (l *Local) Ignored(rel string, isDir bool) bool {
	if l.ignore == nil || rel == "" || rel == "." {
		return false
	}
	if isDir {
		return l.ignore.MatchesPath(rel + "/")
	}
	return l.ignore.MatchesPath(rel)
}

// List walks the sandbox and returns every non-ignored file and directory below the root.
func (l *Local) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(l.guard.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.guard.BaseDir {
				return err
			}
			l.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == l.guard.BaseDir {
			return nil
		}
		rel, err := l.guard.Rel(path)
		if err != nil {
			return nil
		}
		if l.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		entries = append(entries, Entry{Path: rel, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sandbox: %w", err)
	}
	return entries, nil
}

// ReadFile returns the raw bytes of a sandbox file.
func (l *Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resolved, err := l.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// WriteFile writes content to a sandbox file, creating parent directories.
func (l *Local) WriteFile(ctx context.Context, path string, content string) error {
	if !l.allowWrite {
		return ErrWriteDisabled
	}
	resolved, err := l.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
