package files

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/masbolt/masbolt/internal/sandbox"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x00, 0x00, 0x0d, 0xff, 0xfe}

type memFS struct {
	mu       sync.Mutex
	files    map[string][]byte
	failRead map[string]bool
	events   chan []sandbox.Event
	onWatch  func()
}

func newMemFS(files map[string][]byte) *memFS {
	return &memFS{files: files, failRead: map[string]bool{}, events: make(chan []sandbox.Event, 8)}
}

func (m *memFS) List(ctx context.Context) ([]sandbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := map[string]bool{}
	var entries []sandbox.Entry
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		parts := strings.Split(p, "/")
		for i := 1; i < len(parts); i++ {
			d := strings.Join(parts[:i], "/")
			if !dirs[d] {
				dirs[d] = true
				entries = append(entries, sandbox.Entry{Path: d, IsDir: true})
			}
		}
		entries = append(entries, sandbox.Entry{Path: p})
	}
	return entries, nil
}

func (m *memFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead[path] {
		return nil, errors.New("permission denied")
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *memFS) WriteFile(ctx context.Context, path string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
	return nil
}

func (m *memFS) Watch(ctx context.Context) (<-chan []sandbox.Event, error) {
	if m.onWatch != nil {
		m.onWatch()
	}
	return m.events, nil
}

func (m *memFS) set(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
}

func (m *memFS) remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

func initStore(t *testing.T, files map[string][]byte) (*Store, *memFS) {
	t.Helper()
	mfs := newMemFS(files)
	s := New(mfs, Options{})
	require.NoError(t, s.Initialize(context.Background()))
	return s, mfs
}

func TestInitializeClassifiesTextAndBinary(t *testing.T) {
	t.Parallel()

	s, _ := initStore(t, map[string][]byte{
		"src/main.go":    []byte("package main\n"),
		"assets/img.png": pngHeader,
	})

	f, ok := s.GetFile("src/main.go")
	require.True(t, ok)
	require.False(t, f.IsBinary)
	require.Equal(t, "package main\n", f.Content)

	f, ok = s.GetFile("assets/img.png")
	require.True(t, ok)
	require.True(t, f.IsBinary)
	require.Empty(t, f.Content)

	require.Equal(t, 4, s.FilesCount())
}

func TestInitializeSkipsUnreadableFile(t *testing.T) {
	t.Parallel()

	mfs := newMemFS(map[string][]byte{
		"ok.txt":     []byte("fine"),
		"locked.txt": []byte("secret"),
	})
	mfs.failRead["locked.txt"] = true
	s := New(mfs, Options{})
	require.NoError(t, s.Initialize(context.Background()))

	_, ok := s.GetFile("ok.txt")
	require.True(t, ok)
	_, ok = s.GetFile("locked.txt")
	require.False(t, ok)
}

func TestGetFileRejectsDirectoriesAndMissingSegments(t *testing.T) {
	t.Parallel()

	s, _ := initStore(t, map[string][]byte{"a/b.txt": []byte("b")})

	_, ok := s.GetFile("a")
	require.False(t, ok)
	_, ok = s.GetFile("a/b.txt/c")
	require.False(t, ok)
	_, ok = s.GetFile("x/b.txt")
	require.False(t, ok)
	f, ok := s.GetFile("/a/b.txt")
	require.True(t, ok)
	require.Equal(t, "b", f.Content)
}

func TestDeletePrunesEmptyDirectoriesOnly(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{
		"src/lib/only.go": []byte("package lib"),
		"src/main.go":     []byte("package main"),
	})

	mfs.remove("src/lib/only.go")
	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "src/lib/only.go", Kind: sandbox.EventDelete}})

	tree := s.Files()
	src := tree["src"]
	require.NotNil(t, src)
	require.NotContains(t, src.Children, "lib")
	require.Contains(t, src.Children, "main.go")
}

func TestDeletePrunesNestedChainBelowRoot(t *testing.T) {
	t.Parallel()

	s, _ := initStore(t, map[string][]byte{
		"a/b/c/d.txt": []byte("d"),
		"top.txt":     []byte("t"),
	})

	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "a/b/c/d.txt", Kind: sandbox.EventDelete}})
	tree := s.Files()
	require.NotContains(t, tree, "a")
	require.Contains(t, tree, "top.txt")
	require.Equal(t, 1, s.FilesCount())
}

func TestCreateEventAddsIntermediateDirectories(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{})
	changes, cancel := s.Subscribe()
	defer cancel()

	mfs.set("new/dir/file.txt", "hello")
	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "new/dir/file.txt", Kind: sandbox.EventCreate}})

	f, ok := s.GetFile("new/dir/file.txt")
	require.True(t, ok)
	require.Equal(t, "hello", f.Content)

	select {
	case c := <-changes:
		require.Equal(t, Change{Path: "new/dir/file.txt", Kind: sandbox.EventCreate}, c)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}

func TestModifyEventReclassifies(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{"data.bin": []byte("text for now")})

	mfs.mu.Lock()
	mfs.files["data.bin"] = pngHeader
	mfs.mu.Unlock()
	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "data.bin", Kind: sandbox.EventModify}})

	f, ok := s.GetFile("data.bin")
	require.True(t, ok)
	require.True(t, f.IsBinary)
}

func TestFileInTheWayIsSkipped(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{"a": []byte("file")})
	mfs.set("a/b.txt", "b")
	mfs.set("c.txt", "c")

	s.HandleWatchEvents(context.Background(), []sandbox.Event{
		{Path: "a/b.txt", Kind: sandbox.EventCreate},
		{Path: "c.txt", Kind: sandbox.EventCreate},
	})

	_, ok := s.GetFile("a/b.txt")
	require.False(t, ok)
	_, ok = s.GetFile("c.txt")
	require.True(t, ok)
}

func TestUnknownEventKindPanics(t *testing.T) {
	t.Parallel()

	s, _ := initStore(t, map[string][]byte{})
	require.Panics(t, func() {
		s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "x", Kind: "rename"}})
	})
}

func TestFileModificationsDiffAgainstRecorded(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{
		"main.go":  []byte("package main\n\nfunc main() {}\n"),
		"same.txt": []byte("unchanged\n"),
	})

	s.RecordModification("main.go", "package main\n\nfunc main() {}\n")
	s.RecordModification("same.txt", "unchanged\n")
	s.RecordModification("gone.txt", "was here\n")

	mfs.set("main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")
	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "main.go", Kind: sandbox.EventModify}})

	mods := s.GetFileModifications()
	require.Len(t, mods, 1)
	diff := mods["main.go"]
	require.Contains(t, diff, "--- a/main.go")
	require.Contains(t, diff, "-func main() {}")
	require.Contains(t, diff, "+\tprintln(\"hi\")")
	require.True(t, s.IsRecorded("gone.txt"))

	s.ResetFileModifications()
	require.Empty(t, s.GetFileModifications())
	require.False(t, s.IsRecorded("main.go"))
}

func TestSnapshotReadsThroughSandbox(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{
		"a.txt":   []byte("a"),
		"img.png": pngHeader,
	})

	require.NoError(t, s.SaveFile(context.Background(), "b/c.txt", "written"))
	// No watch event yet: the tree lags but the snapshot does not.
	_, ok := s.GetFile("b/c.txt")
	require.False(t, ok)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a.txt": "a", "b/c.txt": "written"}, snap)
	require.Equal(t, "written", string(mfs.files["b/c.txt"]))
}

func TestRunAppliesWatchBatches(t *testing.T) {
	t.Parallel()

	s, mfs := initStore(t, map[string][]byte{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	mfs.set("late.txt", "late")
	mfs.events <- []sandbox.Event{{Path: "late.txt", Kind: sandbox.EventCreate}}

	require.Eventually(t, func() bool {
		_, ok := s.GetFile("late.txt")
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunRequiresInitialize(t *testing.T) {
	t.Parallel()

	s := New(newMemFS(map[string][]byte{}), Options{})
	require.Error(t, s.Run(context.Background()))
}

func TestIsBinary(t *testing.T) {
	t.Parallel()

	require.False(t, IsBinary(nil))
	require.False(t, IsBinary([]byte("{\"a\": 1}")))
	require.False(t, IsBinary([]byte("héllo wörld")))
	require.True(t, IsBinary([]byte{0xff, 0xfe, 0xfd}))
	require.True(t, IsBinary(pngHeader))
}

func TestInitializeWatchesBeforeListing(t *testing.T) {
	fs := newMemFS(map[string][]byte{"a.txt": []byte("a")})
	fs.onWatch = func() { fs.set("late/b.txt", "b") }

	s := New(fs, Options{})
	require.NoError(t, s.Initialize(context.Background()))

	f, ok := s.GetFile("late/b.txt")
	require.True(t, ok)
	require.Equal(t, "b", f.Content)
	count := s.FilesCount()

	// The watcher also reports the file; applying the duplicate create changes nothing.
	s.HandleWatchEvents(context.Background(), []sandbox.Event{{Path: "late/b.txt", Kind: sandbox.EventCreate}})
	require.Equal(t, count, s.FilesCount())
	f, ok = s.GetFile("late/b.txt")
	require.True(t, ok)
	require.Equal(t, "b", f.Content)
}
