package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TestBuilder is the subset of [testing.T] used by [StrictTestFS].
//
// This keeps [StrictTestFS] usable from tests in other packages without
// depending on _test.go files.
type TestBuilder interface {
	// [testing.T.Helper]
	Helper()
	// [testing.T.Cleanup]
	Cleanup(func())
	// [testing.T.Failed]
	Failed() bool
	// [testing.T.Logf]
	Logf(format string, args ...any)
	// [testing.T.Errorf]
	Errorf(format string, args ...any)
}

// StrictTestFS wraps an [FS] for tests:
//   - Records a bounded trace of recent FS operations
//   - Fails the test on any real filesystem error
//
// Errors injected by [Chaos] are expected. So are [os.ErrNotExist] and
// [os.ErrExist], which the store and the locker use for control flow (a
// missing storage file, a held lock artifact).
//
// The store calls the FS from background goroutines, so failures are
// reported with Errorf, never Fatalf.
type StrictTestFS struct {
	tb    TestBuilder
	fs    FS
	trace *traceLog
}

// StrictTestFSOptions configures a [StrictTestFS].
type StrictTestFSOptions struct {
	// FS is the underlying filesystem to wrap.
	FS FS
	// TraceCapacity is the max number of operations to keep in the trace log.
	// Defaults to 200. Set to a pointer to 0 to disable tracing.
	TraceCapacity *int
}

// NewStrictTestFS creates a new [StrictTestFS] wrapping the given [FS].
//
// On test failure, logs the trace of recent FS operations via tb.Cleanup.
func NewStrictTestFS(tb TestBuilder, opts StrictTestFSOptions) *StrictTestFS {
	tb.Helper()

	s := &StrictTestFS{
		tb:    tb,
		fs:    opts.FS,
		trace: newTraceLog(opts.TraceCapacity),
	}

	tb.Cleanup(func() {
		if tb.Failed() {
			if trace := s.Trace(); trace != "" {
				tb.Logf("fs trace:\n%s", trace)
			}
		}
	})

	return s
}

// Trace returns a formatted string of recent FS operations.
func (s *StrictTestFS) Trace() string {
	return s.trace.String()
}

func (s *StrictTestFS) Open(path string) (File, error) {
	f, err := s.fs.Open(path)

	return s.wrapFile("open", path, f, err)
}

func (s *StrictTestFS) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := s.fs.OpenFile(path, flag, perm)

	return s.wrapFile("openfile", path, f, err, attr("flag", strconv.Itoa(flag)), attr("perm", fmt.Sprintf("%#o", perm)))
}

func (s *StrictTestFS) ReadFile(path string) ([]byte, error) {
	data, err := s.fs.ReadFile(path)

	return data, s.wrap("readfile", path, err, attr("n", strconv.Itoa(len(data))))
}

func (s *StrictTestFS) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return s.wrap("writeatomic", path, s.fs.WriteFileAtomic(path, data, perm), attr("n", strconv.Itoa(len(data))))
}

func (s *StrictTestFS) ReadDir(path string) ([]os.DirEntry, error) {
	entries, err := s.fs.ReadDir(path)

	return entries, s.wrap("readdir", path, err, attr("n", strconv.Itoa(len(entries))))
}

func (s *StrictTestFS) MkdirAll(path string, perm os.FileMode) error {
	return s.wrap("mkdirall", path, s.fs.MkdirAll(path, perm), attr("perm", fmt.Sprintf("%#o", perm)))
}

func (s *StrictTestFS) Stat(path string) (os.FileInfo, error) {
	info, err := s.fs.Stat(path)

	return info, s.wrap("stat", path, err)
}

func (s *StrictTestFS) Exists(path string) (bool, error) {
	exists, err := s.fs.Exists(path)

	return exists, s.wrap("exists", path, err, attr("exists", strconv.FormatBool(exists)))
}

func (s *StrictTestFS) Chtimes(path string, atime, mtime time.Time) error {
	return s.wrap("chtimes", path, s.fs.Chtimes(path, atime, mtime))
}

func (s *StrictTestFS) Remove(path string) error {
	return s.wrap("remove", path, s.fs.Remove(path))
}

func (s *StrictTestFS) Rename(oldpath, newpath string) error {
	return s.wrap("rename", oldpath, s.fs.Rename(oldpath, newpath), attr("dest", newpath))
}

func (s *StrictTestFS) Link(oldpath, newpath string) error {
	return s.wrap("link", oldpath, s.fs.Link(oldpath, newpath), attr("dest", newpath))
}

// Interface compliance.
var _ FS = (*StrictTestFS)(nil)

func expectedErr(err error) bool {
	return err == nil ||
		IsInjected(err) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrExist)
}

// wrap traces the operation and reports unexpected real errors.
func (s *StrictTestFS) wrap(op, path string, err error, attrs ...kv) error {
	s.trace.add(op, path, err, attrs...)

	if !expectedErr(err) {
		s.tb.Errorf("strictfs: %s %s: unexpected real fs error: %v\n%s", op, path, err, s.Trace())
	}

	return err
}

// wrapFile traces the operation, reports real errors, and wraps the file.
func (s *StrictTestFS) wrapFile(op, path string, f File, err error, attrs ...kv) (File, error) {
	if err := s.wrap(op, path, err, attrs...); err != nil {
		return nil, err
	}

	return &strictFile{s: s, f: f, path: path}, nil
}

type kv struct {
	k string
	v string
}

func attr(k, v string) kv {
	return kv{k: k, v: v}
}

type traceEvent struct {
	seq      uint64
	op       string
	path     string
	err      error
	injected bool
	attrs    []kv
}

func (e traceEvent) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d %s", e.seq, e.op)

	if e.path != "" {
		fmt.Fprintf(&b, " path=%q", e.path)
	}

	for _, a := range e.attrs {
		fmt.Fprintf(&b, " %s=%s", a.k, a.v)
	}

	if e.err == nil {
		b.WriteString(" ok")

		return b.String()
	}

	fmt.Fprintf(&b, " err=%v injected=%t", e.err, e.injected)

	return b.String()
}

// traceLog is a bounded ring of [traceEvent].
type traceLog struct {
	mu       sync.Mutex
	capacity int
	events   []traceEvent
	next     int
	full     bool
	seq      uint64
}

func newTraceLog(capacity *int) *traceLog {
	size := 200
	if capacity != nil {
		size = *capacity
	}

	return &traceLog{
		capacity: size,
		events:   make([]traceEvent, 0, size),
	}
}

func (t *traceLog) add(op, path string, err error, attrs ...kv) {
	if t.capacity == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++

	event := traceEvent{
		seq:      t.seq,
		op:       op,
		path:     path,
		err:      err,
		injected: IsInjected(err),
		attrs:    attrs,
	}

	if len(t.events) < t.capacity {
		t.events = append(t.events, event)

		return
	}

	t.events[t.next] = event
	t.next = (t.next + 1) % t.capacity
	t.full = true
}

func (t *traceLog) snapshot() []traceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]traceEvent(nil), t.events...)
	}

	out := make([]traceEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func (t *traceLog) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, e.String())
	}

	return strings.Join(lines, "\n")
}

// strictFile traces and checks the errors of an open [File].
type strictFile struct {
	s    *StrictTestFS
	f    File
	path string
}

var _ File = (*strictFile)(nil)

func (sf *strictFile) Read(p []byte) (int, error) {
	n, err := sf.f.Read(p)

	return n, sf.s.wrap("file.read", sf.path, err, attr("n", strconv.Itoa(n)))
}

func (sf *strictFile) Write(p []byte) (int, error) {
	n, err := sf.f.Write(p)

	return n, sf.s.wrap("file.write", sf.path, err, attr("n", strconv.Itoa(n)))
}

func (sf *strictFile) Close() error {
	return sf.s.wrap("file.close", sf.path, sf.f.Close())
}

func (sf *strictFile) Stat() (os.FileInfo, error) {
	info, err := sf.f.Stat()

	return info, sf.s.wrap("file.stat", sf.path, err)
}

func (sf *strictFile) Sync() error {
	return sf.s.wrap("file.sync", sf.path, sf.f.Sync())
}
