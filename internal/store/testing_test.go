package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/tags"
)

const (
	testDebounce = 20 * time.Millisecond
	eventually   = 5 * time.Second
	tick         = 10 * time.Millisecond
)

func fastLockOptions() fs.LockOptions {
	return fs.LockOptions{
		Retries:    2,
		MinBackoff: 5 * time.Millisecond,
		Factor:     1.2,
		MaxBackoff: 20 * time.Millisecond,
		Stale:      10 * time.Second,
	}
}

// openTestStore opens a store over dir (a fresh temp dir when empty), waits
// until it is ready and closes it on cleanup.
func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()

	if dir == "" {
		dir = t.TempDir()
	}

	if opts.Debounce == 0 {
		opts.Debounce = testDebounce
	}

	if opts.Lock == (fs.LockOptions{}) {
		opts.Lock = fastLockOptions()
	}

	s, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()

	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	return s
}

func writeGroupFile(t *testing.T, dir, id, content string) string {
	t.Helper()

	path := filepath.Join(dir, tags.FileName(id))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

func readGroupFile(t *testing.T, dir, id string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, tags.FileName(id)))
	if err != nil {
		t.Fatalf("read group %s: %v", id, err)
	}

	return string(data)
}

func mustGet(t *testing.T, s *Store, id string) ([]string, bool) {
	t.Helper()

	got, found, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%q): %v", id, err)
	}

	return got, found
}
