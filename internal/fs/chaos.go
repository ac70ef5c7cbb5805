package fs

import (
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	ReadFailRate    float64 // Fail ReadFile and reads from open files
	WriteFailRate   float64 // Fail writes to open files and WriteFileAtomic
	OpenFailRate    float64 // Fail Open/OpenFile
	ReadDirFailRate float64 // Fail ReadDir
	RemoveFailRate  float64 // Fail Remove
	RenameFailRate  float64 // Fail Rename/Link
	StatFailRate    float64 // Fail Stat/Exists
}

// PathState tracks the fault state of a path for consistent error injection.
type PathState int

const (
	// PathNormal means no persistent fault - errors are transient.
	// This is the zero value, so untracked paths are normal.
	PathNormal PathState = iota
	// PathIOError is sticky - the path has a "bad sector" and always returns EIO.
	PathIOError
	// PathReadOnly is sticky for writes - returns EROFS, reads still work.
	PathReadOnly
)

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS.
	// It ignores fault rates and sticky path state.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection and sticky path state.
	ChaosModeInject

	// ChaosModeStickyOnly applies only sticky path state. Fault rates are disabled.
	ChaosModeStickyOnly
)

// Chaos wraps an [FS] and injects failures for testing.
//
// All injected errors are real OS errors (syscall.Errno wrapped in
// *fs.PathError) so code using errors.Is keeps working; [IsInjected]
// distinguishes them from genuine failures.
//
// Sticky path states make failures deterministic: a path marked
// [PathIOError] fails every operation with EIO, one marked [PathReadOnly]
// fails every write with EROFS.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	mu         sync.Mutex
	rng        *rand.Rand
	pathStates map[string]PathState

	readFails  atomic.Int64
	writeFails atomic.Int64
	openFails  atomic.Int64
	otherFails atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fsys FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:         fsys,
		config:     config,
		rng:        rand.New(rand.NewSource(seed)),
		pathStates: make(map[string]PathState),
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently with filesystem
// operations. Switching modes never clears sticky path state.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// SetPathState marks path with a sticky fault state.
func (c *Chaos) SetPathState(path string, state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == PathNormal {
		delete(c.pathStates, path)

		return
	}

	c.pathStates[path] = state
}

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	ReadFails  int64
	WriteFails int64
	OpenFails  int64
	OtherFails int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:  c.readFails.Load(),
		WriteFails: c.writeFails.Load(),
		OpenFails:  c.openFails.Load(),
		OtherFails: c.otherFails.Load(),
	}
}

// fault decides whether op on path fails and with which errno. write marks
// operations that modify the filesystem.
func (c *Chaos) fault(path string, write bool, rate float64) (syscall.Errno, bool) {
	mode := ChaosMode(c.mode.Load())
	if mode == ChaosModePassthrough {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.pathStates[path] {
	case PathIOError:
		return syscall.EIO, true
	case PathReadOnly:
		if write {
			return syscall.EROFS, true
		}
	}

	if mode != ChaosModeInject || c.rng.Float64() >= rate {
		return 0, false
	}

	if write {
		return []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EACCES}[c.rng.Intn(3)], true
	}

	return []syscall.Errno{syscall.EIO, syscall.EACCES}[c.rng.Intn(2)], true
}

// pathError creates an *fs.PathError with the given operation, path, and errno.
// This matches what the real OS returns, so errors.Is() works correctly.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &fs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// --- File Operations ---

func (c *Chaos) Open(path string) (File, error) {
	if errno, ok := c.fault(path, false, c.config.OpenFailRate); ok {
		c.openFails.Add(1)

		return nil, pathError("open", path, errno)
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	write := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0

	if errno, ok := c.fault(path, write, c.config.OpenFailRate); ok {
		c.openFails.Add(1)

		return nil, pathError("open", path, errno)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

// --- Convenience Methods ---

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if errno, ok := c.fault(path, false, c.config.ReadFailRate); ok {
		c.readFails.Add(1)

		return nil, pathError("read", path, errno)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if errno, ok := c.fault(path, true, c.config.WriteFailRate); ok {
		c.writeFails.Add(1)

		return pathError("write", path, errno)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// --- Directory Operations ---

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if errno, ok := c.fault(path, false, c.config.ReadDirFailRate); ok {
		c.otherFails.Add(1)

		return nil, pathError("readdirent", path, errno)
	}

	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if errno, ok := c.fault(path, true, 0); ok {
		c.otherFails.Add(1)

		return pathError("mkdir", path, errno)
	}

	return c.fs.MkdirAll(path, perm)
}

// --- Metadata ---

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if errno, ok := c.fault(path, false, c.config.StatFailRate); ok {
		c.otherFails.Add(1)

		return nil, pathError("stat", path, errno)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if errno, ok := c.fault(path, false, c.config.StatFailRate); ok {
		c.otherFails.Add(1)

		return false, pathError("stat", path, errno)
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Chtimes(path string, atime, mtime time.Time) error {
	if errno, ok := c.fault(path, true, 0); ok {
		c.otherFails.Add(1)

		return pathError("chtimes", path, errno)
	}

	return c.fs.Chtimes(path, atime, mtime)
}

// --- Mutations ---

func (c *Chaos) Remove(path string) error {
	if errno, ok := c.fault(path, true, c.config.RemoveFailRate); ok {
		c.otherFails.Add(1)

		return pathError("remove", path, errno)
	}

	return c.fs.Remove(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if errno, ok := c.fault(oldpath, true, c.config.RenameFailRate); ok {
		c.otherFails.Add(1)

		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: inject(errno)}
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) Link(oldpath, newpath string) error {
	if errno, ok := c.fault(newpath, true, c.config.RenameFailRate); ok {
		c.otherFails.Add(1)

		return &os.LinkError{Op: "link", Old: oldpath, New: newpath, Err: inject(errno)}
	}

	return c.fs.Link(oldpath, newpath)
}

// chaosFile wraps a File and injects read/write faults.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) {
	if errno, ok := cf.chaos.fault(cf.path, false, cf.chaos.config.ReadFailRate); ok {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, errno)
	}

	return cf.f.Read(p)
}

func (cf *chaosFile) Write(p []byte) (int, error) {
	if errno, ok := cf.chaos.fault(cf.path, true, cf.chaos.config.WriteFailRate); ok {
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, errno)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error               { return cf.f.Close() }
func (cf *chaosFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }
func (cf *chaosFile) Sync() error                { return cf.f.Sync() }

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
