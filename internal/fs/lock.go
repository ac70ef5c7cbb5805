package fs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LockSuffix is appended to a target path to form its lock artifact.
const LockSuffix = ".lock"

var (
	// ErrLockContended is returned when a lock is still held by someone else
	// after all retries are exhausted (or immediately, for [Locker.TryLock]).
	ErrLockContended = errors.New("lock contended")

	// ErrInvalidLockOptions is returned by [NewLocker] for unusable options.
	ErrInvalidLockOptions = errors.New("invalid lock options")

	// ErrLockLost is returned by [Lock.Close] and [Lock.Refresh] when the
	// artifact no longer carries this holder's token, i.e. it was reclaimed as
	// stale and possibly re-acquired by another holder.
	ErrLockLost = errors.New("lock lost")
)

const (
	lockFilePerm = 0o644
	lockDirPerm  = 0o755
)

// LockOptions controls retry, backoff and staleness of a [Locker].
type LockOptions struct {
	// Retries is the number of additional attempts after the first one.
	Retries int

	// MinBackoff is the wait before the first retry.
	MinBackoff time.Duration

	// Factor multiplies the wait after every retry. Must be >= 1.
	Factor float64

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration

	// Stale is the artifact age after which a lock is considered abandoned.
	Stale time.Duration

	// ReclaimDeadHolders also treats a fresh artifact as abandoned when the PID
	// recorded in it no longer exists on this host. Only enable it when every
	// writer of the directory runs in the same PID namespace; a writer on
	// another host or container would otherwise lose its lock.
	ReclaimDeadHolders bool
}

// DefaultLockOptions returns 5 retries starting at 100ms growing by 1.2x
// (capped at 1s), and a 10s staleness threshold.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Retries:    5,
		MinBackoff: 100 * time.Millisecond,
		Factor:     1.2,
		MaxBackoff: time.Second,
		Stale:      10 * time.Second,
	}
}

func (o LockOptions) validate() error {
	switch {
	case o.Retries < 0:
		return fmt.Errorf("%w: retries must be >= 0, got %d", ErrInvalidLockOptions, o.Retries)
	case o.MinBackoff <= 0:
		return fmt.Errorf("%w: min backoff must be > 0, got %s", ErrInvalidLockOptions, o.MinBackoff)
	case o.Factor < 1:
		return fmt.Errorf("%w: backoff factor must be >= 1, got %g", ErrInvalidLockOptions, o.Factor)
	case o.MaxBackoff < o.MinBackoff:
		return fmt.Errorf("%w: max backoff %s below min backoff %s", ErrInvalidLockOptions, o.MaxBackoff, o.MinBackoff)
	case o.Stale <= 0:
		return fmt.Errorf("%w: stale must be > 0, got %s", ErrInvalidLockOptions, o.Stale)
	}

	return nil
}

// Backoff returns the wait before retry number attempt (0-based).
func (o LockOptions) Backoff(attempt int) time.Duration {
	d := float64(o.MinBackoff) * math.Pow(o.Factor, float64(attempt))
	if d >= float64(o.MaxBackoff) {
		return o.MaxBackoff
	}

	return time.Duration(d)
}

// MaxWait is the upper bound of time [Locker.Lock] spends sleeping.
func (o LockOptions) MaxWait() time.Duration {
	var total time.Duration
	for i := range o.Retries {
		total += o.Backoff(i)
	}

	return total
}

// Locker coordinates writers of a file through a sidecar lock artifact
// (<path>.lock) created with O_EXCL.
//
// The artifact's existence means "held"; its modification time decides
// whether a holder is still considered alive. A lock older than
// [LockOptions.Stale] is reclaimed by the next acquirer. With
// [LockOptions.ReclaimDeadHolders] a lock whose recorded PID no longer exists
// on this host is reclaimed as well.
//
// Locking is advisory: it protects writers that use a Locker on the same path,
// nothing else. Locker keeps no state besides the artifacts on disk and is
// safe for concurrent use.
type Locker struct {
	fs    FS
	opts  LockOptions
	pid   int
	now   func() time.Time
	alive func(pid int) bool
}

// NewLocker creates a Locker that uses fsys for all artifact operations.
func NewLocker(fsys FS, opts LockOptions) (*Locker, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Locker{
		fs:    fsys,
		opts:  opts,
		pid:   os.Getpid(),
		now:   time.Now,
		alive: processAlive,
	}, nil
}

// Options returns the options the Locker was created with.
func (l *Locker) Options() LockOptions {
	return l.opts
}

// Lock represents a held sidecar lock. Call [Lock.Close] to release it.
type Lock struct {
	mu       sync.Mutex
	fs       FS
	path     string
	token    string
	released bool
}

// Path returns the lock artifact path.
func (lk *Lock) Path() string {
	return lk.path
}

// Close releases the lock by removing the artifact.
//
// Close is idempotent - calling it multiple times is safe and subsequent calls
// return nil. If the artifact was reclaimed by another holder in the meantime
// it is left alone and Close returns an error wrapping [ErrLockLost].
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.released {
		return nil
	}

	lk.released = true

	if err := lk.verifyLocked(); err != nil {
		return err
	}

	err := lk.fs.Remove(lk.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}

	return nil
}

// Refresh bumps the artifact's modification time so a long-running holder is
// not mistaken for an abandoned one.
func (lk *Lock) Refresh() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.released {
		return fmt.Errorf("%w: already released", ErrLockLost)
	}

	if err := lk.verifyLocked(); err != nil {
		return err
	}

	now := time.Now()

	return lk.fs.Chtimes(lk.path, now, now)
}

func (lk *Lock) verifyLocked() error {
	data, err := lk.fs.ReadFile(lk.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s removed", ErrLockLost, lk.path)
		}

		return fmt.Errorf("reading lock file: %w", err)
	}

	if string(data) != lk.token {
		return fmt.Errorf("%w: %s taken over", ErrLockLost, lk.path)
	}

	return nil
}

// Lock acquires the lock for path, retrying with multiplicative backoff.
//
// The total time spent waiting is bounded by [LockOptions.MaxWait]. When all
// attempts fail the returned error wraps [ErrLockContended]. A cancelled ctx
// aborts the wait and returns ctx.Err().
func (l *Locker) Lock(ctx context.Context, path string) (*Lock, error) {
	artifact := path + LockSuffix

	for attempt := 0; ; attempt++ {
		lk, err := l.tryAcquire(artifact)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrLockContended) {
			return nil, err
		}

		if attempt >= l.opts.Retries {
			return nil, fmt.Errorf("%w: %s (%d attempts)", ErrLockContended, path, attempt+1)
		}

		timer := time.NewTimer(l.opts.Backoff(attempt))

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// TryLock makes a single attempt to acquire the lock for path.
//
// Returns an error wrapping [ErrLockContended] if it is held.
func (l *Locker) TryLock(path string) (*Lock, error) {
	lk, err := l.tryAcquire(path + LockSuffix)
	if errors.Is(err, ErrLockContended) {
		return nil, fmt.Errorf("%w: %s", ErrLockContended, path)
	}

	return lk, err
}

// WithLock runs fn while holding the lock for path. The lock is released on
// every exit path of fn, including a panic.
func (l *Locker) WithLock(ctx context.Context, path string, fn func() error) (err error) {
	lk, err := l.Lock(ctx, path)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := lk.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing lock: %w", closeErr))
		}
	}()

	lk.mu.Lock()
	verifyErr := lk.verifyLocked()
	lk.mu.Unlock()

	if verifyErr != nil {
		return verifyErr
	}

	return fn()
}

// tryAcquire makes one attempt. Returns ErrLockContended (unwrapped) when the
// artifact exists and is not stale.
func (l *Locker) tryAcquire(artifact string) (*Lock, error) {
	// At most two creates: a reclaimed stale lock gets one immediate retry.
	for range 2 {
		lk, err := l.create(artifact)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		reclaimed, err := l.reclaimIfStale(artifact)
		if err != nil {
			return nil, err
		}

		if !reclaimed {
			return nil, ErrLockContended
		}
	}

	return nil, ErrLockContended
}

func (l *Locker) create(artifact string) (*Lock, error) {
	file, err := l.openExclusive(artifact)
	if err != nil {
		return nil, err
	}

	token := l.newToken()

	_, writeErr := file.Write([]byte(token))
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		_ = l.fs.Remove(artifact)

		return nil, fmt.Errorf("writing lock file: %w", errors.Join(writeErr, closeErr))
	}

	return &Lock{fs: l.fs, path: artifact, token: token}, nil
}

func (l *Locker) openExclusive(artifact string) (File, error) {
	const flag = os.O_CREATE | os.O_EXCL | os.O_WRONLY

	f, err := l.fs.OpenFile(artifact, flag, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(artifact), lockDirPerm); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	return l.fs.OpenFile(artifact, flag, lockFilePerm)
}

// reclaimIfStale removes artifact if it is stale. It reports true when the
// caller should try to create the artifact again.
//
// The artifact is first renamed to a unique name and checked again: its
// content must still be the token that was judged stale, and it must still be
// stale. If another acquirer replaced the stale lock, or its holder refreshed
// it in between, the lock is linked back into place (link never overwrites)
// instead of being deleted.
//
// Between the rename and the link the path is free. A third acquirer creating
// the artifact in that window wins, and the holder whose lock was moved aside
// learns about it from [ErrLockLost] on its next verification.
func (l *Locker) reclaimIfStale(artifact string) (bool, error) {
	info, err := l.fs.Stat(artifact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("stat lock file: %w", err)
	}

	judged, err := l.fs.ReadFile(artifact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("reading lock file: %w", err)
	}

	if !l.isStale(info, judged) {
		return false, nil
	}

	grave := artifact + ".stale-" + randomHex(6)

	if err := l.fs.Rename(artifact, grave); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("reclaiming stale lock: %w", err)
	}

	if l.replacedDuringReclaim(grave, judged) {
		linkErr := l.fs.Link(grave, artifact)
		_ = l.fs.Remove(grave)

		if linkErr != nil && !errors.Is(linkErr, os.ErrExist) {
			return false, fmt.Errorf("restoring lock file: %w", linkErr)
		}

		return false, nil
	}

	_ = l.fs.Remove(grave)

	return true, nil
}

// replacedDuringReclaim reports whether grave holds a different lock than the
// one judged stale, or the same one refreshed by its holder in the meantime.
func (l *Locker) replacedDuringReclaim(grave string, judged []byte) bool {
	moved, err := l.fs.ReadFile(grave)
	if err != nil {
		return false
	}

	if string(moved) != string(judged) {
		return true
	}

	info, err := l.fs.Stat(grave)

	return err == nil && !l.isStale(info, moved)
}

func (l *Locker) isStale(info os.FileInfo, data []byte) bool {
	if l.now().Sub(info.ModTime()) > l.opts.Stale {
		return true
	}

	if !l.opts.ReclaimDeadHolders {
		return false
	}

	pid, ok := parseHolderPID(data)
	if !ok || pid == l.pid {
		return false
	}

	return !l.alive(pid)
}

func (l *Locker) newToken() string {
	return strconv.Itoa(l.pid) + " " + randomHex(8) + "\n"
}

func parseHolderPID(data []byte) (int, bool) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

// processAlive reports whether pid exists. EPERM means it exists but belongs
// to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
