// Package store keeps named groups of case-insensitively unique tags in
// memory, backed by one append-only text file per group.
//
// Writes go to memory first and are then appended to the group's storage file
// under a cross-process file lock. A watcher reconciles the cache with
// external edits of the storage directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/tags"
)

const (
	dirPerm = 0o755

	defaultDebounce        = 500 * time.Millisecond
	defaultScanConcurrency = 8
	defaultReloadRetries   = 3
	eventBuffer            = 256
)

// Options configures [Open]. Zero values select defaults.
type Options struct {
	// Logger receives store and watcher logs. Nil disables logging.
	Logger *zerolog.Logger

	// FS is the filesystem used for storage files and locks. Defaults to [fs.Real].
	FS fs.FS

	// Lock controls storage file locking. Zero means [fs.DefaultLockOptions].
	Lock fs.LockOptions

	// Debounce is the quiet period a changed storage file must reach before
	// it is reloaded.
	Debounce time.Duration

	// ResyncInterval, when positive, rescans the whole directory periodically.
	ResyncInterval time.Duration

	// ScanConcurrency bounds parallel reloads during a scan.
	ScanConcurrency int

	// ReloadRetries is how often a reload that lost lock contention is
	// requeued before waiting for the next event.
	ReloadRetries int

	// Registerer receives the store metrics. Nil keeps them private.
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Lock == (fs.LockOptions{}) {
		o.Lock = fs.DefaultLockOptions()
	}

	if o.Debounce <= 0 {
		o.Debounce = defaultDebounce
	}

	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = defaultScanConcurrency
	}

	if o.ReloadRetries < 0 {
		o.ReloadRetries = 0
	} else if o.ReloadRetries == 0 {
		o.ReloadRetries = defaultReloadRetries
	}

	return o
}

// State is the lifecycle state of a [Store].
type State int32

// Store lifecycle states.
const (
	StateInitializing State = iota
	StateScanning
	StateWatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateScanning:
		return "scanning"
	case StateWatching:
		return "watching"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// AddResult reports the tags an [Store.AddTags] call actually added.
type AddResult struct {
	AddedCount int
	AddedTags  []string
}

// Store is a tag store over one storage directory. Create it with [Open] and
// release it with [Store.Close]. All methods are safe for concurrent use.
type Store struct {
	dir     string
	fs      fs.FS
	locker  *fs.Locker
	opts    Options
	log     zerolog.Logger
	metrics *metrics
	cache   *cache

	fsw    *fsnotify.Watcher
	events chan string

	state atomic.Int32
	ready chan struct{}
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
}

// Open prepares a store over dir.
//
// The directory is created if missing and the watcher is subscribed before
// Open returns; any failure there aborts. The initial scan runs in the
// background: Get and AddTags return [ErrNotReady] until [Store.Ready] is
// closed.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("open store: directory is empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts = opts.withDefaults()

	locker, err := fs.NewLocker(opts.FS, opts.Lock)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	err = opts.FS.MkdirAll(abs, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("open store: create directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("open store: create watcher: %w", err)
	}

	err = fsw.Add(abs)
	if err != nil {
		_ = fsw.Close()

		return nil, fmt.Errorf("open store: watch %s: %w", abs, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		dir:    abs,
		fs:     opts.FS,
		locker: locker,
		opts:   opts,
		log:    logger.With().Str("component", "store").Logger(),
		cache:  newCache(),
		fsw:    fsw,
		events: make(chan string, eventBuffer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	s.metrics = newMetrics(opts.Registerer, s.cache.size)

	s.log.Debug().Str("dir", abs).Msg("storage directory ensured")

	s.state.Store(int32(StateScanning))

	s.wg.Add(3)

	go s.forwardEvents()
	go s.runWorker()
	go s.initialScan()

	return s, nil
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// Ready is closed once the initial scan finished and the store serves requests.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the store is ready, closed, or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) usable() error {
	switch s.State() {
	case StateWatching:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, tags.FileName(id))
}

// Get returns the tags of a group sorted byte-wise. found is false for an
// unknown group, which is not an error.
func (s *Store) Get(groupID string) ([]string, bool, error) {
	err := tags.ValidateGroupID(groupID)
	if err != nil {
		return nil, false, err
	}

	err = s.usable()
	if err != nil {
		return nil, false, err
	}

	g, ok := s.cache.lookup(groupID)
	if !ok {
		return []string{}, false, nil
	}

	sorted, live := g.sorted()
	if !live {
		return []string{}, false, nil
	}

	return sorted, true, nil
}

// Groups returns the ids of all known groups, sorted.
func (s *Store) Groups() ([]string, error) {
	err := s.usable()
	if err != nil {
		return nil, err
	}

	return s.cache.ids(), nil
}

// AddTags adds the candidates not yet present in the group and appends them
// to its storage file.
//
// Candidates are trimmed and empty ones dropped; presence is checked
// case-insensitively. A candidate containing a line break rejects the whole
// call with an error wrapping [tags.ErrInvalidTag] and nothing is added. The new tags are visible to readers before the append
// starts. If the append fails the result is still returned, together with
// an error wrapping [ErrDurability] and the cause; the failed tags are
// retried with the group's next append.
func (s *Store) AddTags(ctx context.Context, groupID string, candidates []string) (AddResult, error) {
	err := tags.ValidateGroupID(groupID)
	if err != nil {
		return AddResult{}, err
	}

	err = s.usable()
	if err != nil {
		return AddResult{}, err
	}

	normalized, err := tags.Normalize(candidates)
	if err != nil {
		return AddResult{}, err
	}

	if len(normalized) == 0 {
		return AddResult{AddedTags: []string{}}, nil
	}

	g, _ := s.cache.acquire(groupID)
	defer g.writeMu.Unlock()

	added := g.insert(normalized)
	result := AddResult{AddedCount: len(added), AddedTags: added}

	s.metrics.tagsAdded.Add(float64(len(added)))

	toWrite := append(g.pending, added...)
	if len(toWrite) == 0 {
		return result, nil
	}

	path := s.path(groupID)
	start := time.Now()

	appended := false

	err = s.locker.WithLock(ctx, path, func() error {
		appendErr := tags.Append(s.fs, path, toWrite)
		appended = appendErr == nil

		return appendErr
	})

	s.metrics.appendDuration.Observe(time.Since(start).Seconds())

	// The tags are on disk even when releasing the lock failed afterwards;
	// queueing them again would duplicate their lines.
	if err != nil && appended {
		g.pending = nil

		s.log.Warn().Err(err).Str("group", groupID).Msg("tags appended, releasing lock failed")

		return result, nil
	}

	if err != nil {
		g.pending = toWrite

		s.metrics.durabilityFailures.Inc()
		s.log.Warn().Err(err).Str("group", groupID).Int("pending", len(toWrite)).Msg("append failed, tags kept in memory")

		return result, errors.Join(ErrDurability, err)
	}

	g.pending = nil

	return result, nil
}

// Compact rewrites the storage file of a group without duplicates and
// replaces the cached set with the result. Tags still waiting for a durable
// append are included. It returns how many duplicate lines were dropped.
func (s *Store) Compact(ctx context.Context, groupID string) (int, error) {
	err := tags.ValidateGroupID(groupID)
	if err != nil {
		return 0, err
	}

	err = s.usable()
	if err != nil {
		return 0, err
	}

	g, created := s.cache.acquire(groupID)
	defer g.writeMu.Unlock()

	removed := 0
	path := s.path(groupID)

	err = s.locker.WithLock(ctx, path, func() error {
		data, readErr := s.fs.ReadFile(path)
		if readErr != nil {
			if errors.Is(readErr, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
			}

			return fmt.Errorf("%w: %w", ErrCorruptRead, readErr)
		}

		set := tags.DecodeSet(data)
		removed = countTagLines(data) - set.Len()

		for _, t := range g.pending {
			set.Add(t)
		}

		writeErr := s.fs.WriteFileAtomic(path, tags.Encode(set), tags.FilePerm)
		if writeErr != nil {
			return fmt.Errorf("rewrite %s: %w", path, writeErr)
		}

		g.replace(set)
		g.pending = nil

		return nil
	})
	if err != nil {
		if created {
			s.cache.removeLocked(groupID, g)
		}

		return 0, fmt.Errorf("compact %s: %w", groupID, err)
	}

	s.log.Info().Str("group", groupID).Int("removed", removed).Msg("compacted")

	return removed, nil
}

// Close stops the watcher and waits for background work. Calls after the
// first return [ErrClosed].
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.State() == StateClosed {
		return ErrClosed
	}

	s.state.Store(int32(StateClosed))
	s.cancel()
	close(s.done)

	err := s.fsw.Close()

	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}

	return nil
}
