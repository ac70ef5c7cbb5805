package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/tags"
)

// queued is a pending reconciliation of one group.
type queued struct {
	due     time.Time
	attempt int
}

// forwardEvents turns fsnotify events on storage files into group ids for
// the worker. Everything else in the directory is ignored.
func (s *Store) forwardEvents() {
	defer s.wg.Done()

	log := s.log.With().Str("component", "watcher").Logger()

	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}

			id, ok := tags.GroupIDFromFileName(filepath.Base(ev.Name))
			if !ok {
				continue
			}

			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Chmod) {
				continue
			}

			log.Debug().Str("group", id).Str("op", ev.Op.String()).Msg("event")

			select {
			case s.events <- id:
			case <-s.done:
				return
			}

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}

			s.metrics.watchErrors.Inc()
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

// runWorker is the single reconciliation worker. Each event pushes the
// group's deadline out by the debounce period; a group is reconciled once
// its deadline passes without further events.
func (s *Store) runWorker() {
	defer s.wg.Done()

	queue := make(map[string]queued)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	defer timer.Stop()

	var resync <-chan time.Time

	if s.opts.ResyncInterval > 0 {
		ticker := time.NewTicker(s.opts.ResyncInterval)
		defer ticker.Stop()

		resync = ticker.C
	}

	rearm := func() {
		var next time.Time

		for _, q := range queue {
			if next.IsZero() || q.due.Before(next) {
				next = q.due
			}
		}

		if next.IsZero() {
			timer.Stop()

			return
		}

		timer.Reset(max(time.Until(next), 0))
	}

	for {
		select {
		case <-s.done:
			return

		case id := <-s.events:
			q := queue[id]
			q.due = time.Now().Add(s.opts.Debounce)
			queue[id] = q

			rearm()

		case <-timer.C:
			now := time.Now()

			for id, q := range queue {
				if q.due.After(now) {
					continue
				}

				delete(queue, id)

				if s.reconcile(id) && q.attempt < s.opts.ReloadRetries {
					queue[id] = queued{due: time.Now().Add(s.opts.Debounce), attempt: q.attempt + 1}
				}
			}

			rearm()

		case <-resync:
			if s.State() == StateWatching {
				s.scan(s.ctx)
			}
		}
	}
}

// reconcile brings the cached group in line with its storage file. It
// reports whether the reload lost lock contention and should be retried.
func (s *Store) reconcile(id string) bool {
	_, err := s.fs.Stat(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		s.drop(id, false)

		return false
	}

	err = s.reload(s.ctx, id)

	return errors.Is(err, fs.ErrLockContended)
}

// drop removes a group whose storage file is gone. The file is checked again
// under the group's write lock so a concurrent first append is not lost.
// keepPending spares groups holding tags that never reached the disk.
func (s *Store) drop(id string, keepPending bool) {
	g, ok := s.cache.lookup(id)
	if !ok {
		return
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.removed || (keepPending && len(g.pending) > 0) {
		return
	}

	exists, err := s.fs.Exists(s.path(id))
	if err != nil || exists {
		return
	}

	s.cache.removeLocked(id, g)
	s.metrics.reloads.WithLabelValues(reloadRemoved).Inc()
	s.log.Info().Str("group", id).Msg("group removed")
}

// reload reads the whole storage file under its lock and replaces the cached
// group with it. A missing file removes the group. On any error the cached
// group is left as it was.
func (s *Store) reload(ctx context.Context, id string) error {
	g, created := s.cache.acquire(id)
	defer g.writeMu.Unlock()

	path := s.path(id)

	var (
		set   *tags.Set
		found bool
	)

	err := s.locker.WithLock(ctx, path, func() error {
		var loadErr error

		set, found, loadErr = tags.Load(s.fs, path)
		if loadErr != nil {
			return fmt.Errorf("%w: %w", ErrCorruptRead, loadErr)
		}

		return nil
	})

	switch {
	case err != nil && set == nil:
		if created {
			s.cache.removeLocked(id, g)
		}

		if errors.Is(err, fs.ErrLockContended) {
			s.metrics.reloads.WithLabelValues(reloadContended).Inc()
			s.log.Warn().Str("group", id).Msg("reload skipped: lock contended")
		} else {
			s.metrics.reloads.WithLabelValues(reloadError).Inc()
			s.log.Error().Err(err).Str("group", id).Msg("reload failed")
		}

		return err

	case err != nil:
		// Read succeeded but the lock could not be released cleanly.
		s.log.Warn().Err(err).Str("group", id).Msg("reload lock release")
	}

	if !found {
		s.cache.removeLocked(id, g)
		s.metrics.reloads.WithLabelValues(reloadRemoved).Inc()
		s.log.Info().Str("group", id).Msg("group removed")

		return nil
	}

	g.replace(set)
	g.pending = nil

	s.metrics.reloads.WithLabelValues(reloadOK).Inc()
	s.log.Debug().Str("group", id).Int("size", set.Len()).Msg("reloaded")

	return nil
}

// scan reloads every storage file in the directory concurrently and drops
// cached groups whose file disappeared. Failures are logged per group.
func (s *Store) scan(ctx context.Context) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		s.log.Error().Err(err).Str("dir", s.dir).Msg("scan failed")

		return
	}

	seen := make(map[string]struct{}, len(entries))

	var failed atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.ScanConcurrency)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		id, ok := tags.GroupIDFromFileName(entry.Name())
		if !ok {
			continue
		}

		seen[id] = struct{}{}

		eg.Go(func() error {
			if reloadErr := s.reload(egCtx, id); reloadErr != nil {
				failed.Add(1)
			}

			return nil
		})
	}

	_ = eg.Wait()

	for _, id := range s.cache.ids() {
		if _, ok := seen[id]; !ok {
			s.drop(id, true)
		}
	}

	s.log.Info().Int("groups", len(seen)).Int64("failed", failed.Load()).Msg("scan complete")
}

// initialScan populates the cache and then marks the store ready.
func (s *Store) initialScan() {
	defer s.wg.Done()

	s.log.Info().Str("dir", s.dir).Msg("scanning")

	s.scan(s.ctx)

	if s.state.CompareAndSwap(int32(StateScanning), int32(StateWatching)) {
		close(s.ready)
		s.log.Info().Msg("watching")
	}
}

// countTagLines counts the non-blank lines of a storage file.
func countTagLines(data []byte) int {
	n := 0

	for line := range strings.SplitSeq(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}

	return n
}
