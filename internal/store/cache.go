package store

import (
	"sort"
	"sync"

	"github.com/calvinalkan/tagstore/internal/tags"
)

// group is one cached tag group.
//
// writeMu serializes everything that mutates the group or its storage file
// from this process (adds, reloads, removal, compaction). mu guards the tag
// set for readers, so a Get never waits on disk I/O.
type group struct {
	writeMu sync.Mutex

	// Guarded by writeMu.
	removed bool
	pending []string

	mu   sync.RWMutex
	set  *tags.Set
	live bool
}

func newGroup() *group {
	return &group{set: tags.NewSet()}
}

// sorted returns the tags in presentation order and whether the group holds
// loaded or written state.
func (g *group) sorted() ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.set.Sorted(), g.live
}

func (g *group) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.set.Len()
}

// insert adds the candidates that are not yet present and returns them in
// candidate order.
func (g *group) insert(candidates []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := make([]string, 0, len(candidates))

	for _, c := range candidates {
		if g.set.Add(c) {
			added = append(added, c)
		}
	}

	g.live = true

	return added
}

// replace swaps in set wholesale.
func (g *group) replace(set *tags.Set) {
	g.mu.Lock()
	g.set = set
	g.live = true
	g.mu.Unlock()
}

// cache maps group ids to groups. The map lock is only held for lookups and
// membership changes; group contents are synchronized per group.
type cache struct {
	mu     sync.RWMutex
	groups map[string]*group
}

func newCache() *cache {
	return &cache{groups: make(map[string]*group)}
}

func (c *cache) lookup(id string) (*group, bool) {
	c.mu.RLock()
	g, ok := c.groups[id]
	c.mu.RUnlock()

	return g, ok
}

// acquire returns the group for id with its writeMu held, creating it when
// missing. created reports whether this call inserted it. A group removed
// while waiting for writeMu is never returned.
func (c *cache) acquire(id string) (g *group, created bool) {
	for {
		c.mu.Lock()

		g, ok := c.groups[id]
		if !ok {
			g = newGroup()
			c.groups[id] = g
		}

		c.mu.Unlock()

		g.writeMu.Lock()

		if !g.removed {
			return g, !ok
		}

		g.writeMu.Unlock()
	}
}

// removeLocked drops g from the map. The caller holds g.writeMu.
func (c *cache) removeLocked(id string, g *group) {
	g.removed = true

	c.mu.Lock()
	if c.groups[id] == g {
		delete(c.groups, id)
	}
	c.mu.Unlock()
}

// ids returns the ids of all live groups, sorted.
func (c *cache) ids() []string {
	c.mu.RLock()

	ids := make([]string, 0, len(c.groups))
	groups := make([]*group, 0, len(c.groups))

	for id, g := range c.groups {
		ids = append(ids, id)
		groups = append(groups, g)
	}

	c.mu.RUnlock()

	out := ids[:0]

	for i, g := range groups {
		g.mu.RLock()
		live := g.live
		g.mu.RUnlock()

		if live {
			out = append(out, ids[i])
		}
	}

	sort.Strings(out)

	return out
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.groups)
}
