// Package tags defines group ids, tags, the case-insensitive tag set and the
// newline-delimited storage file format.
package tags

import (
	"fmt"
	"sort"
	"strings"
)

// Storage file naming.
const (
	filePrefix = "tags_"
	fileExt    = ".txt"
)

// ValidGroupID reports whether id is non-empty and consists of ASCII letters
// and digits only.
func ValidGroupID(id string) bool {
	if id == "" {
		return false
	}

	for i := range len(id) {
		c := id[i]

		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return false
		}
	}

	return true
}

// ValidateGroupID returns an error wrapping [ErrInvalidGroupID] if id is not valid.
func ValidateGroupID(id string) error {
	if !ValidGroupID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidGroupID, id)
	}

	return nil
}

// FileName returns the storage file name for a group: tags_<id>.txt.
func FileName(groupID string) string {
	return filePrefix + groupID + fileExt
}

// GroupIDFromFileName extracts the group id from a storage file name.
// Hidden files, lock artifacts and anything not shaped like tags_<id>.txt
// are rejected.
func GroupIDFromFileName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}

	rest, ok := strings.CutPrefix(name, filePrefix)
	if !ok {
		return "", false
	}

	id, ok := strings.CutSuffix(rest, fileExt)
	if !ok || !ValidGroupID(id) {
		return "", false
	}

	return id, true
}

// ValidateTag returns an error wrapping [ErrInvalidTag] if tag cannot be
// stored as a single line of a storage file.
func ValidateTag(tag string) error {
	if strings.ContainsAny(tag, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidTag, tag)
	}

	return nil
}

// Normalize trims every candidate and drops the empty ones. Order is kept and
// duplicates are not removed.
//
// A candidate with a line break left after trimming fails the whole batch
// (see [ValidateTag]): written as is it would split into several tags.
func Normalize(candidates []string) ([]string, error) {
	out := make([]string, 0, len(candidates))

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}

		if err := ValidateTag(c); err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, nil
}

// Fold returns the uniqueness key of a tag.
func Fold(tag string) string {
	return strings.ToLower(tag)
}

// Set is an insertion-ordered set of tags keyed case-insensitively. The first
// casing seen for a key is the one kept.
//
// Set is not safe for concurrent use.
type Set struct {
	keys  map[string]struct{}
	order []string
}

// NewSet returns a set holding tags, deduplicated in order.
func NewSet(tags ...string) *Set {
	s := &Set{keys: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.Add(t)
	}

	return s
}

// Add inserts tag unless a case-insensitive equal is present. Reports whether
// it was inserted.
func (s *Set) Add(tag string) bool {
	key := Fold(tag)
	if _, ok := s.keys[key]; ok {
		return false
	}

	s.keys[key] = struct{}{}
	s.order = append(s.order, tag)

	return true
}

// Has reports whether a case-insensitive equal of tag is present.
func (s *Set) Has(tag string) bool {
	_, ok := s.keys[Fold(tag)]

	return ok
}

// Len returns the number of tags.
func (s *Set) Len() int {
	return len(s.order)
}

// Tags returns the tags in insertion order.
func (s *Set) Tags() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

// Sorted returns the tags in byte-wise lexicographic order.
func (s *Set) Sorted() []string {
	out := s.Tags()
	sort.Strings(out)

	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	c := &Set{
		keys:  make(map[string]struct{}, len(s.keys)),
		order: make([]string, len(s.order)),
	}

	for k := range s.keys {
		c.keys[k] = struct{}{}
	}

	copy(c.order, s.order)

	return c
}
