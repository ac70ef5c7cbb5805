package tags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/calvinalkan/tagstore/internal/fs"
)

// FilePerm is the mode of newly created storage files.
const FilePerm = 0o644

// Decode parses a storage file: one tag per line, LF or CRLF, surrounding
// whitespace trimmed, blank lines dropped, case-insensitive duplicates
// dropped (first occurrence wins).
func Decode(data []byte) []string {
	return DecodeSet(data).Tags()
}

// DecodeSet is [Decode] returning the [Set] directly.
func DecodeSet(data []byte) *Set {
	set := NewSet()

	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set.Add(line)
		}
	}

	return set
}

// EncodeAppend renders tags for appending to a storage file. When the file
// already has content a single separating newline is prepended, so a last
// line without terminator is never glued to the first new tag.
func EncodeAppend(newTags []string, fileNonEmpty bool) []byte {
	if len(newTags) == 0 {
		return nil
	}

	body := strings.Join(newTags, "\n")
	if fileNonEmpty {
		body = "\n" + body
	}

	return []byte(body)
}

// Encode renders a whole storage file. Only used when a file is rewritten
// from scratch (compaction); regular adds go through [EncodeAppend].
func Encode(set *Set) []byte {
	return []byte(strings.Join(set.Tags(), "\n"))
}

// Load reads and decodes the storage file at path.
//
// A missing file is not an error: it yields an empty set and found=false.
// Any other read error is returned as is.
func Load(fsys fs.FS, path string) (*Set, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSet(), false, nil
		}

		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}

	return DecodeSet(data), true, nil
}

// Append appends newTags to the storage file at path, creating it if needed,
// and syncs it. The caller is expected to hold the file's lock.
func Append(fsys fs.FS, path string, newTags []string) (err error) {
	if len(newTags) == 0 {
		return nil
	}

	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePerm)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, closeErr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if _, err := file.Write(EncodeAppend(newTags, info.Size() > 0)); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}

	return nil
}
