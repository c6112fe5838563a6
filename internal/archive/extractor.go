// Package archive opens student handin archives of several formats behind a
// single streaming interface. Entry names are canonicalized to forward
// slashes no matter what separator convention the source archive uses.
package archive

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates the file extension matches no known
	// archive format.
	ErrUnsupportedFormat = errors.New("archive format not recognized")

	// ErrTooManyFiles indicates the archive holds more entries than the
	// configured cap allows.
	ErrTooManyFiles = errors.New("archive contains too many files")
)

// Extractor streams (name, content) pairs out of an archive. Directory
// entries are never yielded. Next returns io.EOF after the last entry, and
// the reader it returns is only valid until the following Next call. Reset
// restarts iteration from the first entry; an Extractor does not support
// concurrent iteration.
type Extractor interface {
	Next() (string, io.Reader, error)
	Reset() error
	Close() error
}

type opener func(path string) (Extractor, error)

var formats = map[string]opener{
	".zip": openZip,
	".rar": openRar,
	".tar": openTar,
	".tgz": openTar,
	".gz":  openTar,
	".bz2": openTar,
	".tbz": openTar,
}

// Open picks an extractor by the file extension of path, case-insensitive.
func Open(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	open, ok := formats[ext]
	if !ok {
		return nil, ErrUnsupportedFormat
	}
	return open(path)
}

// SupportedName reports whether the file extension of name maps to a known
// archive format. Useful for rejecting uploads before storing them.
func SupportedName(name string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(name))]
	return ok
}

// canonical normalizes an entry name to forward slashes without leading "./".
func canonical(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	return strings.TrimSuffix(name, "/")
}

// junkTopDir names top-level directories injected by packing tools rather
// than by the student.
func junkTopDir(name string) bool {
	return name == "__MACOSX"
}

// topSegment returns the first path segment of name and whether name has any
// directory component at all.
func topSegment(name string) (string, bool) {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i], true
	}
	return name, false
}

// FileList collects all entry names. Iteration is restarted first, so the
// extractor may be reused afterwards with another Reset.
func FileList(ex Extractor) ([]string, error) {
	if err := ex.Reset(); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, _, err := ex.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
}

// CountFiles counts entries, failing with ErrTooManyFiles once the count
// exceeds max. Callers use it to reject archive bombs before extraction.
func CountFiles(ex Extractor, max int) (int, error) {
	if err := ex.Reset(); err != nil {
		return 0, err
	}
	count := 0
	for {
		_, _, err := ex.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
		if count > max {
			return count, ErrTooManyFiles
		}
	}
}

// OneDir reports whether every entry lives under one identical top-level
// directory. Platform junk directories are ignored during the determination
// and never decide the outcome on their own. Naive uploads often wrap their
// content in a superfluous directory; callers strip it when OneDir is true.
func OneDir(ex Extractor) (bool, error) {
	if err := ex.Reset(); err != nil {
		return false, err
	}
	top := ""
	seen := false
	for {
		name, _, err := ex.Next()
		if err == io.EOF {
			return seen, nil
		}
		if err != nil {
			return false, err
		}
		seg, hasDir := topSegment(name)
		if junkTopDir(seg) {
			continue
		}
		if !hasDir {
			return false, nil
		}
		if !seen {
			top = seg
			seen = true
		} else if seg != top {
			return false, nil
		}
	}
}

// StripDir removes the first path segment from name. Names without a
// directory component are returned unchanged.
func StripDir(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// IsJunkEntry reports whether the entry belongs to a junk top-level
// directory and should never be extracted.
func IsJunkEntry(name string) bool {
	seg, _ := topSegment(name)
	return junkTopDir(seg)
}
