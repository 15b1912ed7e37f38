package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
)

var fileRe = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Entry is one migration definition found in a namespace.
type Entry struct {
	ID        string // <timestamp>_<name>, the filename without extension
	Timestamp string
	Name      string
	Path      string // path in fs
}

// ParseName splits a migration filename into its parts. The timestamp ends
// at the first underscore; everything after it up to the final ".sql" is the
// name, whatever characters it holds.
func ParseName(filename string) (Entry, bool) {
	m := fileRe.FindStringSubmatch(filename)
	if m == nil {
		return Entry{}, false
	}
	return Entry{
		ID:        m[1] + "_" + m[2],
		Timestamp: m[1],
		Name:      m[2],
	}, true
}

// EnsureDir creates dir (and parents) when it is absent.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ScanDir scans a local directory on disk, creating it first if needed so
// that a fresh checkout lists zero migrations instead of failing.
func ScanDir(dir string) ([]Entry, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return filepath.Join(dir, name) }), nil
}

// ScanFS scans an fs.FS (embedded or otherwise) under a root dir path
// (logical path). A missing root yields no entries.
func ScanFS(fsys fs.FS, root string) ([]Entry, error) {
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(fsys, root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return path.Join(root, name) }), nil
}

func scan(entries []fs.DirEntry, full func(name string) string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entry, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		entry.Path = full(e.Name())
		out = append(out, entry)
	}
	SortEntries(out)
	return out
}

// SortEntries orders entries by ID, which is the application order.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}
