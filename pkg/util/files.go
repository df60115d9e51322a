package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrSpoolWrite marks failures on the local side of Spool (creating,
// flushing or closing the file) as opposed to reading the source.
var ErrSpoolWrite = errors.New("spool write failed")

// EnsureDir creates dir and any missing parents
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FileExists reports whether path names a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Ext returns the lower-cased extension of name including the dot,
// or "" when there is none.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Spool copies r into a fresh file in dir named with the given extension.
// The returned cleanup removes the file; it is safe to call more than once
// and is non-nil even on error, so callers can defer it unconditionally.
func Spool(dir, ext string, r io.Reader) (path string, n int64, cleanup func(), err error) {
	cleanup = func() {}

	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", 0, cleanup, fmt.Errorf("%w: %v", ErrSpoolWrite, err)
	}

	var once sync.Once
	cleanup = func() {
		once.Do(func() { _ = os.Remove(f.Name()) })
	}

	n, err = io.Copy(f, r)
	if err != nil {
		f.Close()
		return f.Name(), n, cleanup, fmt.Errorf("copy to %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), n, cleanup, fmt.Errorf("%w: close %s: %v", ErrSpoolWrite, f.Name(), err)
	}

	return f.Name(), n, cleanup, nil
}
