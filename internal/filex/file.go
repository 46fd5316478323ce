// Package filex holds the file-system helpers behind the store lifecycle:
// owner-only directories, crash-safe replacement of a file and backups.
package filex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// EnsureDir creates dir and its parents with perm. An existing directory is
// left as is.
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// Exists reports whether path exists. Errors other than "not exist" are
// returned.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// AtomicWriter replaces files through a temporary sibling and a rename, so a
// reader sees either the old content or the complete new content.
type AtomicWriter struct {
	// BeforeRename runs after the temporary file is fully written and synced
	// and before it is renamed over the target. Returning an error aborts the
	// replacement and leaves the target untouched.
	BeforeRename func(tmpPath string) error
}

// WriteAtomic replaces path with data using a zero AtomicWriter.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	return AtomicWriter{}.Write(path, data, perm)
}

// Write writes data to "<path>.<nanos>.tmp" in the same directory, syncs it,
// and renames it over path. The temporary file is removed on failure.
func (w AtomicWriter) Write(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, filepath.Base(path)+"."+strconv.FormatInt(time.Now().UnixNano(), 10)+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if w.BeforeRename != nil {
		if err = w.BeforeRename(tmp); err != nil {
			return err
		}
	}

	if err = renameWithFallback(tmp, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// renameWithFallback renames src over dst. Platforms that refuse to rename
// over an existing file get one retry after removing dst.
func renameWithFallback(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if rmErr := os.Remove(dst); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	if err2 := os.Rename(src, dst); err2 != nil {
		return fmt.Errorf("rename %s: %w", dst, err2)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// CopyAtomic copies src to dst through WriteAtomic.
func CopyAtomic(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return WriteAtomic(dst, data, perm)
}
