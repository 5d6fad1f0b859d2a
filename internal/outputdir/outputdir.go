// Package outputdir owns the directory that exported spreadsheets are written
// to. Exports hold a shared lease while a file is generated and sent; Purge
// takes the exclusive side, so a sweep never deletes a file mid-delivery.
package outputdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrMissing = errors.New("output directory does not exist")

type Dir struct {
	root string
	mu   sync.RWMutex
}

func New(root string) *Dir {
	return &Dir{root: filepath.Clean(root)}
}

func (d *Dir) Root() string {
	return d.root
}

// Lease blocks while a purge is running and returns the release func.
func (d *Dir) Lease() func() {
	d.mu.RLock()
	var once sync.Once
	return func() { once.Do(d.mu.RUnlock) }
}

// PathFor returns the file path for one export operation. Each operation gets
// its own subdirectory so concurrent requests for the same range never share
// a file.
func (d *Dir) PathFor(operationID, filename string) (string, error) {
	if strings.ContainsAny(operationID, `/\`) || operationID == "" || operationID == "." || operationID == ".." {
		return "", fmt.Errorf("invalid operation id %q", operationID)
	}
	if filename != filepath.Base(filename) || filename == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return filepath.Join(d.root, operationID, filename), nil
}

// Prepare creates the parent directory for path.
func (d *Dir) Prepare(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func (d *Dir) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Purge removes the whole tree. A missing root returns ErrMissing.
func (d *Dir) Purge() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrMissing
		}
		return fmt.Errorf("stat %s: %w", d.root, err)
	}
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("remove %s: %w", d.root, err)
	}
	return nil
}

// Usage reports file count and total size; a missing root is empty.
func (d *Dir) Usage() (files int, bytes int64, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	err = filepath.WalkDir(d.root, func(_ string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.Type().IsRegular() {
			info, infoErr := entry.Info()
			if infoErr != nil {
				return infoErr
			}
			files++
			bytes += info.Size()
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0, nil
	}
	return files, bytes, err
}
