package bridge

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
)

// Dir is the shared directory seen by both the agent and the terminal.
// Names are plain file names, never paths.
type Dir interface {
	// WriteFileAtomic replaces name with data so that readers see either the
	// old content or the new content, never a mix.
	WriteFileAtomic(name string, data []byte) error

	// ReadFile returns the content of name. A missing file yields an error
	// matching fs.ErrNotExist.
	ReadFile(name string) ([]byte, error)

	// Rename moves oldName to newName, replacing newName if it exists.
	Rename(oldName, newName string) error

	// Remove deletes name.
	Remove(name string) error

	// List returns the names matching a path.Match pattern, sorted.
	List(pattern string) ([]string, error)
}

// OSDir is a Dir backed by a directory on the local filesystem.
type OSDir struct {
	Root string
}

// NewOSDir returns an OSDir rooted at root, creating the directory if needed.
func NewOSDir(root string) (*OSDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %s: %w", root, err)
	}
	return &OSDir{Root: root}, nil
}

func (d *OSDir) path(name string) string {
	return filepath.Join(d.Root, name)
}

// WriteFileAtomic writes to a hidden temp file in the same directory, syncs
// it and renames it over name.
func (d *OSDir) WriteFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(d.Root, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, d.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", name, err)
	}
	return nil
}

// ReadFile reads name from the directory.
func (d *OSDir) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(d.path(name)) //nolint:gosec // G304: name is built from a validated order number
}

// Rename renames a file within the directory.
func (d *OSDir) Rename(oldName, newName string) error {
	return os.Rename(d.path(oldName), d.path(newName))
}

// Remove deletes a file from the directory.
func (d *OSDir) Remove(name string) error {
	return os.Remove(d.path(name))
}

// List returns the regular files whose names match pattern.
func (d *OSDir) List(pattern string) ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Root, err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := path.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", d.Root, err)
		}
		if ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// MemDir is an in-memory Dir for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type MemDir struct {
	mu    sync.Mutex
	files map[string][]byte

	// FailWrites makes every WriteFileAtomic call return this error.
	FailWrites error
	// FailRenames makes every Rename call return this error.
	FailRenames error
}

// NewMemDir creates an empty MemDir.
func NewMemDir() *MemDir {
	return &MemDir{files: make(map[string][]byte)}
}

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

// WriteFileAtomic stores a copy of data under name.
func (d *MemDir) WriteFileAtomic(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWrites != nil {
		return d.FailWrites
	}
	d.files[name] = append([]byte(nil), data...)
	return nil
}

// ReadFile returns a copy of the content stored under name.
func (d *MemDir) ReadFile(name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[name]
	if !ok {
		return nil, notExist("open", name)
	}
	return append([]byte(nil), data...), nil
}

// Rename moves a file.
func (d *MemDir) Rename(oldName, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailRenames != nil {
		return d.FailRenames
	}
	data, ok := d.files[oldName]
	if !ok {
		return notExist("rename", oldName)
	}
	delete(d.files, oldName)
	d.files[newName] = data
	return nil
}

// Remove deletes a file.
func (d *MemDir) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return notExist("remove", name)
	}
	delete(d.files, name)
	return nil
}

// List returns the names matching pattern, sorted.
func (d *MemDir) List(pattern string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := []string{}
	for name := range d.files {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether name exists.
func (d *MemDir) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[name]
	return ok
}

// Names returns every file name, sorted.
func (d *MemDir) Names() []string {
	names, _ := d.List("*")
	return names
}
