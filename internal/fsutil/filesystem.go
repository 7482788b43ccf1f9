// Package fsutil provides filesystem abstractions for testability and the
// atomic write used for every artefact the codec produces.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem abstracts filesystem operations for testability.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// CreateTemp creates a new file in dir whose name starts with pattern.
	CreateTemp(dir, pattern string) (TempFile, error)

	// Rename atomically replaces newpath with oldpath.
	Rename(oldpath, newpath string) error

	// Chmod changes the mode of the named file.
	Chmod(name string, mode os.FileMode) error

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error
}

// TempFile is the writable handle returned by CreateTemp.
type TempFile interface {
	io.WriteCloser
	Name() string
	Sync() error
}

// WriteFileAtomic writes data to a temporary file next to name and renames
// it into place, so readers see either the old content or the new content
// and never a partial file. The temporary file is closed on every path and
// removed when the write does not complete.
func WriteFileAtomic(fsys FileSystem, name string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(filepath.Clean(name))
	if dir == "" {
		dir = "."
	}
	tmp, err := fsys.CreateTemp(dir, "."+base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if err != nil {
			fsys.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = fsys.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = fsys.Rename(tmpName, name); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, name, err)
	}
	return nil
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// ReadFile reads the named file.
func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// CreateTemp creates a temporary file.
func (OSFileSystem) CreateTemp(dir, pattern string) (TempFile, error) {
	return os.CreateTemp(dir, pattern)
}

// Rename renames a file.
func (OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Chmod changes file mode.
func (OSFileSystem) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

// Stat returns file info for the named file.
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// MkdirAll creates a directory path.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove removes the named file or directory.
func (OSFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// MemoryFileSystem provides an in-memory filesystem for testing.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string]*memFile
	dirs  map[string]bool
	seq   int

	// RenameErr, when set, makes every Rename fail with it.
	RenameErr error
	// WriteErr, when set, makes every temp file Write fail with it.
	WriteErr error
}

type memFile struct {
	data []byte
	mode os.FileMode
}

// NewMemoryFileSystem creates a new in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string]*memFile),
		dirs:  make(map[string]bool),
	}
}

// ReadFile reads a file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	f, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}

	result := make([]byte, len(f.data))
	copy(result, f.data)
	return result, nil
}

// WriteFile stores data directly, bypassing the temp file path. It is a
// fixture helper.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.files[filepath.Clean(name)] = &memFile{data: dataCopy, mode: perm}
}

// CreateTemp creates an empty file with a unique name in dir.
func (m *MemoryFileSystem) CreateTemp(dir, pattern string) (TempFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	name := filepath.Join(dir, fmt.Sprintf("%s%d", pattern, m.seq))
	m.files[name] = &memFile{data: []byte{}, mode: 0600}
	return &memTempFile{fs: m, name: name}, nil
}

// Rename moves a file.
func (m *MemoryFileSystem) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RenameErr != nil {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: m.RenameErr}
	}
	oldpath, newpath = filepath.Clean(oldpath), filepath.Clean(newpath)
	f, ok := m.files[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	delete(m.files, oldpath)
	m.files[newpath] = f
	return nil
}

// Chmod changes file mode.
func (m *MemoryFileSystem) Chmod(name string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[filepath.Clean(name)]
	if !ok {
		return &fs.PathError{Op: "chmod", Path: name, Err: fs.ErrNotExist}
	}
	f.mode = mode
	return nil
}

// Stat returns file info.
func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)

	if m.dirs[name] {
		return &memFileInfo{name: filepath.Base(name), isDir: true}, nil
	}

	f, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	return &memFileInfo{
		name: filepath.Base(name),
		size: int64(len(f.data)),
		mode: f.mode,
	}, nil
}

// MkdirAll creates directories.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.dirs[path] = true

	// Create parent directories
	for p := filepath.Dir(path); p != "." && p != "/" && p != path; p = filepath.Dir(p) {
		m.dirs[p] = true
	}

	return nil
}

// Remove removes a file or empty directory.
func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)

	if _, ok := m.files[name]; ok {
		delete(m.files, name)
		return nil
	}

	if m.dirs[name] {
		delete(m.dirs, name)
		return nil
	}

	return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
}

// Files lists every file path, sorted.
func (m *MemoryFileSystem) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.files))
	for name := range m.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// memTempFile buffers writes and publishes them on Sync and Close.
type memTempFile struct {
	fs     *MemoryFileSystem
	name   string
	buf    []byte
	closed bool
}

func (f *memTempFile) Name() string { return f.name }

func (f *memTempFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.fs.WriteErr != nil {
		return 0, f.fs.WriteErr
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *memTempFile) Sync() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.publish()
	return nil
}

func (f *memTempFile) Close() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	f.publish()
	return nil
}

func (f *memTempFile) publish() {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if existing, ok := f.fs.files[f.name]; ok {
		existing.data = append([]byte(nil), f.buf...)
	}
}

// IsTemp reports whether name looks like a WriteFileAtomic temp file.
func IsTemp(name string) bool {
	return strings.Contains(filepath.Base(name), ".tmp-")
}

// memFileInfo implements fs.FileInfo.
type memFileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	isDir bool
}

func (i *memFileInfo) Name() string       { return i.name }
func (i *memFileInfo) Size() int64        { return i.size }
func (i *memFileInfo) Mode() os.FileMode  { return i.mode }
func (i *memFileInfo) ModTime() time.Time { return time.Time{} }
func (i *memFileInfo) IsDir() bool        { return i.isDir }
func (i *memFileInfo) Sys() any           { return nil }
