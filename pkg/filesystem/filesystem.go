// Package filesystem provides an abstraction layer for filesystem operations
// to enable dependency injection and testing without actual filesystem I/O.
//
// The real implementation wraps afero's OsFs; tests use MemFileSystem, an afero
// MemMapFs with symlinks, fixed disk usage and fault injection layered on top.
package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Exported variables.
var (
	ErrSymlinkUnsupported = errors.New("symlinks not supported by this filesystem")
	ErrUsageUnsupported   = errors.New("disk usage not supported on this platform")
)

// File is an open file handle.
type File = afero.File

// Usage describes the capacity of the volume holding a path.
type Usage struct {
	Free  uint64 // bytes available to the current user
	Total uint64
}

// FileSystem is an interface that abstracts filesystem operations.
// This allows for dependency injection and testing with mock implementations.
type FileSystem interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	MkdirAll(path string, perm os.FileMode) error
	Chtimes(path string, atime, mtime time.Time) error
	Chmod(path string, mode os.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
	Stat(path string) (os.FileInfo, error)
	// Lstat does not follow a trailing symlink.
	Lstat(path string) (os.FileInfo, error)
	// ReadDir lists a directory without following symlinks, sorted by name.
	ReadDir(path string) ([]os.FileInfo, error)
	Symlink(target, link string) error
	Readlink(link string) (string, error)
	// RealPath resolves every symlink in path.
	RealPath(path string) (string, error)
	// DiskUsage reports the volume capacity for path, or for its nearest existing
	// ancestor when path does not exist yet.
	DiskUsage(path string) (Usage, error)
}

// AferoFileSystem implements FileSystem on top of an afero.Fs.
type AferoFileSystem struct {
	fs    afero.Fs
	usage func(path string) (Usage, error)
}

// NewOsFileSystem creates a FileSystem backed by the operating system.
func NewOsFileSystem() *AferoFileSystem {
	return &AferoFileSystem{
		fs:    afero.NewOsFs(),
		usage: diskUsage,
	}
}

// Afero returns the underlying afero filesystem.
func (a *AferoFileSystem) Afero() afero.Fs {
	return a.fs
}

// Chmod changes the mode of a file.
func (a *AferoFileSystem) Chmod(path string, mode os.FileMode) error {
	err := a.fs.Chmod(path, mode)
	if err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}

	return nil
}

// Chtimes changes the access and modification times of a file.
func (a *AferoFileSystem) Chtimes(path string, atime, mtime time.Time) error {
	err := a.fs.Chtimes(path, atime, mtime)
	if err != nil {
		return fmt.Errorf("failed to change times for %s: %w", path, err)
	}

	return nil
}

// Create creates a file for writing.
func (a *AferoFileSystem) Create(path string) (File, error) {
	file, err := a.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return file, nil
}

// DiskUsage reports capacity for the volume holding path.
func (a *AferoFileSystem) DiskUsage(path string) (Usage, error) {
	existing, err := a.nearestExisting(path)
	if err != nil {
		return Usage{}, err
	}

	usage, err := a.usage(existing)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read disk usage for %s: %w", existing, err)
	}

	return usage, nil
}

// Lstat returns file information without following a trailing symlink.
func (a *AferoFileSystem) Lstat(path string) (os.FileInfo, error) {
	if lstater, ok := a.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		if err != nil {
			return nil, fmt.Errorf("failed to lstat %s: %w", path, err)
		}
		return info, nil
	}

	return a.Stat(path)
}

// MkdirAll creates a directory and all necessary parents.
func (a *AferoFileSystem) MkdirAll(path string, perm os.FileMode) error {
	err := a.fs.MkdirAll(path, perm)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// Open opens a file for reading.
func (a *AferoFileSystem) Open(path string) (File, error) {
	file, err := a.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return file, nil
}

// ReadDir lists a directory sorted by name.
func (a *AferoFileSystem) ReadDir(path string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	return infos, nil
}

// Readlink returns the destination of a symlink.
func (a *AferoFileSystem) Readlink(link string) (string, error) {
	reader, ok := a.fs.(afero.LinkReader)
	if !ok {
		return "", ErrSymlinkUnsupported
	}

	target, err := reader.ReadlinkIfPossible(link)
	if err != nil {
		return "", fmt.Errorf("failed to read link %s: %w", link, err)
	}

	return target, nil
}

// RealPath resolves every symlink in path.
func (a *AferoFileSystem) RealPath(path string) (string, error) {
	if _, ok := a.fs.(*afero.OsFs); ok {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		return resolved, nil
	}

	return filepath.Clean(path), nil
}

// Remove removes a file or empty directory.
func (a *AferoFileSystem) Remove(path string) error {
	err := a.fs.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// RemoveAll removes path and any children it contains.
func (a *AferoFileSystem) RemoveAll(path string) error {
	err := a.fs.RemoveAll(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Rename moves a file or directory.
func (a *AferoFileSystem) Rename(oldPath, newPath string) error {
	err := a.fs.Rename(oldPath, newPath)
	if err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
	}

	return nil
}

// Stat returns file information.
func (a *AferoFileSystem) Stat(path string) (os.FileInfo, error) {
	info, err := a.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}

// Symlink creates link pointing at target.
func (a *AferoFileSystem) Symlink(target, link string) error {
	linker, ok := a.fs.(afero.Linker)
	if !ok {
		return ErrSymlinkUnsupported
	}

	err := linker.SymlinkIfPossible(target, link)
	if err != nil {
		return fmt.Errorf("failed to create link %s -> %s: %w", link, target, err)
	}

	return nil
}

func (a *AferoFileSystem) nearestExisting(path string) (string, error) {
	current := filepath.Clean(path)
	for {
		if _, err := a.fs.Stat(current); err == nil {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("failed to find an existing ancestor of %s: %w", path, os.ErrNotExist)
		}
		current = parent
	}
}

// Exists reports whether path exists (without following a trailing symlink).
func Exists(fsys FileSystem, path string) bool {
	_, err := fsys.Lstat(path)
	return err == nil
}

// IsSymlink reports whether info describes a symbolic link.
func IsSymlink(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}
