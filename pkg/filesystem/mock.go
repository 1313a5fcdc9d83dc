package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink resolution, matching the usual kernel limit.
const maxLinkHops = 40

// Op names an operation that can be made to fail in a MemFileSystem.
type Op string

// Fault-injectable operations.
const (
	OpCreate    Op = "create"
	OpMkdir     Op = "mkdir"
	OpOpen      Op = "open"
	OpReadDir   Op = "readdir"
	OpRemove    Op = "remove"
	OpRemoveAll Op = "removeall"
	OpRename    Op = "rename"
	OpStat      Op = "stat"
	OpSymlink   Op = "symlink"
)

// MemFileSystem is an in-memory filesystem for tests. It adds symlinks, a fixed disk usage
// and fault injection to afero's MemMapFs.
type MemFileSystem struct {
	*AferoFileSystem

	mu          sync.RWMutex
	links       map[string]string
	faults      map[faultKey]error
	usage       Usage
	writeLimit  int64 // <0 means unlimited
	written     int64
	writeCounts map[Op]int
}

type faultKey struct {
	op   Op
	path string
}

// NewMemFileSystem creates an empty in-memory filesystem reporting 1 TiB free.
func NewMemFileSystem() *MemFileSystem {
	m := &MemFileSystem{
		links:       make(map[string]string),
		faults:      make(map[faultKey]error),
		usage:       Usage{Free: 1 << 40, Total: 1 << 41},
		writeLimit:  -1,
		writeCounts: make(map[Op]int),
	}
	m.AferoFileSystem = &AferoFileSystem{
		fs:    afero.NewMemMapFs(),
		usage: m.currentUsage,
	}
	return m
}

// Helper methods for testing

// AddFile writes a file, creating parent directories.
func (m *MemFileSystem) AddFile(path string, content []byte) {
	_ = m.fs.MkdirAll(filepath.Dir(path), 0o755)
	_ = afero.WriteFile(m.fs, path, content, 0o644)
}

// AddDir creates a directory and its parents.
func (m *MemFileSystem) AddDir(path string) {
	_ = m.fs.MkdirAll(path, 0o755)
}

// ReadFile returns a file's content, following symlinks.
func (m *MemFileSystem) ReadFile(path string) ([]byte, error) {
	resolved, err := m.resolve(path, true)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(m.fs, resolved)
}

// SetUsage fixes the disk usage reported for every path.
func (m *MemFileSystem) SetUsage(free, total uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{Free: free, Total: total}
}

// SetWriteLimit makes writes fail with ENOSPC once limit bytes have been written in total.
func (m *MemFileSystem) SetWriteLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLimit = limit
	m.written = 0
}

// FailOn makes op on path return err until cleared with ClearFaults.
func (m *MemFileSystem) FailOn(op Op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[faultKey{op: op, path: filepath.Clean(path)}] = err
}

// ClearFaults removes every injected fault.
func (m *MemFileSystem) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[faultKey]error)
}

// MutationCount returns how many mutating calls (create, mkdir, remove, rename, symlink)
// were made.
func (m *MemFileSystem) MutationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.writeCounts {
		total += n
	}
	return total
}

// Paths returns every file, directory and link path, sorted.
func (m *MemFileSystem) Paths() []string {
	var paths []string
	_ = afero.Walk(m.fs, "/", func(path string, _ os.FileInfo, err error) error {
		if err == nil && path != "/" {
			paths = append(paths, path)
		}
		return nil
	})

	m.mu.RLock()
	for link := range m.links {
		paths = append(paths, link)
	}
	m.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// FileSystem overrides

// Chtimes follows symlinks.
func (m *MemFileSystem) Chtimes(path string, atime, mtime time.Time) error {
	resolved, err := m.resolve(path, true)
	if err != nil {
		return err
	}
	return m.AferoFileSystem.Chtimes(resolved, atime, mtime)
}

// Create applies faults and the write limit.
func (m *MemFileSystem) Create(path string) (File, error) {
	if err := m.fault(OpCreate, path); err != nil {
		return nil, err
	}
	resolved, err := m.resolve(path, false)
	if err != nil {
		return nil, err
	}
	m.countMutation(OpCreate)

	file, err := m.AferoFileSystem.Create(resolved)
	if err != nil {
		return nil, err
	}
	return &limitedFile{File: file, owner: m}, nil
}

// Lstat reports links without following them.
func (m *MemFileSystem) Lstat(path string) (os.FileInfo, error) {
	if err := m.fault(OpStat, path); err != nil {
		return nil, err
	}

	clean := filepath.Clean(path)
	parent, err := m.resolve(filepath.Dir(clean), true)
	if err != nil {
		return nil, err
	}
	candidate := filepath.Join(parent, filepath.Base(clean))

	m.mu.RLock()
	target, isLink := m.links[candidate]
	m.mu.RUnlock()
	if isLink {
		return &linkInfo{name: filepath.Base(candidate), target: target}, nil
	}

	return m.AferoFileSystem.Stat(candidate)
}

// MkdirAll applies faults.
func (m *MemFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if err := m.fault(OpMkdir, path); err != nil {
		return err
	}
	resolved, err := m.resolve(path, true)
	if err != nil {
		return err
	}
	m.countMutation(OpMkdir)
	return m.AferoFileSystem.MkdirAll(resolved, perm)
}

// Open follows symlinks.
func (m *MemFileSystem) Open(path string) (File, error) {
	if err := m.fault(OpOpen, path); err != nil {
		return nil, err
	}
	resolved, err := m.resolve(path, true)
	if err != nil {
		return nil, err
	}
	return m.AferoFileSystem.Open(resolved)
}

// ReadDir merges symlinks into the listing.
func (m *MemFileSystem) ReadDir(path string) ([]os.FileInfo, error) {
	if err := m.fault(OpReadDir, path); err != nil {
		return nil, err
	}
	resolved, err := m.resolve(path, true)
	if err != nil {
		return nil, err
	}

	infos, err := m.AferoFileSystem.ReadDir(resolved)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	for link, target := range m.links {
		if filepath.Dir(link) == resolved {
			infos = append(infos, &linkInfo{name: filepath.Base(link), target: target})
		}
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

// Readlink returns a link's target.
func (m *MemFileSystem) Readlink(link string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.links[filepath.Clean(link)]
	if !ok {
		return "", &os.PathError{Op: "readlink", Path: link, Err: syscall.EINVAL}
	}
	return target, nil
}

// RealPath resolves every symlink in path.
func (m *MemFileSystem) RealPath(path string) (string, error) {
	resolved, err := m.resolve(path, true)
	if err != nil {
		return "", err
	}
	if _, err := m.fs.Stat(resolved); err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return resolved, nil
}

// Remove deletes links as well as files.
func (m *MemFileSystem) Remove(path string) error {
	if err := m.fault(OpRemove, path); err != nil {
		return err
	}
	m.countMutation(OpRemove)

	clean := filepath.Clean(path)
	m.mu.Lock()
	if _, ok := m.links[clean]; ok {
		delete(m.links, clean)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.AferoFileSystem.Remove(clean)
}

// RemoveAll deletes a tree, including links beneath it.
func (m *MemFileSystem) RemoveAll(path string) error {
	if err := m.fault(OpRemoveAll, path); err != nil {
		return err
	}
	m.countMutation(OpRemoveAll)

	clean := filepath.Clean(path)
	m.mu.Lock()
	for link := range m.links {
		if link == clean || strings.HasPrefix(link, clean+string(filepath.Separator)) {
			delete(m.links, link)
		}
	}
	m.mu.Unlock()

	return m.AferoFileSystem.RemoveAll(clean)
}

// Rename applies faults.
func (m *MemFileSystem) Rename(oldPath, newPath string) error {
	if err := m.fault(OpRename, oldPath); err != nil {
		return err
	}
	m.countMutation(OpRename)
	return m.AferoFileSystem.Rename(oldPath, newPath)
}

// Stat follows symlinks.
func (m *MemFileSystem) Stat(path string) (os.FileInfo, error) {
	if err := m.fault(OpStat, path); err != nil {
		return nil, err
	}
	resolved, err := m.resolve(path, true)
	if err != nil {
		return nil, err
	}
	return m.AferoFileSystem.Stat(resolved)
}

// Symlink records link -> target.
func (m *MemFileSystem) Symlink(target, link string) error {
	if err := m.fault(OpSymlink, link); err != nil {
		return err
	}

	clean := filepath.Clean(link)
	if Exists(m, clean) {
		return &os.LinkError{Op: "symlink", Old: target, New: link, Err: os.ErrExist}
	}
	if _, err := m.fs.Stat(filepath.Dir(clean)); err != nil {
		return &os.LinkError{Op: "symlink", Old: target, New: link, Err: os.ErrNotExist}
	}

	m.countMutation(OpSymlink)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[clean] = target
	return nil
}

func (m *MemFileSystem) countMutation(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCounts[op]++
}

func (m *MemFileSystem) currentUsage(string) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage, nil
}

func (m *MemFileSystem) fault(op Op, path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.faults[faultKey{op: op, path: filepath.Clean(path)}]; ok {
		return &os.PathError{Op: string(op), Path: path, Err: err}
	}
	return nil
}

// resolve substitutes symlinks component by component. When followLast is false the final
// component is left alone.
func (m *MemFileSystem) resolve(path string, followLast bool) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := filepath.Clean(path)
	for hops := 0; hops <= maxLinkHops; hops++ {
		replaced := false
		parts := strings.Split(current, string(filepath.Separator))
		prefix := string(filepath.Separator)
		for i, part := range parts {
			if part == "" {
				continue
			}
			prefix = filepath.Join(prefix, part)
			if i == len(parts)-1 && !followLast {
				break
			}
			target, ok := m.links[prefix]
			if !ok {
				continue
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(prefix), target)
			}
			rest := parts[i+1:]
			current = filepath.Join(append([]string{target}, rest...)...)
			replaced = true
			break
		}
		if !replaced {
			return current, nil
		}
	}

	return "", &os.PathError{Op: "resolve", Path: path, Err: syscall.ELOOP}
}

// limitedFile enforces the filesystem-wide write limit.
type limitedFile struct {
	File
	owner *MemFileSystem
}

func (f *limitedFile) Write(p []byte) (int, error) {
	f.owner.mu.Lock()
	limit, written := f.owner.writeLimit, f.owner.written
	allowed := int64(len(p))
	if limit >= 0 && written+allowed > limit {
		allowed = max(limit-written, 0)
	}
	f.owner.written += allowed
	f.owner.mu.Unlock()

	n, err := f.File.Write(p[:allowed])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, &os.PathError{Op: "write", Path: f.Name(), Err: syscall.ENOSPC}
	}
	return n, nil
}

// linkInfo describes a symlink in a MemFileSystem.
type linkInfo struct {
	name   string
	target string
}

func (li *linkInfo) Name() string       { return li.name }
func (li *linkInfo) Size() int64        { return int64(len(li.target)) }
func (li *linkInfo) Mode() os.FileMode  { return os.ModeSymlink | 0o777 }
func (li *linkInfo) ModTime() time.Time { return time.Time{} }
func (li *linkInfo) IsDir() bool        { return false }
func (li *linkInfo) Sys() interface{}   { return nil }
