// Package classifier knows which directories hold per-user application data, which
// category a path belongs to, and which paths are safe to scan, migrate from or migrate to.
package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
	"github.com/joe/dirmover/pkg/filesystem"
)

// Exported variables.
var (
	ErrNoRoots        = errors.New("no permitted roots configured")
	ErrInvalidPattern = errors.New("invalid protected pattern")
	ErrUnknownRoot    = errors.New("unknown root")
)

// Root is a permitted top-level directory. Its Name doubles as the category of every path
// beneath it.
type Root struct {
	Name string
	Path string
}

// Options configures a Classifier. Zero values select the running platform's defaults.
type Options struct {
	// Roots are added to (or, with NoPlatformRoots, replace) the platform defaults.
	Roots           []Root
	NoPlatformRoots bool
	// ProtectedPaths are added to the platform's system paths.
	ProtectedPaths []string
	// ProtectedGlobs are doublestar patterns matched against slash-separated absolute paths.
	ProtectedGlobs []string

	FS     filesystem.FileSystem
	GOOS   string
	Home   string
	Getenv func(string) string
}

// Classifier answers path questions for the scanner and the migration engine.
type Classifier struct {
	fs        filesystem.FileSystem
	goos      string
	roots     []Root
	protected []string
	globs     []string
}

// New builds a Classifier from opts.
func New(opts Options) (*Classifier, error) {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	home := opts.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = filesystem.NewOsFileSystem()
	}

	c := &Classifier{fs: fsys, goos: goos}

	if !opts.NoPlatformRoots {
		c.roots = append(c.roots, platformRoots(goos, home, getenv)...)
	}
	for _, root := range opts.Roots {
		if root.Path == "" {
			continue
		}
		if root.Name == "" {
			root.Name = filepath.Base(root.Path)
		}
		c.roots = append(c.roots, Root{Name: root.Name, Path: filepath.Clean(root.Path)})
	}

	c.protected = protectedPaths(goos, getenv)
	for _, path := range opts.ProtectedPaths {
		c.protected = append(c.protected, filepath.Clean(path))
	}

	for _, pattern := range opts.ProtectedGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
		}
		c.globs = append(c.globs, pattern)
	}

	return c, nil
}

// Roots returns the permitted roots, longest path first.
func (c *Classifier) Roots() []Root {
	roots := make([]Root, len(c.roots))
	copy(roots, c.roots)
	sort.SliceStable(roots, func(i, j int) bool {
		return len(roots[i].Path) > len(roots[j].Path)
	})
	return roots
}

// Category returns the name of the innermost root containing path, or "" when path lies
// outside every root.
func (c *Classifier) Category(path string) string {
	if root, ok := c.rootOf(path); ok {
		return root.Name
	}

	resolved, err := c.fs.RealPath(path)
	if err != nil {
		return ""
	}
	if root, ok := c.rootOf(resolved); ok {
		return root.Name
	}

	return ""
}

// Resolve returns the path of the root named name (case-insensitive).
func (c *Classifier) Resolve(name string) (string, error) {
	for _, root := range c.roots {
		if strings.EqualFold(root.Name, name) {
			return root.Path, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownRoot, name)
}

// ValidateScanRoot checks that path is an absolute, existing directory and returns its
// cleaned form.
func (c *Classifier) ValidateScanRoot(path string) (string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return "", pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("path must be absolute: %q", path), "scan", path)
	}

	clean := filepath.Clean(path)

	info, err := c.fs.Stat(clean)
	if err != nil {
		return "", pkgerrors.Wrap(err, "scan", clean)
	}
	if !info.IsDir() {
		return "", pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("not a directory: %s", clean), "scan", clean)
	}

	return clean, nil
}

// ValidateSource checks that path may be migrated away: it must exist, resolve to a
// location strictly inside a permitted root, and not be a protected system path.
func (c *Classifier) ValidateSource(path string) error {
	const op = "validate"

	if err := checkAbsoluteClean(path); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, err, op, path)
	}

	if _, err := c.fs.Lstat(path); err != nil {
		return pkgerrors.Wrap(err, op, path)
	}

	if c.IsProtected(path) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("refusing to migrate protected path: %s", path), op, path)
	}

	if len(c.roots) == 0 {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, ErrNoRoots, op, path)
	}

	resolvedParent, err := c.fs.RealPath(filepath.Dir(path))
	if err != nil {
		return pkgerrors.Wrap(err, op, path)
	}
	resolved := filepath.Join(resolvedParent, filepath.Base(path))

	for _, root := range c.roots {
		resolvedRoot, rootErr := c.fs.RealPath(root.Path)
		if rootErr != nil {
			continue
		}
		if c.pathKey(resolved) == c.pathKey(resolvedRoot) {
			return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
				fmt.Errorf("refusing to migrate the %s root itself", root.Name), op, path)
		}
		if c.within(resolvedRoot, resolved) {
			return nil
		}
	}

	return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
		fmt.Errorf("path is outside every permitted root: %s", resolved), op, path)
}

// ValidateTarget checks that path is an acceptable migration destination.
func (c *Classifier) ValidateTarget(path string) error {
	const op = "validate"

	if err := checkAbsoluteClean(path); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, err, op, path)
	}

	if c.IsProtected(path) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("refusing to write into protected path: %s", path), op, path)
	}

	return nil
}

// CheckLoop resolves every link in path and reports a SymlinkLoop error when resolution
// cycles.
func (c *Classifier) CheckLoop(path string) error {
	_, err := c.fs.RealPath(path)
	if err == nil {
		return nil
	}

	if pkgerrors.Classify(err) == pkgerrors.KindSymlinkLoop {
		return pkgerrors.Wrapf(pkgerrors.KindSymlinkLoop, err, "resolve", path)
	}

	return nil
}

// IsProtected reports whether path is, or lies inside, a protected system path, or matches
// a protected glob.
func (c *Classifier) IsProtected(path string) bool {
	clean := filepath.Clean(path)

	if filepath.Dir(clean) == clean {
		return true
	}

	for _, protected := range c.protected {
		if c.pathKey(clean) == c.pathKey(protected) || c.within(protected, clean) {
			return true
		}
	}

	slashed := filepath.ToSlash(clean)
	for _, pattern := range c.globs {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}

	return false
}

// Within reports whether child lies strictly inside parent.
func (c *Classifier) Within(parent, child string) bool {
	return c.within(parent, child)
}

func (c *Classifier) rootOf(path string) (Root, bool) {
	for _, root := range c.Roots() {
		if c.pathKey(path) == c.pathKey(root.Path) || c.within(root.Path, path) {
			return root, true
		}
	}
	return Root{}, false
}

func (c *Classifier) pathKey(path string) string {
	return pathKey(c.goos, path)
}

func (c *Classifier) within(parent, child string) bool {
	rel, err := filepath.Rel(c.pathKey(parent), c.pathKey(child))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func checkAbsoluteClean(path string) error {
	if path == "" || !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute: %q", path)
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal elements: %s", path)
		}
	}

	if filepath.Clean(path) != path {
		return fmt.Errorf("path contains suspicious elements: %s", path)
	}

	return nil
}
