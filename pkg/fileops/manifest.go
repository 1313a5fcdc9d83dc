package fileops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kr/fs"
	"github.com/panjf2000/ants/v2"

	"github.com/joe/dirmover/pkg/filesystem"
)

// ManifestEntry describes one path inside a manifest.
type ManifestEntry struct {
	RelativePath string // slash-separated, "." for the root itself
	Size         int64
	Mode         os.FileMode
	ModTime      time.Time
	Hash         string // sha256, empty until computed
	IsDir        bool
	IsLink       bool
	LinkTarget   string
}

// Manifest is the inventory of a tree: every directory, file and link keyed by its path
// relative to Root.
type Manifest struct {
	Root       string
	Entries    map[string]*ManifestEntry
	TotalBytes int64
	Files      int
	Dirs       int
	Links      int
}

// Paths returns the relative paths with the root first and the rest in lexical order, so
// parents precede their children.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for rel := range m.Entries {
		paths = append(paths, rel)
	}

	sort.Slice(paths, func(i, j int) bool {
		if paths[i] == "." || paths[j] == "." {
			return paths[i] == "." && paths[j] != "."
		}
		return paths[i] < paths[j]
	})

	return paths
}

// Mismatch is one difference found by VerifyManifest.
type Mismatch struct {
	RelativePath string
	Reason       string
}

// MismatchError lists every difference between an expected manifest and a target tree.
type MismatchError struct {
	Root       string
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d mismatches under %s", len(e.Mismatches), e.Root)
	for i, m := range e.Mismatches {
		if i == 3 {
			fmt.Fprintf(&b, "; ... %d more", len(e.Mismatches)-i)
			break
		}
		fmt.Fprintf(&b, "; %s: %s", m.RelativePath, m.Reason)
	}
	return b.String()
}

func (e *MismatchError) Unwrap() error {
	return ErrVerificationMismatch
}

// BuildManifest walks root without following symlinks and records every entry. Hashes are
// left empty. Pipes, sockets and devices fail with ErrUnsupportedFile.
func (fo *FileOps) BuildManifest(root string) (*Manifest, error) {
	manifest := &Manifest{
		Root:    root,
		Entries: make(map[string]*ManifestEntry),
	}

	walker := fs.WalkFS(root, walkAdapter{fo.FS})
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", walker.Path(), err)
		}

		info := walker.Stat()

		rel, err := filepath.Rel(root, walker.Path())
		if err != nil {
			return nil, fmt.Errorf("failed to relativize %s: %w", walker.Path(), err)
		}

		entry := &ManifestEntry{
			RelativePath: filepath.ToSlash(rel),
			Mode:         modeOf(info),
			ModTime:      info.ModTime(),
		}

		switch {
		case filesystem.IsSymlink(info):
			target, linkErr := fo.FS.Readlink(walker.Path())
			if linkErr != nil {
				return nil, fmt.Errorf("failed to read link %s: %w", walker.Path(), linkErr)
			}
			entry.IsLink = true
			entry.LinkTarget = target
			manifest.Links++
		case info.IsDir():
			entry.IsDir = true
			manifest.Dirs++
		case !info.Mode().IsRegular():
			return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, walker.Path(), info.Mode().Type())
		default:
			entry.Size = info.Size()
			manifest.TotalBytes += info.Size()
			manifest.Files++
		}

		manifest.Entries[entry.RelativePath] = entry
	}

	return manifest, nil
}

// VerifyManifest checks that the tree at root matches expected: same entries, same file
// sizes, same link targets and, when checksums is set, same sha256 for every file whose
// expected hash is known. Files are hashed on a bounded ants pool. The returned error is a
// *MismatchError (matching ErrVerificationMismatch) when the trees differ.
func (fo *FileOps) VerifyManifest(ctx context.Context, expected *Manifest, root string, checksums bool) error {
	actual, err := fo.BuildManifest(root)
	if err != nil {
		return err
	}

	var mismatches []Mismatch
	var toHash []*ManifestEntry

	for _, rel := range expected.Paths() {
		want := expected.Entries[rel]
		got, ok := actual.Entries[rel]

		switch {
		case !ok:
			mismatches = append(mismatches, Mismatch{RelativePath: rel, Reason: "missing"})
		case want.IsDir != got.IsDir || want.IsLink != got.IsLink:
			mismatches = append(mismatches, Mismatch{RelativePath: rel, Reason: "type differs"})
		case want.IsLink && want.LinkTarget != got.LinkTarget:
			mismatches = append(mismatches, Mismatch{RelativePath: rel, Reason: "link target differs"})
		case !want.IsDir && !want.IsLink && want.Size != got.Size:
			mismatches = append(mismatches, Mismatch{
				RelativePath: rel,
				Reason:       fmt.Sprintf("size %d, expected %d", got.Size, want.Size),
			})
		case checksums && !want.IsDir && !want.IsLink && want.Hash != "":
			toHash = append(toHash, want)
		}
	}

	for _, rel := range actual.Paths() {
		if _, ok := expected.Entries[rel]; !ok {
			mismatches = append(mismatches, Mismatch{RelativePath: rel, Reason: "unexpected"})
		}
	}

	hashMismatches, err := fo.hashAll(ctx, root, toHash)
	if err != nil {
		return err
	}

	mismatches = append(mismatches, hashMismatches...)
	if len(mismatches) == 0 {
		return nil
	}

	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].RelativePath < mismatches[j].RelativePath
	})

	return &MismatchError{Root: root, Mismatches: mismatches}
}

// hashAll hashes the target counterpart of every entry and reports those whose hash differs.
func (fo *FileOps) hashAll(ctx context.Context, root string, entries []*ManifestEntry) ([]Mismatch, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	workers := fo.HashWorkers
	if workers <= 0 {
		workers = DefaultHashWorkers
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash pool: %w", err)
	}
	defer pool.Release()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		mismatches []Mismatch
		firstErr   error
	)

	var interrupted error

	for _, entry := range entries {
		if ctx.Err() != nil {
			interrupted = ctx.Err()
			break
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			sum, hashErr := fo.HashFile(joinRel(root, entry.RelativePath))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case hashErr != nil && firstErr == nil:
				firstErr = hashErr
			case hashErr == nil && sum != entry.Hash:
				mismatches = append(mismatches, Mismatch{RelativePath: entry.RelativePath, Reason: "checksum differs"})
			}
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("failed to schedule hash of %s: %w", entry.RelativePath, submitErr)
		}
	}

	wg.Wait()

	if interrupted != nil {
		return nil, fmt.Errorf("verification interrupted: %w", interrupted)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return mismatches, nil
}

// walkAdapter exposes a filesystem.FileSystem to kr/fs.
type walkAdapter struct {
	fsys filesystem.FileSystem
}

func (w walkAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	return w.fsys.ReadDir(dirname) //nolint:wrapcheck // already wrapped by the filesystem
}

func (w walkAdapter) Lstat(name string) (os.FileInfo, error) {
	return w.fsys.Lstat(name) //nolint:wrapcheck // already wrapped by the filesystem
}

func (w walkAdapter) Join(elem ...string) string {
	return filepath.Join(elem...)
}
