// Package fileops provides tree-level file operations (copy, manifest, verify, remove)
// on top of the filesystem abstraction.
package fileops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/joe/dirmover/pkg/filesystem"
)

// Exported constants.
const (
	// BufferSize is the size of the buffer used for file copy operations (64KB)
	BufferSize = 64 * 1024
	// DefaultDirPermissions is the default permission mode for created directories
	DefaultDirPermissions = 0o750
	// DefaultHashWorkers is the number of concurrent hashers used by VerifyManifest.
	DefaultHashWorkers = 4
)

// Exported variables.
var (
	ErrCopyCancelled        = errors.New("copy cancelled")
	ErrVerificationMismatch = errors.New("verification mismatch")
	// ErrUnsupportedFile marks pipes, sockets and devices, which cannot be copied as data.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// ProgressCallback is called during file operations to report progress
type ProgressCallback func(bytesTransferred int64, totalBytes int64, currentFile string)

// FileOps provides file operations with dependency injection for filesystem access.
// This allows for testing without actual filesystem I/O.
type FileOps struct {
	FS filesystem.FileSystem
	// HashWorkers bounds the goroutine pool used to hash files during verification.
	HashWorkers int
}

// NewFileOps creates a new FileOps instance with the given filesystem.
func NewFileOps(fs filesystem.FileSystem) *FileOps {
	return &FileOps{FS: fs, HashWorkers: DefaultHashWorkers}
}

// CopyFile copies a file from src to dst, returning the bytes written and the sha256 of
// the data read from src. A partially written destination is removed on failure.
func (fo *FileOps) CopyFile(src, dst string, progress func(written int64)) (int64, string, error) {
	// Opening a named pipe blocks until a writer appears, so check before opening.
	if info, err := fo.FS.Lstat(src); err == nil && !info.Mode().IsRegular() {
		return 0, "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, src, info.Mode().Type())
	}

	sourceFile, err := fo.FS.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open source file %s: %w", src, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return 0, "", fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	dstDir := filepath.Dir(dst)

	err = fo.FS.MkdirAll(dstDir, DefaultDirPermissions)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create destination directory %s: %w", dstDir, err)
	}

	destFile, err := fo.FS.Create(dst)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}

	copyCompleted := false

	defer func() {
		_ = destFile.Close()
		if !copyCompleted {
			_ = fo.FS.Remove(dst)
		}
	}()

	hasher := sha256.New()

	written, err := copyLoop(sourceFile, destFile, hasher, progress)
	if err != nil {
		return written, "", fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	// Close before Chtimes; some filesystems reset mtime on close.
	err = destFile.Close()
	if err != nil {
		return written, "", fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}

	err = fo.FS.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime())
	if err != nil {
		return written, "", fmt.Errorf("failed to preserve modification time for %s: %w", dst, err)
	}

	_ = fo.FS.Chmod(dst, sourceInfo.Mode().Perm())

	copyCompleted = true

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// CopyTree copies src to dst sequentially and returns the source manifest with file
// hashes filled in from the copied data. dst must not exist yet. The context is checked
// between files; a cancelled copy returns ErrCopyCancelled and leaves whatever was already
// copied for the caller to clean up.
func (fo *FileOps) CopyTree(ctx context.Context, src, dst string, progress ProgressCallback) (*Manifest, error) {
	manifest, err := fo.BuildManifest(src)
	if err != nil {
		return nil, err
	}

	var copied int64

	for _, rel := range manifest.Paths() {
		if ctx.Err() != nil {
			return manifest, fmt.Errorf("%w: %w", ErrCopyCancelled, ctx.Err())
		}

		entry := manifest.Entries[rel]
		target := joinRel(dst, rel)
		source := joinRel(src, rel)

		switch {
		case entry.IsDir:
			err = fo.FS.MkdirAll(target, DefaultDirPermissions)
			if err != nil {
				return manifest, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case entry.IsLink:
			err = fo.FS.Symlink(entry.LinkTarget, target)
			if err != nil {
				return manifest, fmt.Errorf("failed to recreate link %s: %w", target, err)
			}
		default:
			base := copied
			written, sum, copyErr := fo.CopyFile(source, target, func(n int64) {
				if progress != nil {
					progress(base+n, manifest.TotalBytes, source)
				}
			})
			if copyErr != nil {
				return manifest, copyErr
			}
			if written != entry.Size {
				return manifest, fmt.Errorf("failed to copy %s: size changed during copy (%d != %d): %w",
					source, written, entry.Size, io.ErrShortWrite)
			}
			entry.Hash = sum
			copied += written
		}
	}

	if progress != nil {
		progress(copied, manifest.TotalBytes, "")
	}

	return manifest, nil
}

// HashFile computes the SHA256 hash of a file.
func (fo *FileOps) HashFile(filePath string) (string, error) {
	file, err := fo.FS.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()

	_, err = io.CopyBuffer(hasher, file, make([]byte, BufferSize))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s for hashing: %w", filePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// RemoveTree removes path and everything beneath it. A missing path is not an error.
func (fo *FileOps) RemoveTree(path string) error {
	if !filesystem.Exists(fo.FS, path) {
		return nil
	}

	err := fo.FS.RemoveAll(path)
	if err != nil {
		return fmt.Errorf("failed to remove tree %s: %w", path, err)
	}

	return nil
}

// Size returns the total bytes of regular files under path (or the size of path itself
// when it is a file).
func (fo *FileOps) Size(path string) (int64, error) {
	manifest, err := fo.BuildManifest(path)
	if err != nil {
		return 0, err
	}

	return manifest.TotalBytes, nil
}

// copyLoop copies src to dst in BufferSize chunks, feeding every chunk to hasher.
func copyLoop(src io.Reader, dst io.Writer, hasher hash.Hash, progress func(int64)) (int64, error) {
	var written int64

	buf := make([]byte, BufferSize)

	for {
		nr, err := src.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			if werr != nil {
				return written + int64(nw), fmt.Errorf("failed to write to destination: %w", werr)
			}

			if nr != nw {
				return written + int64(nw), fmt.Errorf("short write: %w", io.ErrShortWrite)
			}

			_, _ = hasher.Write(buf[0:nr])
			written += int64(nw)

			if progress != nil {
				progress(written)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return written, fmt.Errorf("failed to read from source: %w", err)
		}
	}

	return written, nil
}

func joinRel(root, rel string) string {
	if rel == "." || rel == "" {
		return root
	}

	return filepath.Join(root, filepath.FromSlash(rel))
}

// modeOf keeps the type bits that matter for manifests.
func modeOf(info os.FileInfo) os.FileMode {
	return info.Mode() & (os.ModeDir | os.ModeSymlink | os.ModePerm)
}
