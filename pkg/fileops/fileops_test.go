//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package fileops_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"syscall"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dirmover/pkg/fileops"
	"github.com/joe/dirmover/pkg/filesystem"
)

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func newTree() *filesystem.MemFileSystem {
	fs := filesystem.NewMemFileSystem()
	fs.AddFile("/src/app/a.bin", []byte("aaaa"))
	fs.AddFile("/src/app/sub/b.bin", []byte("bbbbbb"))
	fs.AddDir("/src/app/empty")
	fs.AddDir("/dst")

	return fs
}

func TestBuildManifest(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	g.Expect(fs.Symlink("/elsewhere", "/src/app/link")).To(Succeed())
	ops := fileops.NewFileOps(fs)

	manifest, err := ops.BuildManifest("/src/app")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(manifest.TotalBytes).To(Equal(int64(10)))
	g.Expect(manifest.Files).To(Equal(2))
	g.Expect(manifest.Dirs).To(Equal(3))
	g.Expect(manifest.Links).To(Equal(1))
	g.Expect(manifest.Paths()).To(Equal([]string{".", "a.bin", "empty", "link", "sub", "sub/b.bin"}))
	g.Expect(manifest.Entries["link"].LinkTarget).To(Equal("/elsewhere"))
}

func TestBuildManifest_MissingRoot(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ops := fileops.NewFileOps(filesystem.NewMemFileSystem())

	_, err := ops.BuildManifest("/nope")
	g.Expect(err).To(HaveOccurred())
}

func TestCopyTree_CopiesAndHashes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	ops := fileops.NewFileOps(fs)

	var lastCopied, lastTotal int64
	manifest, err := ops.CopyTree(context.Background(), "/src/app", "/dst/app", func(copied, total int64, _ string) {
		g.Expect(copied).To(BeNumerically(">=", lastCopied))
		lastCopied, lastTotal = copied, total
	})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(lastCopied).To(Equal(int64(10)))
	g.Expect(lastTotal).To(Equal(int64(10)))
	g.Expect(manifest.Entries["sub/b.bin"].Hash).To(Equal(sha("bbbbbb")))

	content, err := fs.ReadFile("/dst/app/sub/b.bin")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("bbbbbb"))
	g.Expect(filesystem.Exists(fs, "/dst/app/empty")).To(BeTrue())

	g.Expect(ops.VerifyManifest(context.Background(), manifest, "/dst/app", true)).To(Succeed())
}

func TestCopyTree_SingleFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	ops := fileops.NewFileOps(fs)

	manifest, err := ops.CopyTree(context.Background(), "/src/app/a.bin", "/dst/a.bin", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(manifest.Entries["."].Hash).To(Equal(sha("aaaa")))

	content, err := fs.ReadFile("/dst/a.bin")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("aaaa"))
}

func TestCopyTree_DiskFullRemovesPartialFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	fs.SetWriteLimit(6)
	ops := fileops.NewFileOps(fs)

	_, err := ops.CopyTree(context.Background(), "/src/app", "/dst/app", nil)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, syscall.ENOSPC)).To(BeTrue())

	g.Expect(filesystem.Exists(fs, "/dst/app/a.bin")).To(BeTrue())
	g.Expect(filesystem.Exists(fs, "/dst/app/sub/b.bin")).To(BeFalse())
}

func TestCopyTree_Cancelled(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ops := fileops.NewFileOps(newTree())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ops.CopyTree(ctx, "/src/app", "/dst/app", nil)
	g.Expect(errors.Is(err, fileops.ErrCopyCancelled)).To(BeTrue())
	g.Expect(errors.Is(err, context.Canceled)).To(BeTrue())
}

func TestVerifyManifest_DetectsDifferences(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(fs *filesystem.MemFileSystem)
		reason string
	}{
		{
			name:   "changed content same size",
			mutate: func(fs *filesystem.MemFileSystem) { fs.AddFile("/dst/app/a.bin", []byte("zzzz")) },
			reason: "checksum differs",
		},
		{
			name:   "truncated file",
			mutate: func(fs *filesystem.MemFileSystem) { fs.AddFile("/dst/app/a.bin", []byte("a")) },
			reason: "size 1, expected 4",
		},
		{
			name:   "missing file",
			mutate: func(fs *filesystem.MemFileSystem) { _ = fs.Remove("/dst/app/sub/b.bin") },
			reason: "missing",
		},
		{
			name:   "extra file",
			mutate: func(fs *filesystem.MemFileSystem) { fs.AddFile("/dst/app/extra", []byte("x")) },
			reason: "unexpected",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			fs := newTree()
			ops := fileops.NewFileOps(fs)

			manifest, err := ops.CopyTree(context.Background(), "/src/app", "/dst/app", nil)
			g.Expect(err).ToNot(HaveOccurred())

			tc.mutate(fs)

			err = ops.VerifyManifest(context.Background(), manifest, "/dst/app", true)
			g.Expect(errors.Is(err, fileops.ErrVerificationMismatch)).To(BeTrue())

			var mismatch *fileops.MismatchError
			g.Expect(errors.As(err, &mismatch)).To(BeTrue())
			g.Expect(mismatch.Mismatches).ToNot(BeEmpty())
			g.Expect(mismatch.Mismatches[0].Reason).To(Equal(tc.reason))
		})
	}
}

func TestVerifyManifest_SizesOnly(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	ops := fileops.NewFileOps(fs)

	manifest, err := ops.CopyTree(context.Background(), "/src/app", "/dst/app", nil)
	g.Expect(err).ToNot(HaveOccurred())

	fs.AddFile("/dst/app/a.bin", []byte("zzzz"))

	g.Expect(ops.VerifyManifest(context.Background(), manifest, "/dst/app", false)).To(Succeed())
}

func TestRemoveTree(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := newTree()
	ops := fileops.NewFileOps(fs)

	g.Expect(ops.RemoveTree("/src/app")).To(Succeed())
	g.Expect(filesystem.Exists(fs, "/src/app")).To(BeFalse())
	g.Expect(ops.RemoveTree("/src/app")).To(Succeed())

	size, err := ops.Size("/src")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(size).To(BeZero())
}
