package errors_test

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dirmover/pkg/errors"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected errors.Kind
	}{
		{name: "nil", err: nil, expected: errors.KindUnknown},
		{name: "eacces", err: &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, expected: errors.KindPermissionDenied},
		{name: "eperm", err: syscall.EPERM, expected: errors.KindPermissionDenied},
		{name: "enoent", err: &os.PathError{Op: "stat", Path: "/x", Err: syscall.ENOENT}, expected: errors.KindPathNotFound},
		{name: "enospc", err: fmt.Errorf("copy: %w", syscall.ENOSPC), expected: errors.KindInsufficientSpace},
		{name: "eloop", err: syscall.ELOOP, expected: errors.KindSymlinkLoop},
		{name: "eio", err: syscall.EIO, expected: errors.KindIO},
		{name: "fs not exist", err: fs.ErrNotExist, expected: errors.KindPathNotFound},
		{name: "fs exist", err: fs.ErrExist, expected: errors.KindAlreadyExists},
		{name: "cancelled", err: context.Canceled, expected: errors.KindCancelled},
		{name: "message fallback", err: fmt.Errorf("remote says: disk full"), expected: errors.KindInsufficientSpace},
		{
			name:     "already classified",
			err:      fmt.Errorf("outer: %w", errors.New(errors.KindVerificationMismatch, "verify", "/t")),
			expected: errors.KindVerificationMismatch,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			g.Expect(errors.Classify(testCase.err)).To(Equal(testCase.expected))
		})
	}
}

func TestKind_Policy(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(errors.KindPermissionDenied.Recoverable()).To(BeTrue())
	g.Expect(errors.KindPathNotFound.Recoverable()).To(BeTrue())
	g.Expect(errors.KindSymlinkLoop.Recoverable()).To(BeTrue())
	g.Expect(errors.KindRollbackIncomplete.Recoverable()).To(BeFalse())
	g.Expect(errors.KindInsufficientSpace.Recoverable()).To(BeFalse())

	g.Expect(errors.KindInsufficientSpace.Fatal()).To(BeTrue())
	g.Expect(errors.KindVerificationMismatch.Fatal()).To(BeTrue())
	g.Expect(errors.KindRollbackIncomplete.Fatal()).To(BeFalse())
}

func TestKind_TextRoundTrip(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	text, err := errors.KindJournalCorruption.MarshalText()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(text)).To(Equal("journal_corruption"))

	var kind errors.Kind
	g.Expect(kind.UnmarshalText([]byte("symlink_loop"))).To(Succeed())
	g.Expect(kind).To(Equal(errors.KindSymlinkLoop))

	g.Expect(kind.UnmarshalText([]byte("nope"))).ToNot(Succeed())
}
