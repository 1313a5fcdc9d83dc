package errors

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
)

// Classify maps an arbitrary error onto a Kind. Errors already carrying a kind keep it;
// otherwise errno values and io/fs sentinels are inspected before falling back to message
// patterns.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var classified *Error
	if errors.As(err, &classified) && classified.Kind != KindUnknown {
		return classified.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if kind, ok := classifyErrno(errno); ok {
			return kind
		}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidPath
	}

	return NewPatternMatcher().Match(err.Error())
}

func classifyErrno(errno syscall.Errno) (Kind, bool) {
	switch errno {
	case syscall.EACCES, syscall.EPERM, syscall.EROFS:
		return KindPermissionDenied, true
	case syscall.ENOENT, syscall.ENOTDIR:
		return KindPathNotFound, true
	case syscall.ENOSPC, syscall.EDQUOT, syscall.EFBIG:
		return KindInsufficientSpace, true
	case syscall.ELOOP:
		return KindSymlinkLoop, true
	case syscall.EEXIST, syscall.ENOTEMPTY:
		return KindAlreadyExists, true
	case syscall.EIO:
		return KindIO, true
	default:
		return KindUnknown, false
	}
}
