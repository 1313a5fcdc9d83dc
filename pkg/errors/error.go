package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a classified failure. It always names the operation, and for migrations the
// phase, so a user-visible message can point at exactly what failed.
type Error struct {
	Kind  Kind
	Op    string // "scan", "validate", "copy", "verify", "rollback", ...
	Phase string // migration phase at the time of failure, empty for scans
	Path  string
	Err   error
	// ManualPaths lists paths that need manual inspection (RollbackIncomplete only).
	ManualPaths []string
}

// New creates an Error without an underlying cause.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap classifies err and wraps it. An err that is already an *Error keeps its kind
// unless it is unknown.
func Wrap(err error, op, path string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Path: path, Err: err}
}

// Wrapf wraps err with an explicit kind.
func Wrapf(kind Kind, err error, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// WithPhase returns the error with its phase set.
func (e *Error) WithPhase(phase string) *Error {
	e.Phase = phase
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " (phase %s)", e.Phase)
	}
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.ManualPaths) > 0 {
		b.WriteString(" [manual cleanup required: ")
		b.WriteString(strings.Join(e.ManualPaths, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, errors.New(KindSymlinkLoop, "", ""))
// works regardless of path or op.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Suggestions implements ActionableError.
func (e *Error) Suggestions() []string {
	return NewSuggestionGenerator().Generate(e.Kind, e.Path)
}

// AffectedPath implements ActionableError.
func (e *Error) AffectedPath() string {
	return e.Path
}

// ErrorKind implements ActionableError.
func (e *Error) ErrorKind() Kind { return e.Kind }

// KindOf returns the kind of the first *Error in err's chain, or Classify(err) when there
// is none. A nil error has KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// PhaseOf returns the phase recorded on the first *Error in err's chain.
func PhaseOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
