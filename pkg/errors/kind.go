package errors

import "fmt"

// Kind is the machine-readable category of a failure.
type Kind int

// Error kinds. The zero value is KindUnknown.
const (
	KindUnknown Kind = iota
	// KindPermissionDenied is per-item and recoverable: skip and continue.
	KindPermissionDenied
	// KindPathNotFound is recoverable: skip.
	KindPathNotFound
	// KindInsufficientSpace (disk full) is fatal to one migration and triggers rollback.
	KindInsufficientSpace
	// KindVerificationMismatch is fatal to one migration and triggers rollback.
	KindVerificationMismatch
	// KindSymlinkLoop is recoverable: only the looping branch is abandoned.
	KindSymlinkLoop
	// KindRollbackIncomplete is the one terminal state that needs manual cleanup.
	KindRollbackIncomplete
	// KindJournalCorruption is fatal at startup for the affected operation id only.
	KindJournalCorruption
	// KindCancelled marks cooperative cancellation.
	KindCancelled
	// KindInvalidPath covers unsafe or malformed paths rejected by validation.
	KindInvalidPath
	// KindAlreadyExists marks a target path that is already occupied.
	KindAlreadyExists
	// KindIO covers read/write failures not covered by a more specific kind.
	KindIO
)

//nolint:gochecknoglobals // lookup table
var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindPermissionDenied:     "permission_denied",
	KindPathNotFound:         "path_not_found",
	KindInsufficientSpace:    "insufficient_space",
	KindVerificationMismatch: "verification_mismatch",
	KindSymlinkLoop:          "symlink_loop",
	KindRollbackIncomplete:   "rollback_incomplete",
	KindJournalCorruption:    "journal_corruption",
	KindCancelled:            "cancelled",
	KindInvalidPath:          "invalid_path",
	KindAlreadyExists:        "already_exists",
	KindIO:                   "io",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses the snake_case name of a kind.
func ParseKind(s string) (Kind, error) {
	for kind, name := range kindNames {
		if name == s {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("invalid error kind: %s", s)
}

// Recoverable reports whether a scan may skip the failing entry and continue.
func (k Kind) Recoverable() bool {
	switch k {
	case KindPermissionDenied, KindPathNotFound, KindSymlinkLoop, KindIO:
		return true
	default:
		return false
	}
}

// Fatal reports whether a failure of this kind ends the operation it happened in. A fatal
// failure during migration rolls the operation back; the rollback and journal kinds are
// already terminal and cancellation before copying leaves nothing to undo.
func (k Kind) Fatal() bool {
	switch k {
	case KindRollbackIncomplete, KindJournalCorruption, KindCancelled:
		return false
	default:
		return true
	}
}
