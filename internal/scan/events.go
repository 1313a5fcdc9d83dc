package scan

import (
	"time"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// Event is the interface implemented by all scan events. The set of events is closed:
// only types in this package implement it.
type Event interface {
	isEvent()
}

// DirectoryStarted is emitted when an expanded directory's listing begins.
type DirectoryStarted struct {
	Name      string
	Path      string
	Timestamp time.Time
}

func (DirectoryStarted) isEvent() {}

// ItemFound is emitted for every file, and every directory, at depth 1..MaxDepth.
// Expanded directories are announced with Size 0 and later receive an ItemUpdated.
type ItemFound struct {
	Item Item
	// ProgressFraction is completed/discovered directories at the time of emission.
	ProgressFraction float64
}

func (ItemFound) isEvent() {}

// ItemUpdated carries the final size of a previously announced directory.
type ItemUpdated struct {
	Path    string
	NewSize uint64
	Reason  string
}

func (ItemUpdated) isEvent() {}

// ReasonCompleted is the ItemUpdated reason used when a directory's subtree is finished.
const ReasonCompleted = "completed"

// DirectoryCompleted is emitted once a directory and every directory beneath it are done.
type DirectoryCompleted struct {
	Name      string
	Path      string
	ItemCount int // direct entries
	TotalSize uint64
	ElapsedMs int64
}

func (DirectoryCompleted) isEvent() {}

// ScanProgress is emitted periodically.
type ScanProgress struct {
	Percentage  float64
	CurrentPath string
	ItemsFound  int64
	EtaMs       int64
}

func (ScanProgress) isEvent() {}

// ScanCompleted is the terminal event of every scan that got past its root.
type ScanCompleted struct {
	TotalItems int // direct children of the root
	TotalSize  uint64
	ElapsedMs  int64
	Partial    bool
}

func (ScanCompleted) isEvent() {}

// ScanError reports a failure. A non-recoverable ScanError is the terminal event.
type ScanError struct {
	Message     string
	Path        string
	ErrorType   pkgerrors.Kind
	Recoverable bool
}

func (ScanError) isEvent() {}

// Err converts the event into a classified error.
func (e ScanError) Err() error {
	return &pkgerrors.Error{Kind: e.ErrorType, Op: "scan", Path: e.Path, Err: errString(e.Message)}
}

type errString string

func (e errString) Error() string { return string(e) }
