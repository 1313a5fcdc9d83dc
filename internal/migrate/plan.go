package migrate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// Exported constants.
const (
	// DefaultSafetyFactor is the free-space margin required on the target volume.
	DefaultSafetyFactor = 1.1
	// DefaultMaxConcurrent is the number of plan items migrated at once.
	DefaultMaxConcurrent = 2
	// ProgressPercentageScale converts 0-1 range to 0-100 range.
	ProgressPercentageScale = 100.0
)

// Exported variables.
var (
	ErrEmptyPlan       = errors.New("plan has no items")
	ErrNoTarget        = errors.New("plan has no target root")
	ErrDuplicateItem   = errors.New("plan lists an item twice")
	ErrSameAsTarget    = errors.New("source and target are the same path")
	ErrTargetInSource  = errors.New("target lies inside a source")
	ErrSourceIsLink    = errors.New("source is a symbolic link")
	ErrNotEnoughSpace  = errors.New("not enough free space on the target volume")
	ErrJournalDisabled = errors.New("journal is unavailable; new migrations are refused")
)

// Plan is one accepted migration request.
type Plan struct {
	Items      []string
	TargetRoot string
	// CreateLink leaves a symlink at each source path pointing at its new location. It
	// implies DeleteSource.
	CreateLink   bool
	DeleteSource bool
	Overwrite    bool
}

// deletesSource reports whether the source is removed after verification.
func (p Plan) deletesSource() bool {
	return p.DeleteSource || p.CreateLink
}

// Options tunes the engine.
type Options struct {
	SafetyFactor    float64
	VerifyChecksums bool
	MaxConcurrent   int
	// DryRun runs validation only; nothing is written and nothing is journaled.
	DryRun bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		SafetyFactor:    DefaultSafetyFactor,
		VerifyChecksums: true,
		MaxConcurrent:   DefaultMaxConcurrent,
	}
}

func (o Options) withDefaults() Options {
	if o.SafetyFactor < 1 {
		o.SafetyFactor = DefaultSafetyFactor
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	return o
}

// ValidatePlan rejects plans that can never succeed: no items, no target, duplicate items,
// an item equal to the target root, or a target root nested inside an item.
func ValidatePlan(plan Plan) error {
	const op = "validate"

	if len(plan.Items) == 0 {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, ErrEmptyPlan, op, "")
	}
	if plan.TargetRoot == "" {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, ErrNoTarget, op, "")
	}
	if !filepath.IsAbs(plan.TargetRoot) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("target root must be absolute: %q", plan.TargetRoot), op, plan.TargetRoot)
	}

	target := filepath.Clean(plan.TargetRoot)
	seen := make(map[string]bool, len(plan.Items))

	for _, item := range plan.Items {
		if item == "" || !filepath.IsAbs(item) {
			return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
				fmt.Errorf("item must be absolute: %q", item), op, item)
		}

		clean := filepath.Clean(item)
		if seen[clean] {
			return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, fmt.Errorf("%w: %s", ErrDuplicateItem, clean), op, clean)
		}
		seen[clean] = true

		if clean == target {
			return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, fmt.Errorf("%w: %s", ErrSameAsTarget, clean), op, clean)
		}
		if isWithin(clean, target) {
			return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
				fmt.Errorf("%w: %s is under %s", ErrTargetInSource, target, clean), op, clean)
		}
	}

	return nil
}

// State is a migration operation's position in its state machine.
type State string

// State values.
const (
	StateRejected           State = "rejected"
	StateValidated          State = "validated"
	StateCopying            State = "copying"
	StateVerified           State = "verified"
	StateSourceDeleting     State = "source_deleting"
	StateLinkCreating       State = "link_creating"
	StateCompleted          State = "completed"
	StateRollingBack        State = "rolling_back"
	StateRolledBack         State = "rolled_back"
	StateRollbackIncomplete State = "rollback_incomplete"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateRolledBack, StateRollbackIncomplete:
		return true
	default:
		return false
	}
}

// Progress is reported while an operation runs. Percentage is the share of the
// operation's bytes copied so far.
type Progress struct {
	OpID        string
	Item        int // index into Plan.Items
	TotalItems  int
	CurrentPath string
	Phase       State
	BytesCopied int64
	TotalBytes  int64
	Percentage  float64
}

// ProgressFunc receives progress updates. Calls are serialized across operations.
type ProgressFunc func(Progress)

// OpResult is the outcome of one plan item.
type OpResult struct {
	OpID     string
	Source   string
	Target   string
	State    State
	Bytes    int64
	Files    int
	Duration time.Duration
	DryRun   bool
	Err      error
	// ManualPaths need attention when State is StateRollbackIncomplete.
	ManualPaths []string
}

// Succeeded reports whether the item was migrated (or, for a dry run, would be).
func (r OpResult) Succeeded() bool {
	if r.DryRun {
		return r.Err == nil
	}
	return r.State == StateCompleted
}

// Result summarizes a whole plan.
type Result struct {
	Success       bool
	MigratedCount int
	FailedCount   int
	TotalBytes    int64
	Message       string
	Duration      time.Duration
	Operations    []OpResult
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
