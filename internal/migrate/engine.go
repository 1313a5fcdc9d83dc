// Package migrate moves directory trees to another volume as journaled, verifiable
// operations that roll back on failure.
//
// Each plan item runs through validate, copy, verify, source deletion and link creation.
// Every completed phase is appended to the journal before the next one starts, so a crash
// at any point leaves enough history for Recover to finish or undo the operation.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joe/dirmover/internal/classifier"
	"github.com/joe/dirmover/internal/journal"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
	"github.com/joe/dirmover/pkg/fileops"
	"github.com/joe/dirmover/pkg/filesystem"
)

// Engine executes migration plans. It holds no global state; each call to Migrate or
// MigrateOne owns its operations.
type Engine struct {
	fs         filesystem.FileSystem
	ops        *fileops.FileOps
	journal    *journal.Journal
	classifier *classifier.Classifier
	opts       Options
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string

	progressMu sync.Mutex

	reserveMu sync.Mutex
	reserved  map[string]uint64 // bytes promised to running operations, by target root
}

// NewEngine creates an engine writing through fs and recording to j.
func NewEngine(
	fs filesystem.FileSystem,
	j *journal.Journal,
	cls *classifier.Classifier,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		fs:         fs,
		ops:        fileops.NewFileOps(fs),
		journal:    j,
		classifier: cls,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		reserved:   make(map[string]uint64),
	}
}

// Migrate runs every plan item as an independent operation, at most MaxConcurrent at a
// time. A returned error means the plan was refused as a whole; per-item failures are in
// the Result.
func (e *Engine) Migrate(ctx context.Context, plan Plan, progress ProgressFunc) (*Result, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	if err := e.journalUsable(); err != nil && !e.opts.DryRun {
		return nil, err
	}

	started := e.now()
	results := make([]OpResult, len(plan.Items))

	var group errgroup.Group
	group.SetLimit(e.opts.MaxConcurrent)

	for i, item := range plan.Items {
		group.Go(func() error {
			results[i] = e.run(ctx, plan, i, item, progress)
			return nil
		})
	}

	_ = group.Wait()

	result := summarize(results, e.opts.DryRun)
	result.Duration = e.now().Sub(started)

	e.logger.Info().
		Int("migrated", result.MigratedCount).
		Int("failed", result.FailedCount).
		Int64("bytes", result.TotalBytes).
		Dur("duration", result.Duration).
		Msg(result.Message)

	return result, nil
}

// MigrateOne runs a single source through the plan's settings.
func (e *Engine) MigrateOne(ctx context.Context, source string, plan Plan, progress ProgressFunc) OpResult {
	index := 0
	for i, item := range plan.Items {
		if filepath.Clean(item) == filepath.Clean(source) {
			index = i
			break
		}
	}
	return e.run(ctx, plan, index, source, progress)
}

// operation is the mutable state of one running migration.
type operation struct {
	id      string
	source  string
	target  string
	root    string
	plan    Plan
	index   int
	state   State
	started time.Time

	manifest *fileops.Manifest
	entry    journal.Entry
	progress ProgressFunc
	logger   zerolog.Logger

	// What has been touched, for rollback.
	targetTouched bool
	sourceTouched bool
	linkAttempted bool
}

func (e *Engine) run(ctx context.Context, plan Plan, index int, source string, progress ProgressFunc) (res OpResult) {
	op := &operation{
		id:       e.newID(),
		source:   filepath.Clean(source),
		root:     filepath.Clean(plan.TargetRoot),
		plan:     plan,
		index:    index,
		state:    StateRejected,
		started:  e.now(),
		progress: progress,
	}
	op.logger = e.logger.With().Str("op", op.id).Str("path", op.source).Logger()

	defer func() {
		res.OpID = op.id
		res.Source = op.source
		res.Target = op.target
		res.State = op.state
		res.DryRun = e.opts.DryRun
		res.Duration = e.now().Sub(op.started)
		if op.manifest != nil {
			res.Bytes = op.manifest.TotalBytes
			res.Files = op.manifest.Files
		}
	}()

	if err := e.validate(ctx, op); err != nil {
		op.logger.Warn().Err(err).Msg("migration rejected")
		res.Err = err
		return res
	}

	if e.opts.DryRun {
		op.state = StateValidated
		op.logger.Info().Str("target", op.target).Int64("bytes", op.manifest.TotalBytes).Msg("dry run validated")
		return res
	}

	required := e.required(op)
	if err := e.reserve(op, required); err != nil {
		op.logger.Warn().Err(err).Msg("migration rejected")
		res.Err = err
		return res
	}
	defer e.release(op.root, required)

	op.entry = journal.Entry{
		OpID:   op.id,
		Source: op.source,
		Target: op.target,
		Bytes:  op.manifest.TotalBytes,
		Files:  op.manifest.Files,
	}
	if err := e.record(op, journal.PhaseValidated, ""); err != nil {
		res.Err = err
		return res
	}
	op.state = StateValidated
	e.report(op, 0)

	if err := ctx.Err(); err != nil {
		cause := pkgerrors.Wrapf(pkgerrors.KindCancelled, err, "migrate", op.source).WithPhase(string(StateValidated))
		if recErr := e.record(op, journal.PhaseRolledBack, cause.Error()); recErr != nil {
			op.logger.Error().Err(recErr).Msg("failed to record cancellation")
		}
		op.state = StateRolledBack
		res.Err = cause
		return res
	}

	op.logger.Info().
		Str("target", op.target).
		Str("bytes", humanize.IBytes(uint64(op.manifest.TotalBytes))). //nolint:gosec // sizes are non-negative
		Int("files", op.manifest.Files).
		Msg("migration started")

	// From here on the operation always reaches a terminal state.
	if err := e.execute(context.WithoutCancel(ctx), op); err != nil {
		res.Err = err
		res.ManualPaths = manualPathsOf(err)
		return res
	}

	op.logger.Info().Dur("duration", e.now().Sub(op.started)).Msg("migration completed")
	return res
}

// validate checks everything that can be checked without writing. On failure nothing has
// been written or journaled.
func (e *Engine) validate(ctx context.Context, op *operation) error {
	const phase = "validate"

	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindCancelled, err, phase, op.source)
	}
	if err := e.journalUsable(); err != nil && !e.opts.DryRun {
		return err
	}

	if err := e.classifier.ValidateSource(op.source); err != nil {
		return err
	}
	if err := e.classifier.CheckLoop(op.source); err != nil {
		return err
	}

	info, err := e.fs.Lstat(op.source)
	if err != nil {
		return pkgerrors.Wrap(err, phase, op.source)
	}
	if filesystem.IsSymlink(info) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, ErrSourceIsLink, phase, op.source)
	}

	op.target = e.targetFor(op)
	if err := e.classifier.ValidateTarget(op.target); err != nil {
		return err
	}
	if op.target == op.source || e.classifier.Within(op.source, op.target) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("%w: %s", ErrTargetInSource, op.target), phase, op.source)
	}
	if _, err := e.fs.Lstat(op.target); err == nil && !op.plan.Overwrite {
		return pkgerrors.Wrapf(pkgerrors.KindAlreadyExists,
			fmt.Errorf("target already exists: %s", op.target), phase, op.target)
	}

	manifest, err := e.ops.BuildManifest(op.source)
	if errors.Is(err, fileops.ErrUnsupportedFile) {
		return pkgerrors.Wrapf(pkgerrors.KindInvalidPath, err, phase, op.source)
	}
	if err != nil {
		return pkgerrors.Wrap(err, phase, op.source)
	}
	op.manifest = manifest

	usage, err := e.fs.DiskUsage(op.root)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("failed to read free space for %s: %w", op.root, err), phase, op.root)
	}
	if required := e.required(op); usage.Free < required {
		return spaceError(op.root, required, usage.Free)
	}

	return nil
}

// targetFor maps a source to TargetRoot/<category>/<base name>.
func (e *Engine) targetFor(op *operation) string {
	category := e.classifier.Category(op.source)
	if category == "" {
		return filepath.Join(op.root, filepath.Base(op.source))
	}
	return filepath.Join(op.root, category, filepath.Base(op.source))
}

func (e *Engine) required(op *operation) uint64 {
	return uint64(math.Ceil(float64(op.manifest.TotalBytes) * e.opts.SafetyFactor))
}

// reserve re-checks free space counting bytes promised to operations already running on
// the same target root.
func (e *Engine) reserve(op *operation, required uint64) error {
	e.reserveMu.Lock()
	defer e.reserveMu.Unlock()

	usage, err := e.fs.DiskUsage(op.root)
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("failed to read free space for %s: %w", op.root, err), "validate", op.root)
	}

	pending := e.reserved[op.root]
	if usage.Free < pending || usage.Free-pending < required {
		return spaceError(op.root, required, usage.Free-min(pending, usage.Free))
	}

	e.reserved[op.root] = pending + required
	return nil
}

func (e *Engine) release(root string, amount uint64) {
	e.reserveMu.Lock()
	defer e.reserveMu.Unlock()

	e.reserved[root] -= min(amount, e.reserved[root])
	if e.reserved[root] == 0 {
		delete(e.reserved, root)
	}
}

// execute runs the writing phases. Any failure rolls back and returns the error that
// describes the final state.
func (e *Engine) execute(ctx context.Context, op *operation) error {
	op.state = StateCopying
	op.targetTouched = true
	e.report(op, 0)

	if op.plan.Overwrite {
		if err := e.ops.RemoveTree(op.target); err != nil {
			return e.fail(ctx, op, pkgerrors.Wrap(err, "copy", op.target))
		}
	}

	if err := e.fs.MkdirAll(filepath.Dir(op.target), fileops.DefaultDirPermissions); err != nil {
		return e.fail(ctx, op, pkgerrors.Wrap(
			fmt.Errorf("failed to create target directory %s: %w", filepath.Dir(op.target), err), "copy", op.target))
	}

	manifest, err := e.ops.CopyTree(ctx, op.source, op.target, func(copied, _ int64, _ string) {
		e.report(op, copied)
	})
	if err != nil {
		return e.fail(ctx, op, pkgerrors.Wrap(err, "copy", op.source))
	}
	op.manifest = manifest

	if err := e.record(op, journal.PhaseCopied, ""); err != nil {
		return e.fail(ctx, op, err)
	}

	if err := e.ops.VerifyManifest(ctx, op.manifest, op.target, e.opts.VerifyChecksums); err != nil {
		if errors.Is(err, fileops.ErrVerificationMismatch) {
			return e.fail(ctx, op, pkgerrors.Wrapf(pkgerrors.KindVerificationMismatch, err, "verify", op.target))
		}
		return e.fail(ctx, op, pkgerrors.Wrap(err, "verify", op.target))
	}
	op.state = StateVerified
	if err := e.record(op, journal.PhaseVerified, ""); err != nil {
		return e.fail(ctx, op, err)
	}
	e.report(op, op.manifest.TotalBytes)

	if op.plan.deletesSource() {
		op.state = StateSourceDeleting
		op.sourceTouched = true
		e.report(op, op.manifest.TotalBytes)

		if err := e.ops.RemoveTree(op.source); err != nil {
			return e.fail(ctx, op, pkgerrors.Wrap(err, "delete_source", op.source))
		}
		if err := e.record(op, journal.PhaseSourceDeleted, ""); err != nil {
			return e.fail(ctx, op, err)
		}
	}

	if op.plan.CreateLink {
		op.state = StateLinkCreating
		op.linkAttempted = true
		e.report(op, op.manifest.TotalBytes)

		if err := e.fs.Symlink(op.target, op.source); err != nil {
			return e.fail(ctx, op, pkgerrors.Wrap(
				fmt.Errorf("failed to create link %s -> %s: %w", op.source, op.target, err), "link", op.source))
		}
		if err := e.record(op, journal.PhaseLinkCreated, ""); err != nil {
			return e.fail(ctx, op, err)
		}
	}

	op.entry.DurationMs = e.now().Sub(op.started).Milliseconds()
	if err := e.record(op, journal.PhaseCompleted, ""); err != nil {
		return e.fail(ctx, op, err)
	}
	op.state = StateCompleted
	e.report(op, op.manifest.TotalBytes)

	return nil
}

// fail rolls op back and records the outcome. The returned error carries the phase the
// failure happened in and, when rollback could not finish, the paths to inspect.
func (e *Engine) fail(ctx context.Context, op *operation, cause *pkgerrors.Error) error {
	failedIn := op.state
	if cause.Phase == "" {
		cause.WithPhase(string(failedIn))
	}

	op.logger.Error().Err(cause).Str("phase", string(failedIn)).Msg("migration failed, rolling back")

	op.state = StateRollingBack
	e.report(op, 0)

	manual := e.rollback(ctx, op.logger, rollbackSteps{
		source:        op.source,
		target:        op.target,
		targetTouched: op.targetTouched,
		sourceTouched: op.sourceTouched,
		linkAttempted: op.linkAttempted,
		checksums:     e.opts.VerifyChecksums,
	})

	op.entry.DurationMs = e.now().Sub(op.started).Milliseconds()

	if len(manual) == 0 {
		op.state = StateRolledBack
		if err := e.record(op, journal.PhaseRolledBack, cause.Error()); err != nil {
			op.logger.Error().Err(err).Msg("failed to record rollback")
		}
		op.logger.Warn().Msg("migration rolled back")
		return cause
	}

	op.state = StateRollbackIncomplete
	incomplete := pkgerrors.Wrapf(pkgerrors.KindRollbackIncomplete, cause, "rollback", op.source).
		WithPhase(string(failedIn))
	incomplete.ManualPaths = manual

	if err := e.record(op, journal.PhaseRollbackIncomplete, incomplete.Error()); err != nil {
		op.logger.Error().Err(err).Msg("failed to record incomplete rollback")
	}
	op.logger.Error().Strs("manual_paths", manual).Msg("rollback incomplete")

	return incomplete
}

// record appends phase for op. A journal failure is returned as a fatal IO error.
func (e *Engine) record(op *operation, phase journal.Phase, message string) *pkgerrors.Error {
	entry := op.entry
	entry.Phase = phase
	entry.Error = message
	if phase != journal.PhaseCompleted && phase != journal.PhaseRolledBack && phase != journal.PhaseRollbackIncomplete {
		entry.DurationMs = 0
	}

	if err := e.journal.Append(entry); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindIO, fmt.Errorf("failed to journal %s: %w", phase, err), "journal", op.source).
			WithPhase(string(op.state))
	}
	return nil
}

// report forwards progress for op. Calls are serialized so callers need no locking.
func (e *Engine) report(op *operation, copied int64) {
	if op.progress == nil {
		return
	}

	p := Progress{
		OpID:        op.id,
		Item:        op.index,
		TotalItems:  len(op.plan.Items),
		CurrentPath: op.source,
		Phase:       op.state,
		BytesCopied: copied,
	}
	if op.manifest != nil {
		p.TotalBytes = op.manifest.TotalBytes
	}

	switch {
	case op.state == StateCompleted:
		p.Percentage = ProgressPercentageScale
	case p.TotalBytes > 0:
		p.Percentage = float64(copied) / float64(p.TotalBytes) * ProgressPercentageScale
	case op.state != StateValidated && op.state != StateCopying:
		p.Percentage = ProgressPercentageScale
	}

	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	op.progress(p)
}

func (e *Engine) journalUsable() error {
	if err := e.journal.Err(); err != nil {
		return pkgerrors.Wrapf(pkgerrors.KindIO, fmt.Errorf("%w: %w", ErrJournalDisabled, err), "migrate", e.journal.Path())
	}
	return nil
}

func spaceError(root string, required, free uint64) error {
	return pkgerrors.Wrapf(pkgerrors.KindInsufficientSpace,
		fmt.Errorf("%w: need %s, %s free", ErrNotEnoughSpace, humanize.IBytes(required), humanize.IBytes(free)),
		"validate", root)
}

func manualPathsOf(err error) []string {
	var e *pkgerrors.Error
	if errors.As(err, &e) {
		return e.ManualPaths
	}
	return nil
}

func summarize(results []OpResult, dryRun bool) *Result {
	result := &Result{Operations: results}

	for _, r := range results {
		if r.Succeeded() {
			result.MigratedCount++
			result.TotalBytes += r.Bytes
		} else {
			result.FailedCount++
		}
	}

	result.Success = result.FailedCount == 0

	verb := "migrated"
	if dryRun {
		verb = "validated"
	}
	result.Message = fmt.Sprintf("%s %d of %d items (%s)", verb, result.MigratedCount, len(results),
		humanize.IBytes(uint64(result.TotalBytes))) //nolint:gosec // sizes are non-negative
	if result.FailedCount > 0 {
		result.Message += fmt.Sprintf(", %d failed", result.FailedCount)
	}

	return result
}
