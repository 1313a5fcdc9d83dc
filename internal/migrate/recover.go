package migrate

import (
	"context"
	"fmt"

	"github.com/joe/dirmover/internal/journal"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// RecoveryReport lists what Recover did.
type RecoveryReport struct {
	// Resolved holds one result per incomplete operation found, in journal order.
	Resolved []OpResult
	// Corrupt operations were left untouched.
	Corrupt []journal.CorruptionError
}

// Count returns how many resolved operations ended in state.
func (r *RecoveryReport) Count(state State) int {
	n := 0
	for _, op := range r.Resolved {
		if op.State == state {
			n++
		}
	}
	return n
}

// Recover replays the journal and drives every intact, unfinished operation to a terminal
// state: an operation whose link was created is marked completed, anything else is rolled
// back. Corrupt operations are reported and skipped. Cancellation is checked between
// operations only.
func (e *Engine) Recover(ctx context.Context) (*RecoveryReport, error) {
	if err := e.journalUsable(); err != nil {
		return nil, err
	}

	incomplete, corrupt, err := e.journal.Incomplete()
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{Corrupt: corrupt}
	for _, c := range corrupt {
		e.logger.Error().Int("line", c.Line).Str("op", c.OpID).Str("reason", c.Reason).Msg("skipping corrupt journal entry")
	}

	for _, history := range incomplete {
		if err := ctx.Err(); err != nil {
			return report, pkgerrors.Wrapf(pkgerrors.KindCancelled, err, "recover", e.journal.Path())
		}
		report.Resolved = append(report.Resolved, e.recoverOne(ctx, history))
	}

	e.logger.Info().
		Int("completed", report.Count(StateCompleted)).
		Int("rolled_back", report.Count(StateRolledBack)).
		Int("rollback_incomplete", report.Count(StateRollbackIncomplete)).
		Int("corrupt", len(corrupt)).
		Msg("recovery finished")

	return report, nil
}

func (e *Engine) recoverOne(ctx context.Context, history *journal.Operation) OpResult {
	op := &operation{
		id:      history.ID,
		source:  history.Source,
		target:  history.Target,
		state:   stateAfter(history.Phase),
		started: history.Started,
		entry: journal.Entry{
			OpID:   history.ID,
			Source: history.Source,
			Target: history.Target,
			Bytes:  history.Bytes,
			Files:  history.Files,
		},
	}
	op.logger = e.logger.With().Str("op", op.id).Str("path", op.source).Str("phase", string(history.Phase)).Logger()

	result := OpResult{
		OpID:   op.id,
		Source: op.source,
		Target: op.target,
		Bytes:  history.Bytes,
		Files:  history.Files,
	}

	if history.Phase == journal.PhaseLinkCreated {
		op.entry.DurationMs = e.now().Sub(op.started).Milliseconds()
		if err := e.record(op, journal.PhaseCompleted, ""); err != nil {
			result.State = op.state
			result.Err = err
			return result
		}
		op.logger.Info().Msg("recovered operation completed")
		result.State = StateCompleted
		result.Duration = e.now().Sub(op.started)
		return result
	}

	cause := pkgerrors.Wrapf(pkgerrors.KindCancelled,
		fmt.Errorf("interrupted after %s", history.Phase), "recover", op.source).WithPhase(string(op.state))

	op.logger.Warn().Msg("rolling back interrupted operation")
	manual := e.rollback(ctx, op.logger, rollbackSteps{
		source:        op.source,
		target:        op.target,
		targetTouched: true,
		sourceTouched: history.Reached(journal.PhaseVerified),
		linkAttempted: history.Reached(journal.PhaseSourceDeleted),
		checksums:     e.opts.VerifyChecksums,
	})

	op.entry.DurationMs = e.now().Sub(op.started).Milliseconds()
	result.Duration = e.now().Sub(op.started)

	if len(manual) == 0 {
		result.State = StateRolledBack
		result.Err = cause
		if err := e.record(op, journal.PhaseRolledBack, cause.Error()); err != nil {
			result.Err = err
		}
		return result
	}

	incomplete := pkgerrors.Wrapf(pkgerrors.KindRollbackIncomplete, cause, "rollback", op.source).
		WithPhase(string(op.state))
	incomplete.ManualPaths = manual

	result.State = StateRollbackIncomplete
	result.Err = incomplete
	result.ManualPaths = manual
	if err := e.record(op, journal.PhaseRollbackIncomplete, incomplete.Error()); err != nil {
		op.logger.Error().Err(err).Msg("failed to record incomplete rollback")
	}
	op.logger.Error().Strs("manual_paths", manual).Msg("rollback incomplete")

	return result
}

// stateAfter maps the last journaled phase to the state the operation was in when it
// stopped.
func stateAfter(phase journal.Phase) State {
	switch phase {
	case journal.PhaseValidated, journal.PhaseCopied:
		return StateCopying
	case journal.PhaseVerified:
		return StateSourceDeleting
	case journal.PhaseSourceDeleted, journal.PhaseLinkCreated:
		return StateLinkCreating
	default:
		return StateRollingBack
	}
}
