package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joe/dirmover/internal/config"
	"github.com/joe/dirmover/internal/journal"
	"github.com/joe/dirmover/internal/logging"
	"github.com/joe/dirmover/internal/migrate"
	"github.com/joe/dirmover/internal/tui"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// progressInterval throttles progress lines on a terminal.
const progressInterval = 200 * time.Millisecond

func (a *app) newEngine(j *journal.Journal, dryRun bool) (*migrate.Engine, error) {
	cls, err := a.newClassifier()
	if err != nil {
		return nil, err
	}

	cmd := a.cfg.Args.Migrate
	opts := migrate.Options{
		SafetyFactor:    a.cfg.Settings.SafetyFactor,
		VerifyChecksums: true,
		MaxConcurrent:   a.cfg.Settings.MaxConcurrent,
		DryRun:          dryRun,
	}
	if cmd != nil {
		opts.VerifyChecksums = cmd.Verify == config.VerifyChecksums
		opts.MaxConcurrent = cmd.Concurrency
	}

	return migrate.NewEngine(a.fs, j, cls, opts, logging.Component(a.logger, "migrate")), nil
}

func (a *app) migrateCmd(ctx context.Context) error {
	cmd := a.cfg.Args.Migrate

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := a.checkPending(j, cmd.DryRun); err != nil {
		return err
	}

	plan := migrate.Plan{
		Items:        cmd.Items,
		TargetRoot:   cmd.Target,
		CreateLink:   !cmd.NoLink,
		DeleteSource: cmd.DeleteSource,
		Overwrite:    cmd.Overwrite,
	}

	preview, err := a.newEngine(j, true)
	if err != nil {
		return err
	}
	checked, err := preview.Migrate(ctx, plan, nil)
	if err != nil {
		return err
	}
	a.printPlan(plan, checked)

	if cmd.DryRun {
		return failedItems(checked)
	}
	if checked.MigratedCount == 0 {
		return failedItems(checked)
	}

	if !cmd.Yes {
		question := fmt.Sprintf("Move %d item(s), %s?", checked.MigratedCount, humanize.IBytes(uint64(checked.TotalBytes))) //nolint:gosec // byte counts are never negative
		if err := a.confirm(question); err != nil {
			return err
		}
	}

	engine, err := a.newEngine(j, false)
	if err != nil {
		return err
	}

	plan.Items = validatedItems(checked)
	result, err := engine.Migrate(ctx, plan, a.progressPrinter())
	if err != nil {
		return err
	}
	a.printResult(result)

	return failedItems(result)
}

// checkPending refuses to start new operations while the journal holds interrupted ones,
// since they may still own a half-copied target or a deleted source. A dry run only warns.
func (a *app) checkPending(j *journal.Journal, dryRun bool) error {
	pending, _, err := j.Incomplete()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for _, op := range pending {
		a.logger.Warn().Str("op", op.ID).Str("path", op.Source).Str("phase", string(op.Phase)).
			Msg("interrupted migration")
	}
	if dryRun {
		fmt.Fprintln(a.io.out, tui.RenderWarning(
			fmt.Sprintf("%d interrupted migration(s) pending; run 'dirmover recover' before migrating.", len(pending))))
		return nil
	}
	return fmt.Errorf("%w: %d operation(s) in %s, run 'dirmover recover' first",
		errRecoveryPending, len(pending), j.Path())
}

// validatedItems drops the items the preview already rejected, so the real run does not
// report them twice.
func validatedItems(checked *migrate.Result) []string {
	var items []string
	for _, op := range checked.Operations {
		if op.Err == nil {
			items = append(items, op.Source)
		}
	}
	return items
}

func failedItems(result *migrate.Result) error {
	if result.FailedCount == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d item(s) failed", result.FailedCount, len(result.Operations))
}

func (a *app) printPlan(plan migrate.Plan, checked *migrate.Result) {
	mode := "copy and delete source"
	switch {
	case plan.CreateLink:
		mode = "move and link back"
	case !plan.DeleteSource:
		mode = "copy only"
	}
	fmt.Fprintln(a.io.out, tui.RenderTitle(fmt.Sprintf("Plan: %s to %s", mode, plan.TargetRoot)))

	rows := make([][]string, 0, len(checked.Operations))
	for _, op := range checked.Operations {
		status := tui.RenderSuccess("ok")
		if op.Err != nil {
			status = tui.RenderError(shortError(op.Err))
		}
		rows = append(rows, []string{op.Source, op.Target, humanize.IBytes(uint64(op.Bytes)), status}) //nolint:gosec // byte counts are never negative
	}
	fmt.Fprintln(a.io.out, renderTable([]string{"Source", "Target", "Size", "Check"}, rows))
	fmt.Fprintln(a.io.out, tui.RenderDim(checked.Message))
}

func (a *app) printResult(result *migrate.Result) {
	if a.io.tty {
		fmt.Fprintln(a.io.err)
	}

	for _, op := range result.Operations {
		switch {
		case op.Succeeded():
			fmt.Fprintf(a.io.out, "%s %s -> %s (%s, %d files, %s)\n",
				tui.RenderSuccess("✓"), op.Source, op.Target,
				humanize.IBytes(uint64(op.Bytes)), op.Files, tui.FormatDuration(op.Duration)) //nolint:gosec // byte counts are never negative
		case op.State == migrate.StateRollbackIncomplete:
			fmt.Fprintf(a.io.out, "%s %s: %s\n", tui.RenderError("✗"), op.Source, op.Err)
			fmt.Fprintln(a.io.out, tui.RenderWarning("  Check these paths by hand:"))
			for _, path := range op.ManualPaths {
				fmt.Fprintf(a.io.out, "    %s\n", path)
			}
		default:
			fmt.Fprintf(a.io.out, "%s %s (%s): %s\n", tui.RenderError("✗"), op.Source, op.State, op.Err)
			if suggestions := pkgerrors.FormatSuggestions(asActionable(op.Err)); suggestions != "" {
				fmt.Fprintln(a.io.out, suggestions)
			}
		}
	}

	summary := result.Message
	if result.Success {
		fmt.Fprintln(a.io.out, tui.RenderSuccess(summary))
	} else {
		fmt.Fprintln(a.io.out, tui.RenderWarning(summary))
	}
}

// progressPrinter redraws one status line on a terminal and logs phase changes otherwise.
func (a *app) progressPrinter() migrate.ProgressFunc {
	var (
		mu    sync.Mutex
		last  time.Time
		phase = map[string]migrate.State{}
	)

	return func(p migrate.Progress) {
		mu.Lock()
		defer mu.Unlock()

		if phase[p.OpID] != p.Phase {
			phase[p.OpID] = p.Phase
			a.logger.Debug().Str("op", p.OpID).Str("path", p.CurrentPath).Str("phase", string(p.Phase)).Msg("phase changed")
		}

		if !a.io.tty {
			return
		}
		now := time.Now()
		if now.Sub(last) < progressInterval && p.Percentage < migrate.ProgressPercentageScale {
			return
		}
		last = now

		line := fmt.Sprintf("[%d/%d] %-15s %s %s / %s",
			p.Item+1, p.TotalItems, p.Phase,
			tui.RenderASCIIProgress(p.Percentage/migrate.ProgressPercentageScale, tui.ProgressBarWidth/2),
			humanize.IBytes(uint64(p.BytesCopied)), humanize.IBytes(uint64(p.TotalBytes))) //nolint:gosec // byte counts are never negative
		fmt.Fprintf(a.io.err, "\r%s\033[K", line)
	}
}

// shortError is the kind and cause of err, without the path the table already shows.
func shortError(err error) string {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) && typed.Err != nil {
		return typed.Kind.String() + ": " + typed.Err.Error()
	}
	return err.Error()
}
