package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/joe/dirmover/internal/config"
	"github.com/joe/dirmover/internal/journal"
	"github.com/joe/dirmover/internal/logging"
	"github.com/joe/dirmover/internal/migrate"
	"github.com/joe/dirmover/internal/tui"
	"github.com/joe/dirmover/internal/volumes"
)

func (a *app) recoverCmd(ctx context.Context) error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	incomplete, corrupt, err := j.Incomplete()
	if err != nil {
		return err
	}
	if len(incomplete) == 0 && len(corrupt) == 0 {
		fmt.Fprintln(a.io.out, tui.RenderSuccess("No interrupted migrations."))
		return nil
	}

	rows := make([][]string, 0, len(incomplete))
	for _, op := range incomplete {
		action := "roll back"
		if op.Phase == journal.PhaseLinkCreated {
			action = "mark completed"
		}
		rows = append(rows, []string{op.ID[:min(8, len(op.ID))], op.Source, string(op.Phase), action})
	}
	fmt.Fprintln(a.io.out, renderTable([]string{"Op", "Source", "Last phase", "Action"}, rows))

	if len(incomplete) > 0 && !a.cfg.Args.Recover.Yes {
		if err := a.confirm(fmt.Sprintf("Recover %d operation(s)?", len(incomplete))); err != nil {
			return err
		}
	}

	engine, err := a.newEngine(j, false)
	if err != nil {
		return err
	}

	report, err := engine.Recover(ctx)
	if err != nil {
		return err
	}

	for _, op := range report.Resolved {
		if op.State == migrate.StateRollbackIncomplete {
			fmt.Fprintf(a.io.out, "%s %s: check %v by hand\n", tui.RenderError("✗"), op.Source, op.ManualPaths)
		}
	}
	for _, c := range report.Corrupt {
		fmt.Fprintf(a.io.out, "%s %s\n", tui.RenderWarning("skipped corrupt entry:"), c.Error())
	}

	fmt.Fprintf(a.io.out, "%d completed, %d rolled back, %d need manual cleanup, %d corrupt\n",
		report.Count(migrate.StateCompleted),
		report.Count(migrate.StateRolledBack),
		report.Count(migrate.StateRollbackIncomplete),
		len(report.Corrupt))

	if n := report.Count(migrate.StateRollbackIncomplete); n > 0 {
		return fmt.Errorf("%d operation(s) need manual cleanup", n)
	}
	return nil
}

func (a *app) drivesCmd() error {
	lister := volumes.New(volumes.Options{FS: a.fs, Logger: logging.Component(a.logger, "volumes")})

	list := lister.Targets
	if a.cfg.Args.Drives.All {
		list = lister.List
	}

	vols, err := list()
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(vols))
	for _, v := range vols {
		note := ""
		if v.IsSystem {
			note = "system"
		}
		usedPct := 0.0
		if v.Total > 0 {
			usedPct = float64(v.Used()) / float64(v.Total) * tui.ProgressPercentageScale
		}
		rows = append(rows, []string{
			v.MountPoint,
			v.FSType,
			humanize.IBytes(v.Free),
			humanize.IBytes(v.Total),
			fmt.Sprintf("%.0f%%", usedPct),
			note,
		})
	}

	fmt.Fprintln(a.io.out, renderTable([]string{"Mount", "Type", "Free", "Size", "Used", ""}, rows))
	return nil
}

func (a *app) journalCmd() error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	cmd := a.cfg.Args.Journal
	if cmd.List != nil {
		return a.journalList(j, cmd.List)
	}
	return a.journalStats(j)
}

func (a *app) journalStats(j *journal.Journal) error {
	stats, err := j.Statistics()
	if err != nil {
		return err
	}

	rows := [][]string{
		{"Operations", strconv.Itoa(stats.Total)},
		{"Completed", strconv.Itoa(stats.Completed)},
		{"Rolled back", strconv.Itoa(stats.RolledBack)},
		{"Manual cleanup", strconv.Itoa(stats.RollbackIncomplete)},
		{"In progress", strconv.Itoa(stats.InProgress)},
		{"Corrupt", strconv.Itoa(stats.Corrupt)},
		{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate())},
		{"Data moved", humanize.IBytes(uint64(stats.BytesMoved))}, //nolint:gosec // byte counts are never negative
		{"Files moved", humanize.Comma(int64(stats.FilesMoved))},
		{"Average duration", tui.FormatDuration(stats.AverageDuration())},
	}

	fmt.Fprintln(a.io.out, tui.RenderTitle("Journal: "+j.Path()))
	fmt.Fprintln(a.io.out, renderTable([]string{"", ""}, rows))
	return nil
}

func (a *app) journalList(j *journal.Journal, cmd *config.JournalListCmd) error {
	query := j.Recent
	if cmd.Failed {
		query = j.Failed
	}

	ops, err := query(cmd.Limit)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, []string{
			op.Updated.Local().Format(time.DateTime),
			string(op.Phase),
			op.Source,
			op.Target,
			humanize.IBytes(uint64(op.Bytes)), //nolint:gosec // byte counts are never negative
			op.Error,
		})
	}

	fmt.Fprintln(a.io.out, renderTable([]string{"When", "Phase", "Source", "Target", "Size", "Error"}, rows))
	return nil
}

func (a *app) configCmd() error {
	cmd := a.cfg.Args.Config

	file := a.cfg.Args.ConfigFile
	if file == "" {
		file = config.DefaultFile()
	}

	if cmd.Init != nil {
		if err := config.Save(config.DefaultSettings(), file, cmd.Init.Force); err != nil {
			return err
		}
		fmt.Fprintln(a.io.out, tui.RenderSuccess("Wrote "+file))
		return nil
	}

	source := a.cfg.SettingsFile
	if source == "" {
		source = "defaults (no config file at " + file + ")"
	}
	fmt.Fprintln(a.io.out, tui.RenderDim("# "+source))

	data, err := yaml.Marshal(a.cfg.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = a.io.out.Write(data)
	return err
}
