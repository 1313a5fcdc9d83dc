package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/joe/dirmover/internal/aggregate"
	"github.com/joe/dirmover/internal/classifier"
	"github.com/joe/dirmover/internal/logging"
	"github.com/joe/dirmover/internal/scan"
	"github.com/joe/dirmover/internal/store"
	"github.com/joe/dirmover/internal/tui"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// scanReport is one scanned root as printed by the scan command.
type scanReport struct {
	Root      string                  `json:"root"`
	Total     uint64                  `json:"total_bytes"`
	Elapsed   time.Duration           `json:"elapsed_ns"`
	Partial   bool                    `json:"partial"`
	Cached    bool                    `json:"cached"`
	CachedAge time.Duration           `json:"cached_age_ns,omitempty"`
	Errors    int                     `json:"errors"`
	Items     []aggregate.WorkingItem `json:"items"`
}

func (a *app) scanCmd(ctx context.Context) error {
	cls, err := a.newClassifier()
	if err != nil {
		return err
	}

	roots, err := a.scanRoots(cls)
	if err != nil {
		return err
	}

	cache := a.openCache(ctx)
	if cache != nil {
		defer cache.Close()
	}

	reports := make([]scanReport, 0, len(roots))
	for _, root := range roots {
		report, err := a.scanRoot(ctx, cls, cache, root)
		if err != nil && !pkgerrors.IsKind(err, pkgerrors.KindCancelled) {
			return err
		}
		reports = append(reports, report)
		if err != nil {
			break
		}
	}

	if a.cfg.Args.Scan.JSON {
		enc := json.NewEncoder(a.io.out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	for _, report := range reports {
		a.printScanReport(report)
	}
	return nil
}

// scanRoots resolves the scan argument: empty means every existing root, a root name
// means that root, anything else must be an absolute directory.
func (a *app) scanRoots(cls *classifier.Classifier) ([]string, error) {
	arg := a.cfg.Args.Scan.Root

	if arg == "" {
		var roots []string
		for _, root := range cls.Roots() {
			if path, err := cls.ValidateScanRoot(root.Path); err == nil {
				roots = append(roots, path)
			}
		}
		if len(roots) == 0 {
			return nil, classifier.ErrNoRoots
		}
		return roots, nil
	}

	if !filepath.IsAbs(arg) && !strings.ContainsRune(arg, filepath.Separator) {
		if path, err := cls.Resolve(arg); err == nil {
			arg = path
		}
	}

	if !filepath.IsAbs(arg) {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve %s: %w", arg, err)
		}
		arg = abs
	}

	path, err := cls.ValidateScanRoot(arg)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// openCache opens the scan cache. The cache is an optimization, so failures are logged
// and scanning continues without it.
func (a *app) openCache(ctx context.Context) *store.Store {
	if a.cfg.Settings.CachePath == "" {
		return nil
	}

	cache, err := store.Open(ctx, a.cfg.Settings.CachePath,
		store.WithTTL(a.cfg.CacheTTL),
		store.WithLogger(logging.Component(a.logger, "cache")))
	if err != nil {
		a.logger.Warn().Err(err).Msg("scan cache unavailable")
		return nil
	}

	if pruned, err := cache.Prune(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to prune scan cache")
	} else if pruned > 0 {
		a.logger.Debug().Int("scans", pruned).Msg("pruned expired scans")
	}
	return cache
}

func (a *app) scanRoot(ctx context.Context, cls *classifier.Classifier, cache *store.Store, root string) (scanReport, error) {
	cmd := a.cfg.Args.Scan
	depth := *cmd.MaxDepth

	agg := aggregate.New(aggregate.Options{
		MemoryLimit:    a.cfg.MemoryLimit,
		LargeThreshold: a.cfg.LargeThreshold,
		SortField:      cmd.Sort,
		SortOrder:      cmd.Order,
		Logger:         logging.Component(a.logger, "aggregate"),
	}, cls, nil)

	if cmd.Cached && cache != nil {
		entry, err := cache.Load(ctx, root, depth)
		switch {
		case err == nil:
			for _, item := range entry.Items {
				agg.Apply(scan.ItemFound{Item: item, ProgressFraction: 1})
			}
			agg.Apply(scan.ScanCompleted{TotalItems: entry.TotalItems, TotalSize: entry.TotalSize})
			report := a.report(root, agg, entry.Elapsed)
			report.Cached = true
			report.CachedAge = entry.Age(time.Now())
			return report, nil
		case !errors.Is(err, store.ErrMiss):
			a.logger.Warn().Err(err).Str("path", root).Msg("failed to read scan cache")
		}
	}

	opts := scan.DefaultOptions().
		WithWorkers(a.cfg.Settings.Workers).
		WithMaxDepth(depth).
		WithFollowSymlinks(cmd.FollowLinks).
		WithExcludes(cmd.Exclude...)

	engine := scan.NewEngine(a.fs, scan.WithLogger(logging.Component(a.logger, "scan")))

	var (
		result *scan.Result
		err    error
	)
	if cmd.Live && a.io.tty {
		result, err = a.scanLive(ctx, engine, agg, root, opts)
	} else {
		result, err = engine.ScanAll(ctx, root, opts)
		if result != nil {
			for _, item := range result.Items {
				agg.Apply(scan.ItemFound{Item: item, ProgressFraction: 1})
			}
			for _, scanErr := range result.Errors {
				agg.Apply(scanErr)
			}
			agg.Apply(result.Summary)
		}
	}
	if result == nil {
		return scanReport{Root: root}, err
	}

	for _, scanErr := range result.Errors {
		a.logger.Debug().Str("path", scanErr.Path).Str("kind", scanErr.ErrorType.String()).Msg(scanErr.Message)
	}

	if err == nil && cache != nil {
		if saveErr := cache.Save(ctx, result, depth); saveErr != nil {
			a.logger.Warn().Err(saveErr).Msg("failed to cache scan")
		}
	}

	report := a.report(root, agg, time.Duration(result.Summary.ElapsedMs)*time.Millisecond)
	report.Errors = len(result.Errors)
	return report, err
}

// scanLive runs the scan behind the live view. The event stream is teed: the aggregator
// feeds the view while a collector keeps the drained result for caching and printing.
func (a *app) scanLive(
	ctx context.Context,
	engine *scan.Engine,
	agg *aggregate.Aggregator,
	root string,
	opts scan.Options,
) (*scan.Result, error) {
	session, err := engine.Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	collector := scan.NewCollector(session.Root())
	events := make(chan scan.Event, opts.EventBuffer)
	teed := make(chan struct{})

	go func() {
		defer close(teed)
		defer close(events)
		for event := range session.Events() {
			collector.Add(event)
			select {
			case events <- event:
			case <-ctx.Done():
			}
		}
	}()

	cmd := a.cfg.Args.Scan
	_, viewErr := tui.Run(ctx, tui.RunOptions{
		Options: tui.Options{
			Root:      session.Root(),
			Sorter:    agg,
			Snapshots: agg.Run(ctx, events),
			Cancel:    session.Cancel,
			Limit:     cmd.Limit,
			SortField: cmd.Sort,
			SortOrder: cmd.Order,
		},
		Input:     a.io.in,
		Output:    a.io.out,
		AltScreen: true,
	})
	if viewErr != nil {
		session.Cancel()
		a.logger.Warn().Err(viewErr).Msg("live view stopped")
	}

	<-teed
	return collector.Finish(ctx, session.Tree())
}

func (a *app) report(root string, agg *aggregate.Aggregator, elapsed time.Duration) scanReport {
	cmd := a.cfg.Args.Scan

	var items []aggregate.WorkingItem
	if cmd.Threshold != "" {
		items = agg.Filter(a.cfg.LargeThreshold)
	} else {
		items = agg.Snapshot().Items
	}
	if cmd.Limit > 0 && len(items) > cmd.Limit {
		items = items[:cmd.Limit]
	}

	stats := agg.Stats()
	return scanReport{
		Root:    root,
		Total:   stats.Total,
		Elapsed: elapsed,
		Partial: stats.Partial,
		Items:   items,
	}
}

func (a *app) printScanReport(report scanReport) {
	heading := fmt.Sprintf("%s  %s", report.Root, humanize.IBytes(report.Total))
	fmt.Fprintln(a.io.out, tui.RenderTitle(heading))

	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		marker := ""
		if item.AboveThreshold {
			marker = tui.LargeMarker
		}
		rows = append(rows, []string{
			marker,
			humanize.IBytes(item.Size),
			fmt.Sprintf("%.1f%%", item.Percentage),
			item.Kind.String(),
			item.Category,
			item.Path,
		})
	}

	fmt.Fprintln(a.io.out, renderTable([]string{"", "Size", "Share", "Kind", "Root", "Path"}, rows))

	var notes []string
	if report.Cached {
		notes = append(notes, "cached "+humanize.Time(time.Now().Add(-report.CachedAge)))
	} else {
		notes = append(notes, "scanned in "+tui.FormatDuration(report.Elapsed))
	}
	if report.Errors > 0 {
		notes = append(notes, fmt.Sprintf("%d unreadable entries skipped", report.Errors))
	}
	if len(notes) > 0 {
		fmt.Fprintln(a.io.out, tui.RenderDim(strings.Join(notes, ", ")))
	}
	if report.Partial {
		fmt.Fprintln(a.io.out, tui.RenderWarning("Scan was cancelled; sizes are incomplete."))
	}
	fmt.Fprintln(a.io.out)
}

// renderTable draws rows under headers with the shared styling.
func renderTable(headers []string, rows [][]string) string {
	headerStyle := tui.LabelStyle().Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tui.DimStyle()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}
