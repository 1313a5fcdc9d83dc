// Package tui renders a live terminal view of a running scan.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joe/dirmover/internal/aggregate"
	"github.com/joe/dirmover/internal/sortengine"
)

// Model states.
const (
	StateScanning   = "scanning"
	StateCancelling = "cancelling"
	StateComplete   = "complete"
	StateCancelled  = "cancelled"
)

// Exported constants.
const (
	DefaultLimit  = 200
	TickInterval  = 100 * time.Millisecond
	minTableRows  = 5
	chromeHeight  = 9 // title, progress, stats, help and margins
	defaultWidth  = 100
	defaultHeight = 30
)

// SnapshotMsg carries a new aggregator snapshot.
type SnapshotMsg struct {
	Snapshot aggregate.Snapshot
}

// ScanDoneMsg is sent when the snapshot stream has closed.
type ScanDoneMsg struct{}

type tickMsg time.Time

// Sorter is the part of the aggregator the view drives.
type Sorter interface {
	SetSort(field sortengine.Field, order sortengine.Order)
	Snapshot() aggregate.Snapshot
}

// Options configures NewModel.
type Options struct {
	Root      string
	Sorter    Sorter
	Snapshots <-chan aggregate.Snapshot
	// Cancel stops the scan. It is called at most once.
	Cancel    func()
	Limit     int
	SortField sortengine.Field
	SortOrder sortengine.Order
	Started   time.Time
}

// Model is the live scan view.
type Model struct {
	opts Options

	snapshot aggregate.Snapshot
	progress progress.Model
	spinner  spinner.Model
	table    table.Model

	sortField sortengine.Field
	sortOrder sortengine.Order

	width    int
	height   int
	state    string
	elapsed  time.Duration
	quitting bool
}

// NewModel creates the view. Snapshots must be closed when the scan has finished.
func NewModel(opts Options) Model {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor())

	t := table.New(
		table.WithColumns(columns(defaultWidth)),
		table.WithFocused(true),
		table.WithHeight(defaultHeight-chromeHeight),
	)
	t.SetStyles(tableStyles())

	m := Model{
		opts:      opts,
		progress:  newProgressModel(ProgressBarWidth),
		spinner:   s,
		table:     t,
		sortField: opts.SortField,
		sortOrder: opts.SortOrder,
		width:     defaultWidth,
		height:    defaultHeight,
		state:     StateScanning,
	}
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listen(),
		tickCmd(),
	)
}

// Snapshot returns the last snapshot received.
func (m Model) Snapshot() aggregate.Snapshot {
	return m.snapshot
}

// State returns the scan state shown by the view.
func (m Model) State() string {
	return m.state
}

// SortField returns the active sort field.
func (m Model) SortField() sortengine.Field {
	return m.sortField
}

// SortOrder returns the active sort order.
func (m Model) SortOrder() sortengine.Order {
	return m.sortOrder
}

// listen blocks until the next snapshot or the end of the stream.
func (m Model) listen() tea.Cmd {
	snapshots := m.opts.Snapshots
	return func() tea.Msg {
		snap, ok := <-snapshots
		if !ok {
			return ScanDoneMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
