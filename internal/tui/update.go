package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/dirmover/internal/sortengine"
)

// sortFields is the cycle the "s" key walks through.
var sortFields = []sortengine.Field{
	sortengine.BySize,
	sortengine.ByName,
	sortengine.ByPath,
	sortengine.ByPercentage,
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		m.setSnapshot(msg.Snapshot)
		return m, m.listen()

	case ScanDoneMsg:
		if m.snapshot.Stats.Partial || m.state == StateCancelling {
			m.state = StateCancelled
		} else {
			m.state = StateComplete
		}
		m.elapsed = time.Since(m.opts.Started)
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		if m.state == StateComplete || m.state == StateCancelled {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.opts.Started)
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyCtrlC, "q", "esc":
		if m.state == StateScanning {
			m.state = StateCancelling
			m.quitting = true
			if m.opts.Cancel != nil {
				m.opts.Cancel()
			}
			// The stream closes once the scan has stopped; ScanDoneMsg quits.
			return m, nil
		}
		if m.state == StateCancelling {
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "s":
		m.sortField = nextField(m.sortField)
		m.resort()
		return m, nil

	case "o":
		if m.sortOrder == sortengine.Descending {
			m.sortOrder = sortengine.Ascending
		} else {
			m.sortOrder = sortengine.Descending
		}
		m.resort()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// resort applies the current sort to the aggregator and redraws from a fresh snapshot so
// the change shows without waiting for the next event.
func (m *Model) resort() {
	if m.opts.Sorter == nil {
		return
	}
	m.opts.Sorter.SetSort(m.sortField, m.sortOrder)
	m.setSnapshot(m.opts.Sorter.Snapshot())
}

func nextField(field sortengine.Field) sortengine.Field {
	for i, f := range sortFields {
		if f == field {
			return sortFields[(i+1)%len(sortFields)]
		}
	}
	return sortengine.BySize
}
