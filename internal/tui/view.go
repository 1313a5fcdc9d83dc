package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	"github.com/dustin/go-humanize"

	"github.com/joe/dirmover/internal/aggregate"
)

// View implements tea.Model
func (m Model) View() string {
	if m.quitting && (m.state == StateComplete || m.state == StateCancelled) {
		return ""
	}

	var b strings.Builder

	b.WriteString(RenderTitle("dirmover: " + m.opts.Root))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderStatus() string {
	stats := m.snapshot.Stats
	fraction := stats.Progress / ProgressPercentageScale

	switch m.state {
	case StateComplete:
		return RenderSuccess("✓ Scan complete") + RenderDim(" in "+FormatDuration(m.elapsed))
	case StateCancelled:
		return RenderWarning("Scan cancelled, results are partial") + RenderDim(" after "+FormatDuration(m.elapsed))
	case StateCancelling:
		return m.spinner.View() + " " + RenderWarning("Cancelling...")
	}

	return fmt.Sprintf("%s %s %s",
		m.spinner.View(),
		renderProgress(m.progress, fraction),
		RenderDim(FormatDuration(m.elapsed)))
}

func (m Model) renderStats() string {
	stats := m.snapshot.Stats

	parts := []string{
		RenderLabel("Total: ") + humanize.IBytes(stats.Total),
		RenderLabel("Items: ") + humanize.Comma(int64(stats.Items)),
		RenderLabel("Sort: ") + fmt.Sprintf("%s %s", m.sortField, m.sortOrder),
	}
	if stats.Errors > 0 {
		parts = append(parts, RenderError(fmt.Sprintf("Errors: %d", stats.Errors)))
	}
	if stats.Evictions > 0 {
		parts = append(parts, RenderDim(fmt.Sprintf("Dropped: %s", humanize.Comma(stats.Evictions))))
	}

	return strings.Join(parts, "  ")
}

func (m Model) renderHelp() string {
	if m.state == StateScanning {
		return RenderDim("↑/↓ move • s sort field • o order • q cancel")
	}
	return RenderDim("↑/↓ move • s sort field • o order • q quit")
}

func (m *Model) setSnapshot(snap aggregate.Snapshot) {
	m.snapshot = snap

	items := snap.Items
	if len(items) > m.opts.Limit {
		items = items[:m.opts.Limit]
	}

	rows := make([]table.Row, 0, len(items))
	for _, item := range items {
		marker := " "
		if item.AboveThreshold {
			marker = LargeMarker
		}
		rows = append(rows, table.Row{
			marker,
			humanize.IBytes(item.Size),
			fmt.Sprintf("%5.1f%%", item.Percentage),
			item.Category,
			item.Path,
		})
	}
	m.table.SetRows(rows)
}

func (m *Model) resize() {
	m.table.SetColumns(columns(m.width))
	m.table.SetHeight(max(minTableRows, m.height-chromeHeight))
	m.table.SetWidth(m.width)
	m.progress.Width = min(MaxProgressBarWidth, max(ProgressBarWidth, m.width/2))
}

func columns(width int) []table.Column {
	const (
		markerWidth   = 1
		sizeWidth     = 10
		percentWidth  = 7
		categoryWidth = 10
		padding       = 10 // cell padding of five columns
	)

	pathWidth := max(20, width-markerWidth-sizeWidth-percentWidth-categoryWidth-padding)

	return []table.Column{
		{Title: " ", Width: markerWidth},
		{Title: "Size", Width: sizeWidth},
		{Title: "Share", Width: percentWidth},
		{Title: "Root", Width: categoryWidth},
		{Title: "Path", Width: pathWidth},
	}
}

func newProgressModel(width int) progress.Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = width
	if !colorsDisabled {
		bar.EmptyColor = dimColorCode
		bar.FullColor = accentColorCode
	}
	return bar
}

// renderProgress renders the bar, or an ASCII bar when colors are disabled.
func renderProgress(model progress.Model, percent float64) string {
	if colorsDisabled {
		return RenderASCIIProgress(percent, model.Width)
	}
	return model.ViewAs(percent)
}

// RenderASCIIProgress renders a progress bar in ASCII format.
// percent should be between 0.0 and 1.0, width is the total width of the bar.
// Returns a string like: "[=========>          ] 45%"
func RenderASCIIProgress(percent float64, width int) string {
	percent = min(1, max(0, percent))
	pct := int(percent * ProgressPercentageScale)
	filled := int(percent * float64(width))

	var bar strings.Builder
	bar.WriteString("[")

	switch {
	case filled >= width:
		bar.WriteString(strings.Repeat("=", width))
	case percent > 0:
		equals := max(0, filled-1)
		bar.WriteString(strings.Repeat("=", equals))
		bar.WriteString(">")
		bar.WriteString(strings.Repeat(" ", width-equals-1))
	default:
		bar.WriteString(strings.Repeat(" ", width))
	}

	bar.WriteString("]")

	return fmt.Sprintf("%s %d%%", bar.String(), pct)
}

// FormatDuration formats duration into human-readable format (e.g., "2m 30s")
func FormatDuration(duration time.Duration) string {
	duration = duration.Round(time.Second)
	hours := duration / time.Hour
	duration %= time.Hour
	minutes := duration / time.Minute
	duration %= time.Minute
	seconds := duration / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}
