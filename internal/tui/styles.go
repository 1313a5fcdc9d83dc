package tui

import (
	"os"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Exported constants.
const (
	// ProgressBarWidth is the narrowest progress bar drawn.
	ProgressBarWidth = 40
	// MaxProgressBarWidth caps the bar on wide terminals.
	MaxProgressBarWidth = 100
	// ProgressPercentageScale converts fractions to percentages.
	ProgressPercentageScale = 100

	// KeyCtrlC is the key binding for cancellation
	KeyCtrlC = "ctrl+c"
	// LargeMarker flags items above the large-item threshold.
	LargeMarker = "●"
)

//nolint:gochecknoglobals // read once from the environment
var colorsDisabled = os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"

// PrimaryColor is used for titles and the spinner.
func PrimaryColor() lipgloss.Color { return lipgloss.Color(primaryColorCode) }

// DimStyle is for secondary text and table borders.
func DimStyle() lipgloss.Style { return fg(dimColorCode, false) }

// LabelStyle is for table headers and key names.
func LabelStyle() lipgloss.Style { return fg(highlightColorCode, true) }

// RenderDim renders secondary text.
func RenderDim(text string) string { return DimStyle().Render(text) }

// RenderError renders a failure.
func RenderError(text string) string { return fg(errorColorCode, true).Render(text) }

// RenderLabel renders a key or header.
func RenderLabel(text string) string { return LabelStyle().Render(text) }

// RenderSuccess renders a completed step.
func RenderSuccess(text string) string { return fg(successColorCode, true).Render(text) }

// RenderTitle renders a section heading.
func RenderTitle(text string) string {
	return fg(primaryColorCode, true).MarginBottom(1).Render(text)
}

// RenderWarning renders something the user should look at.
func RenderWarning(text string) string { return fg(warningColorCode, true).Render(text) }

func fg(code string, bold bool) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(bold)
	if colorsDisabled {
		return style
	}
	return style.Foreground(lipgloss.Color(code))
}

// tableStyles highlights the selected row of the item table.
func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(dimColorCode)).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color(normalColorCode)).
		Background(lipgloss.Color(accentColorCode)).
		Bold(false)
	return styles
}

// unexported constants.
const (
	accentColorCode    = "62"  // Blue
	dimColorCode       = "240" // Dark gray
	errorColorCode     = "196" // Red
	highlightColorCode = "86"  // Cyan
	normalColorCode    = "252" // Light gray
	primaryColorCode   = "205" // Pink
	successColorCode   = "42"  // Green
	warningColorCode   = "226" // Yellow
)
