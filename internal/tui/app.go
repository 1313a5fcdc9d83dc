package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/dirmover/internal/aggregate"
)

// RunOptions configures Run.
type RunOptions struct {
	Options
	Input  io.Reader
	Output io.Writer
	// AltScreen draws the view on the alternate screen buffer.
	AltScreen bool
}

// Run shows the live view until the scan finishes and the user quits, or until ctx is
// done. It returns the last snapshot the view received.
func Run(ctx context.Context, opts RunOptions) (aggregate.Snapshot, error) {
	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}
	if opts.AltScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}

	program := tea.NewProgram(NewModel(opts.Options), programOpts...)

	final, err := program.Run()
	if model, ok := final.(Model); ok {
		if err != nil {
			return model.Snapshot(), fmt.Errorf("live view failed: %w", err)
		}
		return model.Snapshot(), nil
	}
	if err != nil {
		return aggregate.Snapshot{}, fmt.Errorf("live view failed: %w", err)
	}
	return aggregate.Snapshot{}, nil
}
