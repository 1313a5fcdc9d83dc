package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/joe/dirmover/pkg/filesystem"
)

// rollbackSteps says which effects of an operation may exist and must be undone.
type rollbackSteps struct {
	source string
	target string

	targetTouched bool // copying began
	sourceTouched bool // source deletion began
	linkAttempted bool // link creation began
	checksums     bool
}

// rollback undoes an operation in reverse order: the link, then the source, then the
// target copy. It returns the paths that could not be put back and need manual attention.
// Every step is safe to repeat, so recovery may run it on an operation that was already
// partly undone.
func (e *Engine) rollback(ctx context.Context, logger zerolog.Logger, steps rollbackSteps) []string {
	if steps.linkAttempted {
		if err := e.removeLink(steps.source, steps.target); err != nil {
			logger.Error().Err(err).Msg("failed to remove link during rollback")
			// The source path is occupied, so the target copy is the only complete data.
			return []string{steps.source, steps.target}
		}
	}

	if steps.sourceTouched {
		if err := e.restoreSource(ctx, steps.source, steps.target, steps.checksums); err != nil {
			logger.Error().Err(err).Msg("failed to restore source during rollback")
			return []string{steps.source, steps.target}
		}
		logger.Info().Msg("source restored from target copy")
	}

	if steps.targetTouched {
		if err := e.ops.RemoveTree(steps.target); err != nil {
			logger.Error().Err(err).Msg("failed to remove target during rollback")
			return []string{steps.target}
		}
	}

	return nil
}

// removeLink deletes the link at source if it points at target. A link pointing elsewhere
// was not created by this operation and is an error.
func (e *Engine) removeLink(source, target string) error {
	info, err := e.fs.Lstat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to inspect %s: %w", source, err)
	}
	if !filesystem.IsSymlink(info) {
		return nil
	}

	dest, err := e.fs.Readlink(source)
	if err != nil {
		return fmt.Errorf("failed to read link %s: %w", source, err)
	}
	if filepath.Clean(dest) != filepath.Clean(target) {
		return fmt.Errorf("link %s points at %s, not %s", source, dest, target)
	}

	if err := e.fs.Remove(source); err != nil {
		return fmt.Errorf("failed to remove link %s: %w", source, err)
	}
	return nil
}

// restoreSource makes source match the target copy again. An intact source is left alone;
// a partially deleted one is replaced.
func (e *Engine) restoreSource(ctx context.Context, source, target string, checksums bool) error {
	if !filesystem.Exists(e.fs, target) {
		if filesystem.Exists(e.fs, source) {
			return nil
		}
		return fmt.Errorf("neither %s nor %s exists", source, target)
	}

	expected, err := e.ops.BuildManifest(target)
	if err != nil {
		return fmt.Errorf("failed to read target copy %s: %w", target, err)
	}

	if filesystem.Exists(e.fs, source) {
		if e.ops.VerifyManifest(ctx, expected, source, false) == nil {
			return nil
		}
		if err := e.ops.RemoveTree(source); err != nil {
			return fmt.Errorf("failed to clear partial source %s: %w", source, err)
		}
	}

	restored, err := e.ops.CopyTree(ctx, target, source, nil)
	if err != nil {
		return fmt.Errorf("failed to copy %s back to %s: %w", target, source, err)
	}

	if err := e.ops.VerifyManifest(ctx, restored, source, checksums); err != nil {
		return fmt.Errorf("failed to verify restored source %s: %w", source, err)
	}

	return nil
}
