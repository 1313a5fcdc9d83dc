package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/dirmover/internal/classifier"
	"github.com/joe/dirmover/internal/config"
	"github.com/joe/dirmover/internal/journal"
	"github.com/joe/dirmover/internal/logging"
	"github.com/joe/dirmover/internal/tui"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
	"github.com/joe/dirmover/pkg/filesystem"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	// errNotConfirmed is returned when the user declines a destructive action.
	errNotConfirmed = errors.New("aborted by user")
	// errRecoveryPending is returned when interrupted migrations must be recovered first.
	errRecoveryPending = errors.New("interrupted migrations are pending")
)

// streams are the process's standard streams. Tests replace them with buffers.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
	// tty reports whether in and out are both terminals.
	tty bool
}

func stdStreams() streams {
	return streams{
		in:  os.Stdin,
		out: os.Stdout,
		err: os.Stderr,
		tty: term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	io     streams
	logger zerolog.Logger
	fs     filesystem.FileSystem
}

// run dispatches the parsed command and returns the process exit code.
func run(ctx context.Context, cfg *config.Config, std streams) int {
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		JSON:    cfg.Args.LogFormat == config.LogJSON,
		Out:     std.err,
		File:    cfg.Args.LogFile,
		NoColor: !std.tty,
	})
	if err != nil {
		fmt.Fprintf(std.err, "Error: %v\n", err)
		return exitFailure
	}
	defer closer.Close()

	a := &app{cfg: cfg, io: std, logger: logger, fs: filesystem.NewOsFileSystem()}

	if err := a.dispatch(ctx); err != nil {
		a.printError(err)
		if errors.Is(err, errNotConfirmed) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}

func (a *app) dispatch(ctx context.Context) error {
	args := a.cfg.Args

	switch {
	case args.Scan != nil:
		return a.scanCmd(ctx)
	case args.Migrate != nil:
		return a.migrateCmd(ctx)
	case args.Recover != nil:
		return a.recoverCmd(ctx)
	case args.Drives != nil:
		return a.drivesCmd()
	case args.Journal != nil:
		return a.journalCmd()
	case args.Config != nil:
		return a.configCmd()
	default:
		return config.ErrNoCommand
	}
}

func (a *app) newClassifier() (*classifier.Classifier, error) {
	settings := a.cfg.Settings

	roots := make([]classifier.Root, 0, len(settings.Roots))
	for _, root := range settings.Roots {
		roots = append(roots, classifier.Root{Name: root.Name, Path: root.Path})
	}

	cls, err := classifier.New(classifier.Options{
		Roots:          roots,
		ProtectedPaths: settings.ProtectedPaths,
		ProtectedGlobs: settings.ProtectedGlobs,
		FS:             a.fs,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid path settings: %w", err)
	}
	return cls, nil
}

func (a *app) openJournal() (*journal.Journal, error) {
	return journal.Open(a.cfg.Settings.JournalPath,
		journal.WithLogger(logging.Component(a.logger, "journal")))
}

// confirm asks a yes/no question on the terminal. Without a terminal it refuses, so
// destructive commands in scripts need --yes.
func (a *app) confirm(question string) error {
	if !a.io.tty {
		return fmt.Errorf("%w: not a terminal, pass --yes to proceed", errNotConfirmed)
	}

	fmt.Fprintf(a.io.out, "%s [y/N] ", question)
	line, err := bufio.NewReader(a.io.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return errNotConfirmed
	}
}

func (a *app) printError(err error) {
	fmt.Fprintln(a.io.err, tui.RenderError("Error: ")+err.Error())
	if suggestions := pkgerrors.FormatSuggestions(asActionable(err)); suggestions != "" {
		fmt.Fprintln(a.io.err, suggestions)
	}
}

// asActionable returns the first taxonomy error in err's chain, which carries the
// suggestions. OS errors that were never classified are enriched when their kind is known.
func asActionable(err error) error {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return typed
	}

	enriched := pkgerrors.NewEnricher().Enrich(err, "")
	if pkgerrors.KindOf(enriched) == pkgerrors.KindUnknown {
		return nil
	}
	return enriched
}
