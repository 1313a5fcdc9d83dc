// Package scan walks directory trees with a bounded worker pool and reports what it finds
// as a stream of events.
package scan

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
	"github.com/joe/dirmover/pkg/filesystem"
)

// Engine runs scans against a filesystem. It holds no per-scan state; every call to Scan
// returns an independent Session.
type Engine struct {
	fs     filesystem.FileSystem
	logger zerolog.Logger
	clock  TimeProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTimeProvider replaces the wall clock, for tests.
func WithTimeProvider(clock TimeProvider) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates a scan engine.
func NewEngine(fs filesystem.FileSystem, opts ...Option) *Engine {
	e := &Engine{
		fs:     fs,
		logger: zerolog.Nop(),
		clock:  &RealTimeProvider{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session is the handle of one running scan.
type Session struct {
	root   string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	tree   *DirectoryNode
}

// Events returns the event stream. It is closed after the terminal event (ScanCompleted,
// or a non-recoverable ScanError). Callers must drain it.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Cancel stops the scan. The stream then ends with ScanCompleted{Partial: true}.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed when the scan has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Root returns the cleaned scan root.
func (s *Session) Root() string {
	return s.root
}

// Tree blocks until the scan has stopped and returns the scanned tree, or nil when the
// root could not be read.
func (s *Session) Tree() *DirectoryNode {
	<-s.done
	return s.tree
}

// Scan starts scanning root and returns immediately. Failures to read the root are
// reported through the stream; only invalid arguments are returned as errors.
func (e *Engine) Scan(ctx context.Context, root string, opts Options) (*Session, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}

	if root == "" || !filepath.IsAbs(root) {
		return nil, pkgerrors.Wrapf(pkgerrors.KindInvalidPath,
			fmt.Errorf("scan root must be absolute: %q", root), "scan", root)
	}

	ctx, cancel := context.WithCancel(ctx)
	session := &Session{
		root:   filepath.Clean(root),
		events: make(chan Event, opts.EventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r := newRun(ctx, e, session.root, opts, session.events)

	go func() {
		defer cancel()
		defer close(session.done)
		session.tree = r.execute()
		close(session.events)
	}()

	return session, nil
}

// Result is the drained form of a scan.
type Result struct {
	Root    string
	Items   []Item // discovery order, sizes final
	Errors  []ScanError
	Summary ScanCompleted
	Tree    *DirectoryNode
	Events  int
}

// ScanAll runs a scan to completion and collects its events. A non-recoverable ScanError
// is returned as an error; a cancelled scan returns its partial result together with a
// Cancelled error.
func (e *Engine) ScanAll(ctx context.Context, root string, opts Options) (*Result, error) {
	session, err := e.Scan(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	collector := NewCollector(session.Root())
	for event := range session.Events() {
		collector.Add(event)
	}

	return collector.Finish(ctx, session.Tree())
}

// Collector folds a scan stream into a Result. It lets a caller that consumes the stream
// itself, such as a live view, still obtain the drained form.
type Collector struct {
	result *Result
	index  map[string]int
	fatal  *ScanError
}

// NewCollector starts collecting a scan of root.
func NewCollector(root string) *Collector {
	return &Collector{result: &Result{Root: root}, index: make(map[string]int)}
}

// Add records one event.
func (c *Collector) Add(event Event) {
	c.result.Events++

	switch ev := event.(type) {
	case ItemFound:
		c.index[ev.Item.Path] = len(c.result.Items)
		c.result.Items = append(c.result.Items, ev.Item)
	case ItemUpdated:
		if i, ok := c.index[ev.Path]; ok {
			c.result.Items[i].Size = ev.NewSize
		}
	case ScanError:
		c.result.Errors = append(c.result.Errors, ev)
		if !ev.Recoverable {
			c.fatal = &ev
		}
	case ScanCompleted:
		c.result.Summary = ev
	}
}

// Finish returns the collected result with tree attached, and the error ScanAll would
// return for it.
func (c *Collector) Finish(ctx context.Context, tree *DirectoryNode) (*Result, error) {
	result := c.result
	result.Tree = tree

	if c.fatal != nil {
		return result, c.fatal.Err()
	}

	if result.Summary.Partial {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		return result, pkgerrors.Wrapf(pkgerrors.KindCancelled, cause, "scan", result.Root)
	}

	return result, nil
}
