package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
	"github.com/joe/dirmover/pkg/filesystem"
)

var (
	errNotDirectory = errors.New("not a directory")
	errLoop         = errors.New("directory already visited on this branch")
)

// dirState tracks one directory from discovery to completion. A directory completes when
// its own listing has finished and every child directory has completed; pending counts
// both.
type dirState struct {
	path   string
	name   string
	depth  int
	parent *dirState
	node   *DirectoryNode // nil inside collapsed subtrees

	// silent directories emit no events of their own; collapsed marks the top of a
	// silent subtree, which is reported as one ItemFound when it completes.
	silent    bool
	collapsed bool

	ancestors *identityChain
	started   time.Time
	entries   int

	size    atomic.Uint64
	pending atomic.Int32
	done    atomic.Bool
}

// identityChain is the immutable list of directory identities above a directory.
type identityChain struct {
	id     string
	parent *identityChain
}

func (c *identityChain) contains(id string) bool {
	for link := c; link != nil; link = link.parent {
		if link.id == id {
			return true
		}
	}
	return false
}

// run is the state of one scan.
type run struct {
	ctx    context.Context
	fs     filesystem.FileSystem
	opts   Options
	logger zerolog.Logger
	clock  TimeProvider
	root   string
	start  time.Time

	out chan<- Event
	mu  sync.Mutex // serializes emission

	dirQueue  chan *dirState
	inFlight  atomic.Int64
	closeOnce sync.Once
	wg        sync.WaitGroup

	discovered atomic.Int64
	completed  atomic.Int64
	itemsFound atomic.Int64
	current    atomic.Value // string

	rootState *dirState
	fatal     atomic.Pointer[ScanError]
}

func newRun(ctx context.Context, e *Engine, root string, opts Options, out chan<- Event) *run {
	return &run{
		ctx:      ctx,
		fs:       e.fs,
		opts:     opts,
		logger:   e.logger.With().Str("root", root).Logger(),
		clock:    e.clock,
		root:     root,
		out:      out,
		dirQueue: make(chan *dirState, opts.QueueSize),
	}
}

// execute runs the scan to its end, emits the terminal event and returns the tree.
func (r *run) execute() *DirectoryNode {
	r.start = r.clock.Now()
	r.logger.Debug().Int("workers", r.opts.Workers).Int("max_depth", r.opts.MaxDepth).Msg("scan started")

	info, err := r.fs.Stat(r.root)
	if err == nil && !info.IsDir() {
		err = pkgerrors.Wrapf(pkgerrors.KindInvalidPath, errNotDirectory, "scan", r.root)
	}
	if err != nil {
		r.final(r.scanError(r.root, err, false))
		return nil
	}

	r.rootState = &dirState{
		path:    r.root,
		name:    filepath.Base(r.root),
		started: r.clock.Now(),
	}
	r.rootState.node = &DirectoryNode{
		Path:  r.root,
		Name:  r.rootState.name,
		Kind:  ItemDirectory,
		state: r.rootState,
	}
	if r.opts.FollowSymlinks {
		r.rootState.ancestors = &identityChain{id: r.identity(r.root, info)}
	}
	r.rootState.pending.Store(1)
	r.discovered.Add(1)

	for i := range r.opts.Workers {
		w := &worker{id: i, run: r}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.loop()
		}()
	}

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		r.reportProgress(stopProgress)
	}()

	r.inFlight.Add(1)
	select {
	case r.dirQueue <- r.rootState:
	case <-r.ctx.Done():
		r.inFlight.Add(-1)
	}

	r.wg.Wait()
	close(stopProgress)
	<-progressDone

	if fatal := r.fatal.Load(); fatal != nil {
		r.final(*fatal)
		return nil
	}

	// A cancelled listing still finishes its directory, so done alone is not enough.
	partial := !r.rootState.done.Load() || r.ctx.Err() != nil
	tree := r.rootState.node
	finalizeTree(tree)

	elapsed := r.clock.Now().Sub(r.start)
	r.logger.Debug().
		Uint64("bytes", tree.Size).
		Int64("dirs", r.completed.Load()).
		Bool("partial", partial).
		Dur("elapsed", elapsed).
		Msg("scan finished")

	r.final(ScanCompleted{
		TotalItems: r.rootState.entries,
		TotalSize:  tree.Size,
		ElapsedMs:  elapsed.Milliseconds(),
		Partial:    partial,
	})

	return tree
}

// emit sends an event unless the scan has been cancelled. Emission is serialized so that
// happens-before between workers carries over to stream order.
func (r *run) emit(event Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return false
	}

	select {
	case r.out <- event:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// final sends the terminal event. Every worker has stopped by now.
func (r *run) final(event Event) {
	r.out <- event
}

func (r *run) scanError(path string, err error, recoverable bool) ScanError {
	return ScanError{
		Message:     err.Error(),
		Path:        path,
		ErrorType:   pkgerrors.Classify(err),
		Recoverable: recoverable,
	}
}

func (r *run) recoverable(path string, err error) {
	r.logger.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
	r.emit(r.scanError(path, err, true))
}

func (r *run) fraction() float64 {
	discovered := r.discovered.Load()
	if discovered == 0 {
		return 0
	}
	return float64(r.completed.Load()) / float64(discovered)
}

func (r *run) enqueue(w *worker, st *dirState) {
	r.inFlight.Add(1)
	select {
	case r.dirQueue <- st:
	default:
		// Queue full: keep work local to avoid deadlock
		w.stack = append(w.stack, st)
	}
}

func (r *run) closeQueue() {
	r.closeOnce.Do(func() {
		close(r.dirQueue)
	})
}

// worker processes directories from the shared queue, falling back to a private stack
// when the queue is full.
type worker struct {
	id    int
	run   *run
	stack []*dirState
}

func (w *worker) loop() {
	r := w.run
	for {
		if len(w.stack) > 0 {
			st := w.stack[len(w.stack)-1]
			w.stack = w.stack[:len(w.stack)-1]
			w.process(st)
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case st, ok := <-r.dirQueue:
			if !ok {
				return
			}
			w.process(st)
		}
	}
}

func (w *worker) process(st *dirState) {
	r := w.run
	if r.ctx.Err() == nil {
		w.list(st)
		r.finish(st)
	}
	if r.inFlight.Add(-1) == 0 {
		r.closeQueue()
	}
}

// list reads one directory and handles each entry.
func (w *worker) list(st *dirState) {
	r := w.run

	if !st.silent {
		r.current.Store(st.path)
		r.emit(DirectoryStarted{Name: st.name, Path: st.path, Timestamp: st.started})
		if st.depth > 0 {
			r.itemsFound.Add(1)
			r.emit(ItemFound{
				Item:             Item{Path: st.path, Name: st.name, Kind: ItemDirectory, Depth: st.depth},
				ProgressFraction: r.fraction(),
			})
		}
	}

	infos, err := r.fs.ReadDir(st.path)
	if err != nil {
		if st == r.rootState {
			fatal := r.scanError(st.path, err, false)
			r.fatal.Store(&fatal)
			return
		}
		r.recoverable(st.path, err)
		return
	}

	for i, info := range infos {
		if i%CancelCheckInterval == 0 && r.ctx.Err() != nil {
			return
		}

		childPath := filepath.Join(st.path, info.Name())
		if len(r.opts.Excludes) > 0 {
			if rel, relErr := filepath.Rel(r.root, childPath); relErr == nil && r.opts.shouldExclude(rel) {
				continue
			}
		}

		st.entries++
		w.visit(st, childPath, info)
	}
}

// visit handles one entry of parent: files are accounted immediately, directories are
// queued.
func (w *worker) visit(parent *dirState, path string, info os.FileInfo) {
	r := w.run
	name := filepath.Base(path)

	if filesystem.IsSymlink(info) {
		if !r.opts.FollowSymlinks {
			r.leaf(parent, path, name, ItemSymlink, 0)
			return
		}

		target, err := r.fs.Stat(path)
		if err != nil {
			if pkgerrors.Classify(err) == pkgerrors.KindSymlinkLoop {
				r.recoverable(path, err)
			}
			r.leaf(parent, path, name, ItemSymlink, 0)
			return
		}
		info = target
	}

	if info.IsDir() {
		w.spawn(parent, path, name, info)
		return
	}

	var size uint64
	if info.Mode().IsRegular() && info.Size() > 0 {
		size = uint64(info.Size())
	}
	r.leaf(parent, path, name, ItemFile, size)
}

// leaf records a non-directory entry.
func (r *run) leaf(parent *dirState, path, name string, kind ItemKind, size uint64) {
	parent.size.Add(size)

	if parent.silent {
		return
	}

	depth := parent.depth + 1
	parent.node.Children = append(parent.node.Children, &DirectoryNode{
		Path:  path,
		Name:  name,
		Size:  size,
		Kind:  kind,
		Depth: depth,
	})

	r.itemsFound.Add(1)
	r.emit(ItemFound{
		Item:             Item{Path: path, Name: name, Size: size, Kind: kind, Depth: depth},
		ProgressFraction: r.fraction(),
	})
}

// spawn registers a child directory with its parent and queues it.
func (w *worker) spawn(parent *dirState, path, name string, info os.FileInfo) {
	r := w.run
	depth := parent.depth + 1

	child := &dirState{
		path:      path,
		name:      name,
		depth:     depth,
		parent:    parent,
		silent:    !r.opts.expands(depth),
		ancestors: parent.ancestors,
	}
	child.collapsed = child.silent && !parent.silent

	if r.opts.FollowSymlinks {
		id := r.identity(path, info)
		if parent.ancestors.contains(id) {
			r.recoverable(path, pkgerrors.Wrapf(pkgerrors.KindSymlinkLoop,
				errLoop, "scan", path))
			r.leaf(parent, path, name, ItemSymlink, 0)
			return
		}
		child.ancestors = &identityChain{id: id, parent: parent.ancestors}
	}

	if !parent.silent {
		child.node = &DirectoryNode{
			Path:      path,
			Name:      name,
			Kind:      ItemDirectory,
			Depth:     depth,
			Collapsed: child.collapsed,
			state:     child,
		}
		parent.node.Children = append(parent.node.Children, child.node)
	}

	child.started = r.clock.Now()
	child.pending.Store(1)
	parent.pending.Add(1)
	r.discovered.Add(1)

	r.enqueue(w, child)
}

// finish releases one pending unit of st and completes every ancestor whose last pending
// unit that was.
func (r *run) finish(st *dirState) {
	for st != nil {
		if st.pending.Add(-1) != 0 {
			return
		}

		r.complete(st)

		parent := st.parent
		if parent != nil {
			parent.size.Add(st.size.Load())
		}
		st = parent
	}
}

func (r *run) complete(st *dirState) {
	size := st.size.Load()
	st.done.Store(true)
	r.completed.Add(1)

	if st.node != nil {
		st.node.Size = size
		st.node.Entries = st.entries
	}

	if st == r.rootState && r.fatal.Load() != nil {
		return
	}

	switch {
	case st.collapsed:
		r.itemsFound.Add(1)
		r.emit(ItemFound{
			Item: Item{
				Path:      st.path,
				Name:      st.name,
				Size:      size,
				Kind:      ItemDirectory,
				Depth:     st.depth,
				Collapsed: true,
			},
			ProgressFraction: r.fraction(),
		})
	case !st.silent:
		if st.depth > 0 {
			r.emit(ItemUpdated{Path: st.path, NewSize: size, Reason: ReasonCompleted})
		}
		r.emit(DirectoryCompleted{
			Name:      st.name,
			Path:      st.path,
			ItemCount: st.entries,
			TotalSize: size,
			ElapsedMs: r.clock.Now().Sub(st.started).Milliseconds(),
		})
	}
}

// identity returns a key that is equal for two paths reaching the same directory.
func (r *run) identity(path string, info os.FileInfo) string {
	if id, ok := fileIdentity(info); ok {
		return id
	}
	if resolved, err := r.fs.RealPath(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// finalizeTree fills in the sizes of directories a cancelled scan never completed and
// drops the bookkeeping references.
func finalizeTree(root *DirectoryNode) {
	root.Walk(func(n *DirectoryNode) {
		if n.state == nil {
			return
		}
		if !n.state.done.Load() {
			n.Size = n.state.size.Load()
			n.Entries = n.state.entries
		}
		n.state = nil
	})
}
