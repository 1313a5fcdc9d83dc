// Package aggregate folds a scan event stream into a memory-bounded, sorted working set
// and publishes coalesced snapshots of it.
package aggregate

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe/dirmover/internal/scan"
	"github.com/joe/dirmover/internal/sortengine"
)

// Exported constants.
const (
	DefaultMemoryLimit    = 64 << 20
	DefaultLargeThreshold = 1 << 30
	DefaultUpdateInterval = 100 * time.Millisecond
	// ProgressPercentageScale converts 0-1 range to 0-100 range.
	ProgressPercentageScale = 100.0
)

// Categorizer names the well-known root a path belongs to.
type Categorizer interface {
	Category(path string) string
}

// Options configures an Aggregator.
type Options struct {
	// MemoryLimit bounds the estimated size of the working set in bytes. Zero means
	// DefaultMemoryLimit; a negative value disables the bound.
	MemoryLimit int64
	// MaxItems caps the number of items; zero means no cap.
	MaxItems int
	// LargeThreshold sets WorkingItem.AboveThreshold.
	LargeThreshold uint64
	// UpdateInterval is the minimum spacing of snapshots published by Run.
	UpdateInterval time.Duration
	SortField      sortengine.Field
	SortOrder      sortengine.Order
	Clock          scan.TimeProvider
	Logger         zerolog.Logger
}

// DefaultOptions returns the defaults: largest items first.
func DefaultOptions() Options {
	return Options{
		MemoryLimit:    DefaultMemoryLimit,
		LargeThreshold: DefaultLargeThreshold,
		UpdateInterval: DefaultUpdateInterval,
		SortField:      sortengine.BySize,
		SortOrder:      sortengine.Descending,
		Clock:          &scan.RealTimeProvider{},
		Logger:         zerolog.Nop(),
	}
}

// Delta describes what one Apply call changed.
type Delta struct {
	Inserted     []string
	Updated      []string
	Evicted      []string
	TotalChanged bool
	Total        uint64
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Inserted) == 0 && len(d.Updated) == 0 && len(d.Evicted) == 0 && !d.TotalChanged
}

// Stats summarizes the working set.
type Stats struct {
	Items          int
	Total          uint64
	TopLevelItems  int
	Evictions      int64
	Compacted      bool
	EstimatedBytes int64
	Errors         int
	Progress       float64 // last reported scan percentage
	Complete       bool
	Partial        bool
	LastSort       sortengine.Result
	Version        uint64
}

// Snapshot is an immutable copy of the working set, in sort order.
type Snapshot struct {
	Items []WorkingItem
	Stats Stats
}

// Aggregator holds the working set. Every mutation goes through one mutex-guarded path.
type Aggregator struct {
	opts        Options
	categorizer Categorizer
	sorter      *sortengine.Engine

	mu       sync.Mutex
	entries  map[string]*entry
	heap     sizeHeap
	topLevel map[string]uint64
	total    uint64

	// dropped holds pending directories that did not fit; their final size re-admits them.
	dropped map[string]*entry

	order   []sortengine.Item
	changed map[string]struct{}
	resort  bool

	estimated int64
	evictions int64
	compacted bool
	errors    int
	progress  float64
	complete  bool
	partial   bool
	lastSort  sortengine.Result
	version   uint64
}

// New creates an aggregator. categorizer may be nil; sorter nil uses a default engine.
func New(opts Options, categorizer Categorizer, sorter *sortengine.Engine) *Aggregator {
	defaults := DefaultOptions()
	if opts.MemoryLimit == 0 {
		opts.MemoryLimit = defaults.MemoryLimit
	}
	if opts.LargeThreshold == 0 {
		opts.LargeThreshold = defaults.LargeThreshold
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = defaults.UpdateInterval
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if sorter == nil {
		sorter = sortengine.New(sortengine.DefaultOptions())
	}

	return &Aggregator{
		opts:        opts,
		categorizer: categorizer,
		sorter:      sorter,
		entries:     make(map[string]*entry),
		dropped:     make(map[string]*entry),
		topLevel:    make(map[string]uint64),
		changed:     make(map[string]struct{}),
	}
}

// Apply folds one event into the working set.
func (a *Aggregator) Apply(event scan.Event) Delta {
	a.mu.Lock()
	defer a.mu.Unlock()

	var delta Delta
	before := a.total

	switch ev := event.(type) {
	case scan.ItemFound:
		a.found(ev.Item, &delta)
	case scan.ItemUpdated:
		a.setSize(ev.Path, ev.NewSize, &delta)
	case scan.ScanProgress:
		a.progress = ev.Percentage
		a.version++
	case scan.ScanError:
		a.errors++
		a.version++
	case scan.ScanCompleted:
		a.complete = true
		a.partial = ev.Partial
		a.heap.settle()
		clear(a.dropped)
		a.progress = ProgressPercentageScale
		a.version++
	case scan.DirectoryStarted, scan.DirectoryCompleted:
		// Completion never removes items; sizes arrive through ItemUpdated.
	}

	delta.Total = a.total
	delta.TotalChanged = a.total != before
	if !delta.Empty() {
		a.version++
	}
	return delta
}

func (a *Aggregator) found(item scan.Item, delta *Delta) {
	_, exists := a.entries[item.Path]
	_, dropped := a.dropped[item.Path]
	if exists || dropped {
		a.setSize(item.Path, item.Size, delta)
		return
	}

	if item.Depth == 1 {
		a.topLevel[item.Path] = item.Size
		a.total += item.Size
	}

	e := &entry{item: WorkingItem{
		Path:      item.Path,
		Name:      item.Name,
		Size:      item.Size,
		Kind:      item.Kind,
		Depth:     item.Depth,
		Collapsed: item.Collapsed,
	}}
	e.pending = item.Kind == scan.ItemDirectory && !item.Collapsed && item.Size == 0
	if a.categorizer != nil {
		e.item.Category = a.categorizer.Category(item.Path)
	}

	a.admit(e, delta)
}

// admit inserts e when room can be made for it. A pending directory that does not fit is
// remembered in dropped until its size arrives.
func (a *Aggregator) admit(e *entry, delta *Delta) {
	if !a.makeRoom(e, delta) {
		if e.pending {
			a.dropped[e.item.Path] = e
		}
		return
	}

	heap.Push(&a.heap, e)
	a.entries[e.item.Path] = e
	a.estimated += e.item.cost()
	a.changed[e.item.Path] = struct{}{}
	delta.Inserted = append(delta.Inserted, e.item.Path)
}

// makeRoom evicts the smallest items until incoming fits. It reports false when incoming
// is itself the smallest, or only pending directories are left, and is dropped instead.
func (a *Aggregator) makeRoom(incoming *entry, delta *Delta) bool {
	cost := incoming.item.cost()
	for a.overLimit(cost) {
		smallest := a.heap.peek()
		if smallest == nil || smallest.pending || outranks(smallest, incoming) {
			a.recordEviction(incoming.item.Path, delta)
			return false
		}
		a.evict(smallest, delta)
	}
	return true
}

func (a *Aggregator) overLimit(cost int64) bool {
	if a.opts.MaxItems > 0 && len(a.entries) >= a.opts.MaxItems {
		return true
	}
	return a.opts.MemoryLimit > 0 && a.estimated+cost > a.opts.MemoryLimit
}

func (a *Aggregator) evict(e *entry, delta *Delta) {
	a.heap.remove(e)
	delete(a.entries, e.item.Path)
	a.estimated -= e.item.cost()
	a.changed[e.item.Path] = struct{}{}
	a.recordEviction(e.item.Path, delta)
}

func (a *Aggregator) recordEviction(path string, delta *Delta) {
	a.evictions++
	a.compacted = true
	delta.Evicted = append(delta.Evicted, path)
	a.opts.Logger.Debug().Str("path", path).Int64("evictions", a.evictions).Msg("working set compacted")
}

func (a *Aggregator) setSize(path string, size uint64, delta *Delta) {
	if old, ok := a.topLevel[path]; ok {
		a.topLevel[path] = size
		a.total = a.total - old + size
	}

	e, ok := a.entries[path]
	if !ok {
		if d, wasDropped := a.dropped[path]; wasDropped {
			delete(a.dropped, path)
			d.item.Size = size
			d.pending = false
			a.admit(d, delta)
		}
		return
	}
	if e.pending {
		e.pending = false
		a.heap.fix(e)
	}
	if e.item.Size == size {
		return
	}
	e.item.Size = size
	a.heap.fix(e)
	a.changed[path] = struct{}{}
	delta.Updated = append(delta.Updated, path)
}

// Remove deletes path from the working set, e.g. after it was migrated away.
func (a *Aggregator) Remove(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.topLevel[path]; ok {
		delete(a.topLevel, path)
		a.total -= old
	}
	delete(a.dropped, path)

	e, ok := a.entries[path]
	if !ok {
		return false
	}
	a.heap.remove(e)
	delete(a.entries, path)
	a.estimated -= e.item.cost()
	a.changed[path] = struct{}{}
	a.version++
	return true
}

// SetSort changes the ordering. The next read re-sorts fully.
func (a *Aggregator) SetSort(field sortengine.Field, order sortengine.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if field == a.opts.SortField && order == a.opts.SortOrder {
		return
	}
	a.opts.SortField = field
	a.opts.SortOrder = order
	a.resort = true
	a.version++
}

// Total returns the sum of the top-level item sizes.
func (a *Aggregator) Total() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Snapshot returns an ordered, percentage-annotated copy of the working set.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sortLocked()

	items := make([]WorkingItem, 0, len(a.order))
	for _, sorted := range a.order {
		items = append(items, a.annotate(a.entries[sorted.Path].item))
	}

	return Snapshot{Items: items, Stats: a.statsLocked()}
}

// Filter returns the items of at least minSize bytes, in sort order.
func (a *Aggregator) Filter(minSize uint64) []WorkingItem {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sortLocked()

	var items []WorkingItem
	for _, sorted := range a.order {
		item := a.entries[sorted.Path].item
		if item.Size >= minSize {
			items = append(items, a.annotate(item))
		}
	}
	return items
}

// Stats returns the working-set counters without copying items.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

func (a *Aggregator) statsLocked() Stats {
	return Stats{
		Items:          len(a.entries),
		Total:          a.total,
		TopLevelItems:  len(a.topLevel),
		Evictions:      a.evictions,
		Compacted:      a.compacted,
		EstimatedBytes: a.estimated,
		Errors:         a.errors,
		Progress:       a.progress,
		Complete:       a.complete,
		Partial:        a.partial,
		LastSort:       a.lastSort,
		Version:        a.version,
	}
}

func (a *Aggregator) annotate(item WorkingItem) WorkingItem {
	item.Percentage = a.percentage(item.Size)
	item.AboveThreshold = item.Size >= a.opts.LargeThreshold
	return item
}

func (a *Aggregator) percentage(size uint64) float64 {
	if a.total == 0 {
		return 0
	}
	return float64(size) / float64(a.total) * ProgressPercentageScale
}

// sortLocked brings a.order up to date. Previously ordered items keep their relative
// position in the input, which lets the engine re-place only what changed.
func (a *Aggregator) sortLocked() {
	if len(a.changed) == 0 && !a.resort && a.order != nil {
		return
	}

	input := make([]sortengine.Item, 0, len(a.entries))
	seen := make(map[string]bool, len(a.order))
	for _, prev := range a.order {
		if e, ok := a.entries[prev.Path]; ok {
			input = append(input, a.sortItem(e))
			seen[prev.Path] = true
		}
	}
	changed := make([]string, 0, len(a.changed))
	for path := range a.changed {
		changed = append(changed, path)
		if e, ok := a.entries[path]; ok && !seen[path] {
			input = append(input, a.sortItem(e))
		}
	}

	req := sortengine.Request{
		Incremental: !a.resort && a.order != nil,
		Changed:     changed,
		Previous:    a.order,
	}
	if !req.Incremental {
		req.Previous = nil
	}

	a.lastSort = a.sorter.Sort(input, a.opts.SortField, a.opts.SortOrder, req)
	a.order = a.lastSort.Items
	a.changed = make(map[string]struct{})
	a.resort = false
}

func (a *Aggregator) sortItem(e *entry) sortengine.Item {
	return sortengine.Item{
		Path:       e.item.Path,
		Name:       e.item.Name,
		Size:       e.item.Size,
		Percentage: a.percentage(e.item.Size),
	}
}
