// Package sortengine orders working-set items. It picks a sorting algorithm from the input
// size, re-places only changed items when it can, and caches recent full sorts.
package sortengine

import (
	"cmp"
	"strings"
	"sync"
	"time"
)

// Item is the sortable view of one working-set entry.
type Item struct {
	Path       string
	Name       string
	Size       uint64
	Percentage float64
}

// Algorithm names the strategy a Sort call used.
type Algorithm string

// Algorithms.
const (
	AlgorithmNone         Algorithm = "none"
	AlgorithmInsertion    Algorithm = "insertion"
	AlgorithmMerge        Algorithm = "merge"
	AlgorithmNaturalMerge Algorithm = "natural-merge"
	AlgorithmIncremental  Algorithm = "incremental"
)

// Request carries what the caller knows about the previous ordering.
type Request struct {
	// Incremental asks for re-placement of Changed paths within Previous.
	Incremental bool
	// Changed lists paths that were inserted, updated or removed since Previous.
	Changed []string
	// Previous is the last result returned for this working set.
	Previous []Item
}

// Result is the outcome of one Sort call.
type Result struct {
	Items     []Item
	Elapsed   time.Duration
	Algorithm Algorithm
	Overrun   bool
	CacheHit  bool
}

// Metrics are cumulative counters over an engine's lifetime.
type Metrics struct {
	Sorts            int64
	FullSorts        int64
	IncrementalSorts int64
	CacheHits        int64
	CacheMisses      int64
	Overruns         int64
	CachedResults    int
	LastAlgorithm    Algorithm
	LastElapsed      time.Duration
	TotalElapsed     time.Duration
}

// Engine sorts items. It is safe for concurrent use.
type Engine struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	cache     *resultCache
	metrics   Metrics
	lastField Field
	lastOrder Order
	hasLast   bool
}

// New creates a sort engine; zero option values take their defaults.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:  opts,
		now:   time.Now,
		cache: newResultCache(opts.CacheSize),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Metrics returns a copy of the engine's counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics
	m.CachedResults = e.cache.len()
	return m
}

// Sort returns items ordered by field and order. Ties on the primary key fall back to name
// ascending, then path ascending, so the result is deterministic. The input slice is not
// modified.
func (e *Engine) Sort(items []Item, field Field, order Order, req Request) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	compare := comparator(field, order)
	sameKey := e.hasLast && e.lastField == field && e.lastOrder == order
	e.lastField, e.lastOrder, e.hasLast = field, order, true

	var result Result
	incremental := req.Incremental && sameKey && req.Previous != nil &&
		len(req.Changed) < e.opts.IncrementalLimit

	if incremental {
		result = e.incremental(items, req, compare)
	}

	if result.Items == nil {
		result = e.full(items, field, order, req.Incremental, compare)
	}

	result.Elapsed = e.now().Sub(start)
	result.Overrun = result.Elapsed > e.opts.Budget(len(items))
	e.record(result)

	return result
}

// incremental re-places changed items within the previous order. It returns a zero Result
// when the previous order does not account for the current items.
func (e *Engine) incremental(items []Item, req Request, compare compareFunc) Result {
	if len(req.Changed) == 0 {
		if len(req.Previous) != len(items) {
			return Result{}
		}
		return Result{Items: items, Algorithm: AlgorithmNone}
	}

	current := make(map[string]Item, len(items))
	for _, item := range items {
		current[item.Path] = item
	}

	changed := make(map[string]bool, len(req.Changed))
	for _, path := range req.Changed {
		changed[path] = true
	}

	out := make([]Item, 0, len(items))
	for _, prev := range req.Previous {
		if changed[prev.Path] {
			continue
		}
		item, ok := current[prev.Path]
		if !ok {
			continue
		}
		out = append(out, item)
	}

	for path := range changed {
		if item, ok := current[path]; ok {
			out = insertSorted(out, item, compare)
		}
	}

	if len(out) != len(items) {
		return Result{}
	}

	return Result{Items: out, Algorithm: AlgorithmIncremental}
}

func (e *Engine) full(items []Item, field Field, order Order, partial bool, compare compareFunc) Result {
	key := fingerprint(items, field, order)
	if cached, ok := e.cache.lookUp(key); ok {
		return Result{Items: clone(cached), Algorithm: AlgorithmNone, CacheHit: true}
	}
	e.metrics.CacheMisses++

	out := clone(items)
	algorithm := e.choose(len(out), partial)

	switch algorithm {
	case AlgorithmInsertion:
		insertionSort(out, compare)
	case AlgorithmMerge:
		mergeSort(out, compare)
	default:
		naturalMergeSort(out, compare, e.opts.SmallThreshold)
	}

	e.cache.insert(key, clone(out))

	return Result{Items: out, Algorithm: algorithm}
}

// choose applies the size policy. Partially ordered input goes to natural merge sort
// unless it is small enough for insertion sort.
func (e *Engine) choose(n int, partial bool) Algorithm {
	switch {
	case n <= e.opts.SmallThreshold:
		return AlgorithmInsertion
	case partial:
		return AlgorithmNaturalMerge
	case n >= e.opts.LargeThreshold:
		return AlgorithmMerge
	default:
		return AlgorithmNaturalMerge
	}
}

func (e *Engine) record(result Result) {
	e.metrics.Sorts++
	switch {
	case result.CacheHit:
		e.metrics.CacheHits++
	case result.Algorithm == AlgorithmIncremental || result.Algorithm == AlgorithmNone:
		e.metrics.IncrementalSorts++
	default:
		e.metrics.FullSorts++
	}
	if result.Overrun {
		e.metrics.Overruns++
	}
	e.metrics.LastAlgorithm = result.Algorithm
	e.metrics.LastElapsed = result.Elapsed
	e.metrics.TotalElapsed += result.Elapsed
}

// comparator builds the total order for field and order.
func comparator(field Field, order Order) compareFunc {
	return func(a, b Item) int {
		var c int
		switch field {
		case BySize:
			c = cmp.Compare(a.Size, b.Size)
		case ByName:
			c = strings.Compare(a.Name, b.Name)
		case ByPath:
			c = strings.Compare(a.Path, b.Path)
		case ByPercentage:
			c = cmp.Compare(a.Percentage, b.Percentage)
		}
		if order == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		if c = strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	}
}

func clone(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// IsSorted reports whether items are in the engine's order for field and order.
func IsSorted(items []Item, field Field, order Order) bool {
	return isSorted(items, comparator(field, order))
}
