package aggregate

import (
	"container/heap"

	"github.com/joe/dirmover/internal/scan"
)

// itemOverhead approximates the fixed cost of one WorkingItem: the struct, its map entry
// and heap slot.
const itemOverhead = 192

// WorkingItem is one entry of the aggregator's working set.
type WorkingItem struct {
	Path           string
	Name           string
	Size           uint64
	Kind           scan.ItemKind
	Category       string
	Depth          int
	Collapsed      bool
	AboveThreshold bool
	// Percentage of the aggregate total at the time the item was read.
	Percentage float64
}

func (w *WorkingItem) cost() int64 {
	return int64(itemOverhead + len(w.Path) + len(w.Name) + len(w.Category))
}

// entry is a working item with its position in the eviction heap.
type entry struct {
	item  WorkingItem
	index int
	// pending is set for a directory announced before its size is known. Its size of zero
	// says nothing yet, so it is never evicted in favour of a sized item.
	pending bool
}

// outranks reports whether a should stay in the working set rather than b.
func outranks(a, b *entry) bool {
	if a.pending != b.pending {
		return a.pending
	}
	return a.item.Size > b.item.Size
}

// sizeHeap is a min-heap on size, so the smallest item is evicted first. Pending
// directories sit below every sized item. Ties evict the lexically greatest path, which
// keeps eviction deterministic.
type sizeHeap []*entry

func (h sizeHeap) Len() int { return len(h) }

func (h sizeHeap) Less(i, j int) bool {
	if h[i].pending != h[j].pending {
		return h[j].pending
	}
	if h[i].item.Size != h[j].item.Size {
		return h[i].item.Size < h[j].item.Size
	}
	return h[i].item.Path > h[j].item.Path
}

func (h sizeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *sizeHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *sizeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func (h *sizeHeap) peek() *entry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *sizeHeap) fix(e *entry) {
	heap.Fix(h, e.index)
}

// settle clears every pending mark once no more sizes will arrive.
func (h *sizeHeap) settle() {
	for _, e := range *h {
		e.pending = false
	}
	heap.Init(h)
}

func (h *sizeHeap) remove(e *entry) {
	if e.index >= 0 {
		heap.Remove(h, e.index)
	}
}
