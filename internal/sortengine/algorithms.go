package sortengine

import "sort"

// compareFunc returns <0, 0 or >0 like cmp.Compare.
type compareFunc func(a, b Item) int

// mergeCutoff is the slice length below which mergeSort falls back to insertion sort.
const mergeCutoff = 12

func insertionSort(items []Item, cmp compareFunc) {
	for i := 1; i < len(items); i++ {
		current := items[i]
		j := i
		for j > 0 && cmp(items[j-1], current) > 0 {
			items[j] = items[j-1]
			j--
		}
		items[j] = current
	}
}

// mergeSort is a stable top-down merge sort.
func mergeSort(items []Item, cmp compareFunc) {
	buf := make([]Item, len(items)/2+1)
	mergeSortRec(items, buf, cmp)
}

func mergeSortRec(items, buf []Item, cmp compareFunc) {
	if len(items) <= mergeCutoff {
		insertionSort(items, cmp)
		return
	}

	mid := len(items) / 2
	mergeSortRec(items[:mid], buf, cmp)
	mergeSortRec(items[mid:], buf, cmp)

	// Already in order across the split
	if cmp(items[mid-1], items[mid]) <= 0 {
		return
	}
	merge(items, mid, buf, cmp)
}

// merge merges the sorted halves items[:mid] and items[mid:] in place using buf, which
// must hold at least mid items. Left elements win ties, which keeps the merge stable.
func merge(items []Item, mid int, buf []Item, cmp compareFunc) {
	left := buf[:mid]
	copy(left, items[:mid])

	i, j, k := 0, mid, 0
	for i < len(left) && j < len(items) {
		if cmp(items[j], left[i]) < 0 {
			items[k] = items[j]
			j++
		} else {
			items[k] = left[i]
			i++
		}
		k++
	}
	for i < len(left) {
		items[k] = left[i]
		i++
		k++
	}
}

// naturalMergeSort finds the ascending runs already present in items, extends runs shorter
// than minRun with insertion sort, and merges neighbouring runs until one remains. On
// nearly sorted input this touches each item only a few times.
func naturalMergeSort(items []Item, cmp compareFunc, minRun int) {
	n := len(items)
	if n < 2 { //nolint:mnd // nothing to order
		return
	}

	bounds := []int{0}
	for i := 0; i < n; {
		start := i
		i++
		if i < n && cmp(items[i], items[i-1]) < 0 {
			// Strictly descending: reverse in place; strictness keeps equal items stable
			for i < n && cmp(items[i], items[i-1]) < 0 {
				i++
			}
			reverse(items[start:i])
		} else {
			for i < n && cmp(items[i], items[i-1]) >= 0 {
				i++
			}
		}

		if i-start < minRun && i < n {
			i = min(start+minRun, n)
			insertionSort(items[start:i], cmp)
		}
		bounds = append(bounds, i)
	}

	buf := make([]Item, n)
	for len(bounds) > 2 { //nolint:mnd // more than one run left
		next := make([]int, 0, len(bounds)/2+2) //nolint:mnd // half the runs, plus both ends
		next = append(next, 0)
		k := 0
		for ; k+2 < len(bounds); k += 2 {
			lo, mid, hi := bounds[k], bounds[k+1], bounds[k+2]
			if cmp(items[mid-1], items[mid]) > 0 {
				merge(items[lo:hi], mid-lo, buf, cmp)
			}
			next = append(next, hi)
		}
		if k+1 < len(bounds) {
			next = append(next, bounds[k+1])
		}
		bounds = next
	}
}

func reverse(items []Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// insertSorted places item after every element that does not sort after it.
func insertSorted(sorted []Item, item Item, cmp compareFunc) []Item {
	pos := sort.Search(len(sorted), func(i int) bool {
		return cmp(sorted[i], item) > 0
	})

	sorted = append(sorted, Item{})
	copy(sorted[pos+1:], sorted[pos:])
	sorted[pos] = item
	return sorted
}

func isSorted(items []Item, cmp compareFunc) bool {
	for i := 1; i < len(items); i++ {
		if cmp(items[i-1], items[i]) > 0 {
			return false
		}
	}
	return true
}
