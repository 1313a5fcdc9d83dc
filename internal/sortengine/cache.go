package sortengine

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// resultCache holds recent full-sort results, evicting the least recently used entry when
// more space is needed. Callers synchronize access.
type resultCache struct {
	capacity int

	// List of elements, with least recently used at the tail.
	elems list.List

	// Index into elems for lookup by key.
	index map[uint64]*list.Element
}

type cacheElement struct {
	key   uint64
	items []Item
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		index:    make(map[uint64]*list.Element),
	}
}

func (c *resultCache) insert(key uint64, items []Item) {
	if c.capacity == 0 {
		return
	}

	c.erase(key)

	elem := c.elems.PushFront(&cacheElement{key: key, items: items})
	c.index[key] = elem

	if len(c.index) > c.capacity {
		c.erase(c.elems.Back().Value.(*cacheElement).key)
	}

	c.checkInvariants()
}

func (c *resultCache) lookUp(key uint64) ([]Item, bool) {
	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.elems.MoveToFront(elem)
	return elem.Value.(*cacheElement).items, true
}

func (c *resultCache) erase(key uint64) {
	elem, ok := c.index[key]
	if !ok {
		return
	}
	delete(c.index, key)
	c.elems.Remove(elem)
}

func (c *resultCache) len() int {
	return len(c.index)
}

func (c *resultCache) checkInvariants() {
	if len(c.index) > c.capacity {
		panic(fmt.Sprintf("Index length greater than capacity: %d vs. %d", len(c.index), c.capacity))
	}
	if len(c.index) != c.elems.Len() {
		panic(fmt.Sprintf("Index length doesn't match list length: %d vs. %d", len(c.index), c.elems.Len()))
	}
}

// fingerprint hashes the input sequence together with the sort key.
func fingerprint(items []Item, field Field, order Order) uint64 {
	digest := xxhash.New()

	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = digest.Write(buf[:])
	}

	writeUint(uint64(field))
	writeUint(uint64(order))
	writeUint(uint64(len(items)))
	for _, item := range items {
		_, _ = digest.WriteString(item.Path)
		_, _ = digest.Write([]byte{0})
		_, _ = digest.WriteString(item.Name)
		_, _ = digest.Write([]byte{0})
		writeUint(item.Size)
		writeUint(math.Float64bits(item.Percentage))
	}

	return digest.Sum64()
}
