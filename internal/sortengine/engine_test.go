//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package sortengine_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dirmover/internal/sortengine"
)

func randomItems(n int, seed uint64) []sortengine.Item {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	items := make([]sortengine.Item, n)
	for i := range items {
		name := fmt.Sprintf("item-%05d", rng.IntN(n*2))
		items[i] = sortengine.Item{
			Path: fmt.Sprintf("/root/%s-%d", name, i),
			Name: name,
			Size: uint64(rng.IntN(50)) * 1024, // many equal sizes exercise the tie-break
		}
	}
	return items
}

func paths(items []sortengine.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Path
	}
	return out
}

func TestSort_AlgorithmPolicy(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		n         int
		algorithm sortengine.Algorithm
	}{
		{name: "single item", n: 1, algorithm: sortengine.AlgorithmInsertion},
		{name: "at small threshold", n: 32, algorithm: sortengine.AlgorithmInsertion},
		{name: "just above small threshold", n: 33, algorithm: sortengine.AlgorithmNaturalMerge},
		{name: "mid sized", n: 1000, algorithm: sortengine.AlgorithmNaturalMerge},
		{name: "at large threshold", n: 2048, algorithm: sortengine.AlgorithmMerge},
		{name: "large", n: 5000, algorithm: sortengine.AlgorithmMerge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			engine := sortengine.New(sortengine.DefaultOptions())
			items := randomItems(tc.n, uint64(tc.n))

			for _, field := range []sortengine.Field{sortengine.BySize, sortengine.ByName, sortengine.ByPath} {
				for _, order := range []sortengine.Order{sortengine.Ascending, sortengine.Descending} {
					result := engine.Sort(items, field, order, sortengine.Request{})
					g.Expect(result.Algorithm).To(Equal(tc.algorithm))
					g.Expect(result.Items).To(HaveLen(tc.n))
					g.Expect(sortengine.IsSorted(result.Items, field, order)).To(BeTrue(),
						"%s %s", field, order)
				}
			}
		})
	}
}

func TestSort_AlgorithmsAgree(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	items := randomItems(3000, 7)

	merge := sortengine.New(sortengine.Options{CacheSize: 0})
	natural := sortengine.New(sortengine.Options{LargeThreshold: 1 << 20, CacheSize: 0})
	insertion := sortengine.New(sortengine.Options{SmallThreshold: 1 << 20, CacheSize: 0})

	want := merge.Sort(items, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(want.Algorithm).To(Equal(sortengine.AlgorithmMerge))

	got := natural.Sort(items, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(got.Algorithm).To(Equal(sortengine.AlgorithmNaturalMerge))
	g.Expect(paths(got.Items)).To(Equal(paths(want.Items)))

	got = insertion.Sort(items, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(got.Algorithm).To(Equal(sortengine.AlgorithmInsertion))
	g.Expect(paths(got.Items)).To(Equal(paths(want.Items)))
}

func TestSort_TieBreakNameThenPath(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	items := []sortengine.Item{
		{Path: "/b/x", Name: "x", Size: 10},
		{Path: "/a/x", Name: "x", Size: 10},
		{Path: "/c/a", Name: "a", Size: 10},
		{Path: "/d/big", Name: "big", Size: 99},
	}

	result := sortengine.New(sortengine.DefaultOptions()).
		Sort(items, sortengine.BySize, sortengine.Descending, sortengine.Request{})

	g.Expect(paths(result.Items)).To(Equal([]string{"/d/big", "/c/a", "/a/x", "/b/x"}))
}

func TestSort_DoesNotModifyInput(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	items := randomItems(100, 3)
	before := paths(items)

	sortengine.New(sortengine.DefaultOptions()).Sort(items, sortengine.ByName, sortengine.Ascending, sortengine.Request{})

	g.Expect(paths(items)).To(Equal(before))
}

func TestSort_Idempotent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	engine := sortengine.New(sortengine.Options{CacheSize: 0})
	items := randomItems(500, 11)

	first := engine.Sort(items, sortengine.BySize, sortengine.Ascending, sortengine.Request{})
	second := engine.Sort(first.Items, sortengine.BySize, sortengine.Ascending, sortengine.Request{})

	g.Expect(second.Items).To(Equal(first.Items))
}

func TestSort_Incremental(t *testing.T) {
	t.Parallel()

	t.Run("zero changes return the input", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		engine := sortengine.New(sortengine.DefaultOptions())
		sorted := engine.Sort(randomItems(200, 1), sortengine.BySize, sortengine.Descending, sortengine.Request{})

		result := engine.Sort(sorted.Items, sortengine.BySize, sortengine.Descending,
			sortengine.Request{Incremental: true, Previous: sorted.Items})

		g.Expect(result.Algorithm).To(Equal(sortengine.AlgorithmNone))
		g.Expect(result.Items).To(Equal(sorted.Items))
	})

	t.Run("changed items are re-placed", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		engine := sortengine.New(sortengine.DefaultOptions())
		sorted := engine.Sort(randomItems(200, 2), sortengine.BySize, sortengine.Descending, sortengine.Request{})

		current := append([]sortengine.Item(nil), sorted.Items...)
		current[150].Size = 1 << 40
		current[3].Size = 0
		added := sortengine.Item{Path: "/root/new", Name: "new", Size: 5000}
		removed := current[10].Path
		current = append(current[:10], current[11:]...)
		current = append(current, added)

		result := engine.Sort(current, sortengine.BySize, sortengine.Descending, sortengine.Request{
			Incremental: true,
			Changed:     []string{sorted.Items[150].Path, sorted.Items[3].Path, added.Path, removed},
			Previous:    sorted.Items,
		})

		g.Expect(result.Algorithm).To(Equal(sortengine.AlgorithmIncremental))
		g.Expect(result.Items).To(HaveLen(200))
		g.Expect(result.Items[0].Path).To(Equal(sorted.Items[150].Path))
		g.Expect(sortengine.IsSorted(result.Items, sortengine.BySize, sortengine.Descending)).To(BeTrue())
		g.Expect(paths(result.Items)).ToNot(ContainElement(removed))

		full := sortengine.New(sortengine.DefaultOptions()).
			Sort(current, sortengine.BySize, sortengine.Descending, sortengine.Request{})
		g.Expect(paths(result.Items)).To(Equal(paths(full.Items)))
	})

	t.Run("field change forces a full sort", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		engine := sortengine.New(sortengine.DefaultOptions())
		sorted := engine.Sort(randomItems(100, 4), sortengine.BySize, sortengine.Descending, sortengine.Request{})

		result := engine.Sort(sorted.Items, sortengine.ByName, sortengine.Ascending,
			sortengine.Request{Incremental: true, Previous: sorted.Items})

		g.Expect(result.Algorithm).To(Equal(sortengine.AlgorithmNaturalMerge))
		g.Expect(sortengine.IsSorted(result.Items, sortengine.ByName, sortengine.Ascending)).To(BeTrue())
	})

	t.Run("too many changes fall back to a full sort", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		engine := sortengine.New(sortengine.Options{IncrementalLimit: 2})
		sorted := engine.Sort(randomItems(100, 5), sortengine.BySize, sortengine.Descending, sortengine.Request{})

		result := engine.Sort(sorted.Items, sortengine.BySize, sortengine.Descending, sortengine.Request{
			Incremental: true,
			Changed:     paths(sorted.Items[:5]),
			Previous:    sorted.Items,
		})

		g.Expect(result.Algorithm).ToNot(Equal(sortengine.AlgorithmIncremental))
		g.Expect(sortengine.IsSorted(result.Items, sortengine.BySize, sortengine.Descending)).To(BeTrue())
	})
}

func TestSort_Cache(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	engine := sortengine.New(sortengine.Options{CacheSize: 2})
	a := randomItems(50, 21)
	b := randomItems(50, 22)
	c := randomItems(50, 23)

	first := engine.Sort(a, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(first.CacheHit).To(BeFalse())

	again := engine.Sort(a, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(again.CacheHit).To(BeTrue())
	g.Expect(again.Items).To(Equal(first.Items))

	g.Expect(engine.Sort(a, sortengine.BySize, sortengine.Ascending, sortengine.Request{}).CacheHit).To(BeFalse())

	// a (desc) is now least recently used and gets evicted
	engine.Sort(b, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	engine.Sort(c, sortengine.BySize, sortengine.Descending, sortengine.Request{})
	g.Expect(engine.Sort(a, sortengine.BySize, sortengine.Descending, sortengine.Request{}).CacheHit).To(BeFalse())

	metrics := engine.Metrics()
	g.Expect(metrics.CacheHits).To(Equal(int64(1)))
	g.Expect(metrics.CachedResults).To(Equal(2))
	g.Expect(metrics.Sorts).To(Equal(int64(6)))
}

func TestSort_OverrunsAreCounted(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	engine := sortengine.New(sortengine.Options{TargetLatency: time.Nanosecond, CacheSize: 0})
	result := engine.Sort(randomItems(3000, 9), sortengine.BySize, sortengine.Descending, sortengine.Request{})

	g.Expect(result.Overrun).To(BeTrue())
	g.Expect(engine.Metrics().Overruns).To(Equal(int64(1)))
}

func TestBudget(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	opts := sortengine.Options{TargetLatency: 10 * time.Millisecond}
	g.Expect(opts.Budget(0)).To(Equal(10 * time.Millisecond))
	g.Expect(opts.Budget(10000)).To(Equal(10 * time.Millisecond))
	g.Expect(opts.Budget(10001)).To(Equal(20 * time.Millisecond))
}

func TestParseFieldAndOrder(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var field sortengine.Field
	g.Expect(field.UnmarshalText([]byte("name"))).To(Succeed())
	g.Expect(field).To(Equal(sortengine.ByName))
	g.Expect(field.UnmarshalText([]byte("bogus"))).ToNot(Succeed())

	var order sortengine.Order
	g.Expect(order.UnmarshalText([]byte("asc"))).To(Succeed())
	g.Expect(order).To(Equal(sortengine.Ascending))
	g.Expect(order.String()).To(Equal("asc"))
	g.Expect(sortengine.Descending.String()).To(Equal("desc"))
}
