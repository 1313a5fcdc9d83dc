//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package tui_test

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dirmover/internal/aggregate"
	"github.com/joe/dirmover/internal/scan"
	"github.com/joe/dirmover/internal/sortengine"
	"github.com/joe/dirmover/internal/tui"
)

// newAggregator returns an aggregator holding three top-level directories.
func newAggregator() *aggregate.Aggregator {
	opts := aggregate.DefaultOptions()
	opts.LargeThreshold = 1 << 30
	agg := aggregate.New(opts, nil, nil)

	for _, item := range []scan.Item{
		{Path: "/data/videos", Name: "videos", Size: 2 << 30, Kind: scan.ItemDirectory, Depth: 1},
		{Path: "/data/archive", Name: "archive", Size: 512 << 20, Kind: scan.ItemDirectory, Depth: 1},
		{Path: "/data/notes.txt", Name: "notes.txt", Size: 4 << 10, Kind: scan.ItemFile, Depth: 1},
	} {
		agg.Apply(scan.ItemFound{Item: item})
	}
	return agg
}

func update(t *testing.T, m tui.Model, msg tea.Msg) (tui.Model, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)
	model, ok := next.(tui.Model)
	if !ok {
		t.Fatalf("Update returned %T, want tui.Model", next)
	}
	return model, cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSnapshotRendersItems(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	agg := newAggregator()
	snapshots := make(chan aggregate.Snapshot)
	m := tui.NewModel(tui.Options{Root: "/data", Sorter: agg, Snapshots: snapshots})

	m, cmd := update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	g.Expect(cmd).Should(BeNil())

	m, cmd = update(t, m, tui.SnapshotMsg{Snapshot: agg.Snapshot()})
	g.Expect(cmd).ShouldNot(BeNil(), "the view keeps listening for snapshots")

	view := m.View()
	g.Expect(view).Should(ContainSubstring("/data"))
	g.Expect(view).Should(ContainSubstring("/data/videos"))
	g.Expect(view).Should(ContainSubstring("2.0 GiB"))
	g.Expect(view).Should(ContainSubstring(tui.LargeMarker))
	g.Expect(m.Snapshot().Items).Should(HaveLen(3))
	g.Expect(m.Snapshot().Items[0].Path).Should(Equal("/data/videos"))
}

func TestListenReportsClosedStream(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	snapshots := make(chan aggregate.Snapshot)
	close(snapshots)
	m := tui.NewModel(tui.Options{Root: "/data", Snapshots: snapshots})

	_, cmd := update(t, m, tui.SnapshotMsg{})
	g.Expect(cmd).ShouldNot(BeNil())
	g.Expect(cmd()).Should(Equal(tui.ScanDoneMsg{}))
}

func TestSortKeys(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	agg := newAggregator()
	m := tui.NewModel(tui.Options{
		Root:      "/data",
		Sorter:    agg,
		Snapshots: make(chan aggregate.Snapshot),
		SortField: sortengine.BySize,
		SortOrder: sortengine.Descending,
	})

	m, _ = update(t, m, key("s"))
	g.Expect(m.SortField()).Should(Equal(sortengine.ByName))
	g.Expect(m.Snapshot().Items[0].Name).Should(Equal("videos"), "names sort descending")

	m, _ = update(t, m, key("o"))
	g.Expect(m.SortOrder()).Should(Equal(sortengine.Ascending))
	g.Expect(m.Snapshot().Items[0].Name).Should(Equal("archive"))

	for range 3 {
		m, _ = update(t, m, key("s"))
	}
	g.Expect(m.SortField()).Should(Equal(sortengine.BySize))
	g.Expect(m.Snapshot().Items[0].Name).Should(Equal("notes.txt"), "sizes sort ascending")
}

func TestQuitWhileScanningCancelsFirst(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	cancels := 0
	m := tui.NewModel(tui.Options{
		Root:      "/data",
		Snapshots: make(chan aggregate.Snapshot),
		Cancel:    func() { cancels++ },
	})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	g.Expect(cmd).Should(BeNil())
	g.Expect(cancels).Should(Equal(1))
	g.Expect(m.State()).Should(Equal(tui.StateCancelling))

	m, cmd = update(t, m, key("q"))
	g.Expect(cmd).Should(BeNil())
	g.Expect(cancels).Should(Equal(1))

	m, cmd = update(t, m, tui.ScanDoneMsg{})
	g.Expect(m.State()).Should(Equal(tui.StateCancelled))
	g.Expect(cmd).ShouldNot(BeNil())
	g.Expect(cmd()).Should(Equal(tea.QuitMsg{}))
}

func TestCompletedScanWaitsForQuit(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	agg := newAggregator()
	agg.Apply(scan.ScanCompleted{TotalItems: 3, TotalSize: agg.Total()})

	m := tui.NewModel(tui.Options{Root: "/data", Sorter: agg, Snapshots: make(chan aggregate.Snapshot)})
	m, _ = update(t, m, tui.SnapshotMsg{Snapshot: agg.Snapshot()})

	m, cmd := update(t, m, tui.ScanDoneMsg{})
	g.Expect(cmd).Should(BeNil())
	g.Expect(m.State()).Should(Equal(tui.StateComplete))
	g.Expect(m.View()).Should(ContainSubstring("Scan complete"))

	_, cmd = update(t, m, key("q"))
	g.Expect(cmd).ShouldNot(BeNil())
	g.Expect(cmd()).Should(Equal(tea.QuitMsg{}))
}

func TestRenderASCIIProgress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		percent  float64
		expected string
	}{
		{0, "[          ] 0%"},
		{0.5, "[====>     ] 50%"},
		{1, "[==========] 100%"},
		{1.5, "[==========] 100%"},
	}

	for _, tc := range testCases {
		g := NewWithT(t)
		g.Expect(tui.RenderASCIIProgress(tc.percent, 10)).Should(Equal(tc.expected))
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		duration time.Duration
		expected string
	}{
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}

	for _, tc := range testCases {
		g := NewWithT(t)
		g.Expect(tui.FormatDuration(tc.duration)).Should(Equal(tc.expected))
	}
}
