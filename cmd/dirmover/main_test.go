//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dirmover/internal/config"
	"github.com/joe/dirmover/internal/journal"
)

// workspace is a temporary home with one permitted root and a target volume directory.
type workspace struct {
	dir    string
	apps   string
	target string
	config string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()

	dir := t.TempDir()
	ws := workspace{
		dir:    dir,
		apps:   filepath.Join(dir, "home", "apps"),
		target: filepath.Join(dir, "mnt", "big"),
		config: filepath.Join(dir, "config.yaml"),
	}

	settings := config.DefaultSettings()
	settings.Roots = []config.Root{{Name: "Apps", Path: ws.apps}}
	settings.JournalPath = filepath.Join(dir, "state", "journal.jsonl")
	settings.CachePath = filepath.Join(dir, "state", "scan-cache.db")
	if err := config.Save(settings, ws.config, false); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	writeFile(t, filepath.Join(ws.apps, "editor", "cache.bin"), 3000)
	writeFile(t, filepath.Join(ws.apps, "editor", "plugins", "p.bin"), 1000)
	writeFile(t, filepath.Join(ws.apps, "chat", "log.txt"), 500)

	return ws
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// runCLI parses argv and runs it with buffered, non-terminal streams.
func (ws workspace) runCLI(t *testing.T, argv ...string) (string, string, int) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cfg, err := config.Parse(append([]string{"-c", ws.config}, argv...), &stdout)
	if err != nil {
		t.Fatalf("parse %v: %v", argv, err)
	}

	code := run(context.Background(), cfg, streams{in: strings.NewReader(""), out: &stdout, err: &stderr})
	return stdout.String(), stderr.String(), code
}

func TestScanPrintsLargestFirst(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	stdout, stderr, code := ws.runCLI(t, "scan", ws.apps, "--json", "--max-depth", "1")
	g.Expect(code).Should(Equal(exitOK), stderr)

	var reports []scanReport
	g.Expect(json.Unmarshal([]byte(stdout), &reports)).Should(Succeed())
	g.Expect(reports).Should(HaveLen(1))

	report := reports[0]
	g.Expect(report.Root).Should(Equal(ws.apps))
	g.Expect(report.Total).Should(Equal(uint64(4500)))
	g.Expect(report.Items).Should(HaveLen(2))
	g.Expect(report.Items[0].Path).Should(Equal(filepath.Join(ws.apps, "editor")))
	g.Expect(report.Items[0].Size).Should(Equal(uint64(4000)))
	g.Expect(report.Items[0].Category).Should(Equal("Apps"))
	g.Expect(report.Items[1].Size).Should(Equal(uint64(500)))
}

func TestScanByRootNameUsesCache(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	stdout, stderr, code := ws.runCLI(t, "scan", "Apps", "--max-depth", "1")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).Should(ContainSubstring(filepath.Join(ws.apps, "chat")))
	g.Expect(stdout).Should(ContainSubstring("scanned in"))

	g.Expect(os.RemoveAll(filepath.Join(ws.apps, "chat"))).Should(Succeed())

	stdout, stderr, code = ws.runCLI(t, "scan", "Apps", "--max-depth", "1", "--cached")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).Should(ContainSubstring(filepath.Join(ws.apps, "chat")), "a cached scan is served")
	g.Expect(stdout).Should(ContainSubstring("cached"))

	stdout, stderr, code = ws.runCLI(t, "scan", "Apps", "--max-depth", "1")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).ShouldNot(ContainSubstring(filepath.Join(ws.apps, "chat")))
}

func TestScanThresholdFilters(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	stdout, stderr, code := ws.runCLI(t, "scan", ws.apps, "--json", "--threshold", "1000")
	g.Expect(code).Should(Equal(exitOK), stderr)

	var reports []scanReport
	g.Expect(json.Unmarshal([]byte(stdout), &reports)).Should(Succeed())
	for _, item := range reports[0].Items {
		g.Expect(item.Size).Should(BeNumerically(">=", 1000))
		g.Expect(item.AboveThreshold).Should(BeTrue())
	}
	g.Expect(reports[0].Items).ShouldNot(BeEmpty())
}

func TestMigrateMovesAndLinks(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	source := filepath.Join(ws.apps, "editor")
	target := filepath.Join(ws.target, "Apps", "editor")

	stdout, stderr, code := ws.runCLI(t, "migrate", source, "-t", ws.target, "--yes")
	g.Expect(code).Should(Equal(exitOK), stdout+stderr)
	g.Expect(stdout).Should(ContainSubstring("migrated 1 of 1 items"))

	link, err := os.Readlink(source)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(link).Should(Equal(target))

	data, err := os.ReadFile(filepath.Join(source, "plugins", "p.bin"))
	g.Expect(err).ShouldNot(HaveOccurred(), "files stay reachable through the link")
	g.Expect(data).Should(HaveLen(1000))

	stdout, stderr, code = ws.runCLI(t, "journal", "stats")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).Should(MatchRegexp(`Completed\s*│?\s*1`))

	stdout, _, code = ws.runCLI(t, "journal", "list")
	g.Expect(code).Should(Equal(exitOK))
	g.Expect(stdout).Should(ContainSubstring("completed"))
	g.Expect(stdout).Should(ContainSubstring(source))
}

func TestMigrateDryRunChangesNothing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	source := filepath.Join(ws.apps, "chat")

	stdout, stderr, code := ws.runCLI(t, "migrate", source, "-t", ws.target, "--dry-run")
	g.Expect(code).Should(Equal(exitOK), stdout+stderr)
	g.Expect(stdout).Should(ContainSubstring("validated 1 of 1 items"))

	info, err := os.Lstat(source)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(info.IsDir()).Should(BeTrue())
	g.Expect(ws.target).ShouldNot(BeADirectory())
}

func TestMigrateWithoutTerminalNeedsYes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	source := filepath.Join(ws.apps, "chat")

	_, stderr, code := ws.runCLI(t, "migrate", source, "-t", ws.target)
	g.Expect(code).Should(Equal(exitUsage))
	g.Expect(stderr).Should(ContainSubstring("--yes"))
	g.Expect(source).Should(BeADirectory())
}

func TestMigrateRejectsOutsideRoots(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	outside := filepath.Join(ws.dir, "elsewhere")
	g.Expect(os.MkdirAll(outside, 0o750)).Should(Succeed())

	stdout, _, code := ws.runCLI(t, "migrate", outside, "-t", ws.target, "--yes")
	g.Expect(code).Should(Equal(exitFailure))
	g.Expect(stdout).Should(ContainSubstring("outside every permitted root"))
	g.Expect(outside).Should(BeADirectory())
}

// interruptCopy leaves a journal behind as if the process died after copying source.
func (ws workspace) interruptCopy(t *testing.T, source, target string) {
	t.Helper()

	writeFile(t, filepath.Join(target, "log.txt"), 500)
	j, err := journal.Open(filepath.Join(ws.dir, "state", "journal.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for _, phase := range []journal.Phase{journal.PhaseValidated, journal.PhaseCopied} {
		entry := journal.Entry{OpID: "op-1", Phase: phase, Source: source, Target: target, Bytes: 500, Files: 1}
		if err := j.Append(entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
}

func TestMigrateRefusesWhileRecoveryPending(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	ws.interruptCopy(t, filepath.Join(ws.apps, "chat"), filepath.Join(ws.target, "Apps", "chat"))
	source := filepath.Join(ws.apps, "editor")

	stdout, stderr, code := ws.runCLI(t, "migrate", source, "-t", ws.target, "--dry-run")
	g.Expect(code).Should(Equal(exitOK), stdout+stderr)
	g.Expect(stdout).Should(ContainSubstring("dirmover recover"))

	_, stderr, code = ws.runCLI(t, "migrate", source, "-t", ws.target, "--yes")
	g.Expect(code).Should(Equal(exitFailure))
	g.Expect(stderr).Should(ContainSubstring("dirmover recover"))
	g.Expect(source).Should(BeADirectory())
	g.Expect(filepath.Join(ws.target, "Apps", "editor")).ShouldNot(BeADirectory())

	_, stderr, code = ws.runCLI(t, "recover", "--yes")
	g.Expect(code).Should(Equal(exitOK), stderr)

	stdout, stderr, code = ws.runCLI(t, "migrate", source, "-t", ws.target, "--yes")
	g.Expect(code).Should(Equal(exitOK), stdout+stderr)
	g.Expect(stdout).Should(ContainSubstring("migrated 1 of 1 items"))
}

func TestRecoverWithCleanJournal(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	stdout, stderr, code := ws.runCLI(t, "recover")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).Should(ContainSubstring("No interrupted migrations"))
}

func TestRecoverRollsBackInterruptedCopy(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)
	source := filepath.Join(ws.apps, "chat")
	target := filepath.Join(ws.target, "Apps", "chat")

	// A crash after copying leaves a validated and copied operation behind.
	ws.interruptCopy(t, source, target)

	stdout, stderr, code := ws.runCLI(t, "recover", "--yes")
	g.Expect(code).Should(Equal(exitOK), stdout+stderr)
	g.Expect(stdout).Should(ContainSubstring("1 rolled back"))
	g.Expect(target).ShouldNot(BeADirectory())
	g.Expect(filepath.Join(source, "log.txt")).Should(BeARegularFile())
}

func TestConfigInitAndShow(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ws := newWorkspace(t)

	_, stderr, code := ws.runCLI(t, "config", "init")
	g.Expect(code).Should(Equal(exitFailure), "the workspace already has a config file")
	g.Expect(stderr).Should(ContainSubstring("already exists"))

	_, stderr, code = ws.runCLI(t, "config", "init", "--force")
	g.Expect(code).Should(Equal(exitOK), stderr)

	stdout, stderr, code := ws.runCLI(t, "config", "show")
	g.Expect(code).Should(Equal(exitOK), stderr)
	g.Expect(stdout).Should(ContainSubstring("# " + ws.config))
	g.Expect(stdout).Should(ContainSubstring("max_depth: 2"))
	g.Expect(stdout).Should(ContainSubstring("large_threshold: 1GiB"))
}
