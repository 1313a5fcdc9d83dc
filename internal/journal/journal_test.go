package journal_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joe/dirmover/internal/journal"
	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

var _ = Describe("Journal", func() {
	var (
		path  string
		clock time.Time
		j     *journal.Journal
	)

	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	appendPhases := func(op string, phases ...journal.Phase) {
		for _, phase := range phases {
			Expect(j.Append(journal.Entry{
				OpID:   op,
				Phase:  phase,
				Source: "/src/" + op,
				Target: "/dst/" + op,
				Bytes:  100,
				Files:  2,
			})).To(Succeed())
		}
	}

	appendRaw := func(text string) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		Expect(err).ToNot(HaveOccurred())
		_, err = f.WriteString(text)
		Expect(err).ToNot(HaveOccurred())
		Expect(f.Close()).To(Succeed())
	}

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "state", journal.DefaultFileName)
		clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		j, err = journal.Open(path, journal.WithClock(tick))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(j.Close)
	})

	Describe("Append", func() {
		It("writes one checksummed JSON object per line", func() {
			appendPhases("op-1", journal.PhaseValidated, journal.PhaseCopied)

			data, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())

			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			Expect(lines).To(HaveLen(2))

			var fields map[string]any
			Expect(json.Unmarshal([]byte(lines[0]), &fields)).To(Succeed())
			Expect(fields).To(HaveKeyWithValue("op", "op-1"))
			Expect(fields).To(HaveKeyWithValue("phase", "validated"))
			Expect(fields).To(HaveKeyWithValue("source", "/src/op-1"))
			Expect(fields).To(HaveKeyWithValue("target", "/dst/op-1"))
			Expect(fields).To(HaveKeyWithValue("ts", BeNumerically("==", clock.Add(-time.Second).UnixMilli())))
			Expect(fields).To(HaveKey("checksum"))
			Expect(fields).ToNot(HaveKey("error"))
		})

		It("keeps earlier entries when reopened", func() {
			appendPhases("op-1", journal.PhaseValidated)
			Expect(j.Close()).To(Succeed())

			reopened, err := journal.Open(path, journal.WithClock(tick))
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(reopened.Close)
			Expect(reopened.Append(journal.Entry{
				OpID: "op-1", Phase: journal.PhaseCopied, Source: "/src/op-1", Target: "/dst/op-1",
			})).To(Succeed())

			entries, corrupt, err := reopened.ReadAll()
			Expect(err).ToNot(HaveOccurred())
			Expect(corrupt).To(BeEmpty())
			Expect(entries).To(HaveLen(2))
		})

		It("drops a torn final line before appending after a reopen", func() {
			appendPhases("crashed", journal.PhaseValidated)
			Expect(j.Close()).To(Succeed())
			appendRaw(`{"op":"crashed","phase":"cop`)

			reopened, err := journal.Open(path, journal.WithClock(tick))
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(reopened.Close)

			data, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(HaveSuffix("\n"))
			Expect(string(data)).ToNot(ContainSubstring(`"phase":"cop`))

			for _, phase := range []journal.Phase{journal.PhaseValidated, journal.PhaseCopied} {
				Expect(reopened.Append(journal.Entry{
					OpID: "next", Phase: phase, Source: "/src/next", Target: "/dst/next",
				})).To(Succeed())
			}

			incomplete, corrupt, err := reopened.Incomplete()
			Expect(err).ToNot(HaveOccurred())
			Expect(corrupt).To(BeEmpty())

			ids := []string{}
			for _, op := range incomplete {
				ids = append(ids, op.ID)
			}
			Expect(ids).To(ConsistOf("crashed", "next"))
		})

		It("drops a journal that is one torn line", func() {
			Expect(j.Close()).To(Succeed())
			appendRaw(`{"op":"only","pha`)

			reopened, err := journal.Open(path, journal.WithClock(tick))
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(reopened.Close)

			info, err := os.Stat(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Size()).To(BeZero())
		})

		It("rejects entries without an operation id or with an unknown phase", func() {
			Expect(j.Append(journal.Entry{Phase: journal.PhaseValidated})).To(MatchError(journal.ErrInvalid))
			Expect(j.Append(journal.Entry{OpID: "x", Phase: "teleported"})).To(MatchError(journal.ErrInvalid))
		})

		It("fails after Close", func() {
			Expect(j.Close()).To(Succeed())
			Expect(j.Append(journal.Entry{OpID: "x", Phase: journal.PhaseValidated})).To(MatchError(journal.ErrClosed))
		})
	})

	Describe("ReadAll", func() {
		It("returns nothing for an empty journal", func() {
			entries, corrupt, err := j.ReadAll()
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(corrupt).To(BeEmpty())
		})

		It("ignores a torn final line", func() {
			appendPhases("op-1", journal.PhaseValidated)
			appendRaw(`{"op":"op-1","phase":"cop`)

			entries, corrupt, err := j.ReadAll()
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(corrupt).To(BeEmpty())
		})

		It("attributes an unparseable line to the operation it names", func() {
			appendPhases("op-1", journal.PhaseValidated)
			appendRaw(`{"op":"op-1","phase":` + "\n")
			appendRaw("garbage\n")

			_, corrupt, err := j.ReadAll()
			Expect(err).ToNot(HaveOccurred())
			Expect(corrupt).To(HaveLen(2))
			Expect(corrupt[0].OpID).To(Equal("op-1"))
			Expect(corrupt[0].Line).To(Equal(2))
			Expect(corrupt[1].OpID).To(BeEmpty())
			Expect(pkgerrors.KindOf(corrupt[1])).To(Equal(pkgerrors.KindJournalCorruption))
		})

		It("flags entries whose checksum does not match", func() {
			appendPhases("op-1", journal.PhaseValidated)

			data, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			tampered := strings.Replace(string(data), `"bytes":100`, `"bytes":999`, 1)
			Expect(os.WriteFile(path, []byte(tampered), 0o600)).To(Succeed())

			entries, corrupt, err := j.ReadAll()
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(corrupt).To(ConsistOf(HaveField("Reason", "checksum mismatch")))
		})
	})

	Describe("Operations", func() {
		It("groups entries by operation id", func() {
			appendPhases("op-1", journal.PhaseValidated, journal.PhaseCopied)
			appendPhases("op-2", journal.PhaseValidated)

			ops, err := j.Operations()
			Expect(err).ToNot(HaveOccurred())
			Expect(ops).To(HaveLen(2))
			Expect(ops["op-1"].Phase).To(Equal(journal.PhaseCopied))
			Expect(ops["op-1"].Entries).To(HaveLen(2))
			Expect(ops["op-1"].Source).To(Equal("/src/op-1"))
			Expect(ops["op-1"].Duration()).To(Equal(time.Second * 1))
			Expect(ops["op-1"].Reached(journal.PhaseValidated)).To(BeTrue())
			Expect(ops["op-1"].Reached(journal.PhaseVerified)).To(BeFalse())
		})

		It("marks out-of-order histories corrupt", func() {
			appendPhases("skip-start", journal.PhaseCopied)
			appendPhases("backwards", journal.PhaseValidated, journal.PhaseVerified, journal.PhaseCopied)
			appendPhases("after-end", journal.PhaseValidated, journal.PhaseRolledBack, journal.PhaseCopied)
			appendPhases("fine", journal.PhaseValidated, journal.PhaseCopied, journal.PhaseRolledBack)

			ops, err := j.Operations()
			Expect(err).ToNot(HaveOccurred())
			Expect(ops["skip-start"].Corrupt).To(BeTrue())
			Expect(ops["backwards"].Corrupt).To(BeTrue())
			Expect(ops["after-end"].Corrupt).To(BeTrue())
			Expect(ops["fine"].Corrupt).To(BeFalse())
		})
	})

	Describe("Incomplete", func() {
		It("returns unfinished intact operations and isolates corrupt ones", func() {
			appendPhases("done", journal.PhaseValidated, journal.PhaseCopied, journal.PhaseVerified, journal.PhaseCompleted)
			appendPhases("halfway", journal.PhaseValidated, journal.PhaseCopied)
			appendPhases("linked", journal.PhaseValidated, journal.PhaseCopied, journal.PhaseVerified,
				journal.PhaseSourceDeleted, journal.PhaseLinkCreated)
			appendPhases("broken", journal.PhaseValidated)
			appendRaw(`{"op":"broken","phase":"copied","checksum":` + "\n")

			incomplete, corrupt, err := j.Incomplete()
			Expect(err).ToNot(HaveOccurred())

			ids := []string{}
			for _, op := range incomplete {
				ids = append(ids, op.ID)
			}
			Expect(ids).To(Equal([]string{"halfway", "linked"}))
			Expect(corrupt).To(ConsistOf(HaveField("OpID", "broken")))
		})
	})

	Describe("queries and statistics", func() {
		BeforeEach(func() {
			appendPhases("a", journal.PhaseValidated, journal.PhaseCopied, journal.PhaseVerified, journal.PhaseCompleted)
			appendPhases("b", journal.PhaseValidated, journal.PhaseRolledBack)
			appendPhases("c", journal.PhaseValidated, journal.PhaseCopied, journal.PhaseRollbackIncomplete)
			appendPhases("d", journal.PhaseValidated)
		})

		It("lists recent operations newest first", func() {
			recent, err := j.Recent(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(recent).To(HaveLen(2))
			Expect(recent[0].ID).To(Equal("d"))
			Expect(recent[1].ID).To(Equal("c"))
		})

		It("lists failed operations", func() {
			failed, err := j.Failed(0)
			Expect(err).ToNot(HaveOccurred())
			Expect(failed).To(HaveLen(2))
			Expect(failed[0].ID).To(Equal("c"))
			Expect(failed[1].ID).To(Equal("b"))
		})

		It("counts outcomes", func() {
			stats, err := j.Statistics()
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.Total).To(Equal(4))
			Expect(stats.Completed).To(Equal(1))
			Expect(stats.RolledBack).To(Equal(1))
			Expect(stats.RollbackIncomplete).To(Equal(1))
			Expect(stats.InProgress).To(Equal(1))
			Expect(stats.Failed()).To(Equal(2))
			Expect(stats.BytesMoved).To(Equal(int64(100)))
			Expect(stats.FilesMoved).To(Equal(2))
			Expect(stats.SuccessRate()).To(BeNumerically("~", 100.0/3, 0.001))
			Expect(stats.AverageDuration()).To(Equal(3 * time.Second))
		})
	})
})
