package journal

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// Phase is the migration state recorded by an entry.
type Phase string

// Phases, in the order a successful migration records them. RolledBack and
// RollbackIncomplete may follow any non-terminal phase.
const (
	PhaseValidated          Phase = "validated"
	PhaseCopied             Phase = "copied"
	PhaseVerified           Phase = "verified"
	PhaseSourceDeleted      Phase = "source_deleted"
	PhaseLinkCreated        Phase = "link_created"
	PhaseCompleted          Phase = "completed"
	PhaseRolledBack         Phase = "rolled_back"
	PhaseRollbackIncomplete Phase = "rollback_incomplete"
)

//nolint:gochecknoglobals // lookup table
var phaseRank = map[Phase]int{
	PhaseValidated:     0,
	PhaseCopied:        1,
	PhaseVerified:      2,
	PhaseSourceDeleted: 3,
	PhaseLinkCreated:   4,
	PhaseCompleted:     5,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, forward := phaseRank[p]
	return forward || p == PhaseRolledBack || p == PhaseRollbackIncomplete
}

// Terminal reports whether no further entries may follow p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRolledBack || p == PhaseRollbackIncomplete
}

// Failed reports whether p ends an operation that did not complete.
func (p Phase) Failed() bool {
	return p == PhaseRolledBack || p == PhaseRollbackIncomplete
}

// Entry is one journal line.
type Entry struct {
	OpID      string `json:"op"`
	Phase     Phase  `json:"phase"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Timestamp int64  `json:"ts"` // UTC epoch milliseconds
	Bytes     int64  `json:"bytes"`
	Files     int    `json:"files,omitempty"`
	// DurationMs is the time since the operation was validated.
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Checksum   string `json:"checksum"`

	line int
}

// Time returns the entry's timestamp.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// computeChecksum hashes every field except the checksum itself.
func (e Entry) computeChecksum() string {
	digest := xxhash.New()
	for _, field := range []string{
		e.OpID,
		string(e.Phase),
		e.Source,
		e.Target,
		strconv.FormatInt(e.Timestamp, 10),
		strconv.FormatInt(e.Bytes, 10),
		strconv.Itoa(e.Files),
		strconv.FormatInt(e.DurationMs, 10),
		e.Error,
	} {
		_, _ = digest.WriteString(field)
		_, _ = digest.Write([]byte{0x1f})
	}
	return strconv.FormatUint(digest.Sum64(), 16)
}

// CorruptionError describes one journal line that cannot be trusted.
type CorruptionError struct {
	Line   int    // 1-based
	OpID   string // empty when the line could not be attributed
	Reason string
}

// Error implements error.
func (c CorruptionError) Error() string {
	if c.OpID == "" {
		return fmt.Sprintf("journal line %d: %s", c.Line, c.Reason)
	}
	return fmt.Sprintf("journal line %d (op %s): %s", c.Line, c.OpID, c.Reason)
}

// Unwrap classifies the corruption.
func (c CorruptionError) Unwrap() error {
	return pkgerrors.New(pkgerrors.KindJournalCorruption, "journal", c.OpID)
}
