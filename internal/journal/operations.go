package journal

import (
	"fmt"
	"sort"
	"time"
)

// Operation is the replayed history of one migration.
type Operation struct {
	ID      string
	Source  string
	Target  string
	Entries []Entry
	Phase   Phase // last recorded phase
	Bytes   int64
	Files   int
	Error   string
	Started time.Time
	Updated time.Time

	// Corrupt operations are excluded from recovery.
	Corrupt       bool
	CorruptReason string
}

// Terminal reports whether the operation reached a final phase.
func (o *Operation) Terminal() bool {
	return o.Phase.Terminal()
}

// Duration is the time between the first and last entry.
func (o *Operation) Duration() time.Duration {
	return o.Updated.Sub(o.Started)
}

// Reached reports whether phase was recorded for the operation.
func (o *Operation) Reached(phase Phase) bool {
	for _, e := range o.Entries {
		if e.Phase == phase {
			return true
		}
	}
	return false
}

// add appends e after checking it continues the operation's history.
func (o *Operation) add(e Entry) string {
	if len(o.Entries) == 0 {
		if e.Phase != PhaseValidated {
			return fmt.Sprintf("history starts with %s", e.Phase)
		}
		o.Source, o.Target = e.Source, e.Target
		o.Started = e.Time()
	} else {
		switch {
		case o.Phase.Terminal():
			return fmt.Sprintf("%s recorded after terminal phase %s", e.Phase, o.Phase)
		case e.Source != o.Source || e.Target != o.Target:
			return "paths differ from the validated entry"
		}
		if rank, forward := phaseRank[e.Phase]; forward && rank <= phaseRank[o.Phase] {
			return fmt.Sprintf("%s recorded after %s", e.Phase, o.Phase)
		}
	}

	o.Entries = append(o.Entries, e)
	o.Phase = e.Phase
	o.Updated = e.Time()
	o.Bytes = max(o.Bytes, e.Bytes)
	o.Files = max(o.Files, e.Files)
	if e.Error != "" {
		o.Error = e.Error
	}
	return ""
}

// group replays entries into operations. Ordering violations are returned as corruption
// and mark their operation.
func group(entries []Entry, corrupt []CorruptionError) (map[string]*Operation, []CorruptionError) {
	ops := make(map[string]*Operation)

	for _, e := range entries {
		op, ok := ops[e.OpID]
		if !ok {
			op = &Operation{ID: e.OpID}
			ops[e.OpID] = op
		}
		if op.Corrupt {
			continue
		}
		if reason := op.add(e); reason != "" {
			op.Corrupt = true
			op.CorruptReason = reason
			corrupt = append(corrupt, CorruptionError{Line: e.line, OpID: e.OpID, Reason: reason})
		}
	}

	for _, c := range corrupt {
		if c.OpID == "" {
			continue
		}
		op, ok := ops[c.OpID]
		if !ok {
			op = &Operation{ID: c.OpID}
			ops[c.OpID] = op
		}
		if !op.Corrupt {
			op.Corrupt = true
			op.CorruptReason = c.Reason
		}
	}

	sort.Slice(corrupt, func(i, k int) bool { return corrupt[i].Line < corrupt[k].Line })
	return ops, corrupt
}

// Operations replays the journal grouped by operation id. Corrupt operations are included
// and flagged.
func (j *Journal) Operations() (map[string]*Operation, error) {
	entries, corrupt, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	ops, _ := group(entries, corrupt)
	return ops, nil
}

// Incomplete returns the intact operations that never reached a terminal phase, oldest
// first, together with every corruption found.
func (j *Journal) Incomplete() ([]*Operation, []CorruptionError, error) {
	entries, corrupt, err := j.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	ops, corrupt := group(entries, corrupt)

	var incomplete []*Operation
	for _, op := range ops {
		if !op.Corrupt && !op.Terminal() {
			incomplete = append(incomplete, op)
		}
	}
	sortOldestFirst(incomplete)

	return incomplete, corrupt, nil
}

// Recent returns up to limit operations, most recently updated first.
func (j *Journal) Recent(limit int) ([]*Operation, error) {
	return j.query(limit, func(*Operation) bool { return true })
}

// Failed returns up to limit rolled-back operations, most recently updated first.
func (j *Journal) Failed(limit int) ([]*Operation, error) {
	return j.query(limit, func(op *Operation) bool { return op.Phase.Failed() })
}

func (j *Journal) query(limit int, keep func(*Operation) bool) ([]*Operation, error) {
	ops, err := j.Operations()
	if err != nil {
		return nil, err
	}

	var out []*Operation
	for _, op := range ops {
		if len(op.Entries) > 0 && keep(op) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].Updated.Equal(out[k].Updated) {
			return out[i].Updated.After(out[k].Updated)
		}
		return out[i].ID < out[k].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortOldestFirst(ops []*Operation) {
	sort.Slice(ops, func(i, k int) bool {
		if !ops[i].Started.Equal(ops[k].Started) {
			return ops[i].Started.Before(ops[k].Started)
		}
		return ops[i].ID < ops[k].ID
	})
}

// Statistics summarizes every operation in the journal.
type Statistics struct {
	Total              int
	Completed          int
	RolledBack         int
	RollbackIncomplete int
	InProgress         int
	Corrupt            int
	BytesMoved         int64
	FilesMoved         int
	TotalDuration      time.Duration
}

// Failed is the number of operations that ended without completing.
func (s Statistics) Failed() int {
	return s.RolledBack + s.RollbackIncomplete
}

// SuccessRate is the percentage of finished operations that completed.
func (s Statistics) SuccessRate() float64 {
	finished := s.Completed + s.Failed()
	if finished == 0 {
		return 0
	}
	return float64(s.Completed) / float64(finished) * 100 //nolint:mnd // percentage scale
}

// AverageDuration is the mean duration of completed operations.
func (s Statistics) AverageDuration() time.Duration {
	if s.Completed == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Completed)
}

// Statistics replays the journal and counts outcomes.
func (j *Journal) Statistics() (Statistics, error) {
	ops, err := j.Operations()
	if err != nil {
		return Statistics{}, err
	}

	var stats Statistics
	for _, op := range ops {
		stats.Total++
		switch {
		case op.Corrupt:
			stats.Corrupt++
		case op.Phase == PhaseCompleted:
			stats.Completed++
			stats.BytesMoved += op.Bytes
			stats.FilesMoved += op.Files
			stats.TotalDuration += op.Duration()
		case op.Phase == PhaseRolledBack:
			stats.RolledBack++
		case op.Phase == PhaseRollbackIncomplete:
			stats.RollbackIncomplete++
		default:
			stats.InProgress++
		}
	}
	return stats, nil
}
