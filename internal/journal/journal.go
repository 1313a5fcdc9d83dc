// Package journal is the append-only operation log that makes migrations recoverable.
//
// Each entry is one JSON object per line, written with O_APPEND and flushed to disk before
// Append returns. Readers tolerate a torn final line and isolate corrupt operations so that
// the rest of the journal stays usable.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/joe/dirmover/pkg/errors"
)

// Exported constants.
const (
	DefaultFileName = "journal.jsonl"
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Exported variables.
var (
	ErrClosed      = errors.New("journal is closed")
	ErrUnavailable = errors.New("journal is unavailable after a failed write")
	ErrInvalid     = errors.New("invalid journal entry")
)

// opField extracts the operation id from a line that is not valid JSON.
var opField = regexp.MustCompile(`"op"\s*:\s*"([^"\\]*)"`)

// Journal appends entries to a JSON-lines file. Appends are serialized; a failed write
// makes every later Append fail, since a gap would make recovery unsound.
type Journal struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	file   *os.File
	failed error
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the journal's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Journal) { j.logger = logger }
}

// WithClock replaces the wall clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open opens or creates the journal at path, creating parent directories.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		path:   path,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("failed to create journal directory: %w", err), "journal", path)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("failed to open journal: %w", err), "journal", path)
	}

	dropped, err := trimTornTail(file)
	if err != nil {
		_ = file.Close()
		return nil, pkgerrors.Wrap(fmt.Errorf("failed to repair journal: %w", err), "journal", path)
	}
	if dropped > 0 {
		j.logger.Warn().Str("path", path).Int64("bytes", dropped).Msg("dropped torn final journal line")
	}
	j.file = file

	return j, nil
}

// trimTornTail truncates file after its last newline, so the next append starts a fresh
// line instead of extending a record cut short by a crash. It returns the bytes removed.
func trimTornTail(file *os.File) (int64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	const chunkSize = 4096
	buf := make([]byte, chunkSize)
	end := size
	for end > 0 {
		start := max(0, end-chunkSize)
		chunk := buf[:end-start]
		if _, err := file.ReadAt(chunk, start); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}

	if end == size {
		return 0, nil
	}
	if err := file.Truncate(end); err != nil {
		return 0, err
	}
	return size - end, file.Sync()
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Err returns the error that made the journal unavailable, or nil.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failed
}

// Append stamps, checksums and durably writes e.
func (j *Journal) Append(e Entry) error {
	if e.OpID == "" || !e.Phase.Valid() {
		return fmt.Errorf("%w: op %q phase %q", ErrInvalid, e.OpID, e.Phase)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return ErrClosed
	}
	if j.failed != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, j.failed)
	}

	if e.Timestamp == 0 {
		e.Timestamp = j.now().UTC().UnixMilli()
	}
	e.Checksum = e.computeChecksum()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return j.fail(e, err)
	}
	if err := j.file.Sync(); err != nil {
		return j.fail(e, err)
	}

	j.logger.Debug().
		Str("op", e.OpID).
		Str("phase", string(e.Phase)).
		Int64("bytes", e.Bytes).
		Msg("journal entry appended")

	return nil
}

func (j *Journal) fail(e Entry, err error) error {
	j.failed = pkgerrors.Wrapf(pkgerrors.KindIO, fmt.Errorf("failed to write journal entry: %w", err), "journal", j.path)
	j.logger.Error().Err(err).Str("op", e.OpID).Str("phase", string(e.Phase)).Msg("journal unavailable")
	return j.failed
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	if err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// ReadAll returns every intact entry in file order, plus one CorruptionError per line
// that could not be trusted. A final line without a newline is a torn write and is
// skipped silently.
func (j *Journal) ReadAll() ([]Entry, []CorruptionError, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, pkgerrors.Wrap(fmt.Errorf("failed to read journal: %w", err), "journal", j.path)
	}

	entries, corrupt := parse(data)
	return entries, corrupt, nil
}

func parse(data []byte) ([]Entry, []CorruptionError) {
	if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
		data = data[:i+1] // torn tail
	}

	var (
		entries []Entry
		corrupt []CorruptionError
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c := CorruptionError{Line: line, Reason: "unparseable entry"}
			if m := opField.FindSubmatch(raw); m != nil {
				c.OpID = string(m[1])
			}
			corrupt = append(corrupt, c)
			continue
		}

		switch {
		case e.OpID == "":
			corrupt = append(corrupt, CorruptionError{Line: line, Reason: "entry without operation id"})
		case e.Checksum != e.computeChecksum():
			corrupt = append(corrupt, CorruptionError{Line: line, OpID: e.OpID, Reason: "checksum mismatch"})
		case !e.Phase.Valid():
			corrupt = append(corrupt, CorruptionError{Line: line, OpID: e.OpID, Reason: fmt.Sprintf("unknown phase %q", e.Phase)})
		default:
			e.line = line
			entries = append(entries, e)
		}
	}

	return entries, corrupt
}
