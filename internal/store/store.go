// Package store caches finished scan results in a local sqlite database so that repeated
// scans of the same root can be answered without walking the disk again.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/joe/dirmover/internal/scan"
)

// Exported constants.
const (
	DefaultFileName = "scan-cache.db"
	DefaultTTL      = 15 * time.Minute
	dirPermissions  = 0o750
)

// Exported variables.
var (
	ErrMiss = errors.New("no cached scan")
)

const (
	upsertScanSQL  = `INSERT OR REPLACE INTO scans (root, scanned_at, total_size, total_items, elapsed_ms, max_depth) VALUES (?, ?, ?, ?, ?, ?)`
	deleteItemsSQL = `DELETE FROM items WHERE root = ?`
	insertItemSQL  = `INSERT INTO items (root, seq, path, name, size, kind, depth, collapsed) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectScanSQL  = `SELECT scanned_at, total_size, total_items, elapsed_ms, max_depth FROM scans WHERE root = ?`
	selectItemsSQL = `SELECT path, name, size, kind, depth, collapsed FROM items WHERE root = ? ORDER BY seq`
	deleteScanSQL  = `DELETE FROM scans WHERE root = ?`
)

// Entry is one cached scan.
type Entry struct {
	Root       string
	ScannedAt  time.Time
	TotalSize  uint64
	TotalItems int
	Elapsed    time.Duration
	MaxDepth   int
	Items      []scan.Item
}

// Age is how long ago the scan finished.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ScannedAt)
}

// Store is the sqlite-backed scan cache. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a cached scan stays valid. Zero or negative means DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens or creates the cache database at path. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{ttl: DefaultTTL, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan cache %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close scan cache: %w", err)
	}
	return nil
}

// Save replaces the cached scan for result.Root. Partial scans are not cached.
func (s *Store) Save(ctx context.Context, result *scan.Result, maxDepth int) error {
	if result.Summary.Partial {
		s.logger.Debug().Str("path", result.Root).Msg("not caching partial scan")
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertScanSQL,
		result.Root,
		s.now().UnixMilli(),
		int64(result.Summary.TotalSize), //nolint:gosec // sizes fit in int64
		result.Summary.TotalItems,
		result.Summary.ElapsedMs,
		maxDepth,
	); err != nil {
		return fmt.Errorf("failed to store scan %s: %w", result.Root, err)
	}

	if _, err := tx.ExecContext(ctx, deleteItemsSQL, result.Root); err != nil {
		return fmt.Errorf("failed to clear cached items for %s: %w", result.Root, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertItemSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, item := range result.Items {
		if _, err := stmt.ExecContext(ctx,
			result.Root, seq, item.Path, item.Name,
			int64(item.Size), //nolint:gosec // sizes fit in int64
			int(item.Kind), item.Depth, item.Collapsed,
		); err != nil {
			return fmt.Errorf("failed to store item %s: %w", item.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan %s: %w", result.Root, err)
	}

	s.logger.Debug().Str("path", result.Root).Int("items", len(result.Items)).Msg("scan cached")
	return nil
}

// Load returns the cached scan for root. It returns ErrMiss when there is none, when it
// has expired, or when it was taken with a shallower depth than maxDepth requires
// (0 means unlimited).
func (s *Store) Load(ctx context.Context, root string, maxDepth int) (*Entry, error) {
	entry := &Entry{Root: root}

	var scannedAt, totalSize, elapsedMs int64
	err := s.db.QueryRowContext(ctx, selectScanSQL, root).
		Scan(&scannedAt, &totalSize, &entry.TotalItems, &elapsedMs, &entry.MaxDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached scan %s: %w", root, err)
	}

	entry.ScannedAt = time.UnixMilli(scannedAt)
	entry.TotalSize = uint64(totalSize) //nolint:gosec // stored from a uint64
	entry.Elapsed = time.Duration(elapsedMs) * time.Millisecond

	if entry.Age(s.now()) > s.ttl {
		if err := s.Invalidate(ctx, root); err != nil {
			return nil, err
		}
		return nil, ErrMiss
	}
	if !covers(entry.MaxDepth, maxDepth) {
		return nil, ErrMiss
	}

	rows, err := s.db.QueryContext(ctx, selectItemsSQL, root)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached items for %s: %w", root, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			item scan.Item
			size int64
			kind int
		)
		if err := rows.Scan(&item.Path, &item.Name, &size, &kind, &item.Depth, &item.Collapsed); err != nil {
			return nil, fmt.Errorf("failed to decode cached item: %w", err)
		}
		item.Size = uint64(size) //nolint:gosec // stored from a uint64
		item.Kind = scan.ItemKind(kind)
		entry.Items = append(entry.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cached items for %s: %w", root, err)
	}

	return entry, nil
}

// Invalidate drops the cached scan for root.
func (s *Store) Invalidate(ctx context.Context, root string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteItemsSQL, root); err != nil {
		return fmt.Errorf("failed to drop cached items for %s: %w", root, err)
	}
	if _, err := tx.ExecContext(ctx, deleteScanSQL, root); err != nil {
		return fmt.Errorf("failed to drop cached scan %s: %w", root, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache invalidation: %w", err)
	}
	return nil
}

// Prune drops every expired scan and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	rows, err := s.db.QueryContext(ctx, `SELECT root FROM scans WHERE scanned_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired scans: %w", err)
	}

	var roots []string
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to decode expired scan: %w", err)
		}
		roots = append(roots, root)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to list expired scans: %w", err)
	}

	for _, root := range roots {
		if err := s.Invalidate(ctx, root); err != nil {
			return 0, err
		}
	}
	return len(roots), nil
}

// covers reports whether a scan taken at depth cached satisfies a request for depth want.
// Zero means unlimited.
func covers(cached, want int) bool {
	switch {
	case cached == 0:
		return true
	case want == 0:
		return false
	default:
		return cached >= want
	}
}
