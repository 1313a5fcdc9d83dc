package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Exported constants.
const (
	DefaultWorkers          = 8
	DefaultMaxDepth         = 2
	DefaultProgressInterval = 250 * time.Millisecond
	DefaultEventBuffer      = 1024
	DefaultQueueSize        = 4096
	// CancelCheckInterval is how many directory entries are processed between
	// cancellation checks.
	CancelCheckInterval = 100
)

// Exported variables.
var (
	ErrInvalidOptions = errors.New("invalid scan options")
)

// Options configures one scan.
type Options struct {
	// Workers is the number of concurrent directory processors.
	Workers int

	// MaxDepth is the deepest level reported item by item; the root is depth 0.
	// Directories at MaxDepth are collapsed into a single sized item. Zero means
	// unlimited.
	MaxDepth int

	// FollowSymlinks descends into linked directories, with per-branch loop detection.
	FollowSymlinks bool

	// Excludes are doublestar patterns matched against slash-separated paths relative
	// to the scan root.
	Excludes []string

	ProgressInterval time.Duration
	EventBuffer      int
	QueueSize        int
}

// DefaultOptions returns sensible defaults for scanning.
func DefaultOptions() Options {
	return Options{
		Workers:          DefaultWorkers,
		MaxDepth:         DefaultMaxDepth,
		ProgressInterval: DefaultProgressInterval,
		EventBuffer:      DefaultEventBuffer,
		QueueSize:        DefaultQueueSize,
	}
}

// WithWorkers sets the number of workers.
func (o Options) WithWorkers(n int) Options {
	o.Workers = n
	return o
}

// WithMaxDepth sets the depth limit.
func (o Options) WithMaxDepth(depth int) Options {
	o.MaxDepth = depth
	return o
}

// WithFollowSymlinks sets symlink behavior.
func (o Options) WithFollowSymlinks(follow bool) Options {
	o.FollowSymlinks = follow
	return o
}

// WithExcludes appends exclude patterns.
func (o Options) WithExcludes(patterns ...string) Options {
	o.Excludes = append(append([]string(nil), o.Excludes...), patterns...)
	return o
}

// WithProgressInterval sets how often ScanProgress is emitted.
func (o Options) WithProgressInterval(d time.Duration) Options {
	o.ProgressInterval = d
	return o
}

// Validate checks the options and fills zero values with defaults.
func (o Options) Validate() (Options, error) {
	if o.Workers < 0 || o.MaxDepth < 0 || o.EventBuffer < 0 || o.QueueSize < 0 || o.ProgressInterval < 0 {
		return o, fmt.Errorf("%w: negative value", ErrInvalidOptions)
	}

	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.ProgressInterval == 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.EventBuffer == 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.QueueSize == 0 {
		o.QueueSize = DefaultQueueSize
	}

	for _, pattern := range o.Excludes {
		if !doublestar.ValidatePattern(pattern) {
			return o, fmt.Errorf("%w: bad exclude pattern %q", ErrInvalidOptions, pattern)
		}
	}

	return o, nil
}

// shouldExclude matches rel (relative to the root, OS separators) against the patterns.
func (o Options) shouldExclude(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, pattern := range o.Excludes {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// expands reports whether a directory at depth is listed item by item.
func (o Options) expands(depth int) bool {
	return o.MaxDepth == 0 || depth < o.MaxDepth
}
