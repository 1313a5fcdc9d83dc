package sortengine

import (
	"fmt"
	"time"
)

// Field is the primary sort key.
type Field int

// Sort fields.
const (
	BySize Field = iota
	ByName
	ByPath
	ByPercentage
)

// String returns the string representation of Field
func (f Field) String() string {
	switch f {
	case BySize:
		return "size"
	case ByName:
		return "name"
	case ByPath:
		return "path"
	case ByPercentage:
		return "percentage"
	default:
		return "unknown"
	}
}

// ParseField parses a string into a Field
func ParseField(s string) (Field, error) {
	switch s {
	case "size":
		return BySize, nil
	case "name":
		return ByName, nil
	case "path":
		return ByPath, nil
	case "percentage", "percent":
		return ByPercentage, nil
	default:
		return BySize, fmt.Errorf("invalid sort field: %s (valid: size, name, path, percentage)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (f *Field) UnmarshalText(text []byte) error {
	parsed, err := ParseField(string(text))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

// Order is the sort direction of the primary key.
type Order int

// Sort orders.
const (
	Descending Order = iota
	Ascending
)

// String returns the string representation of Order
func (o Order) String() string {
	if o == Ascending {
		return "asc"
	}
	return "desc"
}

// ParseOrder parses a string into an Order
func ParseOrder(s string) (Order, error) {
	switch s {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Descending, fmt.Errorf("invalid sort order: %s (valid: asc, desc)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (o *Order) UnmarshalText(text []byte) error {
	parsed, err := ParseOrder(string(text))
	if err != nil {
		return err
	}

	*o = parsed

	return nil
}

// Exported constants.
const (
	DefaultSmallThreshold   = 32
	DefaultLargeThreshold   = 2048
	DefaultIncrementalLimit = 64
	DefaultCacheSize        = 32
	// DefaultTargetLatency is the sort budget per started block of BudgetBlock items.
	DefaultTargetLatency = 16 * time.Millisecond
	BudgetBlock          = 10000
)

// Options tunes the algorithm policy.
type Options struct {
	// SmallThreshold: inputs of at most this many items use insertion sort.
	SmallThreshold int
	// LargeThreshold: inputs of at least this many items use merge sort.
	LargeThreshold int
	// IncrementalLimit: incremental re-placement is used while fewer paths than this changed.
	IncrementalLimit int
	TargetLatency    time.Duration
	// CacheSize is the number of full-sort results kept; 0 disables the cache.
	CacheSize int
}

// DefaultOptions returns the default policy.
func DefaultOptions() Options {
	return Options{
		SmallThreshold:   DefaultSmallThreshold,
		LargeThreshold:   DefaultLargeThreshold,
		IncrementalLimit: DefaultIncrementalLimit,
		TargetLatency:    DefaultTargetLatency,
		CacheSize:        DefaultCacheSize,
	}
}

func (o Options) withDefaults() Options {
	if o.SmallThreshold <= 0 {
		o.SmallThreshold = DefaultSmallThreshold
	}
	if o.LargeThreshold <= o.SmallThreshold {
		o.LargeThreshold = max(DefaultLargeThreshold, o.SmallThreshold+1)
	}
	if o.IncrementalLimit <= 0 {
		o.IncrementalLimit = DefaultIncrementalLimit
	}
	if o.TargetLatency <= 0 {
		o.TargetLatency = DefaultTargetLatency
	}
	if o.CacheSize < 0 {
		o.CacheSize = 0
	}
	return o
}

// Budget returns the latency budget for sorting n items.
func (o Options) Budget(n int) time.Duration {
	blocks := (n + BudgetBlock - 1) / BudgetBlock
	return o.TargetLatency * time.Duration(max(blocks, 1))
}
