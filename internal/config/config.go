// Package config handles application configuration and command-line argument parsing.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/joe/dirmover/internal/sortengine"
)

// Exported variables.
var (
	ErrNoCommand      = errors.New("a command is required: scan, migrate, recover, drives, journal or config")
	ErrNoTarget       = errors.New("target path is required")
	ErrRelativeTarget = errors.New("target path must be absolute")
	ErrNoItems        = errors.New("at least one item to migrate is required")
)

// VerifyMode selects how a migrated copy is checked before the source is touched.
type VerifyMode int

const (
	// VerifyChecksums compares the sha256 of every file (default).
	VerifyChecksums VerifyMode = iota
	// VerifySizes compares the tree layout and file sizes only.
	VerifySizes
)

// String returns the string representation of VerifyMode
func (m VerifyMode) String() string {
	switch m {
	case VerifyChecksums:
		return "checksums"
	case VerifySizes:
		return "sizes"
	default:
		return "unknown"
	}
}

// ParseVerifyMode parses a string into a VerifyMode
func ParseVerifyMode(s string) (VerifyMode, error) {
	s = strings.ToLower(s)
	switch s {
	case "checksums", "checksum", "sha256", "paranoid":
		return VerifyChecksums, nil
	case "sizes", "size", "fast":
		return VerifySizes, nil
	default:
		return VerifyChecksums, fmt.Errorf("invalid verify mode: %s (valid: checksums, sizes)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (m *VerifyMode) UnmarshalText(text []byte) error {
	parsed, err := ParseVerifyMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// LogFormat selects the log encoding.
type LogFormat int

const (
	// LogConsole is human-readable output on stderr.
	LogConsole LogFormat = iota
	// LogJSON is one JSON object per line.
	LogJSON
)

// String returns the string representation of LogFormat
func (f LogFormat) String() string {
	if f == LogJSON {
		return "json"
	}
	return "console"
}

// ParseLogFormat parses a string into a LogFormat
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "console", "text", "":
		return LogConsole, nil
	case "json":
		return LogJSON, nil
	default:
		return LogConsole, fmt.Errorf("invalid log format: %s (valid: console, json)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (f *LogFormat) UnmarshalText(text []byte) error {
	parsed, err := ParseLogFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ScanCmd is "dirmover scan".
type ScanCmd struct {
	Root        string           `arg:"positional" help:"directory to scan, or a root name such as Local or Cache (default: every root)"`
	MaxDepth    *int             `arg:"-d,--max-depth" help:"deepest level listed item by item (0 = unlimited)"`
	Sort        sortengine.Field `arg:"--sort" default:"size" help:"sort field: size|name|path|percentage"`
	Order       sortengine.Order `arg:"--order" default:"desc" help:"sort order: asc|desc"`
	Threshold   string           `arg:"--threshold" help:"only list items at least this large, e.g. 1GiB"`
	Limit       int              `arg:"-n,--limit" default:"25" help:"maximum items to print (0 = all)"`
	Exclude     []string         `arg:"-x,--exclude,separate" help:"doublestar pattern to skip (repeatable)"`
	FollowLinks bool             `arg:"--follow-links" help:"descend into symlinked directories"`
	Cached      bool             `arg:"--cached" help:"reuse a recent scan of the same root if one is cached"`
	Live        bool             `arg:"--live" help:"show a live view while scanning"`
	JSON        bool             `arg:"--json" help:"print items as JSON"`
}

// MigrateCmd is "dirmover migrate".
type MigrateCmd struct {
	Items        []string   `arg:"positional,required" help:"directories to move"`
	Target       string     `arg:"-t,--target" help:"directory on the destination volume"`
	NoLink       bool       `arg:"--no-link" help:"do not leave a symlink at the old location"`
	DeleteSource bool       `arg:"--delete-source" help:"delete the source after verification even without a link"`
	Overwrite    bool       `arg:"--overwrite" help:"replace an existing target"`
	DryRun       bool       `arg:"-n,--dry-run" help:"validate only"`
	Yes          bool       `arg:"-y,--yes" help:"do not ask for confirmation"`
	Verify       VerifyMode `arg:"--verify" default:"checksums" help:"verification: checksums|sizes"`
	Concurrency  int        `arg:"-j,--concurrency" help:"items migrated at once"`
}

// RecoverCmd is "dirmover recover".
type RecoverCmd struct {
	Yes bool `arg:"-y,--yes" help:"do not ask for confirmation"`
}

// DrivesCmd is "dirmover drives".
type DrivesCmd struct {
	All bool `arg:"-a,--all" help:"include the system volume"`
}

// JournalStatsCmd is "dirmover journal stats".
type JournalStatsCmd struct{}

// JournalListCmd is "dirmover journal list".
type JournalListCmd struct {
	Limit  int  `arg:"-n,--limit" default:"20" help:"maximum operations to list"`
	Failed bool `arg:"--failed" help:"only rolled-back operations"`
}

// JournalCmd is "dirmover journal".
type JournalCmd struct {
	Stats *JournalStatsCmd `arg:"subcommand:stats" help:"summarize every recorded operation"`
	List  *JournalListCmd  `arg:"subcommand:list" help:"list recent operations"`
}

// ConfigInitCmd is "dirmover config init".
type ConfigInitCmd struct {
	Force bool `arg:"-f,--force" help:"overwrite an existing config file"`
}

// ConfigShowCmd is "dirmover config show".
type ConfigShowCmd struct{}

// ConfigCmd is "dirmover config".
type ConfigCmd struct {
	Init *ConfigInitCmd `arg:"subcommand:init" help:"write the default config file"`
	Show *ConfigShowCmd `arg:"subcommand:show" help:"print the effective settings"`
}

// Args are the command-line arguments.
type Args struct {
	ConfigFile string    `arg:"-c,--config,env:DIRMOVER_CONFIG" help:"config file (default: <user config dir>/dirmover/config.yaml)"`
	LogLevel   string    `arg:"--log-level" help:"trace|debug|info|warn|error"`
	LogFormat  LogFormat `arg:"--log-format" default:"console" help:"console|json"`
	LogFile    string    `arg:"--log-file" help:"also write logs to this file"`
	Verbose    bool      `arg:"-v,--verbose" help:"shorthand for --log-level debug"`

	Scan    *ScanCmd    `arg:"subcommand:scan" help:"scan a directory and list its largest items"`
	Migrate *MigrateCmd `arg:"subcommand:migrate" help:"move directories to another volume and link them back"`
	Recover *RecoverCmd `arg:"subcommand:recover" help:"finish or undo migrations interrupted by a crash"`
	Drives  *DrivesCmd  `arg:"subcommand:drives" help:"list volumes that can receive migrated data"`
	Journal *JournalCmd `arg:"subcommand:journal" help:"inspect the operation journal"`
	Config  *ConfigCmd  `arg:"subcommand:config" help:"manage the config file"`
}

// Description returns the program description for go-arg
func (Args) Description() string {
	return "Find the largest directories on a disk and move them to another volume without losing data"
}

// Version returns the version string for go-arg
func (Args) Version() string {
	return "dirmover 1.0.0"
}

// Config is the fully resolved configuration: parsed arguments merged over the settings
// file, with every textual value converted.
type Config struct {
	Args     Args
	Settings Settings
	// SettingsFile is the file the settings were read from, empty when none existed.
	SettingsFile string

	LogLevel       zerolog.Level
	LargeThreshold uint64
	MemoryLimit    int64
	CacheTTL       time.Duration
}

// ParseFlags parses command-line flags, loads the settings file and returns the
// resolved configuration. Help and version requests exit the process.
func ParseFlags() (*Config, error) {
	args := Args{LogFormat: LogConsole}

	parser, err := arg.NewParser(arg.Config{Program: "dirmover"}, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build argument parser: %w", err)
	}
	parser.MustParse(os.Args[1:])

	return Resolve(args)
}

// Parse parses argv without exiting. It is ParseFlags for tests and embedding.
func Parse(argv []string, stdout io.Writer) (*Config, error) {
	args := Args{LogFormat: LogConsole}

	parser, err := arg.NewParser(arg.Config{Program: "dirmover"}, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build argument parser: %w", err)
	}

	err = parser.Parse(argv)
	switch {
	case errors.Is(err, arg.ErrHelp):
		parser.WriteHelpForSubcommand(stdout, parser.SubcommandNames()...) //nolint:errcheck // best effort
		return nil, err
	case errors.Is(err, arg.ErrVersion):
		_, _ = fmt.Fprintln(stdout, args.Version())
		return nil, err
	case err != nil:
		return nil, err
	}

	return Resolve(args)
}

// Resolve loads the settings file named by args and post-processes the result.
func Resolve(args Args) (*Config, error) {
	settings, file, err := Load(args.ConfigFile)
	if err != nil {
		return nil, err
	}

	return PostProcessConfig(&Config{Args: args, Settings: settings, SettingsFile: file})
}

// PostProcessConfig applies post-processing logic to a parsed config
func PostProcessConfig(cfg *Config) (*Config, error) {
	if cfg.Args.Scan == nil && cfg.Args.Migrate == nil && cfg.Args.Recover == nil &&
		cfg.Args.Drives == nil && cfg.Args.Journal == nil && cfg.Args.Config == nil {
		return nil, ErrNoCommand
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	if err := cfg.resolveLogging(); err != nil {
		return nil, err
	}

	var err error
	if cfg.MemoryLimit, err = parseSize(cfg.Settings.MemoryLimit); err != nil {
		return nil, fmt.Errorf("invalid memory_limit: %w", err)
	}
	threshold, err := parseSize(cfg.Settings.LargeThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid large_threshold: %w", err)
	}
	cfg.LargeThreshold = uint64(threshold) //nolint:gosec // parseSize rejects negatives
	if cfg.CacheTTL, err = cfg.Settings.Duration(); err != nil {
		return nil, fmt.Errorf("invalid cache_ttl: %w", err)
	}

	if cfg.Args.Scan != nil {
		if err := cfg.postProcessScan(); err != nil {
			return nil, err
		}
	}
	if cfg.Args.Migrate != nil {
		if err := cfg.postProcessMigrate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) resolveLogging() error {
	level := cfg.Settings.LogLevel
	if cfg.Args.LogLevel != "" {
		level = cfg.Args.LogLevel
	}
	if cfg.Args.Verbose {
		level = zerolog.LevelDebugValue
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.LogLevel = parsed

	if cfg.Args.LogFile == "" {
		cfg.Args.LogFile = cfg.Settings.LogFile
	}
	return nil
}

func (cfg *Config) postProcessScan() error {
	scan := cfg.Args.Scan

	if scan.MaxDepth == nil {
		depth := cfg.Settings.MaxDepth
		scan.MaxDepth = &depth
	}
	if *scan.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", *scan.MaxDepth)
	}

	if scan.Threshold != "" {
		threshold, err := parseSize(scan.Threshold)
		if err != nil {
			return fmt.Errorf("invalid threshold: %w", err)
		}
		cfg.LargeThreshold = uint64(threshold) //nolint:gosec // parseSize rejects negatives
	}

	scan.Exclude = append(append([]string{}, cfg.Settings.Excludes...), scan.Exclude...)

	if scan.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", scan.Limit)
	}
	return nil
}

func (cfg *Config) postProcessMigrate() error {
	migrate := cfg.Args.Migrate

	if migrate.Target == "" {
		migrate.Target = cfg.Settings.TargetRoot
	}
	if migrate.Target == "" {
		return ErrNoTarget
	}
	if !filepath.IsAbs(migrate.Target) {
		return fmt.Errorf("%w: %s", ErrRelativeTarget, migrate.Target)
	}
	migrate.Target = filepath.Clean(migrate.Target)

	if len(migrate.Items) == 0 {
		return ErrNoItems
	}
	for i, item := range migrate.Items {
		abs, err := filepath.Abs(item)
		if err != nil {
			return fmt.Errorf("cannot resolve item %s: %w", item, err)
		}
		migrate.Items[i] = abs
	}

	if migrate.Concurrency == 0 {
		migrate.Concurrency = cfg.Settings.MaxConcurrent
	}
	if migrate.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", migrate.Concurrency)
	}
	return nil
}

// parseSize accepts humanized sizes ("1GiB", "500 MB") and plain byte counts.
func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size out of range: %s", s)
	}
	return int64(n), nil
}
