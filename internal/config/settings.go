package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Exported constants.
const (
	AppName        = "dirmover"
	ConfigFileName = "config.yaml"
	EnvPrefix      = "DIRMOVER"

	DefaultMaxDepth       = 2
	DefaultWorkers        = 8
	DefaultMaxConcurrent  = 2
	DefaultSafetyFactor   = 1.1
	DefaultLargeThreshold = "1GiB"
	DefaultMemoryLimit    = "64MiB"
	DefaultCacheTTL       = "15m"
	DefaultLogLevel       = "info"
)

// Root names an extra directory whose children may be scanned and migrated.
type Root struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

// Settings is the persistent configuration read from the YAML file and DIRMOVER_*
// environment variables. Command-line flags override it.
type Settings struct {
	TargetRoot     string   `mapstructure:"target_root"     yaml:"target_root"`
	MaxDepth       int      `mapstructure:"max_depth"       yaml:"max_depth"`
	Workers        int      `mapstructure:"workers"         yaml:"workers"`
	MaxConcurrent  int      `mapstructure:"max_concurrent"  yaml:"max_concurrent"`
	SafetyFactor   float64  `mapstructure:"safety_factor"   yaml:"safety_factor"`
	LargeThreshold string   `mapstructure:"large_threshold" yaml:"large_threshold"`
	MemoryLimit    string   `mapstructure:"memory_limit"    yaml:"memory_limit"`
	Roots          []Root   `mapstructure:"roots"           yaml:"roots"`
	Excludes       []string `mapstructure:"excludes"        yaml:"excludes"`
	ProtectedPaths []string `mapstructure:"protected_paths" yaml:"protected_paths"`
	ProtectedGlobs []string `mapstructure:"protected_globs" yaml:"protected_globs"`
	JournalPath    string   `mapstructure:"journal_path"    yaml:"journal_path"`
	CachePath      string   `mapstructure:"cache_path"      yaml:"cache_path"`
	CacheTTL       string   `mapstructure:"cache_ttl"       yaml:"cache_ttl"`
	LogLevel       string   `mapstructure:"log_level"       yaml:"log_level"`
	LogFile        string   `mapstructure:"log_file"        yaml:"log_file"`
}

// DefaultSettings returns the settings used when no file exists. Paths live under the
// user's config directory.
func DefaultSettings() Settings {
	dir := DefaultDir()
	return Settings{
		MaxDepth:       DefaultMaxDepth,
		Workers:        DefaultWorkers,
		MaxConcurrent:  DefaultMaxConcurrent,
		SafetyFactor:   DefaultSafetyFactor,
		LargeThreshold: DefaultLargeThreshold,
		MemoryLimit:    DefaultMemoryLimit,
		Roots:          []Root{},
		Excludes:       []string{},
		ProtectedPaths: []string{},
		ProtectedGlobs: []string{},
		JournalPath:    filepath.Join(dir, "journal.jsonl"),
		CachePath:      filepath.Join(dir, "scan-cache.db"),
		CacheTTL:       DefaultCacheTTL,
		LogLevel:       DefaultLogLevel,
	}
}

// DefaultDir returns <user config dir>/dirmover, falling back to ~/.dirmover.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppName)
	}
	return "." + AppName
}

// DefaultFile returns the default config file path.
func DefaultFile() string {
	return filepath.Join(DefaultDir(), ConfigFileName)
}

// Validate checks the numeric settings. Sizes and durations are checked by
// PostProcessConfig when they are converted.
func (s *Settings) Validate() error {
	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", s.MaxDepth)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", s.Workers)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", s.MaxConcurrent)
	}
	if s.SafetyFactor < 1 {
		return fmt.Errorf("safety_factor must be >= 1, got %g", s.SafetyFactor)
	}
	if s.JournalPath == "" {
		return errors.New("journal_path must not be empty")
	}
	return nil
}

// Load reads the settings from file, or from the default location when file is empty.
// A missing default file is not an error; a missing explicit file is. The second return
// value is the file actually read, empty when none was.
func Load(file string) (Settings, string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.AddConfigPath(DefaultDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("target_root", defaults.TargetRoot)
	v.SetDefault("max_depth", defaults.MaxDepth)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("max_concurrent", defaults.MaxConcurrent)
	v.SetDefault("safety_factor", defaults.SafetyFactor)
	v.SetDefault("large_threshold", defaults.LargeThreshold)
	v.SetDefault("memory_limit", defaults.MemoryLimit)
	v.SetDefault("roots", defaults.Roots)
	v.SetDefault("excludes", defaults.Excludes)
	v.SetDefault("protected_paths", defaults.ProtectedPaths)
	v.SetDefault("protected_globs", defaults.ProtectedGlobs)
	v.SetDefault("journal_path", defaults.JournalPath)
	v.SetDefault("cache_path", defaults.CachePath)
	v.SetDefault("cache_ttl", defaults.CacheTTL)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_file", defaults.LogFile)

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Settings{}, "", fmt.Errorf("failed to read config %s: %w", v.ConfigFileUsed(), err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, "", fmt.Errorf("failed to decode config: %w", err)
	}

	return settings, used, nil
}

// Save writes settings as YAML, creating the parent directory. An existing file is only
// replaced when overwrite is set.
func Save(settings Settings, file string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(file); err == nil {
			return fmt.Errorf("config file %s already exists: %w", file, os.ErrExist)
		}
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(file, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", file, err)
	}

	return nil
}

// Duration parses CacheTTL.
func (s *Settings) Duration() (time.Duration, error) {
	return time.ParseDuration(s.CacheTTL)
}
