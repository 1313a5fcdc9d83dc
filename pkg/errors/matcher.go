package errors

import "strings"

// PatternMatcher matches error messages to kinds using string patterns.
type PatternMatcher interface {
	Match(errorMsg string) Kind
}

// NewPatternMatcher creates a new PatternMatcher with predefined patterns.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		order: []Kind{
			KindPermissionDenied,
			KindInsufficientSpace,
			KindSymlinkLoop,
			KindPathNotFound,
			KindAlreadyExists,
			KindIO,
		},
		patterns: map[Kind][]string{
			KindPermissionDenied: {
				"permission denied",
				"access denied",
				"access is denied",
				"operation not permitted",
				"read-only file system",
			},
			KindInsufficientSpace: {
				"no space left on device",
				"disk full",
				"not enough space",
				"quota exceeded",
				"insufficient space",
			},
			KindSymlinkLoop: {
				"too many levels of symbolic links",
				"symlink loop",
				"too many links",
			},
			KindPathNotFound: {
				"no such file or directory",
				"file not found",
				"path does not exist",
				"cannot find the path",
				"cannot find the file",
			},
			KindAlreadyExists: {
				"file exists",
				"already exists",
				"directory not empty",
			},
			KindIO: {
				"short write",
				"input/output error",
				"i/o error",
			},
		},
	}
}

// patternMatcher is the concrete implementation of PatternMatcher.
// Kinds are checked in a fixed order so overlapping messages classify deterministically.
type patternMatcher struct {
	order    []Kind
	patterns map[Kind][]string
}

// Match returns the error kind based on pattern matching.
func (m *patternMatcher) Match(errorMsg string) Kind {
	lowerMsg := strings.ToLower(errorMsg)

	for _, kind := range m.order {
		for _, pattern := range m.patterns[kind] {
			if strings.Contains(lowerMsg, pattern) {
				return kind
			}
		}
	}

	return KindUnknown
}
