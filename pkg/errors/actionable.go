// Package errors provides the error taxonomy shared by scanning, migration and the journal,
// plus actionable suggestions for the user.
//
// Every failure that reaches a caller is a *Error carrying a machine-readable Kind, the
// operation and phase it happened in, and the affected path:
//
//	err := errors.New(errors.KindInsufficientSpace, "validate", "/mnt/data/cache").
//	    WithPhase("Validated")
//	if errors.KindOf(err) == errors.KindInsufficientSpace { ... }
//
// Plain errors coming from the OS are classified with Classify, which inspects errno values
// and io/fs sentinels before falling back to message patterns:
//
//	enricher := errors.NewEnricher()
//	actionable := enricher.Enrich(err, "/restricted/file.txt")
//	fmt.Println(errors.FormatSuggestions(actionable))
package errors

import "strings"

// ActionableError represents an error with actionable suggestions for the user.
type ActionableError interface {
	error
	ErrorKind() Kind
	Suggestions() []string
	AffectedPath() string
}

// FormatSuggestions formats the suggestions from an ActionableError as a bulleted list
// for display. Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	if err == nil {
		return ""
	}

	actionable, ok := err.(ActionableError)
	if !ok {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}
