package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error kind.
type SuggestionGenerator interface {
	Generate(kind Kind, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error kind and affected path.
func (g *suggestionGenerator) Generate(kind Kind, affectedPath string) []string {
	switch kind {
	case KindPermissionDenied:
		return g.generatePermissionSuggestions(affectedPath)
	case KindInsufficientSpace:
		return g.generateDiskSpaceSuggestions(affectedPath)
	case KindPathNotFound:
		return g.generatePathSuggestions(affectedPath)
	case KindVerificationMismatch:
		return g.generateVerificationSuggestions(affectedPath)
	case KindSymlinkLoop:
		return g.generateLoopSuggestions(affectedPath)
	case KindRollbackIncomplete:
		return g.generateRollbackSuggestions(affectedPath)
	case KindJournalCorruption:
		return g.generateJournalSuggestions(affectedPath)
	case KindAlreadyExists:
		return g.generateExistsSuggestions(affectedPath)
	case KindIO:
		return g.generateIOSuggestions(affectedPath)
	case KindCancelled:
		return nil
	default:
		return g.generateUnknownSuggestions(affectedPath)
	}
}

func (g *suggestionGenerator) generateDiskSpaceSuggestions(path string) []string {
	suggestions := []string{
		"Choose a target volume with more free space",
		"Check available space with 'df -h'",
		"Migrate fewer items at once",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify disk usage for the filesystem containing "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateExistsSuggestions(path string) []string {
	suggestions := []string{
		"Remove or rename the existing item at the target",
		"Re-run with overwrite confirmed if replacing it is intended",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("Inspect the existing item with 'ls -la %s'", path))
	}

	return suggestions
}

func (g *suggestionGenerator) generateIOSuggestions(_ string) []string {
	return []string{
		"Verify the source and destination media are functioning correctly",
		"Try the operation again - this may be a transient I/O error",
		"Check system logs for hardware issues",
	}
}

func (g *suggestionGenerator) generateJournalSuggestions(path string) []string {
	suggestions := []string{
		"Inspect the affected operation's entries in the journal",
		"Check the source and target paths of that operation by hand",
	}

	if path != "" {
		suggestions = append(suggestions, "Journal file: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateLoopSuggestions(path string) []string {
	suggestions := []string{
		"A symbolic link or junction points back at one of its own parents",
		"Exclude the looping path or scan without following links",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("Inspect the link with 'ls -la %s'", path))
	}

	return suggestions
}

func (g *suggestionGenerator) generatePathSuggestions(path string) []string {
	suggestions := []string{
		"Verify the path exists and is spelled correctly",
	}

	if path != "" {
		suggestions = append(suggestions, "Check if the path exists: "+path)
		suggestions = append(suggestions, "Ensure all parent directories exist for "+path)
	} else {
		suggestions = append(suggestions, "Ensure all parent directories exist")
	}

	return suggestions
}

func (g *suggestionGenerator) generatePermissionSuggestions(path string) []string {
	suggestions := []string{
		"Ensure you have read/write permissions for the files and directories",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("Check permissions with 'ls -la %s'", path))
	} else {
		suggestions = append(suggestions, "Check permissions with 'ls -la' on the affected path")
	}

	suggestions = append(suggestions, "Close applications that may hold files open and retry")

	return suggestions
}

func (g *suggestionGenerator) generateRollbackSuggestions(path string) []string {
	suggestions := []string{
		"Automatic rollback could not finish; the listed paths need manual cleanup",
		"Do not delete the target copy until the source is confirmed intact",
	}

	if path != "" {
		suggestions = append(suggestions, "Start with: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateUnknownSuggestions(path string) []string {
	suggestions := []string{
		"Check the error message for more details",
		"Verify file and directory permissions",
		"Ensure sufficient disk space is available",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the path is accessible: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateVerificationSuggestions(path string) []string {
	suggestions := []string{
		"The copied data did not match the source; the migration was rolled back",
		"Check the target media for errors before retrying",
	}

	if path != "" {
		suggestions = append(suggestions, "Mismatch detected at "+path)
	}

	return suggestions
}
