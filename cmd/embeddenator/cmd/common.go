package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/embeddenator/embeddenator/internal/config"
	"github.com/embeddenator/embeddenator/internal/scanner"
)

// engramPaths derives the three on-disk artifact paths spec.md §6
// names for an engram called name, rooted at dir: the engram
// container, its manifest, and (hierarchical outputs only) its
// sub-engram artifacts directory.
func engramPaths(dir, name string) (engramPath, manifestPath, artifactsDir string) {
	return filepath.Join(dir, name+".engram"),
		filepath.Join(dir, name+"-manifest.json"),
		filepath.Join(dir, name+".artifacts")
}

// scanOptionsFrom builds scanner.Options from a loaded config's path
// filters.
func scanOptionsFrom(cfg *config.Config) scanner.Options {
	return scanner.Options{
		RespectGitignore: true,
		ExcludeGlobs:     cfg.Paths.Exclude,
		IncludeGlobs:     cfg.Paths.Include,
	}
}

// splitFlagList parses a comma-separated --flag value into a
// trimmed, non-empty string slice.
func splitFlagList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// engramName derives the default artifact basename from the first
// ingestion input: its cleaned base directory/file name.
func engramName(inputs []string) string {
	if len(inputs) == 0 {
		return "engram"
	}
	base := filepath.Base(filepath.Clean(inputs[0]))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "engram"
	}
	return base
}

// usageError marks a flag/argument validation failure discovered
// inside RunE, after SilenceUsage has already been set to true.
// Execute recognizes this type and still maps it to exit code 2,
// the way cobra's own pre-RunE argument validation would have.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// errUsage reports a usage error (exit code 2) from within a RunE
// body, for validation that can't be expressed via cobra's Args.
func errUsage(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
