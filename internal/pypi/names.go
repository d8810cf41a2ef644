// Package pypi implements the naming rules of the Python packaging ecosystem:
// project name canonicalization and the distribution filename grammar for
// wheels and source distributions.
package pypi

import (
	"fmt"
	"regexp"
	"strings"
)

// nameSeparators matches runs of the characters that canonicalization
// collapses into a single hyphen.
var nameSeparators = regexp.MustCompile(`[-_.]+`)

// validName matches a legal project name: it must start and end with a letter
// or digit and may contain letters, digits, hyphens, underscores, and periods.
var validName = regexp.MustCompile(`(?i)^([a-z0-9]|[a-z0-9][a-z0-9._-]*[a-z0-9])$`)

// CanonicalizeName normalizes a project name for use as a unique key:
// lower-cased, with every run of `-`, `_`, and `.` collapsed to a single `-`.
// Two spellings that canonicalize identically refer to the same project.
func CanonicalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// ValidName reports whether name is a legal project name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// ValidateName returns an error describing why name is not a legal project
// name, or nil if it is.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if !ValidName(name) {
		return fmt.Errorf("invalid project name %q: names must start and end with a letter or digit and may contain only letters, digits, '.', '_', and '-'", name)
	}
	return nil
}
