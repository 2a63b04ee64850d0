package utils

import (
	"fmt"
	"regexp"
)

var skillIdentifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidateSkillIdentifier checks that id is safe to use as both a path
// segment (skill install directory) and a registry/URL slug: ASCII
// alphanumerics, dash, and underscore only, not starting with a
// separator, no "..".
func ValidateSkillIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if !skillIdentifierPattern.MatchString(id) {
		return fmt.Errorf("identifier %q contains disallowed characters", id)
	}
	return nil
}
