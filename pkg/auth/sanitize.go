// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// SanitizeInput strips NULs and normalises line endings on operator-
// supplied strings flowing into shell-like sinks. It is idempotent:
// SanitizeInput(SanitizeInput(s)) == SanitizeInput(s).
func SanitizeInput(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// injectionPatterns is a coarse denylist of SQL / shell / XSS fragments.
// This is not a substitute for parameterised queries or the sandbox
// executor — it only catches the obviously hostile case before a string
// reaches a sink that has no better defence of its own.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(union\s+select|drop\s+table|;\s*--|'\s*or\s+'1'\s*=\s*'1)\b`),
	regexp.MustCompile("(?i)<script[^>]*>"),
	regexp.MustCompile(`(?i)\$\(.*\)|` + "`[^`]*`" + `|&&\s*rm\s|\|\s*sh\b`),
}

// ValidateNoInjection rejects strings matching the denylist, returning a
// descriptive error naming which pattern matched.
func ValidateNoInjection(s string) error {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return fmt.Errorf("input rejected: matches denylist pattern %q", p.String())
		}
	}
	return nil
}
