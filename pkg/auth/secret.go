// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package auth

// Secret wraps a sensitive string so it can travel through structs and
// logs without leaking. Its String/GoString always render "[redacted]";
// only Reveal returns the underlying value, and callers should only ever
// call it at the point of use (an HTTP header, a hash comparison).
type Secret string

func (Secret) String() string   { return "[redacted]" }
func (Secret) GoString() string { return "[redacted]" }

// Reveal returns the underlying value. Named deliberately loudly so a
// reviewer can grep for every place a secret actually leaves its wrapper.
func (s Secret) Reveal() string { return string(s) }

// Equal does a plain string comparison; it is not constant-time. The
// gateway's own credential checks in gateway.go and devicetoken.go do not
// go through it; they use crypto/subtle.
func (s Secret) Equal(other string) bool {
	return string(s) == other
}
