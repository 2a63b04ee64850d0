// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package gateway implements the operator-facing WebSocket endpoint:
// protocol version negotiation, authenticated client registration,
// presence, and filtered broadcast.
package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerMajor/ServerMinor are the protocol version this runtime speaks.
const (
	ServerMajor = 1
	ServerMinor = 0
)

// ProtocolVersion is a parsed "major.minor" version string.
type ProtocolVersion struct {
	Major int
	Minor int
}

// DefaultClientVersion is assumed when a client omits the negotiation
// header entirely.
var DefaultClientVersion = ProtocolVersion{Major: 1, Minor: 0}

// ParseProtocolVersion parses a "major.minor" string. An empty string
// yields DefaultClientVersion. Malformed strings are rejected.
func ParseProtocolVersion(raw string) (ProtocolVersion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultClientVersion, nil
	}
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("malformed protocol version %q", raw)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("malformed protocol version %q: %w", raw, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("malformed protocol version %q: %w", raw, err)
	}
	return ProtocolVersion{Major: major, Minor: minor}, nil
}

// Compatible reports whether a client version can talk to this server:
// major versions must match exactly, and the server's minor must be at
// least the client's (the server is a superset of what the client needs).
func Compatible(client ProtocolVersion) bool {
	return client.Major == ServerMajor && ServerMinor >= client.Minor
}

// NegotiateVersion parses and checks a client-supplied header value in
// one step, returning a descriptive error on any violation (malformed
// string or incompatible version); ServeHTTP sends it as the body of a
// 426 response before any upgrade.
func NegotiateVersion(header string) (ProtocolVersion, error) {
	v, err := ParseProtocolVersion(header)
	if err != nil {
		return ProtocolVersion{}, err
	}
	if !Compatible(v) {
		return ProtocolVersion{}, fmt.Errorf("incompatible version: client %d.%d, server %d.%d",
			v.Major, v.Minor, ServerMajor, ServerMinor)
	}
	return v, nil
}
