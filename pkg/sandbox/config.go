// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package sandbox

import "time"

// WorkspaceAccess controls whether and how the host workspace directory is
// mounted into a sandbox container.
type WorkspaceAccess string

const (
	AccessNone      WorkspaceAccess = "none"
	AccessReadOnly  WorkspaceAccess = "read_only"
	AccessReadWrite WorkspaceAccess = "read_write"
)

// Runtime selects the container engine the executor talks to. Podman is
// addressed through its Docker-compatible API socket, so both runtimes share
// the same client wiring; only the default socket path differs.
type Runtime string

const (
	RuntimeDocker Runtime = "docker"
	RuntimePodman Runtime = "podman"
)

// Config describes one sandbox profile: the image to run, how much of the
// workspace it can see, and the resource caps applied to every container it
// creates.
type Config struct {
	Enabled         bool
	Image           string
	WorkspaceAccess WorkspaceAccess
	NetworkAccess   bool
	MemoryLimitMB   int64
	CPULimit        float64
	User            string
	Timeout         time.Duration
	Runtime         Runtime

	// Host overrides the engine socket (e.g. "unix:///var/run/docker.sock").
	// Empty means let the client library detect it from the environment.
	Host string
}

// DefaultHost returns the conventional socket path for the configured
// runtime when Host is unset.
func (c Config) DefaultHost() string {
	if c.Host != "" {
		return c.Host
	}
	switch c.Runtime {
	case RuntimePodman:
		return "unix:///run/podman/podman.sock"
	default:
		return "unix:///var/run/docker.sock"
	}
}
