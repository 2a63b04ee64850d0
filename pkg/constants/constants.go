// Package constants holds small cross-package identifiers that don't belong
// to any single subsystem.
package constants

// internalChannels are synthetic channel names used for system-generated
// traffic (cron jobs, heartbeats, subagent callbacks) that never correspond
// to a real external platform adapter.
var internalChannels = map[string]bool{
	"cli":       true,
	"cron":      true,
	"heartbeat": true,
	"subagent":  true,
	"system":    true,
	"gateway":   true,
}

// IsInternalChannel reports whether name refers to a synthetic, internal
// channel rather than an external messaging platform.
func IsInternalChannel(name string) bool {
	return internalChannels[name]
}
