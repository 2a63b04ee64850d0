// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package events

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a category of hardware event source.
type Kind string

const (
	KindUSB Kind = "usb"
)

// DeviceEvent is one observed hardware change, normalised across sources.
type DeviceEvent struct {
	Kind      Kind
	Action    string // "connected" | "disconnected"
	Name      string
	Path      string
	Timestamp time.Time
}

// FormatMessage renders the event as a short human-readable notification.
func (e *DeviceEvent) FormatMessage() string {
	name := e.Name
	if name == "" {
		name = e.Path
	}
	if name == "" {
		name = "unknown device"
	}
	return fmt.Sprintf("[%s] Device %s: %s", e.Kind, e.Action, name)
}

// EventSource is one monitored hardware subsystem. Start begins
// monitoring and returns the event stream; the channel is closed when the
// source stops.
type EventSource interface {
	Kind() Kind
	Start(ctx context.Context) (<-chan *DeviceEvent, error)
	Stop()
}
