// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aisopod/aisopod/pkg/devices/events"
)

const (
	usbSysfsPath    = "/sys/bus/usb/devices"
	usbPollInterval = 2 * time.Second
)

// USBMonitor watches /sys/bus/usb/devices for hotplug by polling the
// directory listing. Linux only; Start returns an error elsewhere.
type USBMonitor struct {
	cancel context.CancelFunc
}

func NewUSBMonitor() *USBMonitor {
	return &USBMonitor{}
}

func (m *USBMonitor) Kind() events.Kind {
	return events.KindUSB
}

func (m *USBMonitor) Start(ctx context.Context) (<-chan *events.DeviceEvent, error) {
	if runtime.GOOS != "linux" {
		return nil, fmt.Errorf("usb monitoring is only supported on linux")
	}
	if _, err := os.Stat(usbSysfsPath); err != nil {
		return nil, fmt.Errorf("usb sysfs not available: %w", err)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	ch := make(chan *events.DeviceEvent, 8)
	go m.poll(ctx, ch)
	return ch, nil
}

func (m *USBMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *USBMonitor) poll(ctx context.Context, ch chan<- *events.DeviceEvent) {
	defer close(ch)

	known := snapshotUSBDevices()
	ticker := time.NewTicker(usbPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current := snapshotUSBDevices()

		for id, name := range current {
			if _, ok := known[id]; !ok {
				ch <- &events.DeviceEvent{
					Kind:      events.KindUSB,
					Action:    "connected",
					Name:      name,
					Path:      filepath.Join(usbSysfsPath, id),
					Timestamp: time.Now().UTC(),
				}
			}
		}
		for id, name := range known {
			if _, ok := current[id]; !ok {
				ch <- &events.DeviceEvent{
					Kind:      events.KindUSB,
					Action:    "disconnected",
					Name:      name,
					Path:      filepath.Join(usbSysfsPath, id),
					Timestamp: time.Now().UTC(),
				}
			}
		}

		known = current
	}
}

// snapshotUSBDevices maps device directory names to product names,
// skipping interface entries (those contain ':').
func snapshotUSBDevices() map[string]string {
	devices := make(map[string]string)

	entries, err := os.ReadDir(usbSysfsPath)
	if err != nil {
		return devices
	}

	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, ":") || strings.HasPrefix(name, "usb") {
			continue
		}
		product := ""
		if data, err := os.ReadFile(filepath.Join(usbSysfsPath, name, "product")); err == nil {
			product = strings.TrimSpace(string(data))
		}
		devices[name] = product
	}
	return devices
}
