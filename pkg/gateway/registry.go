// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"sync"
	"time"

	"github.com/aisopod/aisopod/pkg/health"
	"github.com/aisopod/aisopod/pkg/logger"
)

// sendQueueSize bounds each client's outbound event channel. A full
// channel means that client is skipped for that event rather than
// stalling the broadcaster.
const sendQueueSize = 16

// Client is one connected operator/node WebSocket session. Lifetime
// spans the duration of the connection; the registry owns the map entry,
// the WS write goroutine owns draining Send.
type Client struct {
	ConnID       string
	Send         chan EventFrame
	RemoteAddr   string
	Role         string
	Scopes       []string
	ConnectedAt  time.Time
	Subscription Subscription

	// Kind distinguishes operator UIs from paired nodes for health
	// counting; everything that isn't explicitly a node counts as an
	// operator.
	Kind string
}

const (
	KindOperator = "operator"
	KindNode     = "node"
)

// Registry is the process-wide, concurrency-safe map of connected
// clients. Inserts/removals are atomic under a single mutex; iteration
// for broadcast takes a point-in-time snapshot so a slow client can never
// hold up the lock for the whole fan-out.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register inserts a new client, keyed by its conn_id.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
}

// Unregister removes a client on disconnect.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
}

// Get looks up a connected client by id.
func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// snapshot returns a point-in-time copy of the connected clients.
func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers evt to every client whose subscription accepts it.
// Delivery is fire-and-forget per client: a client whose Send channel is
// full is skipped for this event, never blocking the broadcaster.
func (r *Registry) Broadcast(evt Event) {
	frame := EventFrame{Type: FrameEvent, Kind: evt.Kind, Data: evt.Data}
	for _, c := range r.snapshot() {
		if !c.Subscription.Accepts(evt) {
			continue
		}
		select {
		case c.Send <- frame:
		default:
			logger.WarnCF("gateway", "dropping broadcast for slow client", map[string]any{
				"conn_id": c.ConnID,
				"kind":    evt.Kind,
			})
		}
	}
}

// HealthSnapshot counts connected clients by kind, for the /health
// endpoint.
func (r *Registry) HealthSnapshot() health.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := health.Snapshot{TotalConnections: len(r.clients)}
	for _, c := range r.clients {
		if c.Kind == KindNode {
			snap.Nodes++
		} else {
			snap.Operators++
		}
	}
	return snap
}

// NewSendChannel allocates a correctly-sized outbound event channel for a
// new client.
func NewSendChannel() chan EventFrame {
	return make(chan EventFrame, sendQueueSize)
}
