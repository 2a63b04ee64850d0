// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package health exposes the process-wide health/readiness HTTP surface.
// It is deliberately decoupled from the gateway's client registry: the
// registry supplies a snapshot function, health only renders it.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Snapshot is the counted state health.Server reports at /health.
type Snapshot struct {
	TotalConnections int `json:"total_connections"`
	Operators        int `json:"operators"`
	Nodes            int `json:"nodes"`
}

// Server renders health/readiness endpoints onto a shared HTTP mux. It
// does not itself listen; channels.Manager owns the *http.Server and
// calls RegisterOnMux.
type Server struct {
	host     string
	port     int
	snapshot func() Snapshot
}

// NewServer creates a health server for the given listen address. The
// address is informational (included in the startup log); the actual
// listener is owned by the caller's HTTP server.
func NewServer(host string, port int) *Server {
	return &Server{host: host, port: port}
}

// SetSnapshotProvider installs the function used to answer /health.
// Until set, /health reports all-zero counts.
func (s *Server) SetSnapshotProvider(f func() Snapshot) {
	s.snapshot = f
}

// Addr returns the configured host:port, for log messages.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// RegisterOnMux installs /health and /ready handlers.
func (s *Server) RegisterOnMux(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{}
	if s.snapshot != nil {
		snap = s.snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
