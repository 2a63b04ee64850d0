// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aisopod/aisopod/pkg/auth"
	"github.com/aisopod/aisopod/pkg/logger"
	"github.com/aisopod/aisopod/pkg/routing"
)

// Handler answers one RPC method call. The read loop passes
// context.Background() as ctx, so it carries no deadline; client
// identifies the caller for scope checks and any per-connection state
// the handler needs.
type Handler func(ctx context.Context, client *Client, params json.RawMessage) (any, error)

// Server is the single operator WebSocket endpoint.
type Server struct {
	Registry *Registry

	AuthMode     auth.Mode
	Tokens       []auth.TokenCredential
	Passwords    []auth.PasswordCredential
	DeviceTokens *auth.DeviceTokenStore

	handlers map[string]Handler
	upgrader websocket.Upgrader
}

// NewServer creates a gateway server with an empty method table.
func NewServer(registry *Registry) *Server {
	return &Server{
		Registry: registry,
		handlers: make(map[string]Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// ServeHTTP implements the upgrade handshake: negotiate the protocol
// version from its header, authenticate the credentials, upgrade,
// register the client, send the welcome frame, then run the read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version, err := NegotiateVersion(r.Header.Get("X-Aisopod-Protocol-Version"))
	if err != nil {
		logger.WarnCF("gateway", "rejecting connection with incompatible protocol version", map[string]any{
			"header": r.Header.Get("X-Aisopod-Protocol-Version"),
			"error":  err.Error(),
			"kind":   string(routing.KindIncompatibleVersion),
		})
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}

	info, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := &Client{
		ConnID:       uuid.NewString(),
		Send:         NewSendChannel(),
		RemoteAddr:   r.RemoteAddr,
		Role:         info.Role,
		Scopes:       info.Scopes,
		ConnectedAt:  time.Now().UTC(),
		Subscription: Subscription{},
		Kind:         KindOperator,
	}
	s.Registry.Register(client)
	defer s.Registry.Unregister(client.ConnID)

	logger.InfoCF("gateway", "client connected", map[string]any{
		"conn_id": client.ConnID,
		"role":    client.Role,
		"addr":    client.RemoteAddr,
	})

	welcome := WelcomeFrame{
		Type:            FrameWelcome,
		ProtocolVersion: fmt.Sprintf("%d.%d", version.Major, version.Minor),
		ConnID:          client.ConnID,
		Role:            client.Role,
	}
	if err := conn.WriteJSON(welcome); err != nil {
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go s.writeLoop(conn, client, done)
	s.readLoop(conn, client)
	close(done)
	_ = conn.Close()
}

func (s *Server) writeLoop(conn *websocket.Conn, client *Client, done <-chan struct{}) {
	for {
		select {
		case frame, ok := <-client.Send:
			if !ok {
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, client *Client) {
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := s.dispatch(context.Background(), client, req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, req Request) Response {
	h, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, ErrCodeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method))
	}

	info := auth.AuthInfo{Role: client.Role, Scopes: client.Scopes}
	if err := auth.EnforceScope(req.Method, info); err != nil {
		return errorResponse(req.ID, ErrCodeUnauthorized, err.Error())
	}

	result, err := h(ctx, client, req.Params)
	if err != nil {
		return errorResponse(req.ID, ErrCodeInternal, err.Error())
	}
	return Response{Result: result, ID: req.ID}
}

// authenticate validates the upgrade request's credentials against the
// configured auth mode. ModeNone always succeeds with role "operator"
// and no scopes.
func (s *Server) authenticate(r *http.Request) (auth.AuthInfo, bool) {
	switch s.AuthMode {
	case auth.ModeNone, "":
		return auth.AuthInfo{Role: "operator"}, true

	case auth.ModeToken:
		token := bearerToken(r)
		if token == "" {
			return auth.AuthInfo{}, false
		}
		if info, ok := auth.ValidateToken(token, s.Tokens); ok {
			return info, true
		}
		if s.DeviceTokens != nil {
			dt, err := s.DeviceTokens.Validate(token)
			if err == nil && dt != nil {
				return auth.AuthInfo{Role: "device", Scopes: dt.Scopes}, true
			}
		}
		return auth.AuthInfo{}, false

	case auth.ModePassword:
		username, password, ok := r.BasicAuth()
		if !ok {
			return auth.AuthInfo{}, false
		}
		return auth.ValidatePassword(username, password, s.Passwords)

	default:
		return auth.AuthInfo{}, false
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
