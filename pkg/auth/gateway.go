// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aisopod/aisopod/pkg/config"
)

// Mode selects the gateway's auth posture. Mutually exclusive per
// deployment.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeToken    Mode = "token"
	ModePassword Mode = "password"
)

// TokenCredential is one static bearer-token entry.
type TokenCredential struct {
	Token  string
	Role   string
	Scopes []string
}

// PasswordCredential is one static username/password entry. Password is
// stored pre-hashed (argon2id) plus the salt it was hashed with. FromConfig
// reads both from a pre-hashed "salt:hash" config entry, so no plaintext
// password passes through config loading.
type PasswordCredential struct {
	Username string
	Hash     string
	Salt     []byte
	Role     string
	Scopes   []string
}

// AuthInfo is what a successful validation yields.
type AuthInfo struct {
	Role   string
	Scopes []string
}

// HashPassword derives an argon2id hash for a plaintext password using a
// fresh random salt, for use when building PasswordCredential entries
// from config.
func HashPassword(plaintext string) (hash string, salt []byte, err error) {
	s, err := randomSalt()
	if err != nil {
		return "", nil, err
	}
	return hashToken(plaintext, s), s, nil
}

// ValidateToken compares a bearer token against a static credential
// table. Pure function: it never mutates state, only DeviceTokenStore
// does (for dynamically issued device tokens).
func ValidateToken(candidate string, table []TokenCredential) (AuthInfo, bool) {
	for _, c := range table {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(c.Token)) == 1 {
			return AuthInfo{Role: c.Role, Scopes: c.Scopes}, true
		}
	}
	return AuthInfo{}, false
}

// ValidatePassword compares a username/password pair against a salted
// password-hash table.
func ValidatePassword(username, password string, table []PasswordCredential) (AuthInfo, bool) {
	for _, c := range table {
		if c.Username != username {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hashToken(password, c.Salt)), []byte(c.Hash)) == 1 {
			return AuthInfo{Role: c.Role, Scopes: c.Scopes}, true
		}
		return AuthInfo{}, false
	}
	return AuthInfo{}, false
}

// HasScope reports whether info carries the required scope.
func (info AuthInfo) HasScope(scope string) bool {
	for _, s := range info.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// requiredScopes maps gateway RPC methods to the scope that guards them.
// Methods absent from this table require no scope beyond a successful
// handshake.
var requiredScopes = map[string]string{
	"chat.send":         "chat:write",
	"node.pair.request": "node:pair",
	"node.describe":     "node:admin",
	"node.invoke":       "node:invoke",
	"device.issue":      "device:admin",
	"device.revoke":     "device:admin",
	"device.refresh":    "device:admin",
	"device.list":       "device:admin",
}

// RequiredScope returns the scope guarding an RPC method, and whether the
// method is scope-gated at all.
func RequiredScope(method string) (string, bool) {
	scope, ok := requiredScopes[method]
	return scope, ok
}

// FromConfig builds the gateway's auth mode and credential tables from the
// loaded config. Password hashes are stored as "<saltHex>:<hash>" in
// config.AuthPasswordEntry.PasswordHash; this is the single place that
// format is parsed.
func FromConfig(cfg config.AuthConfig) (Mode, []TokenCredential, []PasswordCredential, error) {
	mode := Mode(cfg.GatewayMode)
	switch mode {
	case ModeToken, ModePassword:
	case "":
		mode = ModeNone
	default:
		return "", nil, nil, fmt.Errorf("auth: unknown gateway_mode %q", cfg.GatewayMode)
	}

	tokens := make([]TokenCredential, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, TokenCredential{Token: t.Token, Role: t.Role, Scopes: t.Scopes})
	}

	passwords := make([]PasswordCredential, 0, len(cfg.Passwords))
	for _, p := range cfg.Passwords {
		saltHex, hash, ok := strings.Cut(p.PasswordHash, ":")
		if !ok {
			return "", nil, nil, fmt.Errorf("auth: password entry for %q is not in \"salt:hash\" form", p.Username)
		}
		salt, err := hex.DecodeString(saltHex)
		if err != nil {
			return "", nil, nil, fmt.Errorf("auth: password entry for %q has invalid salt: %w", p.Username, err)
		}
		passwords = append(passwords, PasswordCredential{
			Username: p.Username,
			Hash:     hash,
			Salt:     salt,
			Role:     p.Role,
			Scopes:   p.Scopes,
		})
	}

	return mode, tokens, passwords, nil
}

// EnforceScope returns an error if info lacks the scope required by
// method; nil if the method is open or info carries the scope.
func EnforceScope(method string, info AuthInfo) error {
	scope, gated := RequiredScope(method)
	if !gated {
		return nil
	}
	if !info.HasScope(scope) {
		return fmt.Errorf("method %q requires scope %q", method, scope)
	}
	return nil
}
