// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/argon2"

	"github.com/aisopod/aisopod/pkg/fileutil"
)

// argon2 parameters. Chosen for an interactive auth path (one
// verification per WS handshake), not a password database under load.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// DeviceToken is the persisted record for one paired operator device.
// The plaintext token is never stored; only its argon2id hash plus the
// salt used to produce it.
type DeviceToken struct {
	DeviceID   string    `toml:"-"`
	Hash       string    `toml:"token_hash"`
	Salt       string    `toml:"token_salt"`
	DeviceName string    `toml:"device_name"`
	Scopes     []string  `toml:"scopes"`
	CreatedAt  time.Time `toml:"created_at"`
	LastUsed   time.Time `toml:"last_used"`
	Revoked    bool      `toml:"revoked"`
}

type deviceTokenFile struct {
	Devices map[string]*DeviceToken `toml:"devices"`
}

// DeviceTokenStore is a file-backed (TOML) device-token repository.
type DeviceTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewDeviceTokenStore opens a device-token store backed by the TOML file
// at path (created on first Issue if absent).
func NewDeviceTokenStore(path string) *DeviceTokenStore {
	return &DeviceTokenStore{path: path}
}

func (s *DeviceTokenStore) load() (*deviceTokenFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &deviceTokenFile{Devices: make(map[string]*DeviceToken)}, nil
		}
		return nil, err
	}
	f := &deviceTokenFile{Devices: make(map[string]*DeviceToken)}
	if len(data) == 0 {
		return f, nil
	}
	if err := toml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse device token store: %w", err)
	}
	if f.Devices == nil {
		f.Devices = make(map[string]*DeviceToken)
	}
	for id, d := range f.Devices {
		d.DeviceID = id
	}
	return f, nil
}

func (s *DeviceTokenStore) save(f *deviceTokenFile) error {
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal device token store: %w", err)
	}
	return fileutil.WriteFileAtomic(s.path, data, 0o600)
}

func hashToken(plaintext string, salt []byte) string {
	sum := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(sum)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomSalt() ([]byte, error) {
	buf := make([]byte, saltLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Issue creates a new device token, returning its plaintext exactly once
// (only the hash is persisted).
func (s *DeviceTokenStore) Issue(deviceName, deviceID string, scopes []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := randomToken()
	if err != nil {
		return "", err
	}
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}

	f, err := s.load()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	f.Devices[deviceID] = &DeviceToken{
		DeviceID:   deviceID,
		Hash:       hashToken(plaintext, salt),
		Salt:       hex.EncodeToString(salt),
		DeviceName: deviceName,
		Scopes:     scopes,
		CreatedAt:  now,
	}
	if err := s.save(f); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Validate checks a candidate plaintext against every non-revoked
// device, updating last_used on the match. Returns nil, nil if no device
// matches.
func (s *DeviceTokenStore) Validate(candidate string) (*DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, d := range f.Devices {
		if d.Revoked {
			continue
		}
		salt, err := hex.DecodeString(d.Salt)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hashToken(candidate, salt)), []byte(d.Hash)) == 1 {
			d.LastUsed = time.Now().UTC()
			if err := s.save(f); err != nil {
				return nil, err
			}
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

// Revoke marks a device's token invalid immediately.
func (s *DeviceTokenStore) Revoke(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	d, ok := f.Devices[deviceID]
	if !ok {
		return fmt.Errorf("unknown device %q", deviceID)
	}
	d.Revoked = true
	return s.save(f)
}

// Refresh issues a new token for an existing device id; the old token
// becomes invalid atomically (same write) because the new hash replaces
// it in place.
func (s *DeviceTokenStore) Refresh(deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	d, ok := f.Devices[deviceID]
	if !ok {
		return "", fmt.Errorf("unknown device %q", deviceID)
	}

	plaintext, err := randomToken()
	if err != nil {
		return "", err
	}
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}
	d.Hash = hashToken(plaintext, salt)
	d.Salt = hex.EncodeToString(salt)
	d.Revoked = false
	if err := s.save(f); err != nil {
		return "", err
	}
	return plaintext, nil
}

// List returns metadata for every device, never hashes.
func (s *DeviceTokenStore) List() ([]DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceToken, 0, len(f.Devices))
	for _, d := range f.Devices {
		cp := *d
		cp.Hash = ""
		cp.Salt = ""
		out = append(out, cp)
	}
	return out, nil
}
