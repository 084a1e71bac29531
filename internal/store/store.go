// Package store holds the durable session layout: the PKCE verifier that must survive the
// authorization redirect and the current user credential.
//
// The [KV] backend only stores what it is given. Expiry is written as an already computed
// epoch-millisecond instant and is never interpreted here beyond decoding it.
package store

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/desertthunder/deemusic/internal/models"
)

// Persisted keys. All are app-private and unversioned.
const (
	KeyCodeVerifier = "code_verifier"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "access_token_expiry"
)

// KV is a synchronous durable key/value store.
//
// Get reports absent for missing keys and for any backend failure.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Session reads and writes the persisted session layout over a [KV].
type Session struct {
	kv KV
}

// NewSession wraps kv with the session layout.
func NewSession(kv KV) *Session {
	return &Session{kv: kv}
}

// SaveVerifier persists the verifier of an in-flight login, replacing any orphaned one.
func (s *Session) SaveVerifier(verifier string) error {
	if err := s.kv.Set(KeyCodeVerifier, verifier); err != nil {
		return fmt.Errorf("failed to persist code verifier: %w", err)
	}
	return nil
}

// Verifier returns the persisted verifier, if any.
func (s *Session) Verifier() (string, bool) {
	v, ok := s.kv.Get(KeyCodeVerifier)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ClearVerifier deletes the persisted verifier.
func (s *Session) ClearVerifier() error {
	return s.kv.Delete(KeyCodeVerifier)
}

// SaveCredential persists all three credential keys.
func (s *Session) SaveCredential(c models.Credential) error {
	pairs := [][2]string{
		{KeyAccessToken, c.AccessToken},
		{KeyRefreshToken, c.RefreshToken},
		{KeyTokenExpiry, strconv.FormatInt(c.ExpiresAt.UnixMilli(), 10)},
	}
	for _, p := range pairs {
		if err := s.kv.Set(p[0], p[1]); err != nil {
			return fmt.Errorf("failed to persist %s: %w", p[0], err)
		}
	}
	return nil
}

// Credential decodes the persisted credential. A missing access token or a missing or
// malformed expiry reads as absent.
func (s *Session) Credential() (models.Credential, bool) {
	at, ok := s.kv.Get(KeyAccessToken)
	if !ok || at == "" {
		return models.Credential{}, false
	}

	raw, ok := s.kv.Get(KeyTokenExpiry)
	if !ok {
		return models.Credential{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return models.Credential{}, false
	}

	rt, _ := s.kv.Get(KeyRefreshToken)
	return models.Credential{
		AccessToken:  at,
		RefreshToken: rt,
		ExpiresAt:    time.UnixMilli(ms),
	}, true
}

// ClearCredential deletes the persisted credential keys.
func (s *Session) ClearCredential() error {
	if err := s.kv.Delete(KeyAccessToken, KeyRefreshToken, KeyTokenExpiry); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Memory is an in-process [KV]. It does not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty [Memory] store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
