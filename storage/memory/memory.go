// Package memory provides an in-memory implementation of the storage
// interfaces. It is suitable for development, testing, and
// single-instance deployments; records do not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vtranscribe/vtauth/storage"
)

// Store is an in-memory implementation of storage.Store.
// All operations take the store lock, which gives the per-key
// atomicity the protocol engine relies on: a delete observes the key
// exactly once, so concurrent redemptions of the same code or refresh
// token cannot both succeed.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshToken
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		refreshTokens: make(map[string]*storage.RefreshToken),
	}
}

// CreateClient saves a registered client.
func (s *Store) CreateClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with non-empty ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("client %q already registered", client.ClientID)
	}
	c := *client
	s.clients[client.ClientID] = &c
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *client
	return &c, nil
}

// DeleteClient removes a client registration.
func (s *Store) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.clients, clientID)
	return nil
}

// CreateCode saves an issued authorization code.
func (s *Store) CreateCode(_ context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code with non-empty value is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[code.Code] = &c
	return nil
}

// GetCode retrieves an authorization code by its value.
func (s *Store) GetCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *record
	return &c, nil
}

// DeleteCode removes an authorization code. The check-and-delete runs
// under the write lock, so at most one caller observes success.
func (s *Store) DeleteCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		return storage.ErrNotFound
	}
	delete(s.codes, code)
	return nil
}

// FindExpiredCodes returns codes whose expiry is before the given time.
func (s *Store) FindExpiredCodes(_ context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	for code, record := range s.codes {
		if record.ExpiresAt.Before(before) {
			expired = append(expired, code)
		}
	}
	return expired, nil
}

// CreateRefreshToken saves a refresh token.
func (s *Store) CreateRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token with non-empty value is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.refreshTokens[token.Token] = &t
	return nil
}

// GetRefreshToken retrieves a refresh token by its value.
func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := *record
	return &t, nil
}

// DeleteRefreshToken removes a refresh token with the same atomic
// claim semantics as DeleteCode.
func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token]; !ok {
		return storage.ErrNotFound
	}
	delete(s.refreshTokens, token)
	return nil
}

// FindExpiredRefreshTokens returns refresh tokens whose expiry is set
// and before the given time. Tokens without an expiry are never
// returned.
func (s *Store) FindExpiredRefreshTokens(_ context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	for token, record := range s.refreshTokens {
		if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(before) {
			expired = append(expired, token)
		}
	}
	return expired, nil
}
