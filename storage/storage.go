// Package storage defines the persistence contract for the vtauth
// authorization server: registered clients, pending authorization codes,
// and refresh tokens. It supports pluggable backends; the module ships
// an in-memory store and a bbolt-backed store.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist. Backends must
// return it (possibly wrapped) from every Get and Delete on a missing
// key so callers can distinguish absence from backend failure.
var ErrNotFound = errors.New("storage: record not found")

// Client is a registered OAuth client.
type Client struct {
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"client_secret_hash"` // bcrypt hash
	ClientName       string    `json:"client_name"`
	RedirectURIs     []string  `json:"redirect_uris"`
	GrantTypes       []string  `json:"grant_types"`
	Scope            string    `json:"scope"` // space-delimited
	CreatedAt        time.Time `json:"created_at"`
}

// AuthorizationCode is a single-use proof that a client/redirect pair
// was authorized. It binds the code to the exact request context,
// including the PKCE challenge when one was supplied.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// RefreshToken is a long-lived renewal credential. Tokens are rotated
// on every use; ExpiresAt is zero when no expiry is configured.
type RefreshToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClientStore persists registered clients.
type ClientStore interface {
	// CreateClient saves a registered client.
	CreateClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration.
	DeleteClient(ctx context.Context, clientID string) error
}

// CodeStore persists pending authorization codes.
//
// DeleteCode is the single-use claim: it must be atomic per key, so of
// two concurrent deletes of the same code exactly one succeeds and the
// other returns ErrNotFound.
type CodeStore interface {
	// CreateCode saves an issued authorization code.
	CreateCode(ctx context.Context, code *AuthorizationCode) error

	// GetCode retrieves an authorization code by its value.
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteCode removes an authorization code, returning ErrNotFound
	// if it was already consumed or never existed.
	DeleteCode(ctx context.Context, code string) error

	// FindExpiredCodes returns the code values of all authorization
	// codes whose expiry is before the given time.
	FindExpiredCodes(ctx context.Context, before time.Time) ([]string, error)
}

// RefreshTokenStore persists refresh tokens. DeleteRefreshToken carries
// the same per-key atomicity requirement as CodeStore.DeleteCode; it is
// what makes rotation safe under concurrent redemption.
type RefreshTokenStore interface {
	// CreateRefreshToken saves a refresh token.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by its value.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token, returning ErrNotFound
	// if it was already rotated away or never existed.
	DeleteRefreshToken(ctx context.Context, token string) error

	// FindExpiredRefreshTokens returns the values of all refresh tokens
	// whose expiry is set and before the given time.
	FindExpiredRefreshTokens(ctx context.Context, before time.Time) ([]string, error)
}

// Store combines all record kinds behind one backend.
type Store interface {
	ClientStore
	CodeStore
	RefreshTokenStore
}
