// Package bolt provides a bbolt-backed implementation of the storage
// interfaces. Records are JSON-encoded under one bucket per record
// kind, which keeps the file format inspectable with standard bbolt
// tooling.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vtranscribe/vtauth/storage"
)

const (
	dbFilePerm    = 0o600
	dbDirPerm     = 0o700
	dbOpenTimeout = 5 * time.Second
)

var (
	clientsBucket       = []byte("clients")
	codesBucket         = []byte("auth_codes")
	refreshTokensBucket = []byte("refresh_tokens")
)

// Store is a durable storage.Store backed by a single bbolt file.
// bbolt serializes write transactions, so the check-and-delete in
// DeleteCode and DeleteRefreshToken is atomic: exactly one of two
// concurrent deleters of the same key succeeds.
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at the given path and ensures
// all buckets exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dbDirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, dbFilePerm, &bolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{clientsBucket, codesBucket, refreshTokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(s *Store, bucket []byte, key string, record any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, record)
	})
}

// del removes key from bucket, failing with ErrNotFound when the key
// is absent. Running inside a single Update transaction makes the
// existence check and the delete one atomic step.
func del(s *Store, bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(key)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

// CreateClient saves a registered client.
func (s *Store) CreateClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with non-empty ID is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(clientsBucket).Get([]byte(client.ClientID)) != nil {
			return fmt.Errorf("client %q already registered", client.ClientID)
		}
		return put(tx, clientsBucket, client.ClientID, client)
	})
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	var client storage.Client
	if err := get(s, clientsBucket, clientID, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// DeleteClient removes a client registration.
func (s *Store) DeleteClient(_ context.Context, clientID string) error {
	return del(s, clientsBucket, clientID)
}

// CreateCode saves an issued authorization code.
func (s *Store) CreateCode(_ context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code with non-empty value is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, codesBucket, code.Code, code)
	})
}

// GetCode retrieves an authorization code by its value.
func (s *Store) GetCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	var record storage.AuthorizationCode
	if err := get(s, codesBucket, code, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteCode removes an authorization code (atomic claim, see del).
func (s *Store) DeleteCode(_ context.Context, code string) error {
	return del(s, codesBucket, code)
}

// FindExpiredCodes scans the code bucket for entries expired before
// the given time.
func (s *Store) FindExpiredCodes(_ context.Context, before time.Time) ([]string, error) {
	var expired []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(codesBucket).ForEach(func(k, v []byte) error {
			var record storage.AuthorizationCode
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("decoding code %q: %w", k, err)
			}
			if record.ExpiresAt.Before(before) {
				expired = append(expired, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CreateRefreshToken saves a refresh token.
func (s *Store) CreateRefreshToken(_ context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token with non-empty value is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, refreshTokensBucket, token.Token, token)
	})
}

// GetRefreshToken retrieves a refresh token by its value.
func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	var record storage.RefreshToken
	if err := get(s, refreshTokensBucket, token, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRefreshToken removes a refresh token (atomic claim, see del).
func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	return del(s, refreshTokensBucket, token)
}

// FindExpiredRefreshTokens scans the refresh token bucket for entries
// with a set expiry before the given time.
func (s *Store) FindExpiredRefreshTokens(_ context.Context, before time.Time) ([]string, error) {
	var expired []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(refreshTokensBucket).ForEach(func(k, v []byte) error {
			var record storage.RefreshToken
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("decoding refresh token %q: %w", k, err)
			}
			if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(before) {
				expired = append(expired, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
