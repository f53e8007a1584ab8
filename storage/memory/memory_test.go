package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vtranscribe/vtauth/storage"
)

func TestStore_Clients(t *testing.T) {
	s := New()
	ctx := context.Background()

	client := &storage.Client{
		ClientID:         "client-1",
		ClientSecretHash: "hash",
		ClientName:       "Transcriber",
		RedirectURIs:     []string{"http://localhost:3334/callback"},
		GrantTypes:       []string{"authorization_code"},
		Scope:            "video:transcribe",
		CreatedAt:        time.Now(),
	}
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientName != "Transcriber" {
		t.Errorf("ClientName = %q", got.ClientName)
	}

	// Duplicate registration is rejected.
	if err := s.CreateClient(ctx, client); err == nil {
		t.Error("CreateClient() duplicate expected error")
	}

	if err := s.DeleteClient(ctx, "client-1"); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if _, err := s.GetClient(ctx, "client-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteClient(ctx, "client-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteClient() second call error = %v, want ErrNotFound", err)
	}
}

// Mutating a record after storing it must not affect the stored copy.
func TestStore_CopiesRecords(t *testing.T) {
	s := New()
	ctx := context.Background()

	client := &storage.Client{ClientID: "client-1", ClientName: "original"}
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	client.ClientName = "mutated"

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientName != "original" {
		t.Errorf("stored record mutated through caller pointer: %q", got.ClientName)
	}
}

func TestStore_Codes(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	code := &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		ExpiresAt: now.Add(10 * time.Minute),
	}
	if err := s.CreateCode(ctx, code); err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	got, err := s.GetCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("GetCode() error = %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("ClientID = %q", got.ClientID)
	}

	if err := s.DeleteCode(ctx, "code-1"); err != nil {
		t.Fatalf("DeleteCode() error = %v", err)
	}
	if err := s.DeleteCode(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteCode() second call error = %v, want ErrNotFound", err)
	}
}

// Exactly one of N concurrent deleters of the same code may succeed.
// This is the property single-use redemption rests on.
func TestStore_DeleteCode_AtomicClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateCode(ctx, &storage.AuthorizationCode{Code: "contested"}); err != nil {
		t.Fatalf("CreateCode() error = %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.DeleteCode(ctx, "contested"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful claims = %d, want exactly 1", wins)
	}
}

func TestStore_FindExpiredCodes(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	codes := []*storage.AuthorizationCode{
		{Code: "stale-1", ExpiresAt: now.Add(-time.Minute)},
		{Code: "stale-2", ExpiresAt: now.Add(-time.Hour)},
		{Code: "fresh", ExpiresAt: now.Add(time.Hour)},
	}
	for _, code := range codes {
		if err := s.CreateCode(ctx, code); err != nil {
			t.Fatalf("CreateCode() error = %v", err)
		}
	}

	expired, err := s.FindExpiredCodes(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredCodes() error = %v", err)
	}
	if len(expired) != 2 {
		t.Errorf("expired = %v, want the two stale codes", expired)
	}
	for _, code := range expired {
		if code == "fresh" {
			t.Error("fresh code reported as expired")
		}
	}
}

func TestStore_RefreshTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	token := &storage.RefreshToken{
		Token:     "refresh-1",
		ClientID:  "client-1",
		Scope:     "video:transcribe",
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.CreateRefreshToken(ctx, token); err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	got, err := s.GetRefreshToken(ctx, "refresh-1")
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if got.Scope != "video:transcribe" {
		t.Errorf("Scope = %q", got.Scope)
	}

	if err := s.DeleteRefreshToken(ctx, "refresh-1"); err != nil {
		t.Fatalf("DeleteRefreshToken() error = %v", err)
	}
	if err := s.DeleteRefreshToken(ctx, "refresh-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteRefreshToken() second call error = %v, want ErrNotFound", err)
	}
}

// Tokens without an expiry are permanent and never reported expired.
func TestStore_FindExpiredRefreshTokens_SkipsEternal(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	tokens := []*storage.RefreshToken{
		{Token: "stale", ExpiresAt: now.Add(-time.Minute)},
		{Token: "eternal"},
	}
	for _, token := range tokens {
		if err := s.CreateRefreshToken(ctx, token); err != nil {
			t.Fatalf("CreateRefreshToken() error = %v", err)
		}
	}

	expired, err := s.FindExpiredRefreshTokens(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredRefreshTokens() error = %v", err)
	}
	if len(expired) != 1 || expired[0] != "stale" {
		t.Errorf("expired = %v, want [stale]", expired)
	}
}

func TestStore_RejectsEmptyKeys(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateClient(ctx, &storage.Client{}); err == nil {
		t.Error("CreateClient() with empty ID expected error")
	}
	if err := s.CreateCode(ctx, &storage.AuthorizationCode{}); err == nil {
		t.Error("CreateCode() with empty code expected error")
	}
	if err := s.CreateRefreshToken(ctx, &storage.RefreshToken{}); err == nil {
		t.Error("CreateRefreshToken() with empty token expected error")
	}
}
