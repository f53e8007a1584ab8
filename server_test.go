package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vtranscribe/vtauth/internal/testutil"
	"github.com/vtranscribe/vtauth/storage/memory"
)

var testScopes = []string{"video:transcribe", "projects:read", "projects:write", "videos:read"}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Issuer:              "https://auth.example.com",
		SigningKey:          []byte("test-signing-key-of-decent-size"),
		SupportedScopes:     testScopes,
		DefaultRedirectURIs: []string{"http://localhost:3334/callback"},
		DefaultGrantTypes:   []string{"authorization_code", "client_credentials"},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *testutil.MockTime) {
	t.Helper()

	srv, err := NewServer(memory.New(), testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Stop)

	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	srv.SetTimeFunc(clock.Now)
	return srv, clock
}

// registerTestClient registers a client with the given overrides and
// returns the registration response including the plaintext secret.
func registerTestClient(t *testing.T, srv *Server, req *ClientRegistrationRequest) *ClientRegistrationResponse {
	t.Helper()

	resp, err := srv.RegisterClient(context.Background(), req)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return resp
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(memory.New(), testConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv == nil {
		t.Fatal("NewServer() returned nil")
	}
	srv.Stop()
}

func TestNewServer_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing issuer", func(c *ServerConfig) { c.Issuer = "" }},
		{"relative issuer", func(c *ServerConfig) { c.Issuer = "auth.example.com" }},
		{"short signing key", func(c *ServerConfig) { c.SigningKey = []byte("too-short") }},
		{"no scopes", func(c *ServerConfig) { c.SupportedScopes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(config)
			if _, err := NewServer(memory.New(), config, testLogger()); err == nil {
				t.Error("NewServer() expected error, got nil")
			}
		})
	}

	if _, err := NewServer(nil, testConfig(), testLogger()); err == nil {
		t.Error("NewServer(nil store) expected error, got nil")
	}
	if _, err := NewServer(memory.New(), nil, testLogger()); err == nil {
		t.Error("NewServer(nil config) expected error, got nil")
	}
}

func TestServer_RegisterClient_Defaults(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := registerTestClient(t, srv, &ClientRegistrationRequest{})

	if resp.ClientID == "" {
		t.Error("expected generated client_id")
	}
	if resp.ClientSecret == "" {
		t.Error("expected generated client_secret")
	}
	if resp.ClientName != "MCP Client" {
		t.Errorf("client_name = %q, want default %q", resp.ClientName, "MCP Client")
	}
	if len(resp.RedirectURIs) != 1 || resp.RedirectURIs[0] != "http://localhost:3334/callback" {
		t.Errorf("redirect_uris = %v, want default callback", resp.RedirectURIs)
	}
	if len(resp.GrantTypes) != 2 {
		t.Errorf("grant_types = %v, want defaults", resp.GrantTypes)
	}
	if resp.Scope != "video:transcribe projects:read projects:write videos:read" {
		t.Errorf("scope = %q, want full supported scope set", resp.Scope)
	}
}

// Registration without a scope grants the full supported set. The
// narrower first-scope default belongs to authorize and
// client_credentials requests, not to registration.
func TestServer_RegisterClient_DefaultScopeIsFullSet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := registerTestClient(t, srv, &ClientRegistrationRequest{ClientName: "Defaulted"})

	if resp.Scope != strings.Join(testScopes, " ") {
		t.Errorf("scope = %q, want %q", resp.Scope, strings.Join(testScopes, " "))
	}

	stored, err := srv.GetClient(context.Background(), resp.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if stored.Scope != resp.Scope {
		t.Errorf("stored scope = %q, response scope = %q", stored.Scope, resp.Scope)
	}
}

func TestServer_RegisterClient_SecretNotStoredInPlaintext(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := registerTestClient(t, srv, nil)

	stored, err := srv.GetClient(context.Background(), resp.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if stored.ClientSecretHash == resp.ClientSecret {
		t.Error("client secret stored in plaintext")
	}
	if stored.ClientSecretHash == "" {
		t.Error("expected stored secret hash")
	}
}

func TestServer_RegisterClient_ExplicitFields(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := registerTestClient(t, srv, &ClientRegistrationRequest{
		ClientName:   "Transcriber CLI",
		RedirectURIs: []string{"https://app.example.com/oauth/callback"},
		GrantTypes:   []string{"client_credentials"},
		Scope:        "videos:read",
	})

	if resp.ClientName != "Transcriber CLI" {
		t.Errorf("client_name = %q", resp.ClientName)
	}
	if resp.RedirectURIs[0] != "https://app.example.com/oauth/callback" {
		t.Errorf("redirect_uris = %v", resp.RedirectURIs)
	}
	if resp.Scope != "videos:read" {
		t.Errorf("scope = %q", resp.Scope)
	}
}

func TestServer_AuthenticateClient(t *testing.T) {
	srv, _ := newTestServer(t)
	reg := registerTestClient(t, srv, nil)

	client, err := srv.AuthenticateClient(context.Background(), reg.ClientID, reg.ClientSecret)
	if err != nil {
		t.Fatalf("AuthenticateClient() error = %v", err)
	}
	if client.ClientID != reg.ClientID {
		t.Errorf("client_id = %q, want %q", client.ClientID, reg.ClientID)
	}
}

// Unknown client IDs and wrong secrets must produce byte-identical
// errors so authentication responses cannot be used to probe which
// clients exist.
func TestServer_AuthenticateClient_UniformFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	reg := registerTestClient(t, srv, nil)

	_, unknownErr := srv.AuthenticateClient(context.Background(), "no-such-client", "whatever")
	_, wrongSecretErr := srv.AuthenticateClient(context.Background(), reg.ClientID, "wrong-secret")
	_, missingErr := srv.AuthenticateClient(context.Background(), "", "")

	for name, err := range map[string]error{
		"unknown client": unknownErr,
		"wrong secret":   wrongSecretErr,
		"missing creds":  missingErr,
	} {
		var oauthErr *OAuthError
		if !errors.As(err, &oauthErr) {
			t.Fatalf("%s: expected *OAuthError, got %v", name, err)
		}
		if oauthErr.Code != ErrorCodeInvalidClient {
			t.Errorf("%s: code = %q, want invalid_client", name, oauthErr.Code)
		}
		if oauthErr.Error() != unknownErr.Error() {
			t.Errorf("%s: error %q differs from unknown-client error %q",
				name, oauthErr.Error(), unknownErr.Error())
		}
	}
}
