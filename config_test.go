package oauth

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	config := applyDefaults(&ServerConfig{}, testLogger())

	if config.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, want %v", config.AccessTokenTTL, DefaultAccessTokenTTL)
	}
	if config.AuthCodeTTL != DefaultAuthCodeTTL {
		t.Errorf("AuthCodeTTL = %v, want %v", config.AuthCodeTTL, DefaultAuthCodeTTL)
	}
	if config.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v, want %v", config.RefreshTokenTTL, DefaultRefreshTokenTTL)
	}
	if config.SweepInterval != DefaultSweepInterval {
		t.Errorf("SweepInterval = %v, want %v", config.SweepInterval, DefaultSweepInterval)
	}
	if config.DefaultClientName == "" {
		t.Error("expected a default client name")
	}
}

func TestApplyDefaults_RegistrationScope(t *testing.T) {
	config := applyDefaults(testConfig(), testLogger())

	want := "video:transcribe projects:read projects:write videos:read"
	if config.DefaultRegistrationScope != want {
		t.Errorf("DefaultRegistrationScope = %q, want %q", config.DefaultRegistrationScope, want)
	}

	// An explicit registration scope is kept.
	explicit := testConfig()
	explicit.DefaultRegistrationScope = "videos:read"
	if got := applyDefaults(explicit, testLogger()).DefaultRegistrationScope; got != "videos:read" {
		t.Errorf("DefaultRegistrationScope = %q, want explicit videos:read", got)
	}
}

func TestApplyDefaults_DisableRefreshExpiry(t *testing.T) {
	config := applyDefaults(&ServerConfig{
		RefreshTokenTTL:           7 * 24 * time.Hour,
		DisableRefreshTokenExpiry: true,
	}, testLogger())

	if config.RefreshTokenTTL != 0 {
		t.Errorf("RefreshTokenTTL = %v, want 0 when expiry disabled", config.RefreshTokenTTL)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	config := applyDefaults(&ServerConfig{
		AccessTokenTTL: 5 * time.Minute,
		AuthCodeTTL:    30 * time.Second,
	}, testLogger())

	if config.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v", config.AccessTokenTTL)
	}
	if config.AuthCodeTTL != 30*time.Second {
		t.Errorf("AuthCodeTTL = %v", config.AuthCodeTTL)
	}
}

func TestServerConfig_Validate(t *testing.T) {
	valid := testConfig()
	if err := valid.validate(); err != nil {
		t.Fatalf("validate() on valid config error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"empty issuer", func(c *ServerConfig) { c.Issuer = "" }},
		{"issuer without scheme", func(c *ServerConfig) { c.Issuer = "auth.example.com" }},
		{"issuer without host", func(c *ServerConfig) { c.Issuer = "https://" }},
		{"short key", func(c *ServerConfig) { c.SigningKey = []byte("0123456789abcde") }},
		{"no scopes", func(c *ServerConfig) { c.SupportedScopes = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(config)
			if err := config.validate(); err == nil {
				t.Error("validate() expected error, got nil")
			}
		})
	}
}

func TestServerConfig_DefaultScope(t *testing.T) {
	config := testConfig()
	if got := config.DefaultScope(); got != "video:transcribe" {
		t.Errorf("DefaultScope() = %q, want first supported scope", got)
	}
}
