// Package config loads process configuration from the environment for
// the vtauthd binary.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	oauthserver "github.com/vtranscribe/vtauth"
)

// Config holds all environment-based configuration for vtauthd.
type Config struct {
	// ServerURL is the canonical public URL of this server, used as
	// JWT issuer and audience. Required.
	ServerURL string `env:"VTAUTH_SERVER_URL"`

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `env:"VTAUTH_LISTEN_ADDR" envDefault:":8000"`

	// SigningKey is the symmetric JWT signing key, at least 16 bytes.
	// When empty a random key is generated at startup; that key is
	// process-local, so every issued credential is invalidated on
	// restart.
	SigningKey string `env:"VTAUTH_SIGNING_KEY"`

	// AccessTokenTTLMinutes is the access credential lifetime.
	AccessTokenTTLMinutes int `env:"VTAUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`

	// AuthCodeTTLMinutes is the authorization code lifetime.
	AuthCodeTTLMinutes int `env:"VTAUTH_AUTH_CODE_TTL_MINUTES" envDefault:"10"`

	// RefreshTokenTTLDays is the refresh token lifetime. Zero disables
	// refresh token expiry.
	RefreshTokenTTLDays int `env:"VTAUTH_REFRESH_TOKEN_TTL_DAYS" envDefault:"30"`

	// SupportedScopes is the space-delimited scope set this server
	// understands; the first entry is the default grant.
	SupportedScopes string `env:"VTAUTH_SUPPORTED_SCOPES" envDefault:"video:transcribe projects:read projects:write videos:read"`

	// DefaultRedirectURIs are applied to registrations that omit
	// redirect_uris.
	DefaultRedirectURIs []string `env:"VTAUTH_DEFAULT_REDIRECT_URIS" envSeparator:"," envDefault:"http://localhost:3334/callback"`

	// DefaultGrantTypes are applied to registrations that omit
	// grant_types.
	DefaultGrantTypes []string `env:"VTAUTH_DEFAULT_GRANT_TYPES" envSeparator:"," envDefault:"authorization_code,client_credentials"`

	// DatabasePath is the bbolt database file. Empty selects the
	// in-memory store (state lost on restart).
	DatabasePath string `env:"VTAUTH_DB_PATH"`

	// RegistrationRatePerSecond limits client registrations per source
	// IP. Zero disables limiting.
	RegistrationRatePerSecond int `env:"VTAUTH_REGISTRATION_RATE" envDefault:"0"`

	// RegistrationBurst is the burst for the registration limiter.
	RegistrationBurst int `env:"VTAUTH_REGISTRATION_BURST" envDefault:"5"`

	// AuditLogging enables security audit logging.
	AuditLogging bool `env:"VTAUTH_AUDIT_LOGGING" envDefault:"true"`

	// Environment selects log formatting: "development" for text,
	// anything else for JSON.
	Environment string `env:"VTAUTH_ENVIRONMENT" envDefault:"development"`
}

// Load reads .env (when present) and the process environment, applies
// defaults, and validates. A missing server URL or a short signing key
// is a startup failure, not a warning.
func Load(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// .env is optional; absence is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("VTAUTH_SERVER_URL is required")
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.SigningKey == "" {
		cfg.SigningKey = oauth2.GenerateVerifier()
		logger.Warn("VTAUTH_SIGNING_KEY not set, generated a process-local key",
			"consequence", "all issued credentials are invalidated on restart")
	}
	if len(cfg.SigningKey) < oauthserver.MinSigningKeyLength {
		return nil, fmt.Errorf("VTAUTH_SIGNING_KEY must be at least %d bytes, got %d",
			oauthserver.MinSigningKeyLength, len(cfg.SigningKey))
	}

	if len(strings.Fields(cfg.SupportedScopes)) == 0 {
		return nil, fmt.Errorf("VTAUTH_SUPPORTED_SCOPES must name at least one scope")
	}

	return cfg, nil
}

// ServerConfig translates the environment configuration into the
// library configuration.
func (c *Config) ServerConfig() *oauthserver.ServerConfig {
	return &oauthserver.ServerConfig{
		Issuer:                    c.ServerURL,
		SigningKey:                []byte(c.SigningKey),
		AccessTokenTTL:            time.Duration(c.AccessTokenTTLMinutes) * time.Minute,
		AuthCodeTTL:               time.Duration(c.AuthCodeTTLMinutes) * time.Minute,
		RefreshTokenTTL:           time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour,
		DisableRefreshTokenExpiry: c.RefreshTokenTTLDays == 0,
		SupportedScopes:           strings.Fields(c.SupportedScopes),
		DefaultRedirectURIs:       c.DefaultRedirectURIs,
		DefaultGrantTypes:         c.DefaultGrantTypes,
	}
}

// SigningKeyFingerprint returns a short hash of the signing key for
// startup logs, never key material itself.
func (c *Config) SigningKeyFingerprint() string {
	sum := sha256.Sum256([]byte(c.SigningKey))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:12]
}
