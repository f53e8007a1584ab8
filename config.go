package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// MinSigningKeyLength is the minimum accepted signing key size in
// bytes. Shorter keys fail server construction rather than silently
// degrading security.
const MinSigningKeyLength = 16

// Defaults applied by NewServer when the corresponding field is unset.
const (
	DefaultAccessTokenTTL  = 60 * time.Minute
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultSweepInterval   = time.Minute
)

// ServerConfig holds the authorization server configuration.
type ServerConfig struct {
	// Issuer is the server's canonical URL, used as both issuer and
	// audience of every signed access credential. Required.
	Issuer string

	// SigningKey is the symmetric key for access credential signing.
	// Must be at least MinSigningKeyLength bytes. Required.
	SigningKey []byte

	// AccessTokenTTL is how long access credentials are valid.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// AuthCodeTTL is how long authorization codes are redeemable.
	// Default: 10 minutes.
	AuthCodeTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens remain valid. Zero
	// means tokens never expire, matching historical deployments, but
	// the default is 30 days.
	RefreshTokenTTL time.Duration

	// DisableRefreshTokenExpiry turns off refresh token expiry
	// entirely. Overrides RefreshTokenTTL.
	DisableRefreshTokenExpiry bool

	// SupportedScopes lists the scopes this server understands. The
	// first entry is the default scope for requests that omit one.
	SupportedScopes []string

	// DefaultRegistrationScope is granted to registrations that omit
	// scope. Defaults to the full supported scope set; individual
	// grants still narrow to the per-request default when a request
	// omits scope.
	DefaultRegistrationScope string

	// DefaultRedirectURIs are applied to registrations that omit
	// redirect_uris.
	DefaultRedirectURIs []string

	// DefaultGrantTypes are applied to registrations that omit
	// grant_types.
	DefaultGrantTypes []string

	// DefaultClientName is applied to registrations that omit
	// client_name.
	DefaultClientName string

	// SweepInterval is how often the background sweeper removes
	// expired codes and refresh tokens. Default: 1 minute.
	SweepInterval time.Duration
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(config *ServerConfig, logger *slog.Logger) *ServerConfig {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.AuthCodeTTL == 0 {
		config.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.DisableRefreshTokenExpiry {
		config.RefreshTokenTTL = 0
		logger.Warn("Refresh token expiry is DISABLED",
			"risk", "stolen refresh tokens remain valid until explicitly rotated",
			"recommendation", "set RefreshTokenTTL instead")
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.DefaultClientName == "" {
		config.DefaultClientName = "MCP Client"
	}
	if config.DefaultRegistrationScope == "" {
		config.DefaultRegistrationScope = strings.Join(config.SupportedScopes, " ")
	}
	return config
}

// validate checks the fields that have no safe default. A server must
// not start with a missing issuer or a weak signing key.
func (c *ServerConfig) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer URL is required")
	}
	parsed, err := url.Parse(c.Issuer)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL: %q", c.Issuer)
	}
	if len(c.SigningKey) < MinSigningKeyLength {
		return fmt.Errorf("signing key must be at least %d bytes, got %d",
			MinSigningKeyLength, len(c.SigningKey))
	}
	if len(c.SupportedScopes) == 0 {
		return fmt.Errorf("at least one supported scope is required")
	}
	return nil
}

// DefaultScope returns the scope granted when a request omits one:
// the first configured supported scope.
func (c *ServerConfig) DefaultScope() string {
	return c.SupportedScopes[0]
}
