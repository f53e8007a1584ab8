package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/vtranscribe/vtauth/instrumentation"
	"github.com/vtranscribe/vtauth/security"
	"github.com/vtranscribe/vtauth/storage"
)

// Server implements the OAuth 2.1 authorization server protocol
// engine: dynamic client registration, the three grant flows, and
// expiry sweeping. It is stateless between requests; all protocol
// state lives in the storage backend.
type Server struct {
	store   storage.Store
	signer  *Signer
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	config  *ServerConfig

	// now is the time source for code and refresh token expiry.
	// Overridable in tests via SetTimeFunc.
	now func() time.Time

	stopSweeper chan struct{}
}

// NewServer creates a new authorization server. It fails when the
// configuration is unusable (missing issuer, weak signing key, no
// scopes) so misconfiguration surfaces at startup.
func NewServer(store storage.Store, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	signer, err := NewSigner(config.SigningKey, config.Issuer)
	if err != nil {
		return nil, err
	}

	return &Server{
		store:  store,
		signer: signer,
		logger: logger,
		config: config,
		now:    time.Now,
	}, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetMetrics sets the metric instruments.
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.metrics = m
}

// SetTimeFunc overrides the time source for the server and its signer.
func (s *Server) SetTimeFunc(now func() time.Time) {
	s.now = now
	s.signer.SetTimeFunc(now)
}

// Signer exposes the access credential signer so protected resources
// can verify bearer credentials without a store lookup.
func (s *Server) Signer() *Signer {
	return s.signer
}

// Config returns the effective configuration after defaults.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// newOpaqueToken generates a cryptographically secure random token:
// 32 bytes of entropy, base64url-encoded. Used for client IDs, client
// secrets, authorization codes, and refresh tokens.
func newOpaqueToken() string {
	return oauth2.GenerateVerifier()
}

// storageFault logs a backend failure and returns the retryable
// server_error. The backend error never reaches the wire.
func (s *Server) storageFault(op string, err error) *OAuthError {
	s.logger.Error("Storage operation failed", "op", op, "error", err)
	return ErrStorageUnavailable(fmt.Sprintf("storage failure during %s", op))
}

// RegisterClient registers a new OAuth client. Omitted fields fall
// back to server configuration defaults. The returned response is the
// only place the plaintext secret appears; at rest the secret is kept
// as a bcrypt hash.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest) (*ClientRegistrationResponse, error) {
	if req == nil {
		req = &ClientRegistrationRequest{}
	}

	name := req.ClientName
	if name == "" {
		name = s.config.DefaultClientName
	}
	redirectURIs := req.RedirectURIs
	if len(redirectURIs) == 0 {
		redirectURIs = s.config.DefaultRedirectURIs
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = s.config.DefaultGrantTypes
	}
	// Registration defaults to the full supported scope set; the
	// narrower per-request default applies only when an individual
	// grant omits scope.
	scope := req.Scope
	if scope == "" {
		scope = s.config.DefaultRegistrationScope
	}

	clientID := newOpaqueToken()
	clientSecret := newOpaqueToken()

	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing client secret: %w", err)
	}

	client := &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		ClientName:       name,
		RedirectURIs:     redirectURIs,
		GrantTypes:       grantTypes,
		Scope:            scope,
		CreatedAt:        s.now(),
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, s.storageFault("client registration", err)
	}

	if s.auditor != nil {
		s.auditor.LogClientRegistered(clientID, name)
	}
	if s.metrics != nil {
		s.metrics.AddClientRegistered(ctx)
	}
	s.logger.Info("Registered new OAuth client",
		"client_id", clientID,
		"client_name", name,
		"grant_types", grantTypes)

	return &ClientRegistrationResponse{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientName:   name,
		RedirectURIs: redirectURIs,
		GrantTypes:   grantTypes,
		Scope:        scope,
	}, nil
}

// GetClient retrieves a registered client by ID.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, s.storageFault("client lookup", err)
	}
	return client, nil
}

// AuthenticateClient verifies a client_id/client_secret pair. Unknown
// IDs and wrong secrets yield the identical invalid_client error so
// neither the response nor its shape leaks client existence.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	fail := func(reason string) (*storage.Client, error) {
		if s.auditor != nil {
			s.auditor.LogAuthFailure(clientID, reason)
		}
		return nil, ErrInvalidClient("client authentication failed")
	}

	if clientID == "" || clientSecret == "" {
		return fail("missing_client_credentials")
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail("unknown_client")
		}
		return nil, s.storageFault("client authentication", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return fail("bad_client_secret")
	}

	return client, nil
}
