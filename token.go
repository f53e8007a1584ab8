package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/vtranscribe/vtauth/storage"
)

// GrantType is the closed set of grant flows this server dispatches
// on. Anything else is rejected with unsupported_grant_type rather
// than falling through open-ended string matching.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

const tokenTypeBearer = "Bearer"

// TokenRequest carries the form parameters of a POST /token request.
// Only the fields relevant to the requested grant type are consulted.
type TokenRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string

	// authorization_code grant
	Code         string
	RedirectURI  string
	CodeVerifier string

	// client_credentials grant
	Scope string

	// refresh_token grant
	RefreshToken string
}

// Token authenticates the client and executes the requested grant
// flow. All three flows share the client authentication precondition;
// its failure is reported as invalid_client regardless of cause.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, client, req)
	case GrantTypeClientCredentials:
		return s.grantClientCredentials(ctx, client, req)
	case GrantTypeRefreshToken:
		return s.rotateRefreshToken(ctx, client, req)
	default:
		return nil, ErrUnsupportedGrantType(string(req.GrantType))
	}
}

// exchangeAuthorizationCode redeems a single-use authorization code
// for an access credential plus a refresh token.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	code, err := s.store.GetCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.auditor != nil {
				s.auditor.LogAuthFailure(client.ClientID, "invalid_authorization_code")
			}
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, s.storageFault("authorization code lookup", err)
	}

	// Expired codes are removed immediately so they never linger in a
	// redeemable state, then fail exactly like unknown codes.
	if s.now().After(code.ExpiresAt) {
		_ = s.store.DeleteCode(ctx, req.Code)
		if s.auditor != nil {
			s.auditor.LogAuthFailure(client.ClientID, "authorization_code_expired")
		}
		return nil, ErrInvalidGrant("authorization code expired")
	}

	// The code is bound to the client and redirect URI of the original
	// authorization request.
	if code.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("invalid authorization code")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match authorization request")
	}

	if code.CodeChallenge != "" {
		if err := validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
			if s.auditor != nil {
				s.auditor.LogPKCEFailure(client.ClientID)
			}
			if s.metrics != nil {
				s.metrics.AddPKCEValidationFailed(ctx)
			}
			return nil, err
		}
	}

	// Single-use claim: the delete is the atomic step. Losing the race
	// to a concurrent exchange is indistinguishable from presenting an
	// unknown code.
	if err := s.store.DeleteCode(ctx, req.Code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, s.storageFault("authorization code claim", err)
	}

	resp, err := s.issueTokens(ctx, client.ClientID, code.Scope, true)
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenIssued(client.ClientID, code.Scope, string(GrantTypeAuthorizationCode))
	}
	if s.metrics != nil {
		s.metrics.AddTokenGranted(ctx, string(GrantTypeAuthorizationCode))
	}
	return resp, nil
}

// grantClientCredentials mints an access credential directly for the
// authenticated client. No refresh token is issued: machine clients
// re-authenticate on every renewal.
func (s *Server) grantClientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	scope := req.Scope
	if scope == "" {
		scope = s.config.DefaultScope()
	}
	if err := s.validateScope(scope); err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, client.ClientID, scope, false)
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenIssued(client.ClientID, scope, string(GrantTypeClientCredentials))
	}
	if s.metrics != nil {
		s.metrics.AddTokenGranted(ctx, string(GrantTypeClientCredentials))
	}
	return resp, nil
}

// rotateRefreshToken redeems a refresh token for a new access
// credential and a new refresh token. The presented token is always
// invalidated: rotation, never reuse.
func (s *Server) rotateRefreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	token, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.auditor != nil {
				s.auditor.LogAuthFailure(client.ClientID, "invalid_refresh_token")
			}
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, s.storageFault("refresh token lookup", err)
	}

	// A token issued to client A must never be redeemable by client B,
	// even if B somehow obtained it.
	if token.ClientID != client.ClientID {
		if s.auditor != nil {
			s.auditor.LogAuthFailure(client.ClientID, "refresh_token_client_mismatch")
		}
		return nil, ErrInvalidGrant("invalid refresh token")
	}

	if !token.ExpiresAt.IsZero() && s.now().After(token.ExpiresAt) {
		_ = s.store.DeleteRefreshToken(ctx, req.RefreshToken)
		return nil, ErrInvalidGrant("refresh token expired")
	}

	// Rotation claim: same atomicity argument as the code exchange.
	if err := s.store.DeleteRefreshToken(ctx, req.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, s.storageFault("refresh token rotation", err)
	}

	resp, err := s.issueTokens(ctx, client.ClientID, token.Scope, true)
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenRefreshed(client.ClientID, token.Scope)
	}
	if s.metrics != nil {
		s.metrics.AddTokenGranted(ctx, string(GrantTypeRefreshToken))
	}
	return resp, nil
}

// issueTokens mints the access credential (and, when withRefresh is
// set, a persisted refresh token) over the granted scope.
func (s *Server) issueTokens(ctx context.Context, clientID, scope string, withRefresh bool) (*TokenResponse, error) {
	accessToken, err := s.signer.Issue(clientID, strings.Fields(scope), s.config.AccessTokenTTL)
	if err != nil {
		s.logger.Error("Access credential signing failed", "error", err)
		return nil, NewOAuthError(ErrorCodeServerError, "failed to issue access credential", http.StatusInternalServerError)
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.config.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if withRefresh {
		now := s.now()
		refresh := &storage.RefreshToken{
			Token:     newOpaqueToken(),
			ClientID:  clientID,
			Scope:     scope,
			CreatedAt: now,
		}
		if s.config.RefreshTokenTTL > 0 {
			refresh.ExpiresAt = now.Add(s.config.RefreshTokenTTL)
		}
		if err := s.store.CreateRefreshToken(ctx, refresh); err != nil {
			return nil, s.storageFault("refresh token issuance", err)
		}
		resp.RefreshToken = refresh.Token
	}

	return resp, nil
}

// validateScope checks each requested scope against the configured
// supported set.
func (s *Server) validateScope(scope string) error {
	for _, requested := range strings.Fields(scope) {
		supported := false
		for _, allowed := range s.config.SupportedScopes {
			if requested == allowed {
				supported = true
				break
			}
		}
		if !supported {
			return ErrInvalidScope("unsupported scope: " + requested)
		}
	}
	return nil
}

// validatePKCE checks the code verifier against the stored challenge
// per RFC 7636. Only the S256 method is supported.
func validatePKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required when the authorization request used PKCE")
	}
	if method != PKCEMethodS256 {
		return ErrInvalidGrant("unsupported code_challenge_method: only S256 is supported")
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	// Constant-time comparison to prevent timing side channels.
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrInvalidGrant("code_verifier does not match code_challenge")
	}
	return nil
}
