package oauth

import (
	"context"
	"errors"
	"net/url"

	"github.com/vtranscribe/vtauth/storage"
)

// Supported protocol constants.
const (
	ResponseTypeCode = "code"
	PKCEMethodS256   = "S256"
)

// AuthorizationRequest carries the parameters of a GET /authorize
// request. State is an opaque client value passed through untouched.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request, mints a single-use
// authorization code bound to the redirect URI (and PKCE challenge if
// supplied), and returns the redirect target carrying the code.
//
// Errors are deliberately coarse: an unknown client and a bad secret
// elsewhere produce the same taxonomy, and an unregistered
// redirect_uri never redirects.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (string, error) {
	if req.ResponseType != ResponseTypeCode {
		return "", ErrUnsupportedResponseType("only response_type=code is supported")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.auditor != nil {
				s.auditor.LogAuthFailure(req.ClientID, "invalid_client")
			}
			return "", ErrInvalidClient("client authentication failed")
		}
		return "", s.storageFault("authorization", err)
	}

	// Exact match only. Prefix or partial matching would let an
	// attacker-controlled path receive codes.
	if !registeredRedirectURI(client, req.RedirectURI) {
		if s.auditor != nil {
			s.auditor.LogAuthFailure(req.ClientID, "invalid_redirect_uri")
		}
		return "", ErrInvalidRedirectURI("redirect_uri is not registered for this client")
	}

	// An unsupported challenge method would mint a code no verifier
	// can ever redeem; fail now instead of at the exchange. An omitted
	// method with a challenge present means S256.
	challengeMethod := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if challengeMethod == "" {
			challengeMethod = PKCEMethodS256
		}
		if challengeMethod != PKCEMethodS256 {
			return "", ErrInvalidRequest("unsupported code_challenge_method: only S256 is supported")
		}
	}

	scope := req.Scope
	if scope == "" {
		scope = s.config.DefaultScope()
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                newOpaqueToken(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: challengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.AuthCodeTTL),
	}

	if err := s.store.CreateCode(ctx, code); err != nil {
		return "", s.storageFault("authorization code issuance", err)
	}

	if s.auditor != nil {
		s.auditor.LogCodeIssued(req.ClientID, scope)
	}
	if s.metrics != nil {
		s.metrics.AddAuthorizationStarted(ctx)
	}
	s.logger.Info("Issued authorization code",
		"client_id", req.ClientID,
		"scope", scope,
		"pkce", req.CodeChallenge != "")

	return buildRedirectURL(req.RedirectURI, code.Code, req.State), nil
}

// registeredRedirectURI reports whether uri is exactly one of the
// client's registered redirect URIs.
func registeredRedirectURI(client *storage.Client, uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// buildRedirectURL adds code and, when the client supplied one, state
// to the redirect URI's query component. The code must land in the
// query even when the registered URI carries its own query string or a
// fragment; a fragment would put the code client-side only.
func buildRedirectURL(redirectURI, code, state string) string {
	params := url.Values{}
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI + "?" + params.Encode()
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery += "&" + params.Encode()
	} else {
		parsed.RawQuery = params.Encode()
	}
	return parsed.String()
}
