package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vtranscribe/vtauth/instrumentation"
	"github.com/vtranscribe/vtauth/security"
)

// Well-known endpoint paths.
const (
	PathAuthorizationServerMetadata = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMetadata   = "/.well-known/oauth-protected-resource"
	PathRegister                    = "/register"
	PathAuthorize                   = "/authorize"
	PathToken                       = "/token"
	PathEvents                      = "/events"
	PathHealth                      = "/health"
)

const eventStreamPingInterval = 30 * time.Second

// Handler exposes the authorization server over HTTP. The handler owns
// only transport concerns (parsing, content types, status mapping);
// all protocol decisions live in Server.
type Handler struct {
	server  *Server
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// registrationLimiter optionally rate limits POST /register per
	// source IP. Nil disables limiting.
	registrationLimiter *security.RateLimiter

	// pingInterval controls the SSE keepalive cadence. Tests shorten it.
	pingInterval time.Duration
}

// NewHandler creates an HTTP handler for the given server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:       server,
		logger:       logger,
		pingInterval: eventStreamPingInterval,
	}
}

// SetMetrics sets the metric instruments for HTTP-level metrics.
func (h *Handler) SetMetrics(m *instrumentation.Metrics) {
	h.metrics = m
}

// SetRegistrationRateLimiter enables per-IP rate limiting of client
// registration.
func (h *Handler) SetRegistrationRateLimiter(rl *security.RateLimiter) {
	h.registrationLimiter = rl
}

// RegisterRoutes attaches all endpoints to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorizationServerMetadata, h.withRequestID(h.ServeAuthorizationServerMetadata))
	mux.HandleFunc(PathProtectedResourceMetadata, h.withRequestID(h.ServeProtectedResourceMetadata))
	mux.HandleFunc(PathRegister, h.withRequestID(h.ServeRegister))
	mux.HandleFunc(PathAuthorize, h.withRequestID(h.ServeAuthorize))
	mux.HandleFunc(PathToken, h.withRequestID(h.ServeToken))
	mux.HandleFunc(PathEvents, h.withRequestID(h.ServeEvents))
	mux.HandleFunc(PathHealth, h.withRequestID(h.ServeHealth))
}

// withRequestID tags the request context (and response) with a request
// ID, either propagated from a well-formed inbound header or freshly
// generated.
func (h *Handler) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(security.RequestIDHeader)
		if !security.ValidRequestID(requestID) {
			requestID = security.GenerateRequestID()
		}
		w.Header().Set(security.RequestIDHeader, requestID)
		next(w, r.WithContext(security.WithRequestID(r.Context(), requestID)))
	}
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata, a static
// reflection of server configuration.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.server.Config().Issuer
	h.writeJSON(w, http.StatusOK, &AuthorizationServerMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + PathAuthorize,
		TokenEndpoint:         issuer + PathToken,
		RegistrationEndpoint:  issuer + PathRegister,
		ScopesSupported:       h.server.Config().SupportedScopes,
		ResponseTypesSupported: []string{
			ResponseTypeCode,
		},
		GrantTypesSupported: []string{
			string(GrantTypeAuthorizationCode),
			string(GrantTypeClientCredentials),
			string(GrantTypeRefreshToken),
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_post",
			"client_secret_basic",
		},
		CodeChallengeMethodsSupported: []string{PKCEMethodS256},
	})
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.server.Config().Issuer
	h.writeJSON(w, http.StatusOK, &ProtectedResourceMetadata{
		Resource:               issuer,
		AuthorizationServers:   []string{issuer},
		ScopesSupported:        h.server.Config().SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	})
}

// ServeRegister handles dynamic client registration (RFC 7591).
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := requestIP(r)
	if h.registrationLimiter != nil && !h.registrationLimiter.Allow(clientIP) {
		h.logger.Warn("Client registration rate limit exceeded", "ip", clientIP)
		if h.server.auditor != nil {
			h.server.auditor.LogRateLimitExceeded(clientIP)
		}
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest,
			"registration rate limit exceeded, try again later", http.StatusTooManyRequests))
		return
	}

	// An empty, absent, or malformed body is still a valid
	// registration request; every field falls back to configured
	// defaults.
	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = ClientRegistrationRequest{}
	}

	resp, err := h.server.RegisterClient(r.Context(), &req)
	if err != nil {
		h.writeProtocolError(w, err)
		h.recordHTTP(r, PathRegister, errorStatus(err), start)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusCreated, resp)
	h.recordHTTP(r, PathRegister, http.StatusCreated, start)
}

// ServeAuthorize handles the authorization endpoint. Success is a 302
// to the registered redirect URI; failures are JSON errors and never
// redirect.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	req := &AuthorizationRequest{
		ResponseType:        query.Get("response_type"),
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	redirectURL, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		h.writeProtocolError(w, err)
		h.recordHTTP(r, PathAuthorize, errorStatus(err), start)
		return
	}

	h.recordHTTP(r, PathAuthorize, http.StatusFound, start)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint (form-encoded). Client
// credentials are accepted in the form body (client_secret_post) or
// the Authorization header (client_secret_basic); the header wins when
// both are present.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request body"))
		return
	}

	req := &TokenRequest{
		GrantType:    GrantType(r.FormValue("grant_type")),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		CodeVerifier: r.FormValue("code_verifier"),
		Scope:        r.FormValue("scope"),
		RefreshToken: r.FormValue("refresh_token"),
	}
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	resp, err := h.server.Token(r.Context(), req)
	if err != nil {
		h.writeProtocolError(w, err)
		h.recordHTTP(r, PathToken, errorStatus(err), start)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, resp)
	h.recordHTTP(r, PathToken, http.StatusOK, start)
}

// RequireScope wraps a handler with bearer credential verification and
// an optional scope check. Every verification failure, expired or
// malformed or absent, produces the identical 401 challenge pointing
// at the protected resource metadata, so the response is never an
// oracle for credential state.
func (h *Handler) RequireScope(requiredScope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := h.verifyBearer(w, r)
		if !ok {
			return
		}
		if !RequireScope(requiredScope, claims.Scope) {
			h.writeError(w, NewOAuthError("insufficient_scope",
				"token lacks required scope", http.StatusForbidden))
			return
		}
		next(w, r)
	}
}

// verifyBearer extracts and verifies the bearer credential. On failure
// it writes the uniform 401 challenge and returns ok=false.
func (h *Handler) verifyBearer(w http.ResponseWriter, r *http.Request) (*AccessClaims, bool) {
	unauthenticated := func(reason string) (*AccessClaims, bool) {
		h.logger.Debug("Bearer verification failed", "reason", reason)
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer resource_metadata=%q`,
			h.server.Config().Issuer+PathProtectedResourceMetadata))
		h.writeError(w, ErrInvalidToken("authentication required"))
		return nil, false
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return unauthenticated("missing_bearer")
	}

	claims, err := h.server.Signer().Verify(parts[1])
	if err != nil {
		// Expired and malformed are logged distinctly but reported
		// identically.
		if errors.Is(err, ErrTokenExpired) {
			return unauthenticated("expired")
		}
		return unauthenticated("invalid")
	}
	return claims, true
}

// ServeEvents is the authenticated server-sent event stream used to
// carry the downstream application protocol. It emits one connection
// event identifying the session, then periodic pings until the client
// disconnects.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	claims, ok := h.verifyBearer(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Tell buffering reverse proxies (nginx) to pass events through.
	w.Header().Set("X-Accel-Buffering", "no")

	sessionID := uuid.NewString()
	h.logger.Info("Event stream connected",
		"session_id", sessionID,
		"subject", claims.Subject)

	writeEvent := func(payload map[string]any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := writeEvent(map[string]any{
		"type":       "connection",
		"session_id": sessionID,
		"subject":    claims.Subject,
		"scopes":     strings.Fields(claims.Scope),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Event stream disconnected", "session_id", sessionID)
			return
		case <-ticker.C:
			if err := writeEvent(map[string]any{
				"type":      "ping",
				"timestamp": time.Now().Unix(),
			}); err != nil {
				return
			}
		}
	}
}

// ServeHealth is a liveness endpoint.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vtauth",
	})
}

// writeJSON serializes a response body with the standard headers.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an OAuth error response body.
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.writeJSON(w, oauthErr.Status, &ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeProtocolError maps an engine error to the wire. Anything that
// is not an *OAuthError is an internal fault and surfaces as an opaque
// server_error.
func (h *Handler) writeProtocolError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr)
		return
	}
	h.logger.Error("Unexpected engine error", "error", err)
	h.writeError(w, NewOAuthError(ErrorCodeServerError,
		"internal server error", http.StatusInternalServerError))
}

// errorStatus extracts the HTTP status for metrics.
func errorStatus(err error) int {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr.Status
	}
	return http.StatusInternalServerError
}

func (h *Handler) recordHTTP(r *http.Request, endpoint string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.AddHTTPRequest(r.Context(), endpoint, status, time.Since(start).Seconds())
}

// requestIP returns the direct connection IP. Proxy headers are not
// trusted; deployments behind a proxy should terminate limits there.
func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
