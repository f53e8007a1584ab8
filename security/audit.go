// Package security provides cross-cutting security features for the
// authorization server: audit logging, per-IP rate limiting, and
// request ID propagation.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging. Client IDs are hashed before
// logging so audit trails correlate events without exposing
// credentials material in log storage.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed client identity.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id_hash", hashForLogging(event.ClientID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered logs a new client registration.
func (a *Auditor) LogClientRegistered(clientID, clientName string) {
	a.LogEvent(Event{
		Type:     "client_registered",
		ClientID: clientID,
		Details: map[string]any{
			"client_name": clientName,
		},
	})
}

// LogCodeIssued logs issuance of an authorization code.
func (a *Auditor) LogCodeIssued(clientID, scope string) {
	a.LogEvent(Event{
		Type:     "authorization_code_issued",
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenIssued logs issuance of an access credential.
func (a *Auditor) LogTokenIssued(clientID, scope, grantType string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		ClientID: clientID,
		Details: map[string]any{
			"scope":      scope,
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs a refresh token rotation.
func (a *Auditor) LogTokenRefreshed(clientID, scope string) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		ClientID: clientID,
		Details: map[string]any{
			"scope":   scope,
			"rotated": true,
		},
	})
}

// LogAuthFailure logs an authentication or authorization failure.
func (a *Auditor) LogAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogPKCEFailure logs a failed PKCE verification. Treated as a
// security event since it can indicate code interception attempts.
func (a *Auditor) LogPKCEFailure(clientID string) {
	a.LogEvent(Event{
		Type:     "pkce_validation_failed",
		ClientID: clientID,
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type: "rate_limit_exceeded",
		Details: map[string]any{
			"ip_hash": hashForLogging(ipAddress),
		},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
