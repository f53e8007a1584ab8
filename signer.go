package oauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer errors. Callers that gate protected resources must collapse
// both into a single "unauthenticated" response; the distinction
// exists for logging and tests only.
var (
	// ErrTokenExpired indicates the credential's expiry has passed.
	ErrTokenExpired = errors.New("access credential expired")

	// ErrTokenInvalid indicates a malformed credential or a bad
	// signature, issuer, or audience.
	ErrTokenInvalid = errors.New("access credential invalid")
)

// AccessClaims are the claims carried by a signed access credential.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope"`
	TokenUse string `json:"token_use"`
}

// Signer mints and verifies self-contained signed access credentials.
// It is stateless: validity is determined entirely by signature and
// claim verification, with no store lookup. The signing key is
// immutable for the Signer's lifetime; rotating it means constructing
// a new Signer, which instantly invalidates everything issued before.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewSigner creates a Signer for the given symmetric key and issuer
// URL. Keys shorter than MinSigningKeyLength are rejected so a weak
// key fails startup instead of weakening every credential.
func NewSigner(key []byte, issuer string) (*Signer, error) {
	if len(key) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d",
			MinSigningKeyLength, len(key))
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	return &Signer{key: key, issuer: issuer, now: time.Now}, nil
}

// SetTimeFunc overrides the time source. Tests use this to exercise
// expiry deterministically.
func (s *Signer) SetTimeFunc(now func() time.Time) {
	s.now = now
}

// Issue mints a signed credential for subject with the given scopes,
// valid for ttl from now. Issuer and audience are both pinned to the
// server's canonical URL.
func (s *Signer) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope:    strings.Join(scopes, " "),
		TokenUse: "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing access credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, audience, and expiry of a credential
// and returns its claims. Expiry is checked against the current time
// with no clock-skew grace period.
func (s *Signer) Verify(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.issuer),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(0),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}
