// Package oauth implements an embeddable OAuth 2.1 authorization
// server: dynamic client registration (RFC 7591), the
// authorization-code (with PKCE), client-credentials, and
// refresh-token grant flows, JWT access credential signing and
// verification, and expiry sweeping of abandoned authorization codes.
//
// The engine is stateless per request; all protocol state lives
// behind the storage interfaces in the storage package, which ship
// with in-memory and bbolt backends. The HTTP boundary is provided by
// Handler; embedders that bring their own transport can call the
// Server methods directly.
package oauth
