// Package identity implements authentication for the review service.
//
// It provides:
//   - TokenIssuer issues and verifies RS256 JWT operator tokens
//   - RequireToken is Gin middleware enforcing Bearer authentication
//   - RequireScope is Gin middleware enforcing a specific token scope
//   - LoadOrCreateSigningKey handles persistent RSA key material
//
// Tokens carry scopes derived from the operator's role; handlers gate
// routes on scopes, never on roles directly.
package identity
