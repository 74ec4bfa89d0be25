package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. Routes are gated on scopes, which are derived from the
// operator's role at issue time.
const (
	ScopeSubmit = "tool:submit"
	ScopeReview = "tool:review"
	ScopeSign   = "tool:sign"
	ScopeAdmin  = "tool:admin"
)

// ScopesForRole maps an operator role to the scopes its tokens carry.
// Unknown roles get no scopes.
func ScopesForRole(role string) []string {
	switch role {
	case "reviewer":
		return []string{ScopeSubmit, ScopeReview}
	case "admin":
		return []string{ScopeSubmit, ScopeReview, ScopeSign, ScopeAdmin}
	default:
		return nil
	}
}

// OperatorClaims are the JWT claims for an operator session token.
type OperatorClaims struct {
	jwt.RegisteredClaims
	OperatorID string   `json:"operator_id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Scopes     []string `json:"scopes"`
}

// TokenIssuer issues and verifies operator tokens signed with RS256.
// The public key is served over /.well-known so external verifiers can
// check token signatures without calling back into the service.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL  The "iss" claim value; typically the service's base URL.
//	ttl        Token lifetime (default: 8 hours).
func NewTokenIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &TokenIssuer{
		key:    key,
		pub:    &key.PublicKey,
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Issue creates a signed token for an operator. Scopes are derived from
// the role, never passed in by callers.
func (t *TokenIssuer) Issue(operatorID, email, name, role string) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		OperatorID: operatorID,
		Email:      email,
		Name:       name,
		Role:       role,
		Scopes:     ScopesForRole(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.pub, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HasScope checks whether the claims contain the requested scope.
func HasScope(claims *OperatorClaims, scope string) bool {
	if claims == nil {
		return false
	}
	for _, s := range claims.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// PublicKey returns the RSA public key used to verify tokens.
func (t *TokenIssuer) PublicKey() *rsa.PublicKey { return t.pub }

// PublicKeyPEM returns the RSA public key in PKIX PEM format.
func (t *TokenIssuer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(t.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
