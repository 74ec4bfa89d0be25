package identity_test

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"

	"github.com/toolvet/toolvet/internal/identity"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	return identity.NewTokenIssuer(newTestKey(t), "https://review.toolvet.dev", time.Hour)
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.Issue("op-1", "ada@example.com", "Ada", "reviewer")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.Issue("op-1", "ada@example.com", "Ada", "admin")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if claims.OperatorID != "op-1" {
		t.Errorf("OperatorID: got %q, want op-1", claims.OperatorID)
	}
	if claims.Subject != "op-1" {
		t.Errorf("Subject: got %q, want op-1", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("Role: got %q, want admin", claims.Role)
	}
	if !identity.HasScope(claims, identity.ScopeSign) {
		t.Error("admin token should carry tool:sign")
	}
	if !identity.HasScope(claims, identity.ScopeAdmin) {
		t.Error("admin token should carry tool:admin")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := identity.NewTokenIssuer(newTestKey(t), "https://review.toolvet.dev", time.Nanosecond)

	token, err := ti.Issue("op-1", "ada@example.com", "Ada", "reviewer")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_tamperedSignature(t *testing.T) {
	ti := newTestIssuer(t)

	token, err := ti.Issue("op-1", "ada@example.com", "Ada", "reviewer")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a mid-signature character. The final character only partially
	// encodes signature bits, so flipping it may be a no-op.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := ti.Verify(tampered); err == nil {
		t.Error("expected error for tampered token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	key := newTestKey(t)
	ti1 := identity.NewTokenIssuer(key, "https://review-a.toolvet.dev", time.Hour)
	ti2 := identity.NewTokenIssuer(key, "https://review-b.toolvet.dev", time.Hour)

	token, err := ti1.Issue("op-1", "ada@example.com", "Ada", "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti2.Verify(token); err == nil {
		t.Error("expected error for wrong issuer, got nil")
	}
}

func TestTokenIssuer_PublicKeyPEM(t *testing.T) {
	ti := newTestIssuer(t)
	pem, err := ti.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM() error: %v", err)
	}
	if !strings.HasPrefix(pem, "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("unexpected PEM header: %q", pem[:26])
	}
}

func TestScopesForRole(t *testing.T) {
	reviewer := identity.ScopesForRole("reviewer")
	if len(reviewer) != 2 {
		t.Errorf("reviewer scopes = %v, want 2 entries", reviewer)
	}
	for _, s := range reviewer {
		if s == identity.ScopeSign || s == identity.ScopeAdmin {
			t.Errorf("reviewer must not carry %s", s)
		}
	}

	admin := identity.ScopesForRole("admin")
	if len(admin) != 4 {
		t.Errorf("admin scopes = %v, want 4 entries", admin)
	}

	if got := identity.ScopesForRole("superuser"); got != nil {
		t.Errorf("unknown role scopes = %v, want nil", got)
	}
}

func TestHasScope(t *testing.T) {
	ti := newTestIssuer(t)
	token, err := ti.Issue("op-1", "ada@example.com", "Ada", "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatal(err)
	}

	if !identity.HasScope(claims, identity.ScopeSubmit) {
		t.Error("HasScope(tool:submit) should be true")
	}
	if identity.HasScope(claims, identity.ScopeAdmin) {
		t.Error("HasScope(tool:admin) should be false")
	}
	if identity.HasScope(nil, identity.ScopeSubmit) {
		t.Error("HasScope(nil, ...) should be false")
	}
}

func TestLoadOrCreateSigningKey(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.LoadOrCreateSigningKey(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	second, err := identity.LoadOrCreateSigningKey(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if first.N.Cmp(second.N) != 0 {
		t.Error("reload returned a different key")
	}
}
