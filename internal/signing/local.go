package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// LocalSigner signs canonical schema bytes with an in-process ed25519
// key. It backs DB-less deployments and tests; production deployments
// point the Coordinator at a schema-pin signing service instead. The key
// is generated at construction and lost on restart.
type LocalSigner struct {
	priv         ed25519.PrivateKey
	pub          ed25519.PublicKey
	keyID        string
	publicKeyURL string
}

// NewLocalSigner generates a fresh ed25519 keypair. publicKeyURL is
// where verifiers are told to fetch the public key; it is recorded in
// every signature but not served by this process.
func NewLocalSigner(publicKeyURL string) (*LocalSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	keyDigest := sha256.Sum256(pub)
	return &LocalSigner{
		priv:         priv,
		pub:          pub,
		keyID:        hex.EncodeToString(keyDigest[:8]),
		publicKeyURL: publicKeyURL,
	}, nil
}

func (s *LocalSigner) Name() string { return "local-ed25519" }

// PublicKey exposes the verification key, mainly for tests and for
// exporting to a key registry.
func (s *LocalSigner) PublicKey() ed25519.PublicKey { return s.pub }

// KeyID identifies the generated key in signatures and logs.
func (s *LocalSigner) KeyID() string { return s.keyID }

// Sign implements Signer. The signature covers the SHA-256 of the
// tool's canonical schema bytes, so re-encoding the schema with
// different key order does not invalidate it.
func (s *LocalSigner) Sign(_ context.Context, tool *mcptool.Tool) (*model.SignatureInfo, error) {
	canonical, err := tool.CanonicalSchema()
	if err != nil {
		return nil, Validationf("canonicalise schema: %v", err)
	}
	digest := sha256.Sum256(canonical)
	sig := ed25519.Sign(s.priv, digest[:])

	return &model.SignatureInfo{
		Signature:    base64.StdEncoding.EncodeToString(sig),
		Algorithm:    "ed25519",
		KeyID:        s.keyID,
		PublicKeyURL: s.publicKeyURL,
		SchemaHash:   hex.EncodeToString(digest[:]),
		SignedAt:     time.Now().UTC(),
	}, nil
}
