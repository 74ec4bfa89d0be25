package signing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// maxSignerResponse caps how much of a signer response body is read.
const maxSignerResponse = 1 << 20 // 1 MiB

// HTTPSigner calls a remote schema-pin signing service over HTTPS.
// 4xx responses are treated as validation failures (not retried);
// network errors and 5xx responses are transient.
type HTTPSigner struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPSigner creates an HTTPSigner for the given endpoint. token is
// sent as a bearer credential when non-empty. A nil client gets a
// 30-second default timeout; the Coordinator's per-attempt timeout
// still applies on top via the request context.
func NewHTTPSigner(endpoint, token string, client *http.Client) *HTTPSigner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSigner{endpoint: endpoint, token: token, client: client}
}

func (s *HTTPSigner) Name() string { return "schemapin-http" }

type signRequest struct {
	ToolName   string          `json:"tool_name"`
	Provider   string          `json:"provider"`
	Schema     json.RawMessage `json:"schema"`
	SchemaHash string          `json:"schema_hash"`
}

type signResponse struct {
	Signature    string    `json:"signature"`
	Algorithm    string    `json:"algorithm"`
	KeyID        string    `json:"key_id"`
	PublicKeyURL string    `json:"public_key_url"`
	SignedAt     time.Time `json:"signed_at"`
}

// Sign implements Signer.
func (s *HTTPSigner) Sign(ctx context.Context, tool *mcptool.Tool) (*model.SignatureInfo, error) {
	canonical, err := tool.CanonicalSchema()
	if err != nil {
		return nil, Validationf("canonicalise schema: %v", err)
	}
	digest := sha256.Sum256(canonical)
	schemaHash := hex.EncodeToString(digest[:])

	body, err := json.Marshal(signRequest{
		ToolName:   tool.Name,
		Provider:   tool.Provider.Domain(),
		Schema:     canonical,
		SchemaHash: schemaHash,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call signer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSignerResponse))
	if err != nil {
		return nil, fmt.Errorf("read signer response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Validationf("signer rejected schema (%d): %s", resp.StatusCode, bodyExcerpt(raw))
	default:
		return nil, fmt.Errorf("signer returned status %d: %s", resp.StatusCode, bodyExcerpt(raw))
	}

	var sr signResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode signer response: %w", err)
	}
	if sr.Signature == "" {
		return nil, fmt.Errorf("signer response missing signature")
	}
	if sr.Algorithm == "" {
		sr.Algorithm = "ed25519"
	}

	return &model.SignatureInfo{
		Signature:    sr.Signature,
		Algorithm:    sr.Algorithm,
		KeyID:        sr.KeyID,
		PublicKeyURL: sr.PublicKeyURL,
		SchemaHash:   schemaHash,
		SignedAt:     sr.SignedAt,
	}, nil
}

func bodyExcerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}
