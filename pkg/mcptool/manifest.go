package mcptool

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Manifest is the MCP server manifest a provider serves at:
//
//	https://[domain]/.well-known/mcp-manifest.json
//
// It lists every tool the provider's MCP server exposes, which makes it the
// natural bulk-submission source: fetch the manifest once, submit each tool
// for review.
type Manifest struct {
	SchemaVersion string `json:"schemaVersion"` // "2024-11-05"
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description,omitempty"`

	Tools []ManifestTool `json:"tools,omitempty"`

	// PublicKeyURL overrides the default /.well-known/schemapin.json
	// location for the provider's signing key.
	PublicKeyURL string `json:"publicKeyUrl,omitempty"`
}

// ManifestTool describes a single tool within a manifest.
type ManifestTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"` // JSON Schema object
}

// ParseManifest decodes a Manifest from JSON bytes and validates it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mcp-manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchManifest retrieves and parses the mcp-manifest.json from the given domain.
func FetchManifest(domain string) (*Manifest, error) {
	targetURL := "https://" + domain + "/.well-known/mcp-manifest.json"
	if _, err := url.ParseRequestURI(targetURL); err != nil {
		return nil, fmt.Errorf("invalid domain %q: %w", domain, err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(targetURL) //nolint:noctx
	if err != nil {
		return nil, fmt.Errorf("fetch mcp-manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp-manifest fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("read mcp-manifest body: %w", err)
	}

	m, err := ParseManifest(body)
	if err != nil {
		return nil, err
	}
	m.fillDefaults(domain)
	return m, nil
}

// Validate checks required fields of a Manifest.
func (m *Manifest) Validate() error {
	if m.SchemaVersion == "" {
		return fmt.Errorf("mcp-manifest: schemaVersion is required")
	}
	if m.Name == "" {
		return fmt.Errorf("mcp-manifest: name is required")
	}
	for i, t := range m.Tools {
		if t.Name == "" {
			return fmt.Errorf("mcp-manifest: tools[%d].name is required", i)
		}
		if len(t.InputSchema) == 0 {
			return fmt.Errorf("mcp-manifest: tools[%d].inputSchema is required", i)
		}
	}
	return nil
}

func (m *Manifest) fillDefaults(domain string) {
	if m.PublicKeyURL == "" {
		m.PublicKeyURL = "https://" + domain + "/.well-known/schemapin.json"
	}
}

// Submissions converts every manifest tool into a review submission carrying
// the manifest's provider identity. Tools that fail Validate are returned in
// a separate slice of errors keyed by tool name, so one bad entry does not
// sink the whole manifest.
func (m *Manifest) Submissions() ([]Tool, map[string]error) {
	var out []Tool
	bad := make(map[string]error)

	for _, mt := range m.Tools {
		t := Tool{
			Name:        mt.Name,
			Description: mt.Description,
			Schema:      mt.InputSchema,
			Provider: Provider{
				Name:         m.Name,
				PublicKeyURL: m.PublicKeyURL,
			},
		}
		if err := t.Validate(); err != nil {
			bad[mt.Name] = err
			continue
		}
		out = append(out, t)
	}
	return out, bad
}
