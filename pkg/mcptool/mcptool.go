// Package mcptool defines the MCP (Model Context Protocol) tool definition
// submitted for review, along with its validation rules and the canonical
// schema encoding used for signing.
//
// A tool definition pairs the MCP tool descriptor (name, description, input
// schema) with the identity of the provider publishing it. The provider's
// public key URL is where verifiers later fetch the key that checks the
// schema signature.
package mcptool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolvet/toolvet/pkg/tooluri"
)

// Field length limits enforced at submission time.
const (
	MaxNameLen        = 100
	MaxDescriptionLen = 500
)

// Provider identifies the party publishing a tool.
type Provider struct {
	// Name is the provider's display name, e.g. "Acme Corp".
	Name string `json:"name"`

	// PublicKeyURL is where the provider's signing public key is served,
	// typically https://[domain]/.well-known/schemapin.json.
	PublicKeyURL string `json:"public_key_url"`
}

// Domain extracts the host portion of the provider's public key URL.
// Returns "" when the URL does not parse.
func (p Provider) Domain() string {
	u, err := url.Parse(p.PublicKeyURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Tool is an MCP tool definition submitted for security review.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"` // JSON Schema object
	Provider    Provider        `json:"provider"`
}

// Validate checks the submission constraints: name 1–100 characters,
// description 1–500 characters, schema a valid JSON Schema object, and a
// provider with a name and a well-formed public key URL.
func (t *Tool) Validate() error {
	if n := utf8.RuneCountInString(t.Name); n == 0 || n > MaxNameLen {
		return fmt.Errorf("tool name must be 1–%d characters, got %d", MaxNameLen, n)
	}
	if n := utf8.RuneCountInString(t.Description); n == 0 || n > MaxDescriptionLen {
		return fmt.Errorf("tool description must be 1–%d characters, got %d", MaxDescriptionLen, n)
	}
	if t.Provider.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if t.Provider.PublicKeyURL == "" {
		return fmt.Errorf("provider public_key_url is required")
	}
	if u, err := url.Parse(t.Provider.PublicKeyURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider public_key_url %q is not an absolute URL", t.Provider.PublicKeyURL)
	}
	return t.validateSchema()
}

// validateSchema requires the schema to be a JSON object that compiles as a
// JSON Schema. Compilation catches structurally invalid schemas (bad type
// keywords, malformed patterns) before a session is ever created for them.
func (t *Tool) validateSchema() error {
	if len(bytes.TrimSpace(t.Schema)) == 0 {
		return fmt.Errorf("tool schema is required")
	}

	var schemaObj any
	if err := json.Unmarshal(t.Schema, &schemaObj); err != nil {
		return fmt.Errorf("tool schema is not valid JSON: %w", err)
	}
	if _, ok := schemaObj.(map[string]any); !ok {
		return fmt.Errorf("tool schema must be a JSON object")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Errorf("tool schema rejected: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("tool schema rejected: %w", err)
	}
	return nil
}

// SchemaObject returns the schema decoded into a map. The caller owns the
// returned value. Returns an error when the schema is not a JSON object.
func (t *Tool) SchemaObject() (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(t.Schema, &obj); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}
	return obj, nil
}

// CanonicalSchema returns the canonical byte encoding of the schema that
// signers sign and verifiers verify: compact JSON with lexicographically
// ordered object keys at every nesting level. Two schemas that differ only
// in whitespace or key order canonicalise identically.
func (t *Tool) CanonicalSchema() ([]byte, error) {
	var obj any
	if err := json.Unmarshal(t.Schema, &obj); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}
	// encoding/json sorts map keys on marshal, which yields the canonical
	// ordering for free once the value round-trips through any.
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("canonicalise tool schema: %w", err)
	}
	return out, nil
}

// Fingerprint returns a short stable identifier for log lines and audit
// entries: "provider-domain/name". Not guaranteed unique across versions.
func (t *Tool) Fingerprint() string {
	domain := t.Provider.Domain()
	if domain == "" {
		domain = strings.ToLower(strings.ReplaceAll(t.Provider.Name, " ", "-"))
	}
	return domain + "/" + t.Name
}

// URI returns the canonical tool:// identity carried on review sessions,
// audit entries, and workflow events. A name or domain that cannot form a
// valid URI degrades to the raw fingerprint under the same scheme.
func (t *Tool) URI() string {
	u, err := tooluri.For(t.Provider.Domain(), t.Name)
	if err != nil {
		return "tool://" + t.Fingerprint()
	}
	return u.String()
}
