// Package tooluri provides parsing and validation for the tool:// URI scheme.
//
// URI format: tool://[provider-domain]/[tool-name]
//
// Examples:
//
//	tool://acme.com/create_invoice
//	tool://weather.example.org/forecast/hourly
//
// The provider-domain is the domain the tool's provider claims (the same
// domain that serves the provider's public key). The tool-name is the name
// the tool declares in its MCP definition. Intermediate path segments are
// allowed and treated as part of the tool name, so providers can namespace
// related tools.
package tooluri

import (
	"fmt"
	"net/url"
	"strings"
)

const scheme = "tool"

// URI represents a parsed tool:// URI.
type URI struct {
	ProviderDomain string // e.g. "acme.com", the domain claimed by the tool provider (url.Host)
	ToolName       string // e.g. "create_invoice" or "forecast/hourly"
	raw            string
}

// Parse parses a tool:// URI string.
//
// The expected structure is:
//
//	tool://{provider-domain}/{tool-name}
func Parse(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}

	if u.Scheme != scheme {
		return nil, fmt.Errorf("unsupported scheme %q: expected %q", u.Scheme, scheme)
	}

	domain := u.Host
	if domain == "" {
		return nil, fmt.Errorf("missing provider-domain in URI %q", raw)
	}

	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return nil, fmt.Errorf("missing tool-name in URI %q", raw)
	}

	if err := validateSegment("provider-domain", domain); err != nil {
		return nil, err
	}
	if err := validateSegment("tool-name", name); err != nil {
		return nil, err
	}

	return &URI{
		ProviderDomain: domain,
		ToolName:       name,
		raw:            raw,
	}, nil
}

// String returns the canonical tool:// URI string.
func (u *URI) String() string {
	return fmt.Sprintf("%s://%s/%s", scheme, u.ProviderDomain, u.ToolName)
}

// MustParse parses a URI and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// For builds the canonical tool:// URI for a provider domain and tool name
// without going through a parse round-trip. The inputs are validated the
// same way Parse validates them.
func For(providerDomain, toolName string) (*URI, error) {
	if err := validateSegment("provider-domain", providerDomain); err != nil {
		return nil, err
	}
	if err := validateSegment("tool-name", toolName); err != nil {
		return nil, err
	}
	u := &URI{ProviderDomain: providerDomain, ToolName: toolName}
	u.raw = u.String()
	return u, nil
}

// validateSegment checks that a URI segment contains no illegal characters.
func validateSegment(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.ContainsAny(value, " \\?#") {
		return fmt.Errorf("%s %q contains invalid characters", name, value)
	}
	return nil
}
