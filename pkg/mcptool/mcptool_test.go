package mcptool_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/toolvet/toolvet/pkg/mcptool"
)

func validTool() mcptool.Tool {
	return mcptool.Tool{
		Name:        "echo",
		Description: "Echoes the input message back to the caller.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		Provider: mcptool.Provider{
			Name:         "Acme Corp",
			PublicKeyURL: "https://acme.com/.well-known/schemapin.json",
		},
	}
}

func TestValidate_ok(t *testing.T) {
	tool := validTool()
	if err := tool.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*mcptool.Tool)
	}{
		{"empty name", func(tl *mcptool.Tool) { tl.Name = "" }},
		{"name too long", func(tl *mcptool.Tool) { tl.Name = strings.Repeat("a", 101) }},
		{"empty description", func(tl *mcptool.Tool) { tl.Description = "" }},
		{"description too long", func(tl *mcptool.Tool) { tl.Description = strings.Repeat("d", 501) }},
		{"missing provider name", func(tl *mcptool.Tool) { tl.Provider.Name = "" }},
		{"missing key url", func(tl *mcptool.Tool) { tl.Provider.PublicKeyURL = "" }},
		{"relative key url", func(tl *mcptool.Tool) { tl.Provider.PublicKeyURL = "/keys.json" }},
		{"empty schema", func(tl *mcptool.Tool) { tl.Schema = nil }},
		{"schema not json", func(tl *mcptool.Tool) { tl.Schema = json.RawMessage(`{broken`) }},
		{"schema not object", func(tl *mcptool.Tool) { tl.Schema = json.RawMessage(`[1,2]`) }},
		{"schema bad type keyword", func(tl *mcptool.Tool) {
			tl.Schema = json.RawMessage(`{"type":"not-a-type"}`)
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tool := validTool()
			tc.mutate(&tool)
			if err := tool.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidate_boundaryLengths(t *testing.T) {
	tool := validTool()
	tool.Name = strings.Repeat("n", 100)
	tool.Description = strings.Repeat("d", 500)
	if err := tool.Validate(); err != nil {
		t.Fatalf("boundary lengths should validate: %v", err)
	}
}

func TestCanonicalSchema_stableAcrossFormatting(t *testing.T) {
	a := validTool()
	a.Schema = json.RawMessage(`{"type":"object","properties":{"b":{"type":"string"},"a":{"type":"number"}}}`)

	b := validTool()
	b.Schema = json.RawMessage("{\n  \"properties\": {\n    \"a\": {\"type\": \"number\"},\n    \"b\": {\"type\": \"string\"}\n  },\n  \"type\": \"object\"\n}")

	ca, err := a.CanonicalSchema()
	if err != nil {
		t.Fatal(err)
	}
	cb, err := b.CanonicalSchema()
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n  a: %s\n  b: %s", ca, cb)
	}
}

func TestProviderDomain(t *testing.T) {
	tool := validTool()
	if got, want := tool.Provider.Domain(), "acme.com"; got != want {
		t.Errorf("Domain(): got %q, want %q", got, want)
	}
	if got, want := tool.Fingerprint(), "acme.com/echo"; got != want {
		t.Errorf("Fingerprint(): got %q, want %q", got, want)
	}
}

func TestToolURI(t *testing.T) {
	tool := validTool()
	if got, want := tool.URI(), "tool://acme.com/echo"; got != want {
		t.Errorf("URI(): got %q, want %q", got, want)
	}

	// A name with URI-hostile characters still yields a usable identifier.
	tool.Name = "echo tool"
	if got, want := tool.URI(), "tool://acme.com/echo tool"; got != want {
		t.Errorf("URI() fallback: got %q, want %q", got, want)
	}
}

func TestManifestSubmissions(t *testing.T) {
	raw := []byte(`{
		"schemaVersion": "2024-11-05",
		"name": "Acme Tools",
		"version": "1.2.0",
		"publicKeyUrl": "https://acme.com/.well-known/schemapin.json",
		"tools": [
			{"name": "echo", "description": "Echo a message.", "inputSchema": {"type": "object"}},
			{"name": "broken", "description": "", "inputSchema": {"type": "object"}}
		]
	}`)

	m, err := mcptool.ParseManifest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tools, bad := m.Submissions()
	if len(tools) != 1 {
		t.Fatalf("expected 1 valid submission, got %d", len(tools))
	}
	if tools[0].Name != "echo" {
		t.Errorf("submission name: got %q, want %q", tools[0].Name, "echo")
	}
	if tools[0].Provider.PublicKeyURL != "https://acme.com/.well-known/schemapin.json" {
		t.Errorf("provider key url not carried over: %q", tools[0].Provider.PublicKeyURL)
	}
	if _, ok := bad["broken"]; !ok {
		t.Error("expected the empty-description tool to be reported invalid")
	}
}

func TestParseManifest_invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing schemaVersion", `{"name": "x", "tools": []}`},
		{"missing name", `{"schemaVersion": "2024-11-05"}`},
		{"tool without schema", `{"schemaVersion": "2024-11-05", "name": "x", "tools": [{"name": "a", "description": "d"}]}`},
		{"not json", `nope`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mcptool.ParseManifest([]byte(tc.raw)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
