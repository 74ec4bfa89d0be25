//go:build ignore

// probe-manifests.go checks a list of domains for /.well-known/mcp-manifest.json
// and related MCP tool discovery endpoints, and reports which responses look
// like real manifests (a name plus a tools array) versus placeholder pages.
//
// Run with: go run scripts/probe-manifests.go
package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Domains to probe: AI labs, MCP server publishers, developer infrastructure,
// and likely early manifest adopters.
var domains = []string{
	// AI labs & model providers
	"openai.com", "anthropic.com", "google.com", "microsoft.com",
	"mistral.ai", "cohere.com", "xai.com", "meta.com",
	"huggingface.co", "replicate.com", "perplexity.ai",

	// MCP ecosystem & agent tooling
	"modelcontextprotocol.io", "langchain.com", "crewai.com",
	"dust.tt", "superagent.sh", "lindy.ai", "gumloop.com",
	"zapier.com", "make.com", "n8n.io",

	// API / developer infrastructure
	"stripe.com", "twilio.com", "sendgrid.com", "plaid.com",
	"github.com", "gitlab.com", "atlassian.com",

	// Enterprise SaaS with public APIs
	"salesforce.com", "hubspot.com", "zendesk.com",
	"notion.so", "airtable.com", "slack.com",

	// Cloud providers
	"aws.amazon.com", "cloud.google.com", "azure.microsoft.com",

	// Well-known .well-known implementors (baseline)
	"cloudflare.com", "mozilla.org",
}

// Discovery paths: ours first, then alternatives other protocols use.
var paths = []string{
	"/.well-known/mcp-manifest.json", // toolvet submission source
	"/.well-known/schemapin.json",    // provider signing keys
	"/.well-known/mcp.json",          // generic MCP discovery
	"/mcp-manifest.json",             // root-level fallback
}

type result struct {
	domain   string
	path     string
	status   int
	body     []byte // capped at 64 KiB
	err      string
	latency  time.Duration
	manifest bool // parses as {name, tools[...]}
}

func probe(domain, path string, client *http.Client) result {
	url := "https://" + domain + path
	start := time.Now()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return result{domain: domain, path: path, err: err.Error()}
	}
	req.Header.Set("User-Agent", "toolvet-probe/0.1 (mcp-manifest discovery; +https://toolvet.dev)")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{domain: domain, path: path, err: msg, latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	return result{
		domain:   domain,
		path:     path,
		status:   resp.StatusCode,
		body:     body,
		latency:  latency,
		manifest: looksLikeManifest(body),
	}
}

// looksLikeManifest reports whether body parses as a tool manifest: a JSON
// object with a name and at least one entry in its tools array.
func looksLikeManifest(body []byte) bool {
	var m struct {
		Name  string            `json:"name"`
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	return m.Name != "" && len(m.Tools) > 0
}

func isJSON(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func main() {
	httpClient := &http.Client{
		Timeout: 8 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: false}, //nolint:gosec
			MaxIdleConnsPerHost: 4,
			DisableKeepAlives:   false,
		},
	}

	type job struct {
		domain, path string
	}

	jobs := make(chan job, len(domains)*len(paths))
	results := make(chan result, len(domains)*len(paths))

	// Worker pool: 20 concurrent probes.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- probe(j.domain, j.path, httpClient)
			}
		}()
	}

	total := 0
	for _, d := range domains {
		for _, p := range paths {
			jobs <- job{d, p}
			total++
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var hits []result
	var manifests []result
	checked := 0
	for r := range results {
		checked++
		fmt.Printf("\r  probing... %d/%d", checked, total)

		if r.status == 200 {
			hits = append(hits, r)
			if r.manifest {
				manifests = append(manifests, r)
			}
		}
	}
	fmt.Printf("\r  done: %d endpoints probed\n\n", total)

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].domain < hits[j].domain
	})

	// ── Report ────────────────────────────────────────────────────────────────
	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  MCP Manifest Discovery Probe Results\n")
	fmt.Printf("  Domains checked: %d  |  Paths per domain: %d\n", len(domains), len(paths))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if len(hits) == 0 {
		fmt.Println("  No 200 responses found on any discovery path.")
		fmt.Println("  Well-known manifest publication is not yet adopted in the wild;")
		fmt.Println("  bulk submission will rely on files until providers catch up.")
		return
	}

	fmt.Printf("  200 OK responses:  %d\n", len(hits))
	fmt.Printf("  Parsed manifests:  %d\n\n", len(manifests))

	if len(manifests) > 0 {
		fmt.Println("── Real manifests (submittable with: toolvet submit <domain>) ──")
		for _, r := range manifests {
			fmt.Printf("\n  ✦ https://%s%s  (%dms)\n", r.domain, r.path, r.latency.Milliseconds())
			var v any
			if err := json.Unmarshal(r.body, &v); err == nil {
				b, _ := json.MarshalIndent(v, "    ", "  ")
				fmt.Printf("    %s\n", snippet(b))
			} else {
				fmt.Printf("    %s\n", snippet(r.body))
			}
		}
		fmt.Println()
	}

	other := []result{}
	for _, r := range hits {
		if !r.manifest {
			other = append(other, r)
		}
	}
	if len(other) > 0 {
		fmt.Println("── 200 OK but not a manifest (JSON stub, HTML, placeholder) ──")
		for _, r := range other {
			kind := "html"
			if isJSON(r.body) {
				kind = "json"
			}
			fmt.Printf("  • https://%s%s  [%s]  (%dms)\n", r.domain, r.path, kind, r.latency.Milliseconds())
		}
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════")
}
