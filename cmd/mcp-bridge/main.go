// toolvet-mcp-bridge exposes the tool review workflow as MCP tools, so
// Claude Desktop and any MCP-compatible AI host can submit tools for
// review and follow sessions through to a decision.
//
// Add to Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "toolvet": {
//	      "command": "/path/to/toolvet-mcp-bridge",
//	      "args": ["--service", "https://reviews.example.com"]
//	    }
//	  }
//	}
//
// To enable write operations (submit, decide) against an authenticated
// service, add credentials:
//
//	"args": [
//	  "--service", "https://reviews.example.com",
//	  "--token-file", "/Users/you/.toolvet/token"
//	]
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/toolvet/toolvet/internal/mcpbridge"
	"github.com/toolvet/toolvet/pkg/client"
)

var (
	serviceURL  string
	token       string
	tokenFile   string
	email       string
	password    string
	insecure    bool
	cacheTTLSec int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "toolvet-mcp-bridge",
	Short: "MCP bridge for the toolvet review service",
	Long: `toolvet-mcp-bridge is a stdio MCP server that exposes seven review
workflow tools to any MCP-compatible AI host (Claude Desktop, Claude API, etc.):

  submit_tool_for_review - submit an MCP tool definition to the pipeline
  get_review_status      - fetch a review session's phase and details
  get_audit_trail        - fetch a session's chronological audit trail
  list_reviews           - list sessions, filtered by phase or tool URI
  submit_review_decision - record a human approve/reject/escalate decision
  review_stats           - workflow throughput and outcome counters
  verify_audit_ledger    - check the hash-chained audit ledger

The bridge runs in stdio mode (the MCP standard for local servers).
All logging goes to stderr so it does not interfere with the protocol.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	defaultURL := os.Getenv(client.EnvURL)
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.Flags().StringVar(&serviceURL, "service", defaultURL, "Review service URL (env TOOLVET_URL)")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv(client.EnvToken), "Bearer token (env TOOLVET_TOKEN)")
	rootCmd.Flags().StringVar(&tokenFile, "token-file", "", "File containing a bearer token, as written by 'toolvet login'")
	rootCmd.Flags().StringVar(&email, "email", os.Getenv(client.EnvEmail), "Operator email (env TOOLVET_EMAIL)")
	rootCmd.Flags().StringVar(&password, "password", os.Getenv(client.EnvPassword), "Operator password (env TOOLVET_PASSWORD)")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")
	rootCmd.Flags().IntVar(&cacheTTLSec, "cache-ttl", 300, "Verification key cache TTL in seconds (0 = disabled)")
}

func run(cmd *cobra.Command, _ []string) error {
	logger := log.New(os.Stderr, "[toolvet-mcp] ", log.LstdFlags)

	// Build review service client options.
	opts := []client.Option{}

	switch {
	case token != "":
		opts = append(opts, client.WithBearerToken(token))
	case tokenFile != "":
		tok, err := client.LoadToken(tokenFile)
		if err != nil {
			return fmt.Errorf("read token file: %w", err)
		}
		opts = append(opts, client.WithBearerToken(tok))
		logger.Printf("bearer token loaded from %s", tokenFile)
	case email != "":
		opts = append(opts, client.WithCredentials(email, password))
		logger.Printf("operator credentials set for %s; tokens refresh automatically", email)
	default:
		logger.Printf("no credentials provided; write tools will fail against an authenticated service")
	}

	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
		logger.Printf("WARNING: TLS verification disabled, do not use in production")
	}

	if cacheTTLSec > 0 {
		opts = append(opts, client.WithCacheTTL(time.Duration(cacheTTLSec)*time.Second))
	}

	c, err := client.New(serviceURL, opts...)
	if err != nil {
		return fmt.Errorf("create review client: %w", err)
	}

	tools := mcpbridge.NewToolRegistry(c)
	server := mcpbridge.NewServer(os.Stdout, tools, logger)

	logger.Printf("toolvet MCP bridge ready, service: %s", serviceURL)
	logger.Printf("tools: submit_tool_for_review, get_review_status, get_audit_trail, list_reviews, submit_review_decision, review_stats, verify_audit_ledger")

	return server.Serve(cmd.Context(), os.Stdin)
}
