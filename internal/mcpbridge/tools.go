package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toolvet/toolvet/pkg/client"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func ok(text string) (string, bool)   { return text, false }
func fail(text string) (string, bool) { return text, true }
func failf(format string, a ...any) (string, bool) {
	return fmt.Sprintf(format, a...), true
}

// ToolRegistry holds the review-service client and the definitions/handlers
// for all bridge tools.
type ToolRegistry struct {
	c    *client.Client
	defs []ToolDefinition
}

// NewToolRegistry creates a ToolRegistry backed by the given SDK client.
func NewToolRegistry(c *client.Client) *ToolRegistry {
	r := &ToolRegistry{c: c}
	r.defs = []ToolDefinition{
		{
			Name: "submit_tool_for_review",
			Description: "Submit an MCP tool definition to the review service for security analysis. " +
				"Returns a review ID immediately; the analysis runs asynchronously. " +
				"Use get_review_status with the returned ID to follow progress.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Tool name, e.g. fetch_invoice",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "What the tool does, as shown to models",
					},
					"schema": map[string]any{
						"type":        "object",
						"description": "The tool's JSON Schema input definition",
					},
					"provider_name": map[string]any{
						"type":        "string",
						"description": "Name of the organization publishing the tool",
					},
					"provider_key_url": map[string]any{
						"type":        "string",
						"description": "HTTPS URL of the provider's public key document",
					},
				},
				"required": []string{"name", "description", "schema", "provider_name", "provider_key_url"},
			},
		},
		{
			Name: "get_review_status",
			Description: "Fetch the full state of a review: current phase, security analysis with findings, " +
				"human decision, signature, and rejection reason where present. " +
				"Terminal phases are signed, rejected, and signing_failed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"review_id": map[string]any{
						"type":        "string",
						"description": "The review ID returned by submit_tool_for_review",
					},
				},
				"required": []string{"review_id"},
			},
		},
		{
			Name: "get_audit_trail",
			Description: "Fetch the step-by-step audit trail of a review: submission, analysis start and " +
				"completion, gate verdicts, human decisions, escalations, and signing attempts, in order.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"review_id": map[string]any{
						"type":        "string",
						"description": "The review ID to fetch the trail for",
					},
				},
				"required": []string{"review_id"},
			},
		},
		{
			Name: "list_reviews",
			Description: "List reviews in the service, newest first. " +
				"Filter by phase (e.g. awaiting_human_review to find reviews needing a decision) " +
				"and/or tool_uri to see the history of one tool.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phase": map[string]any{
						"type":        "string",
						"description": "Phase to filter by. Leave empty for all.",
						"enum": []string{
							"pending_review", "under_review", "awaiting_human_review",
							"approved", "rejected", "signed", "signing_failed",
						},
					},
					"tool_uri": map[string]any{
						"type":        "string",
						"description": "Tool URI to filter by, e.g. tool://acme.example/fetch_invoice. Leave empty for all.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of reviews to return. Defaults to the service's limit.",
					},
				},
			},
		},
		{
			Name: "submit_review_decision",
			Description: "Record a human decision on a review that is awaiting one. " +
				"Decisions: approve (proceed to signing), reject, request_reanalysis (run the analyzer again), " +
				"escalate (raise priority and notify admins). " +
				"Reasoning is mandatory and is written to the audit trail; state what was checked.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"review_id": map[string]any{
						"type":        "string",
						"description": "The review to decide on",
					},
					"decision": map[string]any{
						"type":        "string",
						"description": "The decision to record",
						"enum":        []string{"approve", "reject", "request_reanalysis", "escalate"},
					},
					"reasoning": map[string]any{
						"type":        "string",
						"description": "Why this decision was made (at least 10 characters)",
					},
					"reviewer": map[string]any{
						"type":        "string",
						"description": "Reviewer identity. Ignored when the bridge authenticates with a token.",
					},
				},
				"required": []string{"review_id", "decision", "reasoning"},
			},
		},
		{
			Name: "review_stats",
			Description: "Fetch workflow statistics: totals by outcome, auto-approval rate, average analysis " +
				"and human-review times, queue depths, and finding counts by category.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name: "verify_audit_ledger",
			Description: "Ask the review service to verify its hash-chained audit ledger end to end. " +
				"Reports whether the chain is intact and, if not, where it breaks.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name and returns (output text, isError).
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	switch name {
	case "submit_tool_for_review":
		return r.submitTool(ctx, args)
	case "get_review_status":
		return r.getReviewStatus(ctx, args)
	case "get_audit_trail":
		return r.getAuditTrail(ctx, args)
	case "list_reviews":
		return r.listReviews(ctx, args)
	case "submit_review_decision":
		return r.submitDecision(ctx, args)
	case "review_stats":
		return r.reviewStats(ctx)
	case "verify_audit_ledger":
		return r.verifyLedger(ctx)
	default:
		return failf("unknown tool: %q", name)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

func (r *ToolRegistry) submitTool(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		Schema         json.RawMessage `json:"schema"`
		ProviderName   string          `json:"provider_name"`
		ProviderKeyURL string          `json:"provider_key_url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return fail("invalid arguments")
	}
	if in.Name == "" || len(in.Schema) == 0 {
		return fail("name and schema are required")
	}

	result, err := r.c.SubmitTool(ctx, &mcptool.Tool{
		Name:        in.Name,
		Description: in.Description,
		Schema:      in.Schema,
		Provider: mcptool.Provider{
			Name:         in.ProviderName,
			PublicKeyURL: in.ProviderKeyURL,
		},
	})
	if err != nil {
		return failf("submit failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) getReviewStatus(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		ReviewID string `json:"review_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ReviewID == "" {
		return fail("review_id is required")
	}

	review, err := r.c.GetReview(ctx, in.ReviewID)
	if err != nil {
		return failf("get review failed: %v", err)
	}

	out, _ := json.MarshalIndent(review, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) getAuditTrail(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		ReviewID string `json:"review_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ReviewID == "" {
		return fail("review_id is required")
	}

	trail, err := r.c.GetAuditTrail(ctx, in.ReviewID)
	if err != nil {
		return failf("get audit trail failed: %v", err)
	}

	out, _ := json.MarshalIndent(trail, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) listReviews(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Phase   string `json:"phase"`
		ToolURI string `json:"tool_uri"`
		Limit   int    `json:"limit"`
	}
	_ = json.Unmarshal(args, &in)

	reviews, err := r.c.ListReviews(ctx, in.Phase, in.ToolURI, in.Limit, 0)
	if err != nil {
		return failf("list reviews failed: %v", err)
	}
	if len(reviews) == 0 {
		return ok("No reviews found matching the given filters.")
	}

	out, _ := json.MarshalIndent(reviews, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) submitDecision(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		ReviewID  string `json:"review_id"`
		Decision  string `json:"decision"`
		Reasoning string `json:"reasoning"`
		Reviewer  string `json:"reviewer"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ReviewID == "" {
		return fail("review_id is required")
	}
	if in.Decision == "" || in.Reasoning == "" {
		return fail("decision and reasoning are required")
	}

	review, err := r.c.SubmitDecision(ctx, in.ReviewID, client.DecisionRequest{
		Decision:  in.Decision,
		Reasoning: in.Reasoning,
		Reviewer:  in.Reviewer,
	})
	if err != nil {
		if errors.Is(err, client.ErrDecisionConflict) {
			return fail("The review is not awaiting a human decision. Check its current phase with get_review_status.")
		}
		return failf("decision failed: %v", err)
	}

	out, _ := json.MarshalIndent(review, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) reviewStats(ctx context.Context) (string, bool) {
	stats, err := r.c.Stats(ctx)
	if err != nil {
		return failf("stats failed: %v", err)
	}

	out, _ := json.MarshalIndent(stats, "", "  ")
	return ok(string(out))
}

func (r *ToolRegistry) verifyLedger(ctx context.Context) (string, bool) {
	status, err := r.c.VerifyLedger(ctx)
	if err != nil {
		return failf("verify ledger failed: %v", err)
	}

	out, _ := json.MarshalIndent(status, "", "  ")
	return ok(string(out))
}
