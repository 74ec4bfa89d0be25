// Package client is the toolvet Go SDK.
//
// It wraps the review service's HTTP API: submitting MCP tool definitions
// for security review, following a review through analysis and human
// decision to its signed (or rejected) outcome, and fetching the material
// needed to verify signatures offline.
//
// # Submitting a tool for review
//
//	c, err := client.New("https://toolvet.internal.example.com",
//	    client.WithCredentials("ci@example.com", password),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := c.SubmitTool(ctx, &mcptool.Tool{
//	    Name:        "fetch_invoice",
//	    Description: "Fetches an invoice PDF by ID.",
//	    Schema:      schemaJSON,
//	    Provider: mcptool.Provider{
//	        Name:         "Acme Corp",
//	        PublicKeyURL: "https://acme.example/keys.json",
//	    },
//	})
//
// Submission returns immediately; analysis runs asynchronously on the
// service. result.ReviewID identifies the review from here on.
//
// # Following a review to its outcome
//
// WaitForOutcome polls until the review reaches a terminal phase:
//
//	review, err := c.WaitForOutcome(ctx, result.ReviewID, 2*time.Second)
//	switch review.Phase {
//	case client.PhaseSigned:
//	    fmt.Println("signed:", review.Signature.Signature)
//	case client.PhaseRejected:
//	    fmt.Println("rejected:", review.RejectionReason)
//	}
//
// Reviews that land in awaiting_human_review stay there until an operator
// decides, so bound the wait with a context deadline in unattended
// pipelines.
//
// # CI pipelines
//
// NewFromEnv builds a client from TOOLVET_URL plus either TOOLVET_TOKEN or
// TOOLVET_EMAIL/TOOLVET_PASSWORD, which keeps credentials out of pipeline
// definitions:
//
//	c, err := client.NewFromEnv()
//
// # Recording a human decision
//
// Operators (or tooling acting for them) resolve escalated reviews with
// SubmitDecision:
//
//	review, err := c.SubmitDecision(ctx, reviewID, client.DecisionRequest{
//	    Decision:  client.DecisionApprove,
//	    Reasoning: "Read-only endpoint, schema matches description.",
//	})
//	if errors.Is(err, client.ErrDecisionConflict) {
//	    // someone else decided first, or analysis is still running
//	}
//
// When the client authenticates with a token, the service records the
// token's operator identity as the reviewer; a Reviewer field in the
// request is only honored for unauthenticated development setups.
//
// # Verifying signatures offline
//
// Registries that distribute approved tools fetch the signing key once and
// verify signatures without calling the service again:
//
//	key, err := c.VerificationKey(ctx) // cache with WithCacheTTL
//	fmt.Println(key.Algorithm, key.PublicKeyPEM)
//
// # Auditing
//
// Every review carries its own audit trail (GetAuditTrail), and the
// service keeps a hash-chained ledger across all reviews. VerifyLedger
// asks the service to check the chain end to end:
//
//	status, err := c.VerifyLedger(ctx)
//	if err == nil && !status.Valid {
//	    fmt.Println("ledger tampered:", status.Error)
//	}
package client
