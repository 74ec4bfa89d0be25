package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolvet/toolvet/pkg/client"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// ── Stub server ─────────────────────────────────────────────────────────

func reviewJSON(id, phase string) map[string]any {
	return map[string]any{
		"review_id": id,
		"tool": map[string]any{
			"name":        "fetch_invoice",
			"description": "Fetches an invoice PDF by ID.",
			"schema":      map[string]any{"type": "object"},
			"provider": map[string]any{
				"name":           "Acme Corp",
				"public_key_url": "https://acme.example/keys.json",
			},
		},
		"tool_uri": "tool://acme.example/fetch_invoice",
		"phase":    phase,
		"priority": 0,
		"audit_trail": []map[string]any{
			{"seq": 0, "timestamp": "2026-08-25T10:00:00Z", "action": "submitted", "actor": "system"},
			{"seq": 1, "timestamp": "2026-08-25T10:00:02Z", "action": "analysis_started", "actor": "system"},
		},
		"submitted_at": "2026-08-25T10:00:00Z",
		"updated_at":   "2026-08-25T10:00:02Z",
	}
}

func stubReviewServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/reviews", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var tool mcptool.Tool
			if err := json.NewDecoder(r.Body).Decode(&tool); err != nil || tool.Name == "" {
				http.Error(w, `{"error":"invalid tool"}`, http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{
				"review_id": "550e8400-e29b-41d4-a716-446655440000",
				"tool_uri":  "tool://acme.example/" + tool.Name,
				"phase":     "pending_review",
			})
		case http.MethodGet:
			reviews := []map[string]any{reviewJSON("550e8400-e29b-41d4-a716-446655440000", "signed")}
			if r.URL.Query().Get("phase") == "rejected" {
				reviews = nil
			}
			json.NewEncoder(w).Encode(map[string]any{"reviews": reviews, "count": len(reviews)})
		}
	})

	mux.HandleFunc("/api/v1/reviews/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if strings.HasSuffix(path, "/audit") {
			json.NewEncoder(w).Encode(map[string]any{
				"review_id": "550e8400-e29b-41d4-a716-446655440000",
				"tool_uri":  "tool://acme.example/fetch_invoice",
				"audit_trail": []map[string]any{
					{"seq": 0, "timestamp": "2026-08-25T10:00:00Z", "action": "submitted", "actor": "system"},
					{"seq": 1, "timestamp": "2026-08-25T10:00:05Z", "action": "auto_approved", "actor": "system"},
				},
				"count": 2,
			})
			return
		}

		if strings.HasSuffix(path, "/decision") {
			if r.Header.Get("Authorization") == "" {
				http.Error(w, `{"error":"Bearer token required"}`, http.StatusUnauthorized)
				return
			}
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v1/reviews/"), "/decision")
			if id == "already-signed" {
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]any{
					"error": "invalid transition from signed",
					"phase": "signed",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"review": reviewJSON(id, "approved")})
			return
		}

		// GET /api/v1/reviews/:id
		id := strings.TrimPrefix(path, "/api/v1/reviews/")
		if id == "not-found-id" {
			http.Error(w, `{"error":"review not found"}`, http.StatusNotFound)
			return
		}
		review := reviewJSON(id, "signed")
		review["analysis"] = map[string]any{
			"analysis_id":   "a1",
			"risk_score":    0.12,
			"findings":      []any{},
			"analyzer_name": "pattern-analyzer",
			"started_at":    "2026-08-25T10:00:01Z",
			"completed_at":  "2026-08-25T10:00:02Z",
		}
		review["signature"] = map[string]any{
			"signature":   "c2lnbmF0dXJl",
			"algorithm":   "ed25519",
			"key_id":      "key-1",
			"schema_hash": "deadbeef",
			"signed_at":   "2026-08-25T10:00:06Z",
			"attempts":    1,
		}
		json.NewEncoder(w).Encode(map[string]any{"review": review})
	})

	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "test-jwt-token",
			"token_type": "Bearer",
			"expires_in": 3600,
		})
	})

	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"stats": map[string]any{
				"total_reviews":      42,
				"signed_tools":       30,
				"rejected_tools":     5,
				"auto_approval_rate": 0.6,
				"findings_by_category": map[string]int64{
					"network": 12,
				},
			},
			"generated_at": "2026-08-25T10:00:00Z",
		})
	})

	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": 7, "root": "abc123"})
	})

	mux.HandleFunc("/api/v1/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})

	mux.HandleFunc("/.well-known/toolvet-key.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"algorithm":      "RS256",
			"issuer":         "https://toolvet.example.com",
			"public_key_pem": "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----",
		})
	})

	return httptest.NewServer(mux)
}

func testTool() *mcptool.Tool {
	return &mcptool.Tool{
		Name:        "fetch_invoice",
		Description: "Fetches an invoice PDF by ID.",
		Schema:      json.RawMessage(`{"type":"object"}`),
		Provider: mcptool.Provider{
			Name:         "Acme Corp",
			PublicKeyURL: "https://acme.example/keys.json",
		},
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestSubmitTool_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	result, err := c.SubmitTool(context.Background(), testTool())
	if err != nil {
		t.Fatalf("SubmitTool: %v", err)
	}
	if result.ReviewID == "" {
		t.Error("expected non-empty review ID")
	}
	if result.ToolURI != "tool://acme.example/fetch_invoice" {
		t.Errorf("unexpected tool URI: %s", result.ToolURI)
	}
	if result.Phase != client.PhasePendingReview {
		t.Errorf("unexpected phase: %s", result.Phase)
	}
}

func TestGetReview_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	review, err := c.GetReview(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if review.Phase != client.PhaseSigned {
		t.Errorf("unexpected phase: %s", review.Phase)
	}
	if !review.Terminal() {
		t.Error("signed review should be terminal")
	}
	if review.Analysis == nil || review.Analysis.RiskScore != 0.12 {
		t.Errorf("unexpected analysis: %+v", review.Analysis)
	}
	if review.Signature == nil || review.Signature.Algorithm != "ed25519" {
		t.Errorf("unexpected signature: %+v", review.Signature)
	}
}

func TestGetReview_notFound(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.GetReview(context.Background(), "not-found-id")
	if err == nil {
		t.Error("expected error for unknown review")
	}
}

func TestGetAuditTrail_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	trail, err := c.GetAuditTrail(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("GetAuditTrail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(trail))
	}
	if trail[0].Action != "submitted" {
		t.Errorf("unexpected first action: %s", trail[0].Action)
	}
}

func TestListReviews_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	reviews, err := c.ListReviews(context.Background(), "", "", 0, 0)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 1 {
		t.Errorf("expected 1 review, got %d", len(reviews))
	}
}

func TestListReviews_phaseFilter(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	reviews, err := c.ListReviews(context.Background(), "rejected", "", 0, 0)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 0 {
		t.Errorf("expected 0 rejected reviews, got %d", len(reviews))
	}
}

func TestListReviews_escapesToolURI(t *testing.T) {
	var gotURI atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI.Store(r.URL.Query().Get("tool_uri"))
		json.NewEncoder(w).Encode(map[string]any{"reviews": []any{}, "count": 0})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)

	const uri = "tool://acme.example/fetch_invoice"
	if _, err := c.ListReviews(context.Background(), "", uri, 0, 0); err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if got := gotURI.Load(); got != uri {
		t.Errorf("tool_uri did not survive query encoding: got %v", got)
	}
}

func TestSubmitDecision_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithBearerToken("test-token"))

	review, err := c.SubmitDecision(context.Background(), "550e8400-e29b-41d4-a716-446655440000", client.DecisionRequest{
		Decision:  client.DecisionApprove,
		Reasoning: "Read-only endpoint, schema matches description.",
	})
	if err != nil {
		t.Fatalf("SubmitDecision: %v", err)
	}
	if review.Phase != client.PhaseApproved {
		t.Errorf("unexpected phase: %s", review.Phase)
	}
}

func TestSubmitDecision_conflict(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithBearerToken("test-token"))

	_, err := c.SubmitDecision(context.Background(), "already-signed", client.DecisionRequest{
		Decision:  client.DecisionReject,
		Reasoning: "Too late to matter either way.",
	})
	if !errors.Is(err, client.ErrDecisionConflict) {
		t.Errorf("expected ErrDecisionConflict, got %v", err)
	}
}

func TestSubmitDecision_unauthorized(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL) // no token, no credentials

	_, err := c.SubmitDecision(context.Background(), "550e8400-e29b-41d4-a716-446655440000", client.DecisionRequest{
		Decision:  client.DecisionApprove,
		Reasoning: "Should never get this far.",
	})
	if err == nil {
		t.Error("expected error for unauthenticated decision")
	}
}

func TestStats_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalReviews != 42 {
		t.Errorf("unexpected total: %d", stats.TotalReviews)
	}
	if stats.FindingsByCategory["network"] != 12 {
		t.Errorf("unexpected findings map: %v", stats.FindingsByCategory)
	}
}

func TestLogin_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	token, err := c.Login(context.Background(), "op@example.com", "hunter2-hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "test-jwt-token" {
		t.Errorf("unexpected token: %s", token)
	}
}

func TestWithCredentials_attachesToken(t *testing.T) {
	var tokenFetches, gotAuth atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token" {
			tokenFetches.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"token": "auto-jwt", "expires_in": 3600})
			return
		}
		if r.Header.Get("Authorization") == "Bearer auto-jwt" {
			gotAuth.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{"stats": map[string]any{}})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCredentials("op@example.com", "hunter2-hunter2"))

	for i := 0; i < 3; i++ {
		if _, err := c.Stats(context.Background()); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
	if n := tokenFetches.Load(); n != 1 {
		t.Errorf("expected 1 token fetch (cached after), got %d", n)
	}
	if n := gotAuth.Load(); n != 3 {
		t.Errorf("expected bearer token on all 3 calls, got %d", n)
	}
}

func TestVerificationKey_cached(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"algorithm":      "RS256",
			"issuer":         "https://toolvet.example.com",
			"public_key_pem": "pem",
		})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCacheTTL(5*time.Minute))

	c.VerificationKey(context.Background())
	key, err := c.VerificationKey(context.Background())
	if err != nil {
		t.Fatalf("VerificationKey: %v", err)
	}
	if key.Algorithm != "RS256" {
		t.Errorf("unexpected algorithm: %s", key.Algorithm)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 HTTP call (cached), got %d", n)
	}
}

func TestVerifyLedger_invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "error": "hash mismatch at entry 3"})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)

	status, err := c.VerifyLedger(context.Background())
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if status.Valid {
		t.Error("expected invalid ledger")
	}
	if status.Error == "" {
		t.Error("expected break description")
	}
}

func TestLedgerInfo_success(t *testing.T) {
	srv := stubReviewServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	info, err := c.LedgerInfo(context.Background())
	if err != nil {
		t.Fatalf("LedgerInfo: %v", err)
	}
	if info.Entries != 7 || info.Root != "abc123" {
		t.Errorf("unexpected ledger info: %+v", info)
	}
}

func TestWaitForOutcome_polls(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phase := "under_review"
		if calls.Add(1) >= 3 {
			phase = "signed"
		}
		json.NewEncoder(w).Encode(map[string]any{"review": reviewJSON("r1", phase)})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	review, err := c.WaitForOutcome(ctx, "r1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForOutcome: %v", err)
	}
	if review.Phase != client.PhaseSigned {
		t.Errorf("unexpected final phase: %s", review.Phase)
	}
	if n := calls.Load(); n < 3 {
		t.Errorf("expected at least 3 polls, got %d", n)
	}
}

func TestNewFromEnv_token(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"stats": map[string]any{}})
	}))
	defer srv.Close()

	t.Setenv("TOOLVET_URL", srv.URL)
	t.Setenv("TOOLVET_TOKEN", "env-token")

	c, err := client.NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, err := c.Stats(context.Background()); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := gotAuth.Load(); got != "Bearer env-token" {
		t.Errorf("unexpected Authorization header: %v", got)
	}
}

func TestNewFromEnv_missingURL(t *testing.T) {
	t.Setenv("TOOLVET_URL", "")

	if _, err := client.NewFromEnv(); err == nil {
		t.Error("expected error when TOOLVET_URL is unset")
	}
}
