package handler_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/audit"
	"github.com/toolvet/toolvet/internal/identity"
	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/review/handler"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/internal/review/orchestrator"
	"github.com/toolvet/toolvet/internal/review/store"
	"github.com/toolvet/toolvet/internal/signing"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubAnalyzer struct {
	findings []knowledge.Finding
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ *mcptool.Tool) (*model.SecurityAnalysis, error) {
	now := time.Now().UTC()
	return &model.SecurityAnalysis{
		Findings:     s.findings,
		AnalyzerName: "stub",
		StartedAt:    now.Add(-5 * time.Millisecond),
		CompletedAt:  now,
	}, nil
}

// cleanAnalyzer reports no findings, so the gate auto-approves.
func cleanAnalyzer() *stubAnalyzer { return &stubAnalyzer{} }

// flaggedAnalyzer reports one confident medium finding, which lands in
// the gate's human-review band.
func flaggedAnalyzer() *stubAnalyzer {
	return &stubAnalyzer{findings: []knowledge.Finding{{
		PatternID:  "tv-net-001",
		Title:      "Broad network access",
		Category:   "network",
		Severity:   knowledge.SeverityMedium,
		Confidence: 1.0,
		Location:   "description",
	}}}
}

type stubSigner struct{}

func (stubSigner) Name() string { return "stub-signer" }

func (stubSigner) Sign(_ context.Context, _ *mcptool.Tool) (*model.SignatureInfo, error) {
	return &model.SignatureInfo{
		Signature:  "c2lnbmF0dXJl",
		Algorithm:  "ed25519",
		KeyID:      "key-1",
		SchemaHash: "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		SignedAt:   time.Now().UTC(),
	}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────

func testTokens(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return identity.NewTokenIssuer(key, "http://test", time.Hour)
}

func setupReviewRouter(t *testing.T, analyzer orchestrator.SecurityAnalyzer, withAuth bool) (*gin.Engine, *orchestrator.Engine, *identity.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := orchestrator.DefaultConfig()
	cfg.AnalysisTimeout = 2 * time.Second
	cfg.HumanReviewTimeout = 0
	cfg.Signing = signing.Config{
		MaxRetries:     3,
		AttemptTimeout: time.Second,
		BackoffBase:    time.Millisecond,
		BackoffCap:     2 * time.Millisecond,
	}
	eng, err := orchestrator.New(cfg, orchestrator.Deps{
		Analyzer: analyzer,
		Signer:   stubSigner{},
		Store:    store.NewMemoryStore(),
		Ledger:   audit.New(),
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(eng.Close)

	var tokens *identity.TokenIssuer
	if withAuth {
		tokens = testTokens(t)
	}

	r := gin.New()
	h := handler.NewReviewHandler(eng, tokens, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r, eng, tokens
}

const toolBody = `{
	"name": "fetch_invoice",
	"description": "Fetches an invoice PDF by id.",
	"schema": {"type":"object","properties":{"invoice_id":{"type":"string"}},"required":["invoice_id"]},
	"provider": {"name":"Acme Corp","public_key_url":"https://acme.example/.well-known/schemapin.json"}
}`

func submitTool(t *testing.T, router *gin.Engine, token string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", strings.NewReader(toolBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit tool: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]any
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// waitForPhase polls until the session reaches the wanted phase.
func waitForPhase(t *testing.T, eng *orchestrator.Engine, id uuid.UUID, want model.Phase) *model.ReviewSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last model.Phase
	for time.Now().Before(deadline) {
		session, err := eng.GetReviewState(context.Background(), id)
		if err == nil {
			last = session.Phase
			if session.Phase == want {
				return session
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached %s (last seen %q)", want, last)
	return nil
}

func reviewID(t *testing.T, resp map[string]any) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(resp["review_id"].(string))
	if err != nil {
		t.Fatalf("parse review_id: %v", err)
	}
	return id
}

// ── Submission ───────────────────────────────────────────────────────────

func TestSubmitReview_202(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	if resp["tool_uri"] != "tool://acme.example/fetch_invoice" {
		t.Errorf("unexpected tool_uri %v", resp["tool_uri"])
	}
	if resp["phase"] != "pending_review" {
		t.Errorf("expected pending_review, got %v", resp["phase"])
	}

	// A clean tool rides the pipeline all the way to signed.
	waitForPhase(t, eng, reviewID(t, resp), model.PhaseSigned)
}

func TestSubmitReview_400_invalidJSON(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", strings.NewReader(`{invalid`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitReview_400_missingName(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	body := `{
		"description": "No name.",
		"schema": {"type":"object"},
		"provider": {"name":"Acme Corp","public_key_url":"https://acme.example/keys.json"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// ── Reading sessions ─────────────────────────────────────────────────────

func TestGetReview_200(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseSigned)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+id.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	review := body["review"].(map[string]any)
	if review["phase"] != "signed" {
		t.Errorf("expected signed, got %v", review["phase"])
	}
	if review["signature"] == nil {
		t.Error("expected signature in signed review")
	}
}

func TestGetReview_404(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetReview_400_badUUID(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetReviewAudit_200(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseSigned)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+id.String()+"/audit", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	count := int(body["count"].(float64))
	if count < 6 {
		t.Errorf("expected at least 6 audit entries for a signed session, got %d", count)
	}
}

func TestGetReviewAnalysis_200(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+id.String()+"/analysis", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Analysis *model.SecurityAnalysis `json:"analysis"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Analysis == nil || len(body.Analysis.Findings) != 1 {
		t.Errorf("unexpected analysis payload: %s", w.Body.String())
	}
}

func TestGetReviewSignature_200(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseSigned)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+id.String()+"/signature", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Signature *model.SignatureInfo `json:"signature"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Signature == nil || body.Signature.Algorithm != "ed25519" {
		t.Errorf("unexpected signature payload: %s", w.Body.String())
	}
}

func TestGetReviewSignature_404_notSigned(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/"+id.String()+"/signature", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsigned review, got %d", w.Code)
	}
}

func TestListReviews_200_phaseFilter(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	waitForPhase(t, eng, reviewID(t, resp), model.PhaseAwaitingHumanReview)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews?phase=awaiting_human_review", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if count := int(body["count"].(float64)); count != 1 {
		t.Errorf("expected 1 awaiting review, got %d", count)
	}
}

func TestListReviews_400_unknownPhase(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews?phase=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListReviews_200_empty(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["reviews"] == nil {
		t.Error("expected empty array, got null")
	}
}

// ── Decisions ────────────────────────────────────────────────────────────

func TestSubmitDecision_200_approve(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	body := `{"decision":"approve","reasoning":"network access is documented and expected","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	review := out["review"].(map[string]any)
	// Signing is asynchronous; the response catches the session either
	// freshly approved or already signed.
	if phase := review["phase"]; phase != "approved" && phase != "signed" {
		t.Errorf("expected approved or signed, got %v", phase)
	}

	waitForPhase(t, eng, id, model.PhaseSigned)
}

func TestSubmitDecision_200_reject(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	body := `{"decision":"reject","reasoning":"provider has no business reaching the network","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	session := waitForPhase(t, eng, id, model.PhaseRejected)
	if session.RejectionReason == "" {
		t.Error("expected rejection reason from reviewer reasoning")
	}
}

func TestSubmitDecision_404(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	body := `{"decision":"approve","reasoning":"this review does not exist","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+uuid.New().String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitDecision_409_notAwaiting(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseSigned)

	body := `{"decision":"approve","reasoning":"already signed, too late now","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	if out["phase"] != "signed" {
		t.Errorf("expected conflicting phase signed, got %v", out["phase"])
	}
}

func TestSubmitDecision_400_missingReasoning(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	body := `{"decision":"approve","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+uuid.New().String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitDecision_400_unknownDecision(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	body := `{"decision":"maybe","reasoning":"cannot quite make up my mind","reviewer":"sec@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitDecision_400_noReviewer(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, flaggedAnalyzer(), false)

	resp := submitTool(t, router, "")
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	// Open mode with no token and no reviewer in the body.
	body := `{"decision":"approve","reasoning":"anonymous approvals are not a thing"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// ── Stats ────────────────────────────────────────────────────────────────

func TestGetStats_200(t *testing.T) {
	router, eng, _ := setupReviewRouter(t, cleanAnalyzer(), false)

	resp := submitTool(t, router, "")
	waitForPhase(t, eng, reviewID(t, resp), model.PhaseSigned)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	stats := body["stats"].(map[string]any)
	if total := int(stats["total_reviews"].(float64)); total != 1 {
		t.Errorf("expected 1 total review, got %d", total)
	}
	if signed := int(stats["signed_tools"].(float64)); signed != 1 {
		t.Errorf("expected 1 signed tool, got %d", signed)
	}
}

// ── Auth enforcement ─────────────────────────────────────────────────────

func TestSubmitReview_401_noToken(t *testing.T) {
	router, _, _ := setupReviewRouter(t, cleanAnalyzer(), true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", strings.NewReader(toolBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSubmitReview_403_missingScope(t *testing.T) {
	router, _, tokens := setupReviewRouter(t, cleanAnalyzer(), true)

	// Unknown roles carry no scopes.
	tok, _ := tokens.Issue(uuid.New().String(), "viewer@example.com", "Viewer", "viewer")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", strings.NewReader(toolBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitReview_202_reviewerToken(t *testing.T) {
	router, eng, tokens := setupReviewRouter(t, cleanAnalyzer(), true)

	tok, _ := tokens.Issue(uuid.New().String(), "rev@example.com", "Reviewer", "reviewer")
	resp := submitTool(t, router, tok)

	waitForPhase(t, eng, reviewID(t, resp), model.PhaseSigned)
}

func TestSubmitDecision_reviewerFromToken(t *testing.T) {
	router, eng, tokens := setupReviewRouter(t, flaggedAnalyzer(), true)

	tok, _ := tokens.Issue(uuid.New().String(), "rev@example.com", "Reviewer", "reviewer")
	resp := submitTool(t, router, tok)
	id := reviewID(t, resp)
	waitForPhase(t, eng, id, model.PhaseAwaitingHumanReview)

	// The body names someone else; the token identity must win.
	body := `{"decision":"reject","reasoning":"schema requests broader access than described","reviewer":"spoofed@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/"+id.String()+"/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	session := waitForPhase(t, eng, id, model.PhaseRejected)
	if session.Decision == nil || session.Decision.Reviewer != "rev@example.com" {
		t.Errorf("expected reviewer from token, got %+v", session.Decision)
	}
}
