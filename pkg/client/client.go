// Package client provides the toolvet Go SDK for submitting MCP tools to
// the review service and tracking them through the workflow.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toolvet/toolvet/pkg/mcptool"
)

// Review phases as reported by the service. A review is finished once it
// reaches signed, rejected, or signing_failed.
const (
	PhasePendingReview       = "pending_review"
	PhaseUnderReview         = "under_review"
	PhaseAwaitingHumanReview = "awaiting_human_review"
	PhaseApproved            = "approved"
	PhaseRejected            = "rejected"
	PhaseSigned              = "signed"
	PhaseSigningFailed       = "signing_failed"
)

// Decision values accepted by SubmitDecision.
const (
	DecisionApprove           = "approve"
	DecisionReject            = "reject"
	DecisionRequestReanalysis = "request_reanalysis"
	DecisionEscalate          = "escalate"
)

// ErrDecisionConflict is returned by SubmitDecision when the review is not
// awaiting a human decision (it already has an outcome, or analysis is still
// running).
var ErrDecisionConflict = errors.New("review is not awaiting a human decision")

// SubmitResult holds the identifiers returned when a tool is accepted for review.
type SubmitResult struct {
	ReviewID string `json:"review_id"`
	ToolURI  string `json:"tool_uri"`
	Phase    string `json:"phase"`
}

// Review is the full review record returned by GET /api/v1/reviews/:id.
type Review struct {
	ReviewID         string       `json:"review_id"`
	Tool             mcptool.Tool `json:"tool"`
	ToolURI          string       `json:"tool_uri"`
	Phase            string       `json:"phase"`
	Priority         int          `json:"priority"`
	Analysis         *Analysis    `json:"analysis,omitempty"`
	AIRecommendation string       `json:"ai_recommendation,omitempty"`
	HumanDecision    *Decision    `json:"human_decision,omitempty"`
	Signature        *Signature   `json:"signature,omitempty"`
	RejectionReason  string       `json:"rejection_reason,omitempty"`
	Failure          *Failure     `json:"failure,omitempty"`
	EscalationCount  int          `json:"escalation_count,omitempty"`
	AuditTrail       []AuditEntry `json:"audit_trail"`
	SubmittedAt      time.Time    `json:"submitted_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the review has reached a final phase and will not
// change again.
func (r *Review) Terminal() bool {
	switch r.Phase {
	case PhaseSigned, PhaseRejected, PhaseSigningFailed:
		return true
	}
	return false
}

// Analysis is the security analysis attached to a review.
type Analysis struct {
	AnalysisID      string    `json:"analysis_id"`
	RiskScore       float64   `json:"risk_score"`
	Findings        []Finding `json:"findings"`
	AnalyzerName    string    `json:"analyzer_name"`
	AnalyzerVersion string    `json:"analyzer_version,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Finding is a single security finding produced by the analyzer.
type Finding struct {
	PatternID   string  `json:"pattern_id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Location    string  `json:"location"`
	Evidence    string  `json:"evidence,omitempty"`
	Remediation string  `json:"remediation,omitempty"`
}

// Decision is a recorded human review decision.
type Decision struct {
	Decision  string    `json:"decision"`
	Reviewer  string    `json:"reviewer"`
	Reasoning string    `json:"reasoning"`
	DecidedAt time.Time `json:"decided_at"`
}

// Signature is the detached signature attached to an approved tool.
type Signature struct {
	Signature    string    `json:"signature"`
	Algorithm    string    `json:"algorithm"`
	KeyID        string    `json:"key_id,omitempty"`
	PublicKeyURL string    `json:"public_key_url,omitempty"`
	SchemaHash   string    `json:"schema_hash"`
	SignedAt     time.Time `json:"signed_at"`
	Attempts     int       `json:"attempts"`
}

// Failure describes why a review ended in signing_failed or why an analysis
// attempt failed.
type Failure struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditEntry is one step in a review's audit trail.
type AuditEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
}

// DecisionRequest is the payload for SubmitDecision. Reviewer may be left
// empty when the client authenticates with a token; the service records the
// token's operator identity instead.
type DecisionRequest struct {
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning"`
	Reviewer  string `json:"reviewer,omitempty"`
}

// WorkflowStats is the counter snapshot returned by GET /api/v1/stats.
type WorkflowStats struct {
	TotalReviews     int64 `json:"total_reviews"`
	ApprovedTools    int64 `json:"approved_tools"`
	RejectedTools    int64 `json:"rejected_tools"`
	SignedTools      int64 `json:"signed_tools"`
	SigningFailures  int64 `json:"signing_failures"`
	AnalysisFailures int64 `json:"analysis_failures"`
	Escalations      int64 `json:"escalations"`

	AvgAnalysisTimeMs    float64 `json:"avg_analysis_time_ms"`
	AvgHumanReviewTimeMs float64 `json:"avg_human_review_time_ms"`
	AutoApprovalRate     float64 `json:"auto_approval_rate"`

	PendingAnalysis     int64 `json:"pending_analysis"`
	AwaitingHumanReview int64 `json:"awaiting_human_review"`
	PendingSigning      int64 `json:"pending_signing"`

	FindingsByCategory map[string]int64 `json:"findings_by_category"`
}

// VerificationKey is the signing key document served at
// /.well-known/toolvet-key.json. Registries use it to verify tool signatures
// offline.
type VerificationKey struct {
	Algorithm    string `json:"algorithm"`
	Issuer       string `json:"issuer"`
	PublicKeyPEM string `json:"public_key_pem"`
}

// LedgerInfo summarizes the audit ledger.
type LedgerInfo struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// LedgerStatus is the result of a ledger integrity check.
type LedgerStatus struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Client is the toolvet SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       *keyCache

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	email       string
	password    string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL enables in-memory caching of the service's verification key
// with the given TTL. Review state is never cached; it mutates as the
// workflow progresses.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.keys = newKeyCache(ttl)
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{} // zero = manual, never auto-refresh
		return nil
	}
}

// WithCredentials stores operator credentials for automatic token exchange.
// The client fetches a token on the first authenticated call and refreshes
// it shortly before expiry.
func WithCredentials(email, password string) Option {
	return func(c *Client) error {
		c.email = email
		c.password = password
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a toolvet SDK Client connected to baseURL.
//
//	c, err := client.New("https://toolvet.internal.example.com",
//	    client.WithCredentials("ci@example.com", password),
//	    client.WithCacheTTL(5*time.Minute),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Login exchanges operator credentials for a bearer token, caches it for
// subsequent calls, and returns it. The credentials are retained so the
// token can be refreshed when it approaches expiry.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	c.mu.Lock()
	c.email = email
	c.password = password
	c.mu.Unlock()

	token, expiry, err := c.fetchTokenRaw(ctx, email, password)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw exchanges credentials for a fresh token without touching
// cached state. It uses the raw httpClient (not c.do) so it does not attach
// any existing bearer token to the token-exchange request.
func (c *Client) fetchTokenRaw(ctx context.Context, email, password string) (token string, expiry time.Time, err error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	endpoint := c.baseURL + "/api/v1/auth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if result.Error != "" {
		return "", time.Time{}, fmt.Errorf("token endpoint error: %s", result.Error)
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	exp := time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - refreshBuffer)
	return result.Token, exp, nil
}

// authToken returns the bearer token to attach to a request, fetching a
// fresh one if credentials are configured and the cached token is absent or
// approaching expiry. An empty token with nil error means the client is
// anonymous (the service may run without auth in development).
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// tokenExpiry.IsZero() means the token was set manually via
	// WithBearerToken and should never be auto-refreshed.
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.email == "" {
		return "", nil
	}

	token, expiry, err := c.fetchTokenRaw(ctx, c.email, c.password)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// SubmitTool submits an MCP tool definition for review. The service responds
// immediately; analysis runs asynchronously. Use GetReview or WaitForOutcome
// to follow progress.
func (c *Client) SubmitTool(ctx context.Context, tool *mcptool.Tool) (*SubmitResult, error) {
	payload, err := json.Marshal(tool)
	if err != nil {
		return nil, fmt.Errorf("marshal tool: %w", err)
	}
	endpoint := c.baseURL + "/api/v1/reviews"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &result, nil
}

// GetReview fetches the full review record by ID.
func (c *Client) GetReview(ctx context.Context, id string) (*Review, error) {
	endpoint := c.baseURL + "/api/v1/reviews/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Review *Review `json:"review"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode review response: %w", err)
	}
	return wrapper.Review, nil
}

// GetAuditTrail fetches the per-review audit trail.
func (c *Client) GetAuditTrail(ctx context.Context, id string) ([]AuditEntry, error) {
	endpoint := c.baseURL + "/api/v1/reviews/" + id + "/audit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		AuditTrail []AuditEntry `json:"audit_trail"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode audit response: %w", err)
	}
	return wrapper.AuditTrail, nil
}

// ListReviews returns review records, optionally filtered by phase and tool
// URI. Pass empty strings to skip a filter and zero for the service's
// default limit/offset.
func (c *Client) ListReviews(ctx context.Context, phase, toolURI string, limit, offset int) ([]Review, error) {
	q := url.Values{}
	if phase != "" {
		q.Set("phase", phase)
	}
	if toolURI != "" {
		q.Set("tool_uri", toolURI)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	endpoint := c.baseURL + "/api/v1/reviews"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Reviews []Review `json:"reviews"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return wrapper.Reviews, nil
}

// SubmitDecision records a human decision on a review that is awaiting one.
// Returns ErrDecisionConflict when the review has already moved past the
// human review stage, and the updated review record on success.
func (c *Client) SubmitDecision(ctx context.Context, id string, d DecisionRequest) (*Review, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	endpoint := c.baseURL + "/api/v1/reviews/" + id + "/decision"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		var wrapper struct {
			Review *Review `json:"review"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("decode decision response: %w", err)
		}
		return wrapper.Review, nil
	case http.StatusConflict:
		var conflict struct {
			Phase string `json:"phase"`
		}
		_ = json.Unmarshal(body, &conflict)
		if conflict.Phase != "" {
			return nil, fmt.Errorf("%w (review is %s)", ErrDecisionConflict, conflict.Phase)
		}
		return nil, ErrDecisionConflict
	case http.StatusNotFound:
		return nil, fmt.Errorf("review not found: %s", id)
	default:
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}
}

// Stats fetches the workflow counter snapshot.
func (c *Client) Stats(ctx context.Context) (*WorkflowStats, error) {
	endpoint := c.baseURL + "/api/v1/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Stats *WorkflowStats `json:"stats"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return wrapper.Stats, nil
}

// VerificationKey fetches the service's public signing key document from the
// well-known endpoint. The key rotates rarely, so it is cached when the
// client was built with WithCacheTTL.
func (c *Client) VerificationKey(ctx context.Context) (*VerificationKey, error) {
	if c.keys != nil {
		if key, ok := c.keys.get(); ok {
			return key, nil
		}
	}

	endpoint := c.baseURL + "/.well-known/toolvet-key.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var key VerificationKey
	if err := json.Unmarshal(body, &key); err != nil {
		return nil, fmt.Errorf("decode key response: %w", err)
	}

	if c.keys != nil {
		c.keys.set(&key)
	}
	return &key, nil
}

// LedgerInfo returns the audit ledger's entry count and root hash.
func (c *Client) LedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	endpoint := c.baseURL + "/api/v1/audit"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var info LedgerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	return &info, nil
}

// VerifyLedger asks the service to walk its audit ledger and check the hash
// chain. A tampered ledger yields Valid=false with the break described in
// Error; the call itself only fails on transport or auth problems.
func (c *Client) VerifyLedger(ctx context.Context) (*LedgerStatus, error) {
	endpoint := c.baseURL + "/api/v1/audit/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var status LedgerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &status, nil
}

// WaitForOutcome polls the review until it reaches a terminal phase or ctx
// is done. pollEvery <= 0 defaults to 2 seconds. On cancellation the most
// recently observed state is returned alongside ctx.Err().
func (c *Client) WaitForOutcome(ctx context.Context, id string, pollEvery time.Duration) (*Review, error) {
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		review, err := c.GetReview(ctx, id)
		if err != nil {
			return nil, err
		}
		if review.Terminal() {
			return review, nil
		}

		select {
		case <-ctx.Done():
			return review, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do executes an HTTP request, attaching a bearer token when one is
// available (set manually, or exchanged from credentials).
func (c *Client) do(req *http.Request) ([]byte, error) {
	token, err := c.authToken(req.Context())
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	token, err := c.authToken(req.Context())
	if err != nil {
		return 0, nil, fmt.Errorf("obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// --- verification key cache ---

type keyCache struct {
	mu        sync.RWMutex
	key       *VerificationKey
	expiresAt time.Time
	ttl       time.Duration
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{ttl: ttl}
}

func (kc *keyCache) get() (*VerificationKey, bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	if kc.key == nil || time.Now().After(kc.expiresAt) {
		return nil, false
	}
	return kc.key, true
}

func (kc *keyCache) set(key *VerificationKey) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.key = key
	kc.expiresAt = time.Now().Add(kc.ttl)
}
