// Package model defines the review session domain: the workflow phases a
// submitted tool moves through, the session record with its append-only
// audit trail, and the request/response shapes of the review API.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// Phase is the workflow state of a review session.
type Phase string

const (
	PhasePendingReview       Phase = "pending_review"
	PhaseUnderReview         Phase = "under_review"
	PhaseAwaitingHumanReview Phase = "awaiting_human_review"
	PhaseApproved            Phase = "approved"
	PhaseRejected            Phase = "rejected"
	PhaseSigned              Phase = "signed"
	PhaseSigningFailed       Phase = "signing_failed"
)

// transitions is the complete set of legal phase changes. Everything not
// listed here is an invalid transition.
var transitions = map[Phase][]Phase{
	PhasePendingReview: {PhaseUnderReview},
	PhaseUnderReview:   {PhaseApproved, PhaseRejected, PhaseAwaitingHumanReview},
	PhaseAwaitingHumanReview: {
		PhaseApproved, PhaseRejected,
		PhaseUnderReview,         // re-analysis requested
		PhaseAwaitingHumanReview, // escalation bumps priority in place
	},
	PhaseApproved: {PhaseSigned, PhaseSigningFailed},
}

// CanTransition reports whether from → to is a legal phase change.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a session in this phase can never move again.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0 && p.Valid()
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePendingReview, PhaseUnderReview, PhaseAwaitingHumanReview,
		PhaseApproved, PhaseRejected, PhaseSigned, PhaseSigningFailed:
		return true
	}
	return false
}

// FailureKind classifies a workflow failure captured into session state.
type FailureKind string

const (
	FailureAnalysisFailed     FailureKind = "analysis_failed"
	FailureAnalysisTimeout    FailureKind = "analysis_timeout"
	FailureHumanReviewTimeout FailureKind = "human_review_timeout"
	FailureSigningFailed      FailureKind = "signing_failed"
)

// WorkflowFailure records why a session failed. Failures are captured into
// the session, never surfaced as errors from read operations.
type WorkflowFailure struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	RetryCount int         `json:"retry_count,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// SignatureInfo is the outcome of a successful signing run.
type SignatureInfo struct {
	Signature    string    `json:"signature"` // base64
	Algorithm    string    `json:"algorithm"` // e.g. "ed25519"
	KeyID        string    `json:"key_id,omitempty"`
	PublicKeyURL string    `json:"public_key_url,omitempty"`
	SchemaHash   string    `json:"schema_hash"` // hex SHA-256 of the canonical schema
	SignedAt     time.Time `json:"signed_at"`
	Attempts     int       `json:"attempts"`
}

// ReviewSession is the authoritative record of one tool review.
type ReviewSession struct {
	ID       uuid.UUID    `json:"review_id" db:"id"`
	Tool     mcptool.Tool `json:"tool" db:"tool"`
	ToolURI  string       `json:"tool_uri" db:"tool_uri"`
	Phase    Phase        `json:"phase" db:"phase"`
	Priority int          `json:"priority" db:"priority"` // bumped by escalation

	Analysis         *SecurityAnalysis `json:"analysis,omitempty"`
	AIRecommendation string            `json:"ai_recommendation,omitempty"`
	Decision         *HumanDecision    `json:"human_decision,omitempty"`
	Signature        *SignatureInfo    `json:"signature,omitempty"`
	RejectionReason  string            `json:"rejection_reason,omitempty"`
	Failure          *WorkflowFailure  `json:"failure,omitempty"`
	EscalationCount  int               `json:"escalation_count,omitempty"`

	AuditTrail []AuditEntry `json:"audit_trail"`

	SubmittedAt time.Time  `json:"submitted_at" db:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep copy safe to hand to readers while the original
// keeps mutating under its owner.
func (s *ReviewSession) Clone() *ReviewSession {
	out := *s
	if s.Analysis != nil {
		a := *s.Analysis
		a.Findings = append([]knowledge.Finding(nil), s.Analysis.Findings...)
		out.Analysis = &a
	}
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	if s.Signature != nil {
		sig := *s.Signature
		out.Signature = &sig
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	out.AuditTrail = make([]AuditEntry, len(s.AuditTrail))
	for i, e := range s.AuditTrail {
		out.AuditTrail[i] = e.clone()
	}
	return &out
}

// Audit actions recorded in session audit trails.
const (
	AuditSubmitted            = "submitted"
	AuditAnalysisStarted      = "analysis_started"
	AuditAnalysisCompleted    = "analysis_completed"
	AuditAnalysisFailed       = "analysis_failed"
	AuditAnalysisTimeout      = "analysis_timeout"
	AuditAutoApproved         = "auto_approved"
	AuditAutoRejected         = "auto_rejected"
	AuditHumanReviewRequested = "human_review_requested"
	AuditHumanDecision        = "human_decision"
	AuditEscalated            = "escalated"
	AuditReanalysisRequested  = "reanalysis_requested"
	AuditHumanReviewTimeout   = "human_review_timeout"
	AuditSigningAttempt       = "signing_attempt"
	AuditSigned               = "signed"
	AuditSigningFailed        = "signing_failed"
)

// ActorSystem is the audit actor for transitions the engine makes itself.
const ActorSystem = "system"

// AuditEntry is one step in a session's append-only audit trail.
type AuditEntry struct {
	Seq       int               `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Detail    map[string]string `json:"detail,omitempty"`
}

func (e AuditEntry) clone() AuditEntry {
	out := e
	if e.Detail != nil {
		out.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			out.Detail[k] = v
		}
	}
	return out
}
