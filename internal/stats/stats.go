// Package stats maintains running counters for the review workflow.
//
// The Aggregator is updated incrementally on every session transition and
// answers Snapshot() from memory. Snapshots are observability data only:
// they may trail an in-flight transition by one update and are never used
// for gating decisions.
package stats

import (
	"sync"
	"time"

	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/review/model"
)

// Snapshot is a point-in-time copy of the workflow counters.
type Snapshot struct {
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

// Aggregator collects workflow counters. All methods are safe for
// concurrent use; the lock is held only long enough to bump counters or
// copy a snapshot, so callers never block behind workflow progress.
type Aggregator struct {
	mu sync.Mutex

	totalReviews     int64
	approvedTools    int64
	rejectedTools    int64
	signedTools      int64
	signingFailures  int64
	analysisFailures int64
	escalations      int64

	analysisCount   int64
	analysisTotalMs float64
	humanCount      int64
	humanTotalMs    float64

	autoApproved int64
	gateVerdicts int64

	pendingAnalysis     int64
	awaitingHumanReview int64
	pendingSigning      int64

	findingsByCategory map[string]int64
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{findingsByCategory: make(map[string]int64)}
}

// RecordSubmitted registers a newly created session entering the
// analysis pipeline.
func (a *Aggregator) RecordSubmitted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalReviews++
	a.pendingAnalysis++
	queueDepth.WithLabelValues("pending_analysis").Inc()
	reviewsSubmitted.Inc()
}

// RecordTransition updates outcome counters and queue depths for a
// session moving between phases. Submission is reported separately via
// RecordSubmitted, so from is always a real phase here.
func (a *Aggregator) RecordTransition(from, to model.Phase) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.adjustDepth(inAnalysis(from), inAnalysis(to), &a.pendingAnalysis, "pending_analysis")
	a.adjustDepth(from == model.PhaseAwaitingHumanReview, to == model.PhaseAwaitingHumanReview, &a.awaitingHumanReview, "awaiting_human_review")
	a.adjustDepth(from == model.PhaseApproved, to == model.PhaseApproved, &a.pendingSigning, "pending_signing")

	if from == model.PhaseAwaitingHumanReview && to == model.PhaseAwaitingHumanReview {
		a.escalations++
		escalationsTotal.Inc()
	}

	switch to {
	case model.PhaseApproved:
		a.approvedTools++
		reviewOutcomes.WithLabelValues("approved").Inc()
	case model.PhaseRejected:
		a.rejectedTools++
		reviewOutcomes.WithLabelValues("rejected").Inc()
	case model.PhaseSigned:
		a.signedTools++
		reviewOutcomes.WithLabelValues("signed").Inc()
	case model.PhaseSigningFailed:
		a.signingFailures++
		reviewOutcomes.WithLabelValues("signing_failed").Inc()
	}
}

// adjustDepth moves a queue-depth gauge when a session enters or leaves
// a stage. Self-loops (wasIn && isIn) leave the depth unchanged.
func (a *Aggregator) adjustDepth(wasIn, isIn bool, depth *int64, stage string) {
	switch {
	case isIn && !wasIn:
		*depth++
		queueDepth.WithLabelValues(stage).Inc()
	case wasIn && !isIn:
		*depth--
		queueDepth.WithLabelValues(stage).Dec()
	}
}

// RecordAnalysis folds a completed analysis into the running averages and
// per-category finding counts.
func (a *Aggregator) RecordAnalysis(d time.Duration, findingsByCategory map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analysisCount++
	a.analysisTotalMs += float64(d.Milliseconds())
	for category, n := range findingsByCategory {
		a.findingsByCategory[category] += int64(n)
		findingsTotal.WithLabelValues(category).Add(float64(n))
	}
	analysisDuration.Observe(d.Seconds())
}

// RecordAnalysisFailure counts an analyzer error or timeout.
func (a *Aggregator) RecordAnalysisFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analysisFailures++
	analysisFailures.Inc()
}

// RecordVerdict counts a decision-gate outcome. The auto-approval rate is
// the share of gate verdicts that resolved to auto-approve.
func (a *Aggregator) RecordVerdict(v decision.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gateVerdicts++
	if v == decision.VerdictAutoApprove {
		a.autoApproved++
	}
	gateVerdicts.WithLabelValues(string(v)).Inc()
}

// RecordHumanReview folds the time a session spent awaiting a human
// decision into the running average.
func (a *Aggregator) RecordHumanReview(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.humanCount++
	a.humanTotalMs += float64(d.Milliseconds())
	humanReviewDuration.Observe(d.Seconds())
}

// Snapshot returns a copy of the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		TotalReviews:        a.totalReviews,
		ApprovedTools:       a.approvedTools,
		RejectedTools:       a.rejectedTools,
		SignedTools:         a.signedTools,
		SigningFailures:     a.signingFailures,
		AnalysisFailures:    a.analysisFailures,
		Escalations:         a.escalations,
		PendingAnalysis:     a.pendingAnalysis,
		AwaitingHumanReview: a.awaitingHumanReview,
		PendingSigning:      a.pendingSigning,
		FindingsByCategory:  make(map[string]int64, len(a.findingsByCategory)),
	}
	for category, n := range a.findingsByCategory {
		s.FindingsByCategory[category] = n
	}
	if a.analysisCount > 0 {
		s.AvgAnalysisTimeMs = a.analysisTotalMs / float64(a.analysisCount)
	}
	if a.humanCount > 0 {
		s.AvgHumanReviewTimeMs = a.humanTotalMs / float64(a.humanCount)
	}
	if a.gateVerdicts > 0 {
		s.AutoApprovalRate = float64(a.autoApproved) / float64(a.gateVerdicts)
	}
	return s
}

// inAnalysis reports whether a phase sits in the analysis pipeline:
// submitted but not yet past automated analysis.
func inAnalysis(p model.Phase) bool {
	return p == model.PhasePendingReview || p == model.PhaseUnderReview
}
