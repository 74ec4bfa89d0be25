// Package decision implements the gate between automated analysis and the
// rest of the workflow. Decide is a pure function of the analysis and the
// configured thresholds: no I/O, no clock, no randomness, so any recorded
// decision can be reproduced from the recorded analysis.
package decision

import (
	"fmt"
	"strings"

	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/review/model"
)

// Config holds the gate thresholds.
type Config struct {
	// AutoApproveThreshold: risk at or below this may be approved without
	// a human, provided no finding is high severity or worse.
	AutoApproveThreshold float64

	// AutoRejectThreshold: risk at or above this is rejected outright.
	AutoRejectThreshold float64

	// RequireHumanReviewForHighRisk pins the recommendation for sessions
	// carrying high or critical findings to "requires_human_judgment",
	// even when the numeric risk alone would have suggested a verdict.
	RequireHumanReviewForHighRisk bool
}

// DefaultConfig returns the gate defaults: a conservative approve bar, a
// high reject bar, and human judgment required for high-severity findings.
func DefaultConfig() Config {
	return Config{
		AutoApproveThreshold:          0.25,
		AutoRejectThreshold:           0.75,
		RequireHumanReviewForHighRisk: true,
	}
}

// Validate checks threshold sanity.
func (c Config) Validate() error {
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto_approve_threshold %v outside [0,1]", c.AutoApproveThreshold)
	}
	if c.AutoRejectThreshold < 0 || c.AutoRejectThreshold > 1 {
		return fmt.Errorf("auto_reject_threshold %v outside [0,1]", c.AutoRejectThreshold)
	}
	if c.AutoApproveThreshold >= c.AutoRejectThreshold {
		return fmt.Errorf("auto_approve_threshold %v must be below auto_reject_threshold %v",
			c.AutoApproveThreshold, c.AutoRejectThreshold)
	}
	return nil
}

// Verdict is the gate's routing decision.
type Verdict string

const (
	VerdictAutoApprove Verdict = "auto_approve"
	VerdictAutoReject  Verdict = "auto_reject"
	VerdictNeedsHuman  Verdict = "needs_human"
)

// Recommendation is the gate's advice attached to sessions routed to a human.
type Recommendation string

const (
	RecommendApprove       Recommendation = "approve"
	RecommendReject        Recommendation = "reject"
	RecommendHumanJudgment Recommendation = "requires_human_judgment"
)

// Outcome is the gate's complete output.
type Outcome struct {
	Verdict        Verdict
	RiskScore      float64
	Reason         string         // set for auto-rejections
	Recommendation Recommendation // set when a human is needed
}

// severityWeight maps finding severity to its contribution weight.
func severityWeight(s knowledge.Severity) float64 {
	switch s {
	case knowledge.SeverityCritical:
		return 1.0
	case knowledge.SeverityHigh:
		return 0.7
	case knowledge.SeverityMedium:
		return 0.4
	case knowledge.SeverityLow:
		return 0.15
	default:
		return 0
	}
}

// RiskScore aggregates findings into a single risk value via the saturating
// product 1 − Π(1 − wᵢ·cᵢ): independent findings compound toward 1 without
// ever exceeding it, and a single confident critical finding dominates a
// pile of lows. The result is clamped to [0,1].
func RiskScore(findings []knowledge.Finding) float64 {
	survival := 1.0
	for _, f := range findings {
		conf := f.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		survival *= 1 - severityWeight(f.Severity)*conf
	}
	risk := 1 - survival
	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}

// Decide routes an analysis: auto-reject at or above the reject threshold,
// auto-approve at or below the approve threshold when nothing is high
// severity, otherwise hand off to a human with a recommendation.
//
// The risk score is recomputed from the recorded findings rather than taken
// from the analyzer, so a decision is always explainable by the findings
// stored with it.
func Decide(analysis *model.SecurityAnalysis, cfg Config) Outcome {
	if analysis == nil {
		return Outcome{
			Verdict:        VerdictNeedsHuman,
			Recommendation: RecommendHumanJudgment,
		}
	}

	risk := RiskScore(analysis.Findings)
	highFinding := analysis.HasSeverityAtLeast(knowledge.SeverityHigh)

	switch {
	case risk >= cfg.AutoRejectThreshold:
		return Outcome{
			Verdict:   VerdictAutoReject,
			RiskScore: risk,
			Reason:    rejectionReason(analysis),
		}
	case risk <= cfg.AutoApproveThreshold && !highFinding:
		return Outcome{
			Verdict:   VerdictAutoApprove,
			RiskScore: risk,
		}
	}

	return Outcome{
		Verdict:        VerdictNeedsHuman,
		RiskScore:      risk,
		Recommendation: recommend(risk, highFinding, cfg),
	}
}

// recommend positions the risk inside the (approve, reject) band: lower
// half leans approve, upper half leans reject, the midpoint is a toss-up.
// High-severity findings pin the recommendation to human judgment when the
// config requires it: the numbers alone must not talk anyone into
// approving a session with a high finding.
func recommend(risk float64, highFinding bool, cfg Config) Recommendation {
	if highFinding && cfg.RequireHumanReviewForHighRisk {
		return RecommendHumanJudgment
	}

	band := cfg.AutoRejectThreshold - cfg.AutoApproveThreshold
	if band <= 0 {
		return RecommendHumanJudgment
	}
	mid := cfg.AutoApproveThreshold + band/2

	const eps = 1e-9
	switch {
	case risk < mid-eps:
		return RecommendApprove
	case risk > mid+eps:
		return RecommendReject
	default:
		return RecommendHumanJudgment
	}
}

// rejectionReason names the findings that sank the session, most severe
// grade first.
func rejectionReason(analysis *model.SecurityAnalysis) string {
	top := analysis.HighestSeverity()
	titles := analysis.TitlesAtSeverity(top)
	if len(titles) == 0 {
		return "risk score exceeds the rejection threshold"
	}
	// Dedupe titles while keeping order; the same rule often fires at
	// several schema locations.
	seen := make(map[string]bool, len(titles))
	uniq := titles[:0]
	for _, t := range titles {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	return fmt.Sprintf("%s severity findings: %s", top, strings.Join(uniq, "; "))
}
