package decision_test

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/review/model"
)

func finding(sev knowledge.Severity, conf float64) knowledge.Finding {
	return knowledge.Finding{
		PatternID:  "p-" + string(sev),
		Title:      "Finding " + string(sev),
		Category:   "injection",
		Severity:   sev,
		Confidence: conf,
		Location:   "description",
	}
}

func analysisWith(findings ...knowledge.Finding) *model.SecurityAnalysis {
	return &model.SecurityAnalysis{Findings: findings}
}

func TestRiskScore(t *testing.T) {
	cases := []struct {
		name     string
		findings []knowledge.Finding
		want     float64
	}{
		{"no findings", nil, 0},
		{"single critical full confidence", []knowledge.Finding{finding(knowledge.SeverityCritical, 1.0)}, 1.0},
		{"single high", []knowledge.Finding{finding(knowledge.SeverityHigh, 0.8)}, 0.56},
		{"single medium", []knowledge.Finding{finding(knowledge.SeverityMedium, 0.5)}, 0.2},
		{"single low", []knowledge.Finding{finding(knowledge.SeverityLow, 1.0)}, 0.15},
		{
			"two highs saturate below one",
			[]knowledge.Finding{finding(knowledge.SeverityHigh, 0.8), finding(knowledge.SeverityHigh, 0.8)},
			1 - 0.44*0.44,
		},
		{
			"confidence clamped above one",
			[]knowledge.Finding{finding(knowledge.SeverityHigh, 3.0)},
			0.7,
		},
		{
			"negative confidence contributes nothing",
			[]knowledge.Finding{finding(knowledge.SeverityHigh, -1)},
			0,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := decision.RiskScore(tc.findings)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RiskScore: got %v, want %v", got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("risk %v outside [0,1]", got)
			}
		})
	}
}

func TestDecide_autoReject(t *testing.T) {
	cfg := decision.Config{AutoApproveThreshold: 0.2, AutoRejectThreshold: 0.5}

	// A confident signature finding alone must clear a 0.5 reject bar.
	a := analysisWith(knowledge.Finding{
		PatternID:  "eval-call",
		Title:      "Dynamic code evaluation",
		Category:   knowledge.CategoryMaliciousCode,
		Severity:   knowledge.SeverityHigh,
		Confidence: 0.86,
		Location:   "schema.properties.cmd.description",
	})

	out := decision.Decide(a, cfg)
	if out.Verdict != decision.VerdictAutoReject {
		t.Fatalf("verdict: got %v, want auto_reject (risk %v)", out.Verdict, out.RiskScore)
	}
	if out.RiskScore < 0.5 {
		t.Errorf("risk %v below the reject threshold", out.RiskScore)
	}
	if out.Reason == "" || !strings.Contains(out.Reason, "Dynamic code evaluation") {
		t.Errorf("rejection reason should name the finding, got %q", out.Reason)
	}
}

func TestDecide_rejectionReasonUsesHighestSeverity(t *testing.T) {
	cfg := decision.Config{AutoApproveThreshold: 0.1, AutoRejectThreshold: 0.4}
	a := analysisWith(
		finding(knowledge.SeverityMedium, 0.9),
		knowledge.Finding{PatternID: "x", Title: "Reverse shell payload", Category: knowledge.CategoryMaliciousCode, Severity: knowledge.SeverityCritical, Confidence: 0.9},
	)
	out := decision.Decide(a, cfg)
	if out.Verdict != decision.VerdictAutoReject {
		t.Fatalf("verdict: got %v", out.Verdict)
	}
	if !strings.Contains(out.Reason, "critical") || !strings.Contains(out.Reason, "Reverse shell payload") {
		t.Errorf("reason should lead with the critical finding, got %q", out.Reason)
	}
	if strings.Contains(out.Reason, "Finding medium") {
		t.Errorf("reason should not list lower-severity titles, got %q", out.Reason)
	}
}

func TestDecide_autoApprove(t *testing.T) {
	cfg := decision.DefaultConfig()

	if out := decision.Decide(analysisWith(), cfg); out.Verdict != decision.VerdictAutoApprove {
		t.Errorf("clean analysis: got %v, want auto_approve", out.Verdict)
	}

	// Low-severity noise below the approve bar still approves.
	out := decision.Decide(analysisWith(finding(knowledge.SeverityLow, 0.5)), cfg)
	if out.Verdict != decision.VerdictAutoApprove {
		t.Errorf("low noise: got %v (risk %v), want auto_approve", out.Verdict, out.RiskScore)
	}
}

func TestDecide_highFindingNeverAutoApproves(t *testing.T) {
	// Even with a tiny numeric risk, a high-severity finding blocks
	// auto-approval.
	cfg := decision.Config{AutoApproveThreshold: 0.9, AutoRejectThreshold: 0.95, RequireHumanReviewForHighRisk: true}
	out := decision.Decide(analysisWith(finding(knowledge.SeverityHigh, 0.1)), cfg)
	if out.Verdict != decision.VerdictNeedsHuman {
		t.Fatalf("got %v, want needs_human", out.Verdict)
	}
	if out.Recommendation != decision.RecommendHumanJudgment {
		t.Errorf("high finding should pin recommendation to human judgment, got %v", out.Recommendation)
	}
}

func TestDecide_thresholdBoundaries(t *testing.T) {
	cfg := decision.Config{AutoApproveThreshold: 0.15, AutoRejectThreshold: 0.7}

	// Risk exactly at the approve threshold approves (low 1.0 → 0.15).
	out := decision.Decide(analysisWith(finding(knowledge.SeverityLow, 1.0)), cfg)
	if out.Verdict != decision.VerdictAutoApprove {
		t.Errorf("at approve threshold: got %v (risk %v)", out.Verdict, out.RiskScore)
	}

	// Risk exactly at the reject threshold rejects (high 1.0 → 0.7).
	out = decision.Decide(analysisWith(finding(knowledge.SeverityHigh, 1.0)), cfg)
	if out.Verdict != decision.VerdictAutoReject {
		t.Errorf("at reject threshold: got %v (risk %v)", out.Verdict, out.RiskScore)
	}
}

func TestDecide_recommendationBands(t *testing.T) {
	cfg := decision.Config{AutoApproveThreshold: 0.2, AutoRejectThreshold: 0.8}
	// Band (0.2, 0.8), midpoint 0.5.

	lower := decision.Decide(analysisWith(finding(knowledge.SeverityMedium, 0.75)), cfg) // 0.3
	if lower.Verdict != decision.VerdictNeedsHuman || lower.Recommendation != decision.RecommendApprove {
		t.Errorf("lower band: got %v/%v (risk %v)", lower.Verdict, lower.Recommendation, lower.RiskScore)
	}

	upper := decision.Decide(analysisWith(
		finding(knowledge.SeverityMedium, 0.9),
		finding(knowledge.SeverityMedium, 0.9),
	), cfg) // 1 - 0.64*0.64 = 0.5904
	if upper.Verdict != decision.VerdictNeedsHuman || upper.Recommendation != decision.RecommendReject {
		t.Errorf("upper band: got %v/%v (risk %v)", upper.Verdict, upper.Recommendation, upper.RiskScore)
	}

	exact := decision.Decide(analysisWith(knowledge.Finding{
		Severity: knowledge.SeverityCritical, Confidence: 0.5, Title: "t", PatternID: "p", Category: "c",
	}), cfg) // risk exactly 0.5 = midpoint
	if exact.Recommendation != decision.RecommendHumanJudgment {
		t.Errorf("midpoint: got %v (risk %v), want requires_human_judgment", exact.Recommendation, exact.RiskScore)
	}
}

func TestDecide_pure(t *testing.T) {
	cfg := decision.DefaultConfig()
	a := analysisWith(finding(knowledge.SeverityMedium, 0.8), finding(knowledge.SeverityLow, 0.3))

	first := decision.Decide(a, cfg)
	for i := 0; i < 5; i++ {
		if got := decision.Decide(a, cfg); !reflect.DeepEqual(got, first) {
			t.Fatalf("Decide is not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestDecide_nilAnalysis(t *testing.T) {
	out := decision.Decide(nil, decision.DefaultConfig())
	if out.Verdict != decision.VerdictNeedsHuman || out.Recommendation != decision.RecommendHumanJudgment {
		t.Errorf("nil analysis should route to a human, got %+v", out)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  decision.Config
		ok   bool
	}{
		{"defaults", decision.DefaultConfig(), true},
		{"inverted", decision.Config{AutoApproveThreshold: 0.8, AutoRejectThreshold: 0.2}, false},
		{"equal", decision.Config{AutoApproveThreshold: 0.5, AutoRejectThreshold: 0.5}, false},
		{"negative", decision.Config{AutoApproveThreshold: -0.1, AutoRejectThreshold: 0.5}, false},
		{"above one", decision.Config{AutoApproveThreshold: 0.1, AutoRejectThreshold: 1.5}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
